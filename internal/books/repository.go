package books

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkwell-press/inkwell/internal/shared"
)

// Repository provides PostgreSQL backed persistence for books.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns a book by id.
func (r *Repository) Get(ctx context.Context, id int64) (Book, error) {
	const query = `
		SELECT id, title, author_id, status, created_at, updated_at
		FROM books
		WHERE id = $1`

	var b Book
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&b.ID, &b.Title, &b.AuthorID, &b.Status, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Book{}, fmt.Errorf("books: %w", shared.ErrNotFound)
		}
		return Book{}, err
	}
	return b, nil
}

// ListByAuthor returns the books owned by a user, newest first.
func (r *Repository) ListByAuthor(ctx context.Context, authorID int64) ([]Book, error) {
	const query = `
		SELECT id, title, author_id, status, created_at, updated_at
		FROM books
		WHERE author_id = $1
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, authorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Book
	for rows.Next() {
		var b Book
		if err := rows.Scan(&b.ID, &b.Title, &b.AuthorID, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Create inserts a new book owned by authorID.
func (r *Repository) Create(ctx context.Context, title string, authorID int64) (Book, error) {
	const query = `
		INSERT INTO books (title, author_id, status, created_at, updated_at)
		VALUES ($1, $2, 'draft', NOW(), NOW())
		RETURNING id, created_at, updated_at`

	b := Book{Title: title, AuthorID: authorID, Status: "draft"}
	if err := r.pool.QueryRow(ctx, query, title, authorID).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return Book{}, err
	}
	return b, nil
}

// AuthorID returns only the author of a book. The collaboration store uses
// this to synthesize the virtual owner row.
func (r *Repository) AuthorID(ctx context.Context, bookID int64) (int64, error) {
	var authorID int64
	err := r.pool.QueryRow(ctx, `SELECT author_id FROM books WHERE id = $1`, bookID).Scan(&authorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("books: %w", shared.ErrNotFound)
		}
		return 0, err
	}
	return authorID, nil
}
