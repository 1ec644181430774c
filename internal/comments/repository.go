package comments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkwell-press/inkwell/internal/shared"
)

// Repository is the persistence contract for section comments.
type Repository interface {
	Create(ctx context.Context, input CreateInput) (Comment, error)
	Get(ctx context.Context, id int64) (Comment, error)
	ListBySection(ctx context.Context, bookID int64, sectionID string) ([]Comment, error)
	SetStatus(ctx context.Context, id int64, status Status) (Comment, error)
	Delete(ctx context.Context, id int64) error
}

// PostgresRepository provides pgx backed persistence.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const commentColumns = `
	c.id, c.book_id, c.section_id, c.user_id, c.parent_id,
	c.kind, c.status, c.body, c.offset_start, c.offset_end,
	c.created_at, c.updated_at,
	u.email, u.name`

func scanComment(row pgx.Row) (Comment, error) {
	var c Comment
	err := row.Scan(
		&c.ID, &c.BookID, &c.SectionID, &c.UserID, &c.ParentID,
		&c.Kind, &c.Status, &c.Body, &c.OffsetStart, &c.OffsetEnd,
		&c.CreatedAt, &c.UpdatedAt,
		&c.UserEmail, &c.UserName,
	)
	return c, err
}

// Create inserts a comment. Replies must point at an existing top-level
// comment on the same book; deeper nesting flattens to the root's thread.
func (r *PostgresRepository) Create(ctx context.Context, input CreateInput) (Comment, error) {
	if input.ParentID != nil {
		parent, err := r.Get(ctx, *input.ParentID)
		if err != nil {
			return Comment{}, err
		}
		if parent.BookID != input.BookID {
			return Comment{}, fmt.Errorf("comments: parent %d: %w", *input.ParentID, shared.ErrNotFound)
		}
		// Replying to a reply attaches to the thread root.
		if parent.ParentID != nil {
			input.ParentID = parent.ParentID
		}
	}

	query := `
		WITH inserted AS (
			INSERT INTO book_comments
				(book_id, section_id, user_id, parent_id, kind, status, body, offset_start, offset_end)
			VALUES ($1, $2, $3, $4, $5, 'open', $6, $7, $8)
			RETURNING *
		)
		SELECT ` + commentColumns + `
		FROM inserted c
		JOIN users u ON u.id = c.user_id`

	c, err := scanComment(r.pool.QueryRow(ctx, query,
		input.BookID, input.SectionID, input.UserID, input.ParentID,
		input.Kind, input.Body, input.OffsetStart, input.OffsetEnd))
	if err != nil {
		return Comment{}, fmt.Errorf("comments: create: %w", err)
	}
	return c, nil
}

// Get returns a single comment without its replies.
func (r *PostgresRepository) Get(ctx context.Context, id int64) (Comment, error) {
	query := `
		SELECT ` + commentColumns + `
		FROM book_comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.id = $1`

	c, err := scanComment(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Comment{}, fmt.Errorf("comments: %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return Comment{}, err
	}
	return c, nil
}

// ListBySection returns the section's top-level comments oldest first, each
// with its direct replies attached in creation order.
func (r *PostgresRepository) ListBySection(ctx context.Context, bookID int64, sectionID string) ([]Comment, error) {
	query := `
		SELECT ` + commentColumns + `
		FROM book_comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.book_id = $1 AND c.section_id = $2
		ORDER BY c.created_at ASC, c.id ASC`

	rows, err := r.pool.Query(ctx, query, bookID, sectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flat []Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		flat = append(flat, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return thread(flat), nil
}

// thread groups a flat, creation-ordered comment list into top-level
// comments with their direct replies.
func thread(flat []Comment) []Comment {
	var roots []Comment
	index := make(map[int64]int)
	for _, c := range flat {
		if c.ParentID == nil {
			index[c.ID] = len(roots)
			roots = append(roots, c)
			continue
		}
		if i, ok := index[*c.ParentID]; ok {
			roots[i].Replies = append(roots[i].Replies, c)
		}
	}
	return roots
}

// SetStatus flips a comment between open and resolved.
func (r *PostgresRepository) SetStatus(ctx context.Context, id int64, status Status) (Comment, error) {
	query := `
		WITH updated AS (
			UPDATE book_comments
			SET status = $2, updated_at = now()
			WHERE id = $1
			RETURNING *
		)
		SELECT ` + commentColumns + `
		FROM updated c
		JOIN users u ON u.id = c.user_id`

	c, err := scanComment(r.pool.QueryRow(ctx, query, id, status))
	if errors.Is(err, pgx.ErrNoRows) {
		return Comment{}, fmt.Errorf("comments: %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return Comment{}, err
	}
	return c, nil
}

// Delete removes a comment; replies cascade at the schema level.
func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM book_comments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("comments: %d: %w", id, shared.ErrNotFound)
	}
	return nil
}
