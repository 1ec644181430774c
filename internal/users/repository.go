package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkwell-press/inkwell/internal/shared"
)

// Repository provides PostgreSQL backed persistence for user accounts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns a user by id.
func (r *Repository) Get(ctx context.Context, id int64) (User, error) {
	const query = `
		SELECT id, email, name, is_active, created_at, updated_at
		FROM users
		WHERE id = $1`

	var u User
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.Email, &u.Name, &u.IsActive, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("users: %w", shared.ErrNotFound)
		}
		return User{}, err
	}
	return u, nil
}

// FindByEmail returns the user holding the given email, case-insensitively.
func (r *Repository) FindByEmail(ctx context.Context, email string) (User, error) {
	const query = `
		SELECT id, email, name, is_active, created_at, updated_at
		FROM users
		WHERE lower(email) = lower($1)`

	var u User
	err := r.pool.QueryRow(ctx, query, strings.TrimSpace(email)).Scan(
		&u.ID, &u.Email, &u.Name, &u.IsActive, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("users: %w", shared.ErrNotFound)
		}
		return User{}, err
	}
	return u, nil
}
