package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkwell-press/inkwell/internal/shared"
)

// Repository is the persistence contract for editing sessions and presence.
// Read queries take the staleness cutoff explicitly so the window policy
// lives with the caller, not the store.
type Repository interface {
	UpsertSession(ctx context.Context, hb Heartbeat) (EditingSession, error)
	EndSession(ctx context.Context, bookID, userID int64, sectionID string) error
	ListActiveSessions(ctx context.Context, bookID int64, cutoff time.Time) ([]EditingSession, error)
	PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error)

	UpsertPresence(ctx context.Context, p Ping) (Presence, error)
	SetOffline(ctx context.Context, bookID, userID int64) error
	ListPresent(ctx context.Context, bookID int64, cutoff time.Time) ([]Presence, error)
	PurgePresence(ctx context.Context, cutoff time.Time) (int64, error)
}

// PostgresRepository provides pgx backed persistence.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const sessionColumns = `
	es.id, es.book_id, es.user_id, es.section_id, es.section_type,
	es.cursor, es.last_activity,
	u.email, u.name`

func scanSession(row pgx.Row) (EditingSession, error) {
	var s EditingSession
	err := row.Scan(
		&s.ID, &s.BookID, &s.UserID, &s.SectionID, &s.SectionType,
		&s.Cursor, &s.LastActivity,
		&s.UserEmail, &s.UserName,
	)
	return s, err
}

// UpsertSession records or refreshes the user's editing session on a section.
func (r *PostgresRepository) UpsertSession(ctx context.Context, hb Heartbeat) (EditingSession, error) {
	query := `
		WITH upserted AS (
			INSERT INTO editing_sessions (book_id, user_id, section_id, section_type, cursor, last_activity)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (book_id, user_id, section_id) DO UPDATE
			SET section_type = EXCLUDED.section_type,
			    cursor = EXCLUDED.cursor,
			    last_activity = now()
			RETURNING *
		)
		SELECT ` + sessionColumns + `
		FROM upserted es
		JOIN users u ON u.id = es.user_id`

	s, err := scanSession(r.pool.QueryRow(ctx, query,
		hb.BookID, hb.UserID, hb.SectionID, hb.SectionType, hb.Cursor))
	if err != nil {
		return EditingSession{}, fmt.Errorf("presence: upsert session: %w", err)
	}
	return s, nil
}

// EndSession deletes the user's session on a section. Missing rows are fine;
// ending twice is not an error.
func (r *PostgresRepository) EndSession(ctx context.Context, bookID, userID int64, sectionID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM editing_sessions WHERE book_id = $1 AND user_id = $2 AND section_id = $3`,
		bookID, userID, sectionID)
	return err
}

// ListActiveSessions returns sessions whose last activity is at or after the
// cutoff, newest first. Stale rows stay in the table until maintenance runs.
func (r *PostgresRepository) ListActiveSessions(ctx context.Context, bookID int64, cutoff time.Time) ([]EditingSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM editing_sessions es
		JOIN users u ON u.id = es.user_id
		WHERE es.book_id = $1 AND es.last_activity >= $2
		ORDER BY es.last_activity DESC`

	rows, err := r.pool.Query(ctx, query, bookID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EditingSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PurgeSessions deletes sessions idle since before the cutoff.
func (r *PostgresRepository) PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM editing_sessions WHERE last_activity < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const presenceColumns = `
	p.book_id, p.user_id, p.section_id, p.is_online, p.metadata, p.last_seen,
	u.email, u.name`

func scanPresence(row pgx.Row) (Presence, error) {
	var p Presence
	err := row.Scan(
		&p.BookID, &p.UserID, &p.SectionID, &p.Online, &p.Metadata, &p.LastSeen,
		&p.UserEmail, &p.UserName,
	)
	return p, err
}

// UpsertPresence records a presence ping, flipping the user online.
func (r *PostgresRepository) UpsertPresence(ctx context.Context, ping Ping) (Presence, error) {
	query := `
		WITH upserted AS (
			INSERT INTO user_presence (book_id, user_id, section_id, is_online, metadata, last_seen)
			VALUES ($1, $2, $3, TRUE, $4, now())
			ON CONFLICT (book_id, user_id) DO UPDATE
			SET section_id = EXCLUDED.section_id,
			    is_online = TRUE,
			    metadata = EXCLUDED.metadata,
			    last_seen = now()
			RETURNING *
		)
		SELECT p.book_id, p.user_id, p.section_id, p.is_online, p.metadata, p.last_seen,
		       u.email, u.name
		FROM upserted p
		JOIN users u ON u.id = p.user_id`

	p, err := scanPresence(r.pool.QueryRow(ctx, query,
		ping.BookID, ping.UserID, ping.SectionID, ping.Metadata))
	if err != nil {
		return Presence{}, fmt.Errorf("presence: upsert presence: %w", err)
	}
	return p, nil
}

// SetOffline flips the online flag on a clean disconnect.
func (r *PostgresRepository) SetOffline(ctx context.Context, bookID, userID int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE user_presence SET is_online = FALSE WHERE book_id = $1 AND user_id = $2`,
		bookID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("presence: book %d user %d: %w", bookID, userID, shared.ErrNotFound)
	}
	return nil
}

// ListPresent returns users that are online and seen at or after the cutoff.
// A flag left TRUE by a crashed client does not survive the window.
func (r *PostgresRepository) ListPresent(ctx context.Context, bookID int64, cutoff time.Time) ([]Presence, error) {
	query := `
		SELECT ` + presenceColumns + `
		FROM user_presence p
		JOIN users u ON u.id = p.user_id
		WHERE p.book_id = $1 AND p.is_online AND p.last_seen >= $2
		ORDER BY p.last_seen DESC`

	rows, err := r.pool.Query(ctx, query, bookID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Presence
	for rows.Next() {
		p, err := scanPresence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PurgePresence deletes rows not seen since the cutoff, online or not.
func (r *PostgresRepository) PurgePresence(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM user_presence WHERE last_seen < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
