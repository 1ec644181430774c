package collaboration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkwell-press/inkwell/internal/collab"
	"github.com/inkwell-press/inkwell/internal/platform/db"
	"github.com/inkwell-press/inkwell/internal/shared"
)

// Repository is the persistence contract for collaborators and invitations.
// Implementations enforce the store invariants at this boundary; callers do
// not get to assume them.
type Repository interface {
	ListCollaborators(ctx context.Context, bookID int64) ([]Collaborator, error)
	GetCollaborator(ctx context.Context, id int64) (Collaborator, error)
	AddCollaborator(ctx context.Context, bookID, userID int64, role collab.Role, invitedBy *int64) (Collaborator, error)
	UpdateCollaboratorRole(ctx context.Context, id int64, role collab.Role) (Collaborator, error)
	RemoveCollaborator(ctx context.Context, id int64) error

	CreateInvitation(ctx context.Context, input CreateInvitationInput) (Invitation, error)
	GetInvitation(ctx context.Context, id int64) (Invitation, error)
	ListInvitations(ctx context.Context, bookID int64, status *InvitationStatus) ([]Invitation, error)
	ListInvitationsForUser(ctx context.Context, userID int64, email string) ([]Invitation, error)
	RespondToInvitation(ctx context.Context, invitationID, userID int64, decision InvitationStatus) (Invitation, error)
	CancelInvitation(ctx context.Context, id int64) error
}

// PostgresRepository provides pgx backed persistence.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const collaboratorColumns = `
	bc.id, bc.book_id, bc.user_id, bc.role,
	bc.can_edit, bc.can_review, bc.can_invite, bc.can_delete, bc.can_publish,
	bc.invited_by, bc.joined_at, bc.created_at,
	u.email, u.name`

func scanCollaborator(row pgx.Row) (Collaborator, error) {
	var c Collaborator
	err := row.Scan(
		&c.ID, &c.BookID, &c.UserID, &c.Role,
		&c.Permissions.CanEdit, &c.Permissions.CanReview, &c.Permissions.CanInvite,
		&c.Permissions.CanDelete, &c.Permissions.CanPublish,
		&c.InvitedBy, &c.JoinedAt, &c.CreatedAt,
		&c.UserEmail, &c.UserName,
	)
	return c, err
}

// ListCollaborators returns the book's collaborators ordered by creation time
// ascending. The book author is materialized as a virtual owner record when
// no explicit row exists; pre-existing books never wrote one.
func (r *PostgresRepository) ListCollaborators(ctx context.Context, bookID int64) ([]Collaborator, error) {
	query := `
		SELECT ` + collaboratorColumns + `
		FROM book_collaborators bc
		JOIN users u ON u.id = bc.user_id
		WHERE bc.book_id = $1
		ORDER BY bc.created_at ASC`

	rows, err := r.pool.Query(ctx, query, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Collaborator
	for rows.Next() {
		c, err := scanCollaborator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	owner, err := r.virtualOwner(ctx, bookID, out)
	if err != nil {
		return nil, err
	}
	if owner != nil {
		out = append([]Collaborator{*owner}, out...)
	}
	return out, nil
}

// virtualOwner synthesizes the author's owner record unless an explicit row
// already covers the author.
func (r *PostgresRepository) virtualOwner(ctx context.Context, bookID int64, existing []Collaborator) (*Collaborator, error) {
	const query = `
		SELECT b.author_id, b.created_at, u.email, u.name
		FROM books b
		JOIN users u ON u.id = b.author_id
		WHERE b.id = $1`

	var (
		authorID  int64
		createdAt time.Time
		email     string
		name      string
	)
	err := r.pool.QueryRow(ctx, query, bookID).Scan(&authorID, &createdAt, &email, &name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("collaboration: book %d: %w", bookID, shared.ErrNotFound)
		}
		return nil, err
	}

	for _, c := range existing {
		if c.UserID == authorID {
			return nil, nil
		}
	}

	return &Collaborator{
		ID:          VirtualOwnerID(bookID),
		BookID:      bookID,
		UserID:      authorID,
		Role:        collab.RoleOwner,
		Permissions: collab.PermissionsFor(collab.RoleOwner),
		JoinedAt:    createdAt,
		CreatedAt:   createdAt,
		UserEmail:   email,
		UserName:    name,
	}, nil
}

// GetCollaborator returns one collaborator row by id. Virtual owner records
// are not addressable here.
func (r *PostgresRepository) GetCollaborator(ctx context.Context, id int64) (Collaborator, error) {
	query := `
		SELECT ` + collaboratorColumns + `
		FROM book_collaborators bc
		JOIN users u ON u.id = bc.user_id
		WHERE bc.id = $1`

	c, err := scanCollaborator(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Collaborator{}, fmt.Errorf("collaboration: collaborator %d: %w", id, shared.ErrNotFound)
		}
		return Collaborator{}, err
	}
	return c, nil
}

// AddCollaborator inserts a collaborator row, deriving permissions from the
// role. A second record for the same (book, user) is a Conflict.
func (r *PostgresRepository) AddCollaborator(ctx context.Context, bookID, userID int64, role collab.Role, invitedBy *int64) (Collaborator, error) {
	perms := collab.PermissionsFor(role)
	const query = `
		INSERT INTO book_collaborators (
			book_id, user_id, role,
			can_edit, can_review, can_invite, can_delete, can_publish,
			invited_by, joined_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id, joined_at, created_at`

	c := Collaborator{BookID: bookID, UserID: userID, Role: role, Permissions: perms, InvitedBy: invitedBy}
	err := r.pool.QueryRow(ctx, query,
		bookID, userID, role,
		perms.CanEdit, perms.CanReview, perms.CanInvite, perms.CanDelete, perms.CanPublish,
		invitedBy,
	).Scan(&c.ID, &c.JoinedAt, &c.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Collaborator{}, fmt.Errorf("collaboration: user %d already collaborates on book %d: %w", userID, bookID, shared.ErrConflict)
		}
		return Collaborator{}, err
	}
	return r.GetCollaborator(ctx, c.ID)
}

// UpdateCollaboratorRole rewrites the role and its derived permission set in
// one statement. Promoting to owner is not a role edit.
func (r *PostgresRepository) UpdateCollaboratorRole(ctx context.Context, id int64, role collab.Role) (Collaborator, error) {
	if role == collab.RoleOwner {
		return Collaborator{}, fmt.Errorf("collaboration: role cannot be changed to owner: %w", shared.ErrInvalidTransition)
	}
	perms := collab.PermissionsFor(role)
	const query = `
		UPDATE book_collaborators SET
			role = $2,
			can_edit = $3, can_review = $4, can_invite = $5, can_delete = $6, can_publish = $7
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query,
		id, role,
		perms.CanEdit, perms.CanReview, perms.CanInvite, perms.CanDelete, perms.CanPublish,
	)
	if err != nil {
		return Collaborator{}, err
	}
	if tag.RowsAffected() == 0 {
		return Collaborator{}, fmt.Errorf("collaboration: collaborator %d: %w", id, shared.ErrNotFound)
	}
	return r.GetCollaborator(ctx, id)
}

// RemoveCollaborator deletes a collaborator row. Owners are not removable
// through this path.
func (r *PostgresRepository) RemoveCollaborator(ctx context.Context, id int64) error {
	target, err := r.GetCollaborator(ctx, id)
	if err != nil {
		return err
	}
	if target.Role == collab.RoleOwner {
		return fmt.Errorf("collaboration: owner cannot be removed: %w", shared.ErrForbidden)
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM book_collaborators WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("collaboration: collaborator %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

const invitationColumns = `
	id, book_id, inviter_id, invitee_email, invitee_id, role,
	can_edit, can_review, can_invite, can_delete, can_publish,
	message, status, expires_at, created_at, updated_at`

func scanInvitation(row pgx.Row) (Invitation, error) {
	var i Invitation
	err := row.Scan(
		&i.ID, &i.BookID, &i.InviterID, &i.InviteeEmail, &i.InviteeID, &i.Role,
		&i.Permissions.CanEdit, &i.Permissions.CanReview, &i.Permissions.CanInvite,
		&i.Permissions.CanDelete, &i.Permissions.CanPublish,
		&i.Message, &i.Status, &i.ExpiresAt, &i.CreatedAt, &i.UpdatedAt,
	)
	return i, err
}

// CreateInvitation creates a pending invitation, snapshotting the role's
// permission set and resolving the invitee's user id when the email belongs
// to a known account. At most one pending, unexpired invitation may exist
// per (book, email), and the email must not already collaborate on the book.
func (r *PostgresRepository) CreateInvitation(ctx context.Context, input CreateInvitationInput) (Invitation, error) {
	email := strings.ToLower(strings.TrimSpace(input.InviteeEmail))
	ttl := input.TTL
	if ttl <= 0 {
		ttl = DefaultInvitationTTL
	}
	now := time.Now()
	perms := collab.PermissionsFor(input.Role)

	var created Invitation
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM collaboration_invitations
				WHERE book_id = $1 AND lower(invitee_email) = $2
				  AND status = 'pending' AND expires_at > $3
			)`, input.BookID, email, now).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("collaboration: %s already has a pending invitation: %w", email, shared.ErrConflict)
		}

		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM book_collaborators bc
				JOIN users u ON u.id = bc.user_id
				WHERE bc.book_id = $1 AND lower(u.email) = $2
			)`, input.BookID, email).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			// The book author collaborates implicitly even without a row.
			err = tx.QueryRow(ctx, `
				SELECT EXISTS (
					SELECT 1 FROM books b
					JOIN users u ON u.id = b.author_id
					WHERE b.id = $1 AND lower(u.email) = $2
				)`, input.BookID, email).Scan(&exists)
			if err != nil {
				return err
			}
		}
		if exists {
			return fmt.Errorf("collaboration: %s already collaborates on this book: %w", email, shared.ErrConflict)
		}

		// Best effort: a missing account is fine, the invite matches by email.
		var inviteeID *int64
		var resolved int64
		err = tx.QueryRow(ctx, `SELECT id FROM users WHERE lower(email) = $1`, email).Scan(&resolved)
		switch {
		case err == nil:
			inviteeID = &resolved
		case errors.Is(err, pgx.ErrNoRows):
		default:
			return err
		}

		// Expired rows still carry status 'pending' (expiry is derived, never
		// stored), so a re-invite must supersede them or the pending unique
		// index rejects the insert.
		_, err = tx.Exec(ctx, `
			DELETE FROM collaboration_invitations
			WHERE book_id = $1 AND lower(invitee_email) = $2
			  AND status = 'pending' AND expires_at <= $3`,
			input.BookID, email, now)
		if err != nil {
			return err
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO collaboration_invitations (
				book_id, inviter_id, invitee_email, invitee_id, role,
				can_edit, can_review, can_invite, can_delete, can_publish,
				message, status, expires_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending', $12, $13, $13)
			RETURNING `+invitationColumns,
			input.BookID, input.InviterID, email, inviteeID, input.Role,
			perms.CanEdit, perms.CanReview, perms.CanInvite, perms.CanDelete, perms.CanPublish,
			input.Message, now.Add(ttl), now,
		)
		created, err = scanInvitation(row)
		return err
	})
	if err != nil {
		// A concurrent create can slip past the EXISTS check under snapshot
		// isolation; the pending unique index is the backstop.
		if db.IsUniqueViolation(err) {
			return Invitation{}, fmt.Errorf("collaboration: %s already has a pending invitation: %w", email, shared.ErrConflict)
		}
		return Invitation{}, err
	}
	return created, nil
}

// GetInvitation returns one invitation by id.
func (r *PostgresRepository) GetInvitation(ctx context.Context, id int64) (Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM collaboration_invitations WHERE id = $1`
	inv, err := scanInvitation(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invitation{}, fmt.Errorf("collaboration: invitation %d: %w", id, shared.ErrNotFound)
		}
		return Invitation{}, err
	}
	return inv, nil
}

// ListInvitations returns a book's invitations, optionally filtered by
// stored status, newest first.
func (r *PostgresRepository) ListInvitations(ctx context.Context, bookID int64, status *InvitationStatus) ([]Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM collaboration_invitations WHERE book_id = $1`
	args := []any{bookID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// ListInvitationsForUser returns the pending, unexpired invitations addressed
// to a user by resolved id or by email.
func (r *PostgresRepository) ListInvitationsForUser(ctx context.Context, userID int64, email string) ([]Invitation, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM collaboration_invitations
		WHERE (invitee_id = $1 OR lower(invitee_email) = lower($2))
		  AND status = 'pending' AND expires_at > NOW()
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// RespondToInvitation resolves a pending invitation. Accepting creates the
// collaborator row, or updates the existing one when the user was re-invited
// at a different role; both happen atomically with the status flip.
func (r *PostgresRepository) RespondToInvitation(ctx context.Context, invitationID, userID int64, decision InvitationStatus) (Invitation, error) {
	if decision != InvitationAccepted && decision != InvitationRejected {
		return Invitation{}, fmt.Errorf("collaboration: decision %q: %w", decision, shared.ErrInvalidTransition)
	}

	var resolved Invitation
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT `+invitationColumns+`
			FROM collaboration_invitations
			WHERE id = $1
			FOR UPDATE`, invitationID)
		inv, err := scanInvitation(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("collaboration: invitation %d: %w", invitationID, shared.ErrNotFound)
			}
			return err
		}

		var userEmail string
		if err := tx.QueryRow(ctx, `SELECT lower(email) FROM users WHERE id = $1`, userID).Scan(&userEmail); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("collaboration: user %d: %w", userID, shared.ErrNotFound)
			}
			return err
		}

		addressedByID := inv.InviteeID != nil && *inv.InviteeID == userID
		addressedByEmail := strings.EqualFold(inv.InviteeEmail, userEmail)
		if !addressedByID && !addressedByEmail {
			return fmt.Errorf("collaboration: invitation %d is not addressed to user %d: %w", invitationID, userID, shared.ErrForbidden)
		}

		if inv.Status != InvitationPending {
			return fmt.Errorf("collaboration: invitation %d already %s: %w", invitationID, inv.Status, shared.ErrInvalidTransition)
		}
		now := time.Now()
		if inv.IsExpired(now) {
			return fmt.Errorf("collaboration: invitation %d: %w", invitationID, shared.ErrExpired)
		}

		if decision == InvitationAccepted {
			perms := inv.Permissions
			_, err = tx.Exec(ctx, `
				INSERT INTO book_collaborators (
					book_id, user_id, role,
					can_edit, can_review, can_invite, can_delete, can_publish,
					invited_by, joined_at, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
				ON CONFLICT (book_id, user_id) DO UPDATE SET
					role = EXCLUDED.role,
					can_edit = EXCLUDED.can_edit,
					can_review = EXCLUDED.can_review,
					can_invite = EXCLUDED.can_invite,
					can_delete = EXCLUDED.can_delete,
					can_publish = EXCLUDED.can_publish`,
				inv.BookID, userID, inv.Role,
				perms.CanEdit, perms.CanReview, perms.CanInvite, perms.CanDelete, perms.CanPublish,
				inv.InviterID, now,
			)
			if err != nil {
				return err
			}
		}

		row = tx.QueryRow(ctx, `
			UPDATE collaboration_invitations
			SET status = $2, invitee_id = COALESCE(invitee_id, $3), updated_at = $4
			WHERE id = $1
			RETURNING `+invitationColumns,
			invitationID, decision, userID, now)
		resolved, err = scanInvitation(row)
		return err
	})
	if err != nil {
		return Invitation{}, err
	}
	return resolved, nil
}

// CancelInvitation hard-deletes a still-pending invitation.
func (r *PostgresRepository) CancelInvitation(ctx context.Context, id int64) error {
	inv, err := r.GetInvitation(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status != InvitationPending {
		return fmt.Errorf("collaboration: invitation %d already %s: %w", id, inv.Status, shared.ErrInvalidTransition)
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM collaboration_invitations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("collaboration: invitation %d: %w", id, shared.ErrNotFound)
	}
	return nil
}
