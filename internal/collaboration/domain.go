// Package collaboration implements the multi-user book collaboration core:
// collaborator records, the invitation lifecycle, and the store invariants
// guarding both.
package collaboration

import (
	"time"

	"github.com/inkwell-press/inkwell/internal/collab"
)

// DefaultInvitationTTL is the invitation lifetime when none is specified.
const DefaultInvitationTTL = 7 * 24 * time.Hour

// Collaborator represents one user's standing relationship to one book.
// At most one record exists per (book, user).
type Collaborator struct {
	ID          int64                `json:"id"`
	BookID      int64                `json:"book_id"`
	UserID      int64                `json:"user_id"`
	Role        collab.Role          `json:"role"`
	Permissions collab.PermissionSet `json:"permissions"`
	InvitedBy   *int64               `json:"invited_by,omitempty"`
	JoinedAt    time.Time            `json:"joined_at"`
	CreatedAt   time.Time            `json:"created_at"`

	// Denormalized from the user record for display.
	UserEmail string `json:"user_email"`
	UserName  string `json:"user_name"`
}

// IsVirtual reports whether this record was synthesized on read for the
// book's author rather than loaded from storage. Virtual rows carry a
// negative id derived from the book id.
func (c Collaborator) IsVirtual() bool {
	return c.ID < 0
}

// VirtualOwnerID returns the stable synthetic id used for a book's implicit
// owner record.
func VirtualOwnerID(bookID int64) int64 {
	return -bookID
}

// InvitationStatus is the stored lifecycle state of an invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
	// InvitationExpired is never stored; it is derived from a pending status
	// past its expiry. See EffectiveStatus.
	InvitationExpired InvitationStatus = "expired"
)

// Invitation represents a pending or resolved offer of collaboration.
type Invitation struct {
	ID           int64                `json:"id"`
	BookID       int64                `json:"book_id"`
	InviterID    int64                `json:"inviter_id"`
	InviteeEmail string               `json:"invitee_email"`
	InviteeID    *int64               `json:"invitee_id,omitempty"`
	Role         collab.Role          `json:"role"`
	Permissions  collab.PermissionSet `json:"permissions"`
	Message      string               `json:"message,omitempty"`
	Status       InvitationStatus     `json:"status"`
	ExpiresAt    time.Time            `json:"expires_at"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// IsExpired reports whether a still-pending invitation has outlived its
// expiry at the given instant. Resolved invitations never expire.
func (i Invitation) IsExpired(now time.Time) bool {
	return i.Status == InvitationPending && now.After(i.ExpiresAt)
}

// EffectiveStatus derives the observable status at the given instant.
// Storage keeps "pending" past expiry; readers see "expired".
func (i Invitation) EffectiveStatus(now time.Time) InvitationStatus {
	if i.IsExpired(now) {
		return InvitationExpired
	}
	return i.Status
}

// CreateInvitationInput carries the fields needed to create an invitation.
type CreateInvitationInput struct {
	BookID       int64
	InviterID    int64
	InviteeEmail string
	Role         collab.Role
	Message      string
	// TTL overrides DefaultInvitationTTL when positive.
	TTL time.Duration
}

// Actor identifies the authenticated user performing an operation.
type Actor struct {
	ID    int64
	Email string
}
