package collaboration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/inkwell-press/inkwell/internal/collab"
	"github.com/inkwell-press/inkwell/internal/shared"
)

// MemoryRepository is an in-memory Repository for tests and local tooling.
// It enforces the same invariants as the postgres implementation.
type MemoryRepository struct {
	mu sync.Mutex

	// Now is the clock used for expiry checks, overridable in tests.
	Now func() time.Time
	// FailWith, when set, makes every operation return that error.
	FailWith error

	books         map[int64]MemoryBook
	users         map[int64]MemoryUser
	collaborators map[int64]Collaborator
	invitations   map[int64]Invitation
	nextCollabID  int64
	nextInviteID  int64
}

// MemoryBook seeds a book into the in-memory store.
type MemoryBook struct {
	ID        int64
	AuthorID  int64
	CreatedAt time.Time
}

// MemoryUser seeds a user account into the in-memory store.
type MemoryUser struct {
	ID    int64
	Email string
	Name  string
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		Now:           time.Now,
		books:         make(map[int64]MemoryBook),
		users:         make(map[int64]MemoryUser),
		collaborators: make(map[int64]Collaborator),
		invitations:   make(map[int64]Invitation),
		nextCollabID:  1,
		nextInviteID:  1,
	}
}

// SeedBook registers a book and its author.
func (m *MemoryRepository) SeedBook(b MemoryBook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = m.Now()
	}
	m.books[b.ID] = b
}

// SeedUser registers a user account.
func (m *MemoryRepository) SeedUser(u MemoryUser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *MemoryRepository) userEmail(id int64) string {
	if u, ok := m.users[id]; ok {
		return u.Email
	}
	return ""
}

func (m *MemoryRepository) userName(id int64) string {
	if u, ok := m.users[id]; ok {
		return u.Name
	}
	return ""
}

// ListCollaborators mirrors the postgres read, virtual owner included.
func (m *MemoryRepository) ListCollaborators(_ context.Context, bookID int64) ([]Collaborator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	book, ok := m.books[bookID]
	if !ok {
		return nil, fmt.Errorf("collaboration: book %d: %w", bookID, shared.ErrNotFound)
	}

	var out []Collaborator
	authorHasRow := false
	for _, c := range m.collaborators {
		if c.BookID != bookID {
			continue
		}
		c.UserEmail = m.userEmail(c.UserID)
		c.UserName = m.userName(c.UserID)
		out = append(out, c)
		if c.UserID == book.AuthorID {
			authorHasRow = true
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	if !authorHasRow {
		out = append([]Collaborator{{
			ID:          VirtualOwnerID(bookID),
			BookID:      bookID,
			UserID:      book.AuthorID,
			Role:        collab.RoleOwner,
			Permissions: collab.PermissionsFor(collab.RoleOwner),
			JoinedAt:    book.CreatedAt,
			CreatedAt:   book.CreatedAt,
			UserEmail:   m.userEmail(book.AuthorID),
			UserName:    m.userName(book.AuthorID),
		}}, out...)
	}
	return out, nil
}

// GetCollaborator returns a stored collaborator row.
func (m *MemoryRepository) GetCollaborator(_ context.Context, id int64) (Collaborator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return Collaborator{}, m.FailWith
	}
	c, ok := m.collaborators[id]
	if !ok {
		return Collaborator{}, fmt.Errorf("collaboration: collaborator %d: %w", id, shared.ErrNotFound)
	}
	c.UserEmail = m.userEmail(c.UserID)
	c.UserName = m.userName(c.UserID)
	return c, nil
}

// AddCollaborator inserts a row, rejecting duplicates per (book, user).
func (m *MemoryRepository) AddCollaborator(_ context.Context, bookID, userID int64, role collab.Role, invitedBy *int64) (Collaborator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return Collaborator{}, m.FailWith
	}
	for _, c := range m.collaborators {
		if c.BookID == bookID && c.UserID == userID {
			return Collaborator{}, fmt.Errorf("collaboration: user %d already collaborates on book %d: %w", userID, bookID, shared.ErrConflict)
		}
	}
	now := m.Now()
	c := Collaborator{
		ID:          m.nextCollabID,
		BookID:      bookID,
		UserID:      userID,
		Role:        role,
		Permissions: collab.PermissionsFor(role),
		InvitedBy:   invitedBy,
		JoinedAt:    now,
		CreatedAt:   now,
		UserEmail:   m.userEmail(userID),
		UserName:    m.userName(userID),
	}
	m.nextCollabID++
	m.collaborators[c.ID] = c
	return c, nil
}

// UpdateCollaboratorRole rewrites role and permissions together.
func (m *MemoryRepository) UpdateCollaboratorRole(_ context.Context, id int64, role collab.Role) (Collaborator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return Collaborator{}, m.FailWith
	}
	if role == collab.RoleOwner {
		return Collaborator{}, fmt.Errorf("collaboration: role cannot be changed to owner: %w", shared.ErrInvalidTransition)
	}
	c, ok := m.collaborators[id]
	if !ok {
		return Collaborator{}, fmt.Errorf("collaboration: collaborator %d: %w", id, shared.ErrNotFound)
	}
	c.Role = role
	c.Permissions = collab.PermissionsFor(role)
	m.collaborators[id] = c
	c.UserEmail = m.userEmail(c.UserID)
	c.UserName = m.userName(c.UserID)
	return c, nil
}

// RemoveCollaborator deletes a row; owners are not removable.
func (m *MemoryRepository) RemoveCollaborator(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	c, ok := m.collaborators[id]
	if !ok {
		return fmt.Errorf("collaboration: collaborator %d: %w", id, shared.ErrNotFound)
	}
	if c.Role == collab.RoleOwner {
		return fmt.Errorf("collaboration: owner cannot be removed: %w", shared.ErrForbidden)
	}
	delete(m.collaborators, id)
	return nil
}

// CreateInvitation mirrors the postgres invariants: one pending unexpired
// invitation per (book, email), and no inviting existing collaborators.
func (m *MemoryRepository) CreateInvitation(_ context.Context, input CreateInvitationInput) (Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return Invitation{}, m.FailWith
	}

	email := strings.ToLower(strings.TrimSpace(input.InviteeEmail))
	now := m.Now()

	for _, inv := range m.invitations {
		if inv.BookID == input.BookID && strings.EqualFold(inv.InviteeEmail, email) &&
			inv.Status == InvitationPending && now.Before(inv.ExpiresAt) {
			return Invitation{}, fmt.Errorf("collaboration: %s already has a pending invitation: %w", email, shared.ErrConflict)
		}
	}

	for _, c := range m.collaborators {
		if c.BookID == input.BookID && strings.EqualFold(m.userEmail(c.UserID), email) {
			return Invitation{}, fmt.Errorf("collaboration: %s already collaborates on this book: %w", email, shared.ErrConflict)
		}
	}
	if book, ok := m.books[input.BookID]; ok {
		if strings.EqualFold(m.userEmail(book.AuthorID), email) {
			return Invitation{}, fmt.Errorf("collaboration: %s already collaborates on this book: %w", email, shared.ErrConflict)
		}
	}

	var inviteeID *int64
	for id, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			resolved := id
			inviteeID = &resolved
			break
		}
	}

	// Superseded: expired rows still say 'pending', so the replacement invite
	// removes them, matching the postgres pending unique index.
	for id, inv := range m.invitations {
		if inv.BookID == input.BookID && strings.EqualFold(inv.InviteeEmail, email) &&
			inv.Status == InvitationPending && !now.Before(inv.ExpiresAt) {
			delete(m.invitations, id)
		}
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = DefaultInvitationTTL
	}
	inv := Invitation{
		ID:           m.nextInviteID,
		BookID:       input.BookID,
		InviterID:    input.InviterID,
		InviteeEmail: email,
		InviteeID:    inviteeID,
		Role:         input.Role,
		Permissions:  collab.PermissionsFor(input.Role),
		Message:      input.Message,
		Status:       InvitationPending,
		ExpiresAt:    now.Add(ttl),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.nextInviteID++
	m.invitations[inv.ID] = inv
	return inv, nil
}

// GetInvitation returns an invitation by id.
func (m *MemoryRepository) GetInvitation(_ context.Context, id int64) (Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return Invitation{}, m.FailWith
	}
	inv, ok := m.invitations[id]
	if !ok {
		return Invitation{}, fmt.Errorf("collaboration: invitation %d: %w", id, shared.ErrNotFound)
	}
	return inv, nil
}

// ListInvitations returns a book's invitations, newest first.
func (m *MemoryRepository) ListInvitations(_ context.Context, bookID int64, status *InvitationStatus) ([]Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	var out []Invitation
	for _, inv := range m.invitations {
		if inv.BookID != bookID {
			continue
		}
		if status != nil && inv.Status != *status {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListInvitationsForUser returns pending, unexpired invitations addressed by
// resolved id or email.
func (m *MemoryRepository) ListInvitationsForUser(_ context.Context, userID int64, email string) ([]Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	now := m.Now()
	var out []Invitation
	for _, inv := range m.invitations {
		if inv.Status != InvitationPending || !now.Before(inv.ExpiresAt) {
			continue
		}
		if (inv.InviteeID != nil && *inv.InviteeID == userID) || strings.EqualFold(inv.InviteeEmail, email) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// RespondToInvitation resolves a pending invitation atomically with the
// collaborator upsert on accept.
func (m *MemoryRepository) RespondToInvitation(_ context.Context, invitationID, userID int64, decision InvitationStatus) (Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return Invitation{}, m.FailWith
	}
	if decision != InvitationAccepted && decision != InvitationRejected {
		return Invitation{}, fmt.Errorf("collaboration: decision %q: %w", decision, shared.ErrInvalidTransition)
	}

	inv, ok := m.invitations[invitationID]
	if !ok {
		return Invitation{}, fmt.Errorf("collaboration: invitation %d: %w", invitationID, shared.ErrNotFound)
	}

	userEmail := m.userEmail(userID)
	addressedByID := inv.InviteeID != nil && *inv.InviteeID == userID
	addressedByEmail := userEmail != "" && strings.EqualFold(inv.InviteeEmail, userEmail)
	if !addressedByID && !addressedByEmail {
		return Invitation{}, fmt.Errorf("collaboration: invitation %d is not addressed to user %d: %w", invitationID, userID, shared.ErrForbidden)
	}

	if inv.Status != InvitationPending {
		return Invitation{}, fmt.Errorf("collaboration: invitation %d already %s: %w", invitationID, inv.Status, shared.ErrInvalidTransition)
	}
	now := m.Now()
	if inv.IsExpired(now) {
		return Invitation{}, fmt.Errorf("collaboration: invitation %d: %w", invitationID, shared.ErrExpired)
	}

	if decision == InvitationAccepted {
		updated := false
		for id, c := range m.collaborators {
			if c.BookID == inv.BookID && c.UserID == userID {
				c.Role = inv.Role
				c.Permissions = inv.Permissions
				m.collaborators[id] = c
				updated = true
				break
			}
		}
		if !updated {
			inviter := inv.InviterID
			c := Collaborator{
				ID:          m.nextCollabID,
				BookID:      inv.BookID,
				UserID:      userID,
				Role:        inv.Role,
				Permissions: inv.Permissions,
				InvitedBy:   &inviter,
				JoinedAt:    now,
				CreatedAt:   now,
			}
			m.nextCollabID++
			m.collaborators[c.ID] = c
		}
	}

	inv.Status = decision
	if inv.InviteeID == nil {
		inv.InviteeID = &userID
	}
	inv.UpdatedAt = now
	m.invitations[invitationID] = inv
	return inv, nil
}

// CancelInvitation hard-deletes a still-pending invitation.
func (m *MemoryRepository) CancelInvitation(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	inv, ok := m.invitations[id]
	if !ok {
		return fmt.Errorf("collaboration: invitation %d: %w", id, shared.ErrNotFound)
	}
	if inv.Status != InvitationPending {
		return fmt.Errorf("collaboration: invitation %d already %s: %w", id, inv.Status, shared.ErrInvalidTransition)
	}
	delete(m.invitations, id)
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
