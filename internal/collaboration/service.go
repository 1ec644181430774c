package collaboration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/inkwell-press/inkwell/internal/collab"
	"github.com/inkwell-press/inkwell/internal/shared"
)

// Service layers actor-side authorization over the store and broadcasts
// change events after successful mutations. The store enforces data
// invariants; this layer enforces who may ask for what.
type Service struct {
	repo     Repository
	notifier Notifier
	logger   *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{repo: repo, notifier: notifier, logger: logger}
}

// RoleOf resolves the actor's effective role on a book from the collaborator
// list, including the synthesized owner. A non-collaborator gets Forbidden.
func (s *Service) RoleOf(ctx context.Context, bookID int64, actor Actor) (collab.Role, error) {
	collaborators, err := s.repo.ListCollaborators(ctx, bookID)
	if err != nil {
		return "", err
	}
	for _, c := range collaborators {
		if c.UserID == actor.ID || (actor.Email != "" && strings.EqualFold(c.UserEmail, actor.Email)) {
			return c.Role, nil
		}
	}
	return "", fmt.Errorf("collaboration: user %d has no access to book %d: %w", actor.ID, bookID, shared.ErrForbidden)
}

// ListCollaborators returns a book's collaborators. Any collaborator,
// viewers included, may read the list.
func (s *Service) ListCollaborators(ctx context.Context, bookID int64, actor Actor) ([]Collaborator, error) {
	collaborators, err := s.repo.ListCollaborators(ctx, bookID)
	if err != nil {
		return nil, err
	}
	member := false
	for _, c := range collaborators {
		if c.UserID == actor.ID {
			member = true
			break
		}
	}
	if !member {
		return nil, fmt.Errorf("collaboration: user %d has no access to book %d: %w", actor.ID, bookID, shared.ErrForbidden)
	}
	return collaborators, nil
}

// InviteCollaborator validates the actor may offer the role, then creates the
// invitation. Assignment validation happens here, before the store is asked.
func (s *Service) InviteCollaborator(ctx context.Context, bookID int64, actor Actor, email string, role collab.Role, message string) (Invitation, error) {
	actorRole, err := s.RoleOf(ctx, bookID, actor)
	if err != nil {
		return Invitation{}, err
	}
	if !collab.CanAssignRole(actorRole, role) {
		return Invitation{}, fmt.Errorf("collaboration: %s may not offer role %s: %w", actorRole, role, shared.ErrForbidden)
	}

	inv, err := s.repo.CreateInvitation(ctx, CreateInvitationInput{
		BookID:       bookID,
		InviterID:    actor.ID,
		InviteeEmail: email,
		Role:         role,
		Message:      message,
	})
	if err != nil {
		return Invitation{}, err
	}
	s.notify(ctx, bookID, TableInvitations)
	return inv, nil
}

// ChangeCollaboratorRole updates a collaborator's role, rewriting the
// permission set with it.
func (s *Service) ChangeCollaboratorRole(ctx context.Context, bookID int64, actor Actor, collaboratorID int64, role collab.Role) (Collaborator, error) {
	actorRole, err := s.RoleOf(ctx, bookID, actor)
	if err != nil {
		return Collaborator{}, err
	}
	target, err := s.repo.GetCollaborator(ctx, collaboratorID)
	if err != nil {
		return Collaborator{}, err
	}
	if target.BookID != bookID {
		return Collaborator{}, fmt.Errorf("collaboration: collaborator %d: %w", collaboratorID, shared.ErrNotFound)
	}
	if target.UserID == actor.ID {
		return Collaborator{}, fmt.Errorf("collaboration: cannot manage yourself: %w", shared.ErrForbidden)
	}
	if !collab.CanManage(actorRole, target.Role) || !collab.CanAssignRole(actorRole, role) {
		return Collaborator{}, fmt.Errorf("collaboration: %s may not set %s to %s: %w", actorRole, target.Role, role, shared.ErrForbidden)
	}

	updated, err := s.repo.UpdateCollaboratorRole(ctx, collaboratorID, role)
	if err != nil {
		return Collaborator{}, err
	}
	s.notify(ctx, bookID, TableCollaborators)
	return updated, nil
}

// RemoveCollaborator deletes a collaborator from a book.
func (s *Service) RemoveCollaborator(ctx context.Context, bookID int64, actor Actor, collaboratorID int64) error {
	actorRole, err := s.RoleOf(ctx, bookID, actor)
	if err != nil {
		return err
	}
	target, err := s.repo.GetCollaborator(ctx, collaboratorID)
	if err != nil {
		return err
	}
	if target.BookID != bookID {
		return fmt.Errorf("collaboration: collaborator %d: %w", collaboratorID, shared.ErrNotFound)
	}
	if target.UserID == actor.ID {
		return fmt.Errorf("collaboration: cannot manage yourself: %w", shared.ErrForbidden)
	}
	if !collab.CanManage(actorRole, target.Role) {
		return fmt.Errorf("collaboration: %s may not remove %s: %w", actorRole, target.Role, shared.ErrForbidden)
	}

	if err := s.repo.RemoveCollaborator(ctx, collaboratorID); err != nil {
		return err
	}
	s.notify(ctx, bookID, TableCollaborators)
	return nil
}

// ListInvitations returns a book's invitations for collaborators with invite
// or manage standing.
func (s *Service) ListInvitations(ctx context.Context, bookID int64, actor Actor, status *InvitationStatus) ([]Invitation, error) {
	actorRole, err := s.RoleOf(ctx, bookID, actor)
	if err != nil {
		return nil, err
	}
	if len(collab.AssignableRoles(actorRole)) == 0 {
		return nil, fmt.Errorf("collaboration: %s may not view invitations: %w", actorRole, shared.ErrForbidden)
	}
	return s.repo.ListInvitations(ctx, bookID, status)
}

// ListInvitationsForUser returns the actor's own pending, unexpired
// invitations across all books.
func (s *Service) ListInvitationsForUser(ctx context.Context, actor Actor) ([]Invitation, error) {
	return s.repo.ListInvitationsForUser(ctx, actor.ID, actor.Email)
}

// AcceptInvitation accepts an invitation addressed to the actor.
func (s *Service) AcceptInvitation(ctx context.Context, actor Actor, invitationID int64) (Invitation, error) {
	inv, err := s.repo.RespondToInvitation(ctx, invitationID, actor.ID, InvitationAccepted)
	if err != nil {
		return Invitation{}, err
	}
	s.notify(ctx, inv.BookID, TableInvitations)
	s.notify(ctx, inv.BookID, TableCollaborators)
	return inv, nil
}

// RejectInvitation declines an invitation addressed to the actor.
func (s *Service) RejectInvitation(ctx context.Context, actor Actor, invitationID int64) (Invitation, error) {
	inv, err := s.repo.RespondToInvitation(ctx, invitationID, actor.ID, InvitationRejected)
	if err != nil {
		return Invitation{}, err
	}
	s.notify(ctx, inv.BookID, TableInvitations)
	return inv, nil
}

// CancelInvitation retracts a still-pending invitation. Only the inviter or
// the book owner may retract.
func (s *Service) CancelInvitation(ctx context.Context, bookID int64, actor Actor, invitationID int64) error {
	inv, err := s.repo.GetInvitation(ctx, invitationID)
	if err != nil {
		return err
	}
	if inv.BookID != bookID {
		return fmt.Errorf("collaboration: invitation %d: %w", invitationID, shared.ErrNotFound)
	}
	if inv.InviterID != actor.ID {
		actorRole, err := s.RoleOf(ctx, bookID, actor)
		if err != nil {
			return err
		}
		if actorRole != collab.RoleOwner {
			return fmt.Errorf("collaboration: only the inviter or an owner may cancel: %w", shared.ErrForbidden)
		}
	}

	if err := s.repo.CancelInvitation(ctx, invitationID); err != nil {
		return err
	}
	s.notify(ctx, bookID, TableInvitations)
	return nil
}

// notify is best effort: a missed broadcast only delays convergence until the
// next reload, so failures log and the primary action proceeds.
func (s *Service) notify(ctx context.Context, bookID int64, table string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, bookID, table); err != nil && s.logger != nil {
		s.logger.Warn("collaboration: publish change event",
			slog.Int64("book_id", bookID),
			slog.String("table", table),
			slog.Any("error", err),
		)
	}
}
