package comments

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/inkwell-press/inkwell/internal/collab"
	"github.com/inkwell-press/inkwell/internal/collaboration"
	"github.com/inkwell-press/inkwell/internal/realtime"
	"github.com/inkwell-press/inkwell/internal/shared"
)

// RoleResolver answers what role an actor holds on a book.
type RoleResolver interface {
	RoleOf(ctx context.Context, bookID int64, actor collaboration.Actor) (collab.Role, error)
}

// Notifier publishes change events after successful mutations.
type Notifier interface {
	Publish(ctx context.Context, bookID int64, table string) error
}

// Service enforces comment access rules on top of the store.
type Service struct {
	repo     Repository
	roles    RoleResolver
	notifier Notifier
	logger   *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, roles RoleResolver, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{repo: repo, roles: roles, notifier: notifier, logger: logger}
}

// ListBySection returns a section's threads. Viewer access suffices.
func (s *Service) ListBySection(ctx context.Context, bookID int64, actor collaboration.Actor, sectionID string) ([]Comment, error) {
	if _, err := s.roles.RoleOf(ctx, bookID, actor); err != nil {
		return nil, err
	}
	return s.repo.ListBySection(ctx, bookID, sectionID)
}

// Create adds a comment or reply. Writing takes review standing; viewers
// read the discussion, they do not join it.
func (s *Service) Create(ctx context.Context, actor collaboration.Actor, input CreateInput) (Comment, error) {
	role, err := s.roles.RoleOf(ctx, input.BookID, actor)
	if err != nil {
		return Comment{}, err
	}
	if !collab.PermissionsFor(role).CanReview {
		return Comment{}, fmt.Errorf("comments: %s cannot write comments: %w", role, shared.ErrForbidden)
	}
	if !input.Kind.IsValid() {
		return Comment{}, fmt.Errorf("comments: unknown kind %q: %w", input.Kind, shared.ErrInvalidTransition)
	}

	input.UserID = actor.ID
	c, err := s.repo.Create(ctx, input)
	if err != nil {
		return Comment{}, err
	}
	s.notify(ctx, input.BookID, realtime.TableComments)
	return c, nil
}

// Resolve marks an open comment resolved. Editor standing required.
func (s *Service) Resolve(ctx context.Context, bookID int64, actor collaboration.Actor, commentID int64) (Comment, error) {
	return s.setStatus(ctx, bookID, actor, commentID, StatusResolved)
}

// Reopen flips a resolved comment back to open. Editor standing required.
func (s *Service) Reopen(ctx context.Context, bookID int64, actor collaboration.Actor, commentID int64) (Comment, error) {
	return s.setStatus(ctx, bookID, actor, commentID, StatusOpen)
}

func (s *Service) setStatus(ctx context.Context, bookID int64, actor collaboration.Actor, commentID int64, status Status) (Comment, error) {
	role, err := s.roles.RoleOf(ctx, bookID, actor)
	if err != nil {
		return Comment{}, err
	}
	if !collab.PermissionsFor(role).CanEdit {
		return Comment{}, fmt.Errorf("comments: %s cannot resolve comments: %w", role, shared.ErrForbidden)
	}

	existing, err := s.repo.Get(ctx, commentID)
	if err != nil {
		return Comment{}, err
	}
	if existing.BookID != bookID {
		return Comment{}, fmt.Errorf("comments: %d: %w", commentID, shared.ErrNotFound)
	}

	c, err := s.repo.SetStatus(ctx, commentID, status)
	if err != nil {
		return Comment{}, err
	}
	s.notify(ctx, bookID, realtime.TableComments)
	return c, nil
}

// Delete removes a comment. Authors may delete their own; owners may delete
// anything in their book.
func (s *Service) Delete(ctx context.Context, bookID int64, actor collaboration.Actor, commentID int64) error {
	role, err := s.roles.RoleOf(ctx, bookID, actor)
	if err != nil {
		return err
	}
	existing, err := s.repo.Get(ctx, commentID)
	if err != nil {
		return err
	}
	if existing.BookID != bookID {
		return fmt.Errorf("comments: %d: %w", commentID, shared.ErrNotFound)
	}
	if existing.UserID != actor.ID && role != collab.RoleOwner {
		return fmt.Errorf("comments: only the author or the owner may delete: %w", shared.ErrForbidden)
	}

	if err := s.repo.Delete(ctx, commentID); err != nil {
		return err
	}
	s.notify(ctx, bookID, realtime.TableComments)
	return nil
}

func (s *Service) notify(ctx context.Context, bookID int64, table string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, bookID, table); err != nil && s.logger != nil {
		s.logger.Warn("comments: publish change event",
			slog.Int64("book_id", bookID),
			slog.String("table", table),
			slog.Any("error", err),
		)
	}
}
