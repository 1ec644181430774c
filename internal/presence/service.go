package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/inkwell-press/inkwell/internal/collab"
	"github.com/inkwell-press/inkwell/internal/collaboration"
	"github.com/inkwell-press/inkwell/internal/realtime"
	"github.com/inkwell-press/inkwell/internal/shared"
)

// RoleResolver answers what role an actor holds on a book.
// *collaboration.Service satisfies it.
type RoleResolver interface {
	RoleOf(ctx context.Context, bookID int64, actor collaboration.Actor) (collab.Role, error)
}

// Notifier publishes change events after successful mutations.
type Notifier interface {
	Publish(ctx context.Context, bookID int64, table string) error
}

// Service enforces book access on top of the store and broadcasts changes.
type Service struct {
	repo     Repository
	roles    RoleResolver
	notifier Notifier
	logger   *slog.Logger

	// now is the clock for staleness cutoffs, overridable in tests.
	now func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, roles RoleResolver, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{repo: repo, roles: roles, notifier: notifier, logger: logger, now: time.Now}
}

// WithClock replaces the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Heartbeat records or refreshes the actor's editing session on a section.
// Editing a section requires edit permission; reviewers and viewers observe
// sessions, they do not hold them.
func (s *Service) Heartbeat(ctx context.Context, actor collaboration.Actor, hb Heartbeat) (EditingSession, error) {
	role, err := s.roles.RoleOf(ctx, hb.BookID, actor)
	if err != nil {
		return EditingSession{}, err
	}
	if !collab.PermissionsFor(role).CanEdit {
		return EditingSession{}, fmt.Errorf("presence: %s cannot hold an editing session: %w", role, shared.ErrForbidden)
	}

	hb.UserID = actor.ID
	session, err := s.repo.UpsertSession(ctx, hb)
	if err != nil {
		return EditingSession{}, err
	}
	s.notify(ctx, hb.BookID, realtime.TableEditingSessions)
	return session, nil
}

// EndEditing removes the actor's session on a section. Ending a session that
// never existed is a no-op.
func (s *Service) EndEditing(ctx context.Context, bookID int64, actor collaboration.Actor, sectionID string) error {
	if _, err := s.roles.RoleOf(ctx, bookID, actor); err != nil {
		return err
	}
	if err := s.repo.EndSession(ctx, bookID, actor.ID, sectionID); err != nil {
		return err
	}
	s.notify(ctx, bookID, realtime.TableEditingSessions)
	return nil
}

// ActiveSessions lists the book's editing sessions inside the staleness
// window. Any collaborator may look.
func (s *Service) ActiveSessions(ctx context.Context, bookID int64, actor collaboration.Actor) ([]EditingSession, error) {
	if _, err := s.roles.RoleOf(ctx, bookID, actor); err != nil {
		return nil, err
	}
	return s.repo.ListActiveSessions(ctx, bookID, s.now().Add(-SessionStaleAfter))
}

// Ping records the actor as online, optionally with their current section.
func (s *Service) Ping(ctx context.Context, actor collaboration.Actor, ping Ping) (Presence, error) {
	if _, err := s.roles.RoleOf(ctx, ping.BookID, actor); err != nil {
		return Presence{}, err
	}

	ping.UserID = actor.ID
	p, err := s.repo.UpsertPresence(ctx, ping)
	if err != nil {
		return Presence{}, err
	}
	s.notify(ctx, ping.BookID, realtime.TablePresence)
	return p, nil
}

// Disconnect flips the actor offline on clean teardown. Crashed clients skip
// this and age out of the window instead.
func (s *Service) Disconnect(ctx context.Context, bookID int64, actor collaboration.Actor) error {
	if _, err := s.roles.RoleOf(ctx, bookID, actor); err != nil {
		return err
	}
	if err := s.repo.SetOffline(ctx, bookID, actor.ID); err != nil {
		return err
	}
	s.notify(ctx, bookID, realtime.TablePresence)
	return nil
}

// Present lists the book's users currently inside the presence window.
func (s *Service) Present(ctx context.Context, bookID int64, actor collaboration.Actor) ([]Presence, error) {
	if _, err := s.roles.RoleOf(ctx, bookID, actor); err != nil {
		return nil, err
	}
	return s.repo.ListPresent(ctx, bookID, s.now().Add(-PresenceStaleAfter))
}

// PurgeStaleSessions deletes sessions idle past the window. Maintenance only;
// reads never depend on it having run.
func (s *Service) PurgeStaleSessions(ctx context.Context) (int64, error) {
	return s.repo.PurgeSessions(ctx, s.now().Add(-SessionStaleAfter))
}

// PurgeStalePresence deletes presence rows unseen past the window.
func (s *Service) PurgeStalePresence(ctx context.Context) (int64, error) {
	return s.repo.PurgePresence(ctx, s.now().Add(-PresenceStaleAfter))
}

func (s *Service) notify(ctx context.Context, bookID int64, table string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, bookID, table); err != nil && s.logger != nil {
		s.logger.Warn("presence: publish change event",
			slog.Int64("book_id", bookID),
			slog.String("table", table),
			slog.Any("error", err),
		)
	}
}
