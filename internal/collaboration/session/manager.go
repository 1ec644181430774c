// Package session hosts the per-book collaboration session manager: it keeps
// a live read model of collaborators and invitations for one viewer,
// converging on store state through change notifications.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/inkwell-press/inkwell/internal/collab"
	"github.com/inkwell-press/inkwell/internal/collaboration"
	"github.com/inkwell-press/inkwell/internal/realtime"
	"github.com/inkwell-press/inkwell/internal/shared"
)

// Store is the command/query surface the manager binds to.
// *collaboration.Service satisfies it.
type Store interface {
	ListCollaborators(ctx context.Context, bookID int64, actor collaboration.Actor) ([]collaboration.Collaborator, error)
	ListInvitations(ctx context.Context, bookID int64, actor collaboration.Actor, status *collaboration.InvitationStatus) ([]collaboration.Invitation, error)
	InviteCollaborator(ctx context.Context, bookID int64, actor collaboration.Actor, email string, role collab.Role, message string) (collaboration.Invitation, error)
	ChangeCollaboratorRole(ctx context.Context, bookID int64, actor collaboration.Actor, collaboratorID int64, role collab.Role) (collaboration.Collaborator, error)
	RemoveCollaborator(ctx context.Context, bookID int64, actor collaboration.Actor, collaboratorID int64) error
	AcceptInvitation(ctx context.Context, actor collaboration.Actor, invitationID int64) (collaboration.Invitation, error)
	RejectInvitation(ctx context.Context, actor collaboration.Actor, invitationID int64) (collaboration.Invitation, error)
	CancelInvitation(ctx context.Context, bookID int64, actor collaboration.Actor, invitationID int64) error
}

// Subscriber opens change-notification subscriptions.
// *realtime.Broker and *realtime.FakeBroker satisfy it.
type Subscriber interface {
	Subscribe(ctx context.Context, bookID int64, tables ...string) (*realtime.Subscription, error)
}

// Snapshot is the read model handed to the presentation layer.
type Snapshot struct {
	Collaborators          []collaboration.Collaborator `json:"collaborators"`
	Invitations            []collaboration.Invitation   `json:"invitations"`
	CurrentUserRole        collab.Role                  `json:"current_user_role"`
	CurrentUserPermissions collab.PermissionSet         `json:"current_user_permissions"`
	IsLoading              bool                         `json:"is_loading"`
	Err                    string                       `json:"error,omitempty"`
}

// Manager orchestrates one viewer's live collaboration state for one book.
// Mutating commands defer to the store, then re-fetch the affected lists
// rather than patching local state, so server-derived fields (synthesized
// owner, resolved invitee ids) are never guessed at.
type Manager struct {
	store  Store
	subs   Subscriber
	bookID int64
	actor  collaboration.Actor
	logger *slog.Logger

	mu      sync.Mutex
	snap    Snapshot
	sub     *realtime.Subscription
	closed  bool
	loading map[string]*loadGate

	watchMu   sync.Mutex
	watchers  map[int]chan Snapshot
	nextWatch int
}

// loadGate serializes reloads per list: one in flight, one pending rerun.
type loadGate struct {
	inFlight bool
	rerun    bool
}

// NewManager constructs a Manager. Call Start before reading snapshots.
func NewManager(store Store, subs Subscriber, bookID int64, actor collaboration.Actor, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		subs:   subs,
		bookID: bookID,
		actor:  actor,
		logger: logger,
		loading: map[string]*loadGate{
			realtime.TableCollaborators: {},
			realtime.TableInvitations:   {},
		},
		watchers: make(map[int]chan Snapshot),
	}
}

// Start subscribes to change notifications and performs the initial load.
// The subscription outlives ctx's deadline; it ends on Close.
func (m *Manager) Start(ctx context.Context) error {
	sub, err := m.subs.Subscribe(ctx, m.bookID, realtime.TableCollaborators, realtime.TableInvitations)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		sub.Close()
		return errors.New("session: manager already closed")
	}
	m.sub = sub
	m.snap.IsLoading = true
	m.mu.Unlock()

	g, loadCtx := errgroup.WithContext(ctx)
	g.Go(func() error { m.reload(loadCtx, realtime.TableCollaborators); return nil })
	g.Go(func() error { m.reload(loadCtx, realtime.TableInvitations); return nil })
	_ = g.Wait()

	go m.consume(sub)
	return nil
}

// consume reloads the matching list on every notification, including
// self-notifications; reload is idempotent, so the extra pass is harmless.
func (m *Manager) consume(sub *realtime.Subscription) {
	for evt := range sub.Events() {
		if evt.BookID != m.bookID {
			continue
		}
		m.reload(context.Background(), evt.Table)
	}
}

// Close tears the subscription down deterministically. Results arriving
// afterwards are dropped.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sub := m.sub
	m.mu.Unlock()

	if sub != nil {
		sub.Close()
	}

	m.watchMu.Lock()
	for id, ch := range m.watchers {
		close(ch)
		delete(m.watchers, id)
	}
	m.watchMu.Unlock()
}

// Snapshot returns the current read model.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Watch registers a snapshot listener for streaming consumers. The returned
// cancel func must be called when the consumer goes away.
func (m *Manager) Watch() (<-chan Snapshot, func()) {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	id := m.nextWatch
	m.nextWatch++
	ch := make(chan Snapshot, 1)
	m.watchers[id] = ch
	return ch, func() {
		m.watchMu.Lock()
		defer m.watchMu.Unlock()
		if c, ok := m.watchers[id]; ok {
			delete(m.watchers, id)
			close(c)
		}
	}
}

func (m *Manager) notifyWatchers(snap Snapshot) {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	for _, ch := range m.watchers {
		// Keep only the latest snapshot per watcher.
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// reload re-fetches one list. At most one fetch per list is in flight; a
// notification landing mid-fetch schedules exactly one rerun.
func (m *Manager) reload(ctx context.Context, table string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	gate, ok := m.loading[table]
	if !ok {
		m.mu.Unlock()
		return
	}
	if gate.inFlight {
		gate.rerun = true
		m.mu.Unlock()
		return
	}
	gate.inFlight = true
	m.snap.IsLoading = true
	m.mu.Unlock()

	for {
		m.fetch(ctx, table)

		m.mu.Lock()
		if gate.rerun && !m.closed {
			gate.rerun = false
			m.mu.Unlock()
			continue
		}
		gate.inFlight = false
		m.snap.IsLoading = m.anyInFlightLocked()
		snap := m.snap
		m.mu.Unlock()
		m.notifyWatchers(snap)
		return
	}
}

func (m *Manager) anyInFlightLocked() bool {
	for _, g := range m.loading {
		if g.inFlight {
			return true
		}
	}
	return false
}

func (m *Manager) fetch(ctx context.Context, table string) {
	switch table {
	case realtime.TableCollaborators:
		collaborators, err := m.store.ListCollaborators(ctx, m.bookID, m.actor)
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return
		}
		if err != nil {
			// Keep the last-known good list; transient failures never blank
			// the view.
			m.snap.Err = shared.UserSafeMessage(err)
			return
		}
		m.snap.Collaborators = collaborators
		m.recomputeRoleLocked()
	case realtime.TableInvitations:
		invitations, err := m.store.ListInvitations(ctx, m.bookID, m.actor, nil)
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return
		}
		if err != nil {
			// Viewers have no invitation standing; they simply see none.
			if errors.Is(err, shared.ErrForbidden) {
				m.snap.Invitations = nil
				return
			}
			m.snap.Err = shared.UserSafeMessage(err)
			return
		}
		m.snap.Invitations = invitations
	}
}

// recomputeRoleLocked derives the viewer's role and permissions from the
// freshly loaded collaborator list. Never cached independently: a role change
// hitting the viewer shows up on the next reload.
func (m *Manager) recomputeRoleLocked() {
	m.snap.CurrentUserRole = ""
	m.snap.CurrentUserPermissions = collab.PermissionSet{}
	for _, c := range m.snap.Collaborators {
		if c.UserID == m.actor.ID || (m.actor.Email != "" && strings.EqualFold(c.UserEmail, m.actor.Email)) {
			m.snap.CurrentUserRole = c.Role
			m.snap.CurrentUserPermissions = c.Permissions
			return
		}
	}
}

// clearError wipes the previous error before a new attempt.
func (m *Manager) clearError() {
	m.mu.Lock()
	m.snap.Err = ""
	m.mu.Unlock()
}

// fail records a user-facing message and hands the typed error back so
// callers may still branch on it.
func (m *Manager) fail(err error) error {
	m.mu.Lock()
	m.snap.Err = shared.UserSafeMessage(err)
	snap := m.snap
	m.mu.Unlock()
	m.notifyWatchers(snap)
	return err
}

// InviteCollaborator offers a role to an email address.
func (m *Manager) InviteCollaborator(ctx context.Context, email string, role collab.Role, message string) (collaboration.Invitation, error) {
	m.clearError()
	inv, err := m.store.InviteCollaborator(ctx, m.bookID, m.actor, email, role, message)
	if err != nil {
		return collaboration.Invitation{}, m.fail(err)
	}
	m.reload(ctx, realtime.TableInvitations)
	return inv, nil
}

// ChangeCollaboratorRole updates a collaborator's role.
func (m *Manager) ChangeCollaboratorRole(ctx context.Context, collaboratorID int64, role collab.Role) (collaboration.Collaborator, error) {
	m.clearError()
	updated, err := m.store.ChangeCollaboratorRole(ctx, m.bookID, m.actor, collaboratorID, role)
	if err != nil {
		return collaboration.Collaborator{}, m.fail(err)
	}
	m.reload(ctx, realtime.TableCollaborators)
	return updated, nil
}

// RemoveCollaborator removes a collaborator from the book.
func (m *Manager) RemoveCollaborator(ctx context.Context, collaboratorID int64) error {
	m.clearError()
	if err := m.store.RemoveCollaborator(ctx, m.bookID, m.actor, collaboratorID); err != nil {
		return m.fail(err)
	}
	m.reload(ctx, realtime.TableCollaborators)
	return nil
}

// AcceptInvitation accepts an invitation addressed to the viewer.
func (m *Manager) AcceptInvitation(ctx context.Context, invitationID int64) (collaboration.Invitation, error) {
	m.clearError()
	inv, err := m.store.AcceptInvitation(ctx, m.actor, invitationID)
	if err != nil {
		return collaboration.Invitation{}, m.fail(err)
	}
	m.reload(ctx, realtime.TableInvitations)
	m.reload(ctx, realtime.TableCollaborators)
	return inv, nil
}

// RejectInvitation declines an invitation addressed to the viewer.
func (m *Manager) RejectInvitation(ctx context.Context, invitationID int64) (collaboration.Invitation, error) {
	m.clearError()
	inv, err := m.store.RejectInvitation(ctx, m.actor, invitationID)
	if err != nil {
		return collaboration.Invitation{}, m.fail(err)
	}
	m.reload(ctx, realtime.TableInvitations)
	return inv, nil
}

// CancelInvitation retracts a pending invitation.
func (m *Manager) CancelInvitation(ctx context.Context, invitationID int64) error {
	m.clearError()
	if err := m.store.CancelInvitation(ctx, m.bookID, m.actor, invitationID); err != nil {
		return m.fail(err)
	}
	m.reload(ctx, realtime.TableInvitations)
	return nil
}

// ClearError wipes the retained error message.
func (m *Manager) ClearError() {
	m.clearError()
	m.mu.Lock()
	snap := m.snap
	m.mu.Unlock()
	m.notifyWatchers(snap)
}
