package presence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-press/inkwell/internal/collab"
	"github.com/inkwell-press/inkwell/internal/collaboration"
	"github.com/inkwell-press/inkwell/internal/presence"
	"github.com/inkwell-press/inkwell/internal/realtime"
	"github.com/inkwell-press/inkwell/internal/shared"
)

const (
	bookID   = int64(1)
	ownerID  = int64(10)
	editorID = int64(20)
	viewerID = int64(30)
)

var (
	owner  = collaboration.Actor{ID: ownerID, Email: "olive@example.com"}
	editor = collaboration.Actor{ID: editorID, Email: "edgar@example.com"}
	viewer = collaboration.Actor{ID: viewerID, Email: "b@example.com"}
)

type fixture struct {
	repo    *presence.MemoryRepository
	broker  *realtime.FakeBroker
	service *presence.Service
	clock   *fakeClock
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()

	collabRepo := collaboration.NewMemoryRepository()
	collabRepo.SeedUser(collaboration.MemoryUser{ID: ownerID, Email: "olive@example.com", Name: "Olive Quill"})
	collabRepo.SeedUser(collaboration.MemoryUser{ID: editorID, Email: "edgar@example.com", Name: "Edgar Marsh"})
	collabRepo.SeedUser(collaboration.MemoryUser{ID: viewerID, Email: "b@example.com", Name: "Blair Finch"})
	collabRepo.SeedBook(collaboration.MemoryBook{ID: bookID, AuthorID: ownerID})
	_, err := collabRepo.AddCollaborator(context.Background(), bookID, editorID, collab.RoleEditor, nil)
	require.NoError(t, err)
	_, err = collabRepo.AddCollaborator(context.Background(), bookID, viewerID, collab.RoleViewer, nil)
	require.NoError(t, err)
	roles := collaboration.NewService(collabRepo, nil, nil)

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	repo := presence.NewMemoryRepository()
	repo.Now = clock.Now
	repo.SeedUser(ownerID, "olive@example.com", "Olive Quill")
	repo.SeedUser(editorID, "edgar@example.com", "Edgar Marsh")
	repo.SeedUser(viewerID, "b@example.com", "Blair Finch")

	broker := realtime.NewFakeBroker()
	service := presence.NewService(repo, roles, broker, nil).WithClock(clock.Now)
	return &fixture{repo: repo, broker: broker, service: service, clock: clock}
}

func TestHeartbeatUpsertsOneSessionPerSection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.Heartbeat(ctx, editor, presence.Heartbeat{
		BookID: bookID, SectionID: "ch-1", SectionType: "chapter",
	})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	second, err := f.service.Heartbeat(ctx, editor, presence.Heartbeat{
		BookID: bookID, SectionID: "ch-1", SectionType: "chapter",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "heartbeat must refresh, not duplicate")
	assert.True(t, second.LastActivity.After(first.LastActivity))

	sessions, err := f.service.ActiveSessions(ctx, bookID, viewer)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "edgar@example.com", sessions[0].UserEmail)
}

func TestViewerCannotHoldEditingSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Heartbeat(context.Background(), viewer, presence.Heartbeat{
		BookID: bookID, SectionID: "ch-1", SectionType: "chapter",
	})
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestNonCollaboratorCannotObserve(t *testing.T) {
	f := newFixture(t)
	stranger := collaboration.Actor{ID: 99, Email: "nobody@example.com"}

	_, err := f.service.ActiveSessions(context.Background(), bookID, stranger)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = f.service.Present(context.Background(), bookID, stranger)
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestStaleSessionExcludedFromReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Heartbeat(ctx, editor, presence.Heartbeat{
		BookID: bookID, SectionID: "ch-1", SectionType: "chapter",
	})
	require.NoError(t, err)

	f.clock.Advance(presence.SessionStaleAfter + time.Second)

	sessions, err := f.service.ActiveSessions(ctx, bookID, owner)
	require.NoError(t, err)
	assert.Empty(t, sessions, "stale sessions must vanish from reads before any cleanup runs")

	// A fresh heartbeat on the same section revives the same row.
	revived, err := f.service.Heartbeat(ctx, editor, presence.Heartbeat{
		BookID: bookID, SectionID: "ch-1", SectionType: "chapter",
	})
	require.NoError(t, err)
	sessions, err = f.service.ActiveSessions(ctx, bookID, owner)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, revived.ID, sessions[0].ID)
}

func TestEndEditingIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Heartbeat(ctx, editor, presence.Heartbeat{
		BookID: bookID, SectionID: "ch-1", SectionType: "chapter",
	})
	require.NoError(t, err)

	require.NoError(t, f.service.EndEditing(ctx, bookID, editor, "ch-1"))
	require.NoError(t, f.service.EndEditing(ctx, bookID, editor, "ch-1"))

	sessions, err := f.service.ActiveSessions(ctx, bookID, owner)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestPresenceWindowAndCleanDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	section := "ch-2"

	_, err := f.service.Ping(ctx, viewer, presence.Ping{BookID: bookID, SectionID: &section})
	require.NoError(t, err)

	present, err := f.service.Present(ctx, bookID, owner)
	require.NoError(t, err)
	require.Len(t, present, 1)
	assert.Equal(t, viewerID, present[0].UserID)
	require.NotNil(t, present[0].SectionID)
	assert.Equal(t, section, *present[0].SectionID)

	require.NoError(t, f.service.Disconnect(ctx, bookID, viewer))

	present, err = f.service.Present(ctx, bookID, owner)
	require.NoError(t, err)
	assert.Empty(t, present, "offline flag must hide the user immediately")
}

func TestStalePresenceTreatedAsOffline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Ping(ctx, viewer, presence.Ping{BookID: bookID})
	require.NoError(t, err)

	// The client crashed: the online flag stays true but pings stop.
	f.clock.Advance(presence.PresenceStaleAfter + time.Second)

	present, err := f.service.Present(ctx, bookID, owner)
	require.NoError(t, err)
	assert.Empty(t, present)
}

func TestDisconnectWithoutPresenceIsNotFound(t *testing.T) {
	f := newFixture(t)

	err := f.service.Disconnect(context.Background(), bookID, viewer)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPurgeRemovesOnlyStaleRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Heartbeat(ctx, editor, presence.Heartbeat{
		BookID: bookID, SectionID: "ch-1", SectionType: "chapter",
	})
	require.NoError(t, err)
	_, err = f.service.Ping(ctx, viewer, presence.Ping{BookID: bookID})
	require.NoError(t, err)

	f.clock.Advance(presence.SessionStaleAfter + time.Minute)

	_, err = f.service.Heartbeat(ctx, owner, presence.Heartbeat{
		BookID: bookID, SectionID: "ch-3", SectionType: "chapter",
	})
	require.NoError(t, err)

	purgedSessions, err := f.service.PurgeStaleSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purgedSessions)

	purgedPresence, err := f.service.PurgeStalePresence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purgedPresence)

	sessions, err := f.service.ActiveSessions(ctx, bookID, owner)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "ch-3", sessions[0].SectionID)
}

func TestMutationsPublishChangeEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.broker.Subscribe(ctx, bookID, realtime.TableEditingSessions, realtime.TablePresence)
	require.NoError(t, err)
	defer sub.Close()

	_, err = f.service.Heartbeat(ctx, editor, presence.Heartbeat{
		BookID: bookID, SectionID: "ch-1", SectionType: "chapter",
	})
	require.NoError(t, err)
	evt := <-sub.Events()
	assert.Equal(t, realtime.TableEditingSessions, evt.Table)

	_, err = f.service.Ping(ctx, viewer, presence.Ping{BookID: bookID})
	require.NoError(t, err)
	evt = <-sub.Events()
	assert.Equal(t, realtime.TablePresence, evt.Table)
}
