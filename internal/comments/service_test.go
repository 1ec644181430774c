package comments_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-press/inkwell/internal/collab"
	"github.com/inkwell-press/inkwell/internal/collaboration"
	"github.com/inkwell-press/inkwell/internal/comments"
	"github.com/inkwell-press/inkwell/internal/realtime"
	"github.com/inkwell-press/inkwell/internal/shared"
)

const (
	bookID     = int64(1)
	ownerID    = int64(10)
	reviewerID = int64(20)
	viewerID   = int64(30)
)

var (
	owner    = collaboration.Actor{ID: ownerID, Email: "olive@example.com"}
	reviewer = collaboration.Actor{ID: reviewerID, Email: "rae@example.com"}
	viewer   = collaboration.Actor{ID: viewerID, Email: "vic@example.com"}
)

type fixture struct {
	repo    *comments.MemoryRepository
	broker  *realtime.FakeBroker
	service *comments.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	collabRepo := collaboration.NewMemoryRepository()
	collabRepo.SeedUser(collaboration.MemoryUser{ID: ownerID, Email: "olive@example.com", Name: "Olive Quill"})
	collabRepo.SeedUser(collaboration.MemoryUser{ID: reviewerID, Email: "rae@example.com", Name: "Rae Soto"})
	collabRepo.SeedUser(collaboration.MemoryUser{ID: viewerID, Email: "vic@example.com", Name: "Vic Lund"})
	collabRepo.SeedBook(collaboration.MemoryBook{ID: bookID, AuthorID: ownerID})
	_, err := collabRepo.AddCollaborator(context.Background(), bookID, reviewerID, collab.RoleReviewer, nil)
	require.NoError(t, err)
	_, err = collabRepo.AddCollaborator(context.Background(), bookID, viewerID, collab.RoleViewer, nil)
	require.NoError(t, err)
	roles := collaboration.NewService(collabRepo, nil, nil)

	repo := comments.NewMemoryRepository()
	repo.SeedUser(ownerID, "olive@example.com", "Olive Quill")
	repo.SeedUser(reviewerID, "rae@example.com", "Rae Soto")
	repo.SeedUser(viewerID, "vic@example.com", "Vic Lund")

	broker := realtime.NewFakeBroker()
	return &fixture{
		repo:    repo,
		broker:  broker,
		service: comments.NewService(repo, roles, broker, nil),
	}
}

func TestReviewerCommentsViewerReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.Create(ctx, reviewer, comments.CreateInput{
		BookID: bookID, SectionID: "ch-1", Kind: comments.KindSuggestion, Body: "tighten this paragraph",
	})
	require.NoError(t, err)
	assert.Equal(t, comments.StatusOpen, created.Status)
	assert.Equal(t, "rae@example.com", created.UserEmail)

	threads, err := f.service.ListBySection(ctx, bookID, viewer, "ch-1")
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, created.ID, threads[0].ID)
}

func TestViewerCannotComment(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Create(context.Background(), viewer, comments.CreateInput{
		BookID: bookID, SectionID: "ch-1", Kind: comments.KindComment, Body: "hi",
	})
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestRepliesAttachToThreadRoot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root, err := f.service.Create(ctx, reviewer, comments.CreateInput{
		BookID: bookID, SectionID: "ch-1", Kind: comments.KindComment, Body: "root",
	})
	require.NoError(t, err)
	reply, err := f.service.Create(ctx, owner, comments.CreateInput{
		BookID: bookID, SectionID: "ch-1", ParentID: &root.ID, Kind: comments.KindComment, Body: "reply",
	})
	require.NoError(t, err)

	// Replying to the reply flattens to the root's thread.
	nested, err := f.service.Create(ctx, reviewer, comments.CreateInput{
		BookID: bookID, SectionID: "ch-1", ParentID: &reply.ID, Kind: comments.KindComment, Body: "deeper",
	})
	require.NoError(t, err)
	require.NotNil(t, nested.ParentID)
	assert.Equal(t, root.ID, *nested.ParentID)

	threads, err := f.service.ListBySection(ctx, bookID, viewer, "ch-1")
	require.NoError(t, err)
	require.Len(t, threads, 1)
	require.Len(t, threads[0].Replies, 2)
	assert.Equal(t, "reply", threads[0].Replies[0].Body)
	assert.Equal(t, "deeper", threads[0].Replies[1].Body)
}

func TestResolveRequiresEditStanding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.service.Create(ctx, reviewer, comments.CreateInput{
		BookID: bookID, SectionID: "ch-1", Kind: comments.KindSuggestion, Body: "swap the intro",
	})
	require.NoError(t, err)

	_, err = f.service.Resolve(ctx, bookID, reviewer, c.ID)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	resolved, err := f.service.Resolve(ctx, bookID, owner, c.ID)
	require.NoError(t, err)
	assert.Equal(t, comments.StatusResolved, resolved.Status)

	reopened, err := f.service.Reopen(ctx, bookID, owner, c.ID)
	require.NoError(t, err)
	assert.Equal(t, comments.StatusOpen, reopened.Status)
}

func TestDeleteByAuthorOrOwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mine, err := f.service.Create(ctx, reviewer, comments.CreateInput{
		BookID: bookID, SectionID: "ch-1", Kind: comments.KindComment, Body: "mine",
	})
	require.NoError(t, err)
	theirs, err := f.service.Create(ctx, owner, comments.CreateInput{
		BookID: bookID, SectionID: "ch-1", Kind: comments.KindComment, Body: "theirs",
	})
	require.NoError(t, err)

	err = f.service.Delete(ctx, bookID, reviewer, theirs.ID)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	require.NoError(t, f.service.Delete(ctx, bookID, reviewer, mine.ID))
	require.NoError(t, f.service.Delete(ctx, bookID, owner, theirs.ID))

	threads, err := f.service.ListBySection(ctx, bookID, owner, "ch-1")
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestDeleteRemovesReplies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root, err := f.service.Create(ctx, owner, comments.CreateInput{
		BookID: bookID, SectionID: "ch-1", Kind: comments.KindComment, Body: "root",
	})
	require.NoError(t, err)
	_, err = f.service.Create(ctx, reviewer, comments.CreateInput{
		BookID: bookID, SectionID: "ch-1", ParentID: &root.ID, Kind: comments.KindComment, Body: "reply",
	})
	require.NoError(t, err)

	require.NoError(t, f.service.Delete(ctx, bookID, owner, root.ID))

	threads, err := f.service.ListBySection(ctx, bookID, owner, "ch-1")
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestCommentScopedToBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.service.Create(ctx, owner, comments.CreateInput{
		BookID: bookID, SectionID: "ch-1", Kind: comments.KindComment, Body: "root",
	})
	require.NoError(t, err)

	_, err = f.service.Resolve(ctx, bookID+1, owner, c.ID)
	assert.Error(t, err)
}

func TestMutationsPublishChangeEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.broker.Subscribe(ctx, bookID, realtime.TableComments)
	require.NoError(t, err)
	defer sub.Close()

	c, err := f.service.Create(ctx, reviewer, comments.CreateInput{
		BookID: bookID, SectionID: "ch-1", Kind: comments.KindComment, Body: "hello",
	})
	require.NoError(t, err)

	select {
	case evt := <-sub.Events():
		assert.Equal(t, realtime.TableComments, evt.Table)
	case <-time.After(time.Second):
		t.Fatal("no change event after create")
	}

	_, err = f.service.Resolve(ctx, bookID, owner, c.ID)
	require.NoError(t, err)
	select {
	case evt := <-sub.Events():
		assert.Equal(t, realtime.TableComments, evt.Table)
	case <-time.After(time.Second):
		t.Fatal("no change event after resolve")
	}
}
