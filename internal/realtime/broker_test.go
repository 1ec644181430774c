package realtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-press/inkwell/internal/realtime"
)

func newTestBroker(t *testing.T) *realtime.Broker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return realtime.NewBroker(client, nil)
}

func waitEvent(t *testing.T, sub *realtime.Subscription) realtime.Event {
	t.Helper()
	select {
	case evt, ok := <-sub.Events():
		require.True(t, ok, "subscription closed early")
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return realtime.Event{}
	}
}

func TestBrokerDeliversBookScopedEvents(t *testing.T) {
	broker := newTestBroker(t)
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, 7, realtime.TableCollaborators, realtime.TableInvitations)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, broker.Publish(ctx, 7, realtime.TableCollaborators))
	evt := waitEvent(t, sub)
	assert.Equal(t, int64(7), evt.BookID)
	assert.Equal(t, realtime.TableCollaborators, evt.Table)

	require.NoError(t, broker.Publish(ctx, 7, realtime.TableInvitations))
	evt = waitEvent(t, sub)
	assert.Equal(t, realtime.TableInvitations, evt.Table)
}

func TestBrokerIsolatesBooks(t *testing.T) {
	broker := newTestBroker(t)
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, 1, realtime.TableCollaborators)
	require.NoError(t, err)
	defer sub.Close()

	// An event for another book must not reach this subscription.
	require.NoError(t, broker.Publish(ctx, 2, realtime.TableCollaborators))
	require.NoError(t, broker.Publish(ctx, 1, realtime.TableCollaborators))

	evt := waitEvent(t, sub)
	assert.Equal(t, int64(1), evt.BookID)
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	broker := newTestBroker(t)

	sub, err := broker.Subscribe(context.Background(), 3, realtime.TablePresence)
	require.NoError(t, err)

	sub.Close()
	sub.Close()

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok, "events channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after Close")
	}
}

func TestFreshSubscriptionsHaveDistinctIdentity(t *testing.T) {
	broker := newTestBroker(t)
	ctx := context.Background()

	first, err := broker.Subscribe(ctx, 4, realtime.TableCollaborators)
	require.NoError(t, err)
	first.Close()

	second, err := broker.Subscribe(ctx, 4, realtime.TableCollaborators)
	require.NoError(t, err)
	defer second.Close()

	assert.NotEqual(t, first.ID, second.ID)

	require.NoError(t, broker.Publish(ctx, 4, realtime.TableCollaborators))
	evt := waitEvent(t, second)
	assert.Equal(t, int64(4), evt.BookID)
}

func TestFakeBrokerMatchesContract(t *testing.T) {
	fake := realtime.NewFakeBroker()
	ctx := context.Background()

	sub, err := fake.Subscribe(ctx, 9, realtime.TableInvitations)
	require.NoError(t, err)

	require.NoError(t, fake.Publish(ctx, 9, realtime.TableInvitations))
	evt := waitEvent(t, sub)
	assert.Equal(t, realtime.TableInvitations, evt.Table)

	sub.Close()
	assert.Zero(t, fake.SubscriberCount())
}
