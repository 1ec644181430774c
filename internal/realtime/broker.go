// Package realtime delivers per-book change notifications over redis pub/sub.
// Payloads carry no row data; subscribers reload from the store on receipt.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Change-notification table names, mirroring the store tables they track.
const (
	TableCollaborators   = "collaborators"
	TableInvitations     = "invitations"
	TableEditingSessions = "editing_sessions"
	TablePresence        = "presence"
	TableComments        = "comments"
)

// Event signals that something changed in a table scoped to a book.
type Event struct {
	BookID int64  `json:"book_id"`
	Table  string `json:"table"`
}

// Broker publishes and subscribes to book-scoped change events.
type Broker struct {
	client *redis.Client
	logger *slog.Logger
}

// NewBroker constructs a Broker.
func NewBroker(client *redis.Client, logger *slog.Logger) *Broker {
	return &Broker{client: client, logger: logger}
}

func channelName(bookID int64, table string) string {
	return fmt.Sprintf("collab:%d:%s", bookID, table)
}

// Publish broadcasts a change event for (book, table). Best effort: callers
// treat failures as non-fatal since subscribers converge on the next reload.
func (b *Broker) Publish(ctx context.Context, bookID int64, table string) error {
	payload, err := json.Marshal(Event{BookID: bookID, Table: table})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channelName(bookID, table), payload).Err()
}

// Subscription is a managed handle over a live pub/sub channel set. Each
// subscription carries its own identity so a lingering teardown of a previous
// one never collides with a fresh subscribe for the same book.
type Subscription struct {
	ID     string
	events chan Event

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	pubsub *redis.PubSub
}

// Events returns the channel delivering change events. It is closed when the
// subscription is torn down.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close tears the subscription down. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	if s.pubsub != nil {
		_ = s.pubsub.Close()
	}
}

// Subscribe opens a subscription for the given tables of one book. The
// returned handle must be closed when the viewing session ends or the book
// changes.
func (b *Broker) Subscribe(ctx context.Context, bookID int64, tables ...string) (*Subscription, error) {
	channels := make([]string, len(tables))
	for i, table := range tables {
		channels[i] = channelName(bookID, table)
	}

	pubsub := b.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("realtime: subscribe book %d: %w", bookID, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		ID:     uuid.NewString(),
		events: make(chan Event, 16),
		cancel: cancel,
		pubsub: pubsub,
	}

	go func() {
		defer close(sub.events)
		ch := pubsub.Channel()
		for {
			select {
			case <-runCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					if b.logger != nil {
						b.logger.Warn("realtime: drop malformed event", slog.String("channel", msg.Channel), slog.Any("error", err))
					}
					continue
				}
				select {
				case sub.events <- evt:
				case <-runCtx.Done():
					return
				default:
					// Slow consumer: dropping is safe, a reload is already due.
				}
			}
		}
	}()

	return sub, nil
}
