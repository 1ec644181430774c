package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// FakeBroker is an in-process notifier for tests. It mirrors Broker's
// semantics without redis.
type FakeBroker struct {
	mu   sync.Mutex
	subs map[string]*fakeSub
}

type fakeSub struct {
	sub    *Subscription
	bookID int64
	tables map[string]bool
}

// NewFakeBroker constructs a FakeBroker.
func NewFakeBroker() *FakeBroker {
	return &FakeBroker{subs: make(map[string]*fakeSub)}
}

// Publish fans the event out to all matching subscriptions.
func (f *FakeBroker) Publish(_ context.Context, bookID int64, table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fs := range f.subs {
		if fs.bookID != bookID || !fs.tables[table] {
			continue
		}
		select {
		case fs.sub.events <- Event{BookID: bookID, Table: table}:
		default:
		}
	}
	return nil
}

// Subscribe registers an in-memory subscription.
func (f *FakeBroker) Subscribe(_ context.Context, bookID int64, tables ...string) (*Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := uuid.NewString()
	sub := &Subscription{
		ID:     id,
		events: make(chan Event, 16),
	}
	sub.cancel = func() {
		f.remove(id)
	}

	tableSet := make(map[string]bool, len(tables))
	for _, t := range tables {
		tableSet[t] = true
	}
	f.subs[id] = &fakeSub{sub: sub, bookID: bookID, tables: tableSet}
	return sub, nil
}

func (f *FakeBroker) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fs, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(fs.sub.events)
	}
}

// SubscriberCount reports live subscriptions, for leak assertions in tests.
func (f *FakeBroker) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
