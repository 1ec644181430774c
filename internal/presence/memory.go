package presence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/inkwell-press/inkwell/internal/shared"
)

// MemoryRepository is an in-process Repository used by tests. It mirrors the
// Postgres implementation's semantics, including the read-side window
// filtering.
type MemoryRepository struct {
	mu sync.Mutex

	// Now is the clock used for write timestamps, overridable in tests.
	Now func() time.Time
	// FailWith, when set, makes every operation return that error.
	FailWith error

	nextID    int64
	sessions  map[string]EditingSession
	presences map[string]Presence
	users     map[int64]memoryUser
}

type memoryUser struct {
	Email string
	Name  string
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		Now:       time.Now,
		nextID:    1,
		sessions:  make(map[string]EditingSession),
		presences: make(map[string]Presence),
		users:     make(map[int64]memoryUser),
	}
}

// SeedUser registers a user for the denormalized email/name fields.
func (m *MemoryRepository) SeedUser(id int64, email, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = memoryUser{Email: email, Name: name}
}

func sessionKey(bookID, userID int64, sectionID string) string {
	return fmt.Sprintf("%d/%d/%s", bookID, userID, sectionID)
}

func presenceKey(bookID, userID int64) string {
	return fmt.Sprintf("%d/%d", bookID, userID)
}

func (m *MemoryRepository) UpsertSession(_ context.Context, hb Heartbeat) (EditingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return EditingSession{}, m.FailWith
	}

	key := sessionKey(hb.BookID, hb.UserID, hb.SectionID)
	s, ok := m.sessions[key]
	if !ok {
		s = EditingSession{ID: m.nextID, BookID: hb.BookID, UserID: hb.UserID, SectionID: hb.SectionID}
		m.nextID++
	}
	s.SectionType = hb.SectionType
	s.Cursor = hb.Cursor
	s.LastActivity = m.Now()
	s.UserEmail = m.users[hb.UserID].Email
	s.UserName = m.users[hb.UserID].Name
	m.sessions[key] = s
	return s, nil
}

func (m *MemoryRepository) EndSession(_ context.Context, bookID, userID int64, sectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	delete(m.sessions, sessionKey(bookID, userID, sectionID))
	return nil
}

func (m *MemoryRepository) ListActiveSessions(_ context.Context, bookID int64, cutoff time.Time) ([]EditingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	var out []EditingSession
	for _, s := range m.sessions {
		if s.BookID == bookID && !s.LastActivity.Before(cutoff) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (m *MemoryRepository) PurgeSessions(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return 0, m.FailWith
	}

	var n int64
	for key, s := range m.sessions {
		if s.LastActivity.Before(cutoff) {
			delete(m.sessions, key)
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) UpsertPresence(_ context.Context, ping Ping) (Presence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return Presence{}, m.FailWith
	}

	key := presenceKey(ping.BookID, ping.UserID)
	p, ok := m.presences[key]
	if !ok {
		p = Presence{BookID: ping.BookID, UserID: ping.UserID}
	}
	p.SectionID = ping.SectionID
	p.Online = true
	p.Metadata = ping.Metadata
	p.LastSeen = m.Now()
	p.UserEmail = m.users[ping.UserID].Email
	p.UserName = m.users[ping.UserID].Name
	m.presences[key] = p
	return p, nil
}

func (m *MemoryRepository) SetOffline(_ context.Context, bookID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	key := presenceKey(bookID, userID)
	p, ok := m.presences[key]
	if !ok {
		return fmt.Errorf("presence: book %d user %d: %w", bookID, userID, shared.ErrNotFound)
	}
	p.Online = false
	m.presences[key] = p
	return nil
}

func (m *MemoryRepository) ListPresent(_ context.Context, bookID int64, cutoff time.Time) ([]Presence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	var out []Presence
	for _, p := range m.presences {
		if p.BookID == bookID && p.Online && !p.LastSeen.Before(cutoff) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out, nil
}

func (m *MemoryRepository) PurgePresence(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return 0, m.FailWith
	}

	var n int64
	for key, p := range m.presences {
		if p.LastSeen.Before(cutoff) {
			delete(m.presences, key)
			n++
		}
	}
	return n, nil
}

var _ Repository = (*MemoryRepository)(nil)
