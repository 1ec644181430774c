package comments

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/inkwell-press/inkwell/internal/shared"
)

// MemoryRepository is an in-process Repository used by tests.
type MemoryRepository struct {
	mu sync.Mutex

	// Now is the clock used for timestamps, overridable in tests.
	Now func() time.Time
	// FailWith, when set, makes every operation return that error.
	FailWith error

	nextID   int64
	comments map[int64]Comment
	users    map[int64]memoryUser
}

type memoryUser struct {
	Email string
	Name  string
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		Now:      time.Now,
		nextID:   1,
		comments: make(map[int64]Comment),
		users:    make(map[int64]memoryUser),
	}
}

// SeedUser registers a user for the denormalized email/name fields.
func (m *MemoryRepository) SeedUser(id int64, email, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = memoryUser{Email: email, Name: name}
}

func (m *MemoryRepository) Create(_ context.Context, input CreateInput) (Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return Comment{}, m.FailWith
	}

	if input.ParentID != nil {
		parent, ok := m.comments[*input.ParentID]
		if !ok || parent.BookID != input.BookID {
			return Comment{}, fmt.Errorf("comments: parent %d: %w", *input.ParentID, shared.ErrNotFound)
		}
		if parent.ParentID != nil {
			input.ParentID = parent.ParentID
		}
	}

	now := m.Now()
	c := Comment{
		ID:          m.nextID,
		BookID:      input.BookID,
		SectionID:   input.SectionID,
		UserID:      input.UserID,
		ParentID:    input.ParentID,
		Kind:        input.Kind,
		Status:      StatusOpen,
		Body:        input.Body,
		OffsetStart: input.OffsetStart,
		OffsetEnd:   input.OffsetEnd,
		CreatedAt:   now,
		UpdatedAt:   now,
		UserEmail:   m.users[input.UserID].Email,
		UserName:    m.users[input.UserID].Name,
	}
	m.nextID++
	m.comments[c.ID] = c
	return c, nil
}

func (m *MemoryRepository) Get(_ context.Context, id int64) (Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return Comment{}, m.FailWith
	}

	c, ok := m.comments[id]
	if !ok {
		return Comment{}, fmt.Errorf("comments: %d: %w", id, shared.ErrNotFound)
	}
	return c, nil
}

func (m *MemoryRepository) ListBySection(_ context.Context, bookID int64, sectionID string) ([]Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	var flat []Comment
	for _, c := range m.comments {
		if c.BookID == bookID && c.SectionID == sectionID {
			flat = append(flat, c)
		}
	}
	sort.Slice(flat, func(i, j int) bool {
		if flat[i].CreatedAt.Equal(flat[j].CreatedAt) {
			return flat[i].ID < flat[j].ID
		}
		return flat[i].CreatedAt.Before(flat[j].CreatedAt)
	})
	return thread(flat), nil
}

func (m *MemoryRepository) SetStatus(_ context.Context, id int64, status Status) (Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return Comment{}, m.FailWith
	}

	c, ok := m.comments[id]
	if !ok {
		return Comment{}, fmt.Errorf("comments: %d: %w", id, shared.ErrNotFound)
	}
	c.Status = status
	c.UpdatedAt = m.Now()
	m.comments[id] = c
	return c, nil
}

func (m *MemoryRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	if _, ok := m.comments[id]; !ok {
		return fmt.Errorf("comments: %d: %w", id, shared.ErrNotFound)
	}
	delete(m.comments, id)
	for cid, c := range m.comments {
		if c.ParentID != nil && *c.ParentID == id {
			delete(m.comments, cid)
		}
	}
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
