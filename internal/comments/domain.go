// Package comments implements threaded comments and suggestions anchored to
// book sections. Reading requires viewer access; writing a comment requires
// reviewer standing or better, and resolution is an editor concern.
package comments

import "time"

// Kind discriminates plain comments from change suggestions.
type Kind string

const (
	KindComment    Kind = "comment"
	KindSuggestion Kind = "suggestion"
)

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	return k == KindComment || k == KindSuggestion
}

// Status is the comment lifecycle state.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Comment is one entry in a section's discussion. ParentID links a reply to
// its top-level comment; replies nest one level deep.
type Comment struct {
	ID        int64     `json:"id"`
	BookID    int64     `json:"book_id"`
	SectionID string    `json:"section_id"`
	UserID    int64     `json:"user_id"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	Kind      Kind      `json:"kind"`
	Status    Status    `json:"status"`
	Body      string    `json:"body"`
	// Optional anchor into the section's text.
	OffsetStart *int `json:"offset_start,omitempty"`
	OffsetEnd   *int `json:"offset_end,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserEmail string `json:"user_email"`
	UserName  string `json:"user_name"`

	// Replies is populated on list reads for top-level comments only.
	Replies []Comment `json:"replies,omitempty"`
}

// CreateInput carries a new comment or reply.
type CreateInput struct {
	BookID      int64
	SectionID   string
	UserID      int64
	ParentID    *int64
	Kind        Kind
	Body        string
	OffsetStart *int
	OffsetEnd   *int
}
