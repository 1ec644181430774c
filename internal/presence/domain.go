// Package presence tracks live editing sessions and per-book user presence.
// Staleness is a read-side concern: rows past their window are excluded from
// queries, while physical deletion is left to background maintenance.
package presence

import (
	"encoding/json"
	"time"
)

const (
	// SessionStaleAfter is how long an editing session survives without a
	// heartbeat before readers treat it as gone.
	SessionStaleAfter = 30 * time.Minute
	// PresenceStaleAfter bounds how old a presence ping may be for the user
	// to still count as online.
	PresenceStaleAfter = 5 * time.Minute
)

// EditingSession is a live claim that a user is working on one section of a
// book. One session per (book, user, section).
type EditingSession struct {
	ID           int64           `json:"id"`
	BookID       int64           `json:"book_id"`
	UserID       int64           `json:"user_id"`
	SectionID    string          `json:"section_id"`
	SectionType  string          `json:"section_type"`
	Cursor       json.RawMessage `json:"cursor,omitempty"`
	LastActivity time.Time       `json:"last_activity"`

	UserEmail string `json:"user_email"`
	UserName  string `json:"user_name"`
}

// ActiveAt reports whether the session counts as active at the given instant.
func (s EditingSession) ActiveAt(now time.Time) bool {
	return now.Sub(s.LastActivity) <= SessionStaleAfter
}

// Presence is the per-(book, user) online indicator. A user is present only
// while the online flag holds AND the last ping is inside the window; a
// crashed client that never flipped the flag goes stale on its own.
type Presence struct {
	BookID    int64           `json:"book_id"`
	UserID    int64           `json:"user_id"`
	SectionID *string         `json:"section_id,omitempty"`
	Online    bool            `json:"online"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	LastSeen  time.Time       `json:"last_seen"`

	UserEmail string `json:"user_email"`
	UserName  string `json:"user_name"`
}

// PresentAt reports whether the user counts as online at the given instant.
func (p Presence) PresentAt(now time.Time) bool {
	return p.Online && now.Sub(p.LastSeen) <= PresenceStaleAfter
}

// Heartbeat carries one editing-session upsert.
type Heartbeat struct {
	BookID      int64
	UserID      int64
	SectionID   string
	SectionType string
	Cursor      json.RawMessage
}

// Ping carries one presence upsert.
type Ping struct {
	BookID    int64
	UserID    int64
	SectionID *string
	Metadata  json.RawMessage
}
