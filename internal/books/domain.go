package books

import "time"

// Book represents a book record for collaboration scoping. Content storage
// lives elsewhere; this service only needs identity and authorship.
type Book struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	AuthorID  int64     `json:"author_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
