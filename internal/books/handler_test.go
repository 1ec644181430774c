package books_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-press/inkwell/internal/auth"
	"github.com/inkwell-press/inkwell/internal/books"
	"github.com/inkwell-press/inkwell/internal/collab"
	"github.com/inkwell-press/inkwell/internal/collaboration"
	"github.com/inkwell-press/inkwell/internal/shared"
	_ "github.com/inkwell-press/inkwell/testing"
)

type stubStore struct {
	nextID int64
	items  map[int64]books.Book
}

func newStubStore() *stubStore {
	return &stubStore{nextID: 1, items: map[int64]books.Book{}}
}

func (s *stubStore) Get(_ context.Context, id int64) (books.Book, error) {
	b, ok := s.items[id]
	if !ok {
		return books.Book{}, fmt.Errorf("books: %w", shared.ErrNotFound)
	}
	return b, nil
}

func (s *stubStore) ListByAuthor(_ context.Context, authorID int64) ([]books.Book, error) {
	var out []books.Book
	for _, b := range s.items {
		if b.AuthorID == authorID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *stubStore) Create(_ context.Context, title string, authorID int64) (books.Book, error) {
	b := books.Book{ID: s.nextID, Title: title, AuthorID: authorID, Status: "draft", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	s.items[b.ID] = b
	s.nextID++
	return b, nil
}

// stubRoles grants a fixed role to a single user and denies everyone else.
type stubRoles struct {
	userID int64
	role   collab.Role
}

func (s stubRoles) RoleOf(_ context.Context, bookID int64, actor collaboration.Actor) (collab.Role, error) {
	if actor.ID == s.userID {
		return s.role, nil
	}
	return "", fmt.Errorf("collaboration: user %d has no access to book %d: %w", actor.ID, bookID, shared.ErrForbidden)
}

func newBooksServer(t *testing.T, store *stubStore, roles books.RoleResolver, principal auth.Principal) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := auth.ContextWithPrincipal(req.Context(), principal)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	books.NewHandler(logger, store, roles).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doReq(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func TestCreateAndListBooks(t *testing.T) {
	store := newStubStore()
	srv := newBooksServer(t, store, stubRoles{}, auth.Principal{ID: 7, Email: "a@example.com"})

	res := doReq(t, http.MethodPost, srv.URL+"/books", `{"title":"The Salt Road"}`)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var created books.Book
	require.NoError(t, json.NewDecoder(res.Body).Decode(&created))
	assert.Equal(t, "The Salt Road", created.Title)
	assert.Equal(t, int64(7), created.AuthorID)

	res = doReq(t, http.MethodGet, srv.URL+"/books", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var payload struct {
		Books []books.Book `json:"books"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	require.Len(t, payload.Books, 1)
}

func TestCreateBookValidation(t *testing.T) {
	srv := newBooksServer(t, newStubStore(), stubRoles{}, auth.Principal{ID: 7})

	res := doReq(t, http.MethodPost, srv.URL+"/books", `{"title":""}`)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestGetBookRequiresStanding(t *testing.T) {
	store := newStubStore()
	store.items[1] = books.Book{ID: 1, Title: "Field Notes", AuthorID: 3}

	// The author reads without a collaborator row.
	srv := newBooksServer(t, store, stubRoles{}, auth.Principal{ID: 3})
	res := doReq(t, http.MethodGet, srv.URL+"/books/1", "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	// A collaborator reads through their role.
	srv = newBooksServer(t, store, stubRoles{userID: 9, role: collab.RoleViewer}, auth.Principal{ID: 9})
	res = doReq(t, http.MethodGet, srv.URL+"/books/1", "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	// Everyone else is refused.
	srv = newBooksServer(t, store, stubRoles{}, auth.Principal{ID: 11})
	res = doReq(t, http.MethodGet, srv.URL+"/books/1", "")
	require.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestGetBookNotFound(t *testing.T) {
	srv := newBooksServer(t, newStubStore(), stubRoles{}, auth.Principal{ID: 3})
	res := doReq(t, http.MethodGet, srv.URL+"/books/42", "")
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}
