package books

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/inkwell-press/inkwell/internal/auth"
	"github.com/inkwell-press/inkwell/internal/collab"
	"github.com/inkwell-press/inkwell/internal/collaboration"
	"github.com/inkwell-press/inkwell/internal/platform/httpx"
)

// Store is the persistence contract the handler needs.
type Store interface {
	Get(ctx context.Context, id int64) (Book, error)
	ListByAuthor(ctx context.Context, authorID int64) ([]Book, error)
	Create(ctx context.Context, title string, authorID int64) (Book, error)
}

// RoleResolver answers what role an actor holds on a book. Satisfied by the
// collaboration service.
type RoleResolver interface {
	RoleOf(ctx context.Context, bookID int64, actor collaboration.Actor) (collab.Role, error)
}

// Handler serves the minimal book registry endpoints.
type Handler struct {
	logger   *slog.Logger
	store    Store
	roles    RoleResolver
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, store Store, roles RoleResolver) *Handler {
	return &Handler{logger: logger, store: store, roles: roles, validate: validator.New()}
}

// Routes mounts the book endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/books", h.ListMine)
	r.Post("/books", h.Create)
	r.Get("/books/{bookID}", h.Get)
}

func actorFrom(r *http.Request) (collaboration.Actor, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	return collaboration.Actor{ID: p.ID, Email: p.Email}, ok
}

// ListMine returns the books the caller authored, newest first.
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}

	list, err := h.store.ListByAuthor(r.Context(), actor.ID)
	if err != nil {
		h.logger.Error("list books failed", "error", err, "user_id", actor.ID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"books": list})
}

type createBookRequest struct {
	Title string `json:"title" validate:"required,max=200"`
}

// Create registers a new book with the caller as author.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}

	var req createBookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	book, err := h.store.Create(r.Context(), req.Title, actor.ID)
	if err != nil {
		h.logger.Error("create book failed", "error", err, "user_id", actor.ID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, book)
}

// Get returns a single book. The author always may read it; anyone else must
// hold a collaborator role on it.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	bookID, err := strconv.ParseInt(chi.URLParam(r, "bookID"), 10, 64)
	if err != nil || bookID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid book id")
		return
	}

	book, err := h.store.Get(r.Context(), bookID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if book.AuthorID != actor.ID {
		if _, err := h.roles.RoleOf(r.Context(), bookID, actor); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	httpx.JSON(w, http.StatusOK, book)
}
