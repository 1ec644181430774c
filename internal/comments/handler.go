package comments

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/inkwell-press/inkwell/internal/auth"
	"github.com/inkwell-press/inkwell/internal/collaboration"
	"github.com/inkwell-press/inkwell/internal/platform/httpx"
)

// Handler serves the section comment endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	v := validator.New()
	_ = v.RegisterValidation("commentkind", func(fl validator.FieldLevel) bool {
		return Kind(fl.Field().String()).IsValid()
	})
	return &Handler{logger: logger, service: service, validate: v}
}

// Routes mounts the book-scoped comment endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/books/{bookID}/sections/{sectionID}/comments", h.List)
	r.Post("/books/{bookID}/sections/{sectionID}/comments", h.Create)
	r.Post("/books/{bookID}/comments/{id}/resolve", h.Resolve)
	r.Post("/books/{bookID}/comments/{id}/reopen", h.Reopen)
	r.Delete("/books/{bookID}/comments/{id}", h.Delete)
}

func actorFrom(r *http.Request) (collaboration.Actor, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	return collaboration.Actor{ID: p.ID, Email: p.Email}, ok
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

// List returns the section's comment threads.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	bookID, ok := pathID(r, "bookID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid book id")
		return
	}
	sectionID := chi.URLParam(r, "sectionID")

	threads, err := h.service.ListBySection(r.Context(), bookID, actor, sectionID)
	if err != nil {
		h.logger.Error("list comments failed", "error", err, "book_id", bookID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"comments": threads})
}

type createRequest struct {
	Kind        string `json:"kind" validate:"required,commentkind"`
	Body        string `json:"body" validate:"required,max=5000"`
	ParentID    *int64 `json:"parent_id"`
	OffsetStart *int   `json:"offset_start"`
	OffsetEnd   *int   `json:"offset_end"`
}

// Create adds a comment or reply to a section.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	bookID, ok := pathID(r, "bookID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid book id")
		return
	}
	sectionID := chi.URLParam(r, "sectionID")

	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	c, err := h.service.Create(r.Context(), actor, CreateInput{
		BookID:      bookID,
		SectionID:   sectionID,
		ParentID:    req.ParentID,
		Kind:        Kind(req.Kind),
		Body:        req.Body,
		OffsetStart: req.OffsetStart,
		OffsetEnd:   req.OffsetEnd,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

// Resolve marks a comment resolved.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, (*Service).Resolve)
}

// Reopen flips a resolved comment back to open.
func (h *Handler) Reopen(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, (*Service).Reopen)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, op func(*Service, context.Context, int64, collaboration.Actor, int64) (Comment, error)) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	bookID, ok := pathID(r, "bookID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid book id")
		return
	}
	commentID, ok := pathID(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid comment id")
		return
	}

	c, err := op(h.service, r.Context(), bookID, actor, commentID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

// Delete removes a comment and its replies.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	bookID, ok := pathID(r, "bookID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid book id")
		return
	}
	commentID, ok := pathID(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid comment id")
		return
	}

	if err := h.service.Delete(r.Context(), bookID, actor, commentID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
