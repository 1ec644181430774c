package presence

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/inkwell-press/inkwell/internal/auth"
	"github.com/inkwell-press/inkwell/internal/collaboration"
	"github.com/inkwell-press/inkwell/internal/platform/httpx"
)

// Handler serves editing-session and presence endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// Routes mounts the book-scoped presence endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/books/{bookID}/sessions", h.ActiveSessions)
	r.Put("/books/{bookID}/sessions/{sectionID}", h.Heartbeat)
	r.Delete("/books/{bookID}/sessions/{sectionID}", h.EndEditing)
	r.Get("/books/{bookID}/presence", h.Present)
	r.Put("/books/{bookID}/presence", h.Ping)
	r.Delete("/books/{bookID}/presence", h.Disconnect)
}

func actorFrom(r *http.Request) (collaboration.Actor, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	return collaboration.Actor{ID: p.ID, Email: p.Email}, ok
}

func bookIDFrom(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "bookID"), 10, 64)
	return id, err == nil && id > 0
}

// ActiveSessions lists non-stale editing sessions for the book.
func (h *Handler) ActiveSessions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	bookID, ok := bookIDFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid book id")
		return
	}

	sessions, err := h.service.ActiveSessions(r.Context(), bookID, actor)
	if err != nil {
		h.logger.Error("list editing sessions failed", "error", err, "book_id", bookID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

type heartbeatRequest struct {
	SectionType string          `json:"section_type" validate:"required,max=64"`
	Cursor      json.RawMessage `json:"cursor"`
}

// Heartbeat upserts the caller's editing session on a section.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	bookID, ok := bookIDFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid book id")
		return
	}
	sectionID := chi.URLParam(r, "sectionID")
	if sectionID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid section id")
		return
	}

	var req heartbeatRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	session, err := h.service.Heartbeat(r.Context(), actor, Heartbeat{
		BookID:      bookID,
		SectionID:   sectionID,
		SectionType: req.SectionType,
		Cursor:      req.Cursor,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, session)
}

// EndEditing removes the caller's editing session on a section.
func (h *Handler) EndEditing(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	bookID, ok := bookIDFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid book id")
		return
	}
	sectionID := chi.URLParam(r, "sectionID")
	if sectionID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid section id")
		return
	}

	if err := h.service.EndEditing(r.Context(), bookID, actor, sectionID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Present lists users currently online in the book.
func (h *Handler) Present(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	bookID, ok := bookIDFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid book id")
		return
	}

	present, err := h.service.Present(r.Context(), bookID, actor)
	if err != nil {
		h.logger.Error("list presence failed", "error", err, "book_id", bookID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"presence": present})
}

type pingRequest struct {
	SectionID *string         `json:"section_id" validate:"omitempty,max=64"`
	Metadata  json.RawMessage `json:"metadata"`
}

// Ping marks the caller online in the book.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	bookID, ok := bookIDFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid book id")
		return
	}

	var req pingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	p, err := h.service.Ping(r.Context(), actor, Ping{
		BookID:    bookID,
		SectionID: req.SectionID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

// Disconnect marks the caller offline in the book.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	bookID, ok := bookIDFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid book id")
		return
	}

	if err := h.service.Disconnect(r.Context(), bookID, actor); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
