package users

import (
	"context"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/inkwell-press/inkwell/internal/auth"
	"github.com/inkwell-press/inkwell/internal/platform/httpx"
)

// Store is the persistence contract the handler needs.
type Store interface {
	Get(ctx context.Context, id int64) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
}

// Handler serves the user registry endpoints.
type Handler struct {
	logger *slog.Logger
	store  Store
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, store Store) *Handler {
	return &Handler{logger: logger, store: store}
}

// Routes mounts the user endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/me", h.Me)
	r.Get("/users/lookup", h.Lookup)
}

// Me returns the caller's own profile.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}

	user, err := h.store.Get(r.Context(), p.ID)
	if err != nil {
		h.logger.Error("load profile failed", "error", err, "user_id", p.ID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

// Lookup resolves an email address to an account, so invite forms can tell a
// registered collaborator from a pending-signup one.
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.PrincipalFromContext(r.Context()); !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if _, err := mail.ParseAddress(email); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid email address")
		return
	}

	user, err := h.store.FindByEmail(r.Context(), email)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":    user.ID,
		"email": user.Email,
		"name":  user.Name,
	})
}
