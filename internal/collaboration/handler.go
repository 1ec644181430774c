package collaboration

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/inkwell-press/inkwell/internal/auth"
	"github.com/inkwell-press/inkwell/internal/collab"
	"github.com/inkwell-press/inkwell/internal/platform/httpx"
)

// Handler serves the collaborator and invitation endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	v := validator.New()
	_ = v.RegisterValidation("collabrole", func(fl validator.FieldLevel) bool {
		return collab.Role(fl.Field().String()).IsValid()
	})
	return &Handler{logger: logger, service: service, validate: v}
}

// Routes mounts the book-scoped collaboration endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/books/{bookID}/collaborators", h.ListCollaborators)
	r.Patch("/books/{bookID}/collaborators/{id}", h.ChangeRole)
	r.Delete("/books/{bookID}/collaborators/{id}", h.Remove)
	r.Get("/books/{bookID}/invitations", h.ListInvitations)
	r.Post("/books/{bookID}/invitations", h.Invite)
	r.Delete("/books/{bookID}/invitations/{id}", h.Cancel)
	r.Get("/invitations", h.MyInvitations)
	r.Post("/invitations/{id}/accept", h.Accept)
	r.Post("/invitations/{id}/reject", h.Reject)
}

func actorFrom(r *http.Request) (Actor, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	return Actor{ID: p.ID, Email: p.Email}, ok
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id != 0
}

// ListCollaborators returns the book's collaborator list, virtual owner
// included.
func (h *Handler) ListCollaborators(w http.ResponseWriter, r *http.Request) {
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

	collaborators, err := h.service.ListCollaborators(r.Context(), bookID, actor)
	if err != nil {
		h.logger.Error("list collaborators failed", "error", err, "book_id", bookID)
		httpx.RespondError(w, err)
		return
	}

	views := make([]collaboratorView, len(collaborators))
	for i, c := range collaborators {
		views[i] = collaboratorView{
			Collaborator: c,
			RoleLabel:    collab.DisplayName(c.Role),
			RoleColor:    collab.Color(c.Role),
			Initials:     collab.Initials(c.UserName, c.UserEmail),
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"collaborators": views})
}

// collaboratorView augments a collaborator record with the display fields the
// UI renders on avatars and role badges.
type collaboratorView struct {
	Collaborator
	RoleLabel string `json:"role_label"`
	RoleColor string `json:"role_color"`
	Initials  string `json:"initials"`
}

type changeRoleRequest struct {
	Role string `json:"role" validate:"required,collabrole"`
}

// ChangeRole updates a collaborator's role and derived permissions.
func (h *Handler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	bookID, okBook := pathID(r, "bookID")
	id, okID := pathID(r, "id")
	if !okBook || !okID {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}

	var req changeRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	updated, err := h.service.ChangeCollaboratorRole(r.Context(), bookID, actor, id, collab.Role(req.Role))
	if err != nil {
		h.logger.Error("change collaborator role failed", "error", err, "collaborator_id", id)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

// Remove deletes a collaborator from the book.
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	bookID, okBook := pathID(r, "bookID")
	id, okID := pathID(r, "id")
	if !okBook || !okID {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}

	if err := h.service.RemoveCollaborator(r.Context(), bookID, actor, id); err != nil {
		h.logger.Error("remove collaborator failed", "error", err, "collaborator_id", id)
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type inviteRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Role    string `json:"role" validate:"required,collabrole"`
	Message string `json:"message" validate:"max=1000"`
}

// Invite creates a collaboration invitation.
func (h *Handler) Invite(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	bookID, okBook := pathID(r, "bookID")
	if !okBook {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid book id")
		return
	}

	var req inviteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	inv, err := h.service.InviteCollaborator(r.Context(), bookID, actor, req.Email, collab.Role(req.Role), req.Message)
	if err != nil {
		h.logger.Error("invite collaborator failed", "error", err, "book_id", bookID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

// ListInvitations returns a book's invitations, optionally filtered by
// stored status.
func (h *Handler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	bookID, okBook := pathID(r, "bookID")
	if !okBook {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid book id")
		return
	}

	var status *InvitationStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := InvitationStatus(raw)
		switch s {
		case InvitationPending, InvitationAccepted, InvitationRejected:
			status = &s
		default:
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "unknown status filter")
			return
		}
	}

	invitations, err := h.service.ListInvitations(r.Context(), bookID, actor, status)
	if err != nil {
		h.logger.Error("list invitations failed", "error", err, "book_id", bookID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invitations": invitations})
}

// MyInvitations returns the caller's pending, unexpired invitations.
func (h *Handler) MyInvitations(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	invitations, err := h.service.ListInvitationsForUser(r.Context(), actor)
	if err != nil {
		h.logger.Error("list user invitations failed", "error", err, "user_id", actor.ID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invitations": invitations})
}

// Accept accepts an invitation addressed to the caller.
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, InvitationAccepted)
}

// Reject declines an invitation addressed to the caller.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, InvitationRejected)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, decision InvitationStatus) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, okID := pathID(r, "id")
	if !okID {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invitation id")
		return
	}

	var (
		inv Invitation
		err error
	)
	if decision == InvitationAccepted {
		inv, err = h.service.AcceptInvitation(r.Context(), actor, id)
	} else {
		inv, err = h.service.RejectInvitation(r.Context(), actor, id)
	}
	if err != nil {
		h.logger.Error("respond to invitation failed", "error", err, "invitation_id", id)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

// Cancel retracts a still-pending invitation.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	bookID, okBook := pathID(r, "bookID")
	id, okID := pathID(r, "id")
	if !okBook || !okID {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}

	if err := h.service.CancelInvitation(r.Context(), bookID, actor, id); err != nil {
		h.logger.Error("cancel invitation failed", "error", err, "invitation_id", id)
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
