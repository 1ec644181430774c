package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkwell-press/inkwell/internal/auth"
	"github.com/inkwell-press/inkwell/internal/books"
	"github.com/inkwell-press/inkwell/internal/collaboration"
	"github.com/inkwell-press/inkwell/internal/collaboration/session"
	"github.com/inkwell-press/inkwell/internal/comments"
	"github.com/inkwell-press/inkwell/internal/platform/httpx"
	"github.com/inkwell-press/inkwell/internal/presence"
	"github.com/inkwell-press/inkwell/internal/shared"
	"github.com/inkwell-press/inkwell/internal/users"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Pool           *pgxpool.Pool

	AuthHandler          *auth.Handler
	UsersHandler         *users.Handler
	BooksHandler         *books.Handler
	CollaborationHandler *collaboration.Handler
	PresenceHandler      *presence.Handler
	CommentsHandler      *comments.Handler
	StreamHandler        *session.StreamHandler
}

// NewRouter assembles the HTTP surface.
func NewRouter(params RouterParams) chi.Router {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
	}) {
		r.Use(mw)
	}

	r.Group(func(r chi.Router) {
		r.Use(RequestTimeout(params.Config))

		r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
			if params.Pool != nil {
				if err := params.Pool.Ping(req.Context()); err != nil {
					httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "database unreachable")
					return
				}
			}
			httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		if params.AuthHandler != nil {
			r.Post("/auth/login", params.AuthHandler.Login)
			r.Post("/auth/logout", params.AuthHandler.Logout)
			r.Get("/auth/csrf", func(w http.ResponseWriter, req *http.Request) {
				sess := shared.SessionFromContext(req.Context())
				if sess == nil {
					httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
					return
				}
				httpx.JSON(w, http.StatusOK, map[string]string{"token": params.CSRFManager.TokenFor(sess)})
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser)
			if params.UsersHandler != nil {
				params.UsersHandler.Routes(r)
			}
			if params.BooksHandler != nil {
				params.BooksHandler.Routes(r)
			}
			if params.CollaborationHandler != nil {
				params.CollaborationHandler.Routes(r)
			}
			if params.PresenceHandler != nil {
				params.PresenceHandler.Routes(r)
			}
			if params.CommentsHandler != nil {
				params.CommentsHandler.Routes(r)
			}
		})
	})

	// The SSE stream holds its connection open past any request deadline.
	if params.StreamHandler != nil {
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser)
			params.StreamHandler.Routes(r)
		})
	}

	return r
}
