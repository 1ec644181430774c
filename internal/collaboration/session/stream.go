package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/inkwell-press/inkwell/internal/auth"
	"github.com/inkwell-press/inkwell/internal/collaboration"
	"github.com/inkwell-press/inkwell/internal/platform/httpx"
)

const keepAliveInterval = 25 * time.Second

// StreamHandler serves per-book collaboration snapshots over SSE. Each
// connection runs its own Manager; convergence across connections comes from
// the shared change-notification channels.
type StreamHandler struct {
	store  Store
	subs   Subscriber
	logger *slog.Logger
}

func NewStreamHandler(store Store, subs Subscriber, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{store: store, subs: subs, logger: logger}
}

func (h *StreamHandler) Routes(r chi.Router) {
	r.Get("/books/{bookID}/collaboration/stream", h.Stream)
}

func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	bookID, err := strconv.ParseInt(chi.URLParam(r, "bookID"), 10, 64)
	if err != nil || bookID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid book id")
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "streaming unsupported")
		return
	}

	actor := collaboration.Actor{ID: principal.ID, Email: principal.Email}
	mgr := NewManager(h.store, h.subs, bookID, actor, h.logger)
	if err := mgr.Start(r.Context()); err != nil {
		httpx.RespondError(w, err)
		return
	}
	defer mgr.Close()

	snapshots, cancel := mgr.Watch()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSnapshot(w, mgr.Snapshot())
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, open := <-snapshots:
			if !open {
				return
			}
			writeSnapshot(w, snap)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

func writeSnapshot(w http.ResponseWriter, snap Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", payload)
}
