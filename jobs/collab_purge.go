package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/inkwell-press/inkwell/internal/presence"
)

// PresencePurger is the slice of the presence service the purge jobs use.
type PresencePurger interface {
	PurgeStaleSessions(ctx context.Context) (int64, error)
	PurgeStalePresence(ctx context.Context) (int64, error)
}

// PurgeHandlers adapts the presence service to Asynq handlers. Purging is
// maintenance only: reads already exclude stale rows, and invitation state is
// never touched here.
type PurgeHandlers struct {
	service PresencePurger
	logger  *slog.Logger
}

// NewPurgeHandlers constructs PurgeHandlers.
func NewPurgeHandlers(service PresencePurger, logger *slog.Logger) *PurgeHandlers {
	return &PurgeHandlers{service: service, logger: logger}
}

// HandlePurgeSessions processes TaskPurgeSessions tasks.
func (h *PurgeHandlers) HandlePurgeSessions(ctx context.Context, _ *asynq.Task) error {
	n, err := h.service.PurgeStaleSessions(ctx)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("purge editing sessions", slog.Any("error", err))
		}
		return err
	}
	if h.logger != nil && n > 0 {
		h.logger.Info("purged editing sessions", slog.Int64("rows", n), slog.String("job", TaskPurgeSessions))
	}
	return nil
}

// HandlePurgePresence processes TaskPurgePresence tasks.
func (h *PurgeHandlers) HandlePurgePresence(ctx context.Context, _ *asynq.Task) error {
	n, err := h.service.PurgeStalePresence(ctx)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("purge presence", slog.Any("error", err))
		}
		return err
	}
	if h.logger != nil && n > 0 {
		h.logger.Info("purged presence", slog.Int64("rows", n), slog.String("job", TaskPurgePresence))
	}
	return nil
}

var _ PresencePurger = (*presence.Service)(nil)
