package collaboration

import (
	"context"

	"github.com/inkwell-press/inkwell/internal/realtime"
)

// Notifier broadcasts book-scoped change events after successful mutations.
// realtime.Broker satisfies it; tests use realtime.FakeBroker.
type Notifier interface {
	Publish(ctx context.Context, bookID int64, table string) error
}

// Tables this package publishes changes for.
const (
	TableCollaborators = realtime.TableCollaborators
	TableInvitations   = realtime.TableInvitations
)
