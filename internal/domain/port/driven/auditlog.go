package driven

import (
	"context"

	"github.com/ericfisherdev/fleetvault/internal/domain/model"
)

// AuditLog is the append-only sink for revert and backfill actions.
type AuditLog interface {
	// Append records an event. Implementations assign ID and OccurredAt when
	// they are empty.
	Append(ctx context.Context, event model.AuditEvent) error

	// List returns up to limit events, newest first.
	List(ctx context.Context, limit int) ([]model.AuditEvent, error)
}
