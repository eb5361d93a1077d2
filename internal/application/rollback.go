package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ericfisherdev/fleetvault/internal/domain/model"
	"github.com/ericfisherdev/fleetvault/internal/domain/port/driven"
	"github.com/ericfisherdev/fleetvault/internal/metrics"
)

// RevertOptions controls a single credential revert.
type RevertOptions struct {
	// Actor is recorded in the audit entry. Empty means the context actor.
	Actor string
	// Hold parks a migrated credential in reverted_to_legacy so the next
	// backfill leaves it alone. Without Hold the credential is re-queued.
	Hold bool
}

// RollbackManager returns single credentials to legacy-only storage.
type RollbackManager struct {
	store driven.CredentialStore
	audit driven.AuditLog
	gate  *WriteGate
}

// NewRollbackManager creates a RollbackManager with the required dependencies.
func NewRollbackManager(store driven.CredentialStore, audit driven.AuditLog, gate *WriteGate) *RollbackManager {
	return &RollbackManager{
		store: store,
		audit: audit,
		gate:  gate,
	}
}

// RevertCredential clears the enterprise ciphertext of id and re-queues it,
// or holds it when opts.Hold is set. Reverting a credential that is already
// in the requested state succeeds without writing.
func (m *RollbackManager) RevertCredential(ctx context.Context, id string, opts RevertOptions) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: credential id is required", ErrInvalidArgument)
	}

	release, err := m.gate.AcquireRecord(id)
	if err != nil {
		metrics.WriteGateBusyTotal.WithLabelValues("revert").Inc()
		return err
	}
	defer release()

	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load credential %s: %w", id, err)
	}
	if rec == nil {
		return fmt.Errorf("credential %s: %w", id, driven.ErrNotFound)
	}
	if rec.LegacyCiphertext == "" {
		return fmt.Errorf("credential %s has no legacy ciphertext: %w", id, driven.ErrNotFound)
	}

	t, changed, err := revertTransition(rec.Status, opts.Hold)
	if err != nil {
		return fmt.Errorf("revert credential %s: %w", id, err)
	}
	if !changed {
		slog.Info("credential already reverted", "credential_id", id, "status", rec.Status)
		return nil
	}

	if err := m.store.UpdateRecord(ctx, id, rec.Status, t); err != nil {
		return fmt.Errorf("revert credential %s: %w", id, err)
	}
	metrics.RevertsTotal.WithLabelValues(string(t.To)).Inc()

	actor := opts.Actor
	if actor == "" {
		actor = ActorFromContext(ctx)
	}
	slog.Info("credential reverted",
		"credential_id", id,
		"from", rec.Status,
		"to", t.To,
		"actor", actor,
	)

	err = m.audit.Append(context.WithoutCancel(ctx), model.AuditEvent{
		Action:       model.AuditActionRevert,
		CredentialID: id,
		Actor:        actor,
		Detail:       fmt.Sprintf("%s -> %s", rec.Status, t.To),
	})
	if err != nil {
		return fmt.Errorf("audit revert of %s: %w", id, err)
	}
	return nil
}

// revertTransition picks the write for a revert from the given status. The
// bool is false when the record is already where the revert would put it.
func revertTransition(from model.MigrationStatus, hold bool) (model.Transition, bool, error) {
	switch from {
	case model.StatusMigrated:
		if hold {
			return model.Hold(), true, nil
		}
		return model.Requeue(), true, nil
	case model.StatusFailed:
		if hold {
			return model.Transition{}, false, fmt.Errorf("%w: a failed credential cannot be held", model.ErrInvalidTransition)
		}
		return model.Requeue(), true, nil
	case model.StatusRevertedToLegacy:
		if hold {
			return model.Transition{}, false, nil
		}
		return model.Requeue(), true, nil
	case model.StatusPending:
		if hold {
			return model.Transition{}, false, fmt.Errorf("%w: a pending credential cannot be held", model.ErrInvalidTransition)
		}
		return model.Transition{}, false, nil
	default:
		return model.Transition{}, false, fmt.Errorf("%w: unknown status %q", model.ErrInvalidTransition, from)
	}
}
