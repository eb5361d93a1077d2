package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/fleetvault/internal/domain/model"
	"github.com/ericfisherdev/fleetvault/internal/domain/port/driven"
	"github.com/ericfisherdev/fleetvault/internal/metrics"
)

// MaxAuditLimit caps how many audit events one AuditTrail call returns.
const MaxAuditLimit = 1000

// Options tunes the migration service.
type Options struct {
	LockScope        LockScope
	DefaultBatchSize int
	CompareLegacy    bool
	StrictReadiness  bool
}

// MigrationService is the operation surface of the vault migration engine.
// It wires the engines to a single WriteGate so every mutating call obeys
// the same lock scope.
type MigrationService struct {
	store     driven.CredentialStore
	audit     driven.AuditLog
	gate      *WriteGate
	status    *StatusReporter
	backfill  *BackfillEngine
	validator *ValidationEngine
	rollback  *RollbackManager
	readiness *ReadinessGate

	defaultBatchSize int
}

// NewMigrationService creates a MigrationService with the required dependencies.
func NewMigrationService(store driven.CredentialStore, crypto driven.CryptoProvider, audit driven.AuditLog, opts Options) *MigrationService {
	gate := NewWriteGate(opts.LockScope)
	status := NewStatusReporter(store)
	validator := NewValidationEngine(store, crypto, opts.CompareLegacy)

	batch := opts.DefaultBatchSize
	if batch < 1 || batch > model.MaxBatchSize {
		batch = model.DefaultBatchSize
	}

	return &MigrationService{
		store:            store,
		audit:            audit,
		gate:             gate,
		status:           status,
		backfill:         NewBackfillEngine(store, crypto, audit, gate),
		validator:        validator,
		rollback:         NewRollbackManager(store, audit, gate),
		readiness:        NewReadinessGate(status, validator, opts.StrictReadiness),
		defaultBatchSize: batch,
	}
}

// DefaultBatchSize is the batch size used by callers that do not pick one.
func (s *MigrationService) DefaultBatchSize() int {
	return s.defaultBatchSize
}

// GetStatus returns the current migration aggregate.
func (s *MigrationService) GetStatus(ctx context.Context) (model.BackfillStatus, error) {
	return s.status.GetStatus(ctx)
}

// ExecuteBackfill migrates one batch of pending credentials.
func (s *MigrationService) ExecuteBackfill(ctx context.Context, batchSize int) (model.BackfillResult, error) {
	return s.backfill.ExecuteBackfill(ctx, batchSize)
}

// ValidateMigratedCredentials checks every migrated credential.
func (s *MigrationService) ValidateMigratedCredentials(ctx context.Context) (model.ValidationResult, error) {
	return s.validator.ValidateMigratedCredentials(ctx)
}

// RevertCredential reverts a single credential.
func (s *MigrationService) RevertCredential(ctx context.Context, id string, opts RevertOptions) error {
	return s.rollback.RevertCredential(ctx, id, opts)
}

// CanProceedWithCleanup reports whether legacy ciphertext may be purged.
func (s *MigrationService) CanProceedWithCleanup(ctx context.Context) (model.ReadinessReport, error) {
	return s.readiness.CanProceedWithCleanup(ctx)
}

// RetryFailed moves every failed credential back to pending under the
// whole-store lease and returns how many were re-queued.
func (s *MigrationService) RetryFailed(ctx context.Context, actor string) (int, error) {
	release, err := s.gate.AcquireStore()
	if err != nil {
		metrics.WriteGateBusyTotal.WithLabelValues("retry_failed").Inc()
		return 0, err
	}
	defer release()

	if actor == "" {
		actor = ActorFromContext(ctx)
	}
	workCtx := context.WithoutCancel(ctx)

	requeued, runErr := s.requeueFailed(ctx, workCtx)

	slog.Info("failed credentials re-queued", "count", requeued, "actor", actor)
	if requeued == 0 {
		return 0, runErr
	}

	err = s.audit.Append(workCtx, model.AuditEvent{
		Action: model.AuditActionRetryFailed,
		Actor:  actor,
		Detail: fmt.Sprintf("requeued=%d", requeued),
	})
	if err != nil && runErr == nil {
		runErr = fmt.Errorf("audit retry of failed credentials: %w", err)
	}
	return requeued, runErr
}

func (s *MigrationService) requeueFailed(ctx, workCtx context.Context) (int, error) {
	requeued := 0
	afterID := ""
	for {
		page, err := s.store.ScanByStatus(workCtx, model.StatusFailed, afterID, validationPageSize)
		if err != nil {
			return requeued, fmt.Errorf("scan failed credentials: %w", err)
		}

		for _, rec := range page {
			if err := ctx.Err(); err != nil {
				return requeued, err
			}

			err := s.store.UpdateRecord(workCtx, rec.ID, model.StatusFailed, model.Requeue())
			switch {
			case err == nil:
				requeued++
			case errors.Is(err, driven.ErrConflict), errors.Is(err, driven.ErrNotFound):
				slog.Warn("credential changed during retry", "credential_id", rec.ID, "error", err)
			default:
				return requeued, fmt.Errorf("requeue credential %s: %w", rec.ID, err)
			}
		}

		if len(page) < validationPageSize {
			return requeued, nil
		}
		afterID = page[len(page)-1].ID
	}
}

// AuditTrail returns up to limit audit events, newest first.
func (s *MigrationService) AuditTrail(ctx context.Context, limit int) ([]model.AuditEvent, error) {
	if limit < 1 || limit > MaxAuditLimit {
		return nil, fmt.Errorf("%w: audit limit %d outside [1, %d]", ErrInvalidArgument, limit, MaxAuditLimit)
	}
	events, err := s.audit.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return events, nil
}
