package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/fleetvault/internal/domain/model"
	"github.com/ericfisherdev/fleetvault/internal/domain/port/driven"
	"github.com/ericfisherdev/fleetvault/internal/metrics"
)

// outcomeKind classifies what happened to one record in a batch.
type outcomeKind int

const (
	outcomeSucceeded outcomeKind = iota
	outcomeFailed
	outcomeSkipped
)

// recordOutcome is the per-record result folded into a BackfillResult.
type recordOutcome struct {
	id      string
	kind    outcomeKind
	message string
}

// fold adds the outcome to the running batch result.
func (o recordOutcome) fold(acc model.BackfillResult) model.BackfillResult {
	acc.Processed++
	switch o.kind {
	case outcomeSucceeded:
		acc.Succeeded++
	case outcomeFailed:
		acc.Failed++
		acc.Errors = append(acc.Errors, model.RecordError{ID: o.id, Message: o.message})
	case outcomeSkipped:
		acc.Skipped++
		acc.Errors = append(acc.Errors, model.RecordError{ID: o.id, Message: o.message})
	}
	return acc
}

// BackfillEngine re-encrypts pending credentials from the legacy key to the
// enterprise key, one bounded batch per call.
type BackfillEngine struct {
	store  driven.CredentialStore
	crypto driven.CryptoProvider
	audit  driven.AuditLog
	gate   *WriteGate
	now    func() time.Time
}

// NewBackfillEngine creates a BackfillEngine with the required dependencies.
func NewBackfillEngine(store driven.CredentialStore, crypto driven.CryptoProvider, audit driven.AuditLog, gate *WriteGate) *BackfillEngine {
	return &BackfillEngine{
		store:  store,
		crypto: crypto,
		audit:  audit,
		gate:   gate,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ExecuteBackfill migrates up to batchSize pending credentials in id order.
// Per-record crypto failures mark the record failed and never abort the
// batch. Each record is committed on its own, so a cancelled or failed call
// returns the partial result alongside the error.
func (e *BackfillEngine) ExecuteBackfill(ctx context.Context, batchSize int) (model.BackfillResult, error) {
	if batchSize < 1 || batchSize > model.MaxBatchSize {
		return model.BackfillResult{}, fmt.Errorf("%w: batch size %d outside [1, %d]", ErrInvalidArgument, batchSize, model.MaxBatchSize)
	}

	release, err := e.gate.AcquireStore()
	if err != nil {
		metrics.WriteGateBusyTotal.WithLabelValues("backfill").Inc()
		return model.BackfillResult{}, err
	}
	defer release()

	start := time.Now()
	result := model.BackfillResult{BatchSize: batchSize}

	records, err := e.store.ScanByStatus(ctx, model.StatusPending, "", batchSize)
	if err != nil {
		return result, fmt.Errorf("select pending credentials: %w", err)
	}

	// Per-record work runs to completion once started; cancellation is
	// honoured between records only.
	workCtx := context.WithoutCancel(ctx)

	var runErr error
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		outcome, err := e.migrateOne(workCtx, rec)
		if err != nil {
			runErr = fmt.Errorf("backfill credential %s: %w", rec.ID, err)
			break
		}
		result = outcome.fold(result)
	}

	e.finish(workCtx, result, len(records), time.Since(start), runErr)
	return result, runErr
}

// migrateOne processes a single pending record. A non-nil error means the
// store itself failed and the batch must stop.
func (e *BackfillEngine) migrateOne(ctx context.Context, rec model.CredentialRecord) (recordOutcome, error) {
	plaintext, err := e.crypto.Decrypt(ctx, rec.LegacyCiphertext, model.KeyLegacy)
	if err != nil {
		return e.commit(ctx, rec.ID, model.MarkFailed(fmt.Sprintf("decrypt legacy ciphertext: %v", err), e.now()))
	}

	ciphertext, err := e.crypto.Encrypt(ctx, plaintext, model.KeyEnterprise)
	clear(plaintext)
	if err != nil {
		return e.commit(ctx, rec.ID, model.MarkFailed(fmt.Sprintf("encrypt enterprise ciphertext: %v", err), e.now()))
	}

	return e.commit(ctx, rec.ID, model.MarkMigrated(ciphertext, e.now()))
}

// commit writes the transition conditioned on the record still being
// pending. A record that moved underneath the batch is skipped.
func (e *BackfillEngine) commit(ctx context.Context, id string, t model.Transition) (recordOutcome, error) {
	err := e.store.UpdateRecord(ctx, id, model.StatusPending, t)
	switch {
	case err == nil:
	case errors.Is(err, driven.ErrConflict), errors.Is(err, driven.ErrNotFound):
		slog.Warn("credential changed during backfill", "credential_id", id, "error", err)
		return recordOutcome{id: id, kind: outcomeSkipped, message: err.Error()}, nil
	default:
		return recordOutcome{}, err
	}

	switch t.To {
	case model.StatusMigrated:
		return recordOutcome{id: id, kind: outcomeSucceeded}, nil
	case model.StatusFailed:
		slog.Warn("credential migration failed", "credential_id", id, "error", t.LastError)
		return recordOutcome{id: id, kind: outcomeFailed, message: t.LastError}, nil
	default:
		return recordOutcome{}, fmt.Errorf("%w: backfill cannot commit %s", model.ErrInvalidTransition, t.To)
	}
}

func (e *BackfillEngine) finish(ctx context.Context, result model.BackfillResult, selected int, elapsed time.Duration, runErr error) {
	metrics.BackfillBatchesTotal.Inc()
	metrics.BackfillBatchDuration.Observe(elapsed.Seconds())
	metrics.BackfillRecordsTotal.WithLabelValues(metrics.OutcomeSucceeded).Add(float64(result.Succeeded))
	metrics.BackfillRecordsTotal.WithLabelValues(metrics.OutcomeFailed).Add(float64(result.Failed))
	metrics.BackfillRecordsTotal.WithLabelValues(metrics.OutcomeSkipped).Add(float64(result.Skipped))

	attrs := []any{
		"batch_size", result.BatchSize,
		"selected", selected,
		"processed", result.Processed,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"duration", elapsed.Round(time.Millisecond),
	}
	if runErr != nil {
		slog.Error("backfill batch stopped early", append(attrs, "error", runErr)...)
	} else {
		slog.Info("backfill batch complete", attrs...)
	}

	if selected == 0 {
		return
	}

	err := e.audit.Append(ctx, model.AuditEvent{
		Action: model.AuditActionBackfill,
		Actor:  ActorFromContext(ctx),
		Detail: fmt.Sprintf("processed=%d succeeded=%d failed=%d skipped=%d", result.Processed, result.Succeeded, result.Failed, result.Skipped),
	})
	if err != nil {
		slog.Error("failed to audit backfill batch", "error", err)
	}
}
