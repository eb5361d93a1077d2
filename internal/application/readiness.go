package application

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/fleetvault/internal/domain/model"
	"github.com/ericfisherdev/fleetvault/internal/domain/port/driven"
	"github.com/ericfisherdev/fleetvault/internal/metrics"
)

// StatusReporter derives the migration aggregate from the store on every read.
type StatusReporter struct {
	store driven.CredentialStore
}

// NewStatusReporter creates a StatusReporter backed by store.
func NewStatusReporter(store driven.CredentialStore) *StatusReporter {
	return &StatusReporter{store: store}
}

// GetStatus returns per-status counts and the time of the last backfill
// attempt.
func (r *StatusReporter) GetStatus(ctx context.Context) (model.BackfillStatus, error) {
	status, err := r.store.Summarize(ctx)
	if err != nil {
		return model.BackfillStatus{}, fmt.Errorf("summarize credentials: %w", err)
	}
	metrics.ObserveStatus(status)
	return status, nil
}

// ReadinessGate decides whether the legacy-ciphertext cleanup may start.
type ReadinessGate struct {
	status    *StatusReporter
	validator *ValidationEngine
	strict    bool
}

// NewReadinessGate creates a ReadinessGate. In strict mode failed and held
// credentials block cleanup too.
func NewReadinessGate(status *StatusReporter, validator *ValidationEngine, strict bool) *ReadinessGate {
	return &ReadinessGate{
		status:    status,
		validator: validator,
		strict:    strict,
	}
}

// CanProceedWithCleanup recomputes status and validation and reports every
// reason cleanup must wait.
func (g *ReadinessGate) CanProceedWithCleanup(ctx context.Context) (model.ReadinessReport, error) {
	status, err := g.status.GetStatus(ctx)
	if err != nil {
		return model.ReadinessReport{}, err
	}

	validation, err := g.validator.ValidateMigratedCredentials(ctx)
	if err != nil {
		return model.ReadinessReport{}, err
	}

	report := model.ReadinessReport{
		Status:     status,
		Validation: validation,
		Blockers:   []string{},
	}

	if status.PendingCredentials > 0 {
		report.Blockers = append(report.Blockers, fmt.Sprintf("%d credential(s) still pending migration", status.PendingCredentials))
	}
	if !validation.AllValid {
		report.Blockers = append(report.Blockers, fmt.Sprintf("%d migrated credential(s) failed validation", validation.InvalidCount))
	}
	if g.strict {
		if status.FailedCredentials > 0 {
			report.Blockers = append(report.Blockers, fmt.Sprintf("%d credential(s) failed migration", status.FailedCredentials))
		}
		if status.RevertedCredentials > 0 {
			report.Blockers = append(report.Blockers, fmt.Sprintf("%d credential(s) held on legacy encryption", status.RevertedCredentials))
		}
	}

	report.CanProceed = len(report.Blockers) == 0
	return report, nil
}
