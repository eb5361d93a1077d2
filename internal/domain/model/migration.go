package model

import "time"

// MaxBatchSize is the largest batch a single backfill call may process.
const MaxBatchSize = 1000

// DefaultBatchSize is used when a caller does not specify a batch size.
const DefaultBatchSize = 100

// RecordError is a per-record diagnostic reported by a backfill batch.
type RecordError struct {
	ID      string
	Message string
}

// BackfillResult summarizes one batch execution. It is never persisted.
// Processed equals Succeeded + Failed + Skipped.
type BackfillResult struct {
	BatchSize int
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
	Errors    []RecordError
}

// BackfillStatus is an aggregate derived from the credential records on
// every read.
type BackfillStatus struct {
	TotalCredentials    int
	MigratedCredentials int
	PendingCredentials  int
	FailedCredentials   int
	RevertedCredentials int
	LastRunAt           *time.Time
}

// ValidationResult is the outcome of one validation sweep.
type ValidationResult struct {
	TotalChecked         int
	InvalidCount         int
	AllValid             bool
	InvalidCredentialIDs []string
}

// ReadinessReport is the go/no-go decision for the cleanup phase.
type ReadinessReport struct {
	CanProceed bool
	Status     BackfillStatus
	Validation ValidationResult
	Blockers   []string
}

// AuditEvent is one append-only audit entry.
type AuditEvent struct {
	ID           string
	Action       AuditAction
	CredentialID string // Empty for batch-level events.
	Actor        string
	Detail       string
	OccurredAt   time.Time
}
