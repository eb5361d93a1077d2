package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a status change is not one of the
// allowed lifecycle edges.
var ErrInvalidTransition = errors.New("invalid credential status transition")

// CredentialRecord is a single vault secret. LegacyCiphertext is written by
// the issuance path and is never removed here; EnterpriseCiphertext is set
// only while Status is StatusMigrated.
type CredentialRecord struct {
	ID                   string
	LegacyCiphertext     string
	EnterpriseCiphertext string
	Status               MigrationStatus
	LastError            string
	MigratedAt           *time.Time
	LastAttemptAt        *time.Time
	CreatedAt            time.Time
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to MigrationStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusMigrated || to == StatusFailed
	case StatusFailed:
		return to == StatusPending
	case StatusMigrated:
		return to == StatusPending || to == StatusRevertedToLegacy
	case StatusRevertedToLegacy:
		// Manual re-queue of a held revert.
		return to == StatusPending
	default:
		return false
	}
}

// Transition describes the full post-write state of a record's mutable
// fields. Construct one with MarkMigrated, MarkFailed, Requeue or Hold.
type Transition struct {
	To                   MigrationStatus
	EnterpriseCiphertext string
	LastError            string
	MigratedAt           *time.Time
	// AttemptedAt is nil when the transition does not come from a backfill
	// attempt; the stored last_attempt_at is then left unchanged.
	AttemptedAt *time.Time
}

// MarkMigrated records a successful re-encryption.
func MarkMigrated(enterpriseCiphertext string, at time.Time) Transition {
	at = at.UTC()
	return Transition{
		To:                   StatusMigrated,
		EnterpriseCiphertext: enterpriseCiphertext,
		MigratedAt:           &at,
		AttemptedAt:          &at,
	}
}

// MarkFailed records a per-record failure with its diagnostic.
func MarkFailed(reason string, at time.Time) Transition {
	at = at.UTC()
	return Transition{
		To:          StatusFailed,
		LastError:   reason,
		AttemptedAt: &at,
	}
}

// Requeue returns a record to pending so the next backfill selects it.
func Requeue() Transition {
	return Transition{To: StatusPending}
}

// Hold reverts a record to legacy-only storage and keeps it out of
// automatic backfill.
func Hold() Transition {
	return Transition{To: StatusRevertedToLegacy}
}

// Validate checks that the transition is an allowed edge from the given
// status and that the enterprise ciphertext is present exactly when the
// target status is StatusMigrated.
func (t Transition) Validate(from MigrationStatus) error {
	if !t.To.Valid() {
		return fmt.Errorf("%w: unknown target status %q", ErrInvalidTransition, t.To)
	}
	if !CanTransition(from, t.To) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, t.To)
	}

	switch t.To {
	case StatusMigrated:
		if t.EnterpriseCiphertext == "" || t.MigratedAt == nil {
			return fmt.Errorf("%w: migrated requires enterprise ciphertext and timestamp", ErrInvalidTransition)
		}
	case StatusFailed:
		if t.EnterpriseCiphertext != "" {
			return fmt.Errorf("%w: failed must not carry enterprise ciphertext", ErrInvalidTransition)
		}
	case StatusPending, StatusRevertedToLegacy:
		if t.EnterpriseCiphertext != "" || t.MigratedAt != nil {
			return fmt.Errorf("%w: %s must clear enterprise ciphertext", ErrInvalidTransition, t.To)
		}
	}

	return nil
}

// Apply returns a copy of r with the transition applied.
func (r CredentialRecord) Apply(t Transition) (CredentialRecord, error) {
	if err := t.Validate(r.Status); err != nil {
		return r, err
	}

	next := r
	next.Status = t.To
	next.EnterpriseCiphertext = t.EnterpriseCiphertext
	next.LastError = t.LastError
	next.MigratedAt = t.MigratedAt
	if t.AttemptedAt != nil {
		next.LastAttemptAt = t.AttemptedAt
	}
	return next, nil
}
