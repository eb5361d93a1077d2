package model

// MigrationStatus represents where a credential is in the legacy to
// enterprise re-encryption lifecycle.
type MigrationStatus string

const (
	StatusPending          MigrationStatus = "pending"
	StatusMigrated         MigrationStatus = "migrated"
	StatusFailed           MigrationStatus = "failed"
	StatusRevertedToLegacy MigrationStatus = "reverted_to_legacy"
)

// AllStatuses lists every MigrationStatus in a stable order.
var AllStatuses = []MigrationStatus{
	StatusPending,
	StatusMigrated,
	StatusFailed,
	StatusRevertedToLegacy,
}

// Valid reports whether s is one of the known statuses.
func (s MigrationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusMigrated, StatusFailed, StatusRevertedToLegacy:
		return true
	default:
		return false
	}
}

// KeyRef names the key a ciphertext is bound to.
type KeyRef string

const (
	KeyLegacy     KeyRef = "legacy"
	KeyEnterprise KeyRef = "enterprise"
)

// AuditAction identifies the kind of operation recorded in the audit log.
type AuditAction string

const (
	AuditActionRevert      AuditAction = "credential.revert"
	AuditActionBackfill    AuditAction = "backfill.batch"
	AuditActionRetryFailed AuditAction = "credential.retry_failed"
)
