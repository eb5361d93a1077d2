package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/fleetvault/internal/domain/model"
)

// Sentinel errors returned by CredentialStore implementations.
var (
	// ErrNotFound indicates the requested credential does not exist.
	ErrNotFound = errors.New("credential not found")

	// ErrConflict indicates a conditional write found the record in a
	// different status than expected.
	ErrConflict = errors.New("credential status changed concurrently")

	// ErrAlreadyExists indicates a credential with the same id already exists.
	ErrAlreadyExists = errors.New("credential already exists")
)

// CredentialStore defines the driven port for credential record persistence.
// Ciphertexts cross this boundary opaque; the store never encrypts or decrypts.
type CredentialStore interface {
	// Insert stores a new record. Used by the issuance path and tests.
	// Returns ErrAlreadyExists on a duplicate id.
	Insert(ctx context.Context, rec model.CredentialRecord) error

	// Get returns the record with the given id, or (nil, nil) if absent.
	Get(ctx context.Context, id string) (*model.CredentialRecord, error)

	// ScanByStatus returns up to limit records in the given status whose id
	// sorts after afterID, ordered by id ascending. An empty afterID starts
	// from the beginning.
	ScanByStatus(ctx context.Context, status model.MigrationStatus, afterID string, limit int) ([]model.CredentialRecord, error)

	// Summarize computes the aggregate status over all records.
	Summarize(ctx context.Context) (model.BackfillStatus, error)

	// UpdateRecord applies t to the record with the given id only if its
	// current status equals expected. Returns ErrNotFound if the record does
	// not exist and ErrConflict if its status differs.
	UpdateRecord(ctx context.Context, id string, expected model.MigrationStatus, t model.Transition) error
}
