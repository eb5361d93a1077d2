package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/fleetvault/internal/domain/model"
	"github.com/ericfisherdev/fleetvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port interface.
// Ciphertexts are stored as produced by the crypto provider; this adapter
// never sees plaintext.
type CredentialRepo struct {
	db *DB
}

// NewCredentialRepo creates a new CredentialRepo backed by the given DB.
func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

const credentialColumns = `id, legacy_ciphertext, enterprise_ciphertext, status, last_error, migrated_at, last_attempt_at, created_at`

// Insert stores a new credential record.
func (r *CredentialRepo) Insert(ctx context.Context, rec model.CredentialRecord) error {
	if rec.ID == "" {
		return errors.New("insert credential: empty id")
	}
	status := rec.Status
	if status == "" {
		status = model.StatusPending
	}
	if !status.Valid() {
		return fmt.Errorf("insert credential %q: unknown status %q", rec.ID, status)
	}
	if (status == model.StatusMigrated) != (rec.EnterpriseCiphertext != "") {
		return fmt.Errorf("insert credential %q: enterprise ciphertext must be set exactly when migrated", rec.ID)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const query = `INSERT INTO credentials (` + credentialColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.Writer.ExecContext(ctx, query,
		rec.ID,
		rec.LegacyCiphertext,
		nullString(rec.EnterpriseCiphertext),
		string(status),
		rec.LastError,
		nullTime(rec.MigratedAt),
		nullTime(rec.LastAttemptAt),
		formatTime(createdAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("insert credential %q: %w", rec.ID, driven.ErrAlreadyExists)
		}
		return fmt.Errorf("insert credential %q: %w", rec.ID, err)
	}
	return nil
}

// Get retrieves a credential by id. Returns nil, nil if it does not exist.
func (r *CredentialRepo) Get(ctx context.Context, id string) (*model.CredentialRecord, error) {
	const query = `SELECT ` + credentialColumns + ` FROM credentials WHERE id = ?`

	rec, err := scanCredential(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %q: %w", id, err)
	}
	return rec, nil
}

// ScanByStatus returns up to limit records in the given status with id
// greater than afterID, ordered by id ascending.
func (r *CredentialRepo) ScanByStatus(ctx context.Context, status model.MigrationStatus, afterID string, limit int) ([]model.CredentialRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("scan credentials: limit must be positive, got %d", limit)
	}

	const query = `SELECT ` + credentialColumns + ` FROM credentials WHERE status = ? AND id > ? ORDER BY id ASC LIMIT ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, string(status), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("scan %s credentials: %w", status, err)
	}
	defer rows.Close()

	var recs []model.CredentialRecord
	for rows.Next() {
		rec, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	return recs, nil
}

// Summarize computes the backfill status aggregate in a single query.
func (r *CredentialRepo) Summarize(ctx context.Context) (model.BackfillStatus, error) {
	const query = `SELECT
		COUNT(*),
		COALESCE(SUM(status = 'migrated'), 0),
		COALESCE(SUM(status = 'pending'), 0),
		COALESCE(SUM(status = 'failed'), 0),
		COALESCE(SUM(status = 'reverted_to_legacy'), 0),
		MAX(last_attempt_at)
	FROM credentials`

	var status model.BackfillStatus
	var lastRun sql.NullString
	err := r.db.Reader.QueryRowContext(ctx, query).Scan(
		&status.TotalCredentials,
		&status.MigratedCredentials,
		&status.PendingCredentials,
		&status.FailedCredentials,
		&status.RevertedCredentials,
		&lastRun,
	)
	if err != nil {
		return model.BackfillStatus{}, fmt.Errorf("summarize credentials: %w", err)
	}

	status.LastRunAt, err = parseNullTime(lastRun)
	if err != nil {
		return model.BackfillStatus{}, fmt.Errorf("parse last_attempt_at: %w", err)
	}

	return status, nil
}

// UpdateRecord applies t to the record only while it is still in the
// expected status. The check and the write happen in one statement.
func (r *CredentialRepo) UpdateRecord(ctx context.Context, id string, expected model.MigrationStatus, t model.Transition) error {
	if err := t.Validate(expected); err != nil {
		return fmt.Errorf("update credential %q: %w", id, err)
	}

	const query = `UPDATE credentials SET
		status = ?,
		enterprise_ciphertext = ?,
		last_error = ?,
		migrated_at = ?,
		last_attempt_at = COALESCE(?, last_attempt_at)
	WHERE id = ? AND status = ?`

	result, err := r.db.Writer.ExecContext(ctx, query,
		string(t.To),
		nullString(t.EnterpriseCiphertext),
		t.LastError,
		nullTime(t.MigratedAt),
		nullTime(t.AttemptedAt),
		id,
		string(expected),
	)
	if err != nil {
		return fmt.Errorf("update credential %q: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	// Probe on the writer so the answer reflects the write we just lost.
	var current string
	err = r.db.Writer.QueryRowContext(ctx, `SELECT status FROM credentials WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update credential %q: %w", id, driven.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("probe credential %q: %w", id, err)
	}
	return fmt.Errorf("update credential %q: expected %s, found %s: %w", id, expected, current, driven.ErrConflict)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(s scanner) (*model.CredentialRecord, error) {
	var rec model.CredentialRecord
	var enterprise, migratedAt, lastAttemptAt sql.NullString
	var status, createdAt string

	err := s.Scan(
		&rec.ID,
		&rec.LegacyCiphertext,
		&enterprise,
		&status,
		&rec.LastError,
		&migratedAt,
		&lastAttemptAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	rec.EnterpriseCiphertext = enterprise.String
	rec.Status = model.MigrationStatus(status)

	if rec.MigratedAt, err = parseNullTime(migratedAt); err != nil {
		return nil, fmt.Errorf("parse migrated_at: %w", err)
	}
	if rec.LastAttemptAt, err = parseNullTime(lastAttemptAt); err != nil {
		return nil, fmt.Errorf("parse last_attempt_at: %w", err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &rec, nil
}
