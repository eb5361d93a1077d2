package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/fleetvault/internal/domain/model"
	"github.com/ericfisherdev/fleetvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AuditLog = (*AuditRepo)(nil)

// AuditRepo is the SQLite implementation of the AuditLog port interface.
// Rows are only ever inserted.
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates a new AuditRepo backed by the given DB.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Append inserts an audit event, assigning a UUIDv7 id and the current time
// when the caller left them empty.
func (r *AuditRepo) Append(ctx context.Context, event model.AuditEvent) error {
	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate audit id: %w", err)
		}
		event.ID = id.String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	const query = `INSERT INTO audit_log (id, action, credential_id, actor, detail, occurred_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.db.Writer.ExecContext(ctx, query,
		event.ID,
		string(event.Action),
		event.CredentialID,
		event.Actor,
		event.Detail,
		formatTime(event.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("append audit event %s: %w", event.Action, err)
	}
	return nil
}

// List returns up to limit events, newest first.
func (r *AuditRepo) List(ctx context.Context, limit int) ([]model.AuditEvent, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("list audit events: limit must be positive, got %d", limit)
	}

	const query = `SELECT id, action, credential_id, actor, detail, occurred_at FROM audit_log ORDER BY occurred_at DESC, id DESC LIMIT ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		var event model.AuditEvent
		var action, occurredAt string
		if err := rows.Scan(&event.ID, &action, &event.CredentialID, &event.Actor, &event.Detail, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Action = model.AuditAction(action)

		event.OccurredAt, err = parseTime(occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parse occurred_at for audit event %s: %w", event.ID, err)
		}

		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return events, nil
}
