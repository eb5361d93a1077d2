// Package boltaudit keeps the audit trail in a standalone bbolt file so it
// survives independently of the credential database.
package boltaudit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/ericfisherdev/fleetvault/internal/domain/model"
	"github.com/ericfisherdev/fleetvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AuditLog = (*Store)(nil)

var bucketAudit = []byte("audit")

// storedEvent is the on-disk JSON shape of an audit event.
type storedEvent struct {
	ID           string    `json:"id"`
	Action       string    `json:"action"`
	CredentialID string    `json:"credential_id,omitempty"`
	Actor        string    `json:"actor"`
	Detail       string    `json:"detail,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Store implements driven.AuditLog on a single bbolt bucket. Keys are
// UUIDv7 strings, so cursor order is append order.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the audit file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open audit store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketAudit); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketAudit, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying bbolt file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores an event. An empty ID is replaced with a fresh UUIDv7 and a
// zero OccurredAt with the current time.
func (s *Store) Append(_ context.Context, event model.AuditEvent) error {
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

	data, err := json.Marshal(storedEvent{
		ID:           event.ID,
		Action:       string(event.Action),
		CredentialID: event.CredentialID,
		Actor:        event.Actor,
		Detail:       event.Detail,
		OccurredAt:   event.OccurredAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAudit).Put([]byte(event.ID), data)
	})
	if err != nil {
		return fmt.Errorf("append audit event %s: %w", event.Action, err)
	}
	return nil
}

// List walks the bucket backwards and returns up to limit events.
func (s *Store) List(_ context.Context, limit int) ([]model.AuditEvent, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("list audit events: limit must be positive, got %d", limit)
	}

	var events []model.AuditEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAudit).Cursor()
		for k, v := c.Last(); k != nil && len(events) < limit; k, v = c.Prev() {
			var se storedEvent
			if err := json.Unmarshal(v, &se); err != nil {
				return fmt.Errorf("unmarshal audit event %s: %w", k, err)
			}
			events = append(events, model.AuditEvent{
				ID:           se.ID,
				Action:       model.AuditAction(se.Action),
				CredentialID: se.CredentialID,
				Actor:        se.Actor,
				Detail:       se.Detail,
				OccurredAt:   se.OccurredAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return events, nil
}
