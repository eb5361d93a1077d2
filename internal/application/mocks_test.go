package application_test

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/fleetvault/internal/domain/model"
	"github.com/ericfisherdev/fleetvault/internal/domain/port/driven"
)

// --- Mock implementations ---

// mockStore is an in-memory CredentialStore with the same conditional-write
// contract as the SQLite adapter.
type mockStore struct {
	mu      sync.Mutex
	records map[string]model.CredentialRecord

	scanErr   error
	updateErr map[string]error
	updates   int
}

func newMockStore() *mockStore {
	return &mockStore{
		records:   make(map[string]model.CredentialRecord),
		updateErr: make(map[string]error),
	}
}

func (m *mockStore) Insert(_ context.Context, rec model.CredentialRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return driven.ErrAlreadyExists
	}
	if rec.Status == "" {
		rec.Status = model.StatusPending
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *mockStore) Get(_ context.Context, id string) (*model.CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *mockStore) ScanByStatus(_ context.Context, status model.MigrationStatus, afterID string, limit int) ([]model.CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scanErr != nil {
		return nil, m.scanErr
	}

	var out []model.CredentialRecord
	for _, rec := range m.records {
		if rec.Status == status && rec.ID > afterID {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b model.CredentialRecord) int { return strings.Compare(a.ID, b.ID) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) Summarize(_ context.Context) (model.BackfillStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s model.BackfillStatus
	for _, rec := range m.records {
		s.TotalCredentials++
		switch rec.Status {
		case model.StatusPending:
			s.PendingCredentials++
		case model.StatusMigrated:
			s.MigratedCredentials++
		case model.StatusFailed:
			s.FailedCredentials++
		case model.StatusRevertedToLegacy:
			s.RevertedCredentials++
		}
		if rec.LastAttemptAt != nil && (s.LastRunAt == nil || rec.LastAttemptAt.After(*s.LastRunAt)) {
			at := *rec.LastAttemptAt
			s.LastRunAt = &at
		}
	}
	return s, nil
}

func (m *mockStore) UpdateRecord(ctx context.Context, id string, expected model.MigrationStatus, t model.Transition) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateErr[id]; err != nil {
		return err
	}

	rec, ok := m.records[id]
	if !ok {
		return driven.ErrNotFound
	}
	if rec.Status != expected {
		return fmt.Errorf("credential %s is %s, expected %s: %w", id, rec.Status, expected, driven.ErrConflict)
	}
	next, err := rec.Apply(t)
	if err != nil {
		return err
	}
	m.records[id] = next
	m.updates++
	return nil
}

// put overwrites a record directly, bypassing the transition rules.
func (m *mockStore) put(rec model.CredentialRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
}

func (m *mockStore) status(id string) model.MigrationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id].Status
}

func (m *mockStore) record(id string) model.CredentialRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id]
}

func (m *mockStore) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

// mockCrypto encodes ciphertext as "<key>:<hex plaintext>". Anything else
// fails to decrypt with driven.ErrCrypto.
type mockCrypto struct {
	mu         sync.Mutex
	encryptErr error
	// onDecrypt runs before every decrypt; used to block or interleave.
	onDecrypt func(ciphertext string, key model.KeyRef)
	decrypts  int
}

func (m *mockCrypto) Encrypt(_ context.Context, plaintext []byte, key model.KeyRef) (string, error) {
	m.mu.Lock()
	err := m.encryptErr
	m.mu.Unlock()
	if err != nil {
		return "", err
	}
	return string(key) + ":" + hex.EncodeToString(plaintext), nil
}

func (m *mockCrypto) Decrypt(_ context.Context, ciphertext string, key model.KeyRef) ([]byte, error) {
	m.mu.Lock()
	m.decrypts++
	hook := m.onDecrypt
	m.mu.Unlock()
	if hook != nil {
		hook(ciphertext, key)
	}

	encoded, ok := strings.CutPrefix(ciphertext, string(key)+":")
	if !ok {
		return nil, fmt.Errorf("%w: ciphertext not sealed under %s", driven.ErrCrypto, key)
	}
	plaintext, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", driven.ErrCrypto, err)
	}
	return plaintext, nil
}

func (m *mockCrypto) setOnDecrypt(fn func(ciphertext string, key model.KeyRef)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDecrypt = fn
}

func sealed(key model.KeyRef, plaintext string) string {
	return string(key) + ":" + hex.EncodeToString([]byte(plaintext))
}

type mockAudit struct {
	mu        sync.Mutex
	events    []model.AuditEvent
	appendErr error
}

func (m *mockAudit) Append(_ context.Context, event model.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	m.events = append(m.events, event)
	return nil
}

func (m *mockAudit) List(_ context.Context, limit int) ([]model.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.events)
	slices.Reverse(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockAudit) all() []model.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events)
}

var errDiskIO = errors.New("disk I/O error")
