package application

import (
	"fmt"
	"sync"
)

// LockScope selects how finely the WriteGate partitions the credential store.
type LockScope string

const (
	// ScopeStore serializes every mutating operation against every other.
	ScopeStore LockScope = "store"
	// ScopeRecord lets reverts of different ids run side by side. Batch
	// operations still take the whole store.
	ScopeRecord LockScope = "record"
)

// ParseLockScope converts a configuration value into a LockScope.
func ParseLockScope(s string) (LockScope, error) {
	switch LockScope(s) {
	case ScopeStore, ScopeRecord:
		return LockScope(s), nil
	default:
		return "", fmt.Errorf("%w: unknown lock scope %q (want %q or %q)", ErrInvalidArgument, s, ScopeStore, ScopeRecord)
	}
}

// WriteGate is the single-writer discipline over the credential store.
// Acquisition never waits: a conflicting lease yields ErrBusy immediately.
type WriteGate struct {
	scope LockScope

	mu      sync.Mutex
	store   bool
	records map[string]struct{}
}

// NewWriteGate returns a gate with the given scope. An empty scope means
// ScopeStore.
func NewWriteGate(scope LockScope) *WriteGate {
	if scope == "" {
		scope = ScopeStore
	}
	return &WriteGate{
		scope:   scope,
		records: make(map[string]struct{}),
	}
}

// Scope reports the gate's lock scope.
func (g *WriteGate) Scope() LockScope {
	return g.scope
}

// AcquireStore takes the whole-store lease. It conflicts with any other
// lease. The returned release func is safe to call more than once.
func (g *WriteGate) AcquireStore() (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.store || len(g.records) > 0 {
		return nil, ErrBusy
	}
	g.store = true

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.store = false
			g.mu.Unlock()
		})
	}, nil
}

// AcquireRecord takes the lease needed to mutate a single credential. Under
// ScopeStore this is the whole-store lease.
func (g *WriteGate) AcquireRecord(id string) (func(), error) {
	if g.scope == ScopeStore {
		return g.AcquireStore()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.store {
		return nil, ErrBusy
	}
	if _, held := g.records[id]; held {
		return nil, ErrBusy
	}
	g.records[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.records, id)
			g.mu.Unlock()
		})
	}, nil
}
