package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/fleetvault/internal/domain/model"
)

func TestWriteGate_StoreScope(t *testing.T) {
	g := NewWriteGate("")
	assert.Equal(t, ScopeStore, g.Scope())

	release, err := g.AcquireRecord("a")
	require.NoError(t, err)

	_, err = g.AcquireRecord("b")
	assert.ErrorIs(t, err, ErrBusy, "store scope serializes unrelated records")
	_, err = g.AcquireStore()
	assert.ErrorIs(t, err, ErrBusy)

	release()
	release()

	release, err = g.AcquireStore()
	require.NoError(t, err)
	release()
}

func TestWriteGate_RecordScope(t *testing.T) {
	g := NewWriteGate(ScopeRecord)

	releaseA, err := g.AcquireRecord("a")
	require.NoError(t, err)
	releaseB, err := g.AcquireRecord("b")
	require.NoError(t, err, "different ids do not conflict")

	_, err = g.AcquireRecord("a")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = g.AcquireStore()
	assert.ErrorIs(t, err, ErrBusy, "batch lease conflicts with held record leases")

	releaseA()
	releaseB()

	releaseStore, err := g.AcquireStore()
	require.NoError(t, err)
	_, err = g.AcquireRecord("a")
	assert.ErrorIs(t, err, ErrBusy)
	releaseStore()

	_, err = g.AcquireRecord("a")
	assert.NoError(t, err)
}

func TestParseLockScope(t *testing.T) {
	scope, err := ParseLockScope("record")
	require.NoError(t, err)
	assert.Equal(t, ScopeRecord, scope)

	_, err = ParseLockScope("row")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRecordOutcomeFold(t *testing.T) {
	outcomes := []recordOutcome{
		{id: "a", kind: outcomeSucceeded},
		{id: "b", kind: outcomeFailed, message: "bad tag"},
		{id: "c", kind: outcomeSkipped, message: "conflict"},
		{id: "d", kind: outcomeSucceeded},
	}

	acc := model.BackfillResult{BatchSize: 4}
	for _, o := range outcomes {
		acc = o.fold(acc)
	}

	assert.Equal(t, 4, acc.Processed)
	assert.Equal(t, 2, acc.Succeeded)
	assert.Equal(t, 1, acc.Failed)
	assert.Equal(t, 1, acc.Skipped)
	assert.Equal(t, acc.Processed, acc.Succeeded+acc.Failed+acc.Skipped)
	assert.Equal(t, []model.RecordError{{ID: "b", Message: "bad tag"}, {ID: "c", Message: "conflict"}}, acc.Errors)
}

func TestRevertTransition(t *testing.T) {
	tests := []struct {
		from        model.MigrationStatus
		hold        bool
		wantTo      model.MigrationStatus
		wantChanged bool
		wantErr     bool
	}{
		{from: model.StatusMigrated, wantTo: model.StatusPending, wantChanged: true},
		{from: model.StatusMigrated, hold: true, wantTo: model.StatusRevertedToLegacy, wantChanged: true},
		{from: model.StatusFailed, wantTo: model.StatusPending, wantChanged: true},
		{from: model.StatusFailed, hold: true, wantErr: true},
		{from: model.StatusRevertedToLegacy, wantTo: model.StatusPending, wantChanged: true},
		{from: model.StatusRevertedToLegacy, hold: true},
		{from: model.StatusPending},
		{from: model.StatusPending, hold: true, wantErr: true},
		{from: "archived", wantErr: true},
	}

	for _, tt := range tests {
		tr, changed, err := revertTransition(tt.from, tt.hold)
		if tt.wantErr {
			assert.ErrorIs(t, err, model.ErrInvalidTransition, "%s hold=%v", tt.from, tt.hold)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.wantChanged, changed, "%s hold=%v", tt.from, tt.hold)
		if changed {
			assert.Equal(t, tt.wantTo, tr.To)
			assert.NoError(t, tr.Validate(tt.from))
		}
	}
}

func TestActorFromContext(t *testing.T) {
	assert.Equal(t, SystemActor, ActorFromContext(context.Background()))
	assert.Equal(t, "alice", ActorFromContext(WithActor(context.Background(), "alice")))
	assert.Equal(t, SystemActor, ActorFromContext(WithActor(context.Background(), "")))
}
