package application_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/fleetvault/internal/application"
	"github.com/ericfisherdev/fleetvault/internal/domain/model"
	"github.com/ericfisherdev/fleetvault/internal/domain/port/driven"
)

func TestRevertCredential_RequeuesByDefault(t *testing.T) {
	f := newFixture(t, application.Options{}, "sql-prod-01")
	ctx := context.Background()

	_, err := f.svc.ExecuteBackfill(ctx, 10)
	require.NoError(t, err)

	err = f.svc.RevertCredential(ctx, "sql-prod-01", application.RevertOptions{Actor: "dba-oncall"})
	require.NoError(t, err)

	rec := f.store.record("sql-prod-01")
	assert.Equal(t, model.StatusPending, rec.Status)
	assert.Empty(t, rec.EnterpriseCiphertext)
	assert.Nil(t, rec.MigratedAt)
	assert.Equal(t, sealed(model.KeyLegacy, "secret-sql-prod-01"), rec.LegacyCiphertext)

	events := f.audit.all()
	require.Len(t, events, 2)
	revert := events[1]
	assert.Equal(t, model.AuditActionRevert, revert.Action)
	assert.Equal(t, "sql-prod-01", revert.CredentialID)
	assert.Equal(t, "dba-oncall", revert.Actor)
	assert.Equal(t, "migrated -> pending", revert.Detail)
	assert.False(t, revert.OccurredAt.IsZero())
}

func TestRevertCredential_RoundTrip(t *testing.T) {
	f := newFixture(t, application.Options{}, "a", "b")
	ctx := context.Background()

	_, err := f.svc.ExecuteBackfill(ctx, 10)
	require.NoError(t, err)
	require.NoError(t, f.svc.RevertCredential(ctx, "a", application.RevertOptions{}))

	result, err := f.svc.ExecuteBackfill(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, model.StatusMigrated, f.store.status("a"))
}

func TestRevertCredential_HoldExcludesFromBackfill(t *testing.T) {
	f := newFixture(t, application.Options{}, "a")
	ctx := context.Background()

	_, err := f.svc.ExecuteBackfill(ctx, 10)
	require.NoError(t, err)
	require.NoError(t, f.svc.RevertCredential(ctx, "a", application.RevertOptions{Hold: true}))
	assert.Equal(t, model.StatusRevertedToLegacy, f.store.status("a"))

	result, err := f.svc.ExecuteBackfill(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)

	// Holding again is a no-op; a plain revert re-queues.
	require.NoError(t, f.svc.RevertCredential(ctx, "a", application.RevertOptions{Hold: true}))
	require.NoError(t, f.svc.RevertCredential(ctx, "a", application.RevertOptions{}))
	assert.Equal(t, model.StatusPending, f.store.status("a"))

	result, err = f.svc.ExecuteBackfill(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
}

func TestRevertCredential_FailedIsRequeued(t *testing.T) {
	f := newFixture(t, application.Options{})
	f.store.put(model.CredentialRecord{ID: "a", LegacyCiphertext: "corrupt", Status: model.StatusFailed, LastError: "bad tag"})

	require.NoError(t, f.svc.RevertCredential(context.Background(), "a", application.RevertOptions{}))
	rec := f.store.record("a")
	assert.Equal(t, model.StatusPending, rec.Status)
	assert.Empty(t, rec.LastError)
}

func TestRevertCredential_Errors(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		opts    application.RevertOptions
		record  *model.CredentialRecord
		wantErr error
	}{
		{
			name:    "empty id",
			id:      "  ",
			wantErr: application.ErrInvalidArgument,
		},
		{
			name:    "missing record",
			id:      "ghost",
			wantErr: driven.ErrNotFound,
		},
		{
			name:    "no legacy ciphertext",
			id:      "a",
			record:  &model.CredentialRecord{ID: "a", Status: model.StatusPending},
			wantErr: driven.ErrNotFound,
		},
		{
			name:    "hold a failed record",
			id:      "a",
			opts:    application.RevertOptions{Hold: true},
			record:  &model.CredentialRecord{ID: "a", LegacyCiphertext: "x", Status: model.StatusFailed},
			wantErr: model.ErrInvalidTransition,
		},
		{
			name:    "hold a pending record",
			id:      "a",
			opts:    application.RevertOptions{Hold: true},
			record:  &model.CredentialRecord{ID: "a", LegacyCiphertext: "x", Status: model.StatusPending},
			wantErr: model.ErrInvalidTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, application.Options{})
			if tt.record != nil {
				f.store.put(*tt.record)
			}

			err := f.svc.RevertCredential(context.Background(), tt.id, tt.opts)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, f.store.updateCount())
			assert.Empty(t, f.audit.all())
		})
	}
}

func TestRevertCredential_PendingIsNoop(t *testing.T) {
	f := newFixture(t, application.Options{}, "a")

	require.NoError(t, f.svc.RevertCredential(context.Background(), "a", application.RevertOptions{}))
	assert.Equal(t, 0, f.store.updateCount())
	assert.Empty(t, f.audit.all())
}

func TestRevertCredential_AuditFailureSurfaces(t *testing.T) {
	f := newFixture(t, application.Options{})
	putMigrated(f, "a", "s", "s")
	f.audit.appendErr = errDiskIO

	err := f.svc.RevertCredential(context.Background(), "a", application.RevertOptions{})
	assert.ErrorIs(t, err, errDiskIO)
	assert.Equal(t, model.StatusPending, f.store.status("a"), "the revert itself stands")
}

func TestRevertCredential_ActorFromContext(t *testing.T) {
	f := newFixture(t, application.Options{})
	putMigrated(f, "a", "s", "s")
	ctx := application.WithActor(context.Background(), "alice")

	require.NoError(t, f.svc.RevertCredential(ctx, "a", application.RevertOptions{}))
	events := f.audit.all()
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].Actor)
}
