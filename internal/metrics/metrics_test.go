package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/fleetvault/internal/domain/model"
)

func TestObserveStatus(t *testing.T) {
	ObserveStatus(model.BackfillStatus{
		TotalCredentials:    10,
		MigratedCredentials: 6,
		PendingCredentials:  2,
		FailedCredentials:   1,
		RevertedCredentials: 1,
	})

	assert.Equal(t, 6.0, testutil.ToFloat64(CredentialsByStatus.WithLabelValues("migrated")))
	assert.Equal(t, 2.0, testutil.ToFloat64(CredentialsByStatus.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(CredentialsByStatus.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(CredentialsByStatus.WithLabelValues("reverted_to_legacy")))
}

func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	BackfillBatchesTotal.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fleetvault_backfill_batches_total")
}
