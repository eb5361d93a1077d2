// Package metrics exposes the Prometheus collectors for the migration engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericfisherdev/fleetvault/internal/domain/model"
)

// Backfill outcome label values.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

var (
	BackfillRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetvault_backfill_records_total",
			Help: "Credentials processed by backfill, by outcome",
		},
		[]string{"outcome"},
	)

	BackfillBatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetvault_backfill_batches_total",
			Help: "Total number of backfill batches executed",
		},
	)

	BackfillBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetvault_backfill_batch_duration_seconds",
			Help:    "Wall time of a single backfill batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	ValidationInvalid = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetvault_validation_invalid_credentials",
			Help: "Migrated credentials that failed the most recent validation sweep",
		},
	)

	CredentialsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetvault_credentials",
			Help: "Credentials by migration status as of the last status read",
		},
		[]string{"status"},
	)

	RevertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetvault_reverts_total",
			Help: "Credential reverts, by target status",
		},
		[]string{"target"},
	)

	WriteGateBusyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetvault_write_gate_busy_total",
			Help: "Operations rejected because a conflicting write was in progress",
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(
		BackfillRecordsTotal,
		BackfillBatchesTotal,
		BackfillBatchDuration,
		ValidationInvalid,
		CredentialsByStatus,
		RevertsTotal,
		WriteGateBusyTotal,
	)
}

// ObserveStatus publishes the per-status gauges from an aggregate.
func ObserveStatus(s model.BackfillStatus) {
	CredentialsByStatus.WithLabelValues(string(model.StatusPending)).Set(float64(s.PendingCredentials))
	CredentialsByStatus.WithLabelValues(string(model.StatusMigrated)).Set(float64(s.MigratedCredentials))
	CredentialsByStatus.WithLabelValues(string(model.StatusFailed)).Set(float64(s.FailedCredentials))
	CredentialsByStatus.WithLabelValues(string(model.StatusRevertedToLegacy)).Set(float64(s.RevertedCredentials))
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
