package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/fleetvault/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// ErrorResponse is the standard error response body. Partial carries the
// records a backfill committed before it stopped.
type ErrorResponse struct {
	Error   string            `json:"error" yaml:"error"`
	Partial *BackfillResponse `json:"partial,omitempty" yaml:"partial,omitempty"`
}

// StatusResponse is the JSON representation of the migration aggregate.
type StatusResponse struct {
	TotalCredentials    int     `json:"total_credentials" yaml:"total_credentials"`
	MigratedCredentials int     `json:"migrated_credentials" yaml:"migrated_credentials"`
	PendingCredentials  int     `json:"pending_credentials" yaml:"pending_credentials"`
	FailedCredentials   int     `json:"failed_credentials" yaml:"failed_credentials"`
	RevertedCredentials int     `json:"reverted_credentials" yaml:"reverted_credentials"`
	LastRunAt           *string `json:"last_run_at" yaml:"last_run_at"`
}

// RecordErrorResponse is a per-credential diagnostic from a backfill batch.
type RecordErrorResponse struct {
	ID      string `json:"id" yaml:"id"`
	Message string `json:"message" yaml:"message"`
}

// BackfillRequest is the optional JSON body for the backfill endpoint.
type BackfillRequest struct {
	BatchSize *int `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
}

// BackfillResponse is the JSON representation of one backfill batch.
type BackfillResponse struct {
	BatchSize int                   `json:"batch_size" yaml:"batch_size"`
	Processed int                   `json:"processed" yaml:"processed"`
	Succeeded int                   `json:"succeeded" yaml:"succeeded"`
	Failed    int                   `json:"failed" yaml:"failed"`
	Skipped   int                   `json:"skipped" yaml:"skipped"`
	Errors    []RecordErrorResponse `json:"errors" yaml:"errors"`
}

// ValidationResponse is the JSON representation of a validation sweep.
type ValidationResponse struct {
	TotalChecked         int      `json:"total_checked" yaml:"total_checked"`
	InvalidCount         int      `json:"invalid_count" yaml:"invalid_count"`
	AllValid             bool     `json:"all_valid" yaml:"all_valid"`
	InvalidCredentialIDs []string `json:"invalid_credential_ids" yaml:"invalid_credential_ids"`
}

// ReadinessResponse is the JSON representation of the cleanup go/no-go.
type ReadinessResponse struct {
	CanProceed bool               `json:"can_proceed" yaml:"can_proceed"`
	Status     StatusResponse     `json:"status" yaml:"status"`
	Validation ValidationResponse `json:"validation" yaml:"validation"`
	Blockers   []string           `json:"blockers" yaml:"blockers"`
}

// RevertRequest is the optional JSON body for the revert endpoint.
type RevertRequest struct {
	Hold bool `json:"hold" yaml:"hold"`
}

// RevertResponse reports where a reverted credential landed.
type RevertResponse struct {
	ID     string `json:"id" yaml:"id"`
	Status string `json:"status" yaml:"status"`
}

// RetryFailedResponse reports how many failed credentials were re-queued.
type RetryFailedResponse struct {
	Requeued int `json:"requeued" yaml:"requeued"`
}

// AuditEventResponse is the JSON representation of an audit entry.
type AuditEventResponse struct {
	ID           string `json:"id" yaml:"id"`
	Action       string `json:"action" yaml:"action"`
	CredentialID string `json:"credential_id,omitempty" yaml:"credential_id,omitempty"`
	Actor        string `json:"actor" yaml:"actor"`
	Detail       string `json:"detail" yaml:"detail"`
	OccurredAt   string `json:"occurred_at" yaml:"occurred_at"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status" yaml:"status"`
	Time   string `json:"time" yaml:"time"`
}

func toStatusResponse(s model.BackfillStatus) StatusResponse {
	resp := StatusResponse{
		TotalCredentials:    s.TotalCredentials,
		MigratedCredentials: s.MigratedCredentials,
		PendingCredentials:  s.PendingCredentials,
		FailedCredentials:   s.FailedCredentials,
		RevertedCredentials: s.RevertedCredentials,
	}
	if s.LastRunAt != nil {
		v := s.LastRunAt.UTC().Format(time.RFC3339Nano)
		resp.LastRunAt = &v
	}
	return resp
}

func toBackfillResponse(r model.BackfillResult) BackfillResponse {
	errs := make([]RecordErrorResponse, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, RecordErrorResponse{ID: e.ID, Message: e.Message})
	}
	return BackfillResponse{
		BatchSize: r.BatchSize,
		Processed: r.Processed,
		Succeeded: r.Succeeded,
		Failed:    r.Failed,
		Skipped:   r.Skipped,
		Errors:    errs,
	}
}

func toValidationResponse(v model.ValidationResult) ValidationResponse {
	ids := v.InvalidCredentialIDs
	if ids == nil {
		ids = []string{}
	}
	return ValidationResponse{
		TotalChecked:         v.TotalChecked,
		InvalidCount:         v.InvalidCount,
		AllValid:             v.AllValid,
		InvalidCredentialIDs: ids,
	}
}

func toReadinessResponse(r model.ReadinessReport) ReadinessResponse {
	blockers := r.Blockers
	if blockers == nil {
		blockers = []string{}
	}
	return ReadinessResponse{
		CanProceed: r.CanProceed,
		Status:     toStatusResponse(r.Status),
		Validation: toValidationResponse(r.Validation),
		Blockers:   blockers,
	}
}

func toAuditEventResponse(e model.AuditEvent) AuditEventResponse {
	return AuditEventResponse{
		ID:           e.ID,
		Action:       string(e.Action),
		CredentialID: e.CredentialID,
		Actor:        e.Actor,
		Detail:       e.Detail,
		OccurredAt:   e.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
}
