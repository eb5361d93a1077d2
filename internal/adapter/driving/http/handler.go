package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/fleetvault/internal/application"
	"github.com/ericfisherdev/fleetvault/internal/domain/model"
	"github.com/ericfisherdev/fleetvault/internal/domain/port/driven"
	"github.com/ericfisherdev/fleetvault/internal/metrics"
)

// defaultAuditLimit is used when GET /audit has no limit parameter.
const defaultAuditLimit = 50

// maxBodyBytes bounds request bodies; every accepted body is a tiny JSON object.
const maxBodyBytes = 4 << 10

// Handler is the HTTP driving adapter that serves the vault migration API.
type Handler struct {
	svc    *application.MigrationService
	logger *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(svc *application.MigrationService, logger *slog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with actor, logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/vault/status", h.GetStatus)
	mux.HandleFunc("POST /api/v1/vault/backfill", h.ExecuteBackfill)
	mux.HandleFunc("POST /api/v1/vault/validate", h.Validate)
	mux.HandleFunc("POST /api/v1/vault/credentials/{id}/revert", h.RevertCredential)
	mux.HandleFunc("POST /api/v1/vault/retry-failed", h.RetryFailed)
	mux.HandleFunc("GET /api/v1/vault/readiness", h.Readiness)
	mux.HandleFunc("GET /api/v1/vault/audit", h.AuditTrail)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.Handle("GET /metrics", metrics.Handler())

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = actorMiddleware(wrapped)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// GetStatus returns the current migration aggregate.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.GetStatus(r.Context())
	if err != nil {
		h.writeServiceError(w, "get status", err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(status))
}

// ExecuteBackfill runs one backfill batch. The body is optional; without a
// batch_size the service default is used.
func (h *Handler) ExecuteBackfill(w http.ResponseWriter, r *http.Request) {
	var req BackfillRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	batchSize := h.svc.DefaultBatchSize()
	if req.BatchSize != nil {
		batchSize = *req.BatchSize
	}

	result, err := h.svc.ExecuteBackfill(r.Context(), batchSize)
	if err != nil {
		partial := toBackfillResponse(result)
		h.writeServiceError(w, "execute backfill", err, &partial)
		return
	}
	writeJSON(w, http.StatusOK, toBackfillResponse(result))
}

// Validate runs a validation sweep over every migrated credential.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ValidateMigratedCredentials(r.Context())
	if err != nil {
		h.writeServiceError(w, "validate credentials", err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toValidationResponse(result))
}

// RevertCredential reverts a single credential to legacy-only storage.
func (h *Handler) RevertCredential(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req RevertRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	actor := application.ActorFromContext(r.Context())
	err := h.svc.RevertCredential(r.Context(), id, application.RevertOptions{Actor: actor, Hold: req.Hold})
	if err != nil {
		h.writeServiceError(w, "revert credential", err, nil)
		return
	}

	target := model.StatusPending
	if req.Hold {
		target = model.StatusRevertedToLegacy
	}
	writeJSON(w, http.StatusOK, RevertResponse{ID: id, Status: string(target)})
}

// RetryFailed re-queues every failed credential.
func (h *Handler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.RetryFailed(r.Context(), application.ActorFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, "retry failed credentials", err, nil)
		return
	}
	writeJSON(w, http.StatusOK, RetryFailedResponse{Requeued: n})
}

// Readiness reports whether the legacy cleanup phase may start.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.CanProceedWithCleanup(r.Context())
	if err != nil {
		h.writeServiceError(w, "check readiness", err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toReadinessResponse(report))
}

// AuditTrail returns recent audit events, newest first.
func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	events, err := h.svc.AuditTrail(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, "list audit events", err, nil)
		return
	}

	resp := make([]AuditEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, toAuditEventResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// writeServiceError maps an application error to a status code. Only
// unexpected failures are logged; their text is not sent to the client.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error, partial *BackfillResponse) {
	switch {
	case errors.Is(err, application.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, driven.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, application.ErrBusy),
		errors.Is(err, driven.ErrConflict),
		errors.Is(err, model.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn("request cancelled", "operation", op, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "request cancelled", Partial: partial})
	default:
		h.logger.Error("operation failed", "operation", op, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Partial: partial})
	}
}

// decodeOptionalBody decodes a JSON body into v when one is present. It
// writes a 400 and returns false on malformed input.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
