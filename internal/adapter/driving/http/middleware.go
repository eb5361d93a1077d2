package httphandler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ericfisherdev/fleetvault/internal/application"
)

// ActorHeader names the caller recorded in audit entries.
const ActorHeader = "X-Fleetvault-Actor"

const (
	anonymousActor = "anonymous"
	maxActorLen    = 128
)

// statusWriter wraps http.ResponseWriter to capture the response status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader captures the status code and delegates to the embedded writer.
func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware logs each HTTP request with method, path, status, actor
// and duration.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"actor", requestActor(r),
			"duration", time.Since(start).Round(time.Microsecond),
		)
	})
}

// actorMiddleware attaches the X-Fleetvault-Actor identity to the request
// context so audit entries can name who acted.
func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := application.WithActor(r.Context(), requestActor(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestActor(r *http.Request) string {
	actor := strings.TrimSpace(r.Header.Get(ActorHeader))
	if actor == "" {
		return anonymousActor
	}
	if len(actor) > maxActorLen {
		actor = actor[:maxActorLen]
	}
	return actor
}

// recoveryMiddleware recovers from panics in HTTP handlers, logs the error,
// and returns a 500 response.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logger.Error("panic recovered",
					"panic", v,
					"path", r.URL.Path,
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
