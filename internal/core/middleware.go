package core

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"marketfront/internal/types"
)

// requestIDHeader is honored on inbound requests so upstream proxies can
// correlate; a fresh ID is generated when absent.
const requestIDHeader = "X-Request-Id"

// RequestID attaches a request ID to the context and echoes it on the
// response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), id)))
	})
}

// Recoverer converts handler panics into logged 500 responses. A panic while
// processing one provider event must not take down the intake path for the
// rest.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.ErrorContext(r.Context(), "panic recovered in handler",
						"panic", rec,
						"path", r.URL.Path,
					)
					Error(w, r, types.NewAppError(
						types.ErrCodeInternalUnexpected,
						"internal server error",
						nil,
					))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger emits one structured log line per request with latency and
// status.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", types.GetRequestID(r.Context()),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// AdminKeyAuth gates the internal ops endpoints behind a shared admin key
// carried in the X-Admin-Key header. Comparison is constant time.
func AdminKeyAuth(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Admin-Key")
			if got == "" {
				Error(w, r, types.NewAppError(
					types.ErrCodeAuthKeyMissing,
					"missing X-Admin-Key header",
					nil,
				))
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(adminKey)) != 1 {
				Error(w, r, types.NewAppError(
					types.ErrCodeAuthKeyInvalid,
					"invalid admin key",
					nil,
				))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
