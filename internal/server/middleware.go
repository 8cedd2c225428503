package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/logsentry/internal/common"
)

type contextKey int

const loggerContextKey contextKey = iota

// loggerFromContext returns the request-scoped logger correlationIDMiddleware
// attached, or fallback if none was attached (e.g. in a test calling a
// handler directly without the middleware chain).
func loggerFromContext(ctx context.Context, fallback *common.Logger) *common.Logger {
	if l, ok := ctx.Value(loggerContextKey).(*common.Logger); ok {
		return l
	}
	return fallback
}

// responseWriter wraps http.ResponseWriter to capture status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// recoveryMiddleware catches panics and returns 500.
func recoveryMiddleware(logger *common.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					loggerFromContext(r.Context(), logger).Error().
						Str("panic", fmt.Sprintf("%v", rec)).
						Str("path", r.URL.Path).
						Msg("Panic recovered in HTTP handler")
					WriteError(w, http.StatusInternalServerError, "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware adds CORS headers for browser-based log viewers.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Correlation-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// correlationIDMiddleware extracts or generates a correlation ID and
// attaches a logger carrying it to the request's context for the duration
// of the request.
func correlationIDMiddleware(logger *common.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			corrID := r.Header.Get("X-Correlation-ID")
			if corrID == "" {
				corrID = uuid.New().String()[:8]
			}
			w.Header().Set("X-Correlation-ID", corrID)

			scoped := logger.WithCorrelationId(corrID)
			ctx := context.WithValue(r.Context(), loggerContextKey, scoped)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware(logger *common.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			dur := time.Since(start)
			corrID := w.Header().Get("X-Correlation-ID")
			scoped := loggerFromContext(r.Context(), logger)

			event := scoped.Trace()
			if rw.statusCode >= 500 {
				event = scoped.Error()
			} else if rw.statusCode >= 400 {
				event = scoped.Info()
			}

			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.statusCode).
				Int("bytes", rw.bytesWritten).
				Dur("duration", dur).
				Str("correlation_id", corrID).
				Msg("HTTP request")
		})
	}
}

// applyMiddleware wraps handler with the middleware stack, applied in
// reverse order (last applied = first executed). correlationIDMiddleware
// must execute before recoveryMiddleware so a recovered panic logs through
// the request's correlation-scoped logger.
func applyMiddleware(handler http.Handler, logger *common.Logger) http.Handler {
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)
	handler = corsMiddleware(handler)
	handler = correlationIDMiddleware(logger)(handler)
	return handler
}
