// Package middleware holds the HTTP middleware of the peer endpoint.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/jonboulle/clockwork"
)

// DeviceHeader carries the device id of the calling peer.
const DeviceHeader = "X-Gophsync-Device"

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies mws to h; the first middleware is the outermost one.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the number of bytes written
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// LoggingMiddleware логирует запросы пиров.
// Успешные запросы пишутся на уровне Debug: пиры шлют уведомления часто.
func LoggingMiddleware(logger *slog.Logger, clock clockwork.Clock) Middleware {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := clock.Now()

			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(wrapped, r)

			// уровень зависит от статуса ответа
			level := slog.LevelDebug
			switch {
			case wrapped.statusCode >= 500:
				level = slog.LevelError
			case wrapped.statusCode >= 400:
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "peer request",
				"method", r.Method,
				"path", r.URL.Path,
				"peer", r.Header.Get(DeviceHeader),
				"remote_addr", r.RemoteAddr,
				"status", wrapped.statusCode,
				"duration_ms", clock.Since(start).Milliseconds(),
				"bytes_written", wrapped.written,
			)
		})
	}
}

// LoggingWithSkip не логирует запросы к skipPaths (health checks).
func LoggingWithSkip(logger *slog.Logger, clock clockwork.Clock, skipPaths []string) Middleware {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		logged := LoggingMiddleware(logger, clock)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			logged.ServeHTTP(w, r)
		})
	}
}
