// Package middleware contains HTTP middleware functions.
//
// WHAT IS MIDDLEWARE?
// Code that runs around every handler. Each one has the shape
// func(http.Handler) http.Handler: it does something before and/or after
// calling next and never touches handler internals.
//
//	request ──▶ Logger ──▶ Tracing ──▶ ... ──▶ handler
//	response ◀── Logger ◀── Tracing ◀── ... ◀──┘
//
// This package holds the application's own: request logging, tracing spans
// and the per-IP rate limiter. chi supplies RequestID, RealIP and Recoverer.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// responseWriter wraps http.ResponseWriter to capture the status code and
// the bytes written, which http.ResponseWriter does not expose.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

// wrap starts at 200: a handler that writes a body without calling
// WriteHeader has sent 200 implicitly.
func wrap(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Logger logs one line per request: method, path, status, duration, bytes
// and the chi request id when RequestID runs earlier in the chain.
// 5xx responses are logged at Error, 4xx at Warn.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrap(w)

			// Everything after this line runs once the handler has returned
			// and the response is written.
			next.ServeHTTP(wrapped, r)

			level := slog.LevelInfo
			switch {
			case wrapped.statusCode >= 500:
				level = slog.LevelError
			case wrapped.statusCode >= 400:
				level = slog.LevelWarn
			}

			// LogAttrs takes typed slog.Attr values, so no key/value pairs
			// are boxed into interfaces on the hot path.
			logger.LogAttrs(r.Context(), level, "request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
				slog.String("request_id", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}
