package core

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const RequestIDHeader = "x-amz-request-id"

// statusRecorder remembers the status code and body size a handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	if w.status == 0 {
		w.status = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// LogRequest logs one line per request. The level follows the status code:
// error for 5xx, warn for 4xx, info otherwise.
func LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}

		start := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		level := slog.LevelInfo
		switch {
		case rec.status >= 500:
			level = slog.LevelError
		case rec.status >= 400:
			level = slog.LevelWarn
		}

		slog.Log(r.Context(), level, "Request",
			slog.Group("user", "ip", r.RemoteAddr),
			slog.Group("request",
				"id", w.Header().Get(RequestIDHeader),
				"proto", r.Proto,
				"method", r.Method,
				"url", r.URL.String(),
				"duration_ms", float64(elapsed.Microseconds())/1000,
				"status_code", rec.status,
				"bytes", rec.bytes,
			),
		)
	})
}

// RequestID tags every response with a fresh x-amz-request-id.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(RequestIDHeader, uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

// SlashFix normalises bucket-level paths, so "/docs/", "//docs" and "/docs"
// address the same bucket. Object paths keep their key byte for byte; only
// leading slashes are collapsed.
func SlashFix(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := "/" + strings.TrimLeft(r.URL.Path, "/")
		if bucket, key := splitPath(p); strings.Trim(key, "/") == "" {
			p = "/" + bucket
		}
		r.URL.Path = p

		next.ServeHTTP(w, r)
	})
}

// Recoverer turns a handler panic into an S3 InternalError.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}

			slog.Error("Panic in HTTP handler", "error", rvr, "method", r.Method, "path", r.URL.Path)
			writeInternalError(w, r)
		}()

		next.ServeHTTP(w, r)
	})
}
