package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/stockledger-backend/pkg/logger"
)

// Logging emits request.start and request.complete. Probe and scrape traffic
// on /health and /metrics is logged at debug level only.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logg == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			quiet := isProbe(r.URL.Path)
			emit := func(ctx context.Context, msg string) {
				if quiet {
					logg.Debug(ctx, msg)
					return
				}
				logg.Info(ctx, msg)
			}

			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			emit(ctx, "request.start")

			next.ServeHTTP(rec, r.WithContext(ctx))

			fields := map[string]any{
				"status":      rec.Status(),
				"bytes":       rec.bytes,
				"duration_ms": time.Since(start).Milliseconds(),
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					fields["route"] = pattern
				}
			}
			if code := r.Header.Get(HeaderTerminalID); code != "" {
				fields["terminal_code"] = code
			}
			ctx = logg.WithFields(ctx, fields)
			if rec.Status() >= http.StatusInternalServerError {
				logg.Warn(ctx, "request.complete")
				return
			}
			emit(ctx, "request.complete")
		})
	}
}

func isProbe(path string) bool {
	return strings.HasPrefix(path, "/health/") || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func (s *statusRecorder) Status() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
