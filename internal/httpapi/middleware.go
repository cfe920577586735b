package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"crd-explorer/internal/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.written += n
	return n, err
}

// requestLogger logs every request and, when rec is set, records it by
// matched route pattern so label cardinality stays bounded.
func requestLogger(next http.Handler, logger *slog.Logger, rec *metrics.Recorder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)
		took := time.Since(start)

		level := slog.LevelInfo
		if sr.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.status,
			"duration_ms", took.Milliseconds(),
		)

		if rec != nil {
			rec.ObserveRequest(routeLabel(r), r.Method, sr.status, took, sr.written)
		}
	})
}

// routeLabel is the ServeMux pattern that matched, which the mux stores
// on the request it was handed.
func routeLabel(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return "unmatched"
}
