package httpapi

import (
	"database/sql"
	"log/slog"
	"net/http"
	"os"

	"crd-explorer/internal/metrics"
)

// NewMux registers the process-level routes: health, metrics and, when
// staticDir exists, /static/.
func NewMux(db *sql.DB, staticDir string, rec *metrics.Recorder, logger *slog.Logger) *http.ServeMux {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	registerHealthcheck(mux, db, logger)
	if rec != nil {
		mux.Handle("GET /metrics", rec.Handler())
	}
	if staticDir != "" {
		if fi, err := os.Stat(staticDir); err == nil && fi.IsDir() {
			mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
		} else {
			logger.Debug("static dir not served", "dir", staticDir)
		}
	}
	return mux
}
