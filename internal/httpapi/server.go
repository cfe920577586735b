package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"crd-explorer/internal/config"
	"crd-explorer/internal/metrics"
)

func NewServer(cfg config.Config, mux *http.ServeMux, logger *slog.Logger, rec *metrics.Recorder) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           requestLogger(mux, logger, rec),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}
