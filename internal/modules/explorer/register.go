package explorer

import (
	"database/sql"
	"log/slog"
	"net/http"

	"crd-explorer/internal/config"
	"crd-explorer/internal/metrics"
	"crd-explorer/internal/modules/explorer/controller"
	"crd-explorer/internal/modules/explorer/repository"
	"crd-explorer/internal/modules/explorer/series"
	"crd-explorer/internal/modules/explorer/service"
	"crd-explorer/internal/modules/explorer/smoothing"
	"crd-explorer/internal/mqtt"
)

// RegisterFeature wires the explorer onto mux. When subscriber is non-nil
// the reading backfill handler is attached to it.
func RegisterFeature(mux *http.ServeMux, db *sql.DB, cfg config.Config, rec *metrics.Recorder,
	subscriber mqtt.MQTTSubscriber, logger *slog.Logger) *service.Service {
	explorerRepository := repository.NewRepository(db, logger)

	loader := series.NewLoader(explorerRepository, series.Options{
		CutoffYear:   cfg.RetentionCutoffYear,
		FetchTimeout: cfg.FetchTimeout,
	}, logger)
	smoother := smoothing.NewSmoother(cfg.MaxPolyDegree)

	var recorder service.Recorder
	if rec != nil {
		recorder = rec
	}
	explorerService := service.NewService(explorerRepository, loader, smoother, recorder, logger)

	explorerController := controller.NewExplorerController(explorerService, controller.Options{
		DefaultDegree: cfg.DefaultPolyDegree,
	}, logger)
	explorerController.RegisterRoutes(mux)

	if subscriber != nil {
		var ingestRecorder service.IngestRecorder
		if rec != nil {
			ingestRecorder = rec
		}
		service.NewIngestor(explorerRepository, cfg.RetentionCutoffYear, ingestRecorder, logger).Register(subscriber)
	}
	return explorerService
}
