package controller

import (
	"context"
	"log/slog"
	"net/http"

	"crd-explorer/internal/modules/explorer/service"
	"crd-explorer/internal/modules/explorer/types"
)

// Explorer is the service surface the handlers use. *service.Service
// implements it.
type Explorer interface {
	LoadSeries(ctx context.Context, stationID string, variableID int, startYear string) (types.Series, error)
	FitPolynomial(series types.Series, degree int) ([]types.FittedPoint, error)
	Trend(ctx context.Context, stationID string, variableID, year, degree int) (service.TrendResult, error)
	Variable(ctx context.Context, id int) (types.Variable, error)
	Stations(ctx context.Context) ([]types.Station, error)
	Variables(ctx context.Context) ([]types.Variable, error)
	StationVariables(ctx context.Context, stationID string) ([]types.Variable, error)
	PreviewTable(ctx context.Context, table string) (types.TablePreview, error)
	MaxDegree() int
	CutoffYear() int
}

var _ Explorer = (*service.Service)(nil)

type ExplorerController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type Options struct {
	DefaultDegree int
	// FirstYear is the earliest year offered by the dashboard.
	FirstYear int
}

type explorerControllerImpl struct {
	service Explorer
	opts    Options
	logger  *slog.Logger
}

func NewExplorerController(svc Explorer, opts Options, logger *slog.Logger) ExplorerController {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.FirstYear == 0 {
		opts.FirstYear = 1995
	}
	return &explorerControllerImpl{service: svc, opts: opts, logger: logger}
}

func (c *explorerControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", c.handleDashboard)
	mux.HandleFunc("GET /api/v1/stations", c.handleStations)
	mux.HandleFunc("GET /api/v1/variables", c.handleVariables)
	mux.HandleFunc("GET /api/v1/stations/{id}/variables", c.handleStationVariables)
	mux.HandleFunc("GET /api/v1/tables/{name}", c.handleTable)
	mux.HandleFunc("GET /api/v1/series", c.handleSeries)
	mux.HandleFunc("GET /api/v1/trend", c.handleTrend)
	mux.HandleFunc("GET /partials/series", c.handleSeriesPartial)
}
