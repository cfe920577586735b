package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"crd-explorer/internal/modules/explorer/repository"
	"crd-explorer/internal/modules/explorer/series"
	"crd-explorer/internal/modules/explorer/smoothing"
	"crd-explorer/internal/modules/explorer/types"
)

// DefaultTrendVariable is air temperature, the variable the trend view
// regresses when none is chosen.
const DefaultTrendVariable = 9

// PreviewLimit is the number of rows shown by table previews.
const PreviewLimit = 10

// Recorder receives load and fit observations. *metrics.Recorder
// satisfies it.
type Recorder interface {
	ObserveLoad(station, outcome string, d time.Duration, points int)
	ObserveFit(degree int, outcome string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveLoad(string, string, time.Duration, int) {}
func (nopRecorder) ObserveFit(int, string, time.Duration)          {}

type TrendResult struct {
	Variable types.Variable      `json:"variable"`
	Degree   int                 `json:"degree"`
	Raw      types.Series        `json:"raw"`
	Fitted   []types.FittedPoint `json:"fitted"`
}

type Service struct {
	repository repository.ExplorerRepository
	loader     *series.Loader
	smoother   *smoothing.Smoother
	metrics    Recorder
	logger     *slog.Logger
}

func NewService(repo repository.ExplorerRepository, loader *series.Loader, smoother *smoothing.Smoother,
	metrics Recorder, logger *slog.Logger) *Service {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repository: repo,
		loader:     loader,
		smoother:   smoother,
		metrics:    metrics,
		logger:     logger,
	}
}

func (s *Service) MaxDegree() int {
	return s.smoother.MaxDegree()
}

func (s *Service) CutoffYear() int {
	return s.loader.CutoffYear()
}

// LoadSeries loads the series of stationID/variableID from startYear on.
func (s *Service) LoadSeries(ctx context.Context, stationID string, variableID int, startYear string) (types.Series, error) {
	start := time.Now()
	out, err := s.loader.LoadSeries(ctx, stationID, variableID, startYear)
	s.observeLoad(stationID, start, out, err)
	return out, err
}

// FitPolynomial returns the fitted series of degree for series.
func (s *Service) FitPolynomial(series types.Series, degree int) ([]types.FittedPoint, error) {
	start := time.Now()
	fitted, err := s.smoother.FitSeries(series, degree)
	s.metrics.ObserveFit(degree, types.ErrorKind(err), time.Since(start))
	if err != nil {
		s.logger.Debug("fit rejected",
			"station_id", series.StationID,
			"variable_id", series.VariableID,
			"degree", degree,
			"points", series.Len(),
			"error", err,
		)
	}
	return fitted, err
}

// Trend loads a series from year on and fits it, returning both so the
// fit can be drawn over the raw readings.
func (s *Service) Trend(ctx context.Context, stationID string, variableID, year, degree int) (TrendResult, error) {
	if variableID == 0 {
		variableID = DefaultTrendVariable
	}

	start := time.Now()
	raw, err := s.loader.LoadSeriesYear(ctx, stationID, variableID, year)
	s.observeLoad(stationID, start, raw, err)
	if err != nil {
		return TrendResult{}, err
	}

	variable, err := s.variable(ctx, variableID)
	if err != nil {
		return TrendResult{}, err
	}

	fitted, err := s.FitPolynomial(raw, degree)
	if err != nil {
		return TrendResult{}, err
	}
	return TrendResult{Variable: variable, Degree: degree, Raw: raw, Fitted: fitted}, nil
}

// Variable returns the catalog entry of id. A lookup failure after a
// successful load is a store fault.
func (s *Service) Variable(ctx context.Context, id int) (types.Variable, error) {
	return s.variable(ctx, id)
}

func (s *Service) variable(ctx context.Context, id int) (types.Variable, error) {
	v, err := s.repository.GetVariable(ctx, id)
	if err != nil {
		return types.Variable{}, fmt.Errorf("%w: variable %d: %w", types.ErrFetchFailure, id, err)
	}
	return v, nil
}

func (s *Service) Stations(ctx context.Context) ([]types.Station, error) {
	return s.repository.GetStations(ctx)
}

func (s *Service) Station(ctx context.Context, id string) (types.Station, error) {
	return s.repository.GetStation(ctx, id)
}

func (s *Service) Variables(ctx context.Context) ([]types.Variable, error) {
	return s.repository.GetVariables(ctx)
}

// StationVariables lists what stationID measures, failing with
// ErrNotFound for unknown stations.
func (s *Service) StationVariables(ctx context.Context, stationID string) ([]types.Variable, error) {
	if _, err := s.repository.GetStation(ctx, stationID); err != nil {
		return nil, err
	}
	return s.repository.GetStationVariables(ctx, stationID)
}

func (s *Service) PreviewTable(ctx context.Context, table string) (types.TablePreview, error) {
	return s.repository.PreviewTable(ctx, table, PreviewLimit)
}

func (s *Service) observeLoad(stationID string, start time.Time, out types.Series, err error) {
	kind := types.ErrorKind(err)
	label := stationID
	if kind == "invalid_input" {
		// keeps caller-supplied ids out of label values
		label = "invalid"
	}
	s.metrics.ObserveLoad(label, kind, time.Since(start), out.Len())
	if err != nil {
		s.logger.Debug("series load rejected", "station_id", stationID, "kind", kind, "error", err)
	}
}
