// Package series loads station/variable reading series from the store.
package series

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"crd-explorer/internal/modules/explorer/repository"
	"crd-explorer/internal/modules/explorer/types"
)

// Store is the subset of the repository the loader reads from.
type Store interface {
	GetStation(ctx context.Context, id string) (types.Station, error)
	StationMeasures(ctx context.Context, stationID string, variableID int) (bool, error)
	GetReadings(ctx context.Context, stationID string, variableID int, from time.Time) ([]types.Reading, error)
}

var _ Store = (repository.ExplorerRepository)(nil)

type Options struct {
	// CutoffYear is the first year with no retained data.
	CutoffYear   int
	FetchTimeout time.Duration
}

type Loader struct {
	store  Store
	opts   Options
	logger *slog.Logger
}

func NewLoader(store Store, opts Options, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: store, opts: opts, logger: logger}
}

func (l *Loader) CutoffYear() int {
	return l.opts.CutoffYear
}

// LoadSeries parses the caller's start year and loads the series.
func (l *Loader) LoadSeries(ctx context.Context, stationID string, variableID int, startYear string) (types.Series, error) {
	year, err := ParseYear(startYear)
	if err != nil {
		return types.Series{}, err
	}
	return l.LoadSeriesYear(ctx, stationID, variableID, year)
}

// LoadSeriesYear returns every non-null reading of the station/variable
// recorded on or after Jan 1 00:00 UTC of year, ascending by time. No
// matching readings is an empty series, not an error.
func (l *Loader) LoadSeriesYear(ctx context.Context, stationID string, variableID int, year int) (types.Series, error) {
	if year >= l.opts.CutoffYear {
		return types.Series{}, fmt.Errorf("year %d is not before the retention cutoff %d: %w",
			year, l.opts.CutoffYear, types.ErrOutOfRange)
	}
	if year < 1 {
		return types.Series{}, fmt.Errorf("year %d: %w", year, types.ErrInvalidInput)
	}

	ctx, cancel := l.fetchContext(ctx)
	defer cancel()

	if err := l.checkCombination(ctx, stationID, variableID); err != nil {
		return types.Series{}, err
	}

	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	readings, err := l.store.GetReadings(ctx, stationID, variableID, from)
	if err != nil {
		return types.Series{}, classifyFetchError(ctx, err)
	}

	readings = normalize(readings, l.logger)
	l.logger.Debug("series loaded",
		"station_id", stationID,
		"variable_id", variableID,
		"from", from,
		"points", len(readings),
	)
	return types.Series{
		StationID:  stationID,
		VariableID: variableID,
		From:       from,
		Readings:   readings,
	}, nil
}

func (l *Loader) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.opts.FetchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.opts.FetchTimeout)
}

func (l *Loader) checkCombination(ctx context.Context, stationID string, variableID int) error {
	if strings.TrimSpace(stationID) == "" {
		return fmt.Errorf("station id is required: %w", types.ErrInvalidInput)
	}
	if _, err := l.store.GetStation(ctx, stationID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("unknown station %q: %w", stationID, types.ErrInvalidInput)
		}
		return classifyFetchError(ctx, err)
	}
	ok, err := l.store.StationMeasures(ctx, stationID, variableID)
	if err != nil {
		return classifyFetchError(ctx, err)
	}
	if !ok {
		return fmt.Errorf("station %s does not measure variable %d: %w", stationID, variableID, types.ErrInvalidInput)
	}
	return nil
}

// ParseYear accepts a base-10 calendar year, surrounding space allowed.
func ParseYear(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("start year is required: %w", types.ErrInvalidInput)
	}
	year, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("start year %q is not an integer: %w", s, types.ErrInvalidInput)
	}
	return year, nil
}

func classifyFetchError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", types.ErrFetchTimeout, err)
	}
	return fmt.Errorf("%w: %w", types.ErrFetchFailure, err)
}

// normalize restores ascending, unique timestamps if the store ever breaks
// that contract. The first reading of a duplicated timestamp wins.
func normalize(readings []types.Reading, logger *slog.Logger) []types.Reading {
	if readings == nil {
		return []types.Reading{}
	}
	clean := true
	for i := 1; i < len(readings); i++ {
		if !readings[i-1].Time.Before(readings[i].Time) {
			clean = false
			break
		}
	}
	if clean {
		return readings
	}

	out := append([]types.Reading(nil), readings...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i].Time.Equal(out[n-1].Time) {
			continue
		}
		out[n] = out[i]
		n++
	}
	logger.Warn("store returned unordered or duplicate readings",
		"received", len(readings),
		"kept", n,
	)
	return out[:n]
}
