package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"crd-explorer/internal/modules/explorer/types"
)

//go:embed sql/get-stations.sql
var getStationsSQL string

//go:embed sql/get-station.sql
var getStationSQL string

//go:embed sql/get-variables.sql
var getVariablesSQL string

//go:embed sql/get-variable.sql
var getVariableSQL string

//go:embed sql/get-station-variables.sql
var getStationVariablesSQL string

//go:embed sql/station-measures.sql
var stationMeasuresSQL string

//go:embed sql/get-readings.sql
var getReadingsSQL string

// TimestampLayout is how record_ts is stored. It is fixed width so that
// string comparison in SQL orders the same way as time.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// ExplorerRepository is the read side of the store used by the series
// loader and the catalog endpoints.
type ExplorerRepository interface {
	GetStations(ctx context.Context) ([]types.Station, error)
	GetStation(ctx context.Context, id string) (types.Station, error)
	GetVariables(ctx context.Context) ([]types.Variable, error)
	GetVariable(ctx context.Context, id int) (types.Variable, error)
	GetStationVariables(ctx context.Context, stationID string) ([]types.Variable, error)
	StationMeasures(ctx context.Context, stationID string, variableID int) (bool, error)
	// GetReadings returns non-null readings of one station/variable with
	// record_ts >= from, ascending by time.
	GetReadings(ctx context.Context, stationID string, variableID int, from time.Time) ([]types.Reading, error)
	PreviewTable(ctx context.Context, table string, limit int) (types.TablePreview, error)
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository implements ExplorerRepository and Writer over SQLite.
type Repository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRepository(db *sql.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{db: db, logger: logger}
}

func (r *Repository) GetStations(ctx context.Context) ([]types.Station, error) {
	rows, err := r.db.QueryContext(ctx, getStationsSQL)
	if err != nil {
		return nil, err
	}
	defer r.closeRows(rows, "stations")

	var out []types.Station
	for rows.Next() {
		s, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) GetStation(ctx context.Context, id string) (types.Station, error) {
	s, err := scanStation(r.db.QueryRowContext(ctx, getStationSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Station{}, fmt.Errorf("station %q: %w", id, types.ErrNotFound)
	}
	return s, err
}

func (r *Repository) GetVariables(ctx context.Context) ([]types.Variable, error) {
	rows, err := r.db.QueryContext(ctx, getVariablesSQL)
	if err != nil {
		return nil, err
	}
	defer r.closeRows(rows, "variables")
	return scanVariables(rows)
}

func (r *Repository) GetVariable(ctx context.Context, id int) (types.Variable, error) {
	var v types.Variable
	err := r.db.QueryRowContext(ctx, getVariableSQL, id).Scan(&v.ID, &v.Name, &v.Unit)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Variable{}, fmt.Errorf("variable %d: %w", id, types.ErrNotFound)
	}
	return v, err
}

func (r *Repository) GetStationVariables(ctx context.Context, stationID string) ([]types.Variable, error) {
	rows, err := r.db.QueryContext(ctx, getStationVariablesSQL, stationID)
	if err != nil {
		return nil, err
	}
	defer r.closeRows(rows, "station variables")
	return scanVariables(rows)
}

func (r *Repository) StationMeasures(ctx context.Context, stationID string, variableID int) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, stationMeasuresSQL, stationID, variableID).Scan(&ok)
	return ok, err
}

func (r *Repository) GetReadings(ctx context.Context, stationID string, variableID int, from time.Time) ([]types.Reading, error) {
	rows, err := r.db.QueryContext(ctx, getReadingsSQL, stationID, variableID, FormatTimestamp(from))
	if err != nil {
		return nil, err
	}
	defer r.closeRows(rows, "readings")
	return scanReadings(rows)
}

// FormatTimestamp renders t in the stored record_ts layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts the stored layout and any RFC 3339 variant, plus the
// space-separated form produced by some exports.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05Z07:00", "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t2, err2 := time.Parse(layout, s); err2 == nil {
			return t2.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStation(row rowScanner) (types.Station, error) {
	var (
		s        types.Station
		lat, lon sql.NullFloat64
	)
	if err := row.Scan(&s.ID, &s.Name, &lat, &lon); err != nil {
		return types.Station{}, err
	}
	if lat.Valid {
		s.Latitude = &lat.Float64
	}
	if lon.Valid {
		s.Longitude = &lon.Float64
	}
	return s, nil
}

func scanVariables(rows *sql.Rows) ([]types.Variable, error) {
	var out []types.Variable
	for rows.Next() {
		var v types.Variable
		if err := rows.Scan(&v.ID, &v.Name, &v.Unit); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanReadings(rows *sql.Rows) ([]types.Reading, error) {
	var out []types.Reading
	for rows.Next() {
		var (
			rec types.Reading
			ts  string
		)
		if err := rows.Scan(&rec.StationID, &rec.VariableID, &ts, &rec.Value); err != nil {
			return nil, err
		}
		t, err := ParseTimestamp(ts)
		if err != nil {
			return nil, err
		}
		rec.Time = t
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) closeRows(rows io.Closer, what string) {
	if err := rows.Close(); err != nil {
		r.logger.Error("close rows", "what", what, "error", err)
	}
}
