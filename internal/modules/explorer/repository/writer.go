package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"math"

	"crd-explorer/internal/modules/explorer/types"
)

//go:embed sql/upsert-reading.sql
var upsertReadingSQL string

//go:embed sql/upsert-station.sql
var upsertStationSQL string

//go:embed sql/upsert-variable.sql
var upsertVariableSQL string

//go:embed sql/insert-station-variable.sql
var insertStationVariableSQL string

// Writer is the write side used by the dataset import and the MQTT backfill.
// The query path never writes.
type Writer interface {
	UpsertStation(ctx context.Context, s types.Station) error
	UpsertVariable(ctx context.Context, v types.Variable) error
	AddStationVariable(ctx context.Context, stationID string, variableID int) error
	UpsertReading(ctx context.Context, rec types.Reading) error
}

type writer struct {
	q queryer
}

func (r *Repository) UpsertStation(ctx context.Context, s types.Station) error {
	return writer{q: r.db}.UpsertStation(ctx, s)
}

func (r *Repository) UpsertVariable(ctx context.Context, v types.Variable) error {
	return writer{q: r.db}.UpsertVariable(ctx, v)
}

func (r *Repository) AddStationVariable(ctx context.Context, stationID string, variableID int) error {
	return writer{q: r.db}.AddStationVariable(ctx, stationID, variableID)
}

func (r *Repository) UpsertReading(ctx context.Context, rec types.Reading) error {
	return writer{q: r.db}.UpsertReading(ctx, rec)
}

// WithTx runs fn against a Writer bound to one transaction, committing when
// fn returns nil and rolling back otherwise.
func (r *Repository) WithTx(ctx context.Context, fn func(Writer) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()
	if err = fn(writer{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (w writer) UpsertStation(ctx context.Context, s types.Station) error {
	if s.ID == "" {
		return fmt.Errorf("station id is required: %w", types.ErrInvalidInput)
	}
	name := s.Name
	if name == "" {
		name = s.ID
	}
	_, err := w.q.ExecContext(ctx, upsertStationSQL, s.ID, name, nullableFloat(s.Latitude), nullableFloat(s.Longitude))
	if err != nil {
		return fmt.Errorf("upsert station %q: %w", s.ID, err)
	}
	return nil
}

func (w writer) UpsertVariable(ctx context.Context, v types.Variable) error {
	if v.Name == "" {
		return fmt.Errorf("variable %d name is required: %w", v.ID, types.ErrInvalidInput)
	}
	if _, err := w.q.ExecContext(ctx, upsertVariableSQL, v.ID, v.Name, v.Unit); err != nil {
		return fmt.Errorf("upsert variable %d: %w", v.ID, err)
	}
	return nil
}

func (w writer) AddStationVariable(ctx context.Context, stationID string, variableID int) error {
	if _, err := w.q.ExecContext(ctx, insertStationVariableSQL, stationID, variableID); err != nil {
		return fmt.Errorf("add station variable %s/%d: %w", stationID, variableID, err)
	}
	return nil
}

func (w writer) UpsertReading(ctx context.Context, rec types.Reading) error {
	if rec.StationID == "" || rec.Time.IsZero() {
		return fmt.Errorf("reading needs station and timestamp: %w", types.ErrInvalidInput)
	}
	if math.IsNaN(rec.Value) || math.IsInf(rec.Value, 0) {
		return fmt.Errorf("reading value %v is not finite: %w", rec.Value, types.ErrInvalidInput)
	}
	_, err := w.q.ExecContext(ctx, upsertReadingSQL, rec.StationID, rec.VariableID, FormatTimestamp(rec.Time), rec.Value)
	if err != nil {
		return fmt.Errorf("upsert reading %s/%d@%s: %w", rec.StationID, rec.VariableID, FormatTimestamp(rec.Time), err)
	}
	return nil
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
