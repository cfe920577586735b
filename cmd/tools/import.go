package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"crd-explorer/internal/modules/explorer/repository"
	"crd-explorer/internal/modules/explorer/types"
)

type importStats struct {
	Stations         int
	Variables        int
	StationVariables int
	Readings         int
	Skipped          int

	cutoffYear int
}

// importDir loads the dataset export in dir inside one transaction. Readings
// with an empty value or dated at or after cutoffYear are skipped; every other
// malformed row aborts the import.
func importDir(ctx context.Context, db *sql.DB, dir string, cutoffYear int, logger *slog.Logger) (importStats, error) {
	stats := importStats{cutoffYear: cutoffYear}
	repo := repository.NewRepository(db, logger)

	err := repo.WithTx(ctx, func(w repository.Writer) error {
		steps := []struct {
			file string
			fn   func(context.Context, repository.Writer, *csvTable, *importStats) error
		}{
			{"stations.csv", importStations},
			{"variables.csv", importVariables},
			{"station_readings.csv", importStationVariables},
			{"readings.csv", importReadings},
		}
		for _, step := range steps {
			table, err := readCSV(filepath.Join(dir, step.file))
			if err != nil {
				return err
			}
			if err := step.fn(ctx, w, table, &stats); err != nil {
				return fmt.Errorf("%s: %w", step.file, err)
			}
			logger.Info("import file loaded", "file", step.file, "rows", len(table.rows))
		}
		return nil
	})
	if err != nil {
		return importStats{}, err
	}
	return stats, nil
}

type csvTable struct {
	header map[string]int
	names  []string
	rows   [][]string
}

func readCSV(path string) (*csvTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	names, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: missing header", path)
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t := &csvTable{header: make(map[string]int, len(names)), names: names}
	for i, n := range names {
		t.header[strings.ToLower(strings.TrimSpace(n))] = i
	}
	t.rows, err = r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func (t *csvTable) column(names ...string) (int, error) {
	for _, n := range names {
		if i, ok := t.header[n]; ok {
			return i, nil
		}
	}
	return 0, fmt.Errorf("missing column %q", names[0])
}

func importStations(ctx context.Context, w repository.Writer, t *csvTable, stats *importStats) error {
	idCol, err := t.column("id", "station_id")
	if err != nil {
		return err
	}
	nameCol, err := t.column("name")
	if err != nil {
		return err
	}
	latCol, latErr := t.column("latitude", "lat")
	lonCol, lonErr := t.column("longitude", "lon")

	for line, row := range t.rows {
		s := types.Station{ID: strings.TrimSpace(row[idCol]), Name: strings.TrimSpace(row[nameCol])}
		if s.ID == "" {
			return fmt.Errorf("row %d: empty station id", line+2)
		}
		if latErr == nil {
			if s.Latitude, err = optionalFloat(row[latCol]); err != nil {
				return fmt.Errorf("row %d: latitude: %w", line+2, err)
			}
		}
		if lonErr == nil {
			if s.Longitude, err = optionalFloat(row[lonCol]); err != nil {
				return fmt.Errorf("row %d: longitude: %w", line+2, err)
			}
		}
		if err := w.UpsertStation(ctx, s); err != nil {
			return err
		}
		stats.Stations++
	}
	return nil
}

func importVariables(ctx context.Context, w repository.Writer, t *csvTable, stats *importStats) error {
	idCol, err := t.column("variable_id", "id")
	if err != nil {
		return err
	}
	nameCol, err := t.column("name")
	if err != nil {
		return err
	}
	unitCol, unitErr := t.column("unit")

	for line, row := range t.rows {
		id, err := strconv.Atoi(strings.TrimSpace(row[idCol]))
		if err != nil {
			return fmt.Errorf("row %d: variable id: %w", line+2, err)
		}
		v := types.Variable{ID: id, Name: strings.TrimSpace(row[nameCol])}
		if unitErr == nil {
			v.Unit = strings.TrimSpace(row[unitCol])
		}
		if err := w.UpsertVariable(ctx, v); err != nil {
			return err
		}
		stats.Variables++
	}
	return nil
}

// importStationVariables reads the boolean matrix: station_id followed by
// one column per variable id.
func importStationVariables(ctx context.Context, w repository.Writer, t *csvTable, stats *importStats) error {
	idCol, err := t.column("station_id", "id")
	if err != nil {
		return err
	}
	varCols := make(map[int]int)
	for i, n := range t.names {
		if i == idCol {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return fmt.Errorf("column %q is not a variable id", n)
		}
		varCols[i] = id
	}

	for line, row := range t.rows {
		stationID := strings.TrimSpace(row[idCol])
		for col, variableID := range varCols {
			measured, err := parseFlag(row[col])
			if err != nil {
				return fmt.Errorf("row %d column %d: %w", line+2, variableID, err)
			}
			if !measured {
				continue
			}
			if err := w.AddStationVariable(ctx, stationID, variableID); err != nil {
				return err
			}
			stats.StationVariables++
		}
	}
	return nil
}

type readingColumns struct {
	station, variable, ts, value int
}

func readingColumnsOf(t *csvTable) (readingColumns, error) {
	var cols readingColumns
	var err error
	if cols.station, err = t.column("station_id"); err != nil {
		return cols, err
	}
	if cols.variable, err = t.column("variable_id"); err != nil {
		return cols, err
	}
	if cols.ts, err = t.column("record_ts", "timestamp"); err != nil {
		return cols, err
	}
	if cols.value, err = t.column("value"); err != nil {
		return cols, err
	}
	return cols, nil
}

// parseReading returns ok=false for rows with no value.
func (c readingColumns) parseReading(row []string) (types.Reading, bool, error) {
	raw := strings.TrimSpace(row[c.value])
	if raw == "" || strings.EqualFold(raw, "null") || strings.EqualFold(raw, "nan") {
		return types.Reading{}, false, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return types.Reading{}, false, fmt.Errorf("value: %w", err)
	}
	variableID, err := strconv.Atoi(strings.TrimSpace(row[c.variable]))
	if err != nil {
		return types.Reading{}, false, fmt.Errorf("variable id: %w", err)
	}
	ts, err := repository.ParseTimestamp(strings.TrimSpace(row[c.ts]))
	if err != nil {
		return types.Reading{}, false, fmt.Errorf("timestamp: %w", err)
	}
	return types.Reading{
		StationID:  strings.TrimSpace(row[c.station]),
		VariableID: variableID,
		Time:       ts,
		Value:      value,
	}, true, nil
}

func importReadings(ctx context.Context, w repository.Writer, t *csvTable, stats *importStats) error {
	cols, err := readingColumnsOf(t)
	if err != nil {
		return err
	}

	for line, row := range t.rows {
		rd, ok, err := cols.parseReading(row)
		if err != nil {
			return fmt.Errorf("row %d: %w", line+2, err)
		}
		if !ok || (stats.cutoffYear > 0 && rd.Time.Year() >= stats.cutoffYear) {
			stats.Skipped++
			continue
		}
		if err := w.UpsertReading(ctx, rd); err != nil {
			return fmt.Errorf("row %d: %w", line+2, err)
		}
		stats.Readings++
	}
	return nil
}

func optionalFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func parseFlag(s string) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
