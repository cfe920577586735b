package main

import (
	"context"
	"fmt"
	"log/slog"

	"crd-explorer/internal/mqtt"
)

type replayStats struct {
	Published int
	Skipped   int
}

// replayReadings publishes every reading of a readings.csv export to the
// backfill topic. Rows without a value or dated at or after cutoffYear are
// skipped, the same way the import does.
func replayReadings(ctx context.Context, pub mqtt.ReadingPublisher, path string, cutoffYear int, logger *slog.Logger) (replayStats, error) {
	var stats replayStats

	table, err := readCSV(path)
	if err != nil {
		return stats, err
	}
	cols, err := readingColumnsOf(table)
	if err != nil {
		return stats, fmt.Errorf("%s: %w", path, err)
	}

	for line, row := range table.rows {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		rd, ok, err := cols.parseReading(row)
		if err != nil {
			return stats, fmt.Errorf("%s row %d: %w", path, line+2, err)
		}
		if !ok || (cutoffYear > 0 && rd.Time.Year() >= cutoffYear) {
			stats.Skipped++
			continue
		}
		value := rd.Value
		err = pub.PublishReading(mqtt.ReadingMessage{
			StationID:  rd.StationID,
			VariableID: rd.VariableID,
			Timestamp:  rd.Time,
			Value:      &value,
		})
		if err != nil {
			return stats, fmt.Errorf("%s row %d: %w", path, line+2, err)
		}
		stats.Published++
		if stats.Published%1000 == 0 {
			logger.Info("replay progress", "published", stats.Published)
		}
	}
	return stats, nil
}
