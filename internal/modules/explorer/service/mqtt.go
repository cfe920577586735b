package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"crd-explorer/internal/modules/explorer/types"
	"crd-explorer/internal/mqtt"
)

// IngestStore is what the backfill needs from the repository.
type IngestStore interface {
	GetStation(ctx context.Context, id string) (types.Station, error)
	StationMeasures(ctx context.Context, stationID string, variableID int) (bool, error)
	UpsertReading(ctx context.Context, rec types.Reading) error
}

// IngestRecorder counts backfill outcomes. *metrics.Recorder satisfies it.
type IngestRecorder interface {
	ObserveIngest(outcome string)
}

const ingestTimeout = 5 * time.Second

// Ingestor stores readings received over MQTT after checking them against
// the catalog and the retention cutoff.
type Ingestor struct {
	store      IngestStore
	cutoffYear int
	metrics    IngestRecorder
	logger     *slog.Logger
}

func NewIngestor(store IngestStore, cutoffYear int, metrics IngestRecorder, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{store: store, cutoffYear: cutoffYear, metrics: metrics, logger: logger}
}

// Register attaches the ingestor to the subscriber. Call before Connect so
// messages queued on the broker are not missed.
func (in *Ingestor) Register(subscriber mqtt.MQTTSubscriber) {
	subscriber.SetMessageHandler(func(msg mqtt.ReadingMessage) error {
		ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
		defer cancel()
		return in.Ingest(ctx, msg)
	})
}

func (in *Ingestor) Ingest(ctx context.Context, msg mqtt.ReadingMessage) error {
	in.logger.Debug("processing reading message",
		"station_id", msg.StationID,
		"variable_id", msg.VariableID,
		"timestamp", msg.Timestamp,
	)

	rec, err := in.check(ctx, msg)
	if err != nil {
		in.observe(types.ErrorKind(err))
		return err
	}

	if err := in.store.UpsertReading(ctx, rec); err != nil {
		in.observe("store_error")
		in.logger.Error("failed to store reading",
			"station_id", rec.StationID,
			"variable_id", rec.VariableID,
			"error", err,
		)
		return err
	}

	in.observe("stored")
	in.logger.Debug("stored reading",
		"station_id", rec.StationID,
		"variable_id", rec.VariableID,
	)
	return nil
}

func (in *Ingestor) check(ctx context.Context, msg mqtt.ReadingMessage) (types.Reading, error) {
	if msg.Value == nil {
		return types.Reading{}, fmt.Errorf("reading without value: %w", types.ErrInvalidInput)
	}
	ts := msg.Timestamp.UTC()
	if ts.Year() >= in.cutoffYear {
		return types.Reading{}, fmt.Errorf("timestamp %s is past the retention cutoff %d: %w",
			ts.Format(time.RFC3339), in.cutoffYear, types.ErrOutOfRange)
	}
	if _, err := in.store.GetStation(ctx, msg.StationID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return types.Reading{}, fmt.Errorf("unknown station %q: %w", msg.StationID, types.ErrInvalidInput)
		}
		return types.Reading{}, fmt.Errorf("%w: %w", types.ErrFetchFailure, err)
	}
	ok, err := in.store.StationMeasures(ctx, msg.StationID, msg.VariableID)
	if err != nil {
		return types.Reading{}, fmt.Errorf("%w: %w", types.ErrFetchFailure, err)
	}
	if !ok {
		return types.Reading{}, fmt.Errorf("station %s does not measure variable %d: %w",
			msg.StationID, msg.VariableID, types.ErrInvalidInput)
	}
	return types.Reading{
		StationID:  msg.StationID,
		VariableID: msg.VariableID,
		Time:       ts,
		Value:      *msg.Value,
	}, nil
}

func (in *Ingestor) observe(outcome string) {
	if in.metrics != nil {
		in.metrics.ObserveIngest(outcome)
	}
}
