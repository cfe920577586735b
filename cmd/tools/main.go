package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crd-explorer/internal/config"
	"crd-explorer/internal/db"
	"crd-explorer/internal/db/migrate"
	"crd-explorer/internal/logging"
	"crd-explorer/internal/mqtt"
)

const usage = `usage: %s <command>
  migrate       apply pending schema/seed migrations
  import <dir>  load stations.csv, variables.csv, station_readings.csv and readings.csv from dir
  replay <csv>  publish the readings of a readings.csv export to the MQTT backfill topic
`

var version = "dev"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "env file error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg, version, "crd-explorer-tools")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], cfg, logger, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, usage, os.Args[0])
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("bad usage")

func run(ctx context.Context, args []string, cfg config.Config, logger *slog.Logger, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("missing command: %w", errUsage)
	}
	switch args[0] {
	case "migrate":
	case "import", "replay":
		if len(args) < 2 {
			return fmt.Errorf("%s needs a path: %w", args[0], errUsage)
		}
	default:
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
	if args[0] == "replay" {
		return replay(ctx, args[1], cfg, logger, out)
	}

	conn, err := db.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(conn); closeErr != nil {
			logger.Error("db close", "err", closeErr)
		}
	}()

	if err := migrate.Run(ctx, conn, logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if args[0] == "migrate" {
		fmt.Fprintln(out, "migrations applied")
		return nil
	}

	stats, err := importDir(ctx, conn, args[1], cfg.RetentionCutoffYear, logger)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	fmt.Fprintf(out, "imported %d stations, %d variables, %d station variables, %d readings (%d skipped)\n",
		stats.Stations, stats.Variables, stats.StationVariables, stats.Readings, stats.Skipped)
	return nil
}

func replay(ctx context.Context, path string, cfg config.Config, logger *slog.Logger, out io.Writer) error {
	if !cfg.MQTTEnabled() {
		return errors.New("replay: MQTT_BROKER is not set")
	}
	pub := mqtt.NewPublisher(cfg, logger)
	defer pub.Disconnect()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := pub.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	stats, err := replayReadings(ctx, pub, path, cfg.RetentionCutoffYear, logger)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	fmt.Fprintf(out, "published %d readings (%d skipped)\n", stats.Published, stats.Skipped)
	return nil
}
