package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pthm-cable/tracker/config"
	"github.com/pthm-cable/tracker/tracker"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV, JSON and config snapshot (overrides config)")
	sqlitePath := flag.String("sqlite", "", "SQLite database for completed tracks (overrides config)")
	seed := flag.Int64("seed", 0, "RNG seed (0 = use config, time-based if that is 0)")
	devices := flag.Int("devices", 0, "Number of devices (0 = use config)")
	particles := flag.Int("particles", -1, "Number of particles (-1 = use config)")
	waitTimeout := flag.Int("wait-timeout-ms", 0, "Upper bound on any pipeline wait (0 = use config)")
	textLogs := flag.Bool("text-logs", false, "Log as text instead of JSON")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, nil)
	if *textLogs {
		handler = slog.NewTextHandler(os.Stdout, nil)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *sqlitePath != "" {
		cfg.Output.SQLitePath = *sqlitePath
	}
	if *devices > 0 {
		cfg.Pipeline.Devices = *devices
	}
	if *particles >= 0 {
		cfg.Particles.Count = *particles
	}
	if *waitTimeout > 0 {
		cfg.Pipeline.WaitTimeoutMs = *waitTimeout
	}
	if err := cfg.Recompute(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := tracker.New(cfg, tracker.Options{Seed: *seed, Logger: logger})
	if err != nil {
		slog.Error("failed to set up tracker", "error", err)
		os.Exit(1)
	}

	_, err = t.Run(ctx)
	if cerr := t.Close(); cerr != nil {
		slog.Error("failed to release devices", "error", cerr)
	}
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		slog.Warn("run interrupted")
		os.Exit(130)
	default:
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}
