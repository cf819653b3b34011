package tracker

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/tracker/config"
	"github.com/pthm-cable/tracker/telemetry"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func smallConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Pipeline.Devices = 2
	cfg.Pipeline.ParticlesPerSide = 32
	cfg.Pipeline.ReducersPerDevice = 3
	cfg.Pipeline.WaitTimeoutMs = 10
	cfg.Pipeline.WatchdogIntervalMs = 50
	cfg.Particles.Count = 150
	cfg.Kernel.StepsPerLaunch = 16
	cfg.Kernel.MaxSteps = 80
	cfg.Kernel.Volume = config.VolumeConfig{NX: 16, NY: 16, NZ: 16}
	cfg.Kernel.Workers = 2
	cfg.Kernel.LanesPerTask = 8
	cfg.Telemetry.ProgressIntervalMs = 5
	cfg.Telemetry.HallOfFameSize = 5
	require.NoError(t, cfg.Recompute())
	return cfg
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig(t)
	cfg.Output.Dir = filepath.Join(dir, "out")
	cfg.Output.SQLitePath = filepath.Join(dir, "tracks.db")
	require.NoError(t, cfg.Recompute())

	tr, err := New(cfg, Options{Seed: 11, Logger: quiet})
	require.NoError(t, err)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s, err := tr.Run(ctx)
	require.NoError(t, err)

	records := int64(cfg.Derived.TotalSeeds)
	assert.Equal(t, StatusDrained, s.Status)
	assert.Equal(t, records, s.Popped)
	assert.Equal(t, records, s.Emitted)
	assert.Equal(t, int(records), s.Tracks.Tracks)
	assert.Equal(t, s.Tracks.Tracks, s.Tracks.Escaped+s.Tracks.Capped)
	assert.Positive(t, s.Launches)
	assert.Positive(t, s.VisitedVoxels)
	assert.GreaterOrEqual(t, s.TotalVisits, uint64(records), "every track visits at least its start voxel")
	for _, stage := range []string{"load", "setup", "track", "write"} {
		assert.Contains(t, s.Stages, stage)
	}

	for _, name := range []string{"tracks.csv", "progress.csv", "perf.csv", "visits.csv", "config.yaml", "longest_tracks.json", telemetry.SummaryFile} {
		_, err := os.Stat(filepath.Join(cfg.Output.Dir, name))
		assert.NoError(t, err, "missing %s", name)
	}

	saved, err := telemetry.LoadSummary(filepath.Join(cfg.Output.Dir, telemetry.SummaryFile))
	require.NoError(t, err)
	assert.Equal(t, tr.RunID(), saved.RunID)
	assert.Equal(t, s.Emitted, saved.Emitted)

	db, err := sql.Open("sqlite3", cfg.Output.SQLitePath)
	require.NoError(t, err)
	defer db.Close()
	var stored int64
	var status string
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM tracks WHERE run_id = ?`, tr.RunID()).Scan(&stored))
	require.NoError(t, db.QueryRow(`SELECT status FROM runs WHERE id = ?`, tr.RunID()).Scan(&status))
	assert.Equal(t, records, stored)
	assert.Equal(t, StatusDrained, status)
}

func TestRunIsReproducible(t *testing.T) {
	run := func() *telemetry.Summary {
		cfg := smallConfig(t)
		cfg.Pipeline.Devices = 1
		tr, err := New(cfg, Options{Seed: 5, Logger: quiet})
		require.NoError(t, err)
		defer tr.Close()
		s, err := tr.Run(context.Background())
		require.NoError(t, err)
		return s
	}

	a, b := run(), run()
	assert.Equal(t, a.RunID, b.RunID)
	assert.Equal(t, a.TotalVisits, b.TotalVisits)
	assert.Equal(t, a.Tracks.Steps, b.Tracks.Steps)
}

func TestRunNoParticles(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Particles.Count = 0
	require.NoError(t, cfg.Recompute())

	tr, err := New(cfg, Options{Seed: 1, Logger: quiet})
	require.NoError(t, err)
	defer tr.Close()

	s, err := tr.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusDrained, s.Status)
	assert.Zero(t, s.Emitted)
}

func TestRunCancelled(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Particles.Count = 20000
	cfg.Kernel.MaxSteps = 2000
	cfg.Kernel.StepsPerLaunch = 1
	cfg.Kernel.Volume = config.VolumeConfig{NX: 128, NY: 128, NZ: 128}
	require.NoError(t, cfg.Recompute())

	tr, err := New(cfg, Options{Seed: 1, Logger: quiet})
	require.NoError(t, err)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	s, err := tr.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.NotNil(t, s)
	assert.Equal(t, StatusStopped, s.Status)
	assert.Less(t, s.Emitted, int64(cfg.Derived.TotalSeeds))
	assert.Equal(t, s.Emitted, int64(s.Tracks.Tracks))
}
