// Package tracker wires seeds, devices, pipelines and outputs into one run.
package tracker

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/tracker/config"
	"github.com/pthm-cable/tracker/device"
	"github.com/pthm-cable/tracker/fifo"
	"github.com/pthm-cable/tracker/particle"
	"github.com/pthm-cable/tracker/pipeline"
	"github.com/pthm-cable/tracker/store"
	"github.com/pthm-cable/tracker/telemetry"
)

// Run statuses recorded in the summary and the store.
const (
	StatusDrained = "drained"
	StatusStopped = "stopped"
	StatusFailed  = "failed"
)

// Options holds run settings that are not part of the configuration file.
type Options struct {
	Seed   int64        // 0 = Particles.Seed, and time-based if that is 0 too
	Logger *slog.Logger // nil = slog.Default()
}

// Tracker holds everything one run needs.
type Tracker struct {
	cfg    *config.Config
	logger *slog.Logger
	seed   int64
	runID  string
	clock  *telemetry.Stopwatch

	queue  *fifo.Queue[particle.Record]
	walks  []*device.Walk
	devs   []*device.Sim
	perf   []*telemetry.PerfCollector
	pipes  []*pipeline.Pipeline
	signal *pipeline.Signal
	dog    *pipeline.Watchdog

	tracks *telemetry.TrackStats
	hof    *telemetry.HallOfFame
	out    *telemetry.OutputManager
	db     *store.Store
}

// New generates the seeds ("load") and builds devices, pipelines and
// outputs ("setup") for cfg.
func New(cfg *config.Config, opts Options) (*Tracker, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = cfg.Particles.Seed
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	cfgYAML, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}

	t := &Tracker{
		cfg:    cfg,
		logger: logger,
		seed:   seed,
		runID:  telemetry.RunID(cfgYAML, seed),
		clock:  telemetry.NewStopwatch(),
		signal: pipeline.NewSignal(),
		tracks: telemetry.NewTrackStats(cfg.Derived.Dims),
		hof:    telemetry.NewHallOfFame(cfg.Telemetry.HallOfFameSize),
	}

	err = t.clock.Time("load", func() error {
		gen := particle.NewGenerator(seed, cfg.Derived.Dims)
		t.queue = fifo.New(gen.Seeds(cfg.Particles.Count))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := t.clock.Time("setup", t.setup); err != nil {
		t.Close()
		return nil, err
	}

	logger.Info("tracker ready",
		"run_id", t.runID,
		"seed", seed,
		"particles", cfg.Particles.Count,
		"records", t.queue.Total(),
		"devices", len(t.devs),
		"stages", t.clock,
	)
	return t, nil
}

// setup builds outputs first so every sink exists before any pipeline.
func (t *Tracker) setup() error {
	cfg := t.cfg

	out, err := telemetry.NewOutputManager(cfg.Output.Dir)
	if err != nil {
		return err
	}
	t.out = out
	if err := out.WriteConfig(cfg); err != nil {
		return err
	}

	if cfg.Output.SQLitePath != "" {
		db, err := store.Open(cfg.Output.SQLitePath, store.Run{
			ID:        t.runID,
			Seed:      t.seed,
			Particles: cfg.Particles.Count,
		})
		if err != nil {
			return err
		}
		t.db = db
	}

	sinks := []pipeline.Sink{t.tracks, t.hof}
	if out != nil {
		sinks = append(sinks, out)
	}
	if t.db != nil {
		sinks = append(sinks, t.db)
	}
	sink := pipeline.Multi(sinks...)

	for id := 0; id < cfg.Pipeline.Devices; id++ {
		walk, err := device.NewWalk(cfg.Derived.Dims, cfg.Kernel.MaxSteps)
		if err != nil {
			return err
		}
		dev, err := device.NewSim(id, walk, device.Options{
			ParticlesPerSide: cfg.Pipeline.ParticlesPerSide,
			StepsPerLaunch:   cfg.Kernel.StepsPerLaunch,
			IndexCapacity:    cfg.Derived.IndexCapacity,
			Workers:          cfg.Kernel.Workers,
			LanesPerTask:     cfg.Kernel.LanesPerTask,
		})
		if err != nil {
			return err
		}
		t.walks = append(t.walks, walk)
		t.devs = append(t.devs, dev)

		perf := telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow)
		p, err := pipeline.New(id, dev, t.queue, sink, t.signal, pipeline.Options{
			Reducers:    cfg.Pipeline.ReducersPerDevice,
			WaitTimeout: cfg.Derived.WaitTimeout,
			Timer:       perf,
			Logger:      t.logger,
		})
		if err != nil {
			return err
		}
		t.perf = append(t.perf, perf)
		t.pipes = append(t.pipes, p)
	}

	if cfg.Derived.WatchdogInterval > 0 {
		t.dog = pipeline.NewWatchdog(t.signal, cfg.Derived.WatchdogInterval, t.logger)
	}
	return nil
}

// RunID returns the digest identifying this configuration and seed.
func (t *Tracker) RunID() string { return t.runID }

// Close releases devices and outputs. It is safe after a failed New.
func (t *Tracker) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, d := range t.devs {
		keep(d.Close())
	}
	t.devs = nil
	if t.db != nil {
		keep(t.db.Close(StatusFailed))
	}
	keep(t.out.Close())
	return firstErr
}
