// Package config provides configuration loading and access for the tracker.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/tracker/particle"
	"github.com/pthm-cable/tracker/rbtree"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all tracker configuration parameters.
type Config struct {
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Particles ParticlesConfig `yaml:"particles"`
	Kernel    KernelConfig    `yaml:"kernel"`
	Index     IndexConfig     `yaml:"index"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Output    OutputConfig    `yaml:"output"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// PipelineConfig holds per-device streaming parameters.
type PipelineConfig struct {
	Devices            int `yaml:"devices"`
	ParticlesPerSide   int `yaml:"particles_per_side"`   // lanes in each half of device memory
	ReducersPerDevice  int `yaml:"reducers_per_device"`  // post-processing goroutines per device
	WaitTimeoutMs      int `yaml:"wait_timeout_ms"`      // upper bound on any blocking wait
	WatchdogIntervalMs int `yaml:"watchdog_interval_ms"` // 0 = no watchdog
}

// ParticlesConfig holds seed generation parameters.
type ParticlesConfig struct {
	Count int   `yaml:"count"` // logical particles; each yields one record per direction
	Seed  int64 `yaml:"seed"`
}

// VolumeConfig is the walk volume in voxels.
type VolumeConfig struct {
	NX int32 `yaml:"nx"`
	NY int32 `yaml:"ny"`
	NZ int32 `yaml:"nz"`
}

// KernelConfig holds launch parameters.
type KernelConfig struct {
	StepsPerLaunch int          `yaml:"steps_per_launch"`
	MaxSteps       int          `yaml:"max_steps"` // a record completes after this many steps
	Volume         VolumeConfig `yaml:"volume"`
	Workers        int          `yaml:"workers"`        // 0 = GOMAXPROCS
	LanesPerTask   int          `yaml:"lanes_per_task"` // lanes per pool task
}

// IndexConfig sizes the per-lane ordered index.
type IndexConfig struct {
	Capacity int `yaml:"capacity"` // 0 = max_steps + 1
}

// TelemetryConfig holds progress reporting parameters.
type TelemetryConfig struct {
	ProgressIntervalMs int `yaml:"progress_interval_ms"`
	PerfWindow         int `yaml:"perf_window"`       // driver iterations averaged per device
	HallOfFameSize     int `yaml:"hall_of_fame_size"` // longest tracks kept (0 = none)
}

// OutputConfig holds output locations.
type OutputConfig struct {
	Dir        string `yaml:"dir"`         // empty = no file output
	SQLitePath string `yaml:"sqlite_path"` // empty = no database
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	Dims             [3]int32      // Kernel.Volume as an array
	IndexCapacity    int           // effective Index.Capacity
	MaxDepth         int           // traversal stack entries for IndexCapacity
	ChunkCapacity    int           // records per batch chunk
	TotalSeeds       int           // Particles.Count * directions
	WaitTimeout      time.Duration // Pipeline.WaitTimeoutMs
	WatchdogInterval time.Duration // Pipeline.WatchdogIntervalMs
	ProgressInterval time.Duration // Telemetry.ProgressIntervalMs
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.computeDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Recompute refreshes derived values and validates after fields were
// changed in code, e.g. by command-line overrides.
func (c *Config) Recompute() error {
	c.computeDerived()
	return c.Validate()
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	v := c.Kernel.Volume
	c.Derived.Dims = [3]int32{v.NX, v.NY, v.NZ}

	c.Derived.IndexCapacity = c.Index.Capacity
	if c.Derived.IndexCapacity == 0 {
		// Start voxel plus one per step
		c.Derived.IndexCapacity = c.Kernel.MaxSteps + 1
	}
	c.Derived.MaxDepth = rbtree.MaxDepth(c.Derived.IndexCapacity)

	if c.Pipeline.ReducersPerDevice > 0 {
		c.Derived.ChunkCapacity = c.Pipeline.ParticlesPerSide/c.Pipeline.ReducersPerDevice + 1
	}
	c.Derived.TotalSeeds = c.Particles.Count * particle.DirectionsPerParticle

	c.Derived.WaitTimeout = time.Duration(c.Pipeline.WaitTimeoutMs) * time.Millisecond
	c.Derived.WatchdogInterval = time.Duration(c.Pipeline.WatchdogIntervalMs) * time.Millisecond
	c.Derived.ProgressInterval = time.Duration(c.Telemetry.ProgressIntervalMs) * time.Millisecond
}

// Validate reports every out-of-range parameter.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	p := c.Pipeline
	check(p.Devices >= 1, "pipeline.devices must be at least 1, got %d", p.Devices)
	check(p.ParticlesPerSide >= 1, "pipeline.particles_per_side must be at least 1, got %d", p.ParticlesPerSide)
	check(p.ReducersPerDevice >= 1 && p.ReducersPerDevice <= p.ParticlesPerSide,
		"pipeline.reducers_per_device must be in [1, particles_per_side], got %d", p.ReducersPerDevice)
	check(p.WaitTimeoutMs > 0, "pipeline.wait_timeout_ms must be positive, got %d", p.WaitTimeoutMs)
	check(p.WatchdogIntervalMs >= 0, "pipeline.watchdog_interval_ms must not be negative, got %d", p.WatchdogIntervalMs)

	check(c.Particles.Count >= 0, "particles.count must not be negative, got %d", c.Particles.Count)

	k := c.Kernel
	check(k.StepsPerLaunch >= 1, "kernel.steps_per_launch must be at least 1, got %d", k.StepsPerLaunch)
	check(k.MaxSteps >= 1, "kernel.max_steps must be at least 1, got %d", k.MaxSteps)
	check(k.Volume.NX > 0 && k.Volume.NY > 0 && k.Volume.NZ > 0,
		"kernel.volume must be positive in every axis, got %dx%dx%d", k.Volume.NX, k.Volume.NY, k.Volume.NZ)
	voxels := int64(k.Volume.NX) * int64(k.Volume.NY) * int64(k.Volume.NZ)
	check(voxels <= int64(rbtree.MaxKey), "kernel.volume has %d voxels, index keys stop at %d", voxels, rbtree.MaxKey)
	check(k.Workers >= 0, "kernel.workers must not be negative, got %d", k.Workers)
	check(k.LanesPerTask >= 0, "kernel.lanes_per_task must not be negative, got %d", k.LanesPerTask)

	capacity := c.Derived.IndexCapacity
	check(capacity >= k.MaxSteps+1, "index.capacity %d cannot hold a walk of %d steps", capacity, k.MaxSteps)
	check(capacity <= rbtree.MaxCapacity, "index.capacity must be at most %d, got %d", rbtree.MaxCapacity, capacity)

	check(c.Telemetry.ProgressIntervalMs >= 0,
		"telemetry.progress_interval_ms must not be negative, got %d", c.Telemetry.ProgressIntervalMs)
	check(c.Telemetry.HallOfFameSize >= 0,
		"telemetry.hall_of_fame_size must not be negative, got %d", c.Telemetry.HallOfFameSize)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
