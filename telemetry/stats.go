package telemetry

import (
	"log/slog"
	"slices"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/tracker/particle"
)

// Distribution summarises one per-track quantity.
type Distribution struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	P10  float64 `json:"p10"`
	P50  float64 `json:"p50"`
	P90  float64 `json:"p90"`
	Max  float64 `json:"max"`
}

// Describe computes mean, sample deviation and empirical quantiles of values.
// values is sorted in place. An empty slice gives the zero Distribution.
func Describe(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	slices.Sort(values)

	d := Distribution{
		Mean: stat.Mean(values, nil),
		P10:  stat.Quantile(0.10, stat.Empirical, values, nil),
		P50:  stat.Quantile(0.50, stat.Empirical, values, nil),
		P90:  stat.Quantile(0.90, stat.Empirical, values, nil),
		Max:  values[len(values)-1],
	}
	if len(values) > 1 {
		d.Std = stat.StdDev(values, nil)
	}
	return d
}

func (d Distribution) logValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("mean", d.Mean),
		slog.Float64("std", d.Std),
		slog.Float64("p10", d.P10),
		slog.Float64("p50", d.P50),
		slog.Float64("p90", d.P90),
		slog.Float64("max", d.Max),
	)
}

// RunStats holds aggregate statistics over every completed track.
type RunStats struct {
	Tracks  int          `json:"tracks"`
	Escaped int          `json:"escaped"` // left the volume
	Capped  int          `json:"capped"`  // stopped at the step limit
	Steps   Distribution `json:"steps"`
	Visited Distribution `json:"visited"` // distinct voxels per track
}

// LogValue implements slog.LogValuer for structured logging.
func (s RunStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("tracks", s.Tracks),
		slog.Int("escaped", s.Escaped),
		slog.Int("capped", s.Capped),
		slog.Attr{Key: "steps", Value: s.Steps.logValue()},
		slog.Attr{Key: "visited", Value: s.Visited.logValue()},
	)
}

// TrackStats accumulates completed records. It is a pipeline sink and is
// safe for concurrent Emit.
type TrackStats struct {
	dims [3]int32

	mu      sync.Mutex
	steps   []float64
	visited []float64
	escaped int
}

// NewTrackStats creates an accumulator for tracks walked in a volume of dims.
func NewTrackStats(dims [3]int32) *TrackStats {
	return &TrackStats{dims: dims}
}

// Emit implements pipeline.Sink.
func (t *TrackStats) Emit(r particle.Record) error {
	left := false
	for axis := 0; axis < 3; axis++ {
		if r.Pos[axis] < 0 || r.Pos[axis] >= t.dims[axis] {
			left = true
		}
	}

	t.mu.Lock()
	t.steps = append(t.steps, float64(r.Steps))
	t.visited = append(t.visited, float64(r.Visited))
	if left {
		t.escaped++
	}
	t.mu.Unlock()
	return nil
}

// Summary computes RunStats over everything emitted so far.
func (t *TrackStats) Summary() RunStats {
	t.mu.Lock()
	steps := slices.Clone(t.steps)
	visited := slices.Clone(t.visited)
	escaped := t.escaped
	t.mu.Unlock()

	return RunStats{
		Tracks:  len(steps),
		Escaped: escaped,
		Capped:  len(steps) - escaped,
		Steps:   Describe(steps),
		Visited: Describe(visited),
	}
}
