package telemetry

import (
	"log/slog"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/tracker/pipeline"
)

// Phases of one driver iteration, in loop order.
var driverPhases = []string{
	pipeline.PhaseCollect,
	pipeline.PhaseWriteChunk,
	pipeline.PhaseWait,
	pipeline.PhaseReadBack,
}

func phaseIndex(name string) int {
	return slices.Index(driverPhases, name)
}

// PerfCollector accumulates driver loop timing. Phase shares are taken over
// the whole run; latency quantiles over the last window iterations only.
// It satisfies pipeline.PhaseTimer and is fed by a single driving goroutine.
type PerfCollector struct {
	iterations int64
	busy       time.Duration
	inPhase    [4]time.Duration

	recent []float64 // iteration latency in microseconds, ring
	next   int
	filled bool

	began   time.Time
	marked  time.Time
	current int // index into driverPhases, -1 between phases
}

var _ pipeline.PhaseTimer = (*PerfCollector)(nil)

// NewPerfCollector keeps latency quantiles over the last window iterations.
func NewPerfCollector(window int) *PerfCollector {
	if window < 1 {
		window = 64
	}
	return &PerfCollector{recent: make([]float64, window), current: -1}
}

func (p *PerfCollector) Begin() {
	p.began = time.Now()
	p.current = -1
}

func (p *PerfCollector) Mark(phase string) {
	now := time.Now()
	p.closePhase(now)
	p.marked = now
	p.current = phaseIndex(phase)
}

func (p *PerfCollector) End() {
	now := time.Now()
	p.closePhase(now)
	p.current = -1

	took := now.Sub(p.began)
	p.iterations++
	p.busy += took
	p.recent[p.next] = float64(took.Microseconds())
	p.next++
	if p.next == len(p.recent) {
		p.next, p.filled = 0, true
	}
}

func (p *PerfCollector) closePhase(now time.Time) {
	if p.current >= 0 {
		p.inPhase[p.current] += now.Sub(p.marked)
	}
}

// PerfStats summarises one driver's loop.
type PerfStats struct {
	Iterations int64
	Mean       time.Duration

	// Over the recent window
	P50 time.Duration
	P99 time.Duration
	Max time.Duration

	// Percent of loop time spent per phase
	Share map[string]float64
}

// PerSecond is the mean iteration rate.
func (s PerfStats) PerSecond() float64 {
	if s.Mean <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Mean)
}

// Stats returns the collector's current summary.
func (p *PerfCollector) Stats() PerfStats {
	s := PerfStats{Iterations: p.iterations, Share: make(map[string]float64, len(driverPhases))}
	if p.iterations == 0 {
		return s
	}
	s.Mean = p.busy / time.Duration(p.iterations)
	if p.busy > 0 {
		for i, name := range driverPhases {
			s.Share[name] = 100 * float64(p.inPhase[i]) / float64(p.busy)
		}
	}

	window := p.recent[:p.next]
	if p.filled {
		window = p.recent
	}
	sorted := slices.Clone(window)
	slices.Sort(sorted)
	us := func(v float64) time.Duration { return time.Duration(v) * time.Microsecond }
	s.P50 = us(stat.Quantile(0.5, stat.Empirical, sorted, nil))
	s.P99 = us(stat.Quantile(0.99, stat.Empirical, sorted, nil))
	s.Max = us(sorted[len(sorted)-1])
	return s
}

// LogValue implements slog.LogValuer.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("iterations", s.Iterations),
		slog.Duration("mean", s.Mean),
		slog.Duration("p50", s.P50),
		slog.Duration("p99", s.P99),
		slog.Duration("max", s.Max),
	}
	for _, name := range driverPhases {
		if pct := s.Share[name]; pct >= 0.1 {
			attrs = append(attrs, slog.Float64(name+"_pct", float64(int(pct*10))/10))
		}
	}
	return slog.GroupValue(attrs...)
}

// PerfRow is one device's line in perf.csv.
type PerfRow struct {
	Device     int     `csv:"device"`
	Iterations int64   `csv:"iterations"`
	MeanUS     int64   `csv:"mean_us"`
	P50US      int64   `csv:"p50_us"`
	P99US      int64   `csv:"p99_us"`
	MaxUS      int64   `csv:"max_us"`
	PerSecond  float64 `csv:"iterations_per_sec"`
	Collect    float64 `csv:"collect_pct"`
	Write      float64 `csv:"write_pct"`
	Wait       float64 `csv:"wait_kernel_pct"`
	ReadBack   float64 `csv:"read_back_pct"`
}

// Row flattens s for device dev.
func (s PerfStats) Row(dev int) PerfRow {
	return PerfRow{
		Device:     dev,
		Iterations: s.Iterations,
		MeanUS:     s.Mean.Microseconds(),
		P50US:      s.P50.Microseconds(),
		P99US:      s.P99.Microseconds(),
		MaxUS:      s.Max.Microseconds(),
		PerSecond:  s.PerSecond(),
		Collect:    s.Share[pipeline.PhaseCollect],
		Write:      s.Share[pipeline.PhaseWriteChunk],
		Wait:       s.Share[pipeline.PhaseWait],
		ReadBack:   s.Share[pipeline.PhaseReadBack],
	}
}

// Stopwatch times the coarse stages of a run in the order they start.
type Stopwatch struct {
	order []string
	took  map[string]time.Duration
}

// NewStopwatch returns an empty stopwatch.
func NewStopwatch() *Stopwatch {
	return &Stopwatch{took: make(map[string]time.Duration)}
}

// Time runs fn as stage name and records how long it took, even on error.
func (w *Stopwatch) Time(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	if _, ok := w.took[name]; !ok {
		w.order = append(w.order, name)
	}
	w.took[name] += time.Since(start)
	return err
}

// Seconds returns every stage's duration in seconds.
func (w *Stopwatch) Seconds() map[string]float64 {
	out := make(map[string]float64, len(w.took))
	for name, d := range w.took {
		out[name] = d.Seconds()
	}
	return out
}

// LogValue implements slog.LogValuer, listing stages in start order.
func (w *Stopwatch) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(w.order))
	for _, name := range w.order {
		attrs = append(attrs, slog.Duration(name, w.took[name]))
	}
	return slog.GroupValue(attrs...)
}
