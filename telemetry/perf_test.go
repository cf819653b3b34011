package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/pthm-cable/tracker/pipeline"
)

func TestPerfCollector_Phases(t *testing.T) {
	pc := NewPerfCollector(10)

	for i := 0; i < 5; i++ {
		pc.Begin()
		pc.Mark(pipeline.PhaseCollect)
		time.Sleep(100 * time.Microsecond)
		pc.Mark(pipeline.PhaseWait)
		time.Sleep(2 * time.Millisecond)
		pc.End()
	}

	stats := pc.Stats()
	if stats.Iterations != 5 {
		t.Errorf("iterations = %d, want 5", stats.Iterations)
	}
	if stats.Mean < 2*time.Millisecond {
		t.Errorf("mean = %v, want at least the wait sleep", stats.Mean)
	}
	if stats.Share[pipeline.PhaseWait] <= stats.Share[pipeline.PhaseCollect] {
		t.Errorf("wait share %.1f%% should exceed collect share %.1f%%",
			stats.Share[pipeline.PhaseWait], stats.Share[pipeline.PhaseCollect])
	}
	if total := stats.Share[pipeline.PhaseWait] + stats.Share[pipeline.PhaseCollect]; total > 100.001 {
		t.Errorf("phase shares sum to %.2f%%", total)
	}
	if stats.Share[pipeline.PhaseReadBack] != 0 {
		t.Error("unused phase must have no share")
	}
}

func TestPerfCollector_Window(t *testing.T) {
	pc := NewPerfCollector(3)

	run := func(d time.Duration) {
		pc.Begin()
		pc.Mark(pipeline.PhaseReadBack)
		time.Sleep(d)
		pc.End()
	}
	run(20 * time.Millisecond)
	for i := 0; i < 3; i++ {
		run(0)
	}

	stats := pc.Stats()
	if stats.Iterations != 4 {
		t.Errorf("iterations = %d, want 4", stats.Iterations)
	}
	if stats.Max >= 20*time.Millisecond {
		t.Errorf("max = %v, slow iteration should have left the window", stats.Max)
	}
	if stats.Mean < 5*time.Millisecond {
		t.Errorf("mean = %v, want it to include every iteration", stats.Mean)
	}
	if stats.P50 > stats.P99 || stats.P99 > stats.Max {
		t.Errorf("quantiles out of order: p50 %v p99 %v max %v", stats.P50, stats.P99, stats.Max)
	}
}

func TestPerfCollector_UnknownPhaseIgnored(t *testing.T) {
	pc := NewPerfCollector(4)
	pc.Begin()
	pc.Mark("elsewhere")
	pc.End()

	stats := pc.Stats()
	if stats.Iterations != 1 {
		t.Fatalf("iterations = %d", stats.Iterations)
	}
	for name, pct := range stats.Share {
		if pct != 0 {
			t.Errorf("share[%s] = %v, want 0", name, pct)
		}
	}
}

func TestPerfCollector_Empty(t *testing.T) {
	stats := NewPerfCollector(10).Stats()
	if stats.Iterations != 0 || stats.Mean != 0 || stats.Max != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.Share == nil {
		t.Error("expected non-nil share map")
	}
	if stats.PerSecond() != 0 {
		t.Error("expected zero rate")
	}
}

func TestPerfStatsRow(t *testing.T) {
	s := PerfStats{
		Iterations: 3,
		Mean:       2 * time.Millisecond,
		Share:      map[string]float64{pipeline.PhaseWait: 60, pipeline.PhaseCollect: 40},
	}
	row := s.Row(2)
	if row.Device != 2 || row.Iterations != 3 || row.MeanUS != 2000 {
		t.Errorf("unexpected row %+v", row)
	}
	if row.PerSecond != 500 {
		t.Errorf("rate = %v, want 500", row.PerSecond)
	}
	if row.Wait != 60 || row.Collect != 40 {
		t.Errorf("phase columns = %v/%v, want 60/40", row.Wait, row.Collect)
	}
}

func TestStopwatch(t *testing.T) {
	w := NewStopwatch()
	boom := errors.New("boom")

	if err := w.Time("load", func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if err := w.Time("track", func() error {
		time.Sleep(time.Millisecond)
		return boom
	}); !errors.Is(err, boom) {
		t.Errorf("Time returned %v, want boom", err)
	}

	secs := w.Seconds()
	if len(secs) != 2 {
		t.Fatalf("stages = %v", secs)
	}
	if secs["track"] <= 0 {
		t.Error("failed stage must still be timed")
	}
	if got := w.order; got[0] != "load" || got[1] != "track" {
		t.Errorf("order = %v", got)
	}
}
