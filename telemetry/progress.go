package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pthm-cable/tracker/particle"
)

// Counter reports how many seeds have been handed out so far.
type Counter interface {
	Count() int64
	Total() int64
}

// ProgressRow is one progress sample. Counts are logical particles, so a
// particle is only half processed until both its directions are popped.
type ProgressRow struct {
	ElapsedMs int64   `csv:"elapsed_ms"`
	Processed int64   `csv:"processed"`
	Total     int64   `csv:"total"`
	Percent   float64 `csv:"percent"`
	Rate      float64 `csv:"particles_per_sec"`
}

// String renders the row as a console progress line.
func (r ProgressRow) String() string {
	return fmt.Sprintf("Processed %d/%d [%.1f%%] [%.0f particles/sec]", r.Processed, r.Total, r.Percent, r.Rate)
}

// Progress polls a Counter and reports throughput.
type Progress struct {
	counter  Counter
	interval time.Duration
	logger   *slog.Logger
	out      *OutputManager
	start    time.Time
	last     int64
}

// NewProgress creates a reporter polling counter every interval. out may be
// nil to skip progress.csv.
func NewProgress(counter Counter, interval time.Duration, logger *slog.Logger, out *OutputManager) *Progress {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Progress{
		counter:  counter,
		interval: interval,
		logger:   logger,
		out:      out,
		start:    time.Now(),
		last:     -1,
	}
}

// Sample computes a progress row as of now.
func (p *Progress) Sample(now time.Time) ProgressRow {
	elapsed := now.Sub(p.start)
	row := ProgressRow{
		ElapsedMs: elapsed.Milliseconds(),
		Processed: p.counter.Count() / particle.DirectionsPerParticle,
		Total:     p.counter.Total() / particle.DirectionsPerParticle,
	}
	if row.Total > 0 {
		row.Percent = float64(row.Processed) / float64(row.Total) * 100
	}
	if secs := elapsed.Seconds(); secs > 0 {
		row.Rate = float64(row.Processed) / secs
	}
	return row
}

// Run reports until ctx is done, then reports once more.
func (p *Progress) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return p.report(time.Now(), true)
		case now := <-ticker.C:
			if err := p.report(now, false); err != nil {
				return err
			}
		}
	}
}

// report logs and records a sample when the count moved or force is set.
func (p *Progress) report(now time.Time, force bool) error {
	row := p.Sample(now)
	if row.Processed == p.last && !force {
		return nil
	}
	p.last = row.Processed
	p.logger.Info(row.String(),
		"processed", row.Processed,
		"total", row.Total,
		"rate", row.Rate,
	)
	return p.out.WriteProgress(row)
}
