package tracker

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/pthm-cable/tracker/device"
	"github.com/pthm-cable/tracker/pipeline"
	"github.com/pthm-cable/tracker/telemetry"
)

// Run tracks every seed ("track"), then writes the results ("write"). The
// summary is returned even when tracking stops early; the error is the
// tracking failure, or ctx.Err() on cancellation.
func (t *Tracker) Run(ctx context.Context) (*telemetry.Summary, error) {
	var runErr error
	t.clock.Time("track", func() error {
		runErr = t.track(ctx)
		return runErr
	})

	status := StatusDrained
	switch {
	case runErr == nil:
	case ctx.Err() != nil && errors.Is(runErr, ctx.Err()):
		status = StatusStopped
	default:
		status = StatusFailed
	}

	var summary *telemetry.Summary
	writeErr := t.clock.Time("write", func() error {
		var err error
		summary, err = t.finish(status, runErr)
		return err
	})

	t.logger.Info("run finished",
		"run_id", t.runID,
		"status", status,
		"stages", t.clock,
		"tracks", summary.Tracks,
	)
	if runErr != nil {
		return summary, runErr
	}
	return summary, writeErr
}

// track runs every pipeline alongside the watchdog and progress reporter.
func (t *Tracker) track(ctx context.Context) error {
	auxCtx, stopAux := context.WithCancel(context.Background())
	var aux errgroup.Group
	if t.dog != nil {
		aux.Go(func() error {
			t.dog.Run(auxCtx)
			return nil
		})
	}
	progress := telemetry.NewProgress(t.queue, t.cfg.Derived.ProgressInterval, t.logger, t.out)
	aux.Go(func() error { return progress.Run(auxCtx) })

	err := pipeline.RunAll(ctx, t.pipes)
	stopAux()
	if auxErr := aux.Wait(); auxErr != nil {
		err = errors.Join(err, fmt.Errorf("progress: %w", auxErr))
	}
	return err
}

// finish merges device state and writes every output.
func (t *Tracker) finish(status string, runErr error) (*telemetry.Summary, error) {
	s := &telemetry.Summary{
		Version:   telemetry.SummaryVersion,
		RunID:     t.runID,
		Seed:      t.seed,
		Status:    status,
		Devices:   len(t.devs),
		Particles: t.cfg.Particles.Count,
		Stages:    t.clock.Seconds(),
		Tracks:    t.tracks.Summary(),
	}
	if runErr != nil {
		s.Error = runErr.Error()
	}
	if t.dog != nil {
		s.Stalls = t.dog.Stalls()
	}

	var errs []error
	for i, p := range t.pipes {
		ps := p.Stats()
		s.Popped += ps.Popped
		s.Emitted += ps.Emitted
		s.Launches += ps.Launches

		// A stopped pipeline may leave its last launch running.
		if err := t.devs[i].WaitForKernel(); err != nil && runErr == nil {
			errs = append(errs, err)
		}
		s.LaneSteps += t.devs[i].Stats().LaneSteps

		perf := t.perf[i].Stats()
		t.logger.Info("device perf", "device", i, "perf", perf)
		errs = append(errs, t.out.WritePerf(i, perf))
	}

	var visits []uint32
	for _, w := range t.walks {
		visits = device.MergeVisits(visits, w.Visits(nil))
	}
	for _, n := range visits {
		if n > 0 {
			s.VisitedVoxels++
			s.TotalVisits += uint64(n)
		}
	}

	errs = append(errs,
		t.out.WriteVisits(t.cfg.Derived.Dims, visits),
		t.out.WriteHallOfFame(t.hof),
		t.out.WriteSummary(s),
	)
	if t.db != nil {
		errs = append(errs, t.db.Close(status))
	}
	errs = append(errs, t.out.Close())

	if t.out != nil {
		t.logger.Info("output written", "dir", t.out.Dir(), "tracks", t.out.TracksWritten())
	}
	return s, errors.Join(errs...)
}
