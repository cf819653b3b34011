// Package pipeline streams particle records through a double-buffered device.
//
// Each device gets one driving goroutine and a fixed number of
// post-processing goroutines. The driver owns the device's two memory sides;
// every post-processor owns one slot through which a chunk of records passes
// back and forth. Seeds come from a shared Source and finished records leave
// through a Sink. Devices never share anything but the Source, the Sink and
// the cancellation Signal.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pthm-cable/tracker/particle"
)

// ErrShutdown is returned by goroutines that exited on a shutdown request.
var ErrShutdown = errors.New("pipeline: shutdown requested")

// DefaultWaitTimeout bounds every blocking wait so goroutines re-check the signal.
const DefaultWaitTimeout = 100 * time.Millisecond

// Device is the compute device a pipeline drives. All methods are called
// from the driving goroutine only.
type Device interface {
	ParticlesPerSide() int
	// WriteParticles stores each live record at its own Offset.
	WriteParticles(c *particle.Chunk) error
	// WaitForKernel blocks until the last launch finishes.
	WaitForKernel() error
	// RunKernelAsync starts a launch over side and returns immediately.
	RunKernelAsync(side int) error
	// ReadParticles fills c with count records starting at offset.
	ReadParticles(c *particle.Chunk, offset, count int) error
}

// PhaseTimer receives per-iteration timing from the driving goroutine.
// Mark ends the running phase, if any, and starts the named one.
type PhaseTimer interface {
	Begin()
	Mark(phase string)
	End()
}

// Driver loop phases reported to the PhaseTimer.
const (
	PhaseCollect    = "collect"
	PhaseWait       = "wait_kernel"
	PhaseReadBack   = "read_back"
	PhaseWriteChunk = "write"
)

type noopTimer struct{}

func (noopTimer) Begin()      {}
func (noopTimer) Mark(string) {}
func (noopTimer) End()        {}

// Options configures a pipeline instance.
type Options struct {
	Reducers    int           // post-processing goroutines
	WaitTimeout time.Duration // 0 = DefaultWaitTimeout
	Timer       PhaseTimer    // nil = no timing
	Logger      *slog.Logger  // nil = slog.Default()
}

// Stats summarises a pipeline instance.
type Stats struct {
	Launches int64
	Popped   int64
	Emitted  int64
	InFlight int64
}

// Pipeline is one device's driving goroutine plus its post-processors.
// A Pipeline runs once.
type Pipeline struct {
	id      int
	dev     Device
	src     Source
	sink    Sink
	signal  *Signal
	timeout time.Duration
	timer   PhaseTimer
	logger  *slog.Logger

	slots  []*slot
	counts []int

	popped   atomic.Int64
	emitted  atomic.Int64
	inflight atomic.Int64
	launches atomic.Int64

	// halted stops this instance without touching the shared signal.
	halted   atomic.Bool
	failOnce sync.Once
	failure  error
}

// New creates a pipeline for dev. The signal may be shared between instances.
func New(id int, dev Device, src Source, sink Sink, signal *Signal, opts Options) (*Pipeline, error) {
	pps := dev.ParticlesPerSide()
	if pps <= 0 {
		return nil, fmt.Errorf("pipeline %d: device has %d particles per side", id, pps)
	}
	if opts.Reducers <= 0 || opts.Reducers > pps {
		return nil, fmt.Errorf("pipeline %d: reducers must be in [1, %d], got %d", id, pps, opts.Reducers)
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	if opts.Timer == nil {
		opts.Timer = noopTimer{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if signal == nil {
		signal = NewSignal()
	}

	p := &Pipeline{
		id:      id,
		dev:     dev,
		src:     src,
		sink:    sink,
		signal:  signal,
		timeout: opts.WaitTimeout,
		timer:   opts.Timer,
		logger:  opts.Logger.With("device", id),
		counts:  Split(pps, opts.Reducers),
	}

	// Every slot starts with its share of side 0, all vacant.
	chunkCap := pps/opts.Reducers + 1
	offset := 0
	for i, n := range p.counts {
		p.slots = append(p.slots, newSlot(i, particle.NewChunk(chunkCap, offset, n)))
		offset += n
	}
	return p, nil
}

// Stats returns the instance's counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Launches: p.launches.Load(),
		Popped:   p.popped.Load(),
		Emitted:  p.emitted.Load(),
		InFlight: p.inflight.Load(),
	}
}

// stopRequested is the check-in run on every wake-up.
func (p *Pipeline) stopRequested() bool {
	return p.signal.CheckIn() || p.halted.Load()
}

// drained reports whether no seed is left and every popped seed was emitted.
func (p *Pipeline) drained() bool {
	return p.src.Empty() && p.inflight.Load() == 0
}

// Run drives the device until the source is exhausted and every in-flight
// record has been emitted. Cancelling ctx requests shutdown through the
// shared signal; Run then returns ctx.Err() within about one wait timeout.
// Any goroutine error or panic stops the whole instance and is returned.
func (p *Pipeline) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, p.signal.Shutdown)
	defer stop()

	p.logger.Info("pipeline started",
		"slots", len(p.slots),
		"particles_per_side", p.dev.ParticlesPerSide(),
	)

	var g errgroup.Group
	for _, s := range p.slots {
		p.spawn(&g, fmt.Sprintf("reducer %d", s.id), func() error { return p.reduce(s) })
	}
	p.spawn(&g, "driver", p.drive)

	err := g.Wait()
	if p.failure != nil {
		err = p.failure
	}
	switch {
	case err == nil:
		stats := p.Stats()
		p.logger.Info("pipeline drained",
			"launches", stats.Launches,
			"emitted", stats.Emitted,
		)
		return nil
	case errors.Is(err, ErrShutdown) && ctx.Err() != nil:
		p.logger.Info("pipeline stopped", "reason", ctx.Err())
		return ctx.Err()
	case errors.Is(err, ErrShutdown):
		p.logger.Info("pipeline stopped", "reason", "shutdown signal")
		return err
	default:
		p.logger.Error("pipeline failed", "error", err)
		return fmt.Errorf("pipeline %d: %w", p.id, err)
	}
}

// spawn runs fn under g, turning a panic into an error and halting the
// instance when fn fails.
func (p *Pipeline) spawn(g *errgroup.Group, name string, fn func() error) {
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s panicked: %v", name, r)
			}
			if err != nil {
				if !errors.Is(err, ErrShutdown) {
					p.failOnce.Do(func() { p.failure = err })
				}
				p.halted.Store(true)
			}
		}()
		return fn()
	})
}

// RunAll runs one independent pipeline per device and waits for all of them.
// The first failure shuts every instance down.
func RunAll(ctx context.Context, pipes []*Pipeline) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pipes {
		g.Go(func() error { return p.Run(gctx) })
	}
	return g.Wait()
}
