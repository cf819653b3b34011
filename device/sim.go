// Package device emulates a compute device with two banks of particle memory.
//
// A kernel launch runs asynchronously against one side while the host reads
// and writes the other. The emulator refuses host access to the side a launch
// is using, so any break in the double-buffering protocol surfaces as
// ErrSideBusy instead of silent corruption.
package device

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"github.com/pthm-cable/tracker/particle"
	"github.com/pthm-cable/tracker/rbtree"
)

var (
	// ErrSideBusy is returned for host access to the side a kernel is using.
	ErrSideBusy = errors.New("device: side in use by running kernel")
	// ErrKernelBusy is returned when launching while a previous launch is unfinished.
	ErrKernelBusy = errors.New("device: kernel already running")
	// ErrOutOfRange is returned for offsets outside device memory.
	ErrOutOfRange = errors.New("device: offset out of range")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("device: closed")
	// ErrKernelPanic wraps a panic raised by a kernel lane.
	ErrKernelPanic = errors.New("device: kernel panicked")
	// ErrOutsideVolume is returned for a record starting outside the walk volume.
	ErrOutsideVolume = errors.New("device: record outside volume")
)

const idle = -1

// Options configures a Sim device.
type Options struct {
	ParticlesPerSide int
	StepsPerLaunch   int
	IndexCapacity    int // ordered index nodes per lane
	Workers          int // lane goroutines (0 = GOMAXPROCS)
	LanesPerTask     int // lanes handed to one goroutine at a time (0 = 64)
}

// Stats reports device activity counters.
type Stats struct {
	Launches  int64
	LaneSteps int64
}

// Sim is a CPU-backed device. Host methods must be called from a single
// goroutine, as the pipeline's driving goroutine does.
type Sim struct {
	id   int
	pps  int
	opts Options

	mem    []particle.Record
	lanes  []*rbtree.Tree
	kernel Kernel
	pool   *ants.Pool

	running atomic.Int32
	done    chan error
	closed  bool

	launches  atomic.Int64
	laneSteps atomic.Int64
}

// NewSim allocates device memory for both sides and one ordered index per lane.
func NewSim(id int, kernel Kernel, opts Options) (*Sim, error) {
	if opts.ParticlesPerSide <= 0 {
		return nil, fmt.Errorf("device %d: particles per side must be positive, got %d", id, opts.ParticlesPerSide)
	}
	if opts.StepsPerLaunch <= 0 {
		return nil, fmt.Errorf("device %d: steps per launch must be positive, got %d", id, opts.StepsPerLaunch)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.LanesPerTask <= 0 {
		opts.LanesPerTask = 64
	}

	n := 2 * opts.ParticlesPerSide
	lanes := make([]*rbtree.Tree, n)
	for i := range lanes {
		t, err := rbtree.New(opts.IndexCapacity)
		if err != nil {
			return nil, fmt.Errorf("device %d: lane %d: %w", id, i, err)
		}
		lanes[i] = t
	}

	pool, err := ants.NewPool(opts.Workers, ants.WithPreAlloc(true))
	if err != nil {
		return nil, fmt.Errorf("device %d: creating lane pool: %w", id, err)
	}

	d := &Sim{
		id:     id,
		pps:    opts.ParticlesPerSide,
		opts:   opts,
		mem:    make([]particle.Record, n),
		lanes:  lanes,
		kernel: kernel,
		pool:   pool,
	}
	for i := range d.mem {
		d.mem[i] = particle.VacantAt(int32(i))
	}
	d.running.Store(idle)
	return d, nil
}

// ID returns the device index.
func (d *Sim) ID() int { return d.id }

// ParticlesPerSide returns the number of lanes in each side.
func (d *Sim) ParticlesPerSide() int { return d.pps }

// ActiveSide returns the side a launch is using, or -1 when idle.
func (d *Sim) ActiveSide() int { return int(d.running.Load()) }

// Stats returns activity counters.
func (d *Sim) Stats() Stats {
	return Stats{Launches: d.launches.Load(), LaneSteps: d.laneSteps.Load()}
}

func (d *Sim) sideOf(offset int) int { return offset / d.pps }

// WriteParticles scatters the chunk's live records to their own offsets.
func (d *Sim) WriteParticles(c *particle.Chunk) error {
	if d.closed {
		return ErrClosed
	}
	busy := int(d.running.Load())
	for _, r := range c.Live() {
		off := int(r.Offset)
		if off < 0 || off >= len(d.mem) {
			return fmt.Errorf("device %d: write at %d: %w", d.id, off, ErrOutOfRange)
		}
		if d.sideOf(off) == busy {
			return fmt.Errorf("device %d: write at %d (side %d): %w", d.id, off, busy, ErrSideBusy)
		}
		d.mem[off] = r
	}
	return nil
}

// ReadParticles copies count records starting at offset into the chunk.
// The range must lie within a single side.
func (d *Sim) ReadParticles(c *particle.Chunk, offset, count int) error {
	if d.closed {
		return ErrClosed
	}
	if count < 0 || count > len(c.Records) {
		return fmt.Errorf("device %d: read of %d into chunk of %d", d.id, count, len(c.Records))
	}
	if offset < 0 || offset+count > len(d.mem) {
		return fmt.Errorf("device %d: read [%d,%d): %w", d.id, offset, offset+count, ErrOutOfRange)
	}
	if count > 0 {
		first, last := d.sideOf(offset), d.sideOf(offset+count-1)
		if first != last {
			return fmt.Errorf("device %d: read [%d,%d) spans both sides: %w", d.id, offset, offset+count, ErrOutOfRange)
		}
		if first == int(d.running.Load()) {
			return fmt.Errorf("device %d: read side %d: %w", d.id, first, ErrSideBusy)
		}
	}
	copy(c.Records[:count], d.mem[offset:offset+count])
	c.Offset = offset
	c.Len = count
	return nil
}

// RunKernelAsync starts a launch over every lane of side.
func (d *Sim) RunKernelAsync(side int) error {
	if d.closed {
		return ErrClosed
	}
	if side != 0 && side != 1 {
		return fmt.Errorf("device %d: invalid side %d", d.id, side)
	}
	if d.done != nil {
		return ErrKernelBusy
	}
	d.running.Store(int32(side))
	d.done = make(chan error, 1)
	d.launches.Add(1)
	go d.launch(side, d.done)
	return nil
}

// WaitForKernel blocks until the outstanding launch finishes and returns its
// error. It returns nil immediately when nothing is running.
func (d *Sim) WaitForKernel() error {
	if d.done == nil {
		return nil
	}
	err := <-d.done
	d.done = nil
	d.running.Store(idle)
	return err
}

// launch fans the side's lanes out over the pool in fixed-size tasks.
func (d *Sim) launch(side int, done chan<- error) {
	base := side * d.pps
	steps := d.opts.StepsPerLaunch

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for start := base; start < base+d.pps; start += d.opts.LanesPerTask {
		end := min(start+d.opts.LanesPerTask, base+d.pps)
		wg.Add(1)
		lo, hi := start, end
		err := d.pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if v := recover(); v != nil {
					fail(fmt.Errorf("device %d: lanes [%d,%d): %w: %v", d.id, lo, hi, ErrKernelPanic, v))
				}
			}()
			var taken int64
			for i := lo; i < hi; i++ {
				r := &d.mem[i]
				if r.Status != particle.Active {
					continue
				}
				before := r.Steps
				if err := d.kernel.Advance(r, d.lanes[i], steps); err != nil {
					fail(err)
					return
				}
				taken += int64(r.Steps - before)
			}
			d.laneSteps.Add(taken)
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("device %d: submitting lanes [%d,%d): %w", d.id, lo, hi, err))
			break
		}
	}
	wg.Wait()
	done <- firstErr
}

// Close waits for any running launch and releases the lane pool.
func (d *Sim) Close() error {
	if d.closed {
		return nil
	}
	err := d.WaitForKernel()
	d.closed = true
	d.pool.Release()
	return err
}
