package device

import (
	"fmt"
	"sync/atomic"

	"github.com/pthm-cable/tracker/particle"
	"github.com/pthm-cable/tracker/rbtree"
)

// Kernel advances a single lane's record. Implementations run concurrently
// across lanes and must only touch state owned by the lane or safe for
// concurrent use.
type Kernel interface {
	Advance(r *particle.Record, visited *rbtree.Tree, steps int) error
}

// Walk is a lattice walk inside a bounded volume. Every voxel a particle
// touches is counted once per particle in a shared visitation map; the
// lane's ordered index remembers which voxels that particle has already
// touched.
type Walk struct {
	dims     [3]int32
	maxSteps uint32
	visits   []atomic.Uint32
}

// NewWalk creates a walk kernel over an nx*ny*nz volume.
func NewWalk(dims [3]int32, maxSteps int) (*Walk, error) {
	n := int64(dims[0]) * int64(dims[1]) * int64(dims[2])
	if dims[0] <= 0 || dims[1] <= 0 || dims[2] <= 0 {
		return nil, fmt.Errorf("device: invalid volume %v", dims)
	}
	if n > int64(rbtree.MaxKey) {
		return nil, fmt.Errorf("device: volume %v has %d voxels, more than the index can key", dims, n)
	}
	if maxSteps < 0 {
		return nil, fmt.Errorf("device: negative max steps %d", maxSteps)
	}
	return &Walk{
		dims:     dims,
		maxSteps: uint32(maxSteps),
		visits:   make([]atomic.Uint32, n),
	}, nil
}

// Dims returns the volume dimensions.
func (w *Walk) Dims() [3]int32 { return w.dims }

// Visits copies the visitation map into dst (grown if needed) and returns it.
// It must not be called while a kernel is running.
func (w *Walk) Visits(dst []uint32) []uint32 {
	if cap(dst) < len(w.visits) {
		dst = make([]uint32, len(w.visits))
	}
	dst = dst[:len(w.visits)]
	for i := range w.visits {
		dst[i] = w.visits[i].Load()
	}
	return dst
}

// Voxel returns the linear index of p.
func (w *Walk) Voxel(p [3]int32) uint32 {
	return uint32(p[0]) + uint32(w.dims[0])*(uint32(p[1])+uint32(w.dims[1])*uint32(p[2]))
}

func (w *Walk) inside(p [3]int32) bool {
	for axis := 0; axis < 3; axis++ {
		if p[axis] < 0 || p[axis] >= w.dims[axis] {
			return false
		}
	}
	return true
}

// Advance implements Kernel.
func (w *Walk) Advance(r *particle.Record, visited *rbtree.Tree, steps int) error {
	if r.Status != particle.Active {
		return nil
	}
	if r.Steps == 0 {
		// New particle in this lane.
		visited.Reset()
		r.Visited = 0
		if !w.inside(r.Pos) {
			return fmt.Errorf("lane %d particle %d at %v: %w", r.Offset, r.ID, r.Pos, ErrOutsideVolume)
		}
		if err := w.touch(r, visited); err != nil {
			return err
		}
	}

	for i := 0; i < steps; i++ {
		if r.Steps >= w.maxSteps {
			r.Status = particle.Complete
			return nil
		}
		axis, delta := move(r)
		r.Pos[axis] += delta
		r.Steps++
		if !w.inside(r.Pos) {
			r.Status = particle.Complete
			return nil
		}
		if err := w.touch(r, visited); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walk) touch(r *particle.Record, visited *rbtree.Tree) error {
	v := w.Voxel(r.Pos)
	added, err := visited.Insert(v)
	if err != nil {
		return fmt.Errorf("device: lane %d particle %d step %d: %w", r.Offset, r.ID, r.Steps, err)
	}
	if added {
		r.Visited++
		w.visits[v].Add(1)
	}
	return nil
}

// move draws the next step from the record's xorshift state. Steps favour
// the record's direction three to one along the chosen axis.
func move(r *particle.Record) (axis int, delta int32) {
	x := r.RNG
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	r.RNG = x

	axis = int(x % 3)
	delta = int32(r.Dir)
	if (x>>8)&3 == 0 {
		delta = -delta
	}
	return axis, delta
}
