// Package particle defines the records streamed through the tracking pipeline
// and the generator that seeds them.
package particle

import "fmt"

// Status describes what a device memory position currently holds.
type Status uint8

const (
	// Vacant positions hold no particle and are waiting for a seed.
	Vacant Status = iota
	// Active positions hold a particle the kernel is still advancing.
	Active
	// Complete positions hold a finished particle waiting to be harvested.
	Complete
)

func (s Status) String() string {
	switch s {
	case Vacant:
		return "vacant"
	case Active:
		return "active"
	case Complete:
		return "complete"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Record is one particle as stored in device memory.
// Records are plain values so they can be copied between host chunks and
// device sides without aliasing.
type Record struct {
	ID      uint32   // logical particle, shared by both directions
	Dir     int8     // +1 or -1
	Start   [3]int32 // seed voxel
	Pos     [3]int32 // current voxel
	RNG     uint64   // per-record xorshift state
	Steps   uint32   // steps taken so far
	Visited uint32   // distinct voxels touched
	Offset  int32    // absolute position in device memory
	Status  Status
}

// NeedsSeed reports whether the position may be refilled by a post-processor.
// Complete and Vacant records both qualify; Active ones must be left alone.
func (r *Record) NeedsSeed() bool {
	return r.Status != Active
}

// Fresh reports whether the kernel has not advanced this record yet.
func (r *Record) Fresh() bool {
	return r.Status == Active && r.Steps == 0
}

// VacantAt returns an empty record for the given device position.
func VacantAt(offset int32) Record {
	return Record{Offset: offset, Status: Vacant}
}
