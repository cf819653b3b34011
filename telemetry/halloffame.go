package telemetry

import (
	"slices"
	"sync"

	"github.com/sugawarayuuta/sonnet"

	"github.com/pthm-cable/tracker/particle"
)

// HallEntry describes one notable completed track.
type HallEntry struct {
	ID      uint32   `json:"id"`
	Dir     int8     `json:"dir"`
	Steps   uint32   `json:"steps"`
	Visited uint32   `json:"visited"`
	Start   [3]int32 `json:"start"`
	End     [3]int32 `json:"end"`
}

// better orders entries by steps, then distinct voxels, then id and direction.
func better(a, b HallEntry) bool {
	if a.Steps != b.Steps {
		return a.Steps > b.Steps
	}
	if a.Visited != b.Visited {
		return a.Visited > b.Visited
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.Dir > b.Dir
}

// HallOfFame keeps the longest tracks seen. It is a pipeline sink and is
// safe for concurrent Emit.
type HallOfFame struct {
	mu      sync.Mutex
	entries []HallEntry
	maxSize int
}

// NewHallOfFame creates a hall holding at most maxSize tracks.
func NewHallOfFame(maxSize int) *HallOfFame {
	return &HallOfFame{entries: make([]HallEntry, 0, maxSize), maxSize: maxSize}
}

// Emit implements pipeline.Sink.
func (hof *HallOfFame) Emit(r particle.Record) error {
	if hof.maxSize <= 0 {
		return nil
	}
	e := HallEntry{ID: r.ID, Dir: r.Dir, Steps: r.Steps, Visited: r.Visited, Start: r.Start, End: r.Pos}

	hof.mu.Lock()
	defer hof.mu.Unlock()

	n := len(hof.entries)
	if n == hof.maxSize && !better(e, hof.entries[n-1]) {
		return nil
	}
	i, _ := slices.BinarySearchFunc(hof.entries, e, func(have, want HallEntry) int {
		if better(have, want) {
			return -1
		}
		return 1
	})
	hof.entries = slices.Insert(hof.entries, i, e)
	if len(hof.entries) > hof.maxSize {
		hof.entries = hof.entries[:hof.maxSize]
	}
	return nil
}

// Entries returns the hall, best first.
func (hof *HallOfFame) Entries() []HallEntry {
	hof.mu.Lock()
	defer hof.mu.Unlock()
	return slices.Clone(hof.entries)
}

// MarshalJSON encodes the hall, best first.
func (hof *HallOfFame) MarshalJSON() ([]byte, error) {
	return sonnet.Marshal(hof.Entries())
}
