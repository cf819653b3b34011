package pipeline

import (
	"fmt"

	"github.com/pthm-cable/tracker/particle"
)

// Reduce harvests a chunk read back from the device. Every position that
// needs a seed gets the next one from src, stamped with its absolute offset;
// completed records are emitted to sink first. Active records are left on the
// device and dropped from the chunk, so after Reduce the chunk holds only what
// must be written back.
//
// Once src is exhausted, completed positions are written back vacant so they
// are not harvested twice, and vacant positions are skipped entirely.
func Reduce(c *particle.Chunk, src Source, sink Sink) (popped, emitted int, err error) {
	n := 0
	exhausted := false
	for i := 0; i < c.Len; i++ {
		r := c.Records[i]
		if !r.NeedsSeed() {
			continue
		}
		if r.Status == particle.Complete {
			if err := sink.Emit(r); err != nil {
				return popped, emitted, fmt.Errorf("pipeline: emitting record at %d: %w", r.Offset, err)
			}
			emitted++
		}

		offset := int32(c.Offset + i)
		if !exhausted {
			if seed, ok := src.Pop(); ok {
				seed.Offset = offset
				seed.Status = particle.Active
				c.Records[n] = seed
				n++
				popped++
				continue
			}
			exhausted = true
		}
		if r.Status == particle.Complete {
			c.Records[n] = particle.VacantAt(offset)
			n++
		}
	}
	c.Len = n
	return popped, emitted, nil
}

// reduce is the post-processing goroutine for one slot.
func (p *Pipeline) reduce(s *slot) error {
	for {
		c, ok, err := await(s.ready, p.timeout, p.stopRequested)
		if err != nil {
			return err
		}
		if !ok {
			// Driver closed the slot after draining.
			return nil
		}

		popped, emitted, err := Reduce(c, p.src, p.sink)
		p.popped.Add(int64(popped))
		p.emitted.Add(int64(emitted))
		p.inflight.Add(int64(popped - emitted))
		if err != nil {
			return fmt.Errorf("slot %d: %w", s.id, err)
		}

		s.reduced <- c
	}
}
