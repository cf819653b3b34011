package pipeline

import (
	"time"

	"github.com/pthm-cable/tracker/particle"
)

// slot is the hand-off point between the driving goroutine and one
// post-processor. Exactly one chunk circulates through the two channels, so
// whoever holds it owns it; "data ready" and "reduction complete" can never
// both be pending.
type slot struct {
	id      int
	ready   chan *particle.Chunk // driver -> post-processor
	reduced chan *particle.Chunk // post-processor -> driver
}

func newSlot(id int, c *particle.Chunk) *slot {
	s := &slot{
		id:      id,
		ready:   make(chan *particle.Chunk, 1),
		reduced: make(chan *particle.Chunk, 1),
	}
	// Initial chunks are all vacant: the post-processor goes first.
	s.ready <- c
	return s
}

// await receives from ch, waking every timeout to call stop. It returns
// ErrShutdown when stop reports true and ok=false when ch was closed.
func await(ch <-chan *particle.Chunk, timeout time.Duration, stop func() bool) (*particle.Chunk, bool, error) {
	if stop() {
		return nil, false, ErrShutdown
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case c, ok := <-ch:
			return c, ok, nil
		case <-timer.C:
			if stop() {
				return nil, false, ErrShutdown
			}
			timer.Reset(timeout)
		}
	}
}

// Split divides total positions among parts, giving the remainder one each
// to the first slots. The counts always sum to total.
func Split(total, parts int) []int {
	if parts <= 0 {
		return nil
	}
	counts := make([]int, parts)
	base, extra := total/parts, total%parts
	for i := range counts {
		counts[i] = base
		if i < extra {
			counts[i]++
		}
	}
	return counts
}
