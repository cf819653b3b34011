package pipeline

import (
	"errors"
	"sync"

	"github.com/pthm-cable/tracker/particle"
)

// Source supplies seeds to post-processors. Pop must be safe for concurrent
// use and report false once exhausted.
type Source interface {
	Pop() (particle.Record, bool)
	Empty() bool
}

// Sink receives every completed record exactly once. Emit is called
// concurrently from every post-processor of every device.
type Sink interface {
	Emit(r particle.Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(particle.Record) error

// Emit implements Sink.
func (f SinkFunc) Emit(r particle.Record) error { return f(r) }

// Discard drops every record.
var Discard Sink = SinkFunc(func(particle.Record) error { return nil })

// Multi fans each record out to every sink in order, stopping at the first error.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(r particle.Record) error {
		for _, s := range sinks {
			if err := s.Emit(r); err != nil {
				return err
			}
		}
		return nil
	})
}

// Collector keeps completed records in memory.
type Collector struct {
	mu      sync.Mutex
	records []particle.Record
}

// Emit implements Sink.
func (c *Collector) Emit(r particle.Record) error {
	if r.Status != particle.Complete {
		return errors.New("pipeline: emitted record is not complete")
	}
	c.mu.Lock()
	c.records = append(c.records, r)
	c.mu.Unlock()
	return nil
}

// Records returns a copy of everything collected so far.
func (c *Collector) Records() []particle.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]particle.Record, len(c.records))
	copy(out, c.records)
	return out
}

// Len returns the number of records collected.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}
