package pipeline

import (
	"fmt"

	"github.com/pthm-cable/tracker/particle"
)

// drive is the driving goroutine. Side s of the device covers
// [s*pps, (s+1)*pps). Host writes and reads only ever touch the side the
// running kernel is not using: records collected in one iteration were read
// from side X, the kernel running meanwhile uses side Y, and X is the side
// launched next.
func (p *Pipeline) drive() error {
	pps := p.dev.ParticlesPerSide()
	chunks := make([]*particle.Chunk, len(p.slots))
	inactive := 0

	for {
		p.timer.Begin()

		// Collect every reduced chunk and push it to the inactive side.
		for i, s := range p.slots {
			p.timer.Mark(PhaseCollect)
			c, _, err := await(s.reduced, p.timeout, p.stopRequested)
			if err != nil {
				p.timer.End()
				return err
			}
			chunks[i] = c

			p.timer.Mark(PhaseWriteChunk)
			if err := p.dev.WriteParticles(c); err != nil {
				p.timer.End()
				return fmt.Errorf("writing slot %d: %w", s.id, err)
			}
		}

		if p.drained() {
			p.timer.End()
			return p.finish()
		}

		p.timer.Mark(PhaseWait)
		if err := p.dev.WaitForKernel(); err != nil {
			p.timer.End()
			return fmt.Errorf("kernel: %w", err)
		}
		if err := p.dev.RunKernelAsync(inactive); err != nil {
			p.timer.End()
			return fmt.Errorf("launching side %d: %w", inactive, err)
		}
		p.launches.Add(1)

		// The side just launched is now active; the other one holds the
		// previous launch's results.
		inactive = 1 - inactive

		p.timer.Mark(PhaseReadBack)
		offset := pps * inactive
		for i, s := range p.slots {
			n := p.counts[i]
			if err := p.dev.ReadParticles(chunks[i], offset, n); err != nil {
				p.timer.End()
				return fmt.Errorf("reading slot %d: %w", s.id, err)
			}
			offset += n
			s.ready <- chunks[i]
		}
		p.timer.End()
	}
}

// finish waits for the last launch and releases the post-processors.
func (p *Pipeline) finish() error {
	err := p.dev.WaitForKernel()
	for _, s := range p.slots {
		close(s.ready)
	}
	if err != nil {
		return fmt.Errorf("kernel: %w", err)
	}
	return nil
}
