package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// State is the value of the shared cancellation signal.
type State int32

const (
	// Running means no goroutine has checked in since the last watchdog kick.
	Running State = iota
	// Alive means at least one goroutine has checked in.
	Alive
	// Shutdown asks every goroutine to exit at its next check-in.
	Shutdown
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Alive:
		return "alive"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Signal is the tri-state flag every pipeline goroutine observes when it
// wakes. It is the only cancellation mechanism inside the pipeline.
type Signal struct {
	state atomic.Int32
}

// NewSignal returns a signal in the Running state.
func NewSignal() *Signal {
	return &Signal{}
}

// CheckIn marks the caller alive and reports whether shutdown was requested.
func (s *Signal) CheckIn() bool {
	for {
		switch State(s.state.Load()) {
		case Shutdown:
			return true
		case Alive:
			return false
		}
		if s.state.CompareAndSwap(int32(Running), int32(Alive)) {
			return false
		}
	}
}

// Shutdown requests every observer to exit. It cannot be undone.
func (s *Signal) Shutdown() {
	s.state.Store(int32(Shutdown))
}

// State returns the current value.
func (s *Signal) State() State {
	return State(s.state.Load())
}

// kick moves Alive back to Running and reports whether anyone had checked in.
func (s *Signal) kick() (alive bool, shutdown bool) {
	if s.state.CompareAndSwap(int32(Alive), int32(Running)) {
		return true, false
	}
	return false, s.State() == Shutdown
}

// Watchdog periodically resets the signal and counts intervals in which no
// goroutine checked in.
type Watchdog struct {
	signal   *Signal
	interval time.Duration
	logger   *slog.Logger
	stalls   atomic.Int64
}

// NewWatchdog creates a watchdog for signal. A nil logger uses slog.Default.
func NewWatchdog(signal *Signal, interval time.Duration, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{signal: signal, interval: interval, logger: logger}
}

// Stalls returns the number of silent intervals observed.
func (w *Watchdog) Stalls() int64 {
	return w.stalls.Load()
}

// Run kicks the signal every interval until ctx is done or shutdown is requested.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		alive, shutdown := w.signal.kick()
		if shutdown {
			return
		}
		if !alive {
			n := w.stalls.Add(1)
			w.logger.Warn("no pipeline goroutine checked in",
				"interval", w.interval,
				"stalls", n,
			)
		}
	}
}
