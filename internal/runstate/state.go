// Package runstate tracks the Running → ShuttingDown → Stopped lifecycle of an engine.
//
// The Running → ShuttingDown transition is a compare-and-swap, so exactly one caller
// wins the right to run the shutdown sequence no matter how many triggers fire.
package runstate

import (
	"sync"
	"sync/atomic"
)

// Phase is one step of the engine lifecycle.
type Phase int32

const (
	Running Phase = iota
	ShuttingDown
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting_down"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Shutdown reasons shared by the engines.
const (
	ReasonCount     = "count"
	ReasonDuration  = "duration"
	ReasonCancelled = "cancelled"
	ReasonStopped   = "stopped"
)

// State is safe for concurrent use. The zero value is not usable; call New.
type State struct {
	phase    atomic.Int32
	reason   atomic.Value // string
	draining chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// New returns a State in the Running phase.
func New() *State {
	return &State{
		draining: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Phase returns the current phase.
func (s *State) Phase() Phase {
	return Phase(s.phase.Load())
}

// Running reports whether the engine still accepts work.
func (s *State) Running() bool {
	return s.Phase() == Running
}

// BeginShutdown moves Running → ShuttingDown. It returns true only for the
// single caller that performed the transition; every later call is a no-op.
func (s *State) BeginShutdown(reason string) bool {
	if !s.phase.CompareAndSwap(int32(Running), int32(ShuttingDown)) {
		return false
	}
	s.reason.Store(reason)
	close(s.draining)
	return true
}

// MarkStopped moves ShuttingDown → Stopped. Calling it outside ShuttingDown does nothing.
func (s *State) MarkStopped() {
	if !s.phase.CompareAndSwap(int32(ShuttingDown), int32(Stopped)) {
		return
	}
	s.stopOnce.Do(func() { close(s.stopped) })
}

// Reason returns the reason passed to the winning BeginShutdown call, or "".
func (s *State) Reason() string {
	if v, ok := s.reason.Load().(string); ok {
		return v
	}
	return ""
}

// Draining is closed once shutdown has begun.
func (s *State) Draining() <-chan struct{} {
	return s.draining
}

// Stopped is closed once the shutdown sequence has finished.
func (s *State) Stopped() <-chan struct{} {
	return s.stopped
}
