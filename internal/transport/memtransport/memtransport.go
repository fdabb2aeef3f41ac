// Package memtransport is an in-process transport used by tests and by the
// "memory" protocol for dry runs. Senders deliver straight into the bound
// server's handler.
package memtransport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/torosent/msgmeter/internal/transport"
)

// Options tune the simulated network.
type Options struct {
	Latency   time.Duration          // added to every send
	FailEvery int64                  // every Nth send attempt fails; 0 disables
	DialError func(worker int) error // optional dial failure injection
}

// Network connects memory senders to at most one memory server.
type Network struct {
	opts Options

	mu      sync.RWMutex
	handler transport.Handler
	closed  bool

	attempts  atomic.Int64
	delivered atomic.Int64
	dialed    atomic.Int64
	released  atomic.Int64
}

// New returns an unbound network.
func New(opts Options) *Network {
	return &Network{opts: opts}
}

type injectedError struct {
	attempt int64
}

func (e *injectedError) Error() string {
	return fmt.Sprintf("injected failure on attempt %d", e.attempt)
}

// IsInjected reports whether err came from FailEvery.
func IsInjected(err error) bool {
	var ie *injectedError
	return errors.As(err, &ie)
}

// Dial implements transport.Dialer.
func (n *Network) Dial(ctx context.Context, worker int) (transport.Sender, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n.opts.DialError != nil {
		if err := n.opts.DialError(worker); err != nil {
			return nil, err
		}
	}
	n.dialed.Add(1)
	return &sender{net: n}, nil
}

// Close implements transport.Dialer.
func (n *Network) Close() error { return nil }

// Server returns the network's server side.
func (n *Network) Server() transport.Server {
	return &server{net: n}
}

// Attempts returns the number of Send calls.
func (n *Network) Attempts() int64 { return n.attempts.Load() }

// Delivered returns the number of sends that succeeded.
func (n *Network) Delivered() int64 { return n.delivered.Load() }

// Bound reports whether a handler is currently listening.
func (n *Network) Bound() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.handler != nil
}

// OpenSenders returns dialed senders not yet closed.
func (n *Network) OpenSenders() int64 { return n.dialed.Load() - n.released.Load() }

func (n *Network) deliver(ctx context.Context, payload []byte) error {
	attempt := n.attempts.Add(1)
	if n.opts.FailEvery > 0 && attempt%n.opts.FailEvery == 0 {
		return &injectedError{attempt: attempt}
	}
	if n.opts.Latency > 0 {
		timer := time.NewTimer(n.opts.Latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	n.mu.RLock()
	h, closed := n.handler, n.closed
	n.mu.RUnlock()
	if closed {
		return transport.ErrUnavailable
	}
	if h != nil {
		if err := h(ctx, payload); err != nil {
			return err
		}
	}
	n.delivered.Add(1)
	return nil
}

type sender struct {
	net    *Network
	closed atomic.Bool
}

func (s *sender) Send(ctx context.Context, payload []byte) error {
	if s.closed.Load() {
		return errors.New("memory sender closed")
	}
	return s.net.deliver(ctx, payload)
}

func (s *sender) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.net.released.Add(1)
	}
	return nil
}

type server struct {
	net *Network
}

func (s *server) Listen(ctx context.Context, h transport.Handler) error {
	if h == nil {
		return errors.New("memory server: nil handler")
	}
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	if s.net.handler != nil {
		return errors.New("memory server: already bound")
	}
	s.net.handler = h
	s.net.closed = false
	return nil
}

func (s *server) Shutdown(ctx context.Context) error {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	s.net.handler = nil
	s.net.closed = true
	return nil
}

func (s *server) Addr() string { return "memory" }
