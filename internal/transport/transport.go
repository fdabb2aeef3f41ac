// Package transport defines the capability msgmeter needs from a wire protocol:
// send one message, or serve and hand each received message to a handler.
package transport

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by a Handler once the receiver has stopped
// accepting messages. Bindings map it to their protocol's "service
// unavailable" reply.
var ErrUnavailable = errors.New("receiver unavailable")

// Sender transmits one message per call. A Sender is owned by a single worker.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Dialer opens one Sender per worker. Close releases resources shared by
// all Senders it produced.
type Dialer interface {
	Dial(ctx context.Context, worker int) (Sender, error)
	Close() error
}

// Handler is invoked once per received message.
type Handler func(ctx context.Context, payload []byte) error

// Server accepts messages and passes them to a Handler.
type Server interface {
	// Listen binds and starts serving in the background. It returns once
	// the listener is bound, or with the bind error.
	Listen(ctx context.Context, h Handler) error
	Shutdown(ctx context.Context) error
}

// Addresser is implemented by servers that can report their bound address.
type Addresser interface {
	Addr() string
}
