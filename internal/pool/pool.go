// Package pool keeps connected transport clients for reuse across dials.
package pool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Poolable represents any client that can be pooled and reused.
type Poolable interface {
	Connect(ctx context.Context) error
	Close() error
}

// ErrClosed is returned by Get after Close.
var ErrClosed = errors.New("connection pool closed")

// ConnectionPool manages idle connections keyed by target+headers.
type ConnectionPool[T Poolable] struct {
	mu     sync.Mutex
	idle   map[string][]T
	size   int // max idle connections per key
	closed bool
}

// NewConnectionPool creates a new connection pool with the specified max idle size per key.
func NewConnectionPool[T Poolable](size int) *ConnectionPool[T] {
	if size <= 0 {
		size = 10 // default size
	}
	return &ConnectionPool[T]{
		idle: make(map[string][]T),
		size: size,
	}
}

// Get returns an idle connection for key, or a new connected one from factory.
// reused reports whether the connection came from the pool.
func (p *ConnectionPool[T]) Get(ctx context.Context, key string, factory func() T) (client T, reused bool, err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return client, false, ErrClosed
	}
	if list := p.idle[key]; len(list) > 0 {
		client = list[len(list)-1]
		p.idle[key] = list[:len(list)-1]
		p.mu.Unlock()
		return client, true, nil
	}
	p.mu.Unlock()

	client = factory()
	if err := client.Connect(ctx); err != nil {
		var zero T
		return zero, false, err
	}
	return client, false, nil
}

// Put returns a connection to the pool for reuse.
// If the pool is full or closed, the connection is closed instead.
func (p *ConnectionPool[T]) Put(key string, client T) error {
	p.mu.Lock()
	if !p.closed && len(p.idle[key]) < p.size {
		p.idle[key] = append(p.idle[key], client)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return client.Close()
}

// Reconnect closes a stale connection and connects a replacement once.
func (p *ConnectionPool[T]) Reconnect(ctx context.Context, stale T, factory func() T) (T, error) {
	_ = stale.Close()

	fresh := factory()
	if err := fresh.Connect(ctx); err != nil {
		var zero T
		return zero, fmt.Errorf("reconnect: %w", err)
	}
	return fresh, nil
}

// Idle returns the number of idle connections held for key.
func (p *ConnectionPool[T]) Idle(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[key])
}

// Close closes all idle connections. Connections checked out later are
// closed on Put.
func (p *ConnectionPool[T]) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = make(map[string][]T)
	p.closed = true
	p.mu.Unlock()

	var errs []string
	for _, list := range idle {
		for _, client := range list {
			if err := client.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("pool close errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MakePoolKey generates a deterministic key from a target URL and headers.
func MakePoolKey(target string, headers http.Header) string {
	var sb strings.Builder
	sb.WriteString(target)
	sb.WriteString("|")

	// Sort keys for deterministic key generation
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("=")
		vals := headers[k]
		for i, v := range vals {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(v)
		}
		sb.WriteString(";")
	}
	return sb.String()
}
