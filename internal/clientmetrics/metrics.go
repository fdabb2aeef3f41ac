// Package clientmetrics tracks traffic volume for one engine: messages,
// payload bytes, errors and open transport connections.
package clientmetrics

import (
	"sync"
	"time"
)

// Counters is safe for concurrent use. The zero value is not ready; use New.
type Counters struct {
	mu          sync.Mutex
	startedAt   time.Time
	messages    int64
	bytes       int64
	errors      int64
	connections int64
	peakConns   int64
}

// New returns empty counters.
func New() *Counters {
	return &Counters{}
}

// MarkStarted stamps the start of traffic. Later calls are ignored.
func (c *Counters) MarkStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startedAt.IsZero() {
		c.startedAt = time.Now()
	}
}

// AddMessage counts one delivered message of size bytes.
func (c *Counters) AddMessage(size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages++
	c.bytes += int64(size)
}

// AddError counts one failed message.
func (c *Counters) AddError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors++
}

// ConnectionOpened counts a transport connection.
func (c *Counters) ConnectionOpened() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connections++
	if c.connections > c.peakConns {
		c.peakConns = c.connections
	}
}

// ConnectionClosed releases a transport connection.
func (c *Counters) ConnectionClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connections > 0 {
		c.connections--
	}
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	Uptime          time.Duration
	Messages        int64
	Bytes           int64
	Errors          int64
	OpenConnections int64
	PeakConnections int64
}

// Snapshot returns a consistent copy.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var uptime time.Duration
	if !c.startedAt.IsZero() {
		uptime = time.Since(c.startedAt)
	}
	return Snapshot{
		Uptime:          uptime,
		Messages:        c.messages,
		Bytes:           c.bytes,
		Errors:          c.errors,
		OpenConnections: c.connections,
		PeakConnections: c.peakConns,
	}
}

// BytesPerSecond is payload throughput over Uptime.
func (s Snapshot) BytesPerSecond() float64 {
	if s.Uptime <= 0 {
		return 0
	}
	return float64(s.Bytes) / s.Uptime.Seconds()
}
