package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// ProgressReporter prints a running count and rate at a fixed interval.
type ProgressReporter struct {
	count    func() int64
	verb     string
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
	start    time.Time
}

// NewProgressReporter creates a progress reporter that updates at the given
// interval. verb is "Sent" or "Received".
func NewProgressReporter(count func() int64, verb string, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		count:    count,
		verb:     verb,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
		start:    time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	p.start = time.Now()
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprintln(p.writer, ProgressLine(p.verb, p.count(), time.Since(p.start)))
		case <-p.done:
			return
		}
	}
}

// ProgressLine formats one progress update.
func ProgressLine(verb string, n int64, elapsed time.Duration) string {
	rate := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(n) / secs
	}
	return fmt.Sprintf("%s %d messages, rate: %.2f msgs/sec", verb, n, rate)
}
