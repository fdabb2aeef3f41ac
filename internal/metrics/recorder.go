package metrics

import (
	"fmt"
	"sync"
	"time"
)

// Slot is the outcome of a Reserve call.
type Slot int

const (
	// SlotGranted means the caller owns one send slot and must Commit or Release it.
	SlotGranted Slot = iota
	// SlotPending means every remaining slot is held by an in-flight send; try again shortly.
	SlotPending
	// SlotExhausted means the message limit has been reached.
	SlotExhausted
)

// Clock returns the current time as Unix nanoseconds.
type Clock func() int64

// WallClock is the default Clock. Reports from different hosts are only
// comparable if their wall clocks are synchronized.
func WallClock() int64 { return time.Now().UnixNano() }

// Recorder owns a timestamp series and its counters. Counting and appending
// happen under one mutex, so the series length always equals the count.
type Recorder struct {
	mu           sync.Mutex
	timestamps   []int64
	inflight     int64
	failures     int64
	errorsByType map[string]int64
	clock        Clock
}

// NewRecorder returns an empty Recorder. capacityHint pre-sizes the series.
func NewRecorder(capacityHint int, clock Clock) *Recorder {
	if clock == nil {
		clock = WallClock
	}
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &Recorder{
		timestamps:   make([]int64, 0, capacityHint),
		errorsByType: make(map[string]int64),
		clock:        clock,
	}
}

// Now reads the recorder's clock.
func (r *Recorder) Now() int64 {
	return r.clock()
}

// Reserve claims a send slot against limit (0 means unbounded).
func (r *Recorder) Reserve(limit int64) Slot {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := int64(len(r.timestamps))
	if limit > 0 {
		if count >= limit {
			return SlotExhausted
		}
		if count+r.inflight >= limit {
			return SlotPending
		}
	}
	r.inflight++
	return SlotGranted
}

// Commit turns a granted slot into a recorded message stamped at ts and
// returns the new count.
func (r *Recorder) Commit(ts int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inflight > 0 {
		r.inflight--
	}
	r.timestamps = append(r.timestamps, ts)
	return int64(len(r.timestamps))
}

// Release gives a granted slot back after a failed send and records the failure.
func (r *Recorder) Release(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inflight > 0 {
		r.inflight--
	}
	if err == nil {
		return
	}
	r.failures++
	r.errorsByType[FriendlyErrorName(fmt.Sprintf("%T", err))]++
}

// Admit stamps and records one message unless limit (when > 0) is already
// reached or admit, called under the lock, returns false. It reports the
// resulting count and whether the message was kept.
func (r *Recorder) Admit(limit int64, admit func() bool) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit > 0 && int64(len(r.timestamps)) >= limit {
		return int64(len(r.timestamps)), false
	}
	if admit != nil && !admit() {
		return int64(len(r.timestamps)), false
	}
	r.timestamps = append(r.timestamps, r.clock())
	return int64(len(r.timestamps)), true
}

// Count returns the number of recorded messages.
func (r *Recorder) Count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.timestamps))
}

// Failures returns the number of released slots that carried an error.
func (r *Recorder) Failures() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

// Timestamps returns a copy of the series in insertion order.
func (r *Recorder) Timestamps() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]int64, len(r.timestamps))
	copy(out, r.timestamps)
	return out
}

// ErrorBreakdown returns failure counts keyed by friendly error name.
func (r *Recorder) ErrorBreakdown() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make(map[string]int, len(r.errorsByType))
	for k, v := range r.errorsByType {
		result[k] = int(v)
	}
	return result
}
