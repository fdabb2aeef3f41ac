// Package report builds, writes and loads the per-engine timestamp reports.
//
// A report is a JSON document with two-space indentation:
//
//	{
//	  "total_sent": 3,
//	  "timestamps": [1000, 2000, 3000],
//	  "start_time": 1000,
//	  "end_time": 3000,
//	  "avg_rate_per_sec": 1500000
//	}
//
// Receiver reports carry "total_received" instead of "total_sent".
package report

import (
	"errors"
	"fmt"
	"time"
)

// Kind distinguishes sender and receiver reports.
type Kind string

const (
	KindSender   Kind = "sender"
	KindReceiver Kind = "receiver"
)

// DefaultPath returns the conventional report filename for kind.
func DefaultPath(kind Kind) string {
	if kind == KindReceiver {
		return "receiver_report.txt"
	}
	return "sender_report.txt"
}

// ErrUnknownKind is returned when a document has neither total field.
var ErrUnknownKind = errors.New("report has neither total_sent nor total_received")

// Report is the immutable summary of one engine run.
type Report struct {
	Kind          Kind
	Total         int64
	Timestamps    []int64
	StartTime     int64
	EndTime       int64
	AvgRatePerSec float64
}

// Build derives a report from a timestamp series. The series is copied.
func Build(kind Kind, timestamps []int64) Report {
	ts := make([]int64, len(timestamps))
	copy(ts, timestamps)

	r := Report{Kind: kind, Total: int64(len(ts)), Timestamps: ts}
	if len(ts) > 0 {
		r.StartTime = ts[0]
		r.EndTime = ts[len(ts)-1]
	}
	if elapsed := r.Elapsed(); elapsed > 0 {
		r.AvgRatePerSec = float64(r.Total) / elapsed.Seconds()
	}
	return r
}

// Elapsed is last minus first timestamp, or 0 with fewer than two samples.
func (r Report) Elapsed() time.Duration {
	if len(r.Timestamps) < 2 {
		return 0
	}
	d := r.Timestamps[len(r.Timestamps)-1] - r.Timestamps[0]
	if d <= 0 {
		return 0
	}
	return time.Duration(d)
}

// Validate checks internal consistency of a loaded report.
func (r Report) Validate() error {
	switch r.Kind {
	case KindSender, KindReceiver:
	default:
		return fmt.Errorf("invalid kind %q", r.Kind)
	}
	if r.Total < 0 {
		return fmt.Errorf("negative total %d", r.Total)
	}
	return nil
}

// totalField is the JSON name of the count for this kind.
func (k Kind) totalField() string {
	if k == KindReceiver {
		return "total_received"
	}
	return "total_sent"
}
