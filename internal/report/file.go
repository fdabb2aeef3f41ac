package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type senderDoc struct {
	TotalSent     int64   `json:"total_sent"`
	Timestamps    []int64 `json:"timestamps"`
	StartTime     int64   `json:"start_time"`
	EndTime       int64   `json:"end_time"`
	AvgRatePerSec float64 `json:"avg_rate_per_sec"`
}

type receiverDoc struct {
	TotalReceived int64   `json:"total_received"`
	Timestamps    []int64 `json:"timestamps"`
	StartTime     int64   `json:"start_time"`
	EndTime       int64   `json:"end_time"`
	AvgRatePerSec float64 `json:"avg_rate_per_sec"`
}

// Encode renders r as its on-disk JSON document.
func Encode(r Report) ([]byte, error) {
	ts := r.Timestamps
	if ts == nil {
		ts = []int64{}
	}
	var doc any
	switch r.Kind {
	case KindSender:
		doc = senderDoc{r.Total, ts, r.StartTime, r.EndTime, r.AvgRatePerSec}
	case KindReceiver:
		doc = receiverDoc{r.Total, ts, r.StartTime, r.EndTime, r.AvgRatePerSec}
	default:
		return nil, fmt.Errorf("encode report: invalid kind %q", r.Kind)
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Decode parses a report document, detecting its kind from the total field.
func Decode(data []byte) (Report, error) {
	if !gjson.ValidBytes(data) {
		return Report{}, errors.New("not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Report{}, errors.New("top-level value is not an object")
	}

	sent, recv := root.Get(KindSender.totalField()), root.Get(KindReceiver.totalField())
	var kind Kind
	switch {
	case sent.Exists() && recv.Exists():
		return Report{}, errors.New("report has both total_sent and total_received")
	case sent.Exists():
		kind = KindSender
	case recv.Exists():
		kind = KindReceiver
	default:
		return Report{}, ErrUnknownKind
	}
	if ts := root.Get("timestamps"); !ts.Exists() {
		return Report{}, errors.New("missing timestamps")
	} else if !ts.IsArray() {
		return Report{}, errors.New("timestamps is not an array")
	}

	var r Report
	switch kind {
	case KindSender:
		var doc senderDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return Report{}, err
		}
		r = Report{KindSender, doc.TotalSent, doc.Timestamps, doc.StartTime, doc.EndTime, doc.AvgRatePerSec}
	case KindReceiver:
		var doc receiverDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return Report{}, err
		}
		r = Report{KindReceiver, doc.TotalReceived, doc.Timestamps, doc.StartTime, doc.EndTime, doc.AvgRatePerSec}
	}
	if r.Timestamps == nil {
		r.Timestamps = []int64{}
	}
	if err := r.Validate(); err != nil {
		return Report{}, err
	}
	return r, nil
}

// Write replaces path with the encoded report. The document goes to a temp
// file in the same directory, is fsynced and renamed over path while holding
// an advisory lock on path+".lock".
func Write(path string, r Report) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer func() { _ = lock.Unlock() }()

	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write report %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync report %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close report %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod report %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename report %s: %w", path, err)
	}
	return nil
}

// Load reads and validates the report at path.
func Load(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("read report %s: %w", path, err)
	}
	r, err := Decode(data)
	if err != nil {
		return Report{}, fmt.Errorf("parse report %s: %w", path, err)
	}
	return r, nil
}

// LoadKind loads path and requires it to be a report of kind.
func LoadKind(path string, kind Kind) (Report, error) {
	r, err := Load(path)
	if err != nil {
		return Report{}, err
	}
	if r.Kind != kind {
		return Report{}, fmt.Errorf("report %s: expected a %s report, found a %s report", path, kind, r.Kind)
	}
	return r, nil
}

// Sink receives the single report an engine produces at shutdown.
type Sink interface {
	WriteReport(ctx context.Context, r Report) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Report) error

// WriteReport calls f.
func (f SinkFunc) WriteReport(ctx context.Context, r Report) error { return f(ctx, r) }

// FileSink writes reports to Path.
type FileSink struct {
	Path string
}

// WriteReport implements Sink.
func (s FileSink) WriteReport(_ context.Context, r Report) error {
	path := s.Path
	if path == "" {
		path = DefaultPath(r.Kind)
	}
	return Write(path, r)
}
