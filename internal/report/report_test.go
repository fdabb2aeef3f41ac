package report_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/msgmeter/internal/report"
)

func TestBuildDerivesFields(t *testing.T) {
	r := report.Build(report.KindSender, []int64{1_000_000_000, 1_500_000_000, 3_000_000_000})

	assert.EqualValues(t, 3, r.Total)
	assert.EqualValues(t, 1_000_000_000, r.StartTime)
	assert.EqualValues(t, 3_000_000_000, r.EndTime)
	assert.InDelta(t, 1.5, r.AvgRatePerSec, 1e-9)
}

func TestBuildEmptyAndSingle(t *testing.T) {
	empty := report.Build(report.KindReceiver, nil)
	assert.Zero(t, empty.Total)
	assert.Zero(t, empty.StartTime)
	assert.Zero(t, empty.EndTime)
	assert.Zero(t, empty.AvgRatePerSec)

	single := report.Build(report.KindReceiver, []int64{42})
	assert.EqualValues(t, 42, single.StartTime)
	assert.EqualValues(t, 42, single.EndTime)
	assert.Zero(t, single.AvgRatePerSec)

	same := report.Build(report.KindReceiver, []int64{42, 42})
	assert.Zero(t, same.AvgRatePerSec)
}

func TestBuildCopiesSeries(t *testing.T) {
	ts := []int64{1, 2}
	r := report.Build(report.KindSender, ts)
	ts[0] = 99
	assert.EqualValues(t, 1, r.Timestamps[0])
}

func TestEncodeLayout(t *testing.T) {
	data, err := report.Encode(report.Build(report.KindReceiver, []int64{0, 1_000_000_000}))
	require.NoError(t, err)

	want := `{
  "total_received": 2,
  "timestamps": [
    0,
    1000000000
  ],
  "start_time": 0,
  "end_time": 1000000000,
  "avg_rate_per_sec": 2
}`
	assert.Equal(t, want, string(data))
}

func TestEncodeEmptyTimestampsIsArray(t *testing.T) {
	data, err := report.Encode(report.Build(report.KindSender, nil))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"timestamps": []`)
	assert.Contains(t, string(data), `"avg_rate_per_sec": 0`)
}

func TestWriteLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sender_report.txt")
	in := report.Build(report.KindSender, []int64{10, 20, 30})

	require.NoError(t, report.Write(path, in))
	out, err := report.Load(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = report.LoadKind(path, report.KindReceiver)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected a receiver report")
}

func TestWriteOverwritesAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "receiver_report.txt")

	require.NoError(t, report.Write(path, report.Build(report.KindReceiver, []int64{1, 2, 3, 4})))
	require.NoError(t, report.Write(path, report.Build(report.KindReceiver, []int64{5})))

	r, err := report.Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 1, r.Total)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "leftover temp file %s", e.Name())
	}
}

func TestConcurrentWritesProduceOneValidDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sender_report.txt")
	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ts := make([]int64, n*100)
			for j := range ts {
				ts[j] = int64(j)
			}
			assert.NoError(t, report.Write(path, report.Build(report.KindSender, ts)))
		}(i)
	}
	wg.Wait()

	r, err := report.Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, len(r.Timestamps), r.Total)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	tests := []struct {
		name string
		path string
		want string
	}{
		{"missing", filepath.Join(dir, "nope.txt"), "read report"},
		{"garbage", write("garbage.txt", "{nope"), "not valid JSON"},
		{"array", write("array.txt", "[1,2]"), "not an object"},
		{"no total", write("nototal.txt", `{"timestamps":[]}`), "neither total_sent nor total_received"},
		{"both totals", write("both.txt", `{"total_sent":1,"total_received":1,"timestamps":[]}`), "both"},
		{"no timestamps", write("nots.txt", `{"total_sent":1}`), "missing timestamps"},
		{"bad timestamps", write("badts.txt", `{"total_sent":1,"timestamps":"x"}`), "not an array"},
		{"negative", write("neg.txt", `{"total_sent":-1,"timestamps":[]}`), "negative total"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := report.Load(tt.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Contains(t, err.Error(), tt.path)
		})
	}
}

func TestLoadUnknownKindIsSentinel(t *testing.T) {
	_, err := report.Decode([]byte(`{"timestamps":[1]}`))
	assert.ErrorIs(t, err, report.ErrUnknownKind)
}

func TestLoadAcceptsOriginalToolOutput(t *testing.T) {
	doc := `{"total_sent": 2, "timestamps": [1700000000000000000, 1700000000500000000], "start_time": 1700000000000000000, "end_time": 1700000000500000000, "avg_rate_per_sec": 4.0}`
	r, err := report.Decode([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, report.KindSender, r.Kind)
	assert.EqualValues(t, 2, r.Total)
	assert.InDelta(t, 4.0, r.AvgRatePerSec, 1e-9)
}

func TestFileSinkDefaultsPath(t *testing.T) {
	dir := t.TempDir()
	sink := report.FileSink{Path: filepath.Join(dir, "custom.json")}
	require.NoError(t, sink.WriteReport(context.Background(), report.Build(report.KindReceiver, []int64{1})))

	r, err := report.Load(sink.Path)
	require.NoError(t, err)
	assert.Equal(t, report.KindReceiver, r.Kind)
	assert.Equal(t, "receiver_report.txt", report.DefaultPath(report.KindReceiver))
	assert.Equal(t, "sender_report.txt", report.DefaultPath(report.KindSender))
}
