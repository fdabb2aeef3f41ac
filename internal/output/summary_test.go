package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/torosent/msgmeter/internal/aggregate"
	"github.com/torosent/msgmeter/internal/clientmetrics"
	"github.com/torosent/msgmeter/internal/config"
)

func TestWriteSummaryLayout(t *testing.T) {
	s := aggregate.Summary{
		TotalSent:         100,
		TotalReceived:     95,
		PacketLossPercent: 5,
		ThroughputPerSec:  1010101.0101,
		AvgLatencyMs:      0.0005,
		MinLatencyMs:      0.0005,
		MaxLatencyMs:      0.0005,
		MedianLatencyMs:   0.0005,
		SenderStart:       time.Date(2024, 3, 1, 12, 0, 0, 123_456_789, time.UTC).UnixNano(),
		SenderEnd:         time.Date(2024, 3, 1, 12, 0, 5, 0, time.UTC).UnixNano(),
	}

	var buf bytes.Buffer
	if err := writeSummary(&buf, s, "coap", time.UTC); err != nil {
		t.Fatalf("writeSummary() error = %v", err)
	}
	want := `COAP PROTOCOL TEST REPORT
==============================
Total Sent: 100
Total Received: 95
Packet Loss: 5.00%
Transfer Speed: 1010101.01 messages/second
Receive Speed: 0.00 messages/second

LATENCY STATISTICS:
Average Latency: 0.00 ms
Minimum Latency: 0.00 ms
Maximum Latency: 0.00 ms
Median Latency: 0.00 ms
P90 Latency: 0.00 ms
P99 Latency: 0.00 ms

Sent Data:
First message timestamp: 2024-03-01 12:00:00.123
Last message timestamp: 2024-03-01 12:00:05.000

Received Data:
First message timestamp: N/A
Last message timestamp: N/A
`
	if got := buf.String(); got != want {
		t.Errorf("writeSummary() mismatch\n got:\n%s\nwant:\n%s", got, want)
	}
}

func TestWriteFormats(t *testing.T) {
	s := aggregate.Summary{TotalSent: 3, TotalReceived: 2, LatenciesMs: []float64{1, 2}}

	var jsonBuf bytes.Buffer
	if err := Write(&jsonBuf, config.FormatJSON, s, ""); err != nil {
		t.Fatalf("Write(json) error = %v", err)
	}
	if !strings.Contains(jsonBuf.String(), `"total_sent": 3`) || !strings.Contains(jsonBuf.String(), `"latencies_ms"`) {
		t.Errorf("unexpected JSON output:\n%s", jsonBuf.String())
	}

	var yamlBuf bytes.Buffer
	if err := Write(&yamlBuf, config.FormatYAML, s, ""); err != nil {
		t.Fatalf("Write(yaml) error = %v", err)
	}
	if !strings.Contains(yamlBuf.String(), "total_received: 2") {
		t.Errorf("unexpected YAML output:\n%s", yamlBuf.String())
	}
	if strings.Contains(yamlBuf.String(), "latencies") {
		t.Errorf("YAML output should omit the latency series:\n%s", yamlBuf.String())
	}

	var textBuf bytes.Buffer
	if err := Write(&textBuf, config.FormatText, s, "http"); err != nil {
		t.Fatalf("Write(text) error = %v", err)
	}
	if !strings.HasPrefix(textBuf.String(), "HTTP PROTOCOL TEST REPORT") {
		t.Errorf("unexpected text output:\n%s", textBuf.String())
	}

	if err := Write(&textBuf, "xml", s, ""); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestPrintEngineSummary(t *testing.T) {
	var buf bytes.Buffer
	PrintEngineSummary(&buf, EngineSummary{
		Verb:     "Sent",
		Count:    1000,
		Failures: 3,
		Elapsed:  4 * time.Second,
		Reason:   "count",
		Errors:   map[string]int{"Send timeout": 1, "Network error": 2},
		Traffic:  clientmetrics.Snapshot{Bytes: 100000, Uptime: 4 * time.Second, PeakConnections: 8},
	})
	out := buf.String()
	for _, want := range []string{
		"Sent 1000 messages in 4.00 seconds",
		"Average rate: 250.00 messages/second",
		"Stopped by:   count",
		"Connections:  8 peak",
		"Skipped:      3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Index(out, "Network error: 2") > strings.Index(out, "Send timeout: 1") {
		t.Errorf("error breakdown should be sorted by count:\n%s", out)
	}
}

func TestFormatTimestamp(t *testing.T) {
	if got := FormatTimestamp(0, time.UTC); got != "N/A" {
		t.Errorf("FormatTimestamp(0) = %q", got)
	}
	ns := time.Date(2025, 1, 2, 3, 4, 5, 678_900_000, time.UTC).UnixNano()
	if got := FormatTimestamp(ns, time.UTC); got != "2025-01-02 03:04:05.678" {
		t.Errorf("FormatTimestamp() = %q", got)
	}
}
