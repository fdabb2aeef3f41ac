package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/torosent/msgmeter/internal/aggregate"
	"github.com/torosent/msgmeter/internal/clientmetrics"
	"github.com/torosent/msgmeter/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TimestampLayout is how report timestamps are shown to people.
const TimestampLayout = "2006-01-02 15:04:05.000"

// EngineSummary is the end-of-run console summary of one engine.
type EngineSummary struct {
	Verb     string // "Sent" or "Received"
	Count    int64
	Failures int64
	Rejected int64
	Elapsed  time.Duration
	Reason   string
	Errors   map[string]int
	Traffic  clientmetrics.Snapshot
}

// PrintEngineSummary writes the end-of-run lines for one engine.
func PrintEngineSummary(w io.Writer, s EngineSummary) {
	secs := s.Elapsed.Seconds()
	rate := 0.0
	if secs > 0 {
		rate = float64(s.Count) / secs
	}
	fmt.Fprintf(w, "%s %d messages in %.2f seconds\n", s.Verb, s.Count, secs)
	fmt.Fprintf(w, "Average rate: %.2f messages/second\n", rate)
	if s.Reason != "" {
		fmt.Fprintf(w, "Stopped by:   %s\n", s.Reason)
	}
	if s.Traffic.Bytes > 0 {
		fmt.Fprintf(w, "Payload:      %d bytes (%.0f bytes/sec)\n", s.Traffic.Bytes, s.Traffic.BytesPerSecond())
	}
	if s.Traffic.PeakConnections > 0 {
		fmt.Fprintf(w, "Connections:  %d peak\n", s.Traffic.PeakConnections)
	}
	if s.Rejected > 0 {
		fmt.Fprintf(w, "Refused:      %d (arrived after shutdown began)\n", s.Rejected)
	}
	if s.Failures > 0 {
		fmt.Fprintf(w, "Skipped:      %d\n", s.Failures)
		writeErrorBreakdown(w, s.Errors, "  ")
	}
}

func writeErrorBreakdown(w io.Writer, errs map[string]int, indent string) {
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if errs[names[i]] != errs[names[j]] {
			return errs[names[i]] > errs[names[j]]
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		fmt.Fprintf(w, "%s%s: %d\n", indent, name, errs[name])
	}
}

// WriteSummary renders the aggregated text report.
func WriteSummary(w io.Writer, s aggregate.Summary, label string) error {
	return writeSummary(w, s, label, time.Local)
}

func writeSummary(w io.Writer, s aggregate.Summary, label string, loc *time.Location) error {
	title := strings.ToUpper(strings.TrimSpace(label))
	if title == "" {
		title = "MESSAGE"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s PROTOCOL TEST REPORT\n", title)
	b.WriteString("==============================\n")
	fmt.Fprintf(&b, "Total Sent: %d\n", s.TotalSent)
	fmt.Fprintf(&b, "Total Received: %d\n", s.TotalReceived)
	fmt.Fprintf(&b, "Packet Loss: %.2f%%\n", s.PacketLossPercent)
	fmt.Fprintf(&b, "Transfer Speed: %.2f messages/second\n", s.ThroughputPerSec)
	fmt.Fprintf(&b, "Receive Speed: %.2f messages/second\n", s.ReceiverThroughputPerSec)
	b.WriteString("\nLATENCY STATISTICS:\n")
	fmt.Fprintf(&b, "Average Latency: %.2f ms\n", s.AvgLatencyMs)
	fmt.Fprintf(&b, "Minimum Latency: %.2f ms\n", s.MinLatencyMs)
	fmt.Fprintf(&b, "Maximum Latency: %.2f ms\n", s.MaxLatencyMs)
	fmt.Fprintf(&b, "Median Latency: %.2f ms\n", s.MedianLatencyMs)
	fmt.Fprintf(&b, "P90 Latency: %.2f ms\n", s.P90LatencyMs)
	fmt.Fprintf(&b, "P99 Latency: %.2f ms\n", s.P99LatencyMs)
	b.WriteString("\nSent Data:\n")
	fmt.Fprintf(&b, "First message timestamp: %s\n", FormatTimestamp(s.SenderStart, loc))
	fmt.Fprintf(&b, "Last message timestamp: %s\n", FormatTimestamp(s.SenderEnd, loc))
	b.WriteString("\nReceived Data:\n")
	fmt.Fprintf(&b, "First message timestamp: %s\n", FormatTimestamp(s.ReceiverStart, loc))
	fmt.Fprintf(&b, "Last message timestamp: %s\n", FormatTimestamp(s.ReceiverEnd, loc))

	_, err := io.WriteString(w, b.String())
	return err
}

// FormatTimestamp renders Unix nanoseconds at millisecond precision, or N/A for 0.
func FormatTimestamp(ns int64, loc *time.Location) string {
	if ns == 0 {
		return "N/A"
	}
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(0, ns).In(loc).Format(TimestampLayout)
}

// WriteJSON writes s as indented JSON.
func WriteJSON(w io.Writer, s aggregate.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// WriteYAML writes s as YAML. The per-message latency series is omitted.
func WriteYAML(w io.Writer, s aggregate.Summary) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return enc.Close()
}

// Write renders s in the requested format.
func Write(w io.Writer, format config.OutputFormat, s aggregate.Summary, label string) error {
	switch format {
	case "", config.FormatText:
		return WriteSummary(w, s, label)
	case config.FormatJSON:
		return WriteJSON(w, s)
	case config.FormatYAML:
		return WriteYAML(w, s)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
