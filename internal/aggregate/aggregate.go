// Package aggregate compares a sender report with a receiver report.
//
// Latency is paired positionally: the i-th receive timestamp is matched
// with the i-th send timestamp. Messages carry sequence numbers but the
// reports do not, so reordering or loss in the middle of a run skews the
// figures. Treat them as an approximation.
package aggregate

import (
	"fmt"
	"sort"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/torosent/msgmeter/internal/report"
)

// Summary is the comparison of one sender run with one receiver run.
type Summary struct {
	TotalSent                int64     `json:"total_sent" yaml:"total_sent"`
	TotalReceived            int64     `json:"total_received" yaml:"total_received"`
	PacketLossPercent        float64   `json:"packet_loss_percent" yaml:"packet_loss_percent"`
	ThroughputPerSec         float64   `json:"transfer_speed_msgs_per_sec" yaml:"transfer_speed_msgs_per_sec"`
	ReceiverThroughputPerSec float64   `json:"receive_speed_msgs_per_sec" yaml:"receive_speed_msgs_per_sec"`
	LatenciesMs              []float64 `json:"latencies_ms" yaml:"-"`
	AvgLatencyMs             float64   `json:"avg_latency_ms" yaml:"avg_latency_ms"`
	MinLatencyMs             float64   `json:"min_latency_ms" yaml:"min_latency_ms"`
	MaxLatencyMs             float64   `json:"max_latency_ms" yaml:"max_latency_ms"`
	MedianLatencyMs          float64   `json:"median_latency_ms" yaml:"median_latency_ms"`
	P90LatencyMs             float64   `json:"p90_latency_ms" yaml:"p90_latency_ms"`
	P99LatencyMs             float64   `json:"p99_latency_ms" yaml:"p99_latency_ms"`
	SenderStart              int64     `json:"sender_start_time" yaml:"sender_start_time"`
	SenderEnd                int64     `json:"sender_end_time" yaml:"sender_end_time"`
	ReceiverStart            int64     `json:"receiver_start_time" yaml:"receiver_start_time"`
	ReceiverEnd              int64     `json:"receiver_end_time" yaml:"receiver_end_time"`
}

// Files loads both reports and computes their Summary.
func Files(senderPath, receiverPath string) (Summary, error) {
	sender, err := report.LoadKind(senderPath, report.KindSender)
	if err != nil {
		return Summary{}, fmt.Errorf("sender: %w", err)
	}
	receiver, err := report.LoadKind(receiverPath, report.KindReceiver)
	if err != nil {
		return Summary{}, fmt.Errorf("receiver: %w", err)
	}
	return Compute(sender, receiver), nil
}

// Compute derives loss, throughput and latency from two reports.
func Compute(sender, receiver report.Report) Summary {
	s := Summary{
		TotalSent:     sender.Total,
		TotalReceived: receiver.Total,
		SenderStart:   sender.StartTime,
		SenderEnd:     sender.EndTime,
		ReceiverStart: receiver.StartTime,
		ReceiverEnd:   receiver.EndTime,
	}
	if sender.Total > 0 {
		s.PacketLossPercent = float64(sender.Total-receiver.Total) / float64(sender.Total) * 100
	}
	s.ThroughputPerSec = seriesRate(sender.Total, sender.Timestamps)
	s.ReceiverThroughputPerSec = seriesRate(receiver.Total, receiver.Timestamps)

	deltas := pairLatencies(sender, receiver)
	s.LatenciesMs = make([]float64, len(deltas))
	for i, d := range deltas {
		s.LatenciesMs[i] = nanosToMillis(d)
	}
	if len(deltas) == 0 {
		return s
	}

	sorted := append([]int64(nil), deltas...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum float64
	for _, ms := range s.LatenciesMs {
		sum += ms
	}
	s.AvgLatencyMs = sum / float64(len(deltas))
	s.MinLatencyMs = nanosToMillis(sorted[0])
	s.MaxLatencyMs = nanosToMillis(sorted[len(sorted)-1])
	s.MedianLatencyMs = median(sorted)
	s.P90LatencyMs, s.P99LatencyMs = percentiles(sorted)
	return s
}

// pairLatencies returns recv[i]-sent[i] in nanoseconds for the paired prefix.
func pairLatencies(sender, receiver report.Report) []int64 {
	if receiver.Total <= 0 || int64(len(sender.Timestamps)) < receiver.Total {
		return nil
	}
	n := receiver.Total
	if l := int64(len(receiver.Timestamps)); l < n {
		n = l
	}
	if l := int64(len(sender.Timestamps)); l < n {
		n = l
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = receiver.Timestamps[i] - sender.Timestamps[i]
	}
	return out
}

func seriesRate(total int64, ts []int64) float64 {
	if len(ts) < 2 {
		return 0
	}
	elapsed := float64(ts[len(ts)-1]-ts[0]) / 1e9
	if elapsed <= 0 {
		return 0
	}
	return float64(total) / elapsed
}

func median(sorted []int64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return nanosToMillis(sorted[n/2])
	}
	return (nanosToMillis(sorted[n/2-1]) + nanosToMillis(sorted[n/2])) / 2
}

// percentiles records the series offset by its minimum, since clock skew
// between hosts can make latencies negative and the histogram only takes
// positive values.
func percentiles(sorted []int64) (p90, p99 float64) {
	lowest := sorted[0]
	span := sorted[len(sorted)-1] - lowest + 1
	if span < 2 {
		span = 2
	}
	h := hdrhistogram.New(1, span, 3)
	for _, d := range sorted {
		_ = h.RecordValue(d - lowest + 1)
	}
	at := func(q float64) float64 {
		v := h.ValueAtQuantile(q) - 1 + lowest
		if max := sorted[len(sorted)-1]; v > max {
			v = max
		}
		return nanosToMillis(v)
	}
	return at(90), at(99)
}

func nanosToMillis(ns int64) float64 {
	return float64(ns) / 1e6
}
