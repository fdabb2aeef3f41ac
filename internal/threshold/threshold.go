// Package threshold turns "metric:aggregate op value" assertions into
// pass/fail verdicts over an aggregated run.
package threshold

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/torosent/msgmeter/internal/aggregate"
)

// Threshold is one parsed assertion, e.g. "latency:p99 < 50".
type Threshold struct {
	Metric    string  // latency, loss, throughput, sent, received
	Aggregate string  // p50, p99, avg, percent, rate, count, ...
	Operator  string  // <, <=, >, >=, ==, !=
	Value     float64 // latency in ms, loss in percent, throughput in msgs/sec
	Raw       string
}

// Key is the metric:aggregate pair.
func (t Threshold) Key() string { return t.Metric + ":" + t.Aggregate }

// Result is the verdict for one Threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

type extractor func(aggregate.Summary) float64

// metrics maps every supported metric:aggregate pair to its value.
var metrics = map[string]extractor{
	"latency:p50":         func(s aggregate.Summary) float64 { return s.MedianLatencyMs },
	"latency:median":      func(s aggregate.Summary) float64 { return s.MedianLatencyMs },
	"latency:p90":         func(s aggregate.Summary) float64 { return s.P90LatencyMs },
	"latency:p99":         func(s aggregate.Summary) float64 { return s.P99LatencyMs },
	"latency:avg":         func(s aggregate.Summary) float64 { return s.AvgLatencyMs },
	"latency:mean":        func(s aggregate.Summary) float64 { return s.AvgLatencyMs },
	"latency:min":         func(s aggregate.Summary) float64 { return s.MinLatencyMs },
	"latency:max":         func(s aggregate.Summary) float64 { return s.MaxLatencyMs },
	"loss:percent":        func(s aggregate.Summary) float64 { return s.PacketLossPercent },
	"loss:count":          func(s aggregate.Summary) float64 { return float64(s.TotalSent - s.TotalReceived) },
	"throughput:rate":     func(s aggregate.Summary) float64 { return s.ThroughputPerSec },
	"throughput:receiver": func(s aggregate.Summary) float64 { return s.ReceiverThroughputPerSec },
	"sent:count":          func(s aggregate.Summary) float64 { return float64(s.TotalSent) },
	"received:count":      func(s aggregate.Summary) float64 { return float64(s.TotalReceived) },
}

const epsilon = 1e-9

var operators = map[string]func(actual, want float64) bool{
	"<":  func(a, w float64) bool { return a < w },
	"<=": func(a, w float64) bool { return a <= w || math.Abs(a-w) < epsilon },
	">":  func(a, w float64) bool { return a > w },
	">=": func(a, w float64) bool { return a >= w || math.Abs(a-w) < epsilon },
	"==": func(a, w float64) bool { return math.Abs(a-w) < epsilon },
	"!=": func(a, w float64) bool { return math.Abs(a-w) >= epsilon },
}

var thresholdPattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*(\S+)$`)

// Supported lists the accepted metric:aggregate pairs, sorted.
func Supported() []string {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Parse reads one threshold. The metric:aggregate pair and the operator are
// checked here, so evaluation cannot fail on a parsed Threshold.
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, errors.New("empty threshold string")
	}
	m := thresholdPattern.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold %q (expected metric:aggregate operator value, e.g. 'latency:p99 < 50')", s)
	}

	t := Threshold{Metric: m[1], Aggregate: m[2], Operator: m[3], Raw: s}
	if _, ok := metrics[t.Key()]; !ok {
		return Threshold{}, fmt.Errorf("unsupported metric %q (supported: %s)", t.Key(), strings.Join(Supported(), ", "))
	}
	if _, ok := operators[t.Operator]; !ok {
		return Threshold{}, fmt.Errorf("unsupported operator %q (supported: <, <=, >, >=, ==, !=)", t.Operator)
	}
	v, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q", m[4])
	}
	t.Value = v
	return t, nil
}

// ParseMultiple parses every entry and reports all invalid ones together.
func ParseMultiple(raw []string) ([]Threshold, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]Threshold, 0, len(raw))
	var problems []string
	for i, s := range raw {
		t, err := Parse(s)
		if err != nil {
			problems = append(problems, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		out = append(out, t)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(problems, "; "))
	}
	return out, nil
}

// Evaluator checks a fixed set of thresholds.
type Evaluator struct {
	thresholds []Threshold
}

func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Evaluate returns one Result per threshold, in order, or nil when there are none.
func (e *Evaluator) Evaluate(s aggregate.Summary) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}
	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluate(t, s))
	}
	return results
}

func evaluate(t Threshold, s aggregate.Summary) Result {
	extract, ok := metrics[t.Key()]
	cmp, okOp := operators[t.Operator]
	if !ok || !okOp {
		return Result{Threshold: t, Message: fmt.Sprintf("error: unsupported threshold %q", t.Raw)}
	}
	actual := extract(s)
	pass := cmp(actual, t.Value)
	mark := "✓"
	if !pass {
		mark = "✗"
	}
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", mark, t.Raw, actual, t.Operator, t.Value),
	}
}
