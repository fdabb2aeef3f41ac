package output

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/torosent/msgmeter/internal/aggregate"
	"github.com/torosent/msgmeter/internal/threshold"
)

// HTMLReportData is what the report template renders.
type HTMLReportData struct {
	GeneratedAt      string
	Title            string
	Summary          aggregate.Summary
	ThresholdSummary *ThresholdSummary
	Chart            []float64 // downsampled LatenciesMs
	SenderStart      string
	SenderEnd        string
	ReceiverStart    string
	ReceiverEnd      string
}

// ThresholdSummary counts threshold outcomes for display.
type ThresholdSummary struct {
	Total   int                   `json:"total"`
	Passed  int                   `json:"passed"`
	Failed  int                   `json:"failed"`
	Results []ThresholdResultJSON `json:"results"`
}

// ThresholdResultJSON is one threshold outcome.
type ThresholdResultJSON struct {
	Threshold string  `json:"threshold"`
	Metric    string  `json:"metric"`
	Aggregate string  `json:"aggregate"`
	Operator  string  `json:"operator"`
	Expected  float64 `json:"expected"`
	Actual    float64 `json:"actual"`
	Pass      bool    `json:"pass"`
}

// SummarizeThresholds converts evaluator results for display. It returns nil for no results.
func SummarizeThresholds(results []threshold.Result) *ThresholdSummary {
	if len(results) == 0 {
		return nil
	}
	ts := &ThresholdSummary{
		Total:   len(results),
		Results: make([]ThresholdResultJSON, len(results)),
	}
	for i, tr := range results {
		ts.Results[i] = ThresholdResultJSON{
			Threshold: tr.Threshold.Raw,
			Metric:    tr.Threshold.Metric,
			Aggregate: tr.Threshold.Aggregate,
			Operator:  tr.Threshold.Operator,
			Expected:  tr.Threshold.Value,
			Actual:    tr.Actual,
			Pass:      tr.Pass,
		}
		if tr.Pass {
			ts.Passed++
		} else {
			ts.Failed++
		}
	}
	return ts
}

// maxChartPoints bounds the latency series embedded in the page.
const maxChartPoints = 5000

//go:embed templates/report.html.tmpl
var reportTemplateText string

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"num": func(f float64) string { return fmt.Sprintf("%.2f", f) },
	"pct": func(f float64) string { return fmt.Sprintf("%.2f%%", f) },
	"ms":  func(f float64) string { return fmt.Sprintf("%.3f ms", f) },
}).Parse(reportTemplateText))

// GenerateHTMLReport writes a standalone page with the summary, thresholds
// and a per-message latency chart.
func GenerateHTMLReport(w io.Writer, s aggregate.Summary, thresholdResults []threshold.Result, label string) error {
	title := strings.ToUpper(strings.TrimSpace(label))
	if title == "" {
		title = "MESSAGE"
	}
	data := HTMLReportData{
		GeneratedAt:      time.Now().Format(time.RFC3339),
		Title:            title,
		Summary:          s,
		ThresholdSummary: SummarizeThresholds(thresholdResults),
		Chart:            downsample(s.LatenciesMs, maxChartPoints),
		SenderStart:      FormatTimestamp(s.SenderStart, time.Local),
		SenderEnd:        FormatTimestamp(s.SenderEnd, time.Local),
		ReceiverStart:    FormatTimestamp(s.ReceiverStart, time.Local),
		ReceiverEnd:      FormatTimestamp(s.ReceiverEnd, time.Local),
	}
	if err := reportTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}
	return nil
}

// downsample keeps every k-th point so at most limit points remain.
func downsample(series []float64, limit int) []float64 {
	if len(series) <= limit {
		if series == nil {
			return []float64{}
		}
		return series
	}
	step := (len(series) + limit - 1) / limit
	out := make([]float64, 0, limit)
	for i := 0; i < len(series); i += step {
		out = append(out, series[i])
	}
	return out
}
