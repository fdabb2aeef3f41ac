package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/torosent/msgmeter/internal/aggregate"
	"github.com/torosent/msgmeter/internal/config"
	"github.com/torosent/msgmeter/internal/output"
	"github.com/torosent/msgmeter/internal/threshold"
)

func (a *app) aggregateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Combine a sender and a receiver report into loss, rate and latency figures",
		Args:  cobra.NoArgs,
		RunE:  a.runAggregate,
	}
	config.RegisterAggregateFlags(cmd)
	return cmd
}

func (a *app) runAggregate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewLoader().LoadAggregate(cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	summary, err := aggregate.Files(cfg.SenderPath, cfg.ReceiverPath)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := output.Write(&buf, cfg.Format, summary, cfg.Label); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if _, err := out.Write(buf.Bytes()); err != nil {
		return err
	}
	if cfg.OutputPath != "" {
		if err := os.WriteFile(cfg.OutputPath, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write aggregated report: %w", err)
		}
		fmt.Fprintf(out, "Aggregated report saved to %s\n", cfg.OutputPath)
	}

	var results []threshold.Result
	if len(thresholds) > 0 {
		results = threshold.NewEvaluator(thresholds).Evaluate(summary)
	}

	if cfg.HTMLOutput != "" {
		if err := writeHTML(cfg.HTMLOutput, summary, results, cfg.Label); err != nil {
			return err
		}
		fmt.Fprintf(out, "HTML report saved to %s\n", cfg.HTMLOutput)
	}

	return checkThresholds(out, results)
}

func writeHTML(path string, s aggregate.Summary, results []threshold.Result, label string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create html report: %w", err)
	}
	if err := output.GenerateHTMLReport(f, s, results, label); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// checkThresholds prints one line per threshold and fails when any did.
func checkThresholds(w io.Writer, results []threshold.Result) error {
	if len(results) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nThresholds:")
	failed := 0
	for _, r := range results {
		mark := "PASS"
		if !r.Pass {
			mark = "FAIL"
			failed++
		}
		fmt.Fprintf(w, "  %s  %s\n", mark, r.Message)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d thresholds failed", failed, len(results))
	}
	return nil
}
