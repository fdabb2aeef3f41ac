package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/torosent/msgmeter/internal/clientmetrics"
	"github.com/torosent/msgmeter/internal/config"
	"github.com/torosent/msgmeter/internal/output"
	"github.com/torosent/msgmeter/internal/payload"
	"github.com/torosent/msgmeter/internal/report"
	"github.com/torosent/msgmeter/internal/runner"
)

func (a *app) sendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send timestamped messages to a target and write the sender report",
		Args:  cobra.NoArgs,
		RunE:  a.runSend,
	}
	config.RegisterSendFlags(cmd)
	return cmd
}

func (a *app) runSend(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewLoader().LoadEngine(config.ModeSend, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	env, err := setupEngine(ctx, cfg, "sender")
	if err != nil {
		return err
	}
	defer env.close()

	dialer, err := a.newDialer(cfg, env.provider.ShouldPropagate(), env.log)
	if err != nil {
		return err
	}

	reportPath := cfg.ResolvedReportPath()
	r := runner.New(runner.Options{
		Protocol:      string(cfg.Protocol),
		Target:        cfg.Target,
		Dialer:        dialer,
		Payload:       payload.New(cfg.PayloadSize),
		Sink:          report.FileSink{Path: reportPath},
		TotalMessages: cfg.EffectiveTotal(),
		Duration:      cfg.Duration,
		RatePerWorker: cfg.Rate,
		Concurrency:   cfg.Concurrency,
		SendTimeout:   cfg.Timeout,
		ArrivalModel:  toRunnerArrivalModel(cfg.Arrival),
		RandomSeed:    cfg.RandomSeed,
		Logger:        env.log,
		Exporter:      env.exporter,
		Counters:      clientmetrics.New(),
		Tracer:        env.tracer,
	})

	env.log.Info("starting sender",
		zap.String("protocol", string(cfg.Protocol)),
		zap.String("target", cfg.Target),
		zap.Int("concurrency", cfg.Concurrency),
		zap.Int64("total", cfg.EffectiveTotal()),
		zap.Duration("duration", cfg.Duration),
		zap.Float64("rate", cfg.Rate),
	)

	out := cmd.OutOrStdout()
	stopProgress := startProgress(out, r.Sent, "Sent", cfg.ProgressInterval)
	res, err := r.Run(ctx)
	stopProgress()
	if errors.Is(err, runner.ErrCancelledBeforeStart) {
		fmt.Fprintln(out, "Cancelled while connecting; no messages sent, no report written")
		return nil
	}
	if err != nil {
		return err
	}

	output.PrintEngineSummary(out, output.EngineSummary{
		Verb:     "Sent",
		Count:    res.Sent,
		Failures: res.Failures,
		Elapsed:  res.Duration,
		Reason:   res.Reason,
		Errors:   res.Errors,
		Traffic:  res.Traffic,
	})
	writeReportNotice(out, reportPath)
	return nil
}

func toRunnerArrivalModel(model config.ArrivalModel) runner.ArrivalModel {
	switch model {
	case config.ArrivalModelPoisson:
		return runner.ArrivalModelPoisson
	default:
		return runner.ArrivalModelUniform
	}
}
