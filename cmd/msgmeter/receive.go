package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/torosent/msgmeter/internal/clientmetrics"
	"github.com/torosent/msgmeter/internal/config"
	"github.com/torosent/msgmeter/internal/output"
	"github.com/torosent/msgmeter/internal/receiver"
	"github.com/torosent/msgmeter/internal/report"
)

func (a *app) receiveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Accept messages on a bind address and write the receiver report",
		Args:  cobra.NoArgs,
		RunE:  a.runReceive,
	}
	config.RegisterReceiveFlags(cmd)
	return cmd
}

func (a *app) runReceive(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewLoader().LoadEngine(config.ModeReceive, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	env, err := setupEngine(ctx, cfg, "receiver")
	if err != nil {
		return err
	}
	defer env.close()

	srv, err := a.newServer(cfg, env.log)
	if err != nil {
		return err
	}

	reportPath := cfg.ResolvedReportPath()
	e := receiver.New(receiver.Options{
		Protocol:      string(cfg.Protocol),
		Server:        srv,
		Sink:          report.FileSink{Path: reportPath},
		TotalMessages: cfg.EffectiveTotal(),
		Duration:      cfg.Duration,
		Logger:        env.log,
		Exporter:      env.exporter,
		Counters:      clientmetrics.New(),
		Tracer:        env.tracer,
	})

	env.log.Info("starting receiver",
		zap.String("protocol", string(cfg.Protocol)),
		zap.String("bind", cfg.ResolvedBind()),
		zap.Int64("total", cfg.EffectiveTotal()),
		zap.Duration("duration", cfg.Duration),
	)

	out := cmd.OutOrStdout()
	stopProgress := startProgress(out, e.Received, "Received", cfg.ProgressInterval)
	res, err := e.Run(ctx)
	stopProgress()
	if err != nil {
		return err
	}

	output.PrintEngineSummary(out, output.EngineSummary{
		Verb:     "Received",
		Count:    res.Received,
		Rejected: res.Rejected,
		Elapsed:  res.Duration,
		Reason:   res.Reason,
		Traffic:  res.Traffic,
	})
	writeReportNotice(out, reportPath)
	return nil
}
