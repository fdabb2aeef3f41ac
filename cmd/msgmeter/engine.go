package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/msgmeter/internal/config"
	"github.com/torosent/msgmeter/internal/logging"
	"github.com/torosent/msgmeter/internal/metrics"
	"github.com/torosent/msgmeter/internal/output"
	"github.com/torosent/msgmeter/internal/tracing"
)

// engineEnv is the ambient setup shared by send and receive.
type engineEnv struct {
	log      *zap.Logger
	tracer   trace.Tracer
	exporter *metrics.Exporter
	provider *tracing.Provider
}

func setupEngine(ctx context.Context, cfg *config.Config, role string) (*engineEnv, error) {
	base, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: logging.Format(cfg.Log.Format)})
	if err != nil {
		return nil, err
	}
	runID := logging.NewRunID()
	env := &engineEnv{log: logging.ForRun(base, role, runID)}

	provider, err := tracing.Init(ctx, cfg.Tracing, tracing.WithRole(role), tracing.WithRunID(runID))
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	env.provider = provider
	if provider.Enabled() {
		env.tracer = provider.Tracer()
	}

	if cfg.MetricsAddr != "" {
		env.exporter = metrics.NewExporter(role)
		if err := env.exporter.Serve(ctx, cfg.MetricsAddr); err != nil {
			env.close()
			return nil, err
		}
		env.log.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
	}
	return env, nil
}

func (e *engineEnv) close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.provider.Shutdown(shutdownCtx); err != nil {
		e.log.Warn("tracer shutdown", zap.Error(err))
	}
	_ = e.log.Sync()
}

// startProgress prints a progress line every interval until the returned
// stop func is called. A zero interval disables it.
func startProgress(w io.Writer, count func() int64, verb string, interval time.Duration) func() {
	if interval <= 0 {
		return func() {}
	}
	p := output.NewProgressReporter(count, verb, interval, w)
	p.Start()
	return func() {
		p.Stop()
		fmt.Fprintln(w)
	}
}

func writeReportNotice(w io.Writer, path string) {
	fmt.Fprintf(w, "Report saved to %s\n", path)
}
