// Package receiver implements the receiving engine: it accepts messages from
// a transport server, stamps each one and writes the receiver report once.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/msgmeter/internal/clientmetrics"
	"github.com/torosent/msgmeter/internal/metrics"
	"github.com/torosent/msgmeter/internal/report"
	"github.com/torosent/msgmeter/internal/runstate"
	"github.com/torosent/msgmeter/internal/tracing"
	"github.com/torosent/msgmeter/internal/transport"
)

// DefaultShutdownTimeout bounds the transport server shutdown.
const DefaultShutdownTimeout = 5 * time.Second

var (
	// ErrAlreadyStarted is returned by a second call to Run.
	ErrAlreadyStarted = errors.New("receiver already started")
	// ErrShutDown is returned by Run after Shutdown has already completed.
	ErrShutDown = errors.New("receiver already shut down")
)

// Options configure an Engine.
type Options struct {
	Protocol        string           // label for logs and spans
	Server          transport.Server // required
	Sink            report.Sink      // required
	TotalMessages   int64            // 0 means unbounded
	Duration        time.Duration    // 0 means unbounded
	ShutdownTimeout time.Duration

	Logger   *zap.Logger
	Clock    metrics.Clock
	Exporter *metrics.Exporter
	Counters *clientmetrics.Counters
	Tracer   trace.Tracer // nil disables receive spans
}

func (o *Options) normalize() {
	if o.TotalMessages < 0 {
		o.TotalMessages = 0
	}
	if o.Duration < 0 {
		o.Duration = 0
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = metrics.WallClock
	}
	if o.Counters == nil {
		o.Counters = clientmetrics.New()
	}
	if o.Protocol == "" {
		o.Protocol = "unknown"
	}
}

// Result captures the outcome of one receiver run.
type Result struct {
	Received int64
	Rejected int64
	Duration time.Duration
	Reason   string
	Report   report.Report
	Traffic  clientmetrics.Snapshot
}

// Engine is the receiver. Handle may be called from any number of
// transport goroutines.
type Engine struct {
	opt      Options
	state    *runstate.State
	rec      *metrics.Recorder
	rejected atomic.Int64
	started  atomic.Bool

	mu      sync.Mutex
	base    context.Context
	start   time.Time
	result  Result
	stopErr error
}

// New returns an Engine ready to Run.
func New(opt Options) *Engine {
	opt.normalize()
	hint := opt.TotalMessages
	if hint > 1<<20 {
		hint = 1 << 20
	}
	return &Engine{
		opt:   opt,
		state: runstate.New(),
		rec:   metrics.NewRecorder(int(hint), opt.Clock),
		base:  context.Background(),
		start: time.Now(),
	}
}

// Received returns the number of accepted messages so far.
func (e *Engine) Received() int64 { return e.rec.Count() }

// Phase returns the engine lifecycle phase.
func (e *Engine) Phase() runstate.Phase { return e.state.Phase() }

// Run binds the server and blocks until the first shutdown trigger has
// been handled. A bind failure is returned before any report is written.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	if !e.started.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyStarted
	}
	if e.opt.Server == nil || e.opt.Sink == nil {
		e.abort()
		return Result{}, errors.New("receiver: server and sink are required")
	}
	if !e.state.Running() {
		return Result{}, ErrShutDown
	}
	log := e.opt.Logger

	e.mu.Lock()
	e.base = context.WithoutCancel(ctx)
	e.start = time.Now()
	e.mu.Unlock()
	e.opt.Counters.MarkStarted()

	if err := e.opt.Server.Listen(ctx, e.Handle); err != nil {
		e.abort()
		return Result{}, fmt.Errorf("bind %s receiver: %w", e.opt.Protocol, err)
	}
	fields := []zap.Field{
		zap.String("protocol", e.opt.Protocol),
		zap.Int64("total", e.opt.TotalMessages),
		zap.Duration("duration", e.opt.Duration),
	}
	if a, ok := e.opt.Server.(transport.Addresser); ok {
		fields = append(fields, zap.String("addr", a.Addr()))
	}
	log.Info("receiver listening", fields...)
	e.opt.Exporter.SetPhase(int(runstate.Running))

	if e.opt.Duration > 0 {
		timer := time.AfterFunc(e.opt.Duration, func() {
			e.finish(runstate.ReasonDuration)
		})
		defer timer.Stop()
	}

	select {
	case <-e.state.Stopped():
	case <-ctx.Done():
		e.finish(runstate.ReasonCancelled)
		<-e.state.Stopped()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result, e.stopErr
}

// Handle accepts one message. Once the engine has left the Running phase,
// or the message limit is reached, it returns transport.ErrUnavailable.
func (e *Engine) Handle(ctx context.Context, payload []byte) error {
	var span trace.Span
	if e.opt.Tracer != nil {
		_, span = tracing.StartReceiveSpan(ctx, e.opt.Tracer, e.opt.Protocol, len(payload))
	}

	count, ok := e.rec.Admit(e.opt.TotalMessages, e.state.Running)
	if !ok {
		e.rejected.Add(1)
		e.opt.Exporter.ObserveRejected()
		if span != nil {
			tracing.EndSpan(span, transport.ErrUnavailable)
		}
		return transport.ErrUnavailable
	}
	e.opt.Counters.AddMessage(len(payload))
	e.opt.Exporter.ObserveMessage(len(payload))
	if span != nil {
		tracing.EndSpan(span, nil)
	}

	if limit := e.opt.TotalMessages; limit > 0 && count >= limit {
		go e.finish(runstate.ReasonCount)
	}
	return nil
}

// Shutdown stops the engine and waits until the report has been written
// or ctx expires. It is safe to call repeatedly and concurrently; only the
// first trigger writes a report.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.finish(runstate.ReasonStopped)
	select {
	case <-e.state.Stopped():
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.stopErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) abort() {
	e.state.BeginShutdown(runstate.ReasonCancelled)
	e.state.MarkStopped()
}

// finish runs the shutdown sequence if reason wins the state transition.
func (e *Engine) finish(reason string) {
	if !e.state.BeginShutdown(reason) {
		return
	}
	log := e.opt.Logger
	e.opt.Exporter.SetPhase(int(runstate.ShuttingDown))
	log.Info("shutting down", zap.String("reason", reason))

	e.mu.Lock()
	base, start := e.base, e.start
	e.mu.Unlock()

	rep := report.Build(report.KindReceiver, e.rec.Timestamps())
	var writeErr error
	if e.opt.Sink == nil {
		writeErr = errors.New("receiver: no report sink")
	} else {
		writeErr = e.opt.Sink.WriteReport(base, rep)
	}
	if writeErr != nil {
		writeErr = fmt.Errorf("write receiver report: %w", writeErr)
		log.Error("report write failed", zap.Error(writeErr))
	} else {
		log.Info("receiver report written", zap.Int64("total_received", rep.Total))
	}

	if e.opt.Server != nil {
		shutdownCtx, cancel := context.WithTimeout(base, e.opt.ShutdownTimeout)
		if err := e.opt.Server.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown server", zap.Error(err))
		}
		cancel()
	}

	res := Result{
		Received: rep.Total,
		Rejected: e.rejected.Load(),
		Duration: time.Since(start),
		Reason:   reason,
		Report:   rep,
		Traffic:  e.opt.Counters.Snapshot(),
	}
	if res.Rejected > 0 {
		log.Info("messages refused during shutdown", zap.Int64("rejected", res.Rejected))
	}

	e.mu.Lock()
	e.result = res
	e.stopErr = writeErr
	e.mu.Unlock()
	e.state.MarkStopped()
	e.opt.Exporter.SetPhase(int(runstate.Stopped))
}
