package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/msgmeter/internal/clientmetrics"
	"github.com/torosent/msgmeter/internal/metrics"
	"github.com/torosent/msgmeter/internal/report"
	"github.com/torosent/msgmeter/internal/runstate"
	"github.com/torosent/msgmeter/internal/tracing"
	"github.com/torosent/msgmeter/internal/transport"
)

// pendingBackoff is how long a worker waits when every remaining slot is in flight.
const pendingBackoff = time.Millisecond

// ErrAlreadyStarted is returned by a second call to Run.
var ErrAlreadyStarted = errors.New("runner already started")

// ErrCancelledBeforeStart is returned when the context ends while workers are
// still dialing. No message was sent and no report is written.
var ErrCancelledBeforeStart = errors.New("runner cancelled before sending started")

// Result captures the outcome of one sender run.
type Result struct {
	Sent     int64
	Failures int64
	Duration time.Duration
	Reason   string
	Report   report.Report
	Errors   map[string]int
	Traffic  clientmetrics.Snapshot
}

// Runner is the sender engine: Concurrency workers sharing one timestamp
// series and one message budget.
type Runner struct {
	opt     Options
	state   *runstate.State
	rec     *metrics.Recorder
	seq     atomic.Int64
	started atomic.Bool

	mu      sync.Mutex
	stopErr error
}

// New returns a Runner ready to Run.
func New(opt Options) *Runner {
	opt.normalize()
	hint := opt.TotalMessages
	if hint > 1<<20 {
		hint = 1 << 20
	}
	return &Runner{
		opt:   opt,
		state: runstate.New(),
		rec:   metrics.NewRecorder(int(hint), opt.Clock),
	}
}

// Sent returns the number of successful sends so far.
func (r *Runner) Sent() int64 { return r.rec.Count() }

// Failures returns the number of skipped sends so far.
func (r *Runner) Failures() int64 { return r.rec.Failures() }

// Phase returns the engine lifecycle phase.
func (r *Runner) Phase() runstate.Phase { return r.state.Phase() }

// Run dials the workers, sends until the first shutdown trigger and writes
// exactly one report. A dial failure aborts the run before any report, and
// so does cancellation during dialing (ErrCancelledBeforeStart).
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if !r.started.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyStarted
	}
	log := r.opt.Logger
	if r.opt.Dialer == nil || r.opt.Payload == nil || r.opt.Sink == nil {
		r.abort()
		return Result{}, errors.New("runner: dialer, payload and sink are required")
	}

	senders, err := r.dial(ctx)
	if err != nil {
		r.abort()
		if ctx.Err() != nil {
			return Result{Reason: runstate.ReasonCancelled}, fmt.Errorf("%w: %w", ErrCancelledBeforeStart, ctx.Err())
		}
		return Result{}, err
	}
	log.Info("sender started",
		zap.String("protocol", r.opt.Protocol),
		zap.String("target", r.opt.Target),
		zap.Int("workers", r.opt.Concurrency),
		zap.Int64("total", r.opt.TotalMessages),
		zap.Duration("duration", r.opt.Duration),
		zap.Float64("rate_per_worker", r.opt.RatePerWorker),
	)

	start := time.Now()
	r.opt.Counters.MarkStarted()
	r.opt.Exporter.SetPhase(int(runstate.Running))

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	var wg sync.WaitGroup
	wg.Add(len(senders))
	for i, s := range senders {
		pacer := newWorkerPacer(r.opt, i, start)
		go func(id int, s transport.Sender) {
			defer wg.Done()
			r.worker(workCtx, id, s, pacer)
		}(i, s)
	}
	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	var watchdog <-chan time.Time
	if r.opt.Duration > 0 {
		timer := time.NewTimer(r.opt.Duration)
		defer timer.Stop()
		watchdog = timer.C
	}

	select {
	case <-r.state.Draining():
	case <-ctx.Done():
		r.state.BeginShutdown(runstate.ReasonCancelled)
	case <-watchdog:
		if r.state.BeginShutdown(runstate.ReasonDuration) {
			log.Info("duration limit reached", zap.Duration("duration", r.opt.Duration))
		}
	case <-workersDone:
		if ctx.Err() != nil {
			r.state.BeginShutdown(runstate.ReasonCancelled)
		} else {
			r.state.BeginShutdown(runstate.ReasonCount)
		}
	}
	return r.shutdown(ctx, start, senders, cancelWork, workersDone)
}

// Stop triggers shutdown and waits until the report has been written or
// ctx expires. It is safe to call repeatedly and concurrently.
func (r *Runner) Stop(ctx context.Context) error {
	r.state.BeginShutdown(runstate.ReasonStopped)
	select {
	case <-r.state.Stopped():
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.stopErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) dial(ctx context.Context) ([]transport.Sender, error) {
	senders := make([]transport.Sender, r.opt.Concurrency)
	g, gctx := errgroup.WithContext(ctx)
	for i := range senders {
		g.Go(func() error {
			s, err := r.opt.Dialer.Dial(gctx, i)
			if err != nil {
				return fmt.Errorf("dial %s worker %d: %w", r.opt.Protocol, i, err)
			}
			r.opt.Counters.ConnectionOpened()
			senders[i] = WithLogging(s, r.opt.FailureLogger)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.closeSenders(senders)
		return nil, err
	}
	return senders, nil
}

func (r *Runner) abort() {
	r.state.BeginShutdown(runstate.ReasonCancelled)
	r.state.MarkStopped()
}

func (r *Runner) worker(ctx context.Context, id int, s transport.Sender, pacer *Pacer) {
	limit := r.opt.TotalMessages
	for {
		if !r.state.Running() || ctx.Err() != nil {
			return
		}
		switch r.rec.Reserve(limit) {
		case metrics.SlotExhausted:
			r.state.BeginShutdown(runstate.ReasonCount)
			return
		case metrics.SlotPending:
			if sleepContext(ctx, pendingBackoff) != nil {
				return
			}
			continue
		}

		if err := pacer.Wait(ctx); err != nil || !r.state.Running() {
			r.rec.Release(nil)
			return
		}

		seq := r.seq.Add(1) - 1
		msg, err := r.opt.Payload.Build(seq)
		if err != nil {
			r.fail(err)
			r.opt.FailureLogger.LogFailure(err)
			continue
		}
		r.send(ctx, id, s, seq, msg)
	}
}

// send transmits one message. In-flight sends are not cut short by shutdown;
// SendTimeout bounds them.
func (r *Runner) send(ctx context.Context, worker int, s transport.Sender, seq int64, msg []byte) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opt.SendTimeout)
	defer cancel()

	var span trace.Span
	if r.opt.Tracer != nil {
		sendCtx, span = tracing.StartSendSpan(sendCtx, r.opt.Tracer, r.opt.Protocol, r.opt.Target, seq)
	}

	ts := r.rec.Now()
	err := s.Send(sendCtx, msg)
	if span != nil {
		tracing.EndSpan(span, err, attribute.Int("msgmeter.worker", worker))
	}
	if err != nil {
		r.fail(err)
		return
	}
	count := r.rec.Commit(ts)
	r.opt.Counters.AddMessage(len(msg))
	r.opt.Exporter.ObserveMessage(len(msg))

	if limit := r.opt.TotalMessages; limit > 0 && count >= limit {
		r.state.BeginShutdown(runstate.ReasonCount)
	}
}

func (r *Runner) fail(err error) {
	r.rec.Release(err)
	r.opt.Counters.AddError()
	r.opt.Exporter.ObserveFailure(err)
}

func (r *Runner) shutdown(ctx context.Context, start time.Time, senders []transport.Sender, cancelWork context.CancelFunc, workersDone <-chan struct{}) (Result, error) {
	log := r.opt.Logger
	reason := r.state.Reason()
	r.opt.Exporter.SetPhase(int(runstate.ShuttingDown))
	log.Info("shutting down", zap.String("reason", reason))

	cancelWork()
	<-workersDone

	rep := report.Build(report.KindSender, r.rec.Timestamps())
	writeErr := r.opt.Sink.WriteReport(context.WithoutCancel(ctx), rep)
	if writeErr != nil {
		writeErr = fmt.Errorf("write sender report: %w", writeErr)
		log.Error("report write failed", zap.Error(writeErr))
	} else {
		log.Info("sender report written", zap.Int64("total_sent", rep.Total))
	}

	r.closeSenders(senders)
	if err := r.opt.Dialer.Close(); err != nil {
		log.Warn("close dialer", zap.Error(err))
	}

	res := Result{
		Sent:     rep.Total,
		Failures: r.rec.Failures(),
		Duration: time.Since(start),
		Reason:   reason,
		Report:   rep,
		Errors:   r.rec.ErrorBreakdown(),
		Traffic:  r.opt.Counters.Snapshot(),
	}
	if res.Failures > 0 {
		log.Warn("sends skipped", zap.Int64("failures", res.Failures), zap.Any("by_type", res.Errors))
	}

	r.mu.Lock()
	r.stopErr = writeErr
	r.mu.Unlock()
	r.state.MarkStopped()
	r.opt.Exporter.SetPhase(int(runstate.Stopped))
	return res, writeErr
}

func (r *Runner) closeSenders(senders []transport.Sender) {
	for i, s := range senders {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			r.opt.Logger.Warn("close sender", zap.Int("worker", i), zap.Error(err))
		}
		r.opt.Counters.ConnectionClosed()
	}
}
