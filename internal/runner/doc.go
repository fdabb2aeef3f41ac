// Package runner is the sender engine of msgmeter.
//
// A [Runner] dials one transport sender per worker, then runs the workers
// until the first shutdown trigger: the message budget is spent, the
// duration elapses, the context is cancelled, or [Runner.Stop] is called.
// Exactly one report is written, always before transports are closed.
//
// # Basic Usage
//
//	r := runner.New(runner.Options{
//		Protocol:      "http",
//		Dialer:        dialer,
//		Payload:       payload.New(256),
//		Sink:          report.FileSink{Path: "sender_report.txt"},
//		Concurrency:   8,
//		TotalMessages: 10000,
//		RatePerWorker: 100,
//	})
//	res, err := r.Run(ctx)
//
// # Message Budget
//
// Workers reserve a slot from the shared [metrics.Recorder] before each
// send and commit or release it afterwards, so the final count is exactly
// TotalMessages when the transport succeeds. Failed sends are counted,
// logged through a rate-limited [FailureLogger] and skipped; they are never
// retried.
//
// # Pacing
//
// Each worker owns a [Pacer] anchored to the run's start time. The k-th send
// of a worker is due at start + k/rate ([NextDeadline]); a late worker sleeps
// less rather than drifting. [ArrivalModelPoisson] replaces the uniform gaps
// with exponential ones while keeping the same anchor.
package runner
