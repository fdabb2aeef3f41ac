// Package metrics holds the per-engine measurement state for msgmeter.
//
// # Recorder
//
// A [Recorder] is the timestamp series of one engine run. Every successful
// send or receive appends exactly one nanosecond timestamp, and the count is
// always the series length because both change under the same mutex:
//
//	rec := metrics.NewRecorder(1000, nil)
//	if rec.Reserve(limit) == metrics.SlotGranted {
//		ts := rec.Now()
//		if err := send(); err != nil {
//			rec.Release(err)
//		} else {
//			rec.Commit(ts)
//		}
//	}
//
// Reserve/Commit/Release is the sender's slot ledger: with a message limit M,
// in-flight sends hold slots so that concurrent workers never overshoot M.
// The receiver uses [Recorder.Admit], which stamps under the lock and lets the
// caller refuse messages once the engine has stopped running.
//
// # Exporter
//
// [Exporter] mirrors the counters into a private Prometheus registry that the
// engines can serve on --metrics-addr.
package metrics
