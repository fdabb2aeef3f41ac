package runner

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/msgmeter/internal/clientmetrics"
	"github.com/torosent/msgmeter/internal/metrics"
	"github.com/torosent/msgmeter/internal/report"
	"github.com/torosent/msgmeter/internal/transport"
)

// DefaultSendTimeout bounds a single transmission.
const DefaultSendTimeout = 2 * time.Second

// PayloadBuilder encodes message seq.
type PayloadBuilder interface {
	Build(seq int64) ([]byte, error)
}

// Options configure the Runner.
type Options struct {
	Protocol      string           // label for logs, spans and errors
	Target        string           // label for logs and spans
	Dialer        transport.Dialer // opens one sender per worker (required)
	Payload       PayloadBuilder   // message encoder (required)
	Sink          report.Sink      // receives the single report (required)
	TotalMessages int64            // 0 means unbounded
	Duration      time.Duration    // 0 means unbounded
	RatePerWorker float64          // messages per second per worker; 0 means unthrottled
	Concurrency   int              // number of workers
	SendTimeout   time.Duration    // per-send bound

	ArrivalModel   ArrivalModel
	RandomSeed     int64
	PoissonSampler func() float64 // optional injection for tests

	Logger        *zap.Logger
	FailureLogger FailureLogger // defaults to a rate-limited logger on Logger
	Clock         metrics.Clock
	Exporter      *metrics.Exporter
	Counters      *clientmetrics.Counters
	Tracer        trace.Tracer // nil disables send spans
}

func (o *Options) normalize() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.TotalMessages < 0 {
		o.TotalMessages = 0
	}
	if o.Duration < 0 {
		o.Duration = 0
	}
	if o.RatePerWorker < 0 {
		o.RatePerWorker = 0
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	if o.ArrivalModel == "" {
		o.ArrivalModel = ArrivalModelUniform
	}
	if o.RandomSeed == 0 {
		o.RandomSeed = time.Now().UnixNano()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.FailureLogger == nil {
		o.FailureLogger = NewFailureLogger(o.Logger, time.Second)
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
