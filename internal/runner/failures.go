package runner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/msgmeter/internal/metrics"
	"github.com/torosent/msgmeter/internal/transport"
)

// FailureLogger logs failed sends.
type FailureLogger interface {
	LogFailure(err error)
}

// rateLimitedLogger emits at most one line per interval and reports how many
// failures were folded into it.
type rateLimitedLogger struct {
	log        *zap.Logger
	sometimes  rate.Sometimes
	suppressed atomic.Int64
}

// NewFailureLogger returns a FailureLogger writing warnings to log no more than once per interval.
func NewFailureLogger(log *zap.Logger, interval time.Duration) FailureLogger {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &rateLimitedLogger{
		log:       log,
		sometimes: rate.Sometimes{First: 1, Interval: interval},
	}
}

func (l *rateLimitedLogger) LogFailure(err error) {
	if err == nil {
		return
	}
	logged := false
	l.sometimes.Do(func() {
		logged = true
		l.log.Warn("send failed",
			zap.String("type", metrics.FriendlyErrorName(fmt.Sprintf("%T", err))),
			zap.Error(err),
			zap.Int64("suppressed", l.suppressed.Swap(0)),
		)
	})
	if !logged {
		l.suppressed.Add(1)
	}
}

// loggingSender wraps a Sender with failure logging.
type loggingSender struct {
	inner  transport.Sender
	logger FailureLogger
}

// WithLogging wraps a Sender to log failed sends.
func WithLogging(s transport.Sender, logger FailureLogger) transport.Sender {
	if logger == nil {
		return s
	}
	return &loggingSender{inner: s, logger: logger}
}

func (l *loggingSender) Send(ctx context.Context, payload []byte) error {
	err := l.inner.Send(ctx, payload)
	if err != nil {
		l.logger.LogFailure(err)
	}
	return err
}

func (l *loggingSender) Close() error {
	return l.inner.Close()
}
