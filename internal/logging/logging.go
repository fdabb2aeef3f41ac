// Package logging builds the zap loggers used by every msgmeter command.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the encoder.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Options configure New.
type Options struct {
	Level  string    // debug, info, warn, error
	Format Format    // console (default) or json
	Writer io.Writer // defaults to stderr
}

// ParseLevel maps a level name to a zapcore level. The empty string is info.
func ParseLevel(s string) (zapcore.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}

// New builds a logger writing to opts.Writer.
func New(opts Options) (*zap.Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339Nano)
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	var enc zapcore.Encoder
	switch Format(strings.ToLower(string(opts.Format))) {
	case "", FormatConsole:
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		enc = zapcore.NewConsoleEncoder(encCfg)
	case FormatJSON:
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("invalid log format %q (want console or json)", opts.Format)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), zap.NewAtomicLevelAt(lvl))
	return zap.New(core), nil
}

// NewRunID returns a sortable identifier for one engine run.
func NewRunID() string {
	return ulid.Make().String()
}

// ForRun scopes logger to one engine run.
func ForRun(logger *zap.Logger, role, runID string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(zap.String("role", role), zap.String("run_id", runID))
}
