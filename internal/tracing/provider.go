// Package tracing sets up OpenTelemetry for the engines and carries W3C trace
// context across transports that have headers or metadata.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/torosent/msgmeter/internal/config"
)

const instrumentation = "github.com/torosent/msgmeter"

// Provider owns the engine's TracerProvider. The zero value and a nil
// *Provider are both disabled.
type Provider struct {
	tp        *sdktrace.TracerProvider
	tracer    trace.Tracer
	propagate bool
}

// Option adjusts Init.
type Option func(*initOptions)

type initOptions struct {
	role     string
	runID    string
	exporter sdktrace.SpanExporter
}

// WithRole tags every span with the engine role (sender or receiver) and
// picks the default service name msgmeter-<role>.
func WithRole(role string) Option {
	return func(o *initOptions) { o.role = role }
}

// WithRunID tags every span with the run identifier printed in the logs.
func WithRunID(id string) Option {
	return func(o *initOptions) { o.runID = id }
}

// WithExporter replaces the OTLP exporter. The provider exports synchronously
// to it, which is what tests want.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *initOptions) { o.exporter = exp }
}

// Init builds the provider. Without an endpoint (flag or
// OTEL_EXPORTER_OTLP_ENDPOINT) or an injected exporter, tracing stays off
// and only the propagation setting is honored.
func Init(ctx context.Context, cfg config.TracingConfig, opts ...Option) (*Provider, error) {
	var o initOptions
	for _, opt := range opts {
		opt(&o)
	}

	endpoint := resolveEndpoint(cfg)
	if endpoint == "" && o.exporter == nil {
		return &Provider{propagate: cfg.Propagate != nil && *cfg.Propagate}, nil
	}

	sampler, err := newSampler(cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(resourceAttributes(cfg, o)...))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	spanOpt := sdktrace.WithSyncer(o.exporter)
	if o.exporter == nil {
		exp, err := newExporter(ctx, cfg, endpoint)
		if err != nil {
			return nil, fmt.Errorf("tracing exporter: %w", err)
		}
		spanOpt = sdktrace.WithBatcher(exp)
	}

	tp := sdktrace.NewTracerProvider(
		spanOpt,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	propagate := true
	if cfg.Propagate != nil {
		propagate = *cfg.Propagate
	}
	return &Provider{tp: tp, tracer: tp.Tracer(instrumentation), propagate: propagate}, nil
}

func resolveEndpoint(cfg config.TracingConfig) string {
	if e := strings.TrimSpace(cfg.Endpoint); e != "" {
		return e
	}
	return strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

func resourceAttributes(cfg config.TracingConfig, o initOptions) []attribute.KeyValue {
	name := cfg.ServiceName
	if name == "" {
		name = os.Getenv("OTEL_SERVICE_NAME")
	}
	if name == "" {
		name = "msgmeter"
		if o.role != "" {
			name += "-" + o.role
		}
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if o.role != "" {
		attrs = append(attrs, attribute.String("msgmeter.role", o.role))
	}
	if o.runID != "" {
		attrs = append(attrs, attribute.String("msgmeter.run_id", o.runID))
	}
	return attrs
}

// newSampler maps a ratio to a root sampler: 1 keeps every message, 0 none.
func newSampler(rate float64) (sdktrace.Sampler, error) {
	switch {
	case rate < 0 || rate > 1:
		return nil, fmt.Errorf("tracing sample_rate must be between 0.0 and 1.0, got %g", rate)
	case rate == 0:
		return sdktrace.NeverSample(), nil
	case rate == 1:
		return sdktrace.AlwaysSample(), nil
	default:
		return sdktrace.TraceIDRatioBased(rate), nil
	}
}

// Tracer returns the engine tracer, or a no-op tracer when disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentation)
	}
	return p.tracer
}

// Enabled reports whether spans are recorded and exported.
func (p *Provider) Enabled() bool {
	return p != nil && p.tp != nil
}

// ShouldPropagate reports whether senders inject trace context.
func (p *Provider) ShouldPropagate() bool {
	return p != nil && p.propagate
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

func newExporter(ctx context.Context, cfg config.TracingConfig, endpoint string) (sdktrace.SpanExporter, error) {
	switch protocol := strings.ToLower(strings.TrimSpace(cfg.Protocol)); protocol {
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts,
				otlptracegrpc.WithInsecure(),
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		return otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q: use \"grpc\" or \"http\"", protocol)
	}
}
