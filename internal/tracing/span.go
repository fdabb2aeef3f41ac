package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"
)

// StartSendSpan starts a client span around one message send.
func StartSendSpan(ctx context.Context, tracer trace.Tracer, protocol, target string, seq int64) (context.Context, trace.Span) {
	spanName := protocol + " send"
	if target != "" {
		spanName = protocol + " " + target
	}
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindProducer),
	)
	span.SetAttributes(
		attribute.String("messaging.system", protocol),
		attribute.Int64("msgmeter.seq", seq),
	)
	if target != "" {
		span.SetAttributes(attribute.String("messaging.destination.name", target))
	}
	return ctx, span
}

// StartReceiveSpan starts a consumer span for one accepted message. ctx should
// already carry any extracted remote span context.
func StartReceiveSpan(ctx context.Context, tracer trace.Tracer, protocol string, size int) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, protocol+" receive",
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	span.SetAttributes(
		attribute.String("messaging.system", protocol),
		attribute.Int("messaging.message.body.size", size),
	)
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}

// ExtractHTTPHeaders returns ctx carrying the remote span context found in headers.
func ExtractHTTPHeaders(ctx context.Context, headers http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(headers))
}

// grpcMetadataCarrier adapts grpc metadata.MD to the OTel TextMapCarrier interface.
type grpcMetadataCarrier metadata.MD

func (c grpcMetadataCarrier) Get(key string) string {
	vals := metadata.MD(c).Get(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func (c grpcMetadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

func (c grpcMetadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// InjectGRPCMetadata injects W3C trace context into gRPC metadata.
func InjectGRPCMetadata(ctx context.Context, md metadata.MD) {
	otel.GetTextMapPropagator().Inject(ctx, grpcMetadataCarrier(md))
}

// ExtractGRPCMetadata returns ctx carrying the remote span context found in md.
func ExtractGRPCMetadata(ctx context.Context, md metadata.MD) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, grpcMetadataCarrier(md))
}
