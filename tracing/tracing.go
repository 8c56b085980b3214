// Package tracing wires OpenTelemetry spans around MCP tool calls and the
// Jolokia requests they fan out to.
package tracing

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

const TracerName = "jolokia-mcp-server"

// Span attribute keys.
const (
	AttrToolName     = attribute.Key("mcp.tool.name")
	AttrToolCategory = attribute.Key("mcp.tool.category")
	AttrToolReadOnly = attribute.Key("mcp.tool.readonly")
	AttrRequestType  = attribute.Key("jolokia.request.type")
	AttrMBean        = attribute.Key("jolokia.mbean")
	AttrMember       = attribute.Key("jolokia.member")
)

// Config controls span export.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Enabled        bool
	OTLPEndpoint   string // OTLP over HTTP when set, pretty-printed JSON otherwise
	SampleRate     float64
	// Output receives stdout-exporter spans. Defaults to stderr, since stdout
	// carries the MCP stdio transport.
	Output io.Writer
	// Exporter replaces both built-in exporters when set.
	Exporter sdktrace.SpanExporter
}

// FromEnv reads the standard OTEL_* variables. Tracing is on when OTEL_ENABLED
// is "true" or an OTLP endpoint is given.
func FromEnv() Config {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	env := os.Getenv("OTEL_ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	return Config{
		ServiceName:    TracerName,
		ServiceVersion: "1.0.0",
		Environment:    env,
		Enabled:        os.Getenv("OTEL_ENABLED") == "true" || endpoint != "",
		OTLPEndpoint:   endpoint,
		SampleRate:     1.0,
	}
}

// Setup installs a global tracer provider and returns its shutdown func. When
// tracing is disabled the returned func does nothing.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func newResource(cfg Config) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch {
	case cfg.Exporter != nil:
		return cfg.Exporter, nil
	case cfg.OTLPEndpoint != "":
		return otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
	default:
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		return stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
	}
}

// sampler clamps rate to [0, 1].
func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartToolSpan opens the span for one MCP tool call.
func StartToolSpan(ctx context.Context, tool, category string, readOnly bool) (context.Context, trace.Span) {
	return tracer().Start(ctx, "mcp.tool."+tool, trace.WithAttributes(
		AttrToolName.String(tool),
		AttrToolCategory.String(category),
		AttrToolReadOnly.Bool(readOnly),
	))
}

// StartBackendSpan opens a client span for one Jolokia request. mbean and
// member are left off the span when empty.
func StartBackendSpan(ctx context.Context, requestType, mbean, member string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{AttrRequestType.String(requestType)}
	if mbean != "" {
		attrs = append(attrs, AttrMBean.String(mbean))
	}
	if member != "" {
		attrs = append(attrs, AttrMember.String(member))
	}
	return tracer().Start(ctx, "jolokia."+requestType,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// Finish sets the span status from err and ends it.
func Finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
