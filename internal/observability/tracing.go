package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps OpenTelemetry span creation around the agentic loop: each
// Orchestrator.Run call gets an agent.run span, each provider Chat call
// (one per round) gets a nested llm.<provider> span, and each
// ToolExecutionService.executeOne call gets a
// nested tool.<name> span. Unlike EventRecorder, which replays a run's
// timeline for debugging, Tracer exports real distributed traces.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TraceConfig
}

// TraceConfig configures the distributed tracing behavior.
type TraceConfig struct {
	// ServiceName identifies this service in traces.
	ServiceName string

	// ServiceVersion identifies the service version.
	ServiceVersion string

	// Environment specifies the deployment environment (production, staging, dev).
	Environment string

	// Endpoint is the OTLP collector endpoint (e.g., "localhost:4317").
	// If empty, tracing is disabled and a no-op tracer is returned.
	Endpoint string

	// SamplingRate controls what fraction of traces are recorded (0.0 to
	// 1.0). Defaults to 1.0 if not specified.
	SamplingRate float64

	// Attributes are additional resource attributes included in all spans.
	Attributes map[string]string

	// EnableInsecure disables TLS for the OTLP connection (dev/testing only).
	EnableInsecure bool
}

// SpanOptions configures span creation behavior.
type SpanOptions struct {
	Kind       trace.SpanKind
	Attributes []attribute.KeyValue
}

// NewTracer creates a tracer. If config.Endpoint is empty, or the OTLP
// exporter fails to initialize, a no-op tracer is returned instead of an
// error, so a run never fails because its collector is unreachable.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(config.ServiceName), config: config}, func(context.Context) error { return nil }
	}

	if config.SamplingRate == 0 {
		config.SamplingRate = 1.0
	}
	if config.ServiceName == "" {
		config.ServiceName = "agentcore"
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.EnableInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return &Tracer{tracer: otel.Tracer(config.ServiceName), config: config}, func(context.Context) error { return nil }
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}
	for k, v := range config.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.SamplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := &Tracer{provider: provider, tracer: provider.Tracer(config.ServiceName), config: config}
	return tracer, func(ctx context.Context) error { return provider.Shutdown(ctx) }
}

// Start creates a new span and returns a context carrying it. A nil Tracer
// returns ctx unchanged with a non-recording span, so callers can hold an
// optional Tracer field and call Start unconditionally.
func (t *Tracer) Start(ctx context.Context, name string, opts ...SpanOptions) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	var options []trace.SpanStartOption
	if len(opts) > 0 {
		opt := opts[0]
		if opt.Kind != 0 {
			options = append(options, trace.WithSpanKind(opt.Kind))
		}
		if len(opt.Attributes) > 0 {
			options = append(options, trace.WithAttributes(opt.Attributes...))
		}
	}
	return t.tracer.Start(ctx, name, options...)
}

// RecordError records an error on the span and sets its status to error.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets alternating key/value pairs as span attributes.
func (t *Tracer) SetAttributes(span trace.Span, keyvals ...any) {
	span.SetAttributes(pairsToAttributes(keyvals)...)
}

// AddEvent adds a named event to the span with optional attributes.
func (t *Tracer) AddEvent(span trace.Span, name string, keyvals ...any) {
	span.AddEvent(name, trace.WithAttributes(pairsToAttributes(keyvals)...))
}

// TraceRun creates a span for one Orchestrator.Run execution.
func (t *Tracer) TraceRun(ctx context.Context, executionID, conversationID string) (context.Context, trace.Span) {
	return t.Start(ctx, "agent.run", SpanOptions{
		Kind: trace.SpanKindInternal,
		Attributes: []attribute.KeyValue{
			attribute.String("execution_id", executionID),
			attribute.String("conversation_id", conversationID),
		},
	})
}

// TraceLLMRequest creates a span for a single provider Chat call.
func (t *Tracer) TraceLLMRequest(ctx context.Context, provider, model string, round int) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("llm.%s", provider), SpanOptions{
		Kind: trace.SpanKindClient,
		Attributes: []attribute.KeyValue{
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
			attribute.Int("llm.round", round),
		},
	})
}

// TraceToolExecution creates a span for a single tool invocation.
func (t *Tracer) TraceToolExecution(ctx context.Context, toolName, executionID string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("tool.%s", toolName), SpanOptions{
		Kind: trace.SpanKindInternal,
		Attributes: []attribute.KeyValue{
			attribute.String("tool.name", toolName),
			attribute.String("tool.execution_id", executionID),
		},
	})
}

func pairsToAttributes(keyvals []any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(keyvals)/2)
	for i := 0; i < len(keyvals)-1; i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, attributeFromValue(key, keyvals[i+1]))
	}
	return attrs
}

// attributeFromValue creates an attribute.KeyValue from a Go value.
func attributeFromValue(key string, val any) attribute.KeyValue {
	switch v := val.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
