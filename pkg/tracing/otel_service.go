// Package tracing configures OpenTelemetry for the service and provides span
// helpers for HTTP requests, store operations, socket events and Kafka publishing.
package tracing

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Exporter kinds
const (
	ExporterOTLP    = "otlp"
	ExporterConsole = "console"
)

// TracingConfig contains configuration for OpenTelemetry tracing
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled" json:"enabled" env:"TRACING_ENABLED" default:"false"`
	ServiceName    string  `yaml:"service_name" json:"service_name" env:"TRACING_SERVICE_NAME" default:"convosense"`
	ServiceVersion string  `yaml:"service_version" json:"service_version" env:"TRACING_SERVICE_VERSION" default:"1.0.0"`
	Environment    string  `yaml:"environment" json:"environment" env:"TRACING_ENVIRONMENT" default:"development"`
	SampleRate     float64 `yaml:"sample_rate" json:"sample_rate" env:"TRACING_SAMPLE_RATE" default:"1"`

	Exporter        string            `yaml:"exporter" json:"exporter" env:"TRACING_EXPORTER" default:"otlp"`
	Endpoint        string            `yaml:"endpoint" json:"endpoint" env:"TRACING_ENDPOINT" default:"localhost:4318"`
	Insecure        bool              `yaml:"insecure" json:"insecure" env:"TRACING_INSECURE" default:"true"`
	Headers         map[string]string `yaml:"headers" json:"headers"`
	ExportTimeout   time.Duration     `yaml:"export_timeout" json:"export_timeout" env:"TRACING_EXPORT_TIMEOUT" default:"10s"`
	ExportBatchSize int               `yaml:"export_batch_size" json:"export_batch_size" env:"TRACING_EXPORT_BATCH_SIZE" default:"512"`
}

// DefaultTracingConfig returns tracing disabled with an OTLP/HTTP exporter preset.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:     "convosense",
		ServiceVersion:  "1.0.0",
		Environment:     "development",
		SampleRate:      1.0,
		Exporter:        ExporterOTLP,
		Endpoint:        "localhost:4318",
		Insecure:        true,
		ExportTimeout:   10 * time.Second,
		ExportBatchSize: 512,
	}
}

// Validate checks the exporter settings when tracing is enabled.
func (c *TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("tracing sample_rate must be between 0 and 1, got %v", c.SampleRate)
	}
	switch c.Exporter {
	case ExporterOTLP:
		if c.Endpoint == "" {
			return fmt.Errorf("tracing endpoint is required for the otlp exporter")
		}
	case ExporterConsole:
	default:
		return fmt.Errorf("unsupported tracing exporter: %s", c.Exporter)
	}
	return nil
}

// TracingService owns the tracer provider and hands out tracers.
type TracingService struct {
	config   *TracingConfig
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracingService builds the provider and installs it globally. A disabled
// config yields a service whose spans are no-ops.
func NewTracingService(config *TracingConfig) (*TracingService, error) {
	if config == nil {
		config = DefaultTracingConfig()
	}

	if !config.Enabled {
		return &TracingService{
			config: config,
			tracer: noop.NewTracerProvider().Tracer(config.ServiceName),
		}, nil
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	exporter, err := createExporter(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	return NewWithSpanProcessor(config, sdktrace.NewBatchSpanProcessor(exporter,
		sdktrace.WithBatchTimeout(config.ExportTimeout),
		sdktrace.WithMaxExportBatchSize(config.ExportBatchSize),
	))
}

// NewWithSpanProcessor builds an enabled service around a caller supplied processor.
func NewWithSpanProcessor(config *TracingConfig, processor sdktrace.SpanProcessor) (*TracingService, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SampleRate))),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracingService{
		config:   config,
		provider: provider,
		tracer:   provider.Tracer(config.ServiceName),
	}, nil
}

func createExporter(config *TracingConfig) (sdktrace.SpanExporter, error) {
	switch config.Exporter {
	case ExporterOTLP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(config.Endpoint),
			otlptracehttp.WithTimeout(config.ExportTimeout),
		}
		if len(config.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(config.Headers))
		}
		if config.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	case ExporterConsole:
		return stdouttrace.New(stdouttrace.WithWriter(os.Stdout), stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unsupported export type: %s", config.Exporter)
	}
}

// Enabled reports whether spans are recorded and exported.
func (ts *TracingService) Enabled() bool {
	return ts.provider != nil
}

// Stop flushes remaining spans and shuts the provider down.
func (ts *TracingService) Stop(ctx context.Context) error {
	if ts.provider == nil {
		return nil
	}
	return ts.provider.Shutdown(ctx)
}

// Tracer returns a named tracer from the service's provider.
func (ts *TracingService) Tracer(name string) trace.Tracer {
	if ts.provider == nil {
		return noop.NewTracerProvider().Tracer(name)
	}
	return ts.provider.Tracer(name)
}

// StartSpan starts a span with the service tracer.
func (ts *TracingService) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return ts.tracer.Start(ctx, name, opts...)
}

// StartSocketSpan starts a span for one realtime event.
func (ts *TracingService) StartSocketSpan(ctx context.Context, event, connectionID string) (context.Context, trace.Span) {
	return ts.tracer.Start(ctx, "socket."+event,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("socket.event", event),
			attribute.String("socket.connection_id", connectionID),
		),
	)
}

// StartKafkaSpan starts a producer span for a Kafka publish.
func (ts *TracingService) StartKafkaSpan(ctx context.Context, operation, topic string) (context.Context, trace.Span) {
	return ts.tracer.Start(ctx, "kafka."+operation,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.operation", operation),
			attribute.String("messaging.destination", topic),
		),
	)
}

// RecordError marks span as failed.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// InjectHeaders writes the trace context of ctx into a string map.
func InjectHeaders(ctx context.Context) map[string]string {
	headers := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
	return headers
}

// HealthCheck verifies a span can be created.
func (ts *TracingService) HealthCheck(ctx context.Context) error {
	if ts.provider == nil {
		return nil
	}
	_, span := ts.tracer.Start(ctx, "health_check")
	span.SetAttributes(attribute.String("check.type", "health"))
	span.End()
	return nil
}

// TracingMiddleware starts a server span per request, continuing any incoming trace.
func (ts *TracingService) TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ts.provider == nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := ts.tracer.Start(ctx, fmt.Sprintf("%s %s", r.Method, r.URL.Path),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.host", r.Host),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", wrapped.statusCode))
		if wrapped.statusCode >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", wrapped.statusCode))
		}
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack keeps websocket upgrades working behind the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("ResponseWriter does not implement http.Hijacker")
}
