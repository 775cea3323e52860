package telemetry

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "filedrop"
	defaultSampleRate   = 0.1
)

// Config selects the OTLP/HTTP collector. An empty Endpoint disables tracing.
type Config struct {
	ServiceName string
	Endpoint    string
	// SampleRate outside [0,1] is replaced with 0.1.
	SampleRate float64
}

type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Init installs the global trace provider and propagators. Exporter setup
// failures are not fatal: the service runs untraced.
func Init(ctx context.Context, cfg Config) (Shutdown, error) {
	host, secure, ok := parseEndpoint(cfg.Endpoint)
	if !ok {
		return noop, nil
	}

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(host),
		otlptracehttp.WithTimeout(3 * time.Second),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{Enabled: false}),
	}
	if !secure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(initCtx, opts...)
	if err != nil {
		return noop, nil
	}

	name := cfg.ServiceName
	if name == "" {
		name = instrumentationName
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate(cfg.SampleRate)))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// Tracer returns the filedrop tracer. Before Init it is a noop.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// parseEndpoint accepts "host:port" or a URL. Only an https scheme turns TLS on.
func parseEndpoint(raw string) (host string, secure bool, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, false
	}
	if !strings.Contains(raw, "://") {
		return raw, false, true
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false, false
	}
	return u.Host, strings.EqualFold(u.Scheme, "https"), true
}

func sampleRate(rate float64) float64 {
	if rate < 0 || rate > 1 {
		return defaultSampleRate
	}
	return rate
}
