package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when the config does not name the service
	DefaultServiceName = "vipps-oauth"

	// DefaultServiceVersion is used when no version is provided
	DefaultServiceVersion = "dev"

	// scopePrefix namespaces meter and tracer scopes
	scopePrefix = "github.com/nordauth/vipps-oauth/"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName identifies the service in telemetry. Default: vipps-oauth.
	ServiceName string

	// ServiceVersion is the service version attached to telemetry
	ServiceVersion string

	// Enabled turns instrumentation on. When false, no-op providers are used
	// and all recording is free.
	Enabled bool

	// MeterProvider overrides the meter provider. When nil and Enabled is
	// false, a no-op provider is used. Supplying an SDK provider (e.g. one
	// backed by a Prometheus or OTLP exporter) makes metrics observable.
	MeterProvider metric.MeterProvider

	// TracerProvider overrides the tracer provider, same rules as
	// MeterProvider.
	TracerProvider trace.TracerProvider

	// Resource overrides the OTEL resource describing this service
	Resource *resource.Resource
}

// Instrumentation bundles the metric and trace providers plus the metric
// instruments used by the library.
type Instrumentation struct {
	config         Config
	resource       *resource.Resource
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metrics        *Metrics

	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	switch {
	case config.MeterProvider != nil:
		inst.meterProvider = config.MeterProvider
	default:
		inst.meterProvider = metricnoop.NewMeterProvider()
	}

	switch {
	case config.TracerProvider != nil:
		inst.tracerProvider = config.TracerProvider
	default:
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// Shutdown gracefully shuts down all registered instrumentation components.
// It should be called when the application is terminating.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})

	return shutdownErr
}

// Meter returns a named meter for the given scope (e.g. "provider", "cache")
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// MeterProvider returns the underlying meter provider
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// TracerProvider returns the underlying tracer provider
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}
