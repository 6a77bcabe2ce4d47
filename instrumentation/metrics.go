package instrumentation

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome attribute values for request counters
const (
	// OutcomeSuccess marks a validated, usable response
	OutcomeSuccess = "success"

	// OutcomeInvalid marks a 2xx response whose payload failed schema
	// validation (soft-empty result)
	OutcomeInvalid = "invalid"

	// OutcomeError marks an HTTP or transport failure
	OutcomeError = "error"
)

// Cache lookup result attribute values
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// Metrics holds all metric instruments for the library
type Metrics struct {
	// Discovery pipeline metrics
	DiscoveryRequests metric.Int64Counter
	DiscoveryDuration metric.Float64Histogram
	CacheLookups      metric.Int64Counter

	// Userinfo pipeline metrics
	UserinfoRequests metric.Int64Counter
	UserinfoDuration metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	meter := inst.Meter("provider")

	var err error
	m.DiscoveryRequests, err = meter.Int64Counter(
		"vipps.discovery.requests.total",
		metric.WithDescription("Total number of discovery document fetches by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery.requests.total counter: %w", err)
	}

	m.DiscoveryDuration, err = meter.Float64Histogram(
		"vipps.discovery.request.duration",
		metric.WithDescription("Discovery fetch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery.request.duration histogram: %w", err)
	}

	m.CacheLookups, err = meter.Int64Counter(
		"vipps.discovery.cache.lookups.total",
		metric.WithDescription("Discovery cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery.cache.lookups.total counter: %w", err)
	}

	m.UserinfoRequests, err = meter.Int64Counter(
		"vipps.userinfo.requests.total",
		metric.WithDescription("Total number of userinfo fetches by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo.requests.total counter: %w", err)
	}

	m.UserinfoDuration, err = meter.Float64Histogram(
		"vipps.userinfo.request.duration",
		metric.WithDescription("Userinfo fetch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo.request.duration histogram: %w", err)
	}

	return m, nil
}

// OutcomeAttr builds the outcome attribute set for request counters
func OutcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String("outcome", outcome)
}

// CacheResultAttr builds the result attribute for cache lookup counters
func CacheResultAttr(result string) attribute.KeyValue {
	return attribute.String("result", result)
}
