// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for
// the vipps-oauth library.
//
// It exposes metrics and traces for the two network calls the userinfo
// pipeline performs (discovery and userinfo) and for discovery cache lookups.
// Instrumentation is disabled by default: a zero-value setup uses no-op
// providers with no overhead, and logging or metric failures never change the
// outcome of a pipeline call.
//
// # Quick start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName: "my-auth-service",
//		Enabled:     true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	provider, err := vipps.New(&vipps.Config{
//		// ...
//		Instrumentation: inst,
//	})
//
// # Available metrics
//
//   - vipps.discovery.requests.total{outcome} - discovery fetches by outcome
//   - vipps.discovery.request.duration - discovery fetch duration in ms
//   - vipps.discovery.cache.lookups.total{result} - cache hits and misses
//   - vipps.userinfo.requests.total{outcome} - userinfo fetches by outcome
//   - vipps.userinfo.request.duration - userinfo fetch duration in ms
//
// The outcome attribute is one of "success", "invalid" (schema validation
// failed, soft-empty result) or "error" (HTTP or transport failure).
package instrumentation
