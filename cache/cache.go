// Package cache defines the discovery cache port consumed by the userinfo
// pipeline. The cache is an optional capability supplied by the host: it
// fully owns storage, eviction, and its own concurrency safety, while the
// pipeline only reads and writes through the two-method contract.
//
// Implementations are provided in subpackages:
//   - cache/memory: in-memory store for development and single-instance use
//   - cache/valkey: Valkey/Redis-backed store for multi-instance deployments
//   - cache/mock: configurable mock for testing
package cache

import (
	"context"
	"time"
)

const (
	// KeyPrefix namespaces discovery cache keys. The full key for a
	// discovery URL is KeyPrefix + discoveryURL.
	KeyPrefix = "vipps.discovery:"

	// DefaultTTL is the time-to-live applied to cached discovery documents
	// when no TTL is configured.
	DefaultTTL = time.Hour
)

// DiscoveryCache is the two-method cache contract the pipeline consults
// opportunistically. Absence of a cache is a valid configuration.
//
// Concurrent invocations racing to populate the same key are expected and
// must be tolerated by the implementation; the pipeline performs no
// single-flight deduplication.
type DiscoveryCache interface {
	// Get returns the value stored under key, or (nil, nil) when the key is
	// absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A non-positive ttl leaves the retention
	// policy to the implementation.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Key returns the namespaced cache key for a discovery URL
func Key(discoveryURL string) string {
	return KeyPrefix + discoveryURL
}
