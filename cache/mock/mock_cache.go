// Package mock provides a mock implementation of the discovery cache for
// testing.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/nordauth/vipps-oauth/cache"
)

// SetCall records the arguments of one Set invocation
type SetCall struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// MockCache is a configurable mock implementation of cache.DiscoveryCache
type MockCache struct {
	// GetFunc is called when Get() is invoked
	GetFunc func(ctx context.Context, key string) ([]byte, error)

	// SetFunc is called when Set() is invoked
	SetFunc func(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	// SetCalls records the arguments of every Set invocation
	SetCalls []SetCall

	// mu protects CallCounts and SetCalls from concurrent access
	mu sync.RWMutex
}

var _ cache.DiscoveryCache = (*MockCache)(nil)

// NewMockCache creates a new mock cache whose defaults behave like an empty
// cache that accepts writes.
func NewMockCache() *MockCache {
	return &MockCache{
		CallCounts: make(map[string]int),
		GetFunc: func(ctx context.Context, key string) ([]byte, error) {
			return nil, nil
		},
		SetFunc: func(ctx context.Context, key string, value []byte, ttl time.Duration) error {
			return nil
		},
	}
}

// Get implements cache.DiscoveryCache
func (m *MockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.recordCall("Get")
	return m.GetFunc(ctx, key)
}

// Set implements cache.DiscoveryCache
func (m *MockCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.recordCall("Set")

	m.mu.Lock()
	m.SetCalls = append(m.SetCalls, SetCall{Key: key, Value: value, TTL: ttl})
	m.mu.Unlock()

	return m.SetFunc(ctx, key, value, ttl)
}

// GetCallCount returns the number of times the named method was called
func (m *MockCache) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

// LastSetCall returns the most recent Set invocation, or nil when Set was
// never called.
func (m *MockCache) LastSetCall() *SetCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.SetCalls) == 0 {
		return nil
	}
	call := m.SetCalls[len(m.SetCalls)-1]
	return &call
}

func (m *MockCache) recordCall(method string) {
	m.mu.Lock()
	m.CallCounts[method]++
	m.mu.Unlock()
}
