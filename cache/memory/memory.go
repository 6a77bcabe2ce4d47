// Package memory provides an in-memory implementation of the discovery
// cache. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultCleanupInterval is how often expired entries are removed when a
// janitor is running.
const DefaultCleanupInterval = 5 * time.Minute

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is a mutex-guarded in-memory discovery cache with per-entry TTL.
// It is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	logger *slog.Logger

	// now is swappable for deterministic tests
	now func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Config holds configuration for the in-memory cache
type Config struct {
	// CleanupInterval is how often expired entries are removed. Zero uses
	// DefaultCleanupInterval; a negative value disables the janitor (expired
	// entries are then only dropped lazily on Get).
	CleanupInterval time.Duration

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// New creates a new in-memory cache and starts its cleanup janitor
func New(cfg Config) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{
		entries: make(map[string]entry),
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	interval := cfg.CleanupInterval
	if interval == 0 {
		interval = DefaultCleanupInterval
	}
	if interval > 0 {
		go c.janitor(interval)
	}

	return c
}

// Get returns the value stored under key, or (nil, nil) when the key is
// absent or expired.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have renewed it.
		if cur, ok := c.entries[key]; ok && !cur.expiresAt.IsZero() && c.now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, nil
	}

	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, nil
}

// Set stores value under key. A non-positive ttl stores the entry without
// expiry.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = entry{value: stored, expiresAt: expiresAt}
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, including not-yet-collected
// expired ones.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup janitor. The cache remains usable afterwards.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Cache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	now := c.now()

	c.mu.Lock()
	removed := 0
	for key, e := range c.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.logger.Debug("removed expired discovery cache entries", "count", removed)
	}
}
