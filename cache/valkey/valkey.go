// Package valkey provides a Valkey/Redis-backed implementation of the
// discovery cache for multi-instance deployments, where concurrent logins on
// different instances share one cached discovery document.
package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
)

const (
	// DefaultKeyPrefix is prepended to all cache keys. The pipeline already
	// namespaces its keys; this prefix isolates the library's keys inside a
	// shared Valkey instance.
	DefaultKeyPrefix = "vippsoauth:"

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the Valkey cache backend
type Config struct {
	// Address is the Valkey server address (required), e.g. "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "vippsoauth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Cache is a Valkey-backed discovery cache
type Cache struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

// New creates a new Valkey-backed cache. It returns an error if the
// connection cannot be established.
func New(cfg Config) (*Cache, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("connected to Valkey discovery cache",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Cache{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Get returns the value stored under key, or (nil, nil) when the key is
// absent.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Do(ctx, c.client.B().Get().Key(c.prefix+key).Build()).AsBytes()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return data, nil
}

// Set stores value under key. A positive ttl sets a millisecond-precision
// expiry; otherwise the entry is stored without one.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	b := c.client.B().Set().Key(c.prefix + key).Value(string(value))

	var cmd valkeygo.Completed
	if ttl > 0 {
		cmd = b.Px(ttl).Build()
	} else {
		cmd = b.Build()
	}

	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// Close releases the underlying Valkey client
func (c *Cache) Close() {
	c.client.Close()
}
