// Package redis is the tickerplant's hot-state layer on go-redis/v9. The
// market-data service writes the latest top-of-book ladders (BookCache) and
// rates (RateCache) here and republishes them through SignalBus, and the
// HTTP API throttles clients with RateLimiter. All of them share one Client.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ClientConfig is built from the [redis] config section. One instance may be
// shared by several recorders, so every key, channel and stream is namespaced
// by KeyPrefix.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	KeyPrefix  string // e.g. "tp:"
}

// Client is the shared connection handed to the caches, the signal bus and
// the rate limiter.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New connects and pings so that a misconfigured backend fails at startup
// rather than on the first market-data event.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &Client{rdb: rdb, prefix: cfg.KeyPrefix}, nil
}

// Ping backs the "redis" entry of the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key joins parts with ":" under the configured prefix, so
// Key("rate", "bitflyer", "BTCJPY") is "tp:rate:bitflyer:BTCJPY".
func (c *Client) Key(parts ...string) string {
	return c.prefix + strings.Join(parts, ":")
}

// Underlying returns the driver for pipelines and stream commands.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
