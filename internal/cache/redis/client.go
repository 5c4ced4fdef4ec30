// Package redis backs the quote cache, the cross-process run lock,
// and paper-ledger snapshots with a single go-redis connection pool.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientConfig carries the connection parameters the [redis] config
// section exposes.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client owns the shared pool. The cache, lock, and snapshot types in
// this package all borrow it through Underlying.
type Client struct {
	rdb *redis.Client
}

// New dials Redis and verifies the connection with a ping before
// handing the pool out. A bot that cannot reach its cache should fail
// at startup, not on the first quote.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	var tlsCfg *tls.Config
	if cfg.TLSEnabled {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
		TLSConfig:  tlsCfg,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: dial %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying exposes the raw driver to the sibling types.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
