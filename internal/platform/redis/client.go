// Package redis connects the shared rate limit backend.
package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"payguard/internal/platform/config"
)

// Client wraps the go-redis client shared by the rate limiter.
type Client struct {
	*goredis.Client
}

// New connects using cfg and verifies the server answers within the dial
// timeout. It returns nil, nil when no URL is configured.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{Client: client}, nil
}

// clientOptions layers the non-zero pool and timeout settings over what the
// URL specifies.
func clientOptions(cfg config.RedisConfig) (*goredis.Options, error) {
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	setIfPositive(&opts.PoolSize, cfg.PoolSize)
	setIfPositive(&opts.MinIdleConns, cfg.MinIdleConns)
	setIfPositive(&opts.DialTimeout, cfg.DialTimeout)
	setIfPositive(&opts.ReadTimeout, cfg.ReadTimeout)
	setIfPositive(&opts.WriteTimeout, cfg.WriteTimeout)
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = config.Defaults().Redis.DialTimeout
	}
	return opts, nil
}

func setIfPositive[T int | ~int64](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

// Health reports whether Redis answers a ping. A nil client is healthy.
func (c *Client) Health(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.Client.Close()
}
