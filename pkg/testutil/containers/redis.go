//go:build integration

package containers

import (
	"context"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"payguard/internal/platform/config"
	"payguard/internal/platform/redis"
)

// RedisContainer wraps a Redis instance backing the shared rate limiter.
type RedisContainer struct {
	Container testcontainers.Container
	URL       string
	Client    *goredis.Client
}

// NewRedisContainer starts Redis and connects with the service's own client
// settings, so pool and timeout defaults are exercised too.
func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	url, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get redis connection string: %v", err)
	}

	cfg := config.Defaults().Redis
	cfg.URL = url
	client, err := redis.New(ctx, cfg)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to connect to redis: %v", err)
	}

	return &RedisContainer{Container: container, URL: url, Client: client.Client}
}

// FlushAll clears limiter state between tests.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushAll(ctx).Err()
}
