package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payguard/internal/platform/config"
)

func TestNewWithoutURLDisablesRedis(t *testing.T) {
	c, err := New(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.NoError(t, c.Health(context.Background()))
	assert.NoError(t, c.Close())
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{URL: "http://not-redis"})
	require.ErrorContains(t, err, "parse redis URL")
}

func TestClientOptionsOverlayConfig(t *testing.T) {
	opts, err := clientOptions(config.RedisConfig{
		URL:         "redis://localhost:6379/2",
		PoolSize:    7,
		DialTimeout: 250 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, 250*time.Millisecond, opts.DialTimeout)
}

func TestClientOptionsDefaultDialTimeout(t *testing.T) {
	opts, err := clientOptions(config.RedisConfig{URL: "redis://localhost:6379"})
	require.NoError(t, err)
	assert.Equal(t, config.Defaults().Redis.DialTimeout, opts.DialTimeout)
}
