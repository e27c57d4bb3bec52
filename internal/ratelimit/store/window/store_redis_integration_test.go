//go:build integration

package window_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"payguard/internal/ratelimit/models"
	"payguard/internal/ratelimit/store/window"
	"payguard/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestFixedWindow() {
	ctx := context.Background()
	now := time.Now()
	store, err := window.NewRedisStore(s.redis.Client, models.ModeFixed, window.WithClock(func() time.Time { return now }))
	s.Require().NoError(err)
	key := models.CustomerKey("cust-redis")

	for i := range 5 {
		res, err := store.Allow(ctx, key, 5, time.Second)
		s.Require().NoError(err)
		s.True(res.Allowed, "admit %d", i+1)
		s.Equal(4-i, res.Remaining)
	}

	res, err := store.Allow(ctx, key, 5, time.Second)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Positive(res.RetryAfter)

	now = now.Add(1001 * time.Millisecond)
	res, err = store.Allow(ctx, key, 5, time.Second)
	s.Require().NoError(err)
	s.True(res.Allowed)

	s.Require().NoError(store.Reset(ctx, key))
	res, err = store.Allow(ctx, key, 5, time.Second)
	s.Require().NoError(err)
	s.Equal(4, res.Remaining)
}

func (s *RedisStoreSuite) TestTokenBucket() {
	ctx := context.Background()
	now := time.Now()
	store, err := window.NewRedisStore(s.redis.Client, models.ModeBucket, window.WithClock(func() time.Time { return now }))
	s.Require().NoError(err)
	key := models.CustomerKey("cust-bucket")

	for range 5 {
		res, err := store.Allow(ctx, key, 5, time.Second)
		s.Require().NoError(err)
		s.Require().True(res.Allowed)
	}
	res, err := store.Allow(ctx, key, 5, time.Second)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(200*time.Millisecond, res.RetryAfter)

	now = now.Add(200 * time.Millisecond)
	res, err = store.Allow(ctx, key, 5, time.Second)
	s.Require().NoError(err)
	s.True(res.Allowed)
}

func (s *RedisStoreSuite) TestConcurrentAdmitsRespectLimit() {
	ctx := context.Background()
	store, err := window.NewRedisStore(s.redis.Client, models.ModeFixed)
	s.Require().NoError(err)
	key := models.CustomerKey("cust-concurrent")

	var wg sync.WaitGroup
	var allowed atomic.Int32
	for range 40 {
		wg.Go(func() {
			res, err := store.Allow(ctx, key, 5, time.Minute)
			s.Require().NoError(err)
			if res.Allowed {
				allowed.Add(1)
			}
		})
	}
	wg.Wait()
	s.Equal(int32(5), allowed.Load())
}
