package window

import (
	"context"
	"math"
	"time"

	"payguard/internal/ratelimit/models"
)

type bucketState struct {
	tokens float64
	last   time.Time
}

// InMemoryTokenBucketStore refills each customer's bucket continuously at
// limit tokens per window, up to limit.
type InMemoryTokenBucketStore struct {
	state *shardedMap[bucketState]
	now   func() time.Time
}

func NewInMemoryTokenBucketStore(opts ...Option) *InMemoryTokenBucketStore {
	c := applyOptions(opts)
	return &InMemoryTokenBucketStore{state: newShardedMap[bucketState](), now: c.now}
}

func (s *InMemoryTokenBucketStore) Allow(_ context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	now := s.now()
	perToken := float64(window) / float64(limit) // nanoseconds to earn one token
	var res models.RateLimitResult
	s.state.with(key, func(cur *bucketState) *bucketState {
		if cur == nil {
			cur = &bucketState{tokens: float64(limit), last: now}
		}
		if elapsed := now.Sub(cur.last); elapsed > 0 {
			cur.tokens = math.Min(float64(limit), cur.tokens+float64(elapsed)/perToken)
			cur.last = now
		}
		res.Limit = limit
		if cur.tokens >= 1 {
			cur.tokens--
			res.Allowed = true
		} else {
			res.RetryAfter = time.Duration(math.Ceil((1 - cur.tokens) * perToken))
		}
		res.Remaining = int(math.Floor(cur.tokens))
		res.ResetAt = now.Add(time.Duration(math.Ceil((float64(limit) - cur.tokens) * perToken)))
		return cur
	})
	return &res, nil
}

func (s *InMemoryTokenBucketStore) Reset(_ context.Context, key string) error {
	s.state.with(key, func(*bucketState) *bucketState { return nil })
	return nil
}

// Sweep drops buckets that have been idle long enough to be full again.
func (s *InMemoryTokenBucketStore) Sweep(window time.Duration) int {
	now := s.now()
	return s.state.sweep(func(st *bucketState) bool { return now.Sub(st.last) > window })
}
