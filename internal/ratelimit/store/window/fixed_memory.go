// Package window holds the per-customer admission stores: fixed-window and
// token-bucket, in memory or in Redis.
package window

import (
	"context"
	"time"

	"payguard/internal/ratelimit/models"
)

type fixedState struct {
	tokens int
	last   time.Time
}

// InMemoryFixedWindowStore admits up to limit requests per customer. The
// allowance resets once more than window has passed since the customer's
// last admitted request.
type InMemoryFixedWindowStore struct {
	state *shardedMap[fixedState]
	now   func() time.Time
}

func NewInMemoryFixedWindowStore(opts ...Option) *InMemoryFixedWindowStore {
	c := applyOptions(opts)
	return &InMemoryFixedWindowStore{state: newShardedMap[fixedState](), now: c.now}
}

func (s *InMemoryFixedWindowStore) Allow(_ context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	now := s.now()
	var res models.RateLimitResult
	s.state.with(key, func(cur *fixedState) *fixedState {
		if cur == nil || now.Sub(cur.last) > window {
			cur = &fixedState{tokens: limit, last: now}
		}
		res.Limit = limit
		if cur.tokens > 0 {
			cur.tokens--
			cur.last = now
			res.Allowed = true
		} else {
			// the allowance comes back once now - last exceeds window
			res.RetryAfter = cur.last.Add(window).Sub(now) + time.Nanosecond
		}
		res.Remaining = cur.tokens
		res.ResetAt = cur.last.Add(window)
		return cur
	})
	return &res, nil
}

func (s *InMemoryFixedWindowStore) Reset(_ context.Context, key string) error {
	s.state.with(key, func(*fixedState) *fixedState { return nil })
	return nil
}

// Sweep drops state idle for longer than window; a swept customer starts
// fresh, exactly as an expired window would.
func (s *InMemoryFixedWindowStore) Sweep(window time.Duration) int {
	now := s.now()
	return s.state.sweep(func(st *fixedState) bool { return now.Sub(st.last) > window })
}
