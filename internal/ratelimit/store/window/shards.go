package window

import (
	"sync"
	"time"
)

// numShards spreads customers over independent locks.
const numShards = 64

type shard[S any] struct {
	mu    sync.Mutex
	state map[string]*S
}

type shardedMap[S any] struct {
	shards [numShards]shard[S]
}

func newShardedMap[S any]() *shardedMap[S] {
	m := &shardedMap[S]{}
	for i := range m.shards {
		m.shards[i].state = make(map[string]*S)
	}
	return m
}

// with runs fn under the key's shard lock, passing the existing state or nil.
// fn returns the state to keep; returning nil deletes the entry.
func (m *shardedMap[S]) with(key string, fn func(cur *S) *S) {
	sh := &m.shards[hashKey(key)%numShards]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	next := fn(sh.state[key])
	if next == nil {
		delete(sh.state, key)
		return
	}
	sh.state[key] = next
}

// sweep drops entries for which stale returns true.
func (m *shardedMap[S]) sweep(stale func(*S) bool) int {
	removed := 0
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.Lock()
		for k, v := range sh.state {
			if stale(v) {
				delete(sh.state, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// hashKey is FNV-1a.
func hashKey(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}

// Option configures the in-memory stores.
type Option func(*clockOpt)

type clockOpt struct {
	now func() time.Time
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *clockOpt) {
		if now != nil {
			c.now = now
		}
	}
}

func applyOptions(opts []Option) clockOpt {
	c := clockOpt{now: time.Now}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
