package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCustomerKeyEscapesDelimiters(t *testing.T) {
	assert.Equal(t, "ratelimit:customer:cust_1", CustomerKey("cust_1"))
	assert.Equal(t, "ratelimit:customer:a%3Ab", CustomerKey("a:b"))
	assert.NotEqual(t, CustomerKey("a:b"), CustomerKey("a_b"))
	assert.NotEqual(t, CustomerKey("a%3Ab"), CustomerKey("a:b"))
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 0, (&RateLimitResult{}).RetryAfterSeconds())
	assert.Equal(t, 1, (&RateLimitResult{RetryAfter: 10 * time.Millisecond}).RetryAfterSeconds())
	assert.Equal(t, 1, (&RateLimitResult{RetryAfter: time.Second}).RetryAfterSeconds())
	assert.Equal(t, 2, (&RateLimitResult{RetryAfter: 1001 * time.Millisecond}).RetryAfterSeconds())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("bucket")
	assert.NoError(t, err)
	assert.Equal(t, ModeBucket, m)

	_, err = ParseMode("sliding")
	assert.Error(t, err)
}
