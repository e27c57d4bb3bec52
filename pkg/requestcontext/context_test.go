package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccessorsDefaultToZero(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, Principal(ctx))
	assert.Empty(t, ClientIP(ctx))
	assert.Empty(t, RequestID(ctx))
	assert.WithinDuration(t, time.Now(), Now(ctx), time.Second)
}

func TestAccessorsRoundTrip(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := WithPrincipal(context.Background(), "merchant-a")
	ctx = WithClientIP(ctx, "10.0.0.1")
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithTime(ctx, fixed)

	assert.Equal(t, "merchant-a", Principal(ctx))
	assert.Equal(t, "10.0.0.1", ClientIP(ctx))
	assert.Equal(t, "req-123", RequestID(ctx))
	assert.Equal(t, fixed, Now(ctx))
}
