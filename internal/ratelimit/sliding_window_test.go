package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindowTake(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	limiter := NewSlidingWindow(3, time.Minute)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		d := limiter.Take("10.0.0.1")
		require.True(t, d.Allowed, "hit %d should be allowed", i+1)
		assert.Equal(t, 2-i, d.Remaining)
		now = now.Add(10 * time.Second)
	}

	denied := limiter.Take("10.0.0.1")
	assert.False(t, denied.Allowed)
	assert.Equal(t, 30*time.Second, denied.RetryAfter)

	other := limiter.Take("10.0.0.2")
	assert.True(t, other.Allowed)

	now = now.Add(31 * time.Second)
	again := limiter.Take("10.0.0.1")
	assert.True(t, again.Allowed, "oldest hit slid out of the window")
	assert.Equal(t, 2, limiter.TrackedKeys())
}

func TestSlidingWindowDefaults(t *testing.T) {
	t.Parallel()

	limiter := NewSlidingWindow(0, 0)
	assert.Equal(t, 1, limiter.limit)
	assert.Equal(t, time.Minute, limiter.window)
	assert.True(t, limiter.Take("k").Allowed)
	assert.False(t, limiter.Take("k").Allowed)
}

func TestUnlimited(t *testing.T) {
	t.Parallel()

	allowed, err := Unlimited{}.Allow(context.Background(), "sms:twilio")
	require.NoError(t, err)
	assert.True(t, allowed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Unlimited{}.Wait(ctx, "sms:twilio"), context.Canceled)
}
