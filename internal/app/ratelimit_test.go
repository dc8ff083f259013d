package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDialRateLimiterPerTarget(t *testing.T) {
	rl := NewDialRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		require.True(t, rl.Allow("pat-1"))
	}
	require.False(t, rl.Allow("pat-1"))

	// A different target has its own window.
	require.True(t, rl.Allow("pat-2"))
}

func TestDialRateLimiterWindowExpires(t *testing.T) {
	rl := NewDialRateLimiter(1, 30*time.Millisecond)

	require.True(t, rl.Allow("pat-1"))
	require.False(t, rl.Allow("pat-1"))

	time.Sleep(50 * time.Millisecond)
	require.True(t, rl.Allow("pat-1"))
}
