package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterAdmitsUpToLimit(t *testing.T) {
	l := New(3, time.Minute)
	defer l.Close()

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("relay-a")
		require.True(t, ok, "event %d should be admitted", i)
	}
	ok, remaining := l.Allow("relay-a")
	require.False(t, ok)
	require.Zero(t, remaining)

	// independent key is unaffected
	ok, _ = l.Allow("relay-b")
	require.True(t, ok)
}

func TestLimiterWindowSlides(t *testing.T) {
	l := New(1, 30*time.Millisecond)
	defer l.Close()

	ok, _ := l.Allow("k")
	require.True(t, ok)
	ok, _ = l.Allow("k")
	require.False(t, ok)

	time.Sleep(50 * time.Millisecond)
	ok, _ = l.Allow("k")
	require.True(t, ok)
}
