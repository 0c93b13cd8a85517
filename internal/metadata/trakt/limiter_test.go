package trakt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsWithinBudget(t *testing.T) {
	l := newLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.acquire(context.Background()))
	}
	assert.Equal(t, 3, l.count)
}

func TestLimiterBlocksUntilWindowRollover(t *testing.T) {
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	var slept time.Duration

	l := newLimiter(2, time.Minute)
	l.now = func() time.Time { return now }
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		now = now.Add(d)
		return nil
	}

	require.NoError(t, l.acquire(context.Background()))
	now = now.Add(10 * time.Second)
	require.NoError(t, l.acquire(context.Background()))

	// Budget spent 10s into the window, so the third call waits out the
	// remaining 50s.
	require.NoError(t, l.acquire(context.Background()))
	assert.Equal(t, 50*time.Second, slept)
	assert.Equal(t, 1, l.count)
}

func TestLimiterResetsAfterPeriod(t *testing.T) {
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newLimiter(1, time.Minute)
	l.now = func() time.Time { return now }

	require.NoError(t, l.acquire(context.Background()))
	now = now.Add(2 * time.Minute)
	require.NoError(t, l.acquire(context.Background()))
	assert.Equal(t, 1, l.count)
}

func TestLimiterHonorsContext(t *testing.T) {
	l := newLimiter(1, time.Minute)
	require.NoError(t, l.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, l.acquire(ctx))
}
