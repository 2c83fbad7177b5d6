package clock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/platform/clock"
)

func TestFakeClock_AfterAdvancesAndRecords(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.Fake(start)

	fired := <-c.After(3 * time.Second)

	assert.Equal(t, start.Add(3*time.Second), fired)
	assert.Equal(t, start.Add(3*time.Second), c.Now())
	assert.Equal(t, []time.Duration{3 * time.Second}, c.Waits())
}

func TestFakeClock_AdvanceDoesNotRecordWait(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.Fake(start)

	c.Advance(time.Minute)

	assert.Equal(t, start.Add(time.Minute), c.Now())
	assert.Empty(t, c.Waits())
	assert.Zero(t, c.TotalWait())
}

func TestSleep_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := clock.Sleep(ctx, clock.Real(), time.Hour)

	require.ErrorIs(t, err, context.Canceled)
}

func TestSleep_ZeroDurationReturnsImmediately(t *testing.T) {
	c := clock.Fake(time.Unix(0, 0))

	require.NoError(t, clock.Sleep(context.Background(), c, 0))
	assert.Empty(t, c.Waits())
}
