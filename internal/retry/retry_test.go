package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second, MaxAttempts: 5}

	testCases := []struct {
		attempt  int
		expected time.Duration
	}{
		{attempt: 0, expected: 0},
		{attempt: 1, expected: 100 * time.Millisecond},
		{attempt: 2, expected: 200 * time.Millisecond},
		{attempt: 3, expected: 400 * time.Millisecond},
		{attempt: 4, expected: 800 * time.Millisecond},
		{attempt: 5, expected: time.Second},
		{attempt: 9, expected: time.Second},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, p.Delay(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestPolicy_DelayUncapped(t *testing.T) {
	p := Policy{BaseDelay: time.Millisecond, Multiplier: 3, MaxAttempts: 3}
	assert.Equal(t, 9*time.Millisecond, p.Delay(3))
}

func TestPolicy_BaseAboveCap(t *testing.T) {
	p := Policy{BaseDelay: 5 * time.Second, Multiplier: 2, MaxDelay: time.Second, MaxAttempts: 3}
	assert.Equal(t, time.Second, p.Delay(1))
}

func TestPolicy_Validate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	err := Policy{BaseDelay: -1, Multiplier: 0.5, MaxAttempts: 0}.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "multiplier")
	assert.ErrorContains(t, err, "max attempts")
}

func TestPolicy_AttemptsFor(t *testing.T) {
	p := Policy{MaxAttempts: 4}
	assert.Equal(t, 2, p.AttemptsFor(2))
	assert.Equal(t, 4, p.AttemptsFor(0))
	assert.Equal(t, 1, Policy{}.AttemptsFor(0))
}

func TestController_OnFailure(t *testing.T) {
	ctx := context.Background()
	c := NewController(Policy{BaseDelay: 10 * time.Millisecond, Multiplier: 2, MaxAttempts: 3})
	boom := errors.New("boom")

	t.Run("retries below the bound", func(t *testing.T) {
		d := c.OnFailure(ctx, "a", 2, 0, boom)
		assert.True(t, d.Retry)
		assert.Equal(t, 20*time.Millisecond, d.Delay)
		assert.NoError(t, d.Err)
	})

	t.Run("gives up at the bound", func(t *testing.T) {
		d := c.OnFailure(ctx, "a", 3, 0, boom)
		require.False(t, d.Retry)

		var exhausted *RetryExhaustedError
		require.ErrorAs(t, d.Err, &exhausted)
		assert.Equal(t, 3, exhausted.Attempts)
		assert.ErrorIs(t, d.Err, boom)
	})

	t.Run("task bound overrides policy", func(t *testing.T) {
		d := c.OnFailure(ctx, "a", 1, 1, boom)
		assert.False(t, d.Retry)
	})
}

func TestTimers(t *testing.T) {
	t.Run("fires once", func(t *testing.T) {
		timers := NewTimers()
		fired := make(chan string, 1)

		require.True(t, timers.Schedule("a", time.Millisecond, func() { fired <- "a" }))
		select {
		case id := <-fired:
			assert.Equal(t, "a", id)
		case <-time.After(time.Second):
			t.Fatal("timer did not fire")
		}
		assert.Eventually(t, func() bool { return timers.Pending() == 0 }, time.Second, time.Millisecond)
	})

	t.Run("stop all prevents firing", func(t *testing.T) {
		timers := NewTimers()
		var calls atomic.Int32

		timers.Schedule("a", 50*time.Millisecond, func() { calls.Add(1) })
		timers.Schedule("b", 50*time.Millisecond, func() { calls.Add(1) })
		stopped := timers.StopAll()

		assert.ElementsMatch(t, []string{"a", "b"}, stopped)
		assert.False(t, timers.Schedule("c", time.Millisecond, func() { calls.Add(1) }))
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, int32(0), calls.Load())
		assert.Zero(t, timers.Pending())
	})

	t.Run("reschedule replaces", func(t *testing.T) {
		timers := NewTimers()
		var which atomic.Value

		timers.Schedule("a", 30*time.Millisecond, func() { which.Store("old") })
		timers.Schedule("a", time.Millisecond, func() { which.Store("new") })
		assert.Eventually(t, func() bool { return which.Load() == "new" }, time.Second, time.Millisecond)
		time.Sleep(60 * time.Millisecond)
		assert.Equal(t, "new", which.Load())
	})
}
