package trader

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"testing"
	"time"
)

func TestPollUntilSucceeds(t *testing.T) {
	policy := PollPolicy{Timeout: 500 * time.Millisecond, Interval: 10 * time.Millisecond}
	calls := 0

	done, err := pollUntil(context.Background(), policy, func(ctx context.Context) (bool, error) {
		calls++
		return calls == 2, nil
	})

	assert.True(t, done)
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestPollUntilSleepsBeforeFirstProbe(t *testing.T) {
	policy := PollPolicy{Timeout: 500 * time.Millisecond, Interval: 50 * time.Millisecond}
	start := time.Now()

	done, err := pollUntil(context.Background(), policy, func(ctx context.Context) (bool, error) {
		return true, nil
	})

	assert.True(t, done)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPollUntilTimesOut(t *testing.T) {
	policy := PollPolicy{Timeout: 60 * time.Millisecond, Interval: 10 * time.Millisecond}

	done, err := pollUntil(context.Background(), policy, func(ctx context.Context) (bool, error) {
		return false, nil
	})

	assert.False(t, done)
	assert.NoError(t, err)
}

func TestPollUntilKeepsGoingThroughErrors(t *testing.T) {
	policy := PollPolicy{Timeout: 150 * time.Millisecond, Interval: 5 * time.Millisecond}
	probeErr := errors.New("API down")
	calls := 0

	done, err := pollUntil(context.Background(), policy, func(ctx context.Context) (bool, error) {
		calls++
		return false, probeErr
	})

	assert.False(t, done)
	assert.ErrorIs(t, err, probeErr)
	assert.Greater(t, calls, 1)
}

func TestPollUntilErrorThenSuccess(t *testing.T) {
	policy := PollPolicy{Timeout: 500 * time.Millisecond, Interval: 10 * time.Millisecond}
	calls := 0

	done, err := pollUntil(context.Background(), policy, func(ctx context.Context) (bool, error) {
		calls++
		if calls < 3 {
			return false, errors.New("API down")
		}
		return true, nil
	})

	assert.True(t, done)
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPollUntilContextCancelled(t *testing.T) {
	policy := PollPolicy{Timeout: time.Minute, Interval: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	done, err := pollUntil(ctx, policy, func(ctx context.Context) (bool, error) {
		t.Fatal("probe must not run on a cancelled context")
		return false, nil
	})

	assert.False(t, done)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), policy.Interval)
}
