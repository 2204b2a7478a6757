package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// instantTimer fires immediately and records every requested delay.
type instantTimer struct {
	c      chan time.Time
	delays []time.Duration
}

func newInstantTimer() *instantTimer {
	return &instantTimer{c: make(chan time.Time, 1)}
}

func (t *instantTimer) Start(d time.Duration) {
	t.delays = append(t.delays, d)
	t.c <- time.Time{}
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

func TestDoSucceedsAfterFailures(t *testing.T) {
	for failures := 0; failures <= 3; failures++ {
		t.Run(fmt.Sprintf("fail_%d", failures), func(t *testing.T) {
			timer := newInstantTimer()
			calls := 0
			got, err := Do(context.Background(), DefaultPolicy(), func(context.Context) (string, error) {
				calls++
				if calls <= failures {
					return "", errors.New("node timeout")
				}
				return "ok", nil
			}, WithTimer(timer))

			require.NoError(t, err)
			assert.Equal(t, "ok", got)
			assert.Equal(t, failures+1, calls)
			require.Len(t, timer.delays, failures)
			for i, d := range timer.delays {
				assert.Equal(t, DefaultPolicy().Delay(i), d)
			}
		})
	}
}

func TestDoReturnsLastErrorUnchanged(t *testing.T) {
	timer := newInstantTimer()
	errs := make([]error, 0, 4)
	calls := 0

	_, err := Do(context.Background(), DefaultPolicy(), func(context.Context) (int, error) {
		calls++
		e := fmt.Errorf("attempt %d failed", calls)
		errs = append(errs, e)
		return 0, e
	}, WithTimer(timer))

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Same(t, errs[len(errs)-1], err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, timer.delays)
}

func TestDoCapsDelay(t *testing.T) {
	timer := newInstantTimer()
	policy := Policy{MaxRetries: 4, BaseDelay: 10 * time.Second, MaxDelay: 25 * time.Second}

	_, err := Do(context.Background(), policy, func(context.Context) (struct{}, error) {
		return struct{}{}, errors.New("boom")
	}, WithTimer(timer))

	require.Error(t, err)
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 25 * time.Second, 25 * time.Second}, timer.delays)
}

func TestDoZeroRetries(t *testing.T) {
	timer := newInstantTimer()
	calls := 0
	_, err := Do(context.Background(), Policy{MaxRetries: 0}, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("once")
	}, WithTimer(timer))

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, timer.delays)
}

func TestDoOnRetryCallback(t *testing.T) {
	timer := newInstantTimer()
	var attempts []int
	calls := 0

	_, err := Do(context.Background(), DefaultPolicy(), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("flaky")
		}
		return calls, nil
	}, WithTimer(timer), OnRetry(func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}))

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, Policy{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("unreachable node")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestPolicyDelay(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 60*time.Second, p.Delay(10))
}
