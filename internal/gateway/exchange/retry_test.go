package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func TestBackoffSchedule(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Second, p.Backoff(0))
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, time.Minute, p.Backoff(40))

	p.MaxDelay = 3 * time.Second
	assert.Equal(t, 3*time.Second, p.Backoff(2))
}

func TestRetryRecoversAfterTransientFailure(t *testing.T) {
	rec := &sleepRecorder{}
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: rec.sleep}

	calls := 0
	attempts, err := p.Do(context.Background(), OpPlaceOrder, func(context.Context) error {
		calls++
		if calls == 1 {
			return HTTPError(OpPlaceOrder, 503, "")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []time.Duration{time.Second}, rec.waits)
}

func TestRetryBudgetIsBounded(t *testing.T) {
	for _, budget := range []int{1, 2, 3, 5} {
		rec := &sleepRecorder{}
		var retried []int
		p := RetryPolicy{
			MaxAttempts: budget,
			BaseDelay:   time.Second,
			Sleep:       rec.sleep,
			OnRetry:     func(_ string, attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) },
		}
		calls := 0
		attempts, err := p.Do(context.Background(), OpPlaceOrder, func(context.Context) error {
			calls++
			return BusinessError(OpPlaceOrder, "EService:Unavailable")
		})
		assert.Equal(t, budget, calls)
		assert.Equal(t, budget, attempts)
		assert.Len(t, rec.waits, budget-1)
		assert.Len(t, retried, budget-1)
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.Equal(t, Terminal, Classify(err))
		assert.Contains(t, Reason(err), "EService:Unavailable")
	}
}

func TestRetryTerminalFailsImmediately(t *testing.T) {
	rec := &sleepRecorder{}
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: rec.sleep}
	attempts, err := p.Do(context.Background(), OpPlaceOrder, func(context.Context) error {
		return BusinessError(OpPlaceOrder, "Invalid order")
	})
	assert.Equal(t, 1, attempts)
	assert.Empty(t, rec.waits)
	assert.Equal(t, "Invalid order", Reason(err))
	assert.False(t, errors.Is(err, ErrRetriesExhausted))
}

func TestRetryStopsOnCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}
	attempts, err := p.Do(ctx, OpPlaceOrder, func(context.Context) error {
		return HTTPError(OpPlaceOrder, 502, "")
	})
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryDefaultSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}
	start := time.Now()
	_, err := p.Do(ctx, OpTicker, func(context.Context) error { return HTTPError(OpTicker, 500, "") })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetrierUpdate(t *testing.T) {
	r := NewRetrier(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Hour})
	r.Update(5, 10*time.Millisecond)
	p := r.Policy()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, p.BaseDelay)
	assert.Equal(t, time.Hour, p.MaxDelay)
}
