package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWithinBudgetIsImmediate(t *testing.T) {
	l := New(Config{
		Public:  Policy{Limit: 5, Window: time.Hour},
		Private: Policy{Limit: 5, Window: time.Hour},
	})
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(context.Background(), Public))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.EqualValues(t, 5, l.Stats(Public).Admitted)
	assert.EqualValues(t, 0, l.Stats(Private).Admitted)
}

func TestScopesAreIndependent(t *testing.T) {
	l := New(Config{
		Public:  Policy{Limit: 1, Window: time.Hour},
		Private: Policy{Limit: 1, Window: time.Hour},
	})
	require.NoError(t, l.Acquire(context.Background(), Public))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, l.Acquire(ctx, Private))
}

func TestCancelUnblocksWaiter(t *testing.T) {
	l := New(Config{Private: Policy{Limit: 1, Window: time.Hour}})
	require.NoError(t, l.Acquire(context.Background(), Private))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Acquire(ctx, Private) }()

	require.Eventually(t, func() bool { return l.Stats(Private).Waiting == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("waiter not released on cancel")
	}
	assert.EqualValues(t, 1, l.Stats(Private).Cancelled)
	assert.EqualValues(t, 0, l.Stats(Private).Waiting)
}

func TestAcquireAfterCancelledContext(t *testing.T) {
	l := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Acquire(ctx, Public), context.Canceled)
}

func TestWaitersAdmittedInArrivalOrder(t *testing.T) {
	l := New(Config{Public: Policy{Limit: 1, Window: 15 * time.Millisecond}})
	require.NoError(t, l.Acquire(context.Background(), Public))

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, l.Acquire(context.Background(), Public))
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}(i)
		want := int64(i + 1)
		require.Eventually(t, func() bool {
			st := l.Stats(Public)
			return st.Waiting+st.Admitted-1 >= want
		}, time.Second, time.Millisecond)
	}
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestMinSpacing(t *testing.T) {
	l := New(Config{Private: Policy{Limit: 100, Window: time.Second, MinSpacing: 20 * time.Millisecond}})
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background(), Private))
	}
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestUnknownScopeUsesPrivate(t *testing.T) {
	l := New(DefaultConfig())
	require.NoError(t, l.Acquire(context.Background(), Scope("PRIVATE")))
	require.NoError(t, l.Acquire(context.Background(), Scope("other")))
	assert.EqualValues(t, 2, l.Stats(Private).Admitted)
}

func TestUnlimited(t *testing.T) {
	l := Unlimited()
	for i := 0; i < 1000; i++ {
		require.NoError(t, l.Acquire(context.Background(), Private))
	}
	assert.EqualValues(t, 1000, l.Stats(Private).Admitted)
}

func TestWindowNeverExceedsLimit(t *testing.T) {
	b := newBucket(Policy{Limit: 5, Window: 500 * time.Millisecond})
	t0 := time.Unix(1700000000, 0)

	var admits []time.Time
	for i := 0; i < 12; i++ {
		delay, _ := b.reserve(t0)
		admits = append(admits, t0.Add(delay))
	}
	for i := range admits {
		inWindow := 0
		for _, at := range admits {
			if !at.Before(admits[i]) && at.Before(admits[i].Add(500*time.Millisecond)) {
				inWindow++
			}
		}
		assert.LessOrEqual(t, inWindow, 5, "window starting at admission %d", i)
	}
	assert.Equal(t, t0, admits[4])
	assert.Equal(t, t0.Add(500*time.Millisecond), admits[5])
	assert.Equal(t, t0.Add(time.Second), admits[10])
}

func TestReleasedSlotIsReused(t *testing.T) {
	b := newBucket(Policy{Limit: 1, Window: time.Second})
	t0 := time.Unix(1700000000, 0)

	first, _ := b.reserve(t0)
	assert.Zero(t, first)
	second, release := b.reserve(t0)
	assert.Equal(t, time.Second, second)
	release()

	third, _ := b.reserve(t0)
	assert.Equal(t, time.Second, third)
}

func TestBackToBackAcquireRespectsBudget(t *testing.T) {
	l := New(Config{Public: Policy{Limit: 5, Window: 500 * time.Millisecond}})
	ctx, cancel := context.WithTimeout(context.Background(), 450*time.Millisecond)
	defer cancel()

	admitted := 0
	for l.Acquire(ctx, Public) == nil {
		admitted++
	}
	assert.Equal(t, 5, admitted)
}
