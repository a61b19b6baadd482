package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	defaultMaxDelay    = time.Minute
)

// RetryPolicy retries retryable outcomes with delay BaseDelay × 2^attempt,
// capped at MaxDelay. MaxAttempts counts the initial call.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Sleep waits d or returns ctx.Err(); nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry runs before each backoff.
	OnRetry func(op string, attempt int, delay time.Duration, err error)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// Backoff returns the wait after the failed attempt (0-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 0 {
		return p.BaseDelay
	}
	if attempt > 30 {
		return maxDelay
	}
	d := p.BaseDelay * time.Duration(1<<attempt)
	if d > maxDelay || d <= 0 {
		return maxDelay
	}
	return d
}

// Do runs fn until it succeeds, fails terminally, ctx ends, or the attempt
// budget is spent. It returns the number of calls made. An exhausted budget
// is reported as a terminal *Error wrapping ErrRetriesExhausted and the last
// failure.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}
		attempts++
		err := fn(ctx)
		switch Classify(err) {
		case Success:
			return attempts, nil
		case Terminal, Cancelled:
			return attempts, err
		}
		if attempts >= maxAttempts {
			return attempts, exhausted(op, attempts, err)
		}
		delay := p.Backoff(attempts - 1)
		if p.OnRetry != nil {
			p.OnRetry(op, attempts, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return attempts, serr
		}
	}
}

func exhausted(op string, attempts int, last error) error {
	status := 0
	var ve *Error
	if errors.As(last, &ve) {
		status = ve.StatusCode
	}
	return &Error{
		Op:         op,
		Outcome:    Terminal,
		StatusCode: status,
		Message:    fmt.Sprintf("%s (after %d attempts)", Reason(last), attempts),
		Err:        fmt.Errorf("%w: %w", ErrRetriesExhausted, last),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retrier holds a policy that can be swapped at runtime (config reload).
type Retrier struct {
	policy atomic.Pointer[RetryPolicy]
}

func NewRetrier(p RetryPolicy) *Retrier {
	r := &Retrier{}
	r.Set(p)
	return r
}

func (r *Retrier) Set(p RetryPolicy) {
	r.policy.Store(&p)
}

func (r *Retrier) Policy() RetryPolicy {
	if p := r.policy.Load(); p != nil {
		return *p
	}
	return DefaultRetryPolicy()
}

// Update changes the budget and base delay, keeping hooks.
func (r *Retrier) Update(maxAttempts int, base time.Duration) {
	p := r.Policy()
	p.MaxAttempts = maxAttempts
	p.BaseDelay = base
	r.Set(p)
}

func (r *Retrier) Do(ctx context.Context, op string, fn func(context.Context) error) (int, error) {
	return r.Policy().Do(ctx, op, fn)
}
