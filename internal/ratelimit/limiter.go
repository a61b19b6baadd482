// Package ratelimit arbitrates the venue's public and private request quotas.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type Scope string

const (
	Public  Scope = "public"
	Private Scope = "private"
)

func (s Scope) String() string { return string(s) }

// Policy is a requests-per-window budget plus a floor between admissions.
type Policy struct {
	Limit      int
	Window     time.Duration
	MinSpacing time.Duration
}

// Config holds one policy per scope.
type Config struct {
	Public  Policy
	Private Policy
}

func DefaultConfig() Config {
	return Config{
		Public:  Policy{Limit: 20, Window: time.Second, MinSpacing: 50 * time.Millisecond},
		Private: Policy{Limit: 15, Window: 3 * time.Second, MinSpacing: 50 * time.Millisecond},
	}
}

// Stats is a point-in-time view of one scope.
type Stats struct {
	Admitted  int64
	Cancelled int64
	Waiting   int64
}

// Limiter gates calls per scope. Waiters of a scope are admitted in the
// order they called Acquire.
type Limiter interface {
	Acquire(ctx context.Context, scope Scope) error
	Stats(scope Scope) Stats
}

// bucket schedules admissions so that no Window holds more than Limit of
// them. slots are the admission times handed out, oldest first; spacing
// enforces the floor between consecutive admissions.
type bucket struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	slots   []time.Time
	spacing *rate.Limiter

	admitted  atomic.Int64
	cancelled atomic.Int64
	waiting   atomic.Int64
}

func newBucket(p Policy) *bucket {
	b := &bucket{}
	if p.Limit > 0 && p.Window > 0 {
		b.limit, b.window = p.Limit, p.Window
	}
	if p.MinSpacing > 0 {
		b.spacing = rate.NewLimiter(rate.Every(p.MinSpacing), 1)
	}
	return b
}

// reserve books the next admission slot and returns how long to wait for
// it. Holding mu while booking keeps slots ordered by arrival. The returned
// func gives the slot back.
func (b *bucket) reserve(now time.Time) (time.Duration, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	at := now
	if b.limit > 0 {
		cutoff := now.Add(-b.window)
		drop := 0
		for drop < len(b.slots) && !b.slots[drop].After(cutoff) {
			drop++
		}
		b.slots = b.slots[drop:]
		if n := len(b.slots); n > 0 && b.slots[n-1].After(at) {
			at = b.slots[n-1]
		}
		if n := len(b.slots); n >= b.limit {
			if free := b.slots[n-b.limit].Add(b.window); free.After(at) {
				at = free
			}
		}
	}
	var spaced *rate.Reservation
	if b.spacing != nil {
		spaced = b.spacing.ReserveN(at, 1)
		at = at.Add(spaced.DelayFrom(at))
	}
	if b.limit > 0 {
		b.slots = append(b.slots, at)
	}
	return at.Sub(now), func() { b.release(at, spaced) }
}

func (b *bucket) release(at time.Time, spaced *rate.Reservation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if spaced != nil {
		spaced.CancelAt(time.Now())
	}
	for i, slot := range b.slots {
		if slot.Equal(at) {
			b.slots = append(b.slots[:i], b.slots[i+1:]...)
			return
		}
	}
}

// WindowLimiter is the live limiter: each scope owns an independent budget.
type WindowLimiter struct {
	scopes map[Scope]*bucket
	onWait func(scope Scope, d time.Duration)
}

func New(cfg Config) *WindowLimiter {
	return &WindowLimiter{
		scopes: map[Scope]*bucket{
			Public:  newBucket(cfg.Public),
			Private: newBucket(cfg.Private),
		},
	}
}

// OnWait registers a hook called whenever an admission had to wait.
func (l *WindowLimiter) OnWait(fn func(scope Scope, d time.Duration)) {
	l.onWait = fn
}

func (l *WindowLimiter) bucketFor(scope Scope) (Scope, *bucket) {
	s := Scope(strings.ToLower(string(scope)))
	if b, ok := l.scopes[s]; ok {
		return s, b
	}
	return Private, l.scopes[Private]
}

// Acquire blocks until scope admits one call or ctx is done. A cancelled
// waiter gives its slot back.
func (l *WindowLimiter) Acquire(ctx context.Context, scope Scope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, b := l.bucketFor(scope)
	delay, cancel := b.reserve(time.Now())
	if delay <= 0 {
		b.admitted.Add(1)
		return nil
	}
	if l.onWait != nil {
		l.onWait(name, delay)
	}

	b.waiting.Add(1)
	defer b.waiting.Add(-1)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		b.admitted.Add(1)
		return nil
	case <-ctx.Done():
		cancel()
		b.cancelled.Add(1)
		return ctx.Err()
	}
}

func (l *WindowLimiter) Stats(scope Scope) Stats {
	_, b := l.bucketFor(scope)
	return Stats{
		Admitted:  b.admitted.Load(),
		Cancelled: b.cancelled.Load(),
		Waiting:   b.waiting.Load(),
	}
}

type unlimited struct {
	admitted atomic.Int64
}

// Unlimited admits every call at once. Used by paper trading.
func Unlimited() Limiter { return &unlimited{} }

func (u *unlimited) Acquire(ctx context.Context, _ Scope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u.admitted.Add(1)
	return nil
}

func (u *unlimited) Stats(Scope) Stats { return Stats{Admitted: u.admitted.Load()} }
