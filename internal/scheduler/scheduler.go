package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"cryptotrader/internal/logger"
)

// Task is one unit of periodic work. Returned errors are logged; the
// schedule continues.
type Task func(ctx context.Context) error

// IntervalScheduler runs a task every Interval until its context ends. Runs
// are sequential: the next wait starts when the previous run returns, so a
// slow run delays the schedule instead of overlapping itself.
type IntervalScheduler struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
	runs  atomic.Int64
	fails atomic.Int64
}

func NewIntervalScheduler(ctx context.Context, name string, interval time.Duration) *IntervalScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &IntervalScheduler{
		Name:     name,
		Interval: interval,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start blocks until the context is done.
func (s *IntervalScheduler) Start(task Task) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("IntervalScheduler[%s]: task is nil, exit", s.Name)
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("IntervalScheduler[%s]: invalid interval=%s, exit", s.Name, s.Interval)
		return
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	logger.Infof("IntervalScheduler[%s]: started interval=%s run_immediately=%v", s.Name, s.Interval, s.RunImmediately)
	if s.RunImmediately && s.ctx.Err() == nil {
		s.run(task)
	}

	timer := time.NewTimer(s.Interval)
	defer timer.Stop()
	for {
		select {
		case <-s.ctx.Done():
			logger.Infof("IntervalScheduler[%s]: ctx done after %d run(s), exit", s.Name, s.runs.Load())
			return
		case <-timer.C:
		}
		s.run(task)
		timer.Reset(s.Interval)
	}
}

// Runs reports how many times the task has been started.
func (s *IntervalScheduler) Runs() int64 { return s.runs.Load() }

// Failures reports how many runs returned an error or panicked.
func (s *IntervalScheduler) Failures() int64 { return s.fails.Load() }

func (s *IntervalScheduler) run(task Task) {
	s.runs.Add(1)
	started := s.nowFn()
	defer func() {
		if r := recover(); r != nil {
			s.fails.Add(1)
			logger.Errorf("IntervalScheduler[%s]: task panic: %v", s.Name, r)
		}
	}()
	err := task(s.ctx)
	elapsed := s.nowFn().Sub(started)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.fails.Add(1)
		logger.Warnf("IntervalScheduler[%s]: task failed after %s: %v", s.Name, elapsed.Truncate(time.Millisecond), err)
		return
	}
	if elapsed > s.Interval {
		logger.Warnf("IntervalScheduler[%s]: run took %s, longer than interval %s", s.Name, elapsed.Truncate(time.Millisecond), s.Interval)
		return
	}
	logger.Debugf("IntervalScheduler[%s]: run done in %s", s.Name, elapsed.Truncate(time.Millisecond))
}
