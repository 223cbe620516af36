package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var ErrAlreadyRunning = errors.New("scheduler already running")

// Scheduler runs Scan, then sleeps Interval, until stopped. Stop clears
// the running flag and cuts the sleep short; a scan in progress finishes.
type Scheduler struct {
	Interval time.Duration
	Scan     func(ctx context.Context)

	log *zap.Logger

	mu      sync.Mutex
	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

func NewScheduler(interval time.Duration, scan func(ctx context.Context), log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{Interval: interval, Scan: scan, log: log.Named("scheduler")}
}

func (s *Scheduler) Running() bool { return s.running.Load() }

// Start launches the loop bound to ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(ctx, s.stop, s.done)
	return nil
}

// Stop clears the running flag and waits for the loop to exit or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running.CompareAndSwap(true, false) {
		s.mu.Unlock()
		return nil
	}
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	defer s.running.Store(false)
	for s.running.Load() && ctx.Err() == nil {
		s.safeScan(ctx)

		t := time.NewTimer(s.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-stop:
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (s *Scheduler) safeScan(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scan panic", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	s.Scan(ctx)
}
