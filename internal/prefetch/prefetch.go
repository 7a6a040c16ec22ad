// Package prefetch runs low-priority background fetches. Jobs wait until
// foreground work is idle, respect a rate limit, and are dropped rather
// than queued without bound.
package prefetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Defaults.
const (
	DefaultWorkers     = 1
	DefaultQueueSize   = 256
	DefaultIdlePoll    = 10 * time.Millisecond
	DefaultIdleMaxWait = time.Second
)

// Job fetches one key. Its error is logged and otherwise ignored.
type Job func(ctx context.Context) error

type task struct {
	key string
	job Job
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets the number of concurrent jobs.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithQueueSize sets how many jobs may wait before Submit drops new ones.
func WithQueueSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithRate limits how often jobs start.
func WithRate(limit rate.Limit, burst int) Option {
	return func(s *Scheduler) {
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithIdle makes jobs wait until busy reports false, polling every poll,
// for at most maxWait. A job that waited maxWait runs anyway.
func WithIdle(busy func() bool, poll, maxWait time.Duration) Option {
	return func(s *Scheduler) {
		s.busy = busy
		if poll > 0 {
			s.idlePoll = poll
		}
		if maxWait > 0 {
			s.idleMaxWait = maxWait
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// Scheduler owns a fixed pool of workers fed by a bounded queue.
type Scheduler struct {
	workers     int
	queueSize   int
	limiter     *rate.Limiter
	busy        func() bool
	idlePoll    time.Duration
	idleMaxWait time.Duration
	logger      *zap.Logger

	queue  chan task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// New starts a scheduler. Call Stop to release its workers.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		workers:     DefaultWorkers,
		queueSize:   DefaultQueueSize,
		limiter:     rate.NewLimiter(rate.Inf, 0),
		idlePoll:    DefaultIdlePoll,
		idleMaxWait: DefaultIdleMaxWait,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.queue = make(chan task, s.queueSize)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	for range s.workers {
		s.wg.Add(1)
		go s.work()
	}
	return s
}

// Submit queues job without blocking. It returns false if the queue is
// full or the scheduler is stopped.
func (s *Scheduler) Submit(key string, job Job) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return false
	}
	select {
	case s.queue <- task{key: key, job: job}:
		return true
	default:
		return false
	}
}

// Pending returns the number of queued jobs.
func (s *Scheduler) Pending() int {
	return len(s.queue)
}

// Stop cancels running jobs, discards queued ones and waits for the
// workers to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) work() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case t := <-s.queue:
			s.run(t)
		}
	}
}

func (s *Scheduler) run(t task) {
	if !s.waitIdle() {
		return
	}
	if err := s.limiter.Wait(s.ctx); err != nil {
		return
	}
	if s.ctx.Err() != nil {
		return
	}

	if err := call(s.ctx, t.job); err != nil {
		s.logger.Debug("prefetch failed",
			zap.String("event", "prefetch_failed"),
			zap.String("key", t.key),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("prefetch succeeded",
		zap.String("event", "prefetch_success"),
		zap.String("key", t.key),
	)
}

// waitIdle blocks while foreground work is in flight. It returns false if
// the scheduler stopped while waiting.
func (s *Scheduler) waitIdle() bool {
	if s.busy == nil {
		return true
	}
	deadline := time.NewTimer(s.idleMaxWait)
	defer deadline.Stop()
	poll := time.NewTicker(s.idlePoll)
	defer poll.Stop()

	for s.busy() {
		select {
		case <-s.ctx.Done():
			return false
		case <-deadline.C:
			return true
		case <-poll.C:
		}
	}
	return true
}

func call(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("prefetch panic: %v", r)
		}
	}()
	return job(ctx)
}
