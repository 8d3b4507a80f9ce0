// Package work runs pipeline stages on a bounded worker pool.
//
// Bus handlers stay fast by submitting the heavy part of a stage
// (archive extraction, log parsing, outbound device sessions) to the
// pool instead of running it inline on the publisher's goroutine.
package work

import (
	"context"
	"sync"
	"time"

	"github.com/iwplog/iwplogd/internal/logger"
)

// task is one queued unit of stage work.
type task struct {
	stage string
	fn    func(ctx context.Context)
}

// Pool processes stage work in the background with bounded queueing.
type Pool struct {
	queue chan task

	workers   int
	wg        sync.WaitGroup
	stopCh    chan struct{}
	stoppedCh chan struct{}
	started   bool

	mu        sync.Mutex
	pending   int
	completed int
	dropped   int
}

// PoolConfig holds configuration for the worker pool.
type PoolConfig struct {
	// QueueSize is the maximum number of queued tasks.
	// Default: 256
	QueueSize int

	// Workers is the number of concurrent workers.
	// Default: 4
	Workers int
}

// DefaultPoolConfig returns sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		QueueSize: 256,
		Workers:   4,
	}
}

// NewPool creates a worker pool. Start must be called before tasks run.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	return &Pool{
		queue:     make(chan task, cfg.QueueSize),
		workers:   cfg.Workers,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start begins processing queued tasks.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	logger.Info("starting worker pool", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	// Monitor goroutine to close stoppedCh when all workers exit
	go func() {
		p.wg.Wait()
		close(p.stoppedCh)
	}()
}

// Stop shuts the pool down, draining queued tasks until the timeout.
func (p *Pool) Stop(timeout time.Duration) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	logger.Info("stopping worker pool", "pending", p.Pending())

	close(p.stopCh)

	select {
	case <-p.stoppedCh:
		logger.Info("worker pool stopped")
	case <-time.After(timeout):
		logger.Warn("worker pool stop timed out", "pending", p.Pending())
	}
}

// Submit queues a task. Returns false when the queue is full; the task
// is dropped, matching the pipeline's no-retry disposition.
func (p *Pool) Submit(stage string, fn func(ctx context.Context)) bool {
	select {
	case p.queue <- task{stage: stage, fn: fn}:
		p.mu.Lock()
		p.pending++
		p.mu.Unlock()
		return true
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		logger.Warn("work queue full, dropping task", logger.Stage(stage))
		return false
	}
}

// Pending returns the number of queued tasks.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Stats returns task counters.
func (p *Pool) Stats() (pending, completed, dropped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending, p.completed, p.dropped
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			// Drain remaining tasks before exiting
			p.drainQueue(ctx)
			return

		case <-ctx.Done():
			return

		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.runTask(ctx, t)
		}
	}
}

// drainQueue processes remaining tasks during shutdown.
func (p *Pool) drainQueue(ctx context.Context) {
	for {
		select {
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.runTask(ctx, t)
		default:
			return
		}
	}
}

func (p *Pool) runTask(ctx context.Context, t task) {
	start := time.Now()
	t.fn(ctx)

	p.mu.Lock()
	p.pending--
	p.completed++
	p.mu.Unlock()

	logger.Debug("task completed",
		logger.Stage(t.stage),
		logger.DurationMs(float64(time.Since(start).Microseconds())/1000.0))
}
