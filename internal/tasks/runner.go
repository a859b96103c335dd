// Package tasks runs detached, best-effort background work (history
// enrichment, report archiving) outside the request path. Each task runs with
// its own timeout and failure boundary; errors and panics are logged, never
// returned to the submitter.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/vitals-monitor/internal/metrics"
)

// Config controls the worker pool.
//   - Workers: number of goroutines executing tasks (default 4).
//   - BufferSize: pending task capacity (default 256).
//   - TaskTimeout: per-task deadline (default 60s).
//   - BaseContext: parent context for task execution (default context.Background()).
//   - Logger: optional structured logger.
type Config struct {
	Workers     int
	BufferSize  int
	TaskTimeout time.Duration
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultWorkers     = 4
	defaultBufferSize  = 256
	defaultTaskTimeout = 60 * time.Second
)

// Func is one unit of background work.
type Func func(ctx context.Context) error

type task struct {
	name string
	fn   Func
}

// Runner is a bounded pool of background workers. Submit never blocks.
type Runner struct {
	cfg    Config
	logger *zap.Logger
	queue  chan task
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewRunner starts the worker pool.
func NewRunner(cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan task, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
	go func() {
		r.wg.Wait()
		close(r.done)
	}()
	return r
}

// Submit schedules fn. It returns false when the runner is closed or the
// buffer is full; the task is dropped in both cases.
func (r *Runner) Submit(name string, fn Func) bool {
	if r == nil || fn == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("background task rejected after close", zap.String("task", name))
		return false
	}
	select {
	case r.queue <- task{name: name, fn: fn}:
		return true
	default:
		r.logger.Warn("background task dropped due to backpressure", zap.String("task", name))
		return false
	}
}

// Close stops accepting tasks, lets queued tasks finish, and blocks until the
// workers exit or ctx ends. Safe to call more than once.
func (r *Runner) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background tasks close wait: %w", ctx.Err())
	}
}

func (r *Runner) work() {
	defer r.wg.Done()
	for t := range r.queue {
		r.execute(t)
	}
}

func (r *Runner) execute(t task) {
	metrics.IncBackgroundTasks()
	defer metrics.DecBackgroundTasks()

	ctx, cancel := context.WithTimeout(r.cfg.BaseContext, r.cfg.TaskTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("background task panicked", zap.String("task", t.name), zap.Any("panic", rec))
		}
	}()

	start := time.Now()
	if err := t.fn(ctx); err != nil {
		r.logger.Warn("background task failed",
			zap.String("task", t.name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug("background task completed", zap.String("task", t.name), zap.Duration("duration", time.Since(start)))
}
