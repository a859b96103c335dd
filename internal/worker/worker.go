// Package worker consumes the in-process job queue and hands each job to the
// job processor, redelivering retryable failures with backoff.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/vitals-monitor/internal/jobs"
	"github.com/JakeFAU/vitals-monitor/internal/monitor"
)

// Dequeuer yields queued jobs.
type Dequeuer interface {
	Dequeue(ctx context.Context) (monitor.Job, error)
}

// Processor executes one job.
type Processor interface {
	Process(ctx context.Context, projectID string) jobs.Outcome
}

// Worker consumes queue items and runs them through the processor.
type Worker struct {
	queue     Dequeuer
	processor Processor
	retry     RetryPolicy
	logger    *zap.Logger
}

// New constructs a Worker. A nil retry policy disables redelivery.
func New(queue Dequeuer, processor Processor, retry RetryPolicy, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		processor: processor,
		retry:     retry,
		logger:    logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Debug("queue dequeue stopped", zap.Error(err))
			}
			return
		}
		w.logger.Debug("dequeued job", zap.String("project_id", job.ProjectID))
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job monitor.Job) {
	for attempt := 1; ; attempt++ {
		out := w.processor.Process(ctx, job.ProjectID)
		if !out.Retryable() {
			return
		}
		if w.retry == nil || !w.retry.ShouldRetry(out.Err, attempt) {
			w.logger.Error("job failed, giving up",
				zap.String("project_id", job.ProjectID),
				zap.Int("attempts", attempt),
				zap.Error(out.Err),
			)
			return
		}
		delay := w.retry.Backoff(attempt)
		w.logger.Warn("job failed, retrying",
			zap.String("project_id", job.ProjectID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(out.Err),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}
