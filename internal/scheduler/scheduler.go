// Package scheduler finds projects due for an audit and fans them out,
// either onto the asynchronous job queue or inline in the calling process.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/vitals-monitor/internal/jobs"
	"github.com/JakeFAU/vitals-monitor/internal/metrics"
	"github.com/JakeFAU/vitals-monitor/internal/monitor"
)

// DueLister returns the due set.
type DueLister interface {
	ListDueProjects(ctx context.Context, now time.Time) ([]monitor.Project, error)
}

// JobProcessor runs one project's audit and reschedules it.
type JobProcessor interface {
	Process(ctx context.Context, projectID string) jobs.Outcome
}

// Result summarizes one dispatch pass.
type Result struct {
	// Dispatched counts projects handed to the queue or attempted inline.
	Dispatched int `json:"dispatched"`
	// Failed counts enqueue failures and inline runs that did not succeed.
	Failed int `json:"-"`
}

// Scheduler dispatches due projects. With a non-nil Enqueuer it only
// publishes jobs; otherwise it processes each project inline.
type Scheduler struct {
	store     DueLister
	enqueuer  monitor.Enqueuer
	processor JobProcessor
	clock     monitor.Clock
	logger    *zap.Logger
}

// New creates a Scheduler.
func New(store DueLister, enqueuer monitor.Enqueuer, processor JobProcessor, clock monitor.Clock, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:     store,
		enqueuer:  enqueuer,
		processor: processor,
		clock:     clock,
		logger:    logger.Named("scheduler"),
	}
}

// Dispatch runs one pass over the due set. It fails only when the due set
// cannot be loaded; per-project failures are isolated and logged.
func (s *Scheduler) Dispatch(ctx context.Context) (Result, error) {
	due, err := s.store.ListDueProjects(ctx, s.clock.Now())
	if err != nil {
		return Result{}, fmt.Errorf("failed to list due projects: %w", err)
	}
	if len(due) == 0 {
		s.logger.Debug("no projects due")
		return Result{}, nil
	}

	var res Result
	if s.enqueuer != nil {
		res = s.enqueueAll(ctx, due)
	} else {
		res = s.runInline(ctx, due)
	}
	s.logger.Info("dispatch pass complete",
		zap.Int("due", len(due)),
		zap.Int("dispatched", res.Dispatched),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (s *Scheduler) enqueueAll(ctx context.Context, due []monitor.Project) Result {
	var res Result
	for _, p := range due {
		if err := s.enqueuer.Enqueue(ctx, monitor.Job{ProjectID: p.ID}); err != nil {
			s.logger.Error("failed to enqueue audit job", zap.String("project_id", p.ID), zap.Error(err))
			metrics.ObserveDispatch("queue", "error")
			res.Failed++
			continue
		}
		metrics.ObserveDispatch("queue", "enqueued")
		res.Dispatched++
	}
	return res
}

// runInline attempts every due project, even if the caller goes away
// partway through the pass.
func (s *Scheduler) runInline(ctx context.Context, due []monitor.Project) Result {
	ctx = context.WithoutCancel(ctx)
	var res Result
	for _, p := range due {
		res.Dispatched++
		out := s.processOne(ctx, p.ID)
		metrics.ObserveDispatch("inline", string(out.Status))
		if out.Status != jobs.StatusOK && out.Status != jobs.StatusSkipped {
			res.Failed++
		}
	}
	return res
}

// processOne isolates a single project so a panic cannot abort the pass.
func (s *Scheduler) processOne(ctx context.Context, projectID string) (out jobs.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("inline audit panicked", zap.String("project_id", projectID), zap.Any("panic", rec))
			out = jobs.Outcome{Status: jobs.StatusRetry, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	return s.processor.Process(ctx, projectID)
}
