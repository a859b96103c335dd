// Package jobs turns one queued audit job into a runner invocation and maps
// the result onto the queue's retry contract.
package jobs

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/vitals-monitor/internal/metrics"
	"github.com/JakeFAU/vitals-monitor/internal/monitor"
)

// AuditRunner runs one audit cycle.
type AuditRunner interface {
	Run(ctx context.Context, projectID string, trigger monitor.Trigger) (string, error)
}

// Store is the project surface the processor needs to reschedule.
type Store interface {
	GetProject(ctx context.Context, id string) (monitor.Project, error)
	SetNextAuditAt(ctx context.Context, id string, next *time.Time, now time.Time) error
}

// Status classifies a processed job for the queue.
type Status string

// Job statuses.
const (
	// StatusOK means the audit completed and the project was rescheduled.
	StatusOK Status = "ok"
	// StatusSkipped means another cycle held the project's lease. The
	// project is still rescheduled so the slot is not re-dispatched.
	StatusSkipped Status = "skipped"
	// StatusPermanent means the audit API rejected the target. Do not retry.
	StatusPermanent Status = "permanent"
	// StatusNotFound means the project no longer exists. Do not retry.
	StatusNotFound Status = "not_found"
	// StatusRetry means an unexpected failure the queue should redeliver.
	StatusRetry Status = "retry"
)

// Outcome is the result of processing one job.
type Outcome struct {
	Status  Status
	AuditID string
	Err     error
}

// Retryable reports whether the queue should redeliver the job.
func (o Outcome) Retryable() bool {
	return o.Status == StatusRetry
}

// Processor executes queued audit jobs.
type Processor struct {
	runner AuditRunner
	store  Store
	clock  monitor.Clock
	logger *zap.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(runner AuditRunner, store Store, clock monitor.Clock, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{runner: runner, store: store, clock: clock, logger: logger.Named("jobs")}
}

// Process runs the project's audit with trigger=cron and advances its next
// due time from the schedule it holds after the run.
func (p *Processor) Process(ctx context.Context, projectID string) Outcome {
	logger := p.logger.With(zap.String("project_id", projectID))

	auditID, err := p.runner.Run(ctx, projectID, monitor.TriggerCron)
	var out Outcome
	switch {
	case err == nil:
		out = Outcome{Status: StatusOK, AuditID: auditID}
		p.reschedule(ctx, projectID, logger)
	case errors.Is(err, monitor.ErrAuditInProgress):
		logger.Info("audit already in progress, skipping")
		out = Outcome{Status: StatusSkipped, Err: err}
		p.reschedule(ctx, projectID, logger)
	case errors.Is(err, monitor.ErrProjectNotFound):
		logger.Warn("job references unknown project")
		out = Outcome{Status: StatusNotFound, Err: err}
	case monitor.IsAuditError(err):
		logger.Warn("permanent audit failure", zap.Error(err))
		out = Outcome{Status: StatusPermanent, Err: err}
	default:
		logger.Error("audit job failed", zap.Error(err))
		out = Outcome{Status: StatusRetry, Err: err}
	}
	metrics.ObserveJob(string(out.Status))
	return out
}

func (p *Processor) reschedule(ctx context.Context, projectID string, logger *zap.Logger) {
	ctx = context.WithoutCancel(ctx)
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		logger.Error("failed to reload project for rescheduling", zap.Error(err))
		return
	}
	now := p.clock.Now()
	next := monitor.NextAuditAt(project.Schedule, now)
	if next == nil {
		return
	}
	if err := p.store.SetNextAuditAt(ctx, projectID, next, now); err != nil {
		logger.Error("failed to advance next audit time", zap.Error(err))
		return
	}
	logger.Debug("next audit scheduled", zap.Time("next_audit_at", *next))
}
