// Package runner executes one complete audit cycle for a project: lease,
// external audit, persistence, detached enrichment, alert evaluation and the
// optional AI remediation plan.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/vitals-monitor/internal/metrics"
	"github.com/JakeFAU/vitals-monitor/internal/monitor"
	"github.com/JakeFAU/vitals-monitor/internal/plan"
	"github.com/JakeFAU/vitals-monitor/internal/tasks"
)

// DefaultLeaseTTL bounds how long a crashed cycle can block its project.
const DefaultLeaseTTL = 10 * time.Minute

const tracerName = "github.com/JakeFAU/vitals-monitor/internal/runner"

// AlertEvaluator checks a persisted audit against project thresholds.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, project monitor.Project, audit monitor.AuditResult) ([]monitor.Alert, error)
}

// HistoryEnricher attaches real-user history to a persisted audit.
type HistoryEnricher interface {
	Enrich(ctx context.Context, auditID, url string)
}

// PlanGenerator produces an AI remediation plan for an audit.
type PlanGenerator interface {
	Generate(ctx context.Context, project monitor.Project, audit monitor.AuditResult) (json.RawMessage, error)
}

// TaskSubmitter schedules detached work.
type TaskSubmitter interface {
	Submit(name string, fn tasks.Func) bool
}

// Config wires the runner. Enricher, Planner, Archive and Tasks are optional
// capabilities; a nil value disables the step.
type Config struct {
	Store     monitor.Store
	Auditor   monitor.Auditor
	Evaluator AlertEvaluator
	Enricher  HistoryEnricher
	Planner   PlanGenerator
	Archive   monitor.BlobStore
	Tasks     TaskSubmitter
	Plans     plan.Table
	IDs       monitor.IDGenerator
	Tokens    monitor.IDGenerator // share tokens; defaults to IDs
	Clock     monitor.Clock
	LeaseTTL  time.Duration
	Logger    *zap.Logger
}

// Runner executes audit cycles.
type Runner struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Runner.
func New(cfg Config) *Runner {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.Tokens == nil {
		cfg.Tokens = cfg.IDs
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, logger: logger.Named("runner")}
}

// Run executes one audit cycle and returns the new AuditResult's ID.
//
// Errors: monitor.ErrProjectNotFound, monitor.ErrAuditInProgress, a
// *monitor.AuditError from the audit call, or a wrapped storage error.
// Nothing is persisted unless the audit call succeeds, and LastAuditAt only
// moves after the result row is written.
func (r *Runner) Run(ctx context.Context, projectID string, trigger monitor.Trigger) (auditID string, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "runner.Run")
	span.SetAttributes(
		attribute.String("project.id", projectID),
		attribute.String("audit.trigger", string(trigger)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		metrics.ObserveAudit(string(trigger), outcomeOf(err))
	}()

	project, err := r.cfg.Store.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, monitor.ErrProjectNotFound) {
			return "", err
		}
		return "", fmt.Errorf("failed to load project: %w", err)
	}

	now := r.cfg.Clock.Now()
	acquired, err := r.cfg.Store.AcquireAuditLease(ctx, project.ID, now, now.Add(r.cfg.LeaseTTL))
	if err != nil {
		return "", fmt.Errorf("failed to acquire audit lease: %w", err)
	}
	if !acquired {
		return "", monitor.ErrAuditInProgress
	}
	defer func() {
		if relErr := r.cfg.Store.ReleaseAuditLease(context.WithoutCancel(ctx), project.ID); relErr != nil {
			r.logger.Warn("failed to release audit lease", zap.String("project_id", project.ID), zap.Error(relErr))
		}
	}()

	data, err := r.cfg.Auditor.Run(ctx, project.URL, project.Strategy)
	if err != nil {
		return "", err
	}
	// Once the audit call returns the cycle runs to completion.
	ctx = context.WithoutCancel(ctx)

	audit, err := r.buildResult(project, data, trigger)
	if err != nil {
		return "", err
	}
	if err := r.cfg.Store.InsertAudit(ctx, audit); err != nil {
		return "", fmt.Errorf("failed to insert audit result: %w", err)
	}
	if err := r.cfg.Store.MarkAudited(ctx, project.ID, audit.CreatedAt); err != nil {
		return "", fmt.Errorf("failed to update last audit time: %w", err)
	}

	logger := r.logger.With(zap.String("project_id", project.ID), zap.String("audit_id", audit.ID))
	logger.Info("audit stored",
		zap.String("trigger", string(trigger)),
		zap.Int("perf_score", audit.PerfScore),
	)

	r.submitDetached(project, audit, logger)

	if r.cfg.Evaluator != nil {
		if _, evalErr := r.cfg.Evaluator.Evaluate(ctx, project, audit); evalErr != nil {
			logger.Error("alert evaluation failed", zap.Error(evalErr))
		}
	}

	r.generatePlan(ctx, project, audit, logger)

	return audit.ID, nil
}

func (r *Runner) buildResult(project monitor.Project, data monitor.AuditData, trigger monitor.Trigger) (monitor.AuditResult, error) {
	id, err := r.cfg.IDs.NewID()
	if err != nil {
		return monitor.AuditResult{}, fmt.Errorf("failed to generate audit id: %w", err)
	}
	token, err := r.cfg.Tokens.NewID()
	if err != nil {
		return monitor.AuditResult{}, fmt.Errorf("failed to generate share token: %w", err)
	}
	return monitor.AuditResult{
		ID:            id,
		ProjectID:     project.ID,
		Strategy:      project.Strategy,
		PerfScore:     data.PerfScore,
		Lab:           data.Lab,
		Field:         data.Field,
		Grades:        monitor.GradeLab(data.Lab),
		Categories:    data.Categories,
		LighthouseRaw: data.LighthouseRaw,
		ShareToken:    token,
		PSIVersion:    data.PSIVersion,
		TriggeredBy:   trigger,
		CreatedAt:     r.cfg.Clock.Now(),
	}, nil
}

// submitDetached hands history enrichment and report archiving to the
// background pool. Neither can affect the cycle's outcome.
func (r *Runner) submitDetached(project monitor.Project, audit monitor.AuditResult, logger *zap.Logger) {
	if r.cfg.Tasks == nil {
		return
	}
	if r.cfg.Enricher != nil {
		url := project.URL
		if !r.cfg.Tasks.Submit("history:"+audit.ID, func(ctx context.Context) error {
			r.cfg.Enricher.Enrich(ctx, audit.ID, url)
			return nil
		}) {
			metrics.ObserveEnrichment("history", "dropped")
		}
	}
	if r.cfg.Archive != nil && len(audit.LighthouseRaw) > 0 {
		if !r.cfg.Tasks.Submit("archive:"+audit.ID, func(ctx context.Context) error {
			return r.archive(ctx, audit)
		}) {
			metrics.ObserveEnrichment("archive", "dropped")
			logger.Warn("report archive dropped")
		}
	}
}

// ReportPath is the blob path of an audit's archived raw payload.
func ReportPath(projectID, auditID string) string {
	return path.Join("reports", projectID, auditID+".json")
}

func (r *Runner) archive(ctx context.Context, audit monitor.AuditResult) error {
	uri, err := r.cfg.Archive.PutObject(ctx, ReportPath(audit.ProjectID, audit.ID), "application/json", bytes.NewReader(audit.LighthouseRaw))
	if err != nil {
		metrics.ObserveEnrichment("archive", "error")
		return fmt.Errorf("failed to archive report: %w", err)
	}
	id, err := r.cfg.IDs.NewID()
	if err != nil {
		return fmt.Errorf("failed to generate report id: %w", err)
	}
	report := monitor.Report{
		ID:        id,
		ProjectID: audit.ProjectID,
		AuditID:   audit.ID,
		BlobURI:   uri,
		CreatedAt: r.cfg.Clock.Now(),
	}
	if err := r.cfg.Store.RecordReport(ctx, report); err != nil {
		metrics.ObserveEnrichment("archive", "error")
		return fmt.Errorf("failed to record report: %w", err)
	}
	metrics.ObserveEnrichment("archive", "stored")
	return nil
}

// generatePlan writes an AI plan when the owner's tier allows it and the
// monthly quota has room. All failures are logged and swallowed.
func (r *Runner) generatePlan(ctx context.Context, project monitor.Project, audit monitor.AuditResult, logger *zap.Logger) {
	if r.cfg.Planner == nil {
		return
	}
	owner, err := r.cfg.Store.GetUser(ctx, project.OwnerID)
	if err != nil {
		logger.Warn("skipping ai plan: owner lookup failed", zap.Error(err))
		return
	}
	limits := r.cfg.Plans.Lookup(owner.Plan)
	if !limits.AIPlansEnabled() {
		return
	}
	if limits.AIPlansPerMonth != plan.Unlimited {
		used, err := r.cfg.Store.CountAIPlansSince(ctx, owner.ID, monitor.MonthStart(r.cfg.Clock.Now()))
		if err != nil {
			logger.Warn("skipping ai plan: quota lookup failed", zap.Error(err))
			return
		}
		if !plan.WithinQuota(used, limits.AIPlansPerMonth) {
			logger.Debug("skipping ai plan",
				zap.Error(&monitor.QuotaError{Kind: monitor.QuotaAIPlans, Limit: limits.AIPlansPerMonth}),
				zap.Int("used", used),
			)
			metrics.ObserveEnrichment("ai_plan", "quota")
			return
		}
	}

	generated, err := r.cfg.Planner.Generate(ctx, project, audit)
	if err != nil {
		metrics.ObserveEnrichment("ai_plan", "error")
		logger.Warn("ai plan generation failed", zap.Error(err))
		return
	}
	if err := r.cfg.Store.SetAIActionPlan(ctx, audit.ID, generated); err != nil {
		metrics.ObserveEnrichment("ai_plan", "error")
		logger.Warn("failed to store ai plan", zap.Error(err))
		return
	}
	metrics.ObserveEnrichment("ai_plan", "stored")
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, monitor.ErrAuditInProgress):
		return "skipped"
	case errors.Is(err, monitor.ErrProjectNotFound):
		return "not_found"
	case monitor.IsAuditError(err):
		return "audit_error"
	default:
		return "error"
	}
}
