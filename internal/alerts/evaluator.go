// Package alerts compares audit lab metrics against project thresholds,
// records deduplicated alert rows and sends one consolidated notification
// email per audit.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/vitals-monitor/internal/metrics"
	"github.com/JakeFAU/vitals-monitor/internal/monitor"
	"github.com/JakeFAU/vitals-monitor/internal/plan"
)

// DedupWindow is the period during which a repeated breach of the same
// metric on the same project does not produce a new alert.
const DedupWindow = 24 * time.Hour

// Store is the persistence surface the evaluator needs.
type Store interface {
	monitor.AlertStore
	monitor.UserStore
}

// Config wires the evaluator's collaborators. Mailer may be nil, in which
// case alerts are recorded but never emailed.
type Config struct {
	Store  Store
	Mailer Mailer
	Plans  plan.Table
	IDs    monitor.IDGenerator
	Clock  monitor.Clock
	AppURL string
	Logger *zap.Logger
}

// Evaluator checks one audit against its project's thresholds.
type Evaluator struct {
	store  Store
	mailer Mailer
	plans  plan.Table
	ids    monitor.IDGenerator
	clock  monitor.Clock
	appURL string
	logger *zap.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(cfg Config) *Evaluator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		store:  cfg.Store,
		mailer: cfg.Mailer,
		plans:  cfg.Plans,
		ids:    cfg.IDs,
		clock:  cfg.Clock,
		appURL: cfg.AppURL,
		logger: logger.Named("alerts"),
	}
}

// Breach is a metric whose lab value exceeded its threshold.
type Breach struct {
	Metric    monitor.Metric
	Value     float64
	Threshold float64
}

// Breaches returns every metric where a threshold is set, a lab value exists
// and the value is strictly greater than the threshold.
func Breaches(thresholds monitor.Thresholds, lab monitor.LabMetrics) []Breach {
	var out []Breach
	for _, m := range monitor.AlertMetrics {
		limit := thresholds.For(m)
		value := lab.Value(m)
		if limit == nil || value == nil {
			continue
		}
		if *value > *limit {
			out = append(out, Breach{Metric: m, Value: *value, Threshold: *limit})
		}
	}
	return out
}

// Evaluate records alerts for new breaches and emails the owner when
// eligible. It returns the recorded alerts. Email failures are logged and
// do not fail the evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, project monitor.Project, audit monitor.AuditResult) ([]monitor.Alert, error) {
	breaches := Breaches(project.Thresholds, audit.Lab)
	if len(breaches) == 0 {
		return nil, nil
	}

	now := e.clock.Now()
	since := now.Add(-DedupWindow)
	var alerts []monitor.Alert
	for _, b := range breaches {
		recent, err := e.store.HasRecentAlert(ctx, project.ID, b.Metric, since)
		if err != nil {
			return nil, fmt.Errorf("failed to check recent %s alert: %w", b.Metric, err)
		}
		if recent {
			metrics.ObserveAlertSuppressed(string(b.Metric))
			continue
		}
		id, err := e.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("failed to generate alert id: %w", err)
		}
		alerts = append(alerts, monitor.Alert{
			ID:        id,
			ProjectID: project.ID,
			AuditID:   audit.ID,
			Metric:    b.Metric,
			Value:     b.Value,
			Threshold: b.Threshold,
			SentAt:    now,
		})
	}
	if len(alerts) == 0 {
		return nil, nil
	}

	if err := e.store.InsertAlerts(ctx, alerts); err != nil {
		return nil, fmt.Errorf("failed to insert alerts: %w", err)
	}
	for _, a := range alerts {
		metrics.ObserveAlertFired(string(a.Metric))
	}
	e.logger.Info("alerts recorded",
		zap.String("project_id", project.ID),
		zap.String("audit_id", audit.ID),
		zap.Int("count", len(alerts)),
	)

	if e.notify(ctx, project, audit, alerts) {
		for i := range alerts {
			alerts[i].EmailSent = true
		}
	}
	return alerts, nil
}

// notify sends the consolidated email and reports whether the rows were
// marked as emailed.
func (e *Evaluator) notify(ctx context.Context, project monitor.Project, audit monitor.AuditResult, alerts []monitor.Alert) bool {
	if e.mailer == nil {
		return false
	}
	owner, err := e.store.GetUser(ctx, project.OwnerID)
	if err != nil {
		if !errors.Is(err, monitor.ErrUserNotFound) {
			e.logger.Warn("failed to load alert recipient", zap.String("project_id", project.ID), zap.Error(err))
		}
		return false
	}
	if owner.Email == "" || !e.plans.Lookup(owner.Plan).EmailAlerts {
		return false
	}

	msg, err := renderEmail(project, alerts, e.appURL)
	if err != nil {
		e.logger.Error("failed to render alert email", zap.String("project_id", project.ID), zap.Error(err))
		return false
	}
	msg.To = owner.Email
	if err := e.mailer.Send(ctx, msg); err != nil {
		e.logger.Warn("failed to send alert email", zap.String("project_id", project.ID), zap.Error(err))
		return false
	}
	if err := e.store.MarkAlertsEmailed(ctx, project.ID, audit.ID); err != nil {
		e.logger.Warn("failed to mark alerts emailed", zap.String("audit_id", audit.ID), zap.Error(err))
		return false
	}
	return true
}
