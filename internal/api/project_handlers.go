package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/vitals-monitor/internal/auth"
	"github.com/JakeFAU/vitals-monitor/internal/monitor"
	"github.com/JakeFAU/vitals-monitor/internal/plan"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// Thresholds applied to new projects: the upper bound of the "good" band.
var (
	defaultLCPThreshold = 2500.0
	defaultCLSThreshold = 0.1
	defaultINPThreshold = 200.0
)

type createProjectRequest struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Strategy string `json:"strategy"`
}

// createProject handles POST /api/projects.
func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	var req createProjectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	normalized, err := monitor.ValidateAuditURL(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	strategy := monitor.StrategyMobile
	if req.Strategy != "" {
		strategy = monitor.Strategy(req.Strategy)
		if !strategy.Valid() {
			writeError(w, http.StatusBadRequest, "strategy must be mobile or desktop")
			return
		}
	}

	limits := s.limitsFor(r.Context(), userID)
	count, err := s.deps.Store.CountProjects(r.Context(), userID)
	if err != nil {
		s.logger.Error("count projects failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create project")
		return
	}
	if count >= limits.MaxProjects {
		writeQuotaError(w, &monitor.QuotaError{Kind: monitor.QuotaProjects, Limit: limits.MaxProjects})
		return
	}

	id, err := s.deps.IDs.NewID()
	if err != nil {
		s.logger.Error("generate project id failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create project")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = monitor.ProjectNameFromURL(normalized)
	}
	now := s.deps.Clock.Now()
	project := monitor.Project{
		ID:       id,
		OwnerID:  userID,
		Name:     name,
		URL:      normalized,
		Strategy: strategy,
		Schedule: monitor.ScheduleManual,
		Thresholds: monitor.Thresholds{
			LCP: floatPtr(defaultLCPThreshold),
			CLS: floatPtr(defaultCLSThreshold),
			INP: floatPtr(defaultINPThreshold),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.deps.Store.CreateProject(r.Context(), project); err != nil {
		s.logger.Error("create project failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create project")
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

// triggerAudit handles POST /api/projects/{id}/audit.
func (s *Server) triggerAudit(w http.ResponseWriter, r *http.Request) {
	project, userID, ok := s.ownedProject(w, r)
	if !ok {
		return
	}
	if s.deps.Throttle != nil && !s.deps.Throttle.Allow(userID) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	if err := s.admitManualRun(r.Context(), userID); err != nil {
		var quotaErr *monitor.QuotaError
		if errors.As(err, &quotaErr) {
			writeQuotaError(w, quotaErr)
			return
		}
		s.logger.Error("count audits failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Audit failed")
		return
	}

	auditID, err := s.deps.Runner.Run(r.Context(), project.ID, monitor.TriggerManual)
	if err != nil {
		var auditErr *monitor.AuditError
		switch {
		case errors.As(err, &auditErr):
			writeError(w, http.StatusBadGateway, auditErr.Message)
		case errors.Is(err, monitor.ErrAuditInProgress):
			writeError(w, http.StatusConflict, "An audit is already running for this project")
		case errors.Is(err, monitor.ErrProjectNotFound):
			writeError(w, http.StatusNotFound, "Project not found")
		default:
			s.logger.Error("manual audit failed", zap.String("project_id", project.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Audit failed")
		}
		return
	}

	audit, err := s.deps.Store.GetAudit(r.Context(), auditID)
	if err != nil {
		s.logger.Error("reload audit failed", zap.String("audit_id", auditID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Audit failed")
		return
	}
	writeJSON(w, http.StatusOK, audit)
}

type scheduleRequest struct {
	Schedule string `json:"schedule"`
}

// updateSchedule handles PUT /api/projects/{id}/schedule.
func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	schedule := monitor.Schedule(req.Schedule)
	if !schedule.Valid() {
		writeError(w, http.StatusBadRequest, "schedule must be manual, daily or hourly")
		return
	}
	project, userID, ok := s.ownedProject(w, r)
	if !ok {
		return
	}
	if !s.limitsFor(r.Context(), userID).AllowsSchedule(schedule) {
		writePlanGated(w, &monitor.PlanGatedError{Feature: string(schedule) + " schedule"})
		return
	}

	now := s.deps.Clock.Now()
	next := monitor.InitialNextAuditAt(schedule, now)
	if err := s.deps.Store.UpdateSchedule(r.Context(), project.ID, schedule, next, now); err != nil {
		s.logger.Error("update schedule failed", zap.String("project_id", project.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update schedule")
		return
	}
	project.Schedule = schedule
	project.NextAuditAt = next
	project.UpdatedAt = now
	writeJSON(w, http.StatusOK, project)
}

// updateThresholds handles PUT /api/projects/{id}/alerts.
func (s *Server) updateThresholds(w http.ResponseWriter, r *http.Request) {
	var req monitor.Thresholds
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	for _, m := range monitor.AlertMetrics {
		if v := req.For(m); v != nil && *v <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s threshold must be positive", m))
			return
		}
	}
	project, _, ok := s.ownedProject(w, r)
	if !ok {
		return
	}
	now := s.deps.Clock.Now()
	if err := s.deps.Store.UpdateThresholds(r.Context(), project.ID, req, now); err != nil {
		s.logger.Error("update thresholds failed", zap.String("project_id", project.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update alert thresholds")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alertThresholds": req})
}

// listAudits handles GET /api/projects/{id}/audits?limit=. Results are
// bounded by the plan's history window and omit the raw payload.
func (s *Server) listAudits(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultAuditLimit, maxAuditLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	project, userID, ok := s.ownedProject(w, r)
	if !ok {
		return
	}
	days := s.limitsFor(r.Context(), userID).HistoryDays
	since := s.deps.Clock.Now().Add(-time.Duration(days) * 24 * time.Hour)

	audits, err := s.deps.Store.ListAudits(r.Context(), project.ID, since, limit)
	if err != nil {
		s.logger.Error("list audits failed", zap.String("project_id", project.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list audits")
		return
	}
	for i := range audits {
		audits[i].LighthouseRaw = nil
	}
	if audits == nil {
		audits = []monitor.AuditResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"audits": audits, "historyDays": days})
}

// getShare handles GET /api/share/{token}. No session is required.
func (s *Server) getShare(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	audit, err := s.deps.Store.GetAuditByShareToken(r.Context(), token)
	if errors.Is(err, monitor.ErrAuditNotFound) {
		writeError(w, http.StatusNotFound, "Report not found")
		return
	}
	if err != nil {
		s.logger.Error("share lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return
	}
	audit.LighthouseRaw = nil
	writeJSON(w, http.StatusOK, audit)
}

// admitManualRun checks the owner's monthly run quota. Exhaustion is reported
// as a *monitor.QuotaError.
func (s *Server) admitManualRun(ctx context.Context, userID string) error {
	limits := s.limitsFor(ctx, userID)
	if limits.ManualRunsPerMonth == plan.Unlimited {
		return nil
	}
	used, err := s.deps.Store.CountAuditsSince(ctx, userID, monitor.MonthStart(s.deps.Clock.Now()))
	if err != nil {
		return fmt.Errorf("failed to count audits: %w", err)
	}
	if !plan.WithinQuota(used, limits.ManualRunsPerMonth) {
		return &monitor.QuotaError{Kind: monitor.QuotaManualRuns, Limit: limits.ManualRunsPerMonth}
	}
	return nil
}

func writeQuotaError(w http.ResponseWriter, err *monitor.QuotaError) {
	status := http.StatusTooManyRequests
	msg := fmt.Sprintf("Monthly audit limit reached (%d runs). Upgrade to continue.", err.Limit)
	if err.Kind == monitor.QuotaProjects {
		status = http.StatusForbidden
		msg = fmt.Sprintf("Project limit reached (%d projects). Upgrade to add more.", err.Limit)
	}
	writeJSON(w, status, map[string]any{"error": msg, "limitReached": true})
}

func writePlanGated(w http.ResponseWriter, err *monitor.PlanGatedError) {
	writeJSON(w, http.StatusForbidden, map[string]any{
		"error":     fmt.Sprintf("The %s is not available on your plan.", err.Feature),
		"planGated": true,
	})
}

// ownedProject loads the {id} project and checks the session user owns it.
// Projects owned by someone else are reported as missing.
func (s *Server) ownedProject(w http.ResponseWriter, r *http.Request) (monitor.Project, string, bool) {
	userID, _ := auth.UserID(r.Context())
	project, err := s.deps.Store.GetProject(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, monitor.ErrProjectNotFound) || (err == nil && project.OwnerID != userID) {
		writeError(w, http.StatusNotFound, "Project not found")
		return monitor.Project{}, "", false
	}
	if err != nil {
		s.logger.Error("load project failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load project")
		return monitor.Project{}, "", false
	}
	return project, userID, true
}

// limitsFor resolves the user's plan. A missing user row gets the fallback tier.
func (s *Server) limitsFor(ctx context.Context, userID string) plan.Limits {
	user, err := s.deps.Store.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, monitor.ErrUserNotFound) {
			s.logger.Warn("load user failed, using fallback plan", zap.String("user_id", userID), zap.Error(err))
		}
		return s.deps.Plans.Lookup("")
	}
	return s.deps.Plans.Lookup(user.Plan)
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

func floatPtr(v float64) *float64 { return &v }
