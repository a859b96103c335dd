package api

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/vitals-monitor/internal/jobs"
	"github.com/JakeFAU/vitals-monitor/internal/signing"
)

// runAuditJob handles POST /api/jobs/run-audit, the queue delivery target.
// A 2xx tells the queue not to redeliver; only unexpected failures return 500.
func (s *Server) runAuditJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if s.deps.Verifier.Enabled() {
		if err := s.deps.Verifier.Verify(r.Header.Get(signing.HeaderName), body); err != nil {
			s.logger.Warn("rejected job with invalid signature", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "Invalid signature")
			return
		}
	}

	job, err := jobs.ParseJob(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "projectId required")
		return
	}

	// The cycle outlives a dropped delivery connection; the queue's retry
	// signal must reflect the audit, not the transport.
	ctx := context.WithoutCancel(r.Context())
	if attrs := jobs.PushAttributes(body); len(attrs) > 0 {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(attrs))
	}

	out := s.deps.Processor.Process(ctx, job.ProjectID)
	switch out.Status {
	case jobs.StatusOK:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "auditId": out.AuditID})
	case jobs.StatusSkipped:
		writeJSON(w, http.StatusOK, map[string]any{"skipped": true})
	case jobs.StatusPermanent:
		writeJSON(w, http.StatusOK, map[string]any{"error": out.Err.Error(), "permanent": true})
	case jobs.StatusNotFound:
		writeError(w, http.StatusNotFound, "Project not found")
	default:
		writeError(w, http.StatusInternalServerError, "Audit failed")
	}
}

// cronDispatch handles GET /api/cron/dispatch, called by the platform cron.
// Without a configured secret the route rejects every caller; use the
// dispatch command for unauthenticated local scheduling.
func (s *Server) cronDispatch(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if s.deps.CronSecret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.deps.CronSecret)) != 1 {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	res, err := s.deps.Scheduler.Dispatch(r.Context())
	if err != nil {
		s.logger.Error("scheduler dispatch failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Dispatch failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
