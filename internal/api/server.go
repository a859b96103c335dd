package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/vitals-monitor/internal/auth"
	"github.com/JakeFAU/vitals-monitor/internal/jobs"
	"github.com/JakeFAU/vitals-monitor/internal/metrics"
	"github.com/JakeFAU/vitals-monitor/internal/monitor"
	"github.com/JakeFAU/vitals-monitor/internal/plan"
	"github.com/JakeFAU/vitals-monitor/internal/policy/ratelimit"
	"github.com/JakeFAU/vitals-monitor/internal/scheduler"
	"github.com/JakeFAU/vitals-monitor/internal/signing"
)

const maxBodyBytes = 1 << 20

// AuditRunner runs one audit cycle.
type AuditRunner interface {
	Run(ctx context.Context, projectID string, trigger monitor.Trigger) (string, error)
}

// JobProcessor handles one queued audit job.
type JobProcessor interface {
	Process(ctx context.Context, projectID string) jobs.Outcome
}

// Dispatcher runs one scheduler pass.
type Dispatcher interface {
	Dispatch(ctx context.Context) (scheduler.Result, error)
}

// Deps wires the server to its collaborators. Verifier, Throttle and Ready
// are optional.
type Deps struct {
	Store          monitor.Store
	Runner         AuditRunner
	Processor      JobProcessor
	Scheduler      Dispatcher
	Sessions       *auth.SessionValidator
	Verifier       *signing.Verifier
	Throttle       *ratelimit.Limiter
	Plans          plan.Table
	IDs            monitor.IDGenerator
	Clock          monitor.Clock
	CronSecret     string
	RequestTimeout time.Duration
	Ready          func(ctx context.Context) error
}

// Server wires HTTP handlers to the audit pipeline and stores.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 120 * time.Second
	}
	s := &Server{deps: deps, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	timeout := timeoutMiddleware(deps.RequestTimeout)
	r.Route("/api", func(r chi.Router) {
		// Routes that run audit cycles are not wrapped in the request
		// timeout: a cycle must finish once started.
		r.Get("/cron/dispatch", s.cronDispatch)
		r.Post("/jobs/run-audit", s.runAuditJob)
		r.With(timeout).Get("/share/{token}", s.getShare)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(deps.Sessions, func(w http.ResponseWriter, _ error) {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
			}))
			r.Post("/projects/{id}/audit", s.triggerAudit)

			r.Group(func(r chi.Router) {
				r.Use(timeout)
				r.Post("/projects", s.createProject)
				r.Put("/projects/{id}/schedule", s.updateSchedule)
				r.Put("/projects/{id}/alerts", s.updateThresholds)
				r.Get("/projects/{id}/audits", s.listAudits)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", requestID(r.Context())),
					zap.Any("panic", rec),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"request timed out"}`)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
