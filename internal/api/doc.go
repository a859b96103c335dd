// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for health checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/cron/dispatch for the platform cron, guarded by a bearer secret.
//   - POST /api/jobs/run-audit as the queue delivery target, guarded by the
//     queue signature.
//   - /api/projects/... for session-authenticated project management and
//     manual audits.
//   - GET /api/share/{token} for public report links.
package api
