// Package main hosts the vitals service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, session-authenticated
//     project routes, public share links, the cron dispatch hook and the queue job
//     endpoint.
//   - Audit cycle: internal/runner leases a project, calls PageSpeed Insights, grades
//     and persists the result, evaluates alert thresholds, then hands CrUX history,
//     report archiving and (on paid plans) AI remediation to a bounded task pool.
//   - Scheduling: internal/scheduler finds due projects and publishes one job each to
//     QStash, Pub/Sub or the in-process queue and worker pool; without a queue it
//     audits inline.
//   - Configuration & plumbing: Viper populates config from VITALS_* env vars and an
//     optional file; zap provides structured logging; Prometheus metrics are served
//     at /metrics; OpenTelemetry context crosses the queue.
//
// Quick checklist:
//   - Run locally: go run . serve --config config.yaml (or rely on env overrides).
//   - Apply the schema first: go run . migrate.
//   - System cron without an HTTP hop: go run . dispatch.
package main

import "github.com/JakeFAU/vitals-monitor/cmd"

func main() {
	cmd.Execute()
}
