// Package monitor defines the core types shared across the audit pipeline:
// projects, audit results, alerts, grading and schedule arithmetic, URL
// validation, and the storage and collaborator interfaces the runner,
// scheduler and HTTP layer are written against.
package monitor
