package monitor

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// ProjectStore persists projects and their scheduling state.
type ProjectStore interface {
	CreateProject(ctx context.Context, project Project) error
	GetProject(ctx context.Context, id string) (Project, error)
	CountProjects(ctx context.Context, ownerID string) (int, error)
	ListDueProjects(ctx context.Context, now time.Time) ([]Project, error)
	MarkAudited(ctx context.Context, id string, at time.Time) error
	SetNextAuditAt(ctx context.Context, id string, next *time.Time, now time.Time) error
	UpdateSchedule(ctx context.Context, id string, schedule Schedule, next *time.Time, now time.Time) error
	UpdateThresholds(ctx context.Context, id string, thresholds Thresholds, now time.Time) error
	AcquireAuditLease(ctx context.Context, id string, now time.Time, until time.Time) (bool, error)
	ReleaseAuditLease(ctx context.Context, id string) error
}

// AuditStore persists audit results. Rows are write-once apart from the two
// targeted patches.
type AuditStore interface {
	InsertAudit(ctx context.Context, audit AuditResult) error
	GetAudit(ctx context.Context, id string) (AuditResult, error)
	GetAuditByShareToken(ctx context.Context, token string) (AuditResult, error)
	ListAudits(ctx context.Context, projectID string, since time.Time, limit int) ([]AuditResult, error)
	SetAIActionPlan(ctx context.Context, id string, plan json.RawMessage) error
	SetFieldHistory(ctx context.Context, id string, history json.RawMessage) error
	CountAuditsSince(ctx context.Context, ownerID string, since time.Time) (int, error)
	CountAIPlansSince(ctx context.Context, ownerID string, since time.Time) (int, error)
}

// AlertStore persists alert firings.
type AlertStore interface {
	HasRecentAlert(ctx context.Context, projectID string, metric Metric, since time.Time) (bool, error)
	InsertAlerts(ctx context.Context, alerts []Alert) error
	MarkAlertsEmailed(ctx context.Context, projectID string, auditID string) error
}

// UserStore reads account owners.
type UserStore interface {
	GetUser(ctx context.Context, id string) (User, error)
}

// ReportStore records archived raw payloads.
type ReportStore interface {
	RecordReport(ctx context.Context, report Report) error
}

// Store aggregates every persistence concern of the pipeline.
type Store interface {
	ProjectStore
	AuditStore
	AlertStore
	UserStore
	ReportStore
	Close()
}

// Auditor runs one external audit for a URL.
type Auditor interface {
	Run(ctx context.Context, url string, strategy Strategy) (AuditData, error)
}

// HistoryFetcher fetches real-user history. The boolean is false when no
// record is available; absence is never an error.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, url string) (json.RawMessage, bool)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Enqueuer publishes one job to the asynchronous queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces row identifiers and share tokens.
type IDGenerator interface {
	NewID() (string, error)
}
