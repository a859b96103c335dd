package monitor

import (
	"encoding/json"
	"time"
)

// Strategy selects the device profile used by the audit API.
type Strategy string

// Supported audit strategies.
const (
	StrategyMobile  Strategy = "mobile"
	StrategyDesktop Strategy = "desktop"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyMobile || s == StrategyDesktop
}

// Schedule controls how often a project is audited automatically.
type Schedule string

// Supported schedules.
const (
	ScheduleManual Schedule = "manual"
	ScheduleDaily  Schedule = "daily"
	ScheduleHourly Schedule = "hourly"
)

// Valid reports whether s is a known schedule.
func (s Schedule) Valid() bool {
	switch s {
	case ScheduleManual, ScheduleDaily, ScheduleHourly:
		return true
	}
	return false
}

// Trigger records which actor started an audit cycle.
type Trigger string

// Audit triggers.
const (
	TriggerManual Trigger = "manual"
	TriggerCron   Trigger = "cron"
	TriggerAPI    Trigger = "api"
)

// Metric names an alertable vital.
type Metric string

// Alertable metrics.
const (
	MetricLCP Metric = "lcp"
	MetricCLS Metric = "cls"
	MetricINP Metric = "inp"
)

// AlertMetrics lists the metrics evaluated against project thresholds, in
// evaluation order.
var AlertMetrics = []Metric{MetricLCP, MetricCLS, MetricINP}

// Thresholds holds per-metric alert limits. A nil entry disables the alert.
type Thresholds struct {
	LCP *float64 `json:"lcp"`
	CLS *float64 `json:"cls"`
	INP *float64 `json:"inp"`
}

// For returns the threshold configured for m.
func (t Thresholds) For(m Metric) *float64 {
	switch m {
	case MetricLCP:
		return t.LCP
	case MetricCLS:
		return t.CLS
	case MetricINP:
		return t.INP
	}
	return nil
}

// Project is a monitored URL owned by a user.
type Project struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"userId"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Strategy    Strategy   `json:"strategy"`
	Schedule    Schedule   `json:"schedule"`
	NextAuditAt *time.Time `json:"nextAuditAt"`
	LastAuditAt *time.Time `json:"lastAuditAt"`
	Thresholds  Thresholds `json:"alertThresholds"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// User is the owner of projects. Maintained by the identity and billing
// collaborators; read-only in this service.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Plan  string `json:"plan"`
}

// LabMetrics are the synthetic measurements from one Lighthouse run.
// Timings are in milliseconds; CLS is unitless.
type LabMetrics struct {
	LCP        *float64 `json:"lcp"`
	CLS        *float64 `json:"cls"`
	INP        *float64 `json:"inp"`
	FCP        *float64 `json:"fcp"`
	TTFB       *float64 `json:"ttfb"`
	TBT        *float64 `json:"tbt"`
	SpeedIndex *float64 `json:"speedIndex"`
}

// Value returns the lab measurement for an alertable metric.
func (l LabMetrics) Value(m Metric) *float64 {
	switch m {
	case MetricLCP:
		return l.LCP
	case MetricCLS:
		return l.CLS
	case MetricINP:
		return l.INP
	}
	return nil
}

// FieldMetrics are real-user p75 values. Nil when the origin lacks traffic.
type FieldMetrics struct {
	LCP *float64 `json:"cruxLcp"`
	CLS *float64 `json:"cruxCls"`
	INP *float64 `json:"cruxInp"`
	FCP *float64 `json:"cruxFcp"`
}

// Grades are the derived ratings for the core vitals.
type Grades struct {
	LCP *Grade `json:"lcpGrade"`
	CLS *Grade `json:"clsGrade"`
	INP *Grade `json:"inpGrade"`
}

// CategoryScores are the non-performance Lighthouse categories on a 0-100 scale.
type CategoryScores struct {
	SEO           *int `json:"seoScore"`
	Accessibility *int `json:"accessibilityScore"`
	BestPractices *int `json:"bestPracticesScore"`
}

// AuditData is the normalized output of one audit API call.
type AuditData struct {
	PerfScore     int
	Lab           LabMetrics
	Field         FieldMetrics
	Categories    CategoryScores
	LighthouseRaw json.RawMessage
	PSIVersion    string
}

// AuditResult is an immutable snapshot of one audit execution. Only
// AIActionPlan and FieldHistory are patched after insert.
type AuditResult struct {
	ID            string          `json:"id"`
	ProjectID     string          `json:"projectId"`
	Strategy      Strategy        `json:"strategy"`
	PerfScore     int             `json:"perfScore"`
	Lab           LabMetrics      `json:"lab"`
	Field         FieldMetrics    `json:"field"`
	Grades        Grades          `json:"grades"`
	Categories    CategoryScores  `json:"categories"`
	LighthouseRaw json.RawMessage `json:"lighthouseRaw,omitempty"`
	AIActionPlan  json.RawMessage `json:"aiActionPlan,omitempty"`
	FieldHistory  json.RawMessage `json:"cruxHistory,omitempty"`
	ShareToken    string          `json:"shareToken"`
	PSIVersion    string          `json:"psiApiVersion"`
	TriggeredBy   Trigger         `json:"triggeredBy"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Alert records one threshold breach for one audit.
type Alert struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	AuditID   string    `json:"auditId"`
	Metric    Metric    `json:"metric"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	EmailSent bool      `json:"emailSent"`
	SlackSent bool      `json:"slackSent"`
	SentAt    time.Time `json:"sentAt"`
}

// Report points at an archived copy of an audit's raw payload.
type Report struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	AuditID   string    `json:"auditId"`
	BlobURI   string    `json:"blobUri"`
	CreatedAt time.Time `json:"createdAt"`
}

// Job is the unit of work carried by the asynchronous queue.
type Job struct {
	ProjectID string `json:"projectId"`
}
