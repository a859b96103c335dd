// Package postgres provides the Postgres-backed monitor.Store.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/vitals-monitor/internal/monitor"
)

//go:embed schema.sql
var schemaSQL string

// StoreConfig controls the Postgres connection pool.
type StoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pgxIface is the subset of *pgxpool.Pool used by Store; pgxmock satisfies it.
type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store implements monitor.Store on Postgres.
type Store struct {
	pool pgxIface
}

var _ monitor.Store = (*Store)(nil)

// NewStore connects a pool using cfg.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool pgxIface) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}
	return nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const projectColumns = `id, user_id, name, url, strategy, schedule, next_audit_at, last_audit_at,
	alert_thresholds, created_at, updated_at`

// CreateProject inserts a project row.
func (s *Store) CreateProject(ctx context.Context, p monitor.Project) error {
	thresholds, err := json.Marshal(p.Thresholds)
	if err != nil {
		return fmt.Errorf("marshal thresholds: %w", err)
	}
	query := `
		INSERT INTO projects (` + projectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
	`
	_, err = s.pool.Exec(ctx, query,
		p.ID,
		p.OwnerID,
		p.Name,
		p.URL,
		string(p.Strategy),
		string(p.Schedule),
		p.NextAuditAt,
		p.LastAuditAt,
		thresholds,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

// GetProject fetches a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (monitor.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1;`
	p, err := scanProject(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Project{}, monitor.ErrProjectNotFound
	}
	if err != nil {
		return monitor.Project{}, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// CountProjects counts the owner's projects.
func (s *Store) CountProjects(ctx context.Context, ownerID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM projects WHERE user_id = $1;`, ownerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count projects: %w", err)
	}
	return n, nil
}

// ListDueProjects returns scheduled projects whose next audit is unset or
// not after now, ordered by ID.
func (s *Store) ListDueProjects(ctx context.Context, now time.Time) ([]monitor.Project, error) {
	query := `
		SELECT ` + projectColumns + `
		FROM projects
		WHERE schedule <> 'manual' AND (next_audit_at IS NULL OR next_audit_at <= $1)
		ORDER BY id;
	`
	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due projects: %w", err)
	}
	defer rows.Close()

	var out []monitor.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due projects: %w", err)
	}
	return out, nil
}

func (s *Store) execProject(ctx context.Context, op string, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrProjectNotFound
	}
	return nil
}

// MarkAudited sets last_audit_at.
func (s *Store) MarkAudited(ctx context.Context, id string, at time.Time) error {
	return s.execProject(ctx, "mark project audited",
		`UPDATE projects SET last_audit_at = $1, updated_at = $1 WHERE id = $2;`, at, id)
}

// SetNextAuditAt sets or clears next_audit_at.
func (s *Store) SetNextAuditAt(ctx context.Context, id string, next *time.Time, now time.Time) error {
	return s.execProject(ctx, "set next audit",
		`UPDATE projects SET next_audit_at = $1, updated_at = $2 WHERE id = $3;`, next, now, id)
}

// UpdateSchedule changes the schedule and its next due time together.
func (s *Store) UpdateSchedule(ctx context.Context, id string, schedule monitor.Schedule, next *time.Time, now time.Time) error {
	return s.execProject(ctx, "update schedule",
		`UPDATE projects SET schedule = $1, next_audit_at = $2, updated_at = $3 WHERE id = $4;`,
		string(schedule), next, now, id)
}

// UpdateThresholds replaces the alert thresholds.
func (s *Store) UpdateThresholds(ctx context.Context, id string, thresholds monitor.Thresholds, now time.Time) error {
	raw, err := json.Marshal(thresholds)
	if err != nil {
		return fmt.Errorf("marshal thresholds: %w", err)
	}
	return s.execProject(ctx, "update thresholds",
		`UPDATE projects SET alert_thresholds = $1, updated_at = $2 WHERE id = $3;`, raw, now, id)
}

// AcquireAuditLease takes the project's lease when it is free or expired.
// The conditional update makes concurrent acquirers race on a single row.
func (s *Store) AcquireAuditLease(ctx context.Context, id string, now time.Time, until time.Time) (bool, error) {
	query := `
		UPDATE projects SET audit_lease_until = $1
		WHERE id = $2 AND (audit_lease_until IS NULL OR audit_lease_until < $3);
	`
	tag, err := s.pool.Exec(ctx, query, until, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to acquire audit lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseAuditLease frees the project's lease.
func (s *Store) ReleaseAuditLease(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE projects SET audit_lease_until = NULL WHERE id = $1;`, id); err != nil {
		return fmt.Errorf("failed to release audit lease: %w", err)
	}
	return nil
}

const auditColumns = `id, project_id, strategy, perf_score,
	lcp, cls, inp, fcp, ttfb, tbt, speed_index,
	crux_lcp, crux_cls, crux_inp, crux_fcp,
	lcp_grade, cls_grade, inp_grade,
	seo_score, accessibility_score, best_practices_score,
	lighthouse_raw, ai_action_plan, crux_history,
	share_token, psi_api_version, triggered_by, created_at`

// InsertAudit writes a new audit row.
func (s *Store) InsertAudit(ctx context.Context, a monitor.AuditResult) error {
	query := `
		INSERT INTO audit_results (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28);
	`
	_, err := s.pool.Exec(ctx, query,
		a.ID,
		a.ProjectID,
		string(a.Strategy),
		a.PerfScore,
		a.Lab.LCP, a.Lab.CLS, a.Lab.INP, a.Lab.FCP, a.Lab.TTFB, a.Lab.TBT, a.Lab.SpeedIndex,
		a.Field.LCP, a.Field.CLS, a.Field.INP, a.Field.FCP,
		gradeText(a.Grades.LCP), gradeText(a.Grades.CLS), gradeText(a.Grades.INP),
		a.Categories.SEO, a.Categories.Accessibility, a.Categories.BestPractices,
		nullJSON(a.LighthouseRaw), nullJSON(a.AIActionPlan), nullJSON(a.FieldHistory),
		a.ShareToken,
		a.PSIVersion,
		string(a.TriggeredBy),
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit: %w", err)
	}
	return nil
}

// GetAudit fetches an audit by ID.
func (s *Store) GetAudit(ctx context.Context, id string) (monitor.AuditResult, error) {
	return s.getAudit(ctx, `SELECT `+auditColumns+` FROM audit_results WHERE id = $1;`, id)
}

// GetAuditByShareToken fetches an audit by its public token.
func (s *Store) GetAuditByShareToken(ctx context.Context, token string) (monitor.AuditResult, error) {
	return s.getAudit(ctx, `SELECT `+auditColumns+` FROM audit_results WHERE share_token = $1;`, token)
}

func (s *Store) getAudit(ctx context.Context, query string, arg string) (monitor.AuditResult, error) {
	a, err := scanAudit(s.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.AuditResult{}, monitor.ErrAuditNotFound
	}
	if err != nil {
		return monitor.AuditResult{}, fmt.Errorf("failed to get audit: %w", err)
	}
	return a, nil
}

// ListAudits returns the project's audits created at or after since, newest
// first. A non-positive limit returns all of them.
func (s *Store) ListAudits(ctx context.Context, projectID string, since time.Time, limit int) ([]monitor.AuditResult, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_results
		WHERE project_id = $1 AND created_at >= $2
		ORDER BY created_at DESC, id DESC
	`
	args := []any{projectID, since}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audits: %w", err)
	}
	defer rows.Close()

	var out []monitor.AuditResult
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audits: %w", err)
	}
	return out, nil
}

func (s *Store) patchAudit(ctx context.Context, op string, column string, id string, raw json.RawMessage) error {
	tag, err := s.pool.Exec(ctx, `UPDATE audit_results SET `+column+` = $1 WHERE id = $2;`, nullJSON(raw), id)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrAuditNotFound
	}
	return nil
}

// SetAIActionPlan attaches the AI plan to an audit.
func (s *Store) SetAIActionPlan(ctx context.Context, id string, plan json.RawMessage) error {
	return s.patchAudit(ctx, "set ai action plan", "ai_action_plan", id, plan)
}

// SetFieldHistory attaches real-user history to an audit.
func (s *Store) SetFieldHistory(ctx context.Context, id string, history json.RawMessage) error {
	return s.patchAudit(ctx, "set field history", "crux_history", id, history)
}

// CountAuditsSince counts audits across the owner's projects.
func (s *Store) CountAuditsSince(ctx context.Context, ownerID string, since time.Time) (int, error) {
	query := `
		SELECT count(*) FROM audit_results a
		JOIN projects p ON p.id = a.project_id
		WHERE p.user_id = $1 AND a.created_at >= $2;
	`
	var n int
	if err := s.pool.QueryRow(ctx, query, ownerID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count audits: %w", err)
	}
	return n, nil
}

// CountAIPlansSince counts audits carrying an AI plan across the owner's projects.
func (s *Store) CountAIPlansSince(ctx context.Context, ownerID string, since time.Time) (int, error) {
	query := `
		SELECT count(*) FROM audit_results a
		JOIN projects p ON p.id = a.project_id
		WHERE p.user_id = $1 AND a.created_at >= $2 AND a.ai_action_plan IS NOT NULL;
	`
	var n int
	if err := s.pool.QueryRow(ctx, query, ownerID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count ai plans: %w", err)
	}
	return n, nil
}

// HasRecentAlert reports whether an alert for the metric was sent at or after since.
func (s *Store) HasRecentAlert(ctx context.Context, projectID string, metric monitor.Metric, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM alerts WHERE project_id = $1 AND metric = $2 AND sent_at >= $3
		);
	`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, projectID, string(metric), since).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check recent alerts: %w", err)
	}
	return exists, nil
}

// InsertAlerts writes alert rows in one transaction.
func (s *Store) InsertAlerts(ctx context.Context, alerts []monitor.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO alerts (id, project_id, audit_id, metric, value, threshold, email_sent, slack_sent, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`
	for _, a := range alerts {
		_, err := tx.Exec(ctx, query,
			a.ID,
			a.ProjectID,
			a.AuditID,
			string(a.Metric),
			a.Value,
			a.Threshold,
			a.EmailSent,
			a.SlackSent,
			a.SentAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert alert: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit alerts: %w", err)
	}
	return nil
}

// MarkAlertsEmailed flags the audit's alerts as emailed.
func (s *Store) MarkAlertsEmailed(ctx context.Context, projectID string, auditID string) error {
	query := `UPDATE alerts SET email_sent = true WHERE project_id = $1 AND audit_id = $2;`
	if _, err := s.pool.Exec(ctx, query, projectID, auditID); err != nil {
		return fmt.Errorf("failed to mark alerts emailed: %w", err)
	}
	return nil
}

// GetUser fetches an owner.
func (s *Store) GetUser(ctx context.Context, id string) (monitor.User, error) {
	var u monitor.User
	err := s.pool.QueryRow(ctx, `SELECT id, email, name, plan FROM users WHERE id = $1;`, id).
		Scan(&u.ID, &u.Email, &u.Name, &u.Plan)
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.User{}, monitor.ErrUserNotFound
	}
	if err != nil {
		return monitor.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// RecordReport inserts a report row.
func (s *Store) RecordReport(ctx context.Context, r monitor.Report) error {
	query := `
		INSERT INTO reports (id, project_id, audit_id, blob_uri, created_at)
		VALUES ($1, $2, $3, $4, $5);
	`
	if _, err := s.pool.Exec(ctx, query, r.ID, r.ProjectID, r.AuditID, r.BlobURI, r.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

func scanProject(row pgx.Row) (monitor.Project, error) {
	var (
		p          monitor.Project
		strategy   string
		schedule   string
		thresholds []byte
	)
	err := row.Scan(
		&p.ID,
		&p.OwnerID,
		&p.Name,
		&p.URL,
		&strategy,
		&schedule,
		&p.NextAuditAt,
		&p.LastAuditAt,
		&thresholds,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return monitor.Project{}, err
	}
	p.Strategy = monitor.Strategy(strategy)
	p.Schedule = monitor.Schedule(schedule)
	if len(thresholds) > 0 {
		if err := json.Unmarshal(thresholds, &p.Thresholds); err != nil {
			return monitor.Project{}, fmt.Errorf("decode thresholds: %w", err)
		}
	}
	return p, nil
}

func scanAudit(row pgx.Row) (monitor.AuditResult, error) {
	var (
		a                  monitor.AuditResult
		strategy, trigger  string
		lcpGrade, clsGrade *string
		inpGrade           *string
		raw, plan, history []byte
	)
	err := row.Scan(
		&a.ID,
		&a.ProjectID,
		&strategy,
		&a.PerfScore,
		&a.Lab.LCP, &a.Lab.CLS, &a.Lab.INP, &a.Lab.FCP, &a.Lab.TTFB, &a.Lab.TBT, &a.Lab.SpeedIndex,
		&a.Field.LCP, &a.Field.CLS, &a.Field.INP, &a.Field.FCP,
		&lcpGrade, &clsGrade, &inpGrade,
		&a.Categories.SEO, &a.Categories.Accessibility, &a.Categories.BestPractices,
		&raw, &plan, &history,
		&a.ShareToken,
		&a.PSIVersion,
		&trigger,
		&a.CreatedAt,
	)
	if err != nil {
		return monitor.AuditResult{}, err
	}
	a.Strategy = monitor.Strategy(strategy)
	a.TriggeredBy = monitor.Trigger(trigger)
	a.Grades = monitor.Grades{LCP: gradePtr(lcpGrade), CLS: gradePtr(clsGrade), INP: gradePtr(inpGrade)}
	a.LighthouseRaw = rawJSON(raw)
	a.AIActionPlan = rawJSON(plan)
	a.FieldHistory = rawJSON(history)
	return a, nil
}

// nullJSON maps an empty payload to SQL NULL.
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

func gradeText(g *monitor.Grade) *string {
	if g == nil {
		return nil
	}
	s := string(*g)
	return &s
}

func gradePtr(s *string) *monitor.Grade {
	if s == nil {
		return nil
	}
	g := monitor.Grade(*s)
	return &g
}
