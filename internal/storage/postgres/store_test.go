package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vitals-monitor/internal/monitor"
)

var projectCols = []string{
	"id", "user_id", "name", "url", "strategy", "schedule", "next_audit_at", "last_audit_at",
	"alert_thresholds", "created_at", "updated_at",
}

var auditCols = []string{
	"id", "project_id", "strategy", "perf_score",
	"lcp", "cls", "inp", "fcp", "ttfb", "tbt", "speed_index",
	"crux_lcp", "crux_cls", "crux_inp", "crux_fcp",
	"lcp_grade", "cls_grade", "inp_grade",
	"seo_score", "accessibility_score", "best_practices_score",
	"lighthouse_raw", "ai_action_plan", "crux_history",
	"share_token", "psi_api_version", "triggered_by", "created_at",
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func f64(v float64) *float64 { return &v }

func TestNewStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewStore(context.Background(), StoreConfig{})
	require.Error(t, err)

	_, err = NewStoreWithPool(nil)
	require.Error(t, err)
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateProjectInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	p := monitor.Project{
		ID:         "p1",
		OwnerID:    "u1",
		Name:       "Shop",
		URL:        "https://shop.example",
		Strategy:   monitor.StrategyMobile,
		Schedule:   monitor.ScheduleManual,
		Thresholds: monitor.Thresholds{LCP: f64(2500)},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	mock.ExpectExec("INSERT INTO projects").
		WithArgs(
			"p1", "u1", "Shop", "https://shop.example", "mobile", "manual",
			(*time.Time)(nil), (*time.Time)(nil),
			[]byte(`{"lcp":2500,"cls":null,"inp":null}`),
			now, now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateProject(context.Background(), p))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProjectScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	next := now.Add(time.Hour)

	mock.ExpectQuery("SELECT (.+) FROM projects WHERE id").
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows(projectCols).AddRow(
			"p1", "u1", "Shop", "https://shop.example", "desktop", "hourly",
			&next, (*time.Time)(nil),
			[]byte(`{"lcp":2500,"cls":0.1}`),
			now, now,
		))

	p, err := store.GetProject(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, monitor.StrategyDesktop, p.Strategy)
	require.Equal(t, monitor.ScheduleHourly, p.Schedule)
	require.NotNil(t, p.NextAuditAt)
	require.True(t, next.Equal(*p.NextAuditAt))
	require.Nil(t, p.LastAuditAt)
	require.InDelta(t, 2500, *p.Thresholds.LCP, 0)
	require.InDelta(t, 0.1, *p.Thresholds.CLS, 1e-9)
	require.Nil(t, p.Thresholds.INP)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProjectNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM projects WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetProject(context.Background(), "missing")
	require.ErrorIs(t, err, monitor.ErrProjectNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDueProjects(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT (.+) FROM projects WHERE schedule <> 'manual'").
		WithArgs(now).
		WillReturnRows(pgxmock.NewRows(projectCols).
			AddRow("a", "u1", "A", "https://a.example", "mobile", "daily",
				(*time.Time)(nil), (*time.Time)(nil), []byte(`{}`), now, now).
			AddRow("b", "u2", "B", "https://b.example", "mobile", "hourly",
				&now, &now, []byte(`{}`), now, now))

	projects, err := store.ListDueProjects(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	require.Equal(t, "a", projects[0].ID)
	require.Equal(t, "b", projects[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProjectUpdatesReportMissingRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	next := now.Add(24 * time.Hour)

	mock.ExpectExec("UPDATE projects SET next_audit_at").
		WithArgs(&next, now, "p1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE projects SET schedule").
		WithArgs("daily", &next, now, "gone").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.SetNextAuditAt(context.Background(), "p1", &next, now))
	err := store.UpdateSchedule(context.Background(), "gone", monitor.ScheduleDaily, &next, now)
	require.ErrorIs(t, err, monitor.ErrProjectNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireAuditLease(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	until := now.Add(10 * time.Minute)

	mock.ExpectExec("UPDATE projects SET audit_lease_until").
		WithArgs(until, "p1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE projects SET audit_lease_until").
		WithArgs(until, "p1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("UPDATE projects SET audit_lease_until = NULL").
		WithArgs("p1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := store.AcquireAuditLease(context.Background(), "p1", now, until)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.AcquireAuditLease(context.Background(), "p1", now, until)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.ReleaseAuditLease(context.Background(), "p1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAndGetAudit(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	good := monitor.GradeGood
	goodText := string(good)
	seo := 92
	audit := monitor.AuditResult{
		ID:            "a1",
		ProjectID:     "p1",
		Strategy:      monitor.StrategyMobile,
		PerfScore:     88,
		Lab:           monitor.LabMetrics{LCP: f64(2100)},
		Grades:        monitor.Grades{LCP: &good},
		Categories:    monitor.CategoryScores{SEO: &seo},
		LighthouseRaw: json.RawMessage(`{"audits":{}}`),
		ShareToken:    "tok",
		PSIVersion:    "12.0.0",
		TriggeredBy:   monitor.TriggerManual,
		CreatedAt:     now,
	}

	mock.ExpectExec("INSERT INTO audit_results").
		WithArgs(
			"a1", "p1", "mobile", 88,
			audit.Lab.LCP, (*float64)(nil), (*float64)(nil), (*float64)(nil), (*float64)(nil), (*float64)(nil), (*float64)(nil),
			(*float64)(nil), (*float64)(nil), (*float64)(nil), (*float64)(nil),
			&goodText, (*string)(nil), (*string)(nil),
			&seo, (*int)(nil), (*int)(nil),
			[]byte(`{"audits":{}}`), nil, nil,
			"tok", "12.0.0", "manual", now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.InsertAudit(context.Background(), audit))

	mock.ExpectQuery("SELECT (.+) FROM audit_results WHERE share_token").
		WithArgs("tok").
		WillReturnRows(pgxmock.NewRows(auditCols).AddRow(
			"a1", "p1", "mobile", 88,
			f64(2100), (*float64)(nil), (*float64)(nil), (*float64)(nil), (*float64)(nil), (*float64)(nil), (*float64)(nil),
			f64(2400), (*float64)(nil), (*float64)(nil), (*float64)(nil),
			&goodText, (*string)(nil), (*string)(nil),
			&seo, (*int)(nil), (*int)(nil),
			[]byte(`{"audits":{}}`), []byte(nil), []byte(`{"record":{}}`),
			"tok", "12.0.0", "manual", now,
		))

	got, err := store.GetAuditByShareToken(context.Background(), "tok")
	require.NoError(t, err)
	require.Equal(t, "a1", got.ID)
	require.Equal(t, monitor.TriggerManual, got.TriggeredBy)
	require.InDelta(t, 2100, *got.Lab.LCP, 0)
	require.InDelta(t, 2400, *got.Field.LCP, 0)
	require.Equal(t, monitor.GradeGood, *got.Grades.LCP)
	require.Nil(t, got.Grades.CLS)
	require.Equal(t, 92, *got.Categories.SEO)
	require.Nil(t, got.AIActionPlan)
	require.JSONEq(t, `{"record":{}}`, string(got.FieldHistory))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAuditNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM audit_results WHERE id").
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetAudit(context.Background(), "nope")
	require.ErrorIs(t, err, monitor.ErrAuditNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAuditsAppliesLimit(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	since := now.Add(-7 * 24 * time.Hour)

	mock.ExpectQuery("SELECT (.+) FROM audit_results (.+) LIMIT").
		WithArgs("p1", since, 10).
		WillReturnRows(pgxmock.NewRows(auditCols))

	audits, err := store.ListAudits(context.Background(), "p1", since, 10)
	require.NoError(t, err)
	require.Empty(t, audits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPatchAuditMissingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE audit_results SET ai_action_plan").
		WithArgs([]byte(`{"summary":"x"}`), "a1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE audit_results SET crux_history").
		WithArgs([]byte(`{}`), "gone").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.SetAIActionPlan(context.Background(), "a1", json.RawMessage(`{"summary":"x"}`)))
	err := store.SetFieldHistory(context.Background(), "gone", json.RawMessage(`{}`))
	require.ErrorIs(t, err, monitor.ErrAuditNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaCounts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	since := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT count(.+) FROM audit_results").
		WithArgs("u1", since).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery("SELECT count(.+) ai_action_plan IS NOT NULL").
		WithArgs("u1", since).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	n, err := store.CountAuditsSince(context.Background(), "u1", since)
	require.NoError(t, err)
	require.Equal(t, 7, n)

	n, err = store.CountAIPlansSince(context.Background(), "u1", since)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertsRoundTrip(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	alerts := []monitor.Alert{
		{ID: "al1", ProjectID: "p1", AuditID: "a1", Metric: monitor.MetricLCP, Value: 3200, Threshold: 2500, SentAt: now},
		{ID: "al2", ProjectID: "p1", AuditID: "a1", Metric: monitor.MetricCLS, Value: 0.3, Threshold: 0.1, SentAt: now},
	}

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("p1", "lcp", now.Add(-24*time.Hour)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO alerts").
		WithArgs("al1", "p1", "a1", "lcp", 3200.0, 2500.0, false, false, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO alerts").
		WithArgs("al2", "p1", "a1", "cls", 0.3, 0.1, false, false, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE alerts SET email_sent").
		WithArgs("p1", "a1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	recent, err := store.HasRecentAlert(context.Background(), "p1", monitor.MetricLCP, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.False(t, recent)
	require.NoError(t, store.InsertAlerts(context.Background(), alerts))
	require.NoError(t, store.MarkAlertsEmailed(context.Background(), "p1", "a1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAlertsRollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO alerts").
		WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	err := store.InsertAlerts(context.Background(), []monitor.Alert{
		{ID: "al1", ProjectID: "p1", AuditID: "a1", Metric: monitor.MetricINP, Value: 600, Threshold: 200, SentAt: now},
	})
	require.Error(t, err)
	require.NoError(t, store.InsertAlerts(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUser(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, email, name, plan FROM users").
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "name", "plan"}).
			AddRow("u1", "owner@example.com", "Owner", "pro"))
	mock.ExpectQuery("SELECT id, email, name, plan FROM users").
		WithArgs("u2").
		WillReturnError(pgx.ErrNoRows)

	u, err := store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "pro", u.Plan)

	_, err = store.GetUser(context.Background(), "u2")
	require.ErrorIs(t, err, monitor.ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordReport(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("INSERT INTO reports").
		WithArgs("r1", "p1", "a1", "gs://bucket/reports/p1/a1.json", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordReport(context.Background(), monitor.Report{
		ID: "r1", ProjectID: "p1", AuditID: "a1", BlobURI: "gs://bucket/reports/p1/a1.json", CreatedAt: now,
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}
