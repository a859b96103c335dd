package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/vitals-monitor/internal/auth"
	"github.com/JakeFAU/vitals-monitor/internal/jobs"
	"github.com/JakeFAU/vitals-monitor/internal/monitor"
	"github.com/JakeFAU/vitals-monitor/internal/plan"
	"github.com/JakeFAU/vitals-monitor/internal/policy/ratelimit"
	"github.com/JakeFAU/vitals-monitor/internal/scheduler"
	"github.com/JakeFAU/vitals-monitor/internal/signing"
	"github.com/JakeFAU/vitals-monitor/internal/storage/memory"
)

const (
	sessionSecret = "session-secret"
	sessionIssuer = "vitals-monitor"
	signingKey    = "sig-current"
	cronSecret    = "cron-secret"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	err   error
	store *memory.Store
	now   time.Time
}

func (f *fakeRunner) Run(ctx context.Context, projectID string, trigger monitor.Trigger) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, projectID)
	n := len(f.calls)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	id := fmt.Sprintf("audit-%d", n)
	lcp := 2100.0
	err := f.store.InsertAudit(ctx, monitor.AuditResult{
		ID:            id,
		ProjectID:     projectID,
		Strategy:      monitor.StrategyMobile,
		PerfScore:     91,
		Lab:           monitor.LabMetrics{LCP: &lcp},
		LighthouseRaw: json.RawMessage(`{"audits":{}}`),
		ShareToken:    "share-" + id,
		TriggeredBy:   trigger,
		CreatedAt:     f.now,
	})
	return id, err
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeProcessor struct {
	outcomes map[string]jobs.Outcome
}

func (f *fakeProcessor) Process(_ context.Context, projectID string) jobs.Outcome {
	if out, ok := f.outcomes[projectID]; ok {
		return out
	}
	return jobs.Outcome{Status: jobs.StatusNotFound, Err: monitor.ErrProjectNotFound}
}

type fakeScheduler struct {
	res scheduler.Result
	err error
}

func (f *fakeScheduler) Dispatch(context.Context) (scheduler.Result, error) {
	return f.res, f.err
}

type fixture struct {
	t         *testing.T
	now       time.Time
	store     *memory.Store
	runner    *fakeRunner
	processor *fakeProcessor
	sched     *fakeScheduler
	handler   http.Handler
}

func newFixture(t *testing.T, throttle *ratelimit.Limiter) *fixture {
	t.Helper()
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	clock := fixedClock{now: now}
	store := memory.NewStore()
	store.PutUser(monitor.User{ID: "free-user", Email: "free@example.com", Plan: plan.TierFree})
	store.PutUser(monitor.User{ID: "pro-user", Email: "pro@example.com", Plan: plan.TierPro})

	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(sessionSecret),
		Issuer:        sessionIssuer,
		Clock:         clock.Now,
	})
	require.NoError(t, err)

	f := &fixture{
		t:         t,
		now:       now,
		store:     store,
		runner:    &fakeRunner{store: store, now: now},
		processor: &fakeProcessor{outcomes: map[string]jobs.Outcome{}},
		sched:     &fakeScheduler{res: scheduler.Result{Dispatched: 2}},
	}
	server := NewServer(Deps{
		Store:      store,
		Runner:     f.runner,
		Processor:  f.processor,
		Scheduler:  f.sched,
		Sessions:   sessions,
		Verifier:   signing.NewVerifier(signingKey, "", clock.Now),
		Throttle:   throttle,
		Plans:      plan.DefaultTable(),
		IDs:        &seqIDs{},
		Clock:      clock,
		CronSecret: cronSecret,
	}, zap.NewNop())
	f.handler = server.Handler()
	return f
}

func (f *fixture) sessionToken(userID string) string {
	f.t.Helper()
	claims := auth.SessionClaims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    sessionIssuer,
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(f.now.Add(time.Hour)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(sessionSecret))
	require.NoError(f.t, err)
	return tok
}

func (f *fixture) do(method, path, userID string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	f.t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+f.sessionToken(userID))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) addProject(id, owner string) monitor.Project {
	f.t.Helper()
	p := monitor.Project{
		ID:        id,
		OwnerID:   owner,
		Name:      id,
		URL:       "https://" + id + ".example",
		Strategy:  monitor.StrategyMobile,
		Schedule:  monitor.ScheduleManual,
		CreatedAt: f.now,
		UpdatedAt: f.now,
	}
	require.NoError(f.t, f.store.CreateProject(context.Background(), p))
	return p
}

func (f *fixture) signedJob(body []byte) map[string]string {
	f.t.Helper()
	sig, err := signing.Sign(signingKey, "https://vitals.example/api/jobs/run-audit", body, f.now, 5*time.Minute)
	require.NoError(f.t, err)
	return map[string]string{signing.HeaderName: sig}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/healthz", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = f.do(http.MethodGet, "/readyz", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/metrics", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRunAuditJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.processor.outcomes["ok"] = jobs.Outcome{Status: jobs.StatusOK, AuditID: "a1"}
	f.processor.outcomes["busy"] = jobs.Outcome{Status: jobs.StatusSkipped, Err: monitor.ErrAuditInProgress}
	f.processor.outcomes["broken"] = jobs.Outcome{Status: jobs.StatusPermanent, Err: &monitor.AuditError{Status: 400, Message: "Lighthouse returned error: FAILED_DOCUMENT_REQUEST"}}
	f.processor.outcomes["flaky"] = jobs.Outcome{Status: jobs.StatusRetry, Err: errors.New("db down")}

	tests := []struct {
		name      string
		projectID string
		wantCode  int
		wantKey   string
	}{
		{"success", "ok", http.StatusOK, "ok"},
		{"lease held", "busy", http.StatusOK, "skipped"},
		{"permanent audit error", "broken", http.StatusOK, "permanent"},
		{"unknown project", "missing", http.StatusNotFound, "error"},
		{"retryable failure", "flaky", http.StatusInternalServerError, "error"},
	}
	for _, tt := range tests {
		body := []byte(`{"projectId":"` + tt.projectID + `"}`)
		rec := f.do(http.MethodPost, "/api/jobs/run-audit", "", body, f.signedJob(body))
		require.Equal(t, tt.wantCode, rec.Code, tt.name)
		require.Contains(t, decode(t, rec), tt.wantKey, tt.name)
	}
}

func TestRunAuditJob_Rejections(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	body := []byte(`{"projectId":"ok"}`)

	rec := f.do(http.MethodPost, "/api/jobs/run-audit", "", body, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	other := []byte(`{"projectId":"other"}`)
	rec = f.do(http.MethodPost, "/api/jobs/run-audit", "", body, f.signedJob(other))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	empty := []byte(`{"projectId":"  "}`)
	rec = f.do(http.MethodPost, "/api/jobs/run-audit", "", empty, f.signedJob(empty))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	garbage := []byte(`not json`)
	rec = f.do(http.MethodPost, "/api/jobs/run-audit", "", garbage, f.signedJob(garbage))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunAuditJob_PushEnvelope(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.processor.outcomes["ok"] = jobs.Outcome{Status: jobs.StatusOK, AuditID: "a1"}
	data := base64.StdEncoding.EncodeToString([]byte(`{"projectId":"ok"}`))
	body := []byte(`{"message":{"data":"` + data + `","attributes":{"traceparent":"00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}},"subscription":"s"}`)

	rec := f.do(http.MethodPost, "/api/jobs/run-audit", "", body, f.signedJob(body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "a1", decode(t, rec)["auditId"])
}

func TestCronDispatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/api/cron/dispatch", "", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/api/cron/dispatch", "", nil, map[string]string{"Authorization": "Bearer wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/api/cron/dispatch", "", nil, map[string]string{"Authorization": "Bearer " + cronSecret})
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"dispatched":2}`, rec.Body.String())

	f.sched.err = errors.New("db down")
	rec = f.do(http.MethodGet, "/api/cron/dispatch", "", nil, map[string]string{"Authorization": "Bearer " + cronSecret})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCronDispatch_RejectsWhenSecretUnset(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{res: scheduler.Result{Dispatched: 1}}
	handler := NewServer(Deps{Scheduler: sched}, zap.NewNop()).Handler()

	for _, header := range []string{"", "Bearer ", "Bearer anything"} {
		req := httptest.NewRequest(http.MethodGet, "/api/cron/dispatch", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

// slowProcessor and slowScheduler outlast the request timeout and record
// whether their context was canceled underneath them.
type slowProcessor struct {
	delay    time.Duration
	canceled bool
}

func (p *slowProcessor) Process(ctx context.Context, _ string) jobs.Outcome {
	time.Sleep(p.delay)
	p.canceled = ctx.Err() != nil
	return jobs.Outcome{Status: jobs.StatusOK, AuditID: "a-slow"}
}

type slowScheduler struct {
	delay    time.Duration
	canceled bool
}

func (s *slowScheduler) Dispatch(ctx context.Context) (scheduler.Result, error) {
	time.Sleep(s.delay)
	s.canceled = ctx.Err() != nil
	return scheduler.Result{Dispatched: 5}, nil
}

func TestCycleRoutesOutliveRequestTimeout(t *testing.T) {
	t.Parallel()

	processor := &slowProcessor{delay: 80 * time.Millisecond}
	sched := &slowScheduler{delay: 80 * time.Millisecond}
	handler := NewServer(Deps{
		Processor:      processor,
		Scheduler:      sched,
		CronSecret:     cronSecret,
		RequestTimeout: 20 * time.Millisecond,
	}, zap.NewNop()).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/run-audit", bytes.NewReader([]byte(`{"projectId":"p1"}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"ok":true,"auditId":"a-slow"}`, rec.Body.String())
	require.False(t, processor.canceled)

	req = httptest.NewRequest(http.MethodGet, "/api/cron/dispatch", nil)
	req.Header.Set("Authorization", "Bearer "+cronSecret)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"dispatched":5}`, rec.Body.String())
	require.False(t, sched.canceled)
}

func TestJobEndpointIgnoresClientDisconnect(t *testing.T) {
	t.Parallel()

	processor := &slowProcessor{delay: 10 * time.Millisecond}
	handler := NewServer(Deps{Processor: processor}, zap.NewNop()).Handler()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/run-audit", bytes.NewReader([]byte(`{"projectId":"p1"}`))).WithContext(ctx)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, processor.canceled)
}

func TestCreateProject(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.do(http.MethodPost, "/api/projects", "", []byte(`{"url":"example.com"}`), nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/projects", "free-user", []byte(`{"url":"localhost:3000"}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/projects", "free-user", []byte(`{"url":"www.example.com/","strategy":"tablet"}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/projects", "free-user", []byte(`{"url":"www.example.com/"}`), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created monitor.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "example.com", created.Name)
	require.Equal(t, "https://www.example.com", created.URL)
	require.Equal(t, monitor.StrategyMobile, created.Strategy)
	require.Equal(t, monitor.ScheduleManual, created.Schedule)
	require.Nil(t, created.NextAuditAt)

	stored, err := f.store.GetProject(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, "free-user", stored.OwnerID)

	rec = f.do(http.MethodPost, "/api/projects", "free-user", []byte(`{"url":"another.example"}`), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, true, decode(t, rec)["limitReached"])
}

func TestTriggerAudit_Success(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addProject("shop", "pro-user")

	rec := f.do(http.MethodPost, "/api/projects/shop/audit", "pro-user", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var audit monitor.AuditResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &audit))
	require.Equal(t, "audit-1", audit.ID)
	require.Equal(t, monitor.TriggerManual, audit.TriggeredBy)
	require.Equal(t, 91, audit.PerfScore)
}

func TestTriggerAudit_Ownership(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addProject("shop", "pro-user")

	rec := f.do(http.MethodPost, "/api/projects/shop/audit", "free-user", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(http.MethodPost, "/api/projects/nope/audit", "pro-user", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Zero(t, f.runner.callCount())
}

func TestTriggerAudit_MonthlyQuota(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addProject("blog", "free-user")
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, f.store.InsertAudit(ctx, monitor.AuditResult{
			ID:         fmt.Sprintf("old-%d", i),
			ProjectID:  "blog",
			ShareToken: fmt.Sprintf("tok-%d", i),
			CreatedAt:  f.now.Add(-time.Duration(i) * time.Hour),
		}))
	}

	rec := f.do(http.MethodPost, "/api/projects/blog/audit", "free-user", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decode(t, rec)
	require.Equal(t, "Monthly audit limit reached (10 runs). Upgrade to continue.", body["error"])
	require.Equal(t, true, body["limitReached"])
	require.Zero(t, f.runner.callCount())
}

func TestTriggerAudit_QuotaIgnoresPreviousMonth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addProject("blog", "free-user")
	for i := 0; i < 10; i++ {
		require.NoError(t, f.store.InsertAudit(context.Background(), monitor.AuditResult{
			ID:         fmt.Sprintf("sept-%d", i),
			ProjectID:  "blog",
			ShareToken: fmt.Sprintf("tok-%d", i),
			CreatedAt:  time.Date(2026, 9, 30, 23, 0, 0, 0, time.UTC),
		}))
	}

	rec := f.do(http.MethodPost, "/api/projects/blog/audit", "free-user", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, f.runner.callCount())
}

func TestTriggerAudit_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"audit error", &monitor.AuditError{Status: 500, Message: "Lighthouse returned error"}, http.StatusBadGateway},
		{"in progress", monitor.ErrAuditInProgress, http.StatusConflict},
		{"storage failure", errors.New("insert failed"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		f := newFixture(t, nil)
		f.addProject("shop", "pro-user")
		f.runner.err = tt.err

		rec := f.do(http.MethodPost, "/api/projects/shop/audit", "pro-user", nil, nil)
		require.Equal(t, tt.want, rec.Code, tt.name)
	}
}

func TestTriggerAudit_Throttle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ratelimit.New(ratelimit.Config{PerMinute: 1, Burst: 1}))
	f.addProject("shop", "pro-user")

	rec := f.do(http.MethodPost, "/api/projects/shop/audit", "pro-user", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodPost, "/api/projects/shop/audit", "pro-user", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "too many requests", decode(t, rec)["error"])
	require.Equal(t, 1, f.runner.callCount())
}

func TestUpdateSchedule(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addProject("blog", "free-user")
	f.addProject("shop", "pro-user")

	rec := f.do(http.MethodPut, "/api/projects/blog/schedule", "free-user", []byte(`{"schedule":"daily"}`), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, true, decode(t, rec)["planGated"])

	rec = f.do(http.MethodPut, "/api/projects/shop/schedule", "pro-user", []byte(`{"schedule":"weekly"}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPut, "/api/projects/shop/schedule", "pro-user", []byte(`{"schedule":"hourly"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p, err := f.store.GetProject(context.Background(), "shop")
	require.NoError(t, err)
	require.Equal(t, monitor.ScheduleHourly, p.Schedule)
	require.NotNil(t, p.NextAuditAt)
	require.True(t, p.NextAuditAt.Equal(f.now.Add(5*time.Minute)))

	rec = f.do(http.MethodPut, "/api/projects/shop/schedule", "pro-user", []byte(`{"schedule":"manual"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p, err = f.store.GetProject(context.Background(), "shop")
	require.NoError(t, err)
	require.Nil(t, p.NextAuditAt)
}

func TestUpdateThresholds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addProject("shop", "pro-user")

	rec := f.do(http.MethodPut, "/api/projects/shop/alerts", "pro-user", []byte(`{"lcp":-1}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPut, "/api/projects/shop/alerts", "pro-user", []byte(`{"lcp":3000,"cls":null,"inp":250}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p, err := f.store.GetProject(context.Background(), "shop")
	require.NoError(t, err)
	require.InDelta(t, 3000, *p.Thresholds.LCP, 0)
	require.Nil(t, p.Thresholds.CLS)
	require.InDelta(t, 250, *p.Thresholds.INP, 0)
}

func TestListAudits_RetentionWindow(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addProject("blog", "free-user")
	ctx := context.Background()
	require.NoError(t, f.store.InsertAudit(ctx, monitor.AuditResult{
		ID: "recent", ProjectID: "blog", ShareToken: "t1",
		LighthouseRaw: json.RawMessage(`{"audits":{}}`), CreatedAt: f.now.Add(-24 * time.Hour),
	}))
	require.NoError(t, f.store.InsertAudit(ctx, monitor.AuditResult{
		ID: "stale", ProjectID: "blog", ShareToken: "t2", CreatedAt: f.now.Add(-10 * 24 * time.Hour),
	}))

	rec := f.do(http.MethodGet, "/api/projects/blog/audits", "free-user", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Audits      []map[string]any `json:"audits"`
		HistoryDays int              `json:"historyDays"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 7, body.HistoryDays)
	require.Len(t, body.Audits, 1)
	require.Equal(t, "recent", body.Audits[0]["id"])
	require.NotContains(t, body.Audits[0], "lighthouseRaw")

	rec = f.do(http.MethodGet, "/api/projects/blog/audits?limit=zero", "free-user", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetShare(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addProject("shop", "pro-user")
	require.NoError(t, f.store.InsertAudit(context.Background(), monitor.AuditResult{
		ID: "a1", ProjectID: "shop", ShareToken: "public-token", PerfScore: 77,
		LighthouseRaw: json.RawMessage(`{"audits":{}}`), CreatedAt: f.now,
	}))

	rec := f.do(http.MethodGet, "/api/share/public-token", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, "a1", body["id"])
	require.NotContains(t, body, "lighthouseRaw")

	rec = f.do(http.MethodGet, "/api/share/unknown", "", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
