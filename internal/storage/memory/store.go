package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/vitals-monitor/internal/monitor"
)

// Store is an in-memory monitor.Store for development and tests.
type Store struct {
	mu       sync.RWMutex
	projects map[string]monitor.Project
	leases   map[string]time.Time
	audits   map[string]monitor.AuditResult
	alerts   []monitor.Alert
	users    map[string]monitor.User
	reports  []monitor.Report
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		projects: make(map[string]monitor.Project),
		leases:   make(map[string]time.Time),
		audits:   make(map[string]monitor.AuditResult),
		users:    make(map[string]monitor.User),
	}
}

// PutUser seeds an owner record. Users are owned by the identity provider,
// so there is no write path in monitor.Store.
func (s *Store) PutUser(user monitor.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// Close is a no-op.
func (s *Store) Close() {}

// CreateProject stores a new project.
func (s *Store) CreateProject(_ context.Context, project monitor.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[project.ID]; exists {
		return errProjectExists
	}
	s.projects[project.ID] = project
	return nil
}

// GetProject fetches a project by ID.
func (s *Store) GetProject(_ context.Context, id string) (monitor.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return monitor.Project{}, monitor.ErrProjectNotFound
	}
	return p, nil
}

// CountProjects counts the owner's projects.
func (s *Store) CountProjects(_ context.Context, ownerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.projects {
		if p.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

// ListDueProjects returns scheduled projects whose next audit is unset or
// not after now, ordered by ID.
func (s *Store) ListDueProjects(_ context.Context, now time.Time) ([]monitor.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.Project
	for _, p := range s.projects {
		if p.IsDue(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) updateProject(id string, fn func(*monitor.Project)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return monitor.ErrProjectNotFound
	}
	fn(&p)
	s.projects[id] = p
	return nil
}

// MarkAudited sets LastAuditAt.
func (s *Store) MarkAudited(_ context.Context, id string, at time.Time) error {
	return s.updateProject(id, func(p *monitor.Project) {
		p.LastAuditAt = timePtr(at)
		p.UpdatedAt = at
	})
}

// SetNextAuditAt sets or clears NextAuditAt.
func (s *Store) SetNextAuditAt(_ context.Context, id string, next *time.Time, now time.Time) error {
	return s.updateProject(id, func(p *monitor.Project) {
		p.NextAuditAt = copyTime(next)
		p.UpdatedAt = now
	})
}

// UpdateSchedule changes the schedule and its next due time together.
func (s *Store) UpdateSchedule(_ context.Context, id string, schedule monitor.Schedule, next *time.Time, now time.Time) error {
	return s.updateProject(id, func(p *monitor.Project) {
		p.Schedule = schedule
		p.NextAuditAt = copyTime(next)
		p.UpdatedAt = now
	})
}

// UpdateThresholds replaces the alert thresholds.
func (s *Store) UpdateThresholds(_ context.Context, id string, thresholds monitor.Thresholds, now time.Time) error {
	return s.updateProject(id, func(p *monitor.Project) {
		p.Thresholds = thresholds
		p.UpdatedAt = now
	})
}

// AcquireAuditLease takes the project's lease when it is free or expired.
func (s *Store) AcquireAuditLease(_ context.Context, id string, now time.Time, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return false, nil
	}
	if held, ok := s.leases[id]; ok && !held.Before(now) {
		return false, nil
	}
	s.leases[id] = until
	return true, nil
}

// ReleaseAuditLease frees the project's lease.
func (s *Store) ReleaseAuditLease(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, id)
	return nil
}

// InsertAudit stores a new audit result.
func (s *Store) InsertAudit(_ context.Context, audit monitor.AuditResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.audits[audit.ID]; exists {
		return errAuditExists
	}
	s.audits[audit.ID] = audit
	return nil
}

// GetAudit fetches an audit result by ID.
func (s *Store) GetAudit(_ context.Context, id string) (monitor.AuditResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.audits[id]
	if !ok {
		return monitor.AuditResult{}, monitor.ErrAuditNotFound
	}
	return a, nil
}

// GetAuditByShareToken fetches an audit result by its public token.
func (s *Store) GetAuditByShareToken(_ context.Context, token string) (monitor.AuditResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.audits {
		if a.ShareToken == token {
			return a, nil
		}
	}
	return monitor.AuditResult{}, monitor.ErrAuditNotFound
}

// ListAudits returns the project's audits created at or after since, newest
// first. A non-positive limit returns all of them.
func (s *Store) ListAudits(_ context.Context, projectID string, since time.Time, limit int) ([]monitor.AuditResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.AuditResult
	for _, a := range s.audits {
		if a.ProjectID == projectID && !a.CreatedAt.Before(since) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) patchAudit(id string, fn func(*monitor.AuditResult)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.audits[id]
	if !ok {
		return monitor.ErrAuditNotFound
	}
	fn(&a)
	s.audits[id] = a
	return nil
}

// SetAIActionPlan attaches the AI plan to an audit.
func (s *Store) SetAIActionPlan(_ context.Context, id string, plan json.RawMessage) error {
	return s.patchAudit(id, func(a *monitor.AuditResult) {
		a.AIActionPlan = append(json.RawMessage(nil), plan...)
	})
}

// SetFieldHistory attaches real-user history to an audit.
func (s *Store) SetFieldHistory(_ context.Context, id string, history json.RawMessage) error {
	return s.patchAudit(id, func(a *monitor.AuditResult) {
		a.FieldHistory = append(json.RawMessage(nil), history...)
	})
}

// CountAuditsSince counts audits across the owner's projects.
func (s *Store) CountAuditsSince(_ context.Context, ownerID string, since time.Time) (int, error) {
	return s.countOwnerAudits(ownerID, since, func(monitor.AuditResult) bool { return true }), nil
}

// CountAIPlansSince counts audits with an AI plan across the owner's projects.
func (s *Store) CountAIPlansSince(_ context.Context, ownerID string, since time.Time) (int, error) {
	return s.countOwnerAudits(ownerID, since, func(a monitor.AuditResult) bool { return len(a.AIActionPlan) > 0 }), nil
}

func (s *Store) countOwnerAudits(ownerID string, since time.Time, match func(monitor.AuditResult) bool) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.audits {
		p, ok := s.projects[a.ProjectID]
		if !ok || p.OwnerID != ownerID || a.CreatedAt.Before(since) {
			continue
		}
		if match(a) {
			n++
		}
	}
	return n
}

// HasRecentAlert reports whether an alert for the metric was sent at or
// after since.
func (s *Store) HasRecentAlert(_ context.Context, projectID string, metric monitor.Metric, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.alerts {
		if a.ProjectID == projectID && a.Metric == metric && !a.SentAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// InsertAlerts appends alert rows.
func (s *Store) InsertAlerts(_ context.Context, alerts []monitor.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alerts...)
	return nil
}

// MarkAlertsEmailed flags the audit's alerts as emailed.
func (s *Store) MarkAlertsEmailed(_ context.Context, projectID string, auditID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ProjectID == projectID && s.alerts[i].AuditID == auditID {
			s.alerts[i].EmailSent = true
		}
	}
	return nil
}

// Alerts returns a copy of every recorded alert.
func (s *Store) Alerts() []monitor.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// GetUser fetches an owner.
func (s *Store) GetUser(_ context.Context, id string) (monitor.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return monitor.User{}, monitor.ErrUserNotFound
	}
	return u, nil
}

// RecordReport appends a report row.
func (s *Store) RecordReport(_ context.Context, report monitor.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return nil
}

// Reports returns a copy of every recorded report.
func (s *Store) Reports() []monitor.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.Report, len(s.reports))
	copy(out, s.reports)
	return out
}

func timePtr(t time.Time) *time.Time {
	ts := t
	return &ts
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return timePtr(*t)
}
