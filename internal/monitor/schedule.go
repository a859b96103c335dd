package monitor

import "time"

// InitialAuditDelay is how far in the future the first scheduled audit lands
// after a schedule is switched on.
const InitialAuditDelay = 5 * time.Minute

// Interval returns the time between scheduled audits. Manual schedules have
// no interval.
func (s Schedule) Interval() time.Duration {
	switch s {
	case ScheduleHourly:
		return time.Hour
	case ScheduleDaily:
		return 24 * time.Hour
	}
	return 0
}

// NextAuditAt computes the next due time for a project that was just
// processed at now. Manual schedules return nil.
func NextAuditAt(s Schedule, now time.Time) *time.Time {
	interval := s.Interval()
	if interval == 0 {
		return nil
	}
	next := now.Add(interval)
	return &next
}

// InitialNextAuditAt returns the first due time after a schedule change.
func InitialNextAuditAt(s Schedule, now time.Time) *time.Time {
	if s == ScheduleManual {
		return nil
	}
	next := now.Add(InitialAuditDelay)
	return &next
}

// IsDue reports whether the project belongs to the scheduler's due set.
func (p Project) IsDue(now time.Time) bool {
	if p.Schedule == ScheduleManual {
		return false
	}
	return p.NextAuditAt == nil || !p.NextAuditAt.After(now)
}

// MonthStart returns the first instant of now's calendar month in UTC.
func MonthStart(now time.Time) time.Time {
	n := now.UTC()
	return time.Date(n.Year(), n.Month(), 1, 0, 0, 0, 0, time.UTC)
}
