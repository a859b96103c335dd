// Package plan holds the subscription tier limits consulted by every quota
// check in the service. A Table is built once at startup and never mutated.
package plan

import "github.com/JakeFAU/vitals-monitor/internal/monitor"

// Unlimited marks a quota with no ceiling.
const Unlimited = -1

// Tier names.
const (
	TierFree    = "free"
	TierStarter = "starter"
	TierPro     = "pro"
	TierAgency  = "agency"
)

// Limits defines the quotas and feature flags of one tier.
type Limits struct {
	Tier string `json:"tier"`
	// MaxProjects caps the number of projects an owner may create.
	MaxProjects int `json:"maxProjects"`
	// ManualRunsPerMonth caps audits started in a calendar month (-1 = unlimited).
	ManualRunsPerMonth int `json:"manualRunsPerMonth"`
	// ScheduledRuns allows daily schedules.
	ScheduledRuns bool `json:"scheduledRuns"`
	// HourlyRuns allows hourly schedules.
	HourlyRuns bool `json:"hourlyRuns"`
	// EmailAlerts allows alert notification emails.
	EmailAlerts bool `json:"emailAlerts"`
	// HistoryDays is the retention window for audit history reads.
	HistoryDays int `json:"historyDays"`
	// AIPlansPerMonth caps AI remediation plans (0 = disabled, -1 = unlimited).
	AIPlansPerMonth int `json:"aiActionPlansPerMonth"`
}

// AllowsSchedule reports whether the tier may use s.
func (l Limits) AllowsSchedule(s monitor.Schedule) bool {
	switch s {
	case monitor.ScheduleManual:
		return true
	case monitor.ScheduleDaily:
		return l.ScheduledRuns
	case monitor.ScheduleHourly:
		return l.ScheduledRuns && l.HourlyRuns
	}
	return false
}

// AIPlansEnabled reports whether the tier generates AI plans at all.
func (l Limits) AIPlansEnabled() bool {
	return l.AIPlansPerMonth != 0
}

// WithinQuota reports whether used stays below quota. Unlimited quotas are
// always within bounds and a zero quota never is.
func WithinQuota(used, quota int) bool {
	if quota == Unlimited {
		return true
	}
	return used < quota
}

// Table maps tier names to limits.
type Table struct {
	tiers    map[string]Limits
	fallback string
}

// DefaultTable returns the production tier table.
func DefaultTable() Table {
	return NewTable(TierFree,
		Limits{
			Tier:               TierFree,
			MaxProjects:        1,
			ManualRunsPerMonth: 10,
			HistoryDays:        7,
		},
		Limits{
			Tier:               TierStarter,
			MaxProjects:        5,
			ManualRunsPerMonth: Unlimited,
			ScheduledRuns:      true,
			EmailAlerts:        true,
			HistoryDays:        30,
			AIPlansPerMonth:    5,
		},
		Limits{
			Tier:               TierPro,
			MaxProjects:        20,
			ManualRunsPerMonth: Unlimited,
			ScheduledRuns:      true,
			HourlyRuns:         true,
			EmailAlerts:        true,
			HistoryDays:        90,
			AIPlansPerMonth:    30,
		},
		Limits{
			Tier:               TierAgency,
			MaxProjects:        100,
			ManualRunsPerMonth: Unlimited,
			ScheduledRuns:      true,
			HourlyRuns:         true,
			EmailAlerts:        true,
			HistoryDays:        365,
			AIPlansPerMonth:    Unlimited,
		},
	)
}

// NewTable builds a table from limits. Unknown tiers resolve to fallback.
func NewTable(fallback string, limits ...Limits) Table {
	tiers := make(map[string]Limits, len(limits))
	for _, l := range limits {
		tiers[l.Tier] = l
	}
	return Table{tiers: tiers, fallback: fallback}
}

// Lookup returns the limits for tier.
func (t Table) Lookup(tier string) Limits {
	if l, ok := t.tiers[tier]; ok {
		return l
	}
	return t.tiers[t.fallback]
}
