package monitor

import (
	"errors"
	"fmt"
)

// Lookup and state errors returned by stores and the runner.
var (
	// ErrProjectNotFound indicates the project does not exist or is not
	// visible to the caller.
	ErrProjectNotFound = errors.New("project not found")

	// ErrAuditNotFound indicates the audit result does not exist.
	ErrAuditNotFound = errors.New("audit result not found")

	// ErrUserNotFound indicates the owner record does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrAuditInProgress is returned when another audit cycle holds the
	// project's lease.
	ErrAuditInProgress = errors.New("audit already in progress for project")

	// ErrInvalidURL is wrapped by URL validation failures.
	ErrInvalidURL = errors.New("invalid url")

	// ErrQuotaExceeded is matched by every *QuotaError.
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// AuditError is a permanent audit failure: the external API rejected the
// request or returned an unusable body. Retrying immediately will not help.
type AuditError struct {
	Status  int
	Message string
}

func (e *AuditError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("audit failed (status %d): %s", e.Status, e.Message)
	}
	return "audit failed: " + e.Message
}

// IsAuditError reports whether err carries a permanent audit failure.
func IsAuditError(err error) bool {
	var ae *AuditError
	return errors.As(err, &ae)
}

// QuotaKind names the limit a QuotaError refers to.
type QuotaKind string

// Quota kinds.
const (
	QuotaManualRuns QuotaKind = "manual_runs"
	QuotaProjects   QuotaKind = "projects"
	QuotaAIPlans    QuotaKind = "ai_plans"
)

// QuotaError is returned when a plan limit is exhausted.
type QuotaError struct {
	Kind  QuotaKind
	Limit int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded: %s limit %d", e.Kind, e.Limit)
}

// Unwrap lets errors.Is match ErrQuotaExceeded.
func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// PlanGatedError is returned when the owner's plan does not include a feature.
type PlanGatedError struct {
	Feature string
}

func (e *PlanGatedError) Error() string {
	return "feature not available on current plan: " + e.Feature
}
