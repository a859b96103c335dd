// Package queue defines the asynchronous job queue abstraction. Providers
// carry one audit job per due project to the job endpoint (or, for the
// in-process provider, to a local worker pool) with bounded retries.
package queue

import (
	"context"

	"github.com/JakeFAU/vitals-monitor/internal/monitor"
)

// DefaultRetries is the number of redeliveries requested for each job.
const DefaultRetries = 3

// Provider publishes audit jobs.
type Provider interface {
	// Enqueue publishes one job. It returns once the provider has accepted it.
	Enqueue(ctx context.Context, job monitor.Job) error

	// Close releases client connections.
	Close() error
}
