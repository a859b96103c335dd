package crux

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/JakeFAU/vitals-monitor/internal/metrics"
	"github.com/JakeFAU/vitals-monitor/internal/monitor"
)

// HistoryPatcher sets the history field of one audit result.
type HistoryPatcher interface {
	SetFieldHistory(ctx context.Context, id string, history json.RawMessage) error
}

// Enricher attaches history records to stored audit results.
type Enricher struct {
	fetcher monitor.HistoryFetcher
	store   HistoryPatcher
	logger  *zap.Logger
}

// NewEnricher creates an Enricher.
func NewEnricher(fetcher monitor.HistoryFetcher, store HistoryPatcher, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{fetcher: fetcher, store: store, logger: logger}
}

// Enrich fetches history for pageURL and patches auditID on success. It
// never returns an error; failures are logged.
func (e *Enricher) Enrich(ctx context.Context, auditID, pageURL string) {
	history, ok := e.fetcher.FetchHistory(ctx, pageURL)
	if !ok {
		metrics.ObserveEnrichment("history", "absent")
		return
	}
	if err := e.store.SetFieldHistory(ctx, auditID, history); err != nil {
		metrics.ObserveEnrichment("history", "error")
		e.logger.Warn("store crux history failed", zap.String("audit_id", auditID), zap.Error(err))
		return
	}
	metrics.ObserveEnrichment("history", "success")
}
