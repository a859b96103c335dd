// Package crux fetches Chrome UX Report history (25 weekly collection
// periods of p75 real-user data) and attaches it to stored audit results.
// Absence of data is the common case and is never reported as an error.
package crux

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	cruxapi "google.golang.org/api/chromeuxreport/v1"
	"google.golang.org/api/option"
)

var historyMetrics = []string{
	"largest_contentful_paint",
	"cumulative_layout_shift",
	"interaction_to_next_paint",
	"first_contentful_paint",
}

// Config configures the history client. Endpoint overrides the API base
// URL.
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	ClientOptions []option.ClientOption
}

// Client queries the CrUX History API.
type Client struct {
	svc     *cruxapi.Service
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Client.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := append([]option.ClientOption{}, cfg.ClientOptions...)
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		opts = append(opts, option.WithoutAuthentication())
	}
	svc, err := cruxapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create crux service: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{svc: svc, timeout: timeout, logger: logger}, nil
}

// Record is the stored history snapshot.
type Record struct {
	CollectionPeriods json.RawMessage `json:"collectionPeriods"`
	Metrics           json.RawMessage `json:"metrics"`
}

// FetchHistory tries a page-level query, then an origin-level one. The
// boolean is false when neither returned data.
func (c *Client) FetchHistory(ctx context.Context, pageURL string) (json.RawMessage, bool) {
	if rec, ok := c.query(ctx, &cruxapi.QueryHistoryRequest{Url: pageURL}); ok {
		return rec, true
	}
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return nil, false
	}
	return c.query(ctx, &cruxapi.QueryHistoryRequest{Origin: u.Scheme + "://" + u.Host})
}

func (c *Client) query(ctx context.Context, req *cruxapi.QueryHistoryRequest) (json.RawMessage, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req.Metrics = historyMetrics
	call := c.svc.Records.QueryHistoryRecord(req).Context(ctx)
	call.Header().Set("Cache-Control", "no-store")

	resp, err := call.Do()
	if err != nil {
		c.logger.Debug("crux history unavailable", zap.Error(err))
		return nil, false
	}
	if resp.Record == nil || len(resp.Record.CollectionPeriods) == 0 {
		return nil, false
	}

	periods, err := json.Marshal(resp.Record.CollectionPeriods)
	if err != nil {
		return nil, false
	}
	metrics, err := json.Marshal(resp.Record.Metrics)
	if err != nil {
		return nil, false
	}
	out, err := json.Marshal(Record{CollectionPeriods: periods, Metrics: metrics})
	if err != nil {
		return nil, false
	}
	return out, true
}
