// Package pagespeed implements the audit client for the PageSpeed Insights
// v5 API. One call returns Lighthouse lab data and Chrome UX field data.
package pagespeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	psi "google.golang.org/api/pagespeedonline/v5"

	"github.com/JakeFAU/vitals-monitor/internal/metrics"
	"github.com/JakeFAU/vitals-monitor/internal/monitor"
)

var categories = []string{"PERFORMANCE", "SEO", "ACCESSIBILITY", "BEST_PRACTICES"}

// Config configures the audit client. Endpoint overrides the API base URL;
// an empty APIKey sends unauthenticated requests.
type Config struct {
	Endpoint          string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	ClientOptions     []option.ClientOption
}

// Client calls PageSpeed Insights.
type Client struct {
	svc     *psi.Service
	timeout time.Duration
	limiter *rate.Limiter
}

// New creates a Client. A non-positive RequestsPerSecond disables throttling.
func New(ctx context.Context, cfg Config) (*Client, error) {
	opts := append([]option.ClientOption{}, cfg.ClientOptions...)
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		opts = append(opts, option.WithoutAuthentication())
	}
	svc, err := psi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pagespeed service: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		svc:     svc,
		timeout: timeout,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// Run audits pageURL with the given strategy. API errors and unusable
// bodies return *monitor.AuditError; transport failures are returned
// wrapped and are safe to retry.
func (c *Client) Run(ctx context.Context, pageURL string, strategy monitor.Strategy) (monitor.AuditData, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return monitor.AuditData{}, fmt.Errorf("audit rate limit wait: %w", err)
	}

	start := time.Now()
	data, err := c.run(ctx, pageURL, strategy)
	outcome := "success"
	switch {
	case monitor.IsAuditError(err):
		outcome = "rejected"
	case err != nil:
		outcome = "error"
	}
	metrics.ObserveAuditAPI(outcome, time.Since(start))
	return data, err
}

func (c *Client) run(ctx context.Context, pageURL string, strategy monitor.Strategy) (monitor.AuditData, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	call := c.svc.Pagespeedapi.Runpagespeed(pageURL).
		Strategy(strings.ToUpper(string(strategy))).
		Category(categories...).
		Context(ctx)
	call.Header().Set("Cache-Control", "no-store")

	resp, err := call.Do()
	if err != nil {
		return monitor.AuditData{}, classify(err)
	}
	data, err := normalize(resp)
	if err != nil {
		return monitor.AuditData{}, &monitor.AuditError{Status: resp.HTTPStatusCode, Message: err.Error()}
	}
	return data, nil
}

// classify maps API rejections and undecodable bodies to *monitor.AuditError.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = fmt.Sprintf("PSI API error %d", apiErr.Code)
		}
		return &monitor.AuditError{Status: apiErr.Code, Message: msg}
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &monitor.AuditError{Status: 200, Message: "malformed audit response: " + err.Error()}
	}
	return fmt.Errorf("audit request: %w", err)
}

func normalize(resp *psi.PagespeedApiPagespeedResponseV5) (monitor.AuditData, error) {
	lhr := resp.LighthouseResult
	if lhr == nil {
		return monitor.AuditData{}, errors.New("audit response has no lighthouseResult")
	}
	if lhr.Categories == nil || lhr.Categories.Performance == nil {
		return monitor.AuditData{}, errors.New("audit response has no performance category")
	}
	raw, err := json.Marshal(lhr)
	if err != nil {
		return monitor.AuditData{}, fmt.Errorf("encode lighthouseResult: %w", err)
	}

	data := monitor.AuditData{
		PerfScore: scoreOf(lhr.Categories.Performance),
		Lab: monitor.LabMetrics{
			LCP:        numeric(lhr, "largest-contentful-paint"),
			CLS:        numeric(lhr, "cumulative-layout-shift"),
			INP:        numeric(lhr, "interaction-to-next-paint"),
			FCP:        numeric(lhr, "first-contentful-paint"),
			TTFB:       numeric(lhr, "server-response-time"),
			TBT:        numeric(lhr, "total-blocking-time"),
			SpeedIndex: numeric(lhr, "speed-index"),
		},
		Categories: monitor.CategoryScores{
			SEO:           categoryScore(lhr.Categories.Seo),
			Accessibility: categoryScore(lhr.Categories.Accessibility),
			BestPractices: categoryScore(lhr.Categories.BestPractices),
		},
		LighthouseRaw: raw,
		PSIVersion:    lhr.LighthouseVersion,
	}

	if le := resp.LoadingExperience; le != nil {
		data.Field = monitor.FieldMetrics{
			LCP: percentile(le.Metrics, "LARGEST_CONTENTFUL_PAINT_MS", 1),
			CLS: percentile(le.Metrics, "CUMULATIVE_LAYOUT_SHIFT_SCORE", 100),
			INP: percentile(le.Metrics, "INTERACTION_TO_NEXT_PAINT", 1),
			FCP: percentile(le.Metrics, "FIRST_CONTENTFUL_PAINT_MS", 1),
		}
	}
	return data, nil
}

func numeric(lhr *psi.LighthouseResultV5, auditID string) *float64 {
	a, ok := lhr.Audits[auditID]
	if !ok {
		return nil
	}
	v := a.NumericValue
	return &v
}

func categoryScore(c *psi.LighthouseCategoryV5) *int {
	if c == nil {
		return nil
	}
	if _, ok := c.Score.(float64); !ok {
		return nil
	}
	s := scoreOf(c)
	return &s
}

func scoreOf(c *psi.LighthouseCategoryV5) int {
	score, ok := c.Score.(float64)
	if !ok {
		return 0
	}
	return int(math.Round(score * 100))
}

// percentile returns the p75 of a real-user metric. The CLS percentile is
// reported multiplied by 100.
func percentile(m map[string]psi.UserPageLoadMetricV5, key string, scale float64) *float64 {
	metric, ok := m[key]
	if !ok {
		return nil
	}
	v := float64(metric.Percentile) / scale
	return &v
}
