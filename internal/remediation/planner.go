package remediation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/JakeFAU/vitals-monitor/internal/monitor"
)

// DefaultMaxResponseBytes caps how much of an LLM response is read.
const DefaultMaxResponseBytes = 1 << 20

// PlannerConfig configures the AI planner. BaseURL overrides the Anthropic
// API host; MaxRetries is passed to the SDK as is.
type PlannerConfig struct {
	BaseURL          string
	APIKey           string
	Model            string
	MaxTokens        int
	MaxRetries       int
	MaxResponseBytes int64
	Timeout          time.Duration
	HTTPClient       *http.Client
}

// Planner asks an LLM for a remediation plan.
type Planner struct {
	cfg    PlannerConfig
	client anthropic.Client
	clock  monitor.Clock
	logger *zap.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(cfg PlannerConfig, clock monitor.Clock, logger *zap.Logger) *Planner {
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	limited := *httpClient
	limited.Transport = &limitedTransport{base: httpClient.Transport, max: cfg.MaxResponseBytes}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&limited),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{cfg: cfg, client: anthropic.NewClient(opts...), clock: clock, logger: logger}
}

// limitedTransport truncates response bodies at max bytes.
type limitedTransport struct {
	base http.RoundTripper
	max  int64
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, t.max), resp.Body}
	return resp, nil
}

// Plan is the stored AI remediation plan.
type Plan struct {
	Summary     string       `json:"summary"`
	Steps       []PlanStep   `json:"steps"`
	Actions     []ActionItem `json:"actions,omitempty"`
	Model       string       `json:"model"`
	GeneratedAt time.Time    `json:"generatedAt"`
}

// PlanStep is one prioritized recommendation.
type PlanStep struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Impact Impact `json:"impact"`
}

// Generate builds a plan for one audit and returns it as JSON.
func (p *Planner) Generate(ctx context.Context, project monitor.Project, audit monitor.AuditResult) (json.RawMessage, error) {
	actions := ExtractActions(audit.LighthouseRaw)
	prompt := buildPrompt(project, audit, actions)

	text, err := p.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	plan := Plan{Actions: actions, Model: p.cfg.Model, GeneratedAt: p.clock.Now()}
	var parsed struct {
		Summary string     `json:"summary"`
		Steps   []PlanStep `json:"steps"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err == nil && parsed.Summary != "" {
		plan.Summary = parsed.Summary
		plan.Steps = parsed.Steps
	} else {
		p.logger.Debug("plan response was not structured, storing as summary", zap.String("audit_id", audit.ID))
		plan.Summary = strings.TrimSpace(text)
	}

	out, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}
	return out, nil
}

func (p *Planner) complete(ctx context.Context, prompt string) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.Model),
		MaxTokens: int64(p.cfg.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("llm API error (status %d): %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("llm request failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("llm response had no text content")
	}
	return sb.String(), nil
}

func buildPrompt(project monitor.Project, audit monitor.AuditResult, actions []ActionItem) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a web performance engineer. Write a remediation plan for %s (%s strategy).\n\n", project.URL, audit.Strategy)
	fmt.Fprintf(&sb, "Performance score: %d/100\n", audit.PerfScore)
	writeMetric(&sb, "LCP (ms)", audit.Lab.LCP)
	writeMetric(&sb, "CLS", audit.Lab.CLS)
	writeMetric(&sb, "INP (ms)", audit.Lab.INP)
	writeMetric(&sb, "FCP (ms)", audit.Lab.FCP)
	writeMetric(&sb, "TTFB (ms)", audit.Lab.TTFB)
	writeMetric(&sb, "TBT (ms)", audit.Lab.TBT)
	writeMetric(&sb, "Field LCP p75 (ms)", audit.Field.LCP)
	writeMetric(&sb, "Field INP p75 (ms)", audit.Field.INP)

	if len(actions) > 0 {
		sb.WriteString("\nFailing Lighthouse audits:\n")
		for _, a := range actions {
			fmt.Fprintf(&sb, "- [%s] %s", a.Impact, a.Title)
			if a.Savings != "" {
				fmt.Fprintf(&sb, " (%s)", a.Savings)
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nRespond with JSON only: {\"summary\": string, \"steps\": [{\"title\": string, \"detail\": string, \"impact\": \"high\"|\"medium\"|\"low\"}]} with at most 6 steps ordered by impact.")
	return sb.String()
}

func writeMetric(sb *strings.Builder, label string, v *float64) {
	if v == nil {
		return
	}
	fmt.Fprintf(sb, "%s: %s\n", label, strconv.FormatFloat(math.Round(*v*1000)/1000, 'f', -1, 64))
}

// extractJSON trims prose or code fences around the first JSON object.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}
