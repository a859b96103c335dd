// Package qstash publishes audit jobs through the Upstash QStash HTTP API.
// QStash calls the job endpoint with the message body and an
// Upstash-Signature header, redelivering on non-2xx responses.
package qstash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/vitals-monitor/internal/monitor"
	"github.com/JakeFAU/vitals-monitor/internal/queue"
)

// DefaultBaseURL is the QStash API root.
const DefaultBaseURL = "https://qstash.upstash.io"

// Config configures the publisher.
type Config struct {
	BaseURL     string
	Token       string
	Destination string
	Retries     int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Publisher implements queue.Provider for QStash.
type Publisher struct {
	cfg        Config
	httpClient *http.Client
}

var _ queue.Provider = (*Publisher)(nil)

// New validates cfg and creates a Publisher.
func New(cfg Config) (*Publisher, error) {
	if cfg.Token == "" {
		return nil, errors.New("qstash token is required")
	}
	if cfg.Destination == "" {
		return nil, errors.New("qstash destination url is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Retries <= 0 {
		cfg.Retries = queue.DefaultRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Publisher{cfg: cfg, httpClient: httpClient}, nil
}

type publishResponse struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

// Enqueue publishes job to the destination URL.
func (p *Publisher) Enqueue(ctx context.Context, job monitor.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v2/publish/" + p.cfg.Destination
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Upstash-Retries", strconv.Itoa(p.cfg.Retries))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qstash publish failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read qstash response: %w", err)
	}
	var out publishResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return fmt.Errorf("qstash publish rejected (status %d): %s", resp.StatusCode, msg)
	}
	return nil
}

// Close is a no-op; the publisher holds no connections.
func (p *Publisher) Close() error { return nil }
