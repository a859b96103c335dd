// Package pubsub publishes audit jobs to a Google Cloud Pub/Sub topic. A
// push subscription delivers them to the job endpoint; redelivery is bounded
// by the subscription's dead-letter max delivery attempts.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/vitals-monitor/internal/monitor"
	"github.com/JakeFAU/vitals-monitor/internal/queue"
)

// RetriesAttribute carries the requested redelivery budget on each message.
const RetriesAttribute = "retries"

// Publisher wraps a Pub/Sub topic publisher.
type Publisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	retries   int
}

var _ queue.Provider = (*Publisher)(nil)

// New connects to projectID and publishes to topicID.
func New(ctx context.Context, projectID, topicID string) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return NewWithClient(client, topicID), nil
}

// NewWithClient publishes to topicID through an existing client. The
// Publisher takes ownership of client.
func NewWithClient(client *pubsub.Client, topicID string) *Publisher {
	return &Publisher{
		client:    client,
		publisher: client.Publisher(topicID),
		retries:   queue.DefaultRetries,
	}
}

// Enqueue marshals the job to JSON and waits for the server to accept it.
func (p *Publisher) Enqueue(ctx context.Context, job monitor.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	msg := &pubsub.Message{Data: data}
	msg.Attributes = map[string]string{RetriesAttribute: strconv.Itoa(p.retries)}
	otel.GetTextMapPropagator().Inject(ctx, &Carrier{Attrs: msg.Attributes})

	result := p.publisher.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.publisher.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close pubsub client: %w", err)
	}
	return nil
}

// Carrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type Carrier struct {
	Attrs map[string]string
}

// Get returns the attribute for key.
func (c *Carrier) Get(key string) string {
	return c.Attrs[key]
}

// Set stores an attribute.
func (c *Carrier) Set(key, value string) {
	c.Attrs[key] = value
}

// Keys lists the attribute names.
func (c *Carrier) Keys() []string {
	keys := make([]string, 0, len(c.Attrs))
	for k := range c.Attrs {
		keys = append(keys, k)
	}
	return keys
}
