// Package pubsub publishes enrichment events to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/company-enricher/internal/company"
)

// Config names the destination topic.
type Config struct {
	ProjectID string
	TopicID   string
}

// publishResult is the part of *pubsub.PublishResult the publisher reads.
type publishResult interface {
	Get(ctx context.Context) (string, error)
}

// Publisher sends one message per event.
type Publisher struct {
	publish func(ctx context.Context, msg *pubsub.Message) publishResult
	stop    func()
}

// New connects to Pub/Sub and binds the configured topic.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, errors.New("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.TopicID)
	return &Publisher{
		publish: func(ctx context.Context, msg *pubsub.Message) publishResult {
			return topic.Publish(ctx, msg)
		},
		stop: func() {
			topic.Stop()
			_ = client.Close()
		},
	}, nil
}

// Publish marshals event to JSON and waits for the server-assigned message id.
// The outcome and company id are copied into attributes for subscription filters.
func (p *Publisher) Publish(ctx context.Context, event company.EnrichmentEvent) (string, error) {
	if p.publish == nil {
		return "", errors.New("pubsub publisher is not configured")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"outcome":    string(event.Outcome),
			"company_id": strconv.FormatInt(event.CompanyID, 10),
		},
	}
	id, err := p.publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() {
	if p.stop != nil {
		p.stop()
	}
}
