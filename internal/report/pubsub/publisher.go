// Package pubsub publishes stage summaries to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

// Publisher implements tracker.Reporter on a Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	owned  bool
}

// New creates a Publisher with its own client. Close releases it.
func New(ctx context.Context, projectID, topicID string) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	p := NewWithClient(client, topicID)
	p.owned = true
	return p, nil
}

// NewWithClient creates a Publisher on an existing client.
func NewWithClient(client *pubsub.Client, topicID string) *Publisher {
	return &Publisher{client: client, topic: client.Topic(topicID)}
}

// Publish marshals the summary to JSON and waits for the server ack.
func (p *Publisher) Publish(ctx context.Context, s tracker.Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"stage":  s.Stage,
			"failed": fmt.Sprint(s.Failed()),
		},
	}
	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish summary: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes an owned client.
func (p *Publisher) Close() error {
	p.topic.Stop()
	if p.owned {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}
