// Package events publishes payment events for embedding applications to audit.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
)

// TopicPayments is the topic payment events are published on.
const TopicPayments = "sentinel.payments"

// PaymentEvent describes one settled payment.
type PaymentEvent struct {
	Reference     string    `json:"reference"`
	TransactionID string    `json:"transaction_id"`
	Payer         string    `json:"payer"`
	Recipient     string    `json:"recipient"`
	Resource      string    `json:"resource,omitempty"`
	Amount        uint64    `json:"amount"`
	Confirmed     bool      `json:"confirmed"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher receives payment events.
type Publisher interface {
	PublishPayment(ctx context.Context, event PaymentEvent) error
}

// NoopPublisher discards events.
type NoopPublisher struct{}

func (NoopPublisher) PublishPayment(context.Context, PaymentEvent) error { return nil }

// WatermillPublisher implements Publisher on top of any Watermill publisher.
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher creates a new Watermill-backed publisher
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		topic:     TopicPayments,
	}
}

// NewRedisStreamPublisher publishes payment events to a Redis stream.
func NewRedisStreamPublisher(client redis.UniversalClient) (*WatermillPublisher, error) {
	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		watermill.NopLogger{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis stream publisher: %w", err)
	}

	return NewWatermillPublisher(publisher), nil
}

// PublishPayment publishes a payment event keyed by its payment reference.
func (p *WatermillPublisher) PublishPayment(ctx context.Context, event PaymentEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("reference", event.Reference)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Close closes the underlying Watermill publisher.
func (p *WatermillPublisher) Close() error {
	return p.publisher.Close()
}
