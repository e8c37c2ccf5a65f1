package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/printdesk/api/internal/services"
)

const (
	defaultEventSource = "//printdesk/api/orders"
	eventTypePrefix    = "com.printdesk."
	// structuredContentType marks messages whose payload is a full CloudEvents JSON document.
	structuredContentType = "application/cloudevents+json"
)

// OrderEventPayload is the data carried inside every order CloudEvent.
type OrderEventPayload struct {
	OrderID       string         `json:"orderId"`
	CustomerID    string         `json:"customerId,omitempty"`
	PaymentStatus string         `json:"paymentStatus,omitempty"`
	Amount        string         `json:"amount,omitempty"`
	TransactionID string         `json:"transactionId,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// PubSubOrderEventPublisher publishes order events to a Pub/Sub topic as structured CloudEvents.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	source  string
	newID   func() string
	marshal func(any) ([]byte, error)
}

var _ services.OrderEventPublisher = (*PubSubOrderEventPublisher)(nil)

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher. An empty source
// defaults to the API's event source URI.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic, source string) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	source = strings.TrimSpace(source)
	if source == "" {
		source = defaultEventSource
	}
	return &PubSubOrderEventPublisher{
		topic:   topic,
		source:  source,
		newID:   uuid.NewString,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderEvent wraps the event in a CloudEvents envelope and waits for the publish to settle.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order event publisher: not initialised")
	}
	envelope, err := p.envelope(event)
	if err != nil {
		return err
	}
	data, err := p.marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := map[string]string{"content-type": structuredContentType}
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "customerId", event.CustomerID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: orderingKey(p.topic, event.OrderID),
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event %s: %w", event.Type, err)
	}
	return nil
}

func (p *PubSubOrderEventPublisher) envelope(event services.OrderEvent) (cloudevents.Event, error) {
	eventType := strings.TrimSpace(event.Type)
	if eventType == "" {
		return cloudevents.Event{}, errors.New("order event: type is required")
	}
	if strings.TrimSpace(event.OrderID) == "" {
		return cloudevents.Event{}, errors.New("order event: order id is required")
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	ce := cloudevents.NewEvent()
	ce.SetID(p.newID())
	ce.SetSource(p.source)
	ce.SetType(eventTypePrefix + eventType)
	ce.SetSubject("orders/" + event.OrderID)
	ce.SetTime(occurredAt.UTC())

	payload := OrderEventPayload{
		OrderID:       event.OrderID,
		CustomerID:    event.CustomerID,
		PaymentStatus: event.PaymentStatus,
		TransactionID: event.TransactionID,
		Reason:        event.Reason,
		Metadata:      event.Metadata,
	}
	if !event.Amount.IsZero() {
		payload.Amount = event.Amount.StringFixed(2)
	}
	if err := ce.SetData(cloudevents.ApplicationJSON, payload); err != nil {
		return cloudevents.Event{}, fmt.Errorf("encode order event data: %w", err)
	}
	if err := ce.Validate(); err != nil {
		return cloudevents.Event{}, fmt.Errorf("order event envelope: %w", err)
	}
	return ce, nil
}

// orderingKey keeps events for one order in sequence when the topic has ordering enabled.
func orderingKey(topic *pubsub.Topic, orderID string) string {
	if !topic.EnableMessageOrdering {
		return ""
	}
	return orderID
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
