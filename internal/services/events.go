package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	orderEventCreated       = "order.created"
	orderEventPaid          = "order.paid"
	orderEventPaymentFailed = "order.payment_failed"
)

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type          string
	OrderID       string
	CustomerID    string
	PaymentStatus string
	Amount        decimal.Decimal
	TransactionID string
	Reason        string
	OccurredAt    time.Time
	Metadata      map[string]any
}

func publishOrderEvent(ctx context.Context, publisher OrderEventPublisher, logger func(context.Context, string, map[string]any), event OrderEvent) {
	if publisher == nil {
		return
	}
	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event.publish_failed", map[string]any{
			"eventType": event.Type,
			"orderId":   event.OrderID,
			"error":     err.Error(),
		})
	}
}

func orderEventFrom(eventType string, order Order, at time.Time) OrderEvent {
	return OrderEvent{
		Type:          eventType,
		OrderID:       order.ID,
		CustomerID:    order.CustomerID,
		PaymentStatus: string(order.PaymentStatus),
		Amount:        order.PaymentAmount,
		TransactionID: order.GatewayPaymentID,
		Reason:        order.PaymentFailureReason,
		OccurredAt:    at,
	}
}
