// Package paymentrelay applies payment confirmations published by the payment gateway bridge
// (a Pub/Sub topic delivered as CloudEvents) to stored orders.
package paymentrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/shopspring/decimal"

	"github.com/printdesk/api/internal/services"
)

const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
)

// ErrMalformed marks a message that can never be applied. The relay acknowledges it.
var ErrMalformed = errors.New("paymentrelay: malformed message")

// messagePublishedData is the CloudEvent payload of google.cloud.pubsub.topic.v1.messagePublished.
type messagePublishedData struct {
	Message struct {
		ID         string            `json:"messageId"`
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// Confirmation is the body of a relayed payment message.
type Confirmation struct {
	OrderID        string `json:"orderId"`
	GatewayOrderID string `json:"gatewayOrderId"`
	TransactionID  string `json:"transactionId"`
	Amount         string `json:"amount"`
	// Status is "succeeded" (default) or "failed".
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Relay turns confirmations into order payment updates.
type Relay struct {
	orders services.OrderSync
	logger func(ctx context.Context, event string, fields map[string]any)
}

// New constructs a Relay. logger may be nil.
func New(orders services.OrderSync, logger func(ctx context.Context, event string, fields map[string]any)) (*Relay, error) {
	if orders == nil {
		return nil, errors.New("paymentrelay: order sync is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Relay{orders: orders, logger: logger}, nil
}

// HandleEvent processes one delivery. A nil return acknowledges the message; transient store
// failures are returned so Pub/Sub redelivers.
func (r *Relay) HandleEvent(ctx context.Context, e cloudevents.Event) error {
	confirmation, err := decodeEvent(e)
	if err != nil {
		r.logger(ctx, "payment.relay.malformed", map[string]any{"eventId": e.ID(), "error": err.Error()})
		return nil
	}
	err = r.Apply(ctx, confirmation)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrMalformed),
		errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrOrderAlreadyPaid),
		errors.Is(err, services.ErrPaymentInvalidInput):
		r.logger(ctx, "payment.relay.dropped", map[string]any{
			"eventId": e.ID(),
			"orderId": confirmation.OrderID,
			"error":   err.Error(),
		})
		return nil
	default:
		return err
	}
}

// Apply records the confirmation on its order.
func (r *Relay) Apply(ctx context.Context, c Confirmation) error {
	orderID := strings.TrimSpace(c.OrderID)
	if orderID == "" {
		return fmt.Errorf("%w: orderId is required", ErrMalformed)
	}

	switch strings.ToLower(strings.TrimSpace(c.Status)) {
	case "", statusSucceeded:
		if strings.TrimSpace(c.TransactionID) == "" {
			return fmt.Errorf("%w: transactionId is required", ErrMalformed)
		}
		amount := decimal.Zero
		if raw := strings.TrimSpace(c.Amount); raw != "" {
			parsed, err := decimal.NewFromString(raw)
			if err != nil {
				return fmt.Errorf("%w: amount %q", ErrMalformed, raw)
			}
			amount = parsed
		}
		order, err := r.orders.UpdatePayment(ctx, orderID, services.PaymentTransaction{
			GatewayOrderID: strings.TrimSpace(c.GatewayOrderID),
			TransactionID:  strings.TrimSpace(c.TransactionID),
			Amount:         amount,
		})
		if err != nil {
			return err
		}
		r.logger(ctx, "payment.relay.applied", map[string]any{"orderId": order.ID, "transactionId": c.TransactionID})
		return nil
	case statusFailed:
		_, err := r.orders.MarkPaymentFailed(ctx, orderID, strings.TrimSpace(c.Reason))
		return err
	default:
		return fmt.Errorf("%w: unknown status %q", ErrMalformed, c.Status)
	}
}

// decodeEvent accepts both Pub/Sub wrapped events and events carrying the confirmation directly.
func decodeEvent(e cloudevents.Event) (Confirmation, error) {
	payload := e.Data()
	if len(payload) == 0 {
		return Confirmation{}, errors.New("empty event data")
	}

	var envelope messagePublishedData
	if err := json.Unmarshal(payload, &envelope); err == nil && len(envelope.Message.Data) > 0 {
		payload = envelope.Message.Data
	}

	var c Confirmation
	if err := json.Unmarshal(payload, &c); err != nil {
		return Confirmation{}, fmt.Errorf("decode confirmation: %w", err)
	}
	if c.OrderID == "" && envelope.Message.Attributes != nil {
		c.OrderID = envelope.Message.Attributes["orderId"]
	}
	return c, nil
}
