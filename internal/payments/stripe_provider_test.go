package payments

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

type stubIntents struct {
	newFn func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	getFn func(string, *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

func (s stubIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return s.newFn(params)
}

func (s stubIntents) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return s.getFn(id, params)
}

const testWebhookSecret = "whsec_test_secret"

func TestStripeProviderCreateCharge(t *testing.T) {
	var captured *stripe.PaymentIntentParams
	provider, err := NewStripeProvider(StripeProviderConfig{
		WebhookSecret: testWebhookSecret,
		Intents: stubIntents{newFn: func(p *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			captured = p
			return &stripe.PaymentIntent{ID: "pi_123", ClientSecret: "pi_123_secret", Status: stripe.PaymentIntentStatusRequiresPaymentMethod}, nil
		}},
	})
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}

	charge, err := provider.CreateCharge(context.Background(), ChargeRequest{
		OrderRef: "ord_01",
		Amount:   decimal.RequireFromString("40"),
		Currency: "INR",
		Contact:  Contact{Email: "a@example.com", Phone: "+9100000"},
	})
	if err != nil {
		t.Fatalf("CreateCharge: %v", err)
	}
	if charge.IntentID != "pi_123" || charge.ClientSecret != "pi_123_secret" || charge.Status != StatusPending {
		t.Fatalf("unexpected charge %+v", charge)
	}
	if captured == nil || *captured.Amount != 4000 || *captured.Currency != "inr" {
		t.Fatalf("unexpected params %+v", captured)
	}
	if captured.Metadata[orderRefMetadataKey] != "ord_01" || *captured.ReceiptEmail != "a@example.com" {
		t.Fatalf("expected order ref and receipt email on params, got %+v", captured.Metadata)
	}
}

func TestStripeProviderParseWebhook(t *testing.T) {
	provider, err := NewStripeProvider(StripeProviderConfig{WebhookSecret: testWebhookSecret, Intents: stubIntents{}})
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"created": %d,
		"data": {"object": {
			"id": "pi_123",
			"object": "payment_intent",
			"amount": 4000,
			"currency": "inr",
			"status": "succeeded",
			"latest_charge": "ch_999",
			"metadata": {"orderRef": "ord_01"}
		}}
	}`, time.Now().Unix()))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})

	result, ok, err := provider.ParseWebhook(payload, signed.Header)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if !ok || !result.Succeeded() {
		t.Fatalf("expected settled success, got %+v", result)
	}
	if result.OrderRef != "ord_01" || result.TransactionID != "ch_999" || !result.Amount.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("unexpected result %+v", result)
	}

	if _, _, err := provider.ParseWebhook(payload, "t=1,v1=bad"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestStripeProviderParseWebhookIgnoresOtherEvents(t *testing.T) {
	provider, err := NewStripeProvider(StripeProviderConfig{WebhookSecret: testWebhookSecret, Intents: stubIntents{}})
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}
	payload := []byte(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: testWebhookSecret, Timestamp: time.Now()})

	_, ok, err := provider.ParseWebhook(payload, signed.Header)
	if err != nil || ok {
		t.Fatalf("expected event to be ignored, got ok=%v err=%v", ok, err)
	}
}

func TestStripeProviderLookupChargeFailure(t *testing.T) {
	provider, err := NewStripeProvider(StripeProviderConfig{Intents: stubIntents{getFn: func(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		return &stripe.PaymentIntent{
			ID:               id,
			Amount:           1500,
			Currency:         "inr",
			Status:           stripe.PaymentIntentStatusRequiresPaymentMethod,
			LastPaymentError: &stripe.Error{Code: stripe.ErrorCodeCardDeclined, Msg: "Your card was declined."},
			Metadata:         map[string]string{orderRefMetadataKey: "ord_02"},
		}, nil
	}}})
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}
	result, err := provider.LookupCharge(context.Background(), "pi_9")
	if err != nil {
		t.Fatalf("LookupCharge: %v", err)
	}
	if result.Status != StatusFailed || result.FailureCode != "card_declined" || result.OrderRef != "ord_02" {
		t.Fatalf("unexpected result %+v", result)
	}
}
