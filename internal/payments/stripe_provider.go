package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const (
	stripeEventIntentSucceeded = "payment_intent.succeeded"
	stripeEventIntentFailed    = "payment_intent.payment_failed"
	stripeEventIntentCanceled  = "payment_intent.canceled"

	orderRefMetadataKey = "orderRef"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Intents       stripePaymentIntentAPI
}

// StripeProvider collects payments with Stripe PaymentIntents.
type StripeProvider struct {
	intents       stripePaymentIntentAPI
	webhookSecret string
	account       string
	clock         func() time.Time
	logger        StripeLogger
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	intents := cfg.Intents
	if intents == nil {
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		intents:       intents,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		account:       strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateCharge creates a PaymentIntent tagged with the order reference.
func (p *StripeProvider) CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error) {
	if p == nil {
		return Charge{}, errors.New("stripe: provider is nil")
	}
	minor, err := ToMinorUnits(req.Amount, req.Currency)
	if err != nil {
		return Charge{}, err
	}
	if minor <= 0 {
		return Charge{}, fmt.Errorf("%w: amount rounds to zero", ErrInvalidAmount)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minor),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if desc := strings.TrimSpace(req.Description); desc != "" {
		params.Description = stripe.String(desc)
	}
	if email := strings.TrimSpace(req.Contact.Email); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}
	params.AddMetadata(orderRefMetadataKey, req.OrderRef)
	if phone := strings.TrimSpace(req.Contact.Phone); phone != "" {
		params.AddMetadata("phone", phone)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := p.intents.New(params)
	if err != nil {
		return Charge{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"orderRef":      req.OrderRef,
		"amount":        minor,
	})

	createdAt := p.clock()
	if intent.Created != 0 {
		createdAt = time.Unix(intent.Created, 0).UTC()
	}
	return Charge{
		Provider:     "stripe",
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountMinor:  minor,
		Currency:     strings.ToUpper(req.Currency),
		Status:       intentStatus(intent),
		CreatedAt:    createdAt,
	}, nil
}

// LookupCharge retrieves a PaymentIntent.
func (p *StripeProvider) LookupCharge(ctx context.Context, intentID string) (ChargeResult, error) {
	if p == nil {
		return ChargeResult{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.intents.Get(strings.TrimSpace(intentID), params)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	return p.intentResult(intent)
}

// ParseWebhook verifies the Stripe-Signature header and extracts PaymentIntent outcomes.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (ChargeResult, bool, error) {
	if p == nil {
		return ChargeResult{}, false, errors.New("stripe: provider is nil")
	}
	if p.webhookSecret == "" {
		return ChargeResult{}, false, errors.New("stripe: webhook secret is not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return ChargeResult{}, false, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch string(event.Type) {
	case stripeEventIntentSucceeded, stripeEventIntentFailed, stripeEventIntentCanceled:
	default:
		return ChargeResult{}, false, nil
	}
	if event.Data == nil {
		return ChargeResult{}, false, errors.New("stripe: event has no data")
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return ChargeResult{}, false, fmt.Errorf("stripe: decode payment intent: %w", err)
	}
	result, err := p.intentResult(&intent)
	if err != nil {
		return ChargeResult{}, false, err
	}
	if string(event.Type) == stripeEventIntentFailed && result.Status == StatusPending {
		result.Status = StatusFailed
	}
	if event.Created != 0 {
		result.OccurredAt = time.Unix(event.Created, 0).UTC()
	}
	return result, result.Status != StatusPending, nil
}

func (p *StripeProvider) intentResult(intent *stripe.PaymentIntent) (ChargeResult, error) {
	if intent == nil {
		return ChargeResult{}, errors.New("stripe: payment intent is nil")
	}
	code := strings.ToUpper(string(intent.Currency))
	amount, err := FromMinorUnits(intent.Amount, code)
	if err != nil {
		return ChargeResult{}, err
	}
	result := ChargeResult{
		Provider:      "stripe",
		OrderRef:      intent.Metadata[orderRefMetadataKey],
		IntentID:      intent.ID,
		TransactionID: intent.ID,
		Amount:        amount,
		Currency:      code,
		Status:        intentStatus(intent),
		OccurredAt:    p.clock(),
	}
	if intent.LatestCharge != nil && intent.LatestCharge.ID != "" {
		result.TransactionID = intent.LatestCharge.ID
	}
	if perr := intent.LastPaymentError; perr != nil {
		result.FailureCode = string(perr.Code)
		result.FailureMessage = perr.Msg
	}
	if result.Status == StatusFailed && result.FailureMessage == "" {
		result.FailureMessage = string(intent.CancellationReason)
	}
	return result, nil
}

func intentStatus(intent *stripe.PaymentIntent) Status {
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if intent.LastPaymentError != nil {
			return StatusFailed
		}
	}
	return StatusPending
}
