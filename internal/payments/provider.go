package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Status enumerates the normalised charge states shared across providers.
type Status string

const (
	// StatusPending indicates the charge is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the charge as captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP declined the charge.
	StatusFailed Status = "failed"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidAmount is returned for non-positive charges or unknown currencies.
	ErrInvalidAmount = errors.New("payments: invalid amount")
	// ErrInvalidSignature is returned when a webhook payload fails verification.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
)

// Contact identifies the payer for receipts.
type Contact struct {
	Name  string
	Email string
	Phone string
}

// ChargeRequest asks a provider to collect Amount for the order identified by OrderRef.
type ChargeRequest struct {
	OrderRef       string
	Amount         decimal.Decimal
	Currency       string
	Contact        Contact
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

// Charge is the pending charge returned to the client to complete payment.
type Charge struct {
	Provider     string
	IntentID     string
	ClientSecret string
	AmountMinor  int64
	Currency     string
	Status       Status
	CreatedAt    time.Time
}

// ChargeResult is delivered asynchronously once the provider settles a charge.
type ChargeResult struct {
	Provider       string
	OrderRef       string
	IntentID       string
	TransactionID  string
	Amount         decimal.Decimal
	Currency       string
	Status         Status
	FailureCode    string
	FailureMessage string
	OccurredAt     time.Time
}

// Succeeded reports whether the charge was captured.
func (r ChargeResult) Succeeded() bool { return r.Status == StatusSucceeded }

// ResultHandler consumes settled charge results.
type ResultHandler func(ctx context.Context, result ChargeResult) error

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error)
	LookupCharge(ctx context.Context, intentID string) (ChargeResult, error)
	// ParseWebhook verifies and decodes a webhook. ok is false for events that carry no result.
	ParseWebhook(payload []byte, signature string) (result ChargeResult, ok bool, err error)
}

// Manager coordinates provider selection and fans charge results out to handlers.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string

	mu       sync.RWMutex
	handlers []ResultHandler
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		registered[key] = v
	}
	m := &Manager{providers: registered}
	if _, ok := registered["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// OnResult registers a handler for settled charges. Handlers run in registration order.
func (m *Manager) OnResult(handler ResultHandler) {
	if m == nil || handler == nil {
		return
	}
	m.mu.Lock()
	m.handlers = append(m.handlers, handler)
	m.mu.Unlock()
}

// Charge starts a charge with the provider routed for the request currency.
func (m *Manager) Charge(ctx context.Context, req ChargeRequest) (Charge, error) {
	if !req.Amount.IsPositive() {
		return Charge{}, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if strings.TrimSpace(req.OrderRef) == "" {
		return Charge{}, errors.New("payments: order reference is required")
	}
	key, provider, err := m.resolveProvider(req.Currency)
	if err != nil {
		return Charge{}, err
	}
	charge, err := provider.CreateCharge(ctx, req)
	if err != nil {
		return Charge{}, err
	}
	charge.Provider = key
	return charge, nil
}

// HandleWebhook verifies a provider webhook and dispatches its result. Events without a result
// are acknowledged silently.
func (m *Manager) HandleWebhook(ctx context.Context, providerKey string, payload []byte, signature string) error {
	key, provider, err := m.providerByKey(providerKey)
	if err != nil {
		return err
	}
	result, ok, err := provider.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	result.Provider = key
	return m.Dispatch(ctx, result)
}

// Reconcile looks a charge up at the provider and dispatches a settled result.
func (m *Manager) Reconcile(ctx context.Context, providerKey, intentID string) (ChargeResult, error) {
	key, provider, err := m.providerByKey(providerKey)
	if err != nil {
		return ChargeResult{}, err
	}
	result, err := provider.LookupCharge(ctx, intentID)
	if err != nil {
		return ChargeResult{}, err
	}
	result.Provider = key
	if result.Status == StatusPending {
		return result, nil
	}
	return result, m.Dispatch(ctx, result)
}

// Dispatch delivers result to every registered handler and joins their errors.
func (m *Manager) Dispatch(ctx context.Context, result ChargeResult) error {
	m.mu.RLock()
	handlers := append([]ResultHandler(nil), m.handlers...)
	m.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) providerByKey(providerKey string) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	key := strings.TrimSpace(strings.ToLower(providerKey))
	if key == "" {
		key = m.defaultProvider
	}
	provider, ok := m.providers[key]
	if !ok {
		return "", nil, ErrUnsupportedProvider
	}
	return key, provider, nil
}

func (m *Manager) resolveProvider(currencyCode string) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	code := strings.ToUpper(strings.TrimSpace(currencyCode))
	if code != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[code]; ok {
			key := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[key]; ok {
				return key, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// ToMinorUnits converts amount into the smallest unit of the currency (paise, cents).
func ToMinorUnits(amount decimal.Decimal, currencyCode string) (int64, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(currencyCode))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return amount.Shift(int32(scale)).Round(0).IntPart(), nil
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(minor int64, currencyCode string) (decimal.Decimal, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(currencyCode))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return decimal.New(minor, -int32(scale)), nil
}
