package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/printdesk/api/internal/payments"
	"github.com/printdesk/api/internal/repositories"
)

type paymentGateway interface {
	Charge(ctx context.Context, req payments.ChargeRequest) (payments.Charge, error)
}

// PaymentServiceDeps bundles collaborators for the payment service.
type PaymentServiceDeps struct {
	Orders   repositories.OrderRepository
	Sync     OrderSync
	Gateway  paymentGateway
	Currency string
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders   repositories.OrderRepository
	sync     OrderSync
	gateway  paymentGateway
	currency string
	logger   func(context.Context, string, map[string]any)
}

var _ PaymentService = (*paymentService)(nil)

// NewPaymentService constructs the payment service. Register HandleChargeResult with the payments
// manager to receive gateway outcomes.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Sync == nil {
		return nil, errors.New("payment service: order sync is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}
	code := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if code == "" {
		code = "INR"
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentService{
		orders:   deps.Orders,
		sync:     deps.Sync,
		gateway:  deps.Gateway,
		currency: code,
		logger:   logger,
	}, nil
}

// StartPayment creates a gateway charge for the order total.
func (s *paymentService) StartPayment(ctx context.Context, cmd StartPaymentCommand) (payments.Charge, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return payments.Charge{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return payments.Charge{}, ErrOrderUnauthenticated
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return payments.Charge{}, translateOrderRepoError(err, ErrOrderUnavailable)
	}
	if order.CustomerID != customerID {
		return payments.Charge{}, ErrOrderNotFound
	}
	if order.IsPaid {
		return payments.Charge{}, ErrOrderAlreadyPaid
	}
	if !order.PaymentAmount.IsPositive() {
		return payments.Charge{}, fmt.Errorf("%w: order has nothing to pay", ErrPaymentInvalidInput)
	}

	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		key = "charge-" + order.ID
	}
	charge, err := s.gateway.Charge(ctx, payments.ChargeRequest{
		OrderRef: order.ID,
		Amount:   order.PaymentAmount,
		Currency: s.currency,
		Contact: payments.Contact{
			Name:  strings.TrimSpace(cmd.Name),
			Email: strings.TrimSpace(cmd.Email),
			Phone: order.CustomerPhone,
		},
		Description:    fmt.Sprintf("Print order %s (%d documents)", order.ID, order.DocumentCount()),
		IdempotencyKey: key,
		Metadata:       map[string]string{"customerId": order.CustomerID},
	})
	if err != nil {
		s.logger(ctx, "payment.charge.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		if errors.Is(err, payments.ErrInvalidAmount) || errors.Is(err, payments.ErrUnsupportedProvider) {
			return payments.Charge{}, fmt.Errorf("%w: %w", ErrPaymentInvalidInput, err)
		}
		return payments.Charge{}, fmt.Errorf("%w: %w", ErrPaymentUnavailable, err)
	}

	s.logger(ctx, "payment.charge.created", map[string]any{
		"orderId":  order.ID,
		"provider": charge.Provider,
		"intentId": charge.IntentID,
		"amount":   order.PaymentAmount.String(),
	})
	return charge, nil
}

// ConfirmPayment applies a transaction confirmed by an internal caller.
func (s *paymentService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error) {
	amount := decimal.Zero
	if raw := strings.TrimSpace(cmd.Amount); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return Order{}, fmt.Errorf("%w: amount %q is not a number", ErrPaymentInvalidInput, raw)
		}
		amount = parsed
	}
	return s.sync.UpdatePayment(ctx, cmd.OrderID, PaymentTransaction{
		GatewayOrderID: strings.TrimSpace(cmd.GatewayOrderID),
		TransactionID:  strings.TrimSpace(cmd.TransactionID),
		Amount:         amount,
	})
}

// HandleChargeResult records a settled charge on its order. Results for unknown orders and
// conflicting payments are logged and acknowledged so the gateway does not redeliver them.
func (s *paymentService) HandleChargeResult(ctx context.Context, result payments.ChargeResult) error {
	orderID := strings.TrimSpace(result.OrderRef)
	if orderID == "" {
		s.logger(ctx, "payment.result.unreferenced", map[string]any{"intentId": result.IntentID})
		return nil
	}

	var err error
	switch result.Status {
	case payments.StatusSucceeded:
		_, err = s.sync.UpdatePayment(ctx, orderID, PaymentTransaction{
			GatewayOrderID: result.IntentID,
			TransactionID:  result.TransactionID,
			Amount:         result.Amount,
		})
	case payments.StatusFailed:
		_, err = s.sync.MarkPaymentFailed(ctx, orderID, failureReason(result))
	default:
		return nil
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrOrderAlreadyPaid):
		s.logger(ctx, "payment.result.ignored", map[string]any{
			"orderId":       orderID,
			"status":        string(result.Status),
			"transactionId": result.TransactionID,
			"reason":        err.Error(),
		})
		return nil
	default:
		return err
	}
}

func failureReason(result payments.ChargeResult) string {
	code := strings.TrimSpace(result.FailureCode)
	msg := strings.TrimSpace(result.FailureMessage)
	switch {
	case code != "" && msg != "":
		return code + ": " + msg
	case code != "":
		return code
	case msg != "":
		return msg
	default:
		return "payment declined"
	}
}
