package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/printdesk/api/internal/domain"
	"github.com/printdesk/api/internal/payments"
)

func unpaidOrder() domain.Order {
	return domain.Order{
		ID:            "ord_1",
		CustomerID:    "cust-1",
		CustomerPhone: "+919800000000",
		PaymentAmount: decimal.RequireFromString("45"),
		PaymentStatus: domain.PaymentStatusUnpaid,
	}
}

func newTestPaymentService(t *testing.T, repo *stubOrderRepo, sync OrderSync, gateway *stubGateway) PaymentService {
	t.Helper()
	svc, err := NewPaymentService(PaymentServiceDeps{Orders: repo, Sync: sync, Gateway: gateway})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	return svc
}

func TestStartPaymentChargesOrderTotal(t *testing.T) {
	repo := &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) {
		return unpaidOrder(), nil
	}}
	var got payments.ChargeRequest
	gateway := &stubGateway{chargeFn: func(_ context.Context, req payments.ChargeRequest) (payments.Charge, error) {
		got = req
		return payments.Charge{Provider: "stripe", IntentID: "pi_1", ClientSecret: "secret", Status: payments.StatusPending}, nil
	}}
	svc := newTestPaymentService(t, repo, &stubOrderSync{}, gateway)

	charge, err := svc.StartPayment(context.Background(), StartPaymentCommand{OrderID: "ord_1", CustomerID: "cust-1", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("StartPayment: %v", err)
	}
	if charge.IntentID != "pi_1" || charge.ClientSecret != "secret" {
		t.Fatalf("unexpected charge %+v", charge)
	}
	if got.OrderRef != "ord_1" || !got.Amount.Equal(decimal.NewFromInt(45)) || got.Currency != "INR" {
		t.Fatalf("unexpected charge request %+v", got)
	}
	if got.IdempotencyKey != "charge-ord_1" || got.Contact.Phone != "+919800000000" {
		t.Fatalf("expected default key and order phone, got %q / %q", got.IdempotencyKey, got.Contact.Phone)
	}
}

func TestStartPaymentRejections(t *testing.T) {
	paid := unpaidOrder()
	paid.IsPaid = true
	free := unpaidOrder()
	free.PaymentAmount = decimal.Zero

	cases := []struct {
		name     string
		order    domain.Order
		findErr  error
		customer string
		gateway  error
		want     error
	}{
		{name: "other customer", order: unpaidOrder(), customer: "cust-2", want: ErrOrderNotFound},
		{name: "already paid", order: paid, customer: "cust-1", want: ErrOrderAlreadyPaid},
		{name: "nothing to pay", order: free, customer: "cust-1", want: ErrPaymentInvalidInput},
		{name: "missing order", findErr: stubRepoError{notFound: true}, customer: "cust-1", want: ErrOrderNotFound},
		{name: "anonymous", order: unpaidOrder(), want: ErrOrderUnauthenticated},
		{name: "gateway down", order: unpaidOrder(), customer: "cust-1", gateway: errors.New("timeout"), want: ErrPaymentUnavailable},
		{name: "gateway rejects amount", order: unpaidOrder(), customer: "cust-1", gateway: payments.ErrInvalidAmount, want: ErrPaymentInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) {
				return tc.order, tc.findErr
			}}
			gateway := &stubGateway{chargeFn: func(context.Context, payments.ChargeRequest) (payments.Charge, error) {
				if tc.gateway != nil {
					return payments.Charge{}, tc.gateway
				}
				return payments.Charge{IntentID: "pi_1"}, nil
			}}
			svc := newTestPaymentService(t, repo, &stubOrderSync{}, gateway)
			if _, err := svc.StartPayment(context.Background(), StartPaymentCommand{OrderID: "ord_1", CustomerID: tc.customer}); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestHandleChargeResultRecordsOutcome(t *testing.T) {
	var updated PaymentTransaction
	var failedReason string
	sync := &stubOrderSync{
		updateFn: func(_ context.Context, orderID string, txn PaymentTransaction) (Order, error) {
			updated = txn
			return Order{ID: orderID, IsPaid: true}, nil
		},
		markFailedFn: func(_ context.Context, orderID, reason string) (Order, error) {
			failedReason = reason
			return Order{ID: orderID}, nil
		},
	}
	svc := newTestPaymentService(t, &stubOrderRepo{}, sync, &stubGateway{})
	ctx := context.Background()

	if err := svc.HandleChargeResult(ctx, payments.ChargeResult{
		OrderRef:      "ord_1",
		IntentID:      "pi_1",
		TransactionID: "ch_1",
		Amount:        decimal.NewFromInt(45),
		Status:        payments.StatusSucceeded,
	}); err != nil {
		t.Fatalf("HandleChargeResult succeeded: %v", err)
	}
	if updated.GatewayOrderID != "pi_1" || updated.TransactionID != "ch_1" || !updated.Amount.Equal(decimal.NewFromInt(45)) {
		t.Fatalf("unexpected transaction %+v", updated)
	}

	if err := svc.HandleChargeResult(ctx, payments.ChargeResult{
		OrderRef:       "ord_1",
		Status:         payments.StatusFailed,
		FailureCode:    "card_declined",
		FailureMessage: "Your card was declined.",
	}); err != nil {
		t.Fatalf("HandleChargeResult failed: %v", err)
	}
	if failedReason != "card_declined: Your card was declined." {
		t.Fatalf("unexpected failure reason %q", failedReason)
	}
}

func TestHandleChargeResultAcknowledgesUnknownOrders(t *testing.T) {
	outage := errors.New("datastore down")
	cases := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "not found", err: ErrOrderNotFound},
		{name: "paid elsewhere", err: ErrOrderAlreadyPaid},
		{name: "outage", err: outage, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sync := &stubOrderSync{updateFn: func(context.Context, string, PaymentTransaction) (Order, error) {
				return Order{}, tc.err
			}}
			svc := newTestPaymentService(t, &stubOrderRepo{}, sync, &stubGateway{})
			err := svc.HandleChargeResult(context.Background(), payments.ChargeResult{OrderRef: "ord_1", TransactionID: "ch_1", Status: payments.StatusSucceeded})
			if tc.wantErr != (err != nil) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

func TestConfirmPaymentParsesAmount(t *testing.T) {
	var got PaymentTransaction
	sync := &stubOrderSync{updateFn: func(_ context.Context, orderID string, txn PaymentTransaction) (Order, error) {
		got = txn
		return Order{ID: orderID, IsPaid: true}, nil
	}}
	svc := newTestPaymentService(t, &stubOrderRepo{}, sync, &stubGateway{})

	if _, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{OrderID: "ord_1", GatewayOrderID: "gw_1", TransactionID: "tx_1", Amount: "40.50"}); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if !got.Amount.Equal(decimal.RequireFromString("40.5")) || got.GatewayOrderID != "gw_1" {
		t.Fatalf("unexpected transaction %+v", got)
	}
	if _, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{OrderID: "ord_1", TransactionID: "tx_1", Amount: "forty"}); !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected ErrPaymentInvalidInput, got %v", err)
	}
}
