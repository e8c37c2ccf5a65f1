package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/printdesk/api/internal/repositories"
)

// errFeedEnded is reported when a listener stops without an error while its context is still live.
var errFeedEnded = errors.New("order feed: listener stopped")

// OrderSyncDeps bundles collaborators for the order sync service.
type OrderSyncDeps struct {
	Orders  repositories.OrderRepository
	Events  OrderEventPublisher
	Clock   func() time.Time
	Backoff gax.Backoff
	Logger  func(ctx context.Context, event string, fields map[string]any)
	Meter   metric.Meter
}

type orderSync struct {
	orders   repositories.OrderRepository
	events   OrderEventPublisher
	clock    func() time.Time
	backoff  gax.Backoff
	logger   func(context.Context, string, map[string]any)
	restarts metric.Int64Counter
	skipped  metric.Int64Counter
}

var _ OrderSync = (*orderSync)(nil)

// NewOrderSync constructs the OrderSync service.
func NewOrderSync(deps OrderSyncDeps) (OrderSync, error) {
	if deps.Orders == nil {
		return nil, errors.New("order sync: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	backoff := deps.Backoff
	if backoff.Initial <= 0 {
		backoff = defaultFeedBackoff()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	restarts, err := meter.Int64Counter("orders.feed.restarts", metric.WithDescription("Count of order feed listener restarts"))
	if err != nil {
		logger(context.Background(), "order.metrics.register_failed", map[string]any{"metric": "orders.feed.restarts", "error": err.Error()})
	}
	skipped, err := meter.Int64Counter("orders.feed.skipped_records", metric.WithDescription("Count of stored orders skipped because they failed to decode"))
	if err != nil {
		logger(context.Background(), "order.metrics.register_failed", map[string]any{"metric": "orders.feed.skipped_records", "error": err.Error()})
	}

	return &orderSync{
		orders: deps.Orders,
		events: deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		backoff:  backoff,
		logger:   logger,
		restarts: restarts,
		skipped:  skipped,
	}, nil
}

// OrderFeed delivers the customer's order list. Orders carries the latest full list, newest first;
// a reader that falls behind only sees the most recent list. Errors carries listener failures, each
// of which is preceded by an empty list on Orders. Both channels close when the observing context
// ends.
type OrderFeed struct {
	orders chan []Order
	errs   chan error
}

// Orders returns the list channel.
func (f *OrderFeed) Orders() <-chan []Order { return f.orders }

// Errors returns the failure channel.
func (f *OrderFeed) Errors() <-chan error { return f.errs }

func (s *orderSync) ObserveOrders(ctx context.Context, customerID string) (*OrderFeed, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, ErrOrderUnauthenticated
	}
	feed := &OrderFeed{
		orders: make(chan []Order, 1),
		errs:   make(chan error, 1),
	}

	go func() {
		defer close(feed.errs)
		defer close(feed.orders)

		superviseFeed(ctx, s.backoff, func(ctx context.Context) error {
			err := s.orders.WatchByCustomer(ctx, customerID, func(batch repositories.OrderBatch) error {
				offerLatest(feed.orders, s.sortedOrders(ctx, customerID, batch))
				return nil
			})
			if err == nil {
				err = errFeedEnded
			}
			return err
		}, func(err error, pause time.Duration) {
			offerLatest(feed.orders, []Order{})
			offerLatest(feed.errs, err)
			if s.restarts != nil {
				s.restarts.Add(ctx, 1)
			}
			s.logger(ctx, "order.feed.restart", map[string]any{
				"customerId": customerID,
				"error":      errString(err),
				"pause":      pause.String(),
			})
		})
	}()
	return feed, nil
}

func (s *orderSync) ListOrders(ctx context.Context, customerID string) ([]Order, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, ErrOrderUnauthenticated
	}
	batch, err := s.orders.ListByCustomer(ctx, customerID, 0)
	if err != nil {
		return nil, translateOrderRepoError(err, ErrOrderUnavailable)
	}
	return s.sortedOrders(ctx, customerID, batch), nil
}

// UpdatePayment marks the order paid. Only payment fields change.
func (s *orderSync) UpdatePayment(ctx context.Context, orderID string, txn PaymentTransaction) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	txn.TransactionID = strings.TrimSpace(txn.TransactionID)
	if txn.TransactionID == "" {
		return Order{}, fmt.Errorf("%w: transaction id is required", ErrOrderInvalidInput)
	}
	if txn.Amount.IsNegative() {
		return Order{}, fmt.Errorf("%w: payment amount cannot be negative", ErrOrderInvalidInput)
	}

	now := s.clock()
	order, applied, err := s.orders.ApplyPayment(ctx, orderID, txn, now)
	if err != nil {
		return Order{}, translateOrderRepoError(err, ErrOrderUnavailable)
	}
	if !applied {
		return order, nil
	}

	s.logger(ctx, "order.payment.applied", map[string]any{
		"orderId":       order.ID,
		"transactionId": txn.TransactionID,
		"amount":        order.PaymentAmount.String(),
	})
	publishOrderEvent(ctx, s.events, s.logger, orderEventFrom(orderEventPaid, order, now))
	return order, nil
}

func (s *orderSync) MarkPaymentFailed(ctx context.Context, orderID string, reason string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	now := s.clock()
	order, err := s.orders.MarkPaymentFailed(ctx, orderID, reason, now)
	if err != nil {
		return Order{}, translateOrderRepoError(err, ErrOrderUnavailable)
	}
	s.logger(ctx, "order.payment.failed", map[string]any{"orderId": order.ID, "reason": order.PaymentFailureReason})
	publishOrderEvent(ctx, s.events, s.logger, orderEventFrom(orderEventPaymentFailed, order, now))
	return order, nil
}

func (s *orderSync) sortedOrders(ctx context.Context, customerID string, batch repositories.OrderBatch) []Order {
	for _, skipped := range batch.Skipped {
		s.logger(ctx, "order.feed.record_skipped", map[string]any{
			"customerId": customerID,
			"orderId":    skipped.ID,
			"error":      errString(skipped.Err),
		})
	}
	if s.skipped != nil && len(batch.Skipped) > 0 {
		s.skipped.Add(ctx, int64(len(batch.Skipped)))
	}
	if batch.Truncated {
		s.logger(ctx, "order.feed.truncated", map[string]any{
			"customerId": customerID,
			"listed":     len(batch.Orders),
		})
	}

	orders := slices.Clone(batch.Orders)
	if orders == nil {
		orders = []Order{}
	}
	slices.SortStableFunc(orders, func(a, b Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return orders
}
