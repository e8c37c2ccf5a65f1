package repositories

import (
	"context"
	"time"

	"github.com/printdesk/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists submitted print orders.
type OrderRepository interface {
	// Insert stores a new order in a single write. It fails with a conflict when the ID is taken.
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// ListByCustomer returns the customer's orders newest first.
	ListByCustomer(ctx context.Context, customerID string, limit int) (OrderBatch, error)
	// WatchByCustomer emits a batch on every change until ctx ends or the listener fails.
	WatchByCustomer(ctx context.Context, customerID string, emit func(OrderBatch) error) error
	// ApplyPayment marks the order paid. Re-applying the same transaction is a no-op and reports
	// applied=false with the stored order.
	ApplyPayment(ctx context.Context, orderID string, txn domain.PaymentTransaction, at time.Time) (order domain.Order, applied bool, err error)
	MarkPaymentFailed(ctx context.Context, orderID string, reason string, at time.Time) (domain.Order, error)
}

// OrderBatch is a decoded view of a customer's orders. Records that failed to decode are listed in
// Skipped and are absent from Orders. Truncated is set when older orders exist beyond the
// repository's limit.
type OrderBatch struct {
	Orders    []domain.Order
	Skipped   []SkippedRecord
	ReadAt    time.Time
	Truncated bool
}

// SkippedRecord identifies a stored order that could not be decoded.
type SkippedRecord struct {
	ID  string
	Err error
}

// ShopSettingsRepository reads the shop's pricing and opening state.
type ShopSettingsRepository interface {
	Get(ctx context.Context) (domain.ShopSettings, error)
	// Watch emits the current settings and every change. ok is false while no settings exist.
	Watch(ctx context.Context, emit func(settings domain.ShopSettings, ok bool) error) error
}

// HealthRepository exposes status of downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
