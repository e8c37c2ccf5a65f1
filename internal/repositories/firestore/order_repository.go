package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/printdesk/api/internal/domain"
	pfirestore "github.com/printdesk/api/internal/platform/firestore"
	"github.com/printdesk/api/internal/repositories"
)

const (
	defaultOrdersCollection = "orders"
	defaultWatchLimit       = 200

	// Payment updates run on webhook and relay paths whose callers retry on their own.
	paymentTxAttempts = 3
	paymentTxTimeout  = 5 * time.Second
)

// OrderRepository stores orders as versioned records keyed by order ID.
type OrderRepository struct {
	base       *pfirestore.BaseRepository[domain.Order]
	provider   *pfirestore.Provider
	watchLimit int
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// OrderRepositoryOption customises the order repository.
type OrderRepositoryOption func(*OrderRepository)

// WithOrderWatchLimit caps how many of a customer's newest orders are listed and observed.
func WithOrderWatchLimit(limit int) OrderRepositoryOption {
	return func(r *OrderRepository) {
		if limit > 0 {
			r.watchLimit = limit
		}
	}
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider, collection string, opts ...OrderRepositoryOption) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	if strings.TrimSpace(collection) == "" {
		collection = defaultOrdersCollection
	}
	base := pfirestore.NewBaseRepository[domain.Order](provider, collection, encodeOrderDocument, decodeOrderDocument)
	repo := &OrderRepository{base: base, provider: provider, watchLimit: defaultWatchLimit}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func encodeOrderDocument(_ context.Context, order domain.Order) (any, error) {
	return encodeOrder(order), nil
}

func decodeOrderDocument(_ context.Context, snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var rec orderRecord
	if err := snap.DataTo(&rec); err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(snap.Ref.ID, rec)
}

// Insert persists the order in one create-only write.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	_, err := r.base.Create(ctx, id, order)
	return err
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data, nil
}

// ListByCustomer returns up to limit orders for the customer, newest first.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) (repositories.OrderBatch, error) {
	if r == nil || r.base == nil {
		return repositories.OrderBatch{}, errors.New("order repository not initialised")
	}
	if limit <= 0 || limit > r.watchLimit {
		limit = r.watchLimit
	}
	snap, err := r.base.Query(ctx, customerQuery(customerID, limit+1))
	if err != nil {
		return repositories.OrderBatch{}, err
	}
	return toBatch(snap, limit), nil
}

// WatchByCustomer streams the customer's orders until ctx is cancelled or the listener fails.
func (r *OrderRepository) WatchByCustomer(ctx context.Context, customerID string, emit func(repositories.OrderBatch) error) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if emit == nil {
		return errors.New("order repository: emit callback is required")
	}
	return r.base.Watch(ctx, customerQuery(customerID, r.watchLimit+1), func(snap pfirestore.Snapshot[domain.Order]) error {
		return emit(toBatch(snap, r.watchLimit))
	})
}

// ApplyPayment records a successful payment. The same transaction ID may be applied repeatedly; a
// different one on a paid order is a conflict.
func (r *OrderRepository) ApplyPayment(ctx context.Context, orderID string, txn domain.PaymentTransaction, at time.Time) (domain.Order, bool, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, false, errors.New("order repository not initialised")
	}
	txnID := strings.TrimSpace(txn.TransactionID)
	if txnID == "" {
		return domain.Order{}, false, errors.New("order repository: transaction id is required")
	}
	at = at.UTC()

	var (
		result  domain.Order
		applied bool
	)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, current, err := r.loadInTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if current.IsPaid {
			if current.GatewayPaymentID == txnID {
				result, applied = current, false
				return nil
			}
			return pfirestore.Conflict("orders.applyPayment", "order already paid by another transaction")
		}

		updates := []firestore.Update{
			{Path: "paymentStatus", Value: string(domain.PaymentStatusPaid)},
			{Path: "isPaid", Value: true},
			{Path: "canAutoPrint", Value: true},
			{Path: "razorpayPaymentId", Value: txnID},
			{Path: "paymentFailureReason", Value: firestore.Delete},
			{Path: "updatedAt", Value: at},
		}
		current.PaymentStatus = domain.PaymentStatusPaid
		current.IsPaid = true
		current.CanAutoPrint = true
		current.GatewayPaymentID = txnID
		current.PaymentFailureReason = ""
		current.UpdatedAt = at
		if gatewayOrderID := strings.TrimSpace(txn.GatewayOrderID); gatewayOrderID != "" {
			updates = append(updates, firestore.Update{Path: "razorpayOrderId", Value: gatewayOrderID})
			current.GatewayOrderID = gatewayOrderID
		}
		if txn.Amount.IsPositive() {
			updates = append(updates, firestore.Update{Path: "paymentAmount", Value: txn.Amount.InexactFloat64()})
			current.PaymentAmount = txn.Amount
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}
		result, applied = current, true
		return nil
	}, pfirestore.WithTxAttempts(paymentTxAttempts), pfirestore.WithTxTimeout(paymentTxTimeout))
	if err != nil {
		return domain.Order{}, false, err
	}
	return result, applied, nil
}

// MarkPaymentFailed records a declined charge on an unpaid order. Paid orders are left untouched.
func (r *OrderRepository) MarkPaymentFailed(ctx context.Context, orderID string, reason string, at time.Time) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	at = at.UTC()
	reason = strings.TrimSpace(reason)

	var result domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, current, err := r.loadInTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if current.IsPaid {
			return pfirestore.Conflict("orders.markPaymentFailed", "order is already paid")
		}
		current.PaymentStatus = domain.PaymentStatusFailed
		current.PaymentFailureReason = reason
		current.UpdatedAt = at
		result = current
		return tx.Update(ref, []firestore.Update{
			{Path: "paymentStatus", Value: string(domain.PaymentStatusFailed)},
			{Path: "paymentFailureReason", Value: reason},
			{Path: "updatedAt", Value: at},
		})
	}, pfirestore.WithTxAttempts(paymentTxAttempts), pfirestore.WithTxTimeout(paymentTxTimeout))
	if err != nil {
		return domain.Order{}, err
	}
	return result, nil
}

func (r *OrderRepository) loadInTx(ctx context.Context, tx *firestore.Transaction, orderID string) (*firestore.DocumentRef, domain.Order, error) {
	ref, err := r.base.DocumentRef(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return nil, domain.Order{}, err
	}
	snap, err := tx.Get(ref)
	if err != nil {
		return nil, domain.Order{}, err
	}
	doc, err := r.base.Decode(ctx, snap)
	if err != nil {
		return nil, domain.Order{}, err
	}
	return ref, doc.Data, nil
}

func customerQuery(customerID string, limit int) pfirestore.QueryBuilder {
	customerID = strings.TrimSpace(customerID)
	return func(q firestore.Query) firestore.Query {
		return q.Where("customerId", "==", customerID).
			OrderBy("createdAt", firestore.Desc).
			Limit(limit)
	}
}

// toBatch decodes a query that asked for limit+1 records. The extra record only signals that older
// orders were cut off.
func toBatch(snap pfirestore.Snapshot[domain.Order], limit int) repositories.OrderBatch {
	docs := snap.Documents
	batch := repositories.OrderBatch{ReadAt: snap.ReadTime}
	if len(docs)+len(snap.Failures) > limit {
		batch.Truncated = true
		if len(docs) > limit {
			docs = docs[:limit]
		}
	}
	batch.Orders = make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		batch.Orders = append(batch.Orders, doc.Data)
	}
	for _, failure := range snap.Failures {
		batch.Skipped = append(batch.Skipped, repositories.SkippedRecord{ID: failure.DocumentID, Err: failure})
	}
	return batch
}
