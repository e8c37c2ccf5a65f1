package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/printdesk/api/internal/domain"
	"github.com/printdesk/api/internal/payments"
	"github.com/printdesk/api/internal/platform/storage"
	"github.com/printdesk/api/internal/repositories"
)

type stubOrderRepo struct {
	insertFn      func(context.Context, domain.Order) error
	findFn        func(context.Context, string) (domain.Order, error)
	listFn        func(context.Context, string, int) (repositories.OrderBatch, error)
	watchFn       func(context.Context, string, func(repositories.OrderBatch) error) error
	applyFn       func(context.Context, string, domain.PaymentTransaction, time.Time) (domain.Order, bool, error)
	markFailedFn  func(context.Context, string, string, time.Time) (domain.Order, error)
	mu            sync.Mutex
	insertedCount int
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	s.mu.Lock()
	s.insertedCount++
	s.mu.Unlock()
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) ListByCustomer(ctx context.Context, customerID string, limit int) (repositories.OrderBatch, error) {
	if s.listFn != nil {
		return s.listFn(ctx, customerID, limit)
	}
	return repositories.OrderBatch{}, nil
}

func (s *stubOrderRepo) WatchByCustomer(ctx context.Context, customerID string, emit func(repositories.OrderBatch) error) error {
	if s.watchFn != nil {
		return s.watchFn(ctx, customerID, emit)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubOrderRepo) ApplyPayment(ctx context.Context, orderID string, txn domain.PaymentTransaction, at time.Time) (domain.Order, bool, error) {
	if s.applyFn != nil {
		return s.applyFn(ctx, orderID, txn, at)
	}
	return domain.Order{}, false, errors.New("not implemented")
}

func (s *stubOrderRepo) MarkPaymentFailed(ctx context.Context, orderID string, reason string, at time.Time) (domain.Order, error) {
	if s.markFailedFn != nil {
		return s.markFailedFn(ctx, orderID, reason, at)
	}
	return domain.Order{}, errors.New("not implemented")
}

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

type stubDocumentStore struct {
	mu    sync.Mutex
	putFn func(context.Context, storage.Object) (storage.StoredObject, error)
	paths []string
}

func (s *stubDocumentStore) Put(ctx context.Context, obj storage.Object) (storage.StoredObject, error) {
	s.mu.Lock()
	s.paths = append(s.paths, obj.Path)
	s.mu.Unlock()
	if s.putFn != nil {
		return s.putFn(ctx, obj)
	}
	return storage.StoredObject{
		Bucket: "docs",
		Path:   obj.Path,
		URL:    "https://storage.example.com/" + obj.Path,
		Size:   int64(len(obj.Content)),
	}, nil
}

func (s *stubDocumentStore) uploaded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

type stubShopSource struct {
	settings ShopSettings
	updates  chan ShopSettings
}

func (s *stubShopSource) Current() ShopSettings { return s.settings }

func (s *stubShopSource) Subscribe(ctx context.Context) <-chan ShopSettings {
	if s.updates != nil {
		return s.updates
	}
	ch := make(chan ShopSettings, 1)
	ch <- s.settings
	return ch
}

type captureOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureOrderEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

type stubGateway struct {
	chargeFn func(context.Context, payments.ChargeRequest) (payments.Charge, error)
}

func (s *stubGateway) Charge(ctx context.Context, req payments.ChargeRequest) (payments.Charge, error) {
	if s.chargeFn != nil {
		return s.chargeFn(ctx, req)
	}
	return payments.Charge{Provider: "stripe", IntentID: "pi_1", Status: payments.StatusPending}, nil
}

type stubOrderSync struct {
	updateFn     func(context.Context, string, PaymentTransaction) (Order, error)
	markFailedFn func(context.Context, string, string) (Order, error)
}

func (s *stubOrderSync) ObserveOrders(context.Context, string) (*OrderFeed, error) {
	return nil, errors.New("not implemented")
}

func (s *stubOrderSync) ListOrders(context.Context, string) ([]Order, error) {
	return nil, errors.New("not implemented")
}

func (s *stubOrderSync) UpdatePayment(ctx context.Context, orderID string, txn PaymentTransaction) (Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, orderID, txn)
	}
	return Order{ID: orderID}, nil
}

func (s *stubOrderSync) MarkPaymentFailed(ctx context.Context, orderID string, reason string) (Order, error) {
	if s.markFailedFn != nil {
		return s.markFailedFn(ctx, orderID, reason)
	}
	return Order{ID: orderID}, nil
}

func openShop(bw, color string) *stubShopSource {
	return &stubShopSource{settings: ShopSettings{
		IsOpen:   true,
		Currency: "INR",
		Pricing: domain.ShopPricing{
			BW:    decimal.RequireFromString(bw),
			Color: decimal.RequireFromString(color),
		},
	}}
}

func pdfDocument(id string, pages, copies int) Document {
	settings := domain.DefaultPrintSettings()
	settings.Copies = copies
	return Document{
		ID:          id,
		Name:        id + ".pdf",
		ContentType: "application/pdf",
		Content:     []byte("%PDF-" + id),
		Size:        int64(len("%PDF-" + id)),
		FileType:    domain.FileTypePDF,
		PageCount:   pages,
		Settings:    settings,
	}
}

func docxDocument(id string) Document {
	return Document{
		ID:          id,
		Name:        id + ".docx",
		ContentType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		Content:     []byte("PK" + id),
		Size:        int64(len("PK" + id)),
		FileType:    domain.FileTypeDOCX,
		PageCount:   1,
		Settings:    domain.DefaultPrintSettings(),
	}
}
