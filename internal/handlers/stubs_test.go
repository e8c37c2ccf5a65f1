package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	domain "github.com/printdesk/api/internal/domain"
	"github.com/printdesk/api/internal/payments"
	"github.com/printdesk/api/internal/platform/auth"
	"github.com/printdesk/api/internal/repositories"
	"github.com/printdesk/api/internal/services"
)

var errNotStubbed = errors.New("not implemented")

func withCustomer(req *http.Request, uid string, roles ...string) *http.Request {
	identity := &auth.Identity{UID: uid, Email: uid + "@example.com", Phone: "+911234567890", Name: "Test Customer", Roles: roles}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

type stubSessionService struct {
	createFn   func(context.Context, string) (services.UploadSession, error)
	getFn      func(context.Context, string, string) (services.UploadSession, error)
	addFn      func(context.Context, services.AddDocumentCommand) (services.Document, error)
	removeFn   func(context.Context, string, string, string) error
	settingsFn func(context.Context, services.UpdateSettingsCommand) (services.Document, error)
	pagesFn    func(context.Context, string, string, string, int) (services.Document, error)
	clearFn    func(context.Context, string, string, []string) error
}

func (s *stubSessionService) Create(ctx context.Context, customerID string) (services.UploadSession, error) {
	if s.createFn != nil {
		return s.createFn(ctx, customerID)
	}
	return services.UploadSession{}, errNotStubbed
}

func (s *stubSessionService) Get(ctx context.Context, customerID, sessionID string) (services.UploadSession, error) {
	if s.getFn != nil {
		return s.getFn(ctx, customerID, sessionID)
	}
	return services.UploadSession{}, services.ErrSessionNotFound
}

func (s *stubSessionService) AddDocument(ctx context.Context, cmd services.AddDocumentCommand) (services.Document, error) {
	if s.addFn != nil {
		return s.addFn(ctx, cmd)
	}
	return services.Document{}, errNotStubbed
}

func (s *stubSessionService) RemoveDocument(ctx context.Context, customerID, sessionID, documentID string) error {
	if s.removeFn != nil {
		return s.removeFn(ctx, customerID, sessionID, documentID)
	}
	return errNotStubbed
}

func (s *stubSessionService) UpdateSettings(ctx context.Context, cmd services.UpdateSettingsCommand) (services.Document, error) {
	if s.settingsFn != nil {
		return s.settingsFn(ctx, cmd)
	}
	return services.Document{}, errNotStubbed
}

func (s *stubSessionService) SetPageCount(ctx context.Context, customerID, sessionID, documentID string, pages int) (services.Document, error) {
	if s.pagesFn != nil {
		return s.pagesFn(ctx, customerID, sessionID, documentID, pages)
	}
	return services.Document{}, errNotStubbed
}

func (s *stubSessionService) ClearDocuments(ctx context.Context, customerID, sessionID string, documentIDs []string) error {
	if s.clearFn != nil {
		return s.clearFn(ctx, customerID, sessionID, documentIDs)
	}
	return nil
}

func (s *stubSessionService) Subscribe(context.Context, string, string) (<-chan services.UploadSession, error) {
	return nil, errNotStubbed
}

type stubQuoteService struct {
	quoteFn func(context.Context, string, string) (services.Quote, error)
	watchFn func(context.Context, string, string) (<-chan services.Quote, error)
}

func (s *stubQuoteService) Quote(ctx context.Context, customerID, sessionID string) (services.Quote, error) {
	if s.quoteFn != nil {
		return s.quoteFn(ctx, customerID, sessionID)
	}
	return services.Quote{}, errNotStubbed
}

func (s *stubQuoteService) WatchQuote(ctx context.Context, customerID, sessionID string) (<-chan services.Quote, error) {
	if s.watchFn != nil {
		return s.watchFn(ctx, customerID, sessionID)
	}
	return nil, errNotStubbed
}

type stubAssembler struct {
	withPaymentFn func(context.Context, services.SubmitCommand) (services.SubmitResult, error)
	directFn      func(context.Context, services.SubmitCommand) (services.SubmitResult, error)
}

func (s *stubAssembler) SubmitWithPayment(ctx context.Context, cmd services.SubmitCommand) (services.SubmitResult, error) {
	if s.withPaymentFn != nil {
		return s.withPaymentFn(ctx, cmd)
	}
	return services.SubmitResult{}, errNotStubbed
}

func (s *stubAssembler) SubmitDirect(ctx context.Context, cmd services.SubmitCommand) (services.SubmitResult, error) {
	if s.directFn != nil {
		return s.directFn(ctx, cmd)
	}
	return services.SubmitResult{}, errNotStubbed
}

type stubOrderSync struct {
	observeFn func(context.Context, string) (*services.OrderFeed, error)
	listFn    func(context.Context, string) ([]services.Order, error)
}

func (s *stubOrderSync) ObserveOrders(ctx context.Context, customerID string) (*services.OrderFeed, error) {
	if s.observeFn != nil {
		return s.observeFn(ctx, customerID)
	}
	return nil, errNotStubbed
}

func (s *stubOrderSync) ListOrders(ctx context.Context, customerID string) ([]services.Order, error) {
	if s.listFn != nil {
		return s.listFn(ctx, customerID)
	}
	return nil, errNotStubbed
}

func (s *stubOrderSync) UpdatePayment(context.Context, string, services.PaymentTransaction) (services.Order, error) {
	return services.Order{}, errNotStubbed
}

func (s *stubOrderSync) MarkPaymentFailed(context.Context, string, string) (services.Order, error) {
	return services.Order{}, errNotStubbed
}

type stubPaymentService struct {
	startFn   func(context.Context, services.StartPaymentCommand) (payments.Charge, error)
	confirmFn func(context.Context, services.ConfirmPaymentCommand) (services.Order, error)
}

func (s *stubPaymentService) StartPayment(ctx context.Context, cmd services.StartPaymentCommand) (payments.Charge, error) {
	if s.startFn != nil {
		return s.startFn(ctx, cmd)
	}
	return payments.Charge{}, errNotStubbed
}

func (s *stubPaymentService) ConfirmPayment(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.Order, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubPaymentService) HandleChargeResult(context.Context, payments.ChargeResult) error {
	return nil
}

type stubGateway struct {
	webhookFn   func(context.Context, string, []byte, string) error
	reconcileFn func(context.Context, string, string) (payments.ChargeResult, error)
}

func (s *stubGateway) HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) error {
	if s.webhookFn != nil {
		return s.webhookFn(ctx, provider, payload, signature)
	}
	return errNotStubbed
}

func (s *stubGateway) Reconcile(ctx context.Context, provider, intentID string) (payments.ChargeResult, error) {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, provider, intentID)
	}
	return payments.ChargeResult{}, errNotStubbed
}

type stubSystemService struct {
	report services.HealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.HealthReport, error) {
	return s.report, s.err
}

// watchOrderRepo feeds WatchByCustomer from a fixed batch so the real OrderSync can drive streams.
type watchOrderRepo struct {
	batch repositories.OrderBatch
}

func (r *watchOrderRepo) Insert(context.Context, domain.Order) error { return errNotStubbed }

func (r *watchOrderRepo) FindByID(context.Context, string) (domain.Order, error) {
	return domain.Order{}, errNotStubbed
}

func (r *watchOrderRepo) ListByCustomer(context.Context, string, int) (repositories.OrderBatch, error) {
	return r.batch, nil
}

func (r *watchOrderRepo) WatchByCustomer(ctx context.Context, _ string, emit func(repositories.OrderBatch) error) error {
	if err := emit(r.batch); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (r *watchOrderRepo) ApplyPayment(context.Context, string, domain.PaymentTransaction, time.Time) (domain.Order, bool, error) {
	return domain.Order{}, false, errNotStubbed
}

func (r *watchOrderRepo) MarkPaymentFailed(context.Context, string, string, time.Time) (domain.Order, error) {
	return domain.Order{}, errNotStubbed
}
