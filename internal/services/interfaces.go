package services

import (
	"context"

	domain "github.com/printdesk/api/internal/domain"
	"github.com/printdesk/api/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderDocument      = domain.OrderDocument
	Document           = domain.Document
	PrintSettings      = domain.PrintSettings
	UploadSession      = domain.UploadSession
	ShopSettings       = domain.ShopSettings
	Quote              = domain.Quote
	DocumentQuote      = domain.DocumentQuote
	PaymentTransaction = domain.PaymentTransaction
	HealthReport       = domain.HealthReport
)

// OrderAssembler turns an upload session into a persisted order.
type OrderAssembler interface {
	// SubmitWithPayment persists an unpaid order that is released for printing once paid.
	SubmitWithPayment(ctx context.Context, cmd SubmitCommand) (SubmitResult, error)
	// SubmitDirect persists a paid order that the shop may print immediately.
	SubmitDirect(ctx context.Context, cmd SubmitCommand) (SubmitResult, error)
}

// OrderSync exposes the customer's live order list and the payment field updates applied to it.
type OrderSync interface {
	ObserveOrders(ctx context.Context, customerID string) (*OrderFeed, error)
	ListOrders(ctx context.Context, customerID string) ([]Order, error)
	UpdatePayment(ctx context.Context, orderID string, txn PaymentTransaction) (Order, error)
	MarkPaymentFailed(ctx context.Context, orderID string, reason string) (Order, error)
}

// UploadSessionService manages documents staged for submission.
type UploadSessionService interface {
	Create(ctx context.Context, customerID string) (UploadSession, error)
	Get(ctx context.Context, customerID, sessionID string) (UploadSession, error)
	AddDocument(ctx context.Context, cmd AddDocumentCommand) (Document, error)
	RemoveDocument(ctx context.Context, customerID, sessionID, documentID string) error
	UpdateSettings(ctx context.Context, cmd UpdateSettingsCommand) (Document, error)
	SetPageCount(ctx context.Context, customerID, sessionID, documentID string, pages int) (Document, error)
	// ClearDocuments removes the listed documents once they have been submitted. Documents added
	// after the submission snapshot stay in the session.
	ClearDocuments(ctx context.Context, customerID, sessionID string, documentIDs []string) error
	Subscribe(ctx context.Context, customerID, sessionID string) (<-chan UploadSession, error)
}

// ShopSettingsSource provides the latest observed shop settings.
type ShopSettingsSource interface {
	Current() ShopSettings
	Subscribe(ctx context.Context) <-chan ShopSettings
}

// QuoteService prices a session against live shop pricing.
type QuoteService interface {
	Quote(ctx context.Context, customerID, sessionID string) (Quote, error)
	WatchQuote(ctx context.Context, customerID, sessionID string) (<-chan Quote, error)
}

// PaymentService collects payment for unpaid orders and records gateway outcomes.
type PaymentService interface {
	StartPayment(ctx context.Context, cmd StartPaymentCommand) (payments.Charge, error)
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error)
	HandleChargeResult(ctx context.Context, result payments.ChargeResult) error
}

// SystemService exposes readiness information.
type SystemService interface {
	HealthReport(ctx context.Context) (HealthReport, error)
}

// AddDocumentCommand stages an uploaded file in a session.
type AddDocumentCommand struct {
	CustomerID  string
	SessionID   string
	Name        string
	ContentType string
	Content     []byte
	Settings    *PrintSettings
}

// UpdateSettingsCommand replaces the print settings of one document. Apply receives a copy of the
// current settings and mutates it in place.
type UpdateSettingsCommand struct {
	CustomerID string
	SessionID  string
	DocumentID string
	Apply      func(*PrintSettings)
}

// StartPaymentCommand requests a charge for an unpaid order.
type StartPaymentCommand struct {
	OrderID        string
	CustomerID     string
	Email          string
	Name           string
	IdempotencyKey string
}

// ConfirmPaymentCommand applies a payment confirmed outside the webhook path.
type ConfirmPaymentCommand struct {
	OrderID        string
	GatewayOrderID string
	TransactionID  string
	Amount         string
}
