package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/printdesk/api/internal/domain"
	"github.com/printdesk/api/internal/payments"
	"github.com/printdesk/api/internal/platform/auth"
	"github.com/printdesk/api/internal/platform/httpx"
	"github.com/printdesk/api/internal/services"
)

const maxJSONBodySize = 16 * 1024

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func requireCustomer(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// writeServiceError maps service sentinels onto the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var validation *services.ValidationError
	if errors.As(err, &validation) {
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", "order failed validation", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"problems": validation.Problems}))
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderUnauthenticated):
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
	case errors.Is(err, services.ErrSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "upload session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrDocumentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("document_not_found", "document not found in session", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrSessionInvalidInput),
		errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrShopClosed):
		httpx.WriteError(ctx, w, httpx.NewError("shop_closed", "the shop is not accepting orders", http.StatusConflict))
	case errors.Is(err, services.ErrSubmissionInFlight):
		httpx.WriteError(ctx, w, httpx.NewError("submission_in_progress", "a submission for this session is already running", http.StatusConflict))
	case errors.Is(err, services.ErrOrderAlreadyPaid):
		httpx.WriteError(ctx, w, httpx.NewError("order_already_paid", "order is already paid", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUploadFailed):
		httpx.WriteError(ctx, w, httpx.NewError("upload_failed", "document upload failed", http.StatusBadGateway))
	case errors.Is(err, services.ErrPaymentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_unavailable", "payment gateway unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrOrderUnavailable), errors.Is(err, services.ErrOrderPersistFailed):
		httpx.WriteError(ctx, w, httpx.NewError("order_store_unavailable", "order store unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("request_timeout", "request did not complete in time", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

func formatMoney(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

type printSettingsPayload struct {
	ColorMode     string `json:"colorMode"`
	PageSelection string `json:"pageSelection"`
	BWPages       string `json:"bwPages,omitempty"`
	ColorPages    string `json:"colorPages,omitempty"`
	PaperSize     string `json:"paperSize"`
	Orientation   string `json:"orientation"`
	Quality       string `json:"quality"`
	Copies        int    `json:"copies"`
}

func buildSettingsPayload(s domain.PrintSettings) printSettingsPayload {
	return printSettingsPayload{
		ColorMode:     string(s.ColorMode),
		PageSelection: string(s.PageSelection),
		BWPages:       s.BWPages,
		ColorPages:    s.ColorPages,
		PaperSize:     string(s.PaperSize),
		Orientation:   string(s.Orientation),
		Quality:       string(s.Quality),
		Copies:        s.Copies,
	}
}

type documentPayload struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	ContentType    string               `json:"contentType"`
	Size           int64                `json:"size"`
	FileType       string               `json:"fileType"`
	PageCount      int                  `json:"pageCount"`
	NeedsPageCount bool                 `json:"needsPageCount"`
	Settings       printSettingsPayload `json:"settings"`
	AddedAt        string               `json:"addedAt,omitempty"`
}

func buildDocumentPayload(doc domain.Document) documentPayload {
	return documentPayload{
		ID:             doc.ID,
		Name:           doc.Name,
		ContentType:    doc.ContentType,
		Size:           doc.Size,
		FileType:       string(doc.FileType),
		PageCount:      doc.PageCount,
		NeedsPageCount: doc.NeedsPageCount,
		Settings:       buildSettingsPayload(doc.Settings),
		AddedAt:        formatTime(doc.AddedAt),
	}
}

type sessionPayload struct {
	ID        string            `json:"id"`
	Documents []documentPayload `json:"documents"`
	Version   uint64            `json:"version"`
	CreatedAt string            `json:"createdAt"`
	UpdatedAt string            `json:"updatedAt"`
}

func buildSessionPayload(session domain.UploadSession) sessionPayload {
	docs := make([]documentPayload, 0, len(session.Documents))
	for _, doc := range session.Documents {
		docs = append(docs, buildDocumentPayload(doc))
	}
	return sessionPayload{
		ID:        session.ID,
		Documents: docs,
		Version:   session.Version,
		CreatedAt: formatTime(session.CreatedAt),
		UpdatedAt: formatTime(session.UpdatedAt),
	}
}

type documentQuotePayload struct {
	DocumentID         string   `json:"documentId"`
	Name               string   `json:"name"`
	FileType           string   `json:"fileType"`
	EffectivePageCount int      `json:"effectivePageCount"`
	PerPage            string   `json:"perPage"`
	Copies             int      `json:"copies"`
	Price              string   `json:"price"`
	Problems           []string `json:"problems,omitempty"`
}

type quotePayload struct {
	SessionID      string                 `json:"sessionId"`
	Currency       string                 `json:"currency"`
	Documents      []documentQuotePayload `json:"documents"`
	Total          string                 `json:"total"`
	TotalDisplay   string                 `json:"totalDisplay"`
	ShopOpen       bool                   `json:"shopOpen"`
	PricingAsOf    string                 `json:"pricingAsOf,omitempty"`
	SessionVersion uint64                 `json:"sessionVersion"`
}

func buildQuotePayload(q domain.Quote) quotePayload {
	docs := make([]documentQuotePayload, 0, len(q.Documents))
	for _, d := range q.Documents {
		docs = append(docs, documentQuotePayload{
			DocumentID:         d.DocumentID,
			Name:               d.Name,
			FileType:           string(d.FileType),
			EffectivePageCount: d.EffectivePageCount,
			PerPage:            formatMoney(d.PerPage),
			Copies:             d.Copies,
			Price:              formatMoney(d.Price),
			Problems:           d.Problems,
		})
	}
	return quotePayload{
		SessionID:      q.SessionID,
		Currency:       q.Currency,
		Documents:      docs,
		Total:          formatMoney(q.Total),
		TotalDisplay:   q.TotalDisplay,
		ShopOpen:       q.ShopOpen,
		PricingAsOf:    formatTime(q.PricingAsOf),
		SessionVersion: q.SessionVersion,
	}
}

type orderDocumentPayload struct {
	ID                 string               `json:"id"`
	Name               string               `json:"name"`
	URL                string               `json:"url"`
	Size               int64                `json:"size"`
	FileType           string               `json:"fileType"`
	PageCount          int                  `json:"pageCount"`
	EffectivePageCount int                  `json:"effectivePageCount"`
	Settings           printSettingsPayload `json:"settings"`
	Price              string               `json:"price"`
}

type orderPayload struct {
	ID                   string                 `json:"id"`
	Documents            []orderDocumentPayload `json:"documents"`
	DocumentSize         int64                  `json:"documentSize"`
	PageCount            int                    `json:"pageCount"`
	PaymentStatus        string                 `json:"paymentStatus"`
	PaymentAmount        string                 `json:"paymentAmount"`
	PaymentFailureReason string                 `json:"paymentFailureReason,omitempty"`
	Status               string                 `json:"status"`
	IsPaid               bool                   `json:"isPaid"`
	CanAutoPrint         bool                   `json:"canAutoPrint"`
	QueuePriority        int                    `json:"queuePriority"`
	FileType             string                 `json:"fileType"`
	CreatedAt            string                 `json:"createdAt"`
	UpdatedAt            string                 `json:"updatedAt,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	docs := make([]orderDocumentPayload, 0, len(order.Documents))
	for _, d := range order.Documents {
		docs = append(docs, orderDocumentPayload{
			ID:                 d.ID,
			Name:               d.Name,
			URL:                d.URL,
			Size:               d.Size,
			FileType:           string(d.FileType),
			PageCount:          d.PageCount,
			EffectivePageCount: d.EffectivePageCount,
			Settings:           buildSettingsPayload(d.Settings),
			Price:              formatMoney(d.Price),
		})
	}
	return orderPayload{
		ID:                   order.ID,
		Documents:            docs,
		DocumentSize:         order.DocumentSize,
		PageCount:            order.PageCount,
		PaymentStatus:        string(order.PaymentStatus),
		PaymentAmount:        formatMoney(order.PaymentAmount),
		PaymentFailureReason: order.PaymentFailureReason,
		Status:               string(order.Status),
		IsPaid:               order.IsPaid,
		CanAutoPrint:         order.CanAutoPrint,
		QueuePriority:        order.QueuePriority,
		FileType:             order.FileType,
		CreatedAt:            formatTime(order.CreatedAt),
		UpdatedAt:            formatTime(order.UpdatedAt),
	}
}

func buildOrderList(orders []domain.Order) []orderPayload {
	out := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		out = append(out, buildOrderPayload(order))
	}
	return out
}

type chargePayload struct {
	Provider     string `json:"provider"`
	IntentID     string `json:"intentId"`
	ClientSecret string `json:"clientSecret"`
	AmountMinor  int64  `json:"amountMinor"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
}

func buildChargePayload(c payments.Charge) chargePayload {
	return chargePayload{
		Provider:     c.Provider,
		IntentID:     c.IntentID,
		ClientSecret: c.ClientSecret,
		AmountMinor:  c.AmountMinor,
		Currency:     c.Currency,
		Status:       string(c.Status),
	}
}
