package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/printdesk/api/internal/payments"
	"github.com/printdesk/api/internal/platform/auth"
	"github.com/printdesk/api/internal/platform/httpx"
	"github.com/printdesk/api/internal/services"
)

const maxWebhookBodySize = 64 * 1024

// PaymentGateway is the part of payments.Manager the HTTP layer drives.
type PaymentGateway interface {
	HandleWebhook(ctx context.Context, providerKey string, payload []byte, signature string) error
	Reconcile(ctx context.Context, providerKey, intentID string) (payments.ChargeResult, error)
}

var _ PaymentGateway = (*payments.Manager)(nil)

// PaymentHandlers serves provider webhooks and the internal payment endpoints.
type PaymentHandlers struct {
	gateway  PaymentGateway
	payments services.PaymentService
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentHandlers constructs payment handlers. logger may be nil.
func NewPaymentHandlers(gateway PaymentGateway, paymentsSvc services.PaymentService, logger func(ctx context.Context, event string, fields map[string]any)) *PaymentHandlers {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PaymentHandlers{gateway: gateway, payments: paymentsSvc, logger: logger}
}

// WebhookRoutes registers provider callbacks under /webhooks.
func (h *PaymentHandlers) WebhookRoutes(r chi.Router) {
	r.Post("/payments/{provider}", h.providerWebhook)
}

// InternalRoutes registers service-to-service payment routes under /internal. Callers are
// authenticated by the group middleware.
func (h *PaymentHandlers) InternalRoutes(r chi.Router) {
	r.Post("/orders/{orderID}/payment", h.confirmPayment)
	r.Post("/payments/{provider}/intents/{intentID}:reconcile", h.reconcile)
}

func (h *PaymentHandlers) providerWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.gateway == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payments are not configured", http.StatusServiceUnavailable))
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read webhook payload", http.StatusBadRequest))
		return
	}

	provider := chi.URLParam(r, "provider")
	err = h.gateway.HandleWebhook(ctx, provider, payload, webhookSignature(r, provider))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, payments.ErrInvalidSignature):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
	case errors.Is(err, payments.ErrUnsupportedProvider):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_provider", "payment provider not supported", http.StatusNotFound))
	default:
		// A 5xx makes the provider redeliver the event.
		h.logger(ctx, "payment.webhook.failed", map[string]any{"provider": provider, "error": err})
		httpx.WriteError(ctx, w, httpx.NewError("webhook_processing_failed", "unable to process webhook", http.StatusInternalServerError))
	}
}

func webhookSignature(r *http.Request, provider string) string {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "stripe":
		return r.Header.Get("Stripe-Signature")
	default:
		return r.Header.Get("X-Webhook-Signature")
	}
}

type confirmPaymentRequest struct {
	GatewayOrderID string `json:"gatewayOrderId"`
	TransactionID  string `json:"transactionId"`
	Amount         string `json:"amount"`
}

func (h *PaymentHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req confirmPaymentRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be a payment confirmation", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "transactionId is required", http.StatusBadRequest))
		return
	}

	orderID := chi.URLParam(r, "orderID")
	order, err := h.payments.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		OrderID:        orderID,
		GatewayOrderID: req.GatewayOrderID,
		TransactionID:  req.TransactionID,
		Amount:         req.Amount,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	fields := map[string]any{"orderId": orderID, "transactionId": req.TransactionID}
	if caller, ok := auth.ServiceIdentityFromContext(ctx); ok {
		fields["caller"] = caller.Subject
	}
	h.logger(ctx, "payment.confirmed", fields)
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *PaymentHandlers) reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.gateway == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payments are not configured", http.StatusServiceUnavailable))
		return
	}
	result, err := h.gateway.Reconcile(ctx, chi.URLParam(r, "provider"), chi.URLParam(r, "intentID"))
	switch {
	case errors.Is(err, payments.ErrUnsupportedProvider):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_provider", "payment provider not supported", http.StatusNotFound))
		return
	case err != nil:
		h.logger(ctx, "payment.reconcile.failed", map[string]any{"intentId": chi.URLParam(r, "intentID"), "error": err})
		httpx.WriteError(ctx, w, httpx.NewError("reconcile_failed", "unable to reconcile payment", http.StatusBadGateway))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"provider":      result.Provider,
		"orderId":       result.OrderRef,
		"intentId":      result.IntentID,
		"transactionId": result.TransactionID,
		"status":        string(result.Status),
		"amount":        formatMoney(result.Amount),
	})
}
