package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/printdesk/api/internal/platform/auth"
	"github.com/printdesk/api/internal/platform/httpx"
	"github.com/printdesk/api/internal/platform/observability"
	"github.com/printdesk/api/internal/services"
)

// OrderHandlers exposes the signed-in customer's orders and the payment start endpoint.
type OrderHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderSync
	payments  services.PaymentService
	heartbeat time.Duration
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderSync, payments services.PaymentService) *OrderHandlers {
	return &OrderHandlers{
		authn:     authn,
		orders:    orders,
		payments:  payments,
		heartbeat: defaultStreamHeartbeat,
	}
}

// Routes registers the order endpoints. They are registered on the version root because the stream
// lives at /orders:stream.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireCustomer(), observability.CaptureIdentity)
		}
		r.Get("/orders", h.listOrders)
		r.Get("/orders:stream", h.streamOrders)
		r.Post("/orders/{orderID}/payments", h.startPayment)
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireCustomer(ctx, w)
	if !ok {
		return
	}
	orders, err := h.orders.ListOrders(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"orders": buildOrderList(orders)})
}

// streamOrders relays the live order list as server-sent events. Feed errors are sent as "error"
// events; the feed keeps restarting on its own.
func (h *OrderHandlers) streamOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireCustomer(ctx, w)
	if !ok {
		return
	}
	feed, err := h.orders.ObserveOrders(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	stream, ok := openEventStream(w, r)
	if !ok {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	orders, errs := feed.Orders(), feed.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stream.heartbeat() != nil {
				return
			}
		case list, ok := <-orders:
			if !ok {
				return
			}
			if stream.send("orders", map[string]any{"orders": buildOrderList(list)}) != nil {
				return
			}
		case feedErr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if stream.send("error", map[string]any{"error": "order_feed_error", "message": feedErr.Error()}) != nil {
				return
			}
		}
	}
}

type startPaymentRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (h *OrderHandlers) startPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireCustomer(ctx, w)
	if !ok {
		return
	}
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payments are not configured", http.StatusServiceUnavailable))
		return
	}
	var req startPaymentRequest
	if r.ContentLength != 0 {
		if err := decodeJSONBody(w, r, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be a JSON object", http.StatusBadRequest))
			return
		}
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = identity.Email
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = identity.Name
	}

	charge, err := h.payments.StartPayment(ctx, services.StartPaymentCommand{
		OrderID:        chi.URLParam(r, "orderID"),
		CustomerID:     identity.UID,
		Email:          email,
		Name:           name,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildChargePayload(charge))
}
