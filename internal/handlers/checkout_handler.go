package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"github.com/ewent-la/reservation-core/internal/checkout"
	"github.com/ewent-la/reservation-core/internal/mockprovider"
	"github.com/ewent-la/reservation-core/internal/ratelimit"
	"github.com/ewent-la/reservation-core/monitoring"
)

// centsToAmount renders the canonical integer cents field as a decimal
// currency string for clients that want to display money rather than count
// it, e.g. "50.00" for 5000 cents.
func centsToAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// CheckoutHandler serves the checkout, order-polling, webhook, and mock
// payment provider routes.
type CheckoutHandler struct {
	orchestrator    *checkout.Orchestrator
	provider        *mockprovider.Provider
	limiter         *ratelimit.Limiter
	webhookDeadline time.Duration
}

func NewCheckoutHandler(o *checkout.Orchestrator, provider *mockprovider.Provider, limiter *ratelimit.Limiter, webhookDeadline time.Duration) *CheckoutHandler {
	return &CheckoutHandler{orchestrator: o, provider: provider, limiter: limiter, webhookDeadline: webhookDeadline}
}

type checkoutRequest struct {
	Class         string `json:"class"`
	CustomerEmail string `json:"customer_email"`
}

// Checkout handles POST /checkout.
func (h *CheckoutHandler) Checkout(e *core.RequestEvent) error {
	allowed, err := h.limiter.Allow(e.Request.Context(), e.Request.RemoteAddr)
	if err != nil {
		return apis.NewInternalServerError("rate limiter error", err)
	}
	if !allowed {
		monitoring.TrackCheckoutRateLimited()
		return apis.NewApiError(http.StatusTooManyRequests, "rate limited, try again shortly", nil)
	}

	var req checkoutRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("invalid checkout request", err)
	}
	if req.Class != "A" && req.Class != "B" {
		return apis.NewBadRequestError("class must be A or B", nil)
	}

	res, err := h.orchestrator.Checkout(e.Request.Context(), req.Class, req.CustomerEmail)
	if err != nil {
		if errors.Is(err, checkout.ErrSoldOut) {
			return apis.NewApiError(http.StatusConflict, "sold out", nil)
		}
		return apis.NewInternalServerError("checkout failed", err)
	}

	amount, currency := h.orchestrator.AmountForClass(req.Class)

	return e.JSON(http.StatusOK, map[string]any{
		"order_id":     res.OrderID,
		"redirect_url": res.RedirectURL,
		"amount":       centsToAmount(amount),
		"currency":     currency,
	})
}

// GetOrder handles GET /orders/{id}.
func (h *CheckoutHandler) GetOrder(e *core.RequestEvent) error {
	orderID := e.Request.PathValue("id")
	ord, err := h.orchestrator.GetOrder(orderID)
	if err != nil {
		return apis.NewNotFoundError("order not found", nil)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"order_id":     ord.OrderID,
		"status":       ord.Status,
		"class":        ord.Class,
		"amount_cents": ord.AmountCents,
		"amount":       centsToAmount(ord.AmountCents),
		"currency":     ord.Currency,
		"ticket_code":  ord.TicketCode,
		"created_at":   ord.CreatedAt,
		"paid_at":      ord.PaidAt,
	})
}

// Webhook handles POST /payments/webhook. It runs under a fixed deadline:
// exceeding it answers 504 rather than hanging, which is safe for the
// provider to retry since every handler operation is idempotent on
// order_id.
func (h *CheckoutHandler) Webhook(e *core.RequestEvent) error {
	body, err := io.ReadAll(e.Request.Body)
	if err != nil {
		return apis.NewBadRequestError("could not read webhook body", err)
	}

	ctx, cancel := context.WithTimeout(e.Request.Context(), h.webhookDeadline)
	defer cancel()

	if err := h.orchestrator.HandleWebhook(ctx, body); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return apis.NewApiError(http.StatusGatewayTimeout, "webhook handling deadline exceeded", err)
		}
		if errors.Is(err, checkout.ErrUnknownOrder) {
			return apis.NewNotFoundError("unknown payment intent or order", err)
		}
		return apis.NewApiError(http.StatusUnauthorized, "bad signature", err)
	}

	return e.JSON(http.StatusOK, map[string]any{"received": true})
}

// MockRedirect handles GET /payments/mock/{intent_id}, the mock
// provider's own checkout UI stand-in: visiting it resolves the intent
// with the "outcome" query parameter ("paid" when absent) and redirects to
// the success page when paid, or to the cancel page otherwise.
func (h *CheckoutHandler) MockRedirect(e *core.RequestEvent) error {
	intentID := e.Request.PathValue("intent_id")
	outcome := e.Request.URL.Query().Get("outcome")
	if outcome == "" {
		outcome = "paid"
	}

	target, err := h.provider.Resolve(intentID, outcome)
	if err != nil {
		return apis.NewNotFoundError("unknown payment intent", err)
	}

	return e.Redirect(http.StatusFound, target)
}
