// Package checkout implements the Checkout/Webhook Orchestrator: the
// state machine that drives an order from CREATED through HELD to one of
// its terminal states, composing the ledger accounting layer, the
// reservation session store, and the durable order store.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"

	"github.com/ewent-la/reservation-core/internal/accounting"
	"github.com/ewent-la/reservation-core/internal/orders"
	"github.com/ewent-la/reservation-core/internal/session"
	"github.com/ewent-la/reservation-core/internal/webhook"
	"github.com/ewent-la/reservation-core/monitoring"
	"github.com/ewent-la/reservation-core/utils"
)

// ErrSoldOut is returned by Checkout when the requested ticket class has
// no remaining capacity.
var ErrSoldOut = errors.New("checkout: sold out")

// ErrUnknownOrder is returned when an order id or payment intent id does
// not correlate to any known order.
var ErrUnknownOrder = errors.New("checkout: unknown order")

// Accounting is the subset of the resource accounting layer the
// orchestrator drives.
type Accounting interface {
	Hold(ctx context.Context, orderID tbtypes.Uint128, class string, wantGoodie bool, timeoutSeconds uint32) (accounting.HoldResult, error)
	Post(ctx context.Context, orderID, ticketPendingID tbtypes.Uint128, goodiePendingID *tbtypes.Uint128, class string) (accounting.PostResult, error)
	Void(ctx context.Context, orderID, ticketPendingID tbtypes.Uint128, goodiePendingID *tbtypes.Uint128) error
}

// Sessions is the subset of the reservation session store the
// orchestrator drives.
type Sessions interface {
	Put(ctx context.Context, orderID tbtypes.Uint128, data session.Data) error
	Get(ctx context.Context, orderID tbtypes.Uint128) (session.Data, error)
	Delete(ctx context.Context, orderID tbtypes.Uint128) error
	BindIntent(ctx context.Context, intentID string, orderID tbtypes.Uint128) error
	ResolveIntent(ctx context.Context, intentID string) (tbtypes.Uint128, error)
}

// Orders is the subset of the order store the orchestrator drives.
type Orders interface {
	Insert(o orders.Order) (orders.Order, error)
	Get(orderID string) (orders.Order, error)
	GetByIntent(intentID string) (orders.Order, error)
	UpdateStatus(orderID string, fromStatuses []orders.Status, to orders.Status, extra map[string]any) error
}

// Provider is the subset of the payment provider adapter checkout needs
// to start a session. Satisfied by *mockprovider.Provider.
type Provider interface {
	CreateSession(orderID string, amountCents int64, currency string) (intentID, redirectURL string)
}

// Notifier is the subset of the realtime fan-out the orchestrator drives.
// Satisfied by *realtime.Publisher, including a nil one.
type Notifier interface {
	PublishStatus(orderID, status string)
}

// Orchestrator composes the Ledger Accounting layer, Reservation Session
// Store, Order Store, and payment provider into the checkout/webhook
// state machine.
type Orchestrator struct {
	accounting Accounting
	sessions   Sessions
	orders     Orders
	provider   Provider
	notifier   Notifier

	holdTimeout     time.Duration
	sweepGrace      time.Duration
	webhookSecret   string
	webhookSkew     time.Duration
	amountForClass  func(class string) (amountCents int64, currency string)
}

// AmountForClass is the pricing table the orchestrator uses when it
// persists an order's amount_cents/currency. Out of scope for the ledger
// itself — the ledger only ever moves unit counts, never money.
type AmountForClass = func(class string) (amountCents int64, currency string)

func New(acc Accounting, sessions Sessions, store Orders, provider Provider, notifier Notifier, holdTimeout, sweepGrace, webhookSkew time.Duration, webhookSecret string, pricing AmountForClass) *Orchestrator {
	return &Orchestrator{
		accounting:     acc,
		sessions:       sessions,
		orders:         store,
		provider:       provider,
		notifier:       notifier,
		holdTimeout:    holdTimeout,
		sweepGrace:     sweepGrace,
		webhookSecret:  webhookSecret,
		webhookSkew:    webhookSkew,
		amountForClass: pricing,
	}
}

func newOrderID() tbtypes.Uint128 {
	return tbtypes.BytesToUint128(uuid.New())
}

// CheckoutResult is returned to the HTTP layer on a successful checkout.
type CheckoutResult struct {
	OrderID     string
	RedirectURL string
}

// Checkout places a hold for one ticket of the given class (plus a
// goodie, if any remain) and starts a payment-provider session. Returns
// ErrSoldOut if the class has no remaining capacity.
func (o *Orchestrator) Checkout(ctx context.Context, class, customerEmail string) (CheckoutResult, error) {
	orderID := newOrderID()
	amountCents, currency := o.amountForClass(class)

	hold, err := o.accounting.Hold(ctx, orderID, class, true, uint32(o.holdTimeout.Seconds()))
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("checkout: hold: %w", err)
	}

	orderIDStr := session.EncodeID(orderID)

	if !hold.TicketOK {
		if _, err := o.orders.Insert(orders.Order{
			OrderID:         orderIDStr,
			Class:           class,
			AmountCents:     amountCents,
			Currency:        currency,
			CreatedAt:       time.Now(),
			TicketPendingID: session.EncodeID(hold.TicketPendingID),
			PaymentIntentID: "none-" + orderIDStr,
			Status:          orders.StatusFailed,
			CustomerEmail:   customerEmail,
		}); err != nil {
			log.Printf("checkout: persist sold-out order %s: %v", orderIDStr, err)
		}
		monitoring.TrackOrderTransition("", string(orders.StatusFailed))
		return CheckoutResult{}, ErrSoldOut
	}

	goodiePendingID := ""
	if hold.GoodiePendingID != nil {
		goodiePendingID = session.EncodeID(*hold.GoodiePendingID)
	}

	intentID, redirectURL := o.provider.CreateSession(orderIDStr, amountCents, currency)
	now := time.Now()
	holdExpiresAt := now.Add(o.holdTimeout)

	order := orders.Order{
		OrderID:         orderIDStr,
		Class:           class,
		AmountCents:     amountCents,
		Currency:        currency,
		CreatedAt:       now,
		HoldExpiresAt:   holdExpiresAt,
		TicketPendingID: session.EncodeID(hold.TicketPendingID),
		GoodiePendingID: goodiePendingID,
		PaymentIntentID: intentID,
		Status:          orders.StatusCreated,
		CustomerEmail:   customerEmail,
	}
	if _, err := o.orders.Insert(order); err != nil {
		return CheckoutResult{}, fmt.Errorf("checkout: insert order: %w", err)
	}
	monitoring.TrackOrderTransition("", string(orders.StatusCreated))

	if err := o.sessions.Put(ctx, orderID, session.Data{
		OrderID:         orderIDStr,
		Class:           class,
		TicketPendingID: session.EncodeID(hold.TicketPendingID),
		GoodiePendingID: goodiePendingID,
		HoldExpiresAt:   holdExpiresAt.Unix(),
		PaymentIntentID: intentID,
	}); err != nil {
		log.Printf("checkout: write session for order %s: %v", orderIDStr, err)
	}
	if err := o.sessions.BindIntent(ctx, intentID, orderID); err != nil {
		log.Printf("checkout: bind intent %s for order %s: %v", intentID, orderIDStr, err)
	}

	if err := o.orders.UpdateStatus(orderIDStr, []orders.Status{orders.StatusCreated}, orders.StatusHeld, nil); err != nil && !errors.Is(err, orders.ErrConditionLost) {
		log.Printf("checkout: transition order %s to HELD: %v", orderIDStr, err)
	}
	monitoring.TrackOrderTransition(string(orders.StatusCreated), string(orders.StatusHeld))
	o.notifier.PublishStatus(orderIDStr, string(orders.StatusHeld))

	return CheckoutResult{OrderID: orderIDStr, RedirectURL: redirectURL}, nil
}

// AmountForClass exposes the configured pricing table so the HTTP layer can
// render a class's price before an order exists for it.
func (o *Orchestrator) AmountForClass(class string) (amountCents int64, currency string) {
	return o.amountForClass(class)
}

// GetOrder returns the current state of an order for client polling.
func (o *Orchestrator) GetOrder(orderID string) (orders.Order, error) {
	ord, err := o.orders.Get(orderID)
	if err != nil {
		return orders.Order{}, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	return ord, nil
}

// HandleWebhook verifies, correlates, and applies a payment-provider
// callback. Returns nil (200 OK) for a verified signature against a known,
// non-terminal order, and also for a genuine duplicate delivery against an
// order that already reached a terminal state — that is an idempotent
// no-op, not an error. A bad signature, an unknown intent, or an unknown
// order are all returned as errors (wrapping ErrUnknownOrder for the
// latter two) so the HTTP layer can answer with a 4xx the provider will not
// retry forever.
func (o *Orchestrator) HandleWebhook(ctx context.Context, body []byte) error {
	ev, err := webhook.Verify(body, o.webhookSecret, time.Now(), o.webhookSkew)
	if err != nil {
		monitoring.TrackWebhookEvent("unknown", "rejected")
		return fmt.Errorf("checkout: webhook: %w", err)
	}

	orderID, err := o.sessions.ResolveIntent(ctx, ev.IntentID)
	var orderIDStr string
	var ord orders.Order
	if err != nil {
		ord, err = o.orders.GetByIntent(ev.IntentID)
		if err != nil {
			monitoring.TrackWebhookEvent(ev.Event, "unknown_intent")
			return fmt.Errorf("checkout: webhook: %w: intent %s", ErrUnknownOrder, ev.IntentID)
		}
		orderIDStr = ord.OrderID
		orderID, err = session.DecodeID(orderIDStr)
		if err != nil {
			monitoring.TrackWebhookEvent(ev.Event, "malformed_order_id")
			return fmt.Errorf("checkout: webhook: %w: malformed order id %s", ErrUnknownOrder, orderIDStr)
		}
	} else {
		orderIDStr = session.EncodeID(orderID)
		ord, err = o.orders.Get(orderIDStr)
		if err != nil {
			monitoring.TrackWebhookEvent(ev.Event, "unknown_order")
			return fmt.Errorf("checkout: webhook: %w: order %s", ErrUnknownOrder, orderIDStr)
		}
	}

	if orders.Terminal[ord.Status] {
		monitoring.TrackWebhookEvent(ev.Event, "duplicate")
		return nil
	}

	ticketPendingID, err := session.DecodeID(ord.TicketPendingID)
	if err != nil {
		monitoring.TrackWebhookEvent(ev.Event, "malformed_order_id")
		return fmt.Errorf("checkout: webhook: %w: malformed ticket pending id on order %s", ErrUnknownOrder, orderIDStr)
	}
	var goodiePendingID *tbtypes.Uint128
	if ord.GoodiePendingID != "" {
		id, err := session.DecodeID(ord.GoodiePendingID)
		if err == nil {
			goodiePendingID = &id
		}
	}

	switch ev.Event {
	case webhook.EventPaid:
		o.applyPaid(ctx, orderID, orderIDStr, ord, ticketPendingID, goodiePendingID)
	case webhook.EventFailed:
		o.applyFailed(ctx, orderID, orderIDStr, ticketPendingID, goodiePendingID)
	default:
		monitoring.TrackWebhookEvent(ev.Event, "unrecognized")
		return nil
	}

	return nil
}

func (o *Orchestrator) applyPaid(ctx context.Context, orderID tbtypes.Uint128, orderIDStr string, ord orders.Order, ticketPendingID tbtypes.Uint128, goodiePendingID *tbtypes.Uint128) {
	post, err := o.accounting.Post(ctx, orderID, ticketPendingID, goodiePendingID, ord.Class)
	if err != nil {
		log.Printf("checkout: post order %s: %v", orderIDStr, err)
		monitoring.TrackWebhookEvent(webhook.EventPaid, "post_error")
		return
	}

	to := orders.StatusPaid
	extra := map[string]any{"paid_at": time.Now()}
	if !post.TicketPosted {
		to = orders.StatusPaidUnfulfilled
	} else if code, err := utils.GenerateCode(4); err == nil {
		extra["ticket_code"] = code
	}
	if err := o.orders.UpdateStatus(orderIDStr, []orders.Status{orders.StatusHeld}, to, extra); err != nil {
		if errors.Is(err, orders.ErrConditionLost) {
			monitoring.TrackWebhookEvent(webhook.EventPaid, "duplicate")
			return
		}
		log.Printf("checkout: transition order %s to %s: %v", orderIDStr, to, err)
		return
	}

	_ = o.sessions.Delete(ctx, orderID)
	monitoring.TrackOrderTransition(string(orders.StatusHeld), string(to))
	monitoring.TrackWebhookEvent(webhook.EventPaid, "accepted")
	o.notifier.PublishStatus(orderIDStr, string(to))

	if to == orders.StatusPaidUnfulfilled {
		log.Printf("checkout: order %s paid but unfulfilled, needs refund reconciliation", orderIDStr)
	}
}

func (o *Orchestrator) applyFailed(ctx context.Context, orderID tbtypes.Uint128, orderIDStr string, ticketPendingID tbtypes.Uint128, goodiePendingID *tbtypes.Uint128) {
	if err := o.accounting.Void(ctx, orderID, ticketPendingID, goodiePendingID); err != nil {
		log.Printf("checkout: void order %s: %v", orderIDStr, err)
		monitoring.TrackWebhookEvent(webhook.EventFailed, "void_error")
		return
	}

	if err := o.orders.UpdateStatus(orderIDStr, []orders.Status{orders.StatusHeld}, orders.StatusCanceled, nil); err != nil {
		if errors.Is(err, orders.ErrConditionLost) {
			monitoring.TrackWebhookEvent(webhook.EventFailed, "duplicate")
			return
		}
		log.Printf("checkout: transition order %s to CANCELED: %v", orderIDStr, err)
		return
	}

	_ = o.sessions.Delete(ctx, orderID)
	monitoring.TrackOrderTransition(string(orders.StatusHeld), string(orders.StatusCanceled))
	monitoring.TrackWebhookEvent(webhook.EventFailed, "accepted")
	o.notifier.PublishStatus(orderIDStr, string(orders.StatusCanceled))
}

// SweepTimedOutHolds scans for HELD orders whose hold has expired past
// the configured grace window, voids their pending transfers (safe even
// if the ledger already auto-expired them), and transitions them to
// TIMEOUT. Returns the number of orders it moved.
func (o *Orchestrator) SweepTimedOutHolds(ctx context.Context, expired []orders.Order) int {
	n := 0
	for _, ord := range expired {
		ticketPendingID, err := session.DecodeID(ord.TicketPendingID)
		if err != nil {
			continue
		}
		var goodiePendingID *tbtypes.Uint128
		if ord.GoodiePendingID != "" {
			if id, err := session.DecodeID(ord.GoodiePendingID); err == nil {
				goodiePendingID = &id
			}
		}
		orderID, err := session.DecodeID(ord.OrderID)
		if err != nil {
			continue
		}

		if err := o.accounting.Void(ctx, orderID, ticketPendingID, goodiePendingID); err != nil {
			log.Printf("checkout: sweep void order %s: %v", ord.OrderID, err)
			continue
		}

		if err := o.orders.UpdateStatus(ord.OrderID, []orders.Status{orders.StatusHeld}, orders.StatusTimeout, nil); err != nil {
			if !errors.Is(err, orders.ErrConditionLost) {
				log.Printf("checkout: sweep transition order %s: %v", ord.OrderID, err)
			}
			continue
		}

		_ = o.sessions.Delete(ctx, orderID)
		monitoring.TrackOrderTransition(string(orders.StatusHeld), string(orders.StatusTimeout))
		o.notifier.PublishStatus(ord.OrderID, string(orders.StatusTimeout))
		n++
	}
	return n
}
