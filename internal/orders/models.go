// Package orders is the durable record of checkout orders and their
// terminal or intermediate states, backed by a PocketBase collection.
package orders

import (
	"time"

	"github.com/pocketbase/pocketbase/core"
)

// Status is an order's position in the checkout state machine.
type Status string

const (
	StatusCreated         Status = "CREATED"
	StatusHeld            Status = "HELD"
	StatusPaid            Status = "PAID"
	StatusPaidUnfulfilled Status = "PAID_UNFULFILLED"
	StatusFailed          Status = "FAILED"
	StatusCanceled        Status = "CANCELED"
	StatusTimeout         Status = "TIMEOUT"
)

// Terminal statuses. Once reached, no subsequent webhook or sweep may
// mutate the order again.
var Terminal = map[Status]bool{
	StatusPaid:            true,
	StatusPaidUnfulfilled: true,
	StatusFailed:          true,
	StatusCanceled:        true,
	StatusTimeout:         true,
}

// Order is the persisted checkout entity, per the order fields carried in
// the reservation session plus the fields only the store needs durably.
type Order struct {
	RecordID        string
	OrderID         string // hex-encoded 128-bit ledger id, session.EncodeID form
	Class           string
	AmountCents     int64
	Currency        string
	CreatedAt       time.Time
	HoldExpiresAt   time.Time
	TicketPendingID string
	GoodiePendingID string // empty if no goodie hold was placed
	PaymentIntentID string
	Status          Status
	PaidAt          time.Time
	TicketCode      string // issued only on PAID
	CustomerEmail   string
}

const collectionName = "orders"

func recordFromOrder(record *core.Record, o Order) {
	record.Set("order_id", o.OrderID)
	record.Set("class", o.Class)
	record.Set("amount_cents", o.AmountCents)
	record.Set("currency", o.Currency)
	record.Set("hold_expires_at", o.HoldExpiresAt)
	record.Set("ticket_pending_id", o.TicketPendingID)
	record.Set("goodie_pending_id", o.GoodiePendingID)
	record.Set("payment_intent_id", o.PaymentIntentID)
	record.Set("status", string(o.Status))
	if !o.PaidAt.IsZero() {
		record.Set("paid_at", o.PaidAt)
	}
	record.Set("ticket_code", o.TicketCode)
	record.Set("customer_email", o.CustomerEmail)
}

func orderFromRecord(record *core.Record) Order {
	return Order{
		RecordID:        record.Id,
		OrderID:         record.GetString("order_id"),
		Class:           record.GetString("class"),
		AmountCents:     int64(record.GetInt("amount_cents")),
		Currency:        record.GetString("currency"),
		CreatedAt:       record.GetDateTime("created").Time(),
		HoldExpiresAt:   record.GetDateTime("hold_expires_at").Time(),
		TicketPendingID: record.GetString("ticket_pending_id"),
		GoodiePendingID: record.GetString("goodie_pending_id"),
		PaymentIntentID: record.GetString("payment_intent_id"),
		Status:          Status(record.GetString("status")),
		PaidAt:          record.GetDateTime("paid_at").Time(),
		TicketCode:      record.GetString("ticket_code"),
		CustomerEmail:   record.GetString("customer_email"),
	}
}
