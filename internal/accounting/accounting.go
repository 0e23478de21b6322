// Package accounting maps ticket classes and goodies onto ledger account
// pairs and expresses hold/post/void as TigerBeetle transfer primitives
// over the ledger Batcher.
package accounting

import (
	"context"
	"fmt"
	"log"

	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"

	"github.com/ewent-la/reservation-core/internal/ledger"
)

// Ledger is the subset of the Batcher's surface Accounting drives. A
// narrow interface so tests can swap in a fake without a real batcher or
// TigerBeetle cluster.
type Ledger interface {
	CreateAccounts(ctx context.Context, items []tbtypes.Account) ([]tbtypes.CreateAccountResult, error)
	CreateTransfers(ctx context.Context, items []tbtypes.Transfer) ([]tbtypes.CreateTransferResult, error)
}

// Supply carries the total unit count each scarce resource is funded with
// at process start.
type Supply struct {
	Goodies int64
	ClassA  int64
	ClassB  int64
}

// Accounting wraps a ledger.Batcher with the domain's account topology.
type Accounting struct {
	batcher Ledger
}

func New(batcher Ledger) *Accounting {
	return &Accounting{batcher: batcher}
}

// InitializeSupply creates the fixed account universe and funds each
// budget account from its spent account's side, the spend-side invariant
// holding from the very first transfer. Safe to call on every process
// start: account creation and funding transfers are both idempotent.
func (a *Accounting) InitializeSupply(ctx context.Context, supply Supply) error {
	accounts := make([]tbtypes.Account, 0, 8)
	for _, pair := range ledger.AllPairs() {
		spentFlags := tbtypes.AccountFlags{}
		if pair.Name != ledger.RestartCounterPair.Name {
			spentFlags.CreditsMustNotExceedDebits = true
		}
		accounts = append(accounts,
			tbtypes.Account{ID: pair.SpentID(), Ledger: pair.Ledger, Code: pair.Code, Flags: spentFlags.ToUint16()},
			tbtypes.Account{ID: pair.BudgetID(), Ledger: pair.Ledger, Code: pair.Code},
		)
	}

	results, err := a.batcher.CreateAccounts(ctx, accounts)
	if err != nil {
		return fmt.Errorf("accounting: create accounts: %w", err)
	}
	for i, r := range results {
		if r != tbtypes.AccountOK && r != tbtypes.AccountExists {
			return fmt.Errorf("accounting: create account %s: result %v", accounts[i].ID, r)
		}
	}

	funding := []tbtypes.Transfer{
		fundingTransfer(ledger.GoodiesPair, uint64(supply.Goodies)),
		fundingTransfer(ledger.ClassATicketsPair, uint64(supply.ClassA)),
		fundingTransfer(ledger.ClassBTicketsPair, uint64(supply.ClassB)),
		bootTransfer(),
	}
	tresults, err := a.batcher.CreateTransfers(ctx, funding)
	if err != nil {
		return fmt.Errorf("accounting: fund accounts: %w", err)
	}
	for i, r := range tresults {
		if r != tbtypes.TransferOK && r != tbtypes.TransferExists {
			return fmt.Errorf("accounting: fund %s: result %v", funding[i].ID, r)
		}
	}
	return nil
}

func fundingTransfer(pair ledger.AccountPair, total uint64) tbtypes.Transfer {
	return tbtypes.Transfer{
		ID:              ledger.FundingTransferID(pair),
		DebitAccountID:  pair.SpentID(),
		CreditAccountID: pair.BudgetID(),
		Amount:          tbtypes.ToUint128(total),
		Ledger:          pair.Ledger,
		Code:            ledger.CodeFunding,
	}
}

// bootTransfer increments the restart counter by one, a new random id per
// boot since every process start is meant to add to the total rather than
// collapse into the same ledger entry.
func bootTransfer() tbtypes.Transfer {
	pair := ledger.RestartCounterPair
	return tbtypes.Transfer{
		ID:              ledger.RandomTransferID(),
		DebitAccountID:  pair.SpentID(),
		CreditAccountID: pair.BudgetID(),
		Amount:          tbtypes.ToUint128(1),
		Ledger:          pair.Ledger,
		Code:            pair.Code,
	}
}

// HoldResult reports the outcome of placing a ticket hold and an optional
// goodie hold for one order.
type HoldResult struct {
	TicketOK        bool
	GoodieOK        bool
	TicketPendingID tbtypes.Uint128
	GoodiePendingID *tbtypes.Uint128
}

// Hold places up to two PENDING transfers for an order: one against the
// ticket class's account pair, and, if wantGoodie, one against the goodie
// pair. The two are submitted together. The goodie outcome never affects
// the ticket outcome; a goodie hold that succeeds alongside a sold-out
// ticket is voided and reported as not held. GoodiePendingID is set only
// when the goodie hold is held.
func (a *Accounting) Hold(ctx context.Context, orderID tbtypes.Uint128, class string, wantGoodie bool, timeoutSeconds uint32) (HoldResult, error) {
	ticketPair, ok := ledger.PairForClass(class)
	if !ok {
		return HoldResult{}, fmt.Errorf("accounting: unknown class %q", class)
	}

	ticketID := ledger.DeriveTransferID(orderID, ledger.KindTicketHold)
	transfers := []tbtypes.Transfer{holdTransfer(ticketID, ticketPair, timeoutSeconds)}

	var goodieID tbtypes.Uint128
	if wantGoodie {
		goodieID = ledger.DeriveTransferID(orderID, ledger.KindGoodieHold)
		transfers = append(transfers, holdTransfer(goodieID, ledger.GoodiesPair, timeoutSeconds))
	}

	results, err := a.batcher.CreateTransfers(ctx, transfers)
	if err != nil {
		return HoldResult{}, fmt.Errorf("accounting: hold: %w", err)
	}

	res := HoldResult{TicketPendingID: ticketID}
	res.TicketOK = resultIsHeld(results[0])
	if err := transientErr(results[0]); err != nil {
		return HoldResult{}, fmt.Errorf("accounting: hold ticket: %w", err)
	}

	if wantGoodie {
		res.GoodieOK = resultIsHeld(results[1])
		if res.GoodieOK {
			res.GoodiePendingID = &goodieID
		}
	}

	if !res.TicketOK && res.GoodieOK {
		// sold out on the ticket leg; a goodie hold that slipped through
		// concurrently must not survive an order that never proceeds.
		if err := a.Void(ctx, orderID, tbtypes.Uint128{}, res.GoodiePendingID); err != nil {
			log.Printf("accounting: void stray goodie hold for order %s: %v", orderID, err)
		}
		res.GoodieOK = false
		res.GoodiePendingID = nil
	}

	return res, nil
}

func holdTransfer(id tbtypes.Uint128, pair ledger.AccountPair, timeoutSeconds uint32) tbtypes.Transfer {
	return tbtypes.Transfer{
		ID:              id,
		DebitAccountID:  pair.BudgetID(),
		CreditAccountID: pair.SpentID(),
		Amount:          tbtypes.ToUint128(1),
		Ledger:          pair.Ledger,
		Code:            ledger.CodeBooking,
		Timeout:         timeoutSeconds,
		Flags:           tbtypes.TransferFlags{Pending: true}.ToUint16(),
	}
}

func resultIsHeld(r tbtypes.CreateTransferResult) bool {
	return r == tbtypes.TransferOK || r == tbtypes.TransferExists
}

// transientErr classifies a create-transfer result as a propagatable
// error. ExceedsCredits/ExceedsDebits are domain outcomes (sold out /
// goodies exhausted), not transient failures, so they pass through as nil.
func transientErr(r tbtypes.CreateTransferResult) error {
	switch r {
	case tbtypes.TransferOK,
		tbtypes.TransferExists,
		tbtypes.TransferExceedsCredits,
		tbtypes.TransferExceedsDebits:
		return nil
	default:
		return fmt.Errorf("unexpected result %v", r)
	}
}

// PostResult reports whether the ticket and goodie pending transfers for
// an order were successfully committed.
type PostResult struct {
	TicketPosted bool
	GoodiePosted bool
}

// Post commits the pending transfers for an order. If the ticket's
// pending transfer has already expired, Post falls back to an immediate
// (non-pending) transfer against the same account pair before giving up.
func (a *Accounting) Post(ctx context.Context, orderID, ticketPendingID tbtypes.Uint128, goodiePendingID *tbtypes.Uint128, class string) (PostResult, error) {
	ticketPair, ok := ledger.PairForClass(class)
	if !ok {
		return PostResult{}, fmt.Errorf("accounting: unknown class %q", class)
	}

	transfers := []tbtypes.Transfer{postTransfer(ledger.DeriveTransferID(orderID, ledger.KindTicketPost), ticketPendingID)}
	if goodiePendingID != nil {
		transfers = append(transfers, postTransfer(ledger.DeriveTransferID(orderID, ledger.KindGoodiePost), *goodiePendingID))
	}

	results, err := a.batcher.CreateTransfers(ctx, transfers)
	if err != nil {
		return PostResult{}, fmt.Errorf("accounting: post: %w", err)
	}

	var res PostResult
	switch results[0] {
	case tbtypes.TransferOK, tbtypes.TransferExists,
		tbtypes.TransferPendingTransferAlreadyPosted:
		res.TicketPosted = true
	case tbtypes.TransferPendingTransferExpired,
		tbtypes.TransferPendingTransferAlreadyVoided:
		posted, err := a.retryImmediate(ctx, orderID, ticketPair)
		if err != nil {
			return PostResult{}, fmt.Errorf("accounting: immediate retry: %w", err)
		}
		res.TicketPosted = posted
	default:
		return PostResult{}, fmt.Errorf("accounting: post ticket: unexpected result %v", results[0])
	}

	if goodiePendingID != nil {
		switch results[1] {
		case tbtypes.TransferOK, tbtypes.TransferExists,
			tbtypes.TransferPendingTransferAlreadyPosted:
			res.GoodiePosted = true
		default:
			res.GoodiePosted = false
		}
	}

	return res, nil
}

func postTransfer(id, pendingID tbtypes.Uint128) tbtypes.Transfer {
	return tbtypes.Transfer{
		ID:        id,
		PendingID: pendingID,
		Flags:     tbtypes.TransferFlags{PostPendingTransfer: true}.ToUint16(),
	}
}

func (a *Accounting) retryImmediate(ctx context.Context, orderID tbtypes.Uint128, pair ledger.AccountPair) (bool, error) {
	t := tbtypes.Transfer{
		ID:              ledger.DeriveTransferID(orderID, ledger.KindTicketImmediate),
		DebitAccountID:  pair.BudgetID(),
		CreditAccountID: pair.SpentID(),
		Amount:          tbtypes.ToUint128(1),
		Ledger:          pair.Ledger,
		Code:            ledger.CodeBooking,
	}
	results, err := a.batcher.CreateTransfers(ctx, []tbtypes.Transfer{t})
	if err != nil {
		return false, err
	}
	switch results[0] {
	case tbtypes.TransferOK, tbtypes.TransferExists:
		return true, nil
	case tbtypes.TransferExceedsCredits, tbtypes.TransferExceedsDebits:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected result %v", results[0])
	}
}

// Void cancels the pending transfers for an order. An already-expired or
// already-voided pending is treated as success, matching the ledger's own
// idempotent handling of a pending transfer resolved twice.
func (a *Accounting) Void(ctx context.Context, orderID tbtypes.Uint128, ticketPendingID tbtypes.Uint128, goodiePendingID *tbtypes.Uint128) error {
	var transfers []tbtypes.Transfer
	if ticketPendingID != (tbtypes.Uint128{}) {
		transfers = append(transfers, voidTransfer(ledger.DeriveTransferID(orderID, ledger.KindTicketVoid), ticketPendingID))
	}
	if goodiePendingID != nil {
		transfers = append(transfers, voidTransfer(ledger.DeriveTransferID(orderID, ledger.KindGoodieVoid), *goodiePendingID))
	}
	if len(transfers) == 0 {
		return nil
	}

	results, err := a.batcher.CreateTransfers(ctx, transfers)
	if err != nil {
		return fmt.Errorf("accounting: void: %w", err)
	}
	for i, r := range results {
		switch r {
		case tbtypes.TransferOK,
			tbtypes.TransferExists,
			tbtypes.TransferPendingTransferExpired,
			tbtypes.TransferPendingTransferAlreadyVoided:
			continue
		default:
			return fmt.Errorf("accounting: void %s: unexpected result %v", transfers[i].ID, r)
		}
	}
	return nil
}

func voidTransfer(id, pendingID tbtypes.Uint128) tbtypes.Transfer {
	return tbtypes.Transfer{
		ID:        id,
		PendingID: pendingID,
		Flags:     tbtypes.TransferFlags{VoidPendingTransfer: true}.ToUint16(),
	}
}
