package accounting

import (
	"context"
	"sync"

	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"
)

// fakeLedger is an in-memory stand-in for the Batcher, modeling just
// enough TigerBeetle transfer semantics (pending holds, posts, voids,
// balance caps) to exercise Accounting's decisions. Balances are tracked
// as plain counters keyed by account id rather than by mutating
// tbtypes.Account fields, since only the cap behavior matters here.
type fakeLedger struct {
	mu       sync.Mutex
	known    map[tbtypes.Uint128]bool
	capacity map[tbtypes.Uint128]uint64 // keyed by the credited (spent) account id
	spent    map[tbtypes.Uint128]uint64
	resolved map[tbtypes.Uint128]bool // pending ids already posted or voided
	expired  map[tbtypes.Uint128]bool // pending ids to report as expired
	seen     map[tbtypes.Uint128]tbtypes.CreateTransferResult
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		known:    make(map[tbtypes.Uint128]bool),
		capacity: make(map[tbtypes.Uint128]uint64),
		spent:    make(map[tbtypes.Uint128]uint64),
		resolved: make(map[tbtypes.Uint128]bool),
		expired:  make(map[tbtypes.Uint128]bool),
		seen:     make(map[tbtypes.Uint128]tbtypes.CreateTransferResult),
	}
}

// setCapacity fixes the number of units a spent account may accept
// before ExceedsCredits kicks in, standing in for the spent account's
// CreditsMustNotExceedDebits cap against its funded debits_posted.
func (f *fakeLedger) setCapacity(spentAccountID tbtypes.Uint128, n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capacity[spentAccountID] = n
}

func (f *fakeLedger) expireNext(id tbtypes.Uint128) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired[id] = true
}

func (f *fakeLedger) CreateAccounts(_ context.Context, items []tbtypes.Account) ([]tbtypes.CreateAccountResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tbtypes.CreateAccountResult, len(items))
	for i, a := range items {
		if f.known[a.ID] {
			out[i] = tbtypes.AccountExists
			continue
		}
		f.known[a.ID] = true
		out[i] = tbtypes.AccountOK
	}
	return out, nil
}

func (f *fakeLedger) CreateTransfers(_ context.Context, items []tbtypes.Transfer) ([]tbtypes.CreateTransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tbtypes.CreateTransferResult, len(items))
	for i, t := range items {
		out[i] = f.apply(t)
	}
	return out, nil
}

func (f *fakeLedger) apply(t tbtypes.Transfer) tbtypes.CreateTransferResult {
	if r, ok := f.seen[t.ID]; ok {
		return r
	}

	if t.PendingID != (tbtypes.Uint128{}) {
		// post or void of an existing pending transfer.
		var result tbtypes.CreateTransferResult
		switch {
		case f.expired[t.PendingID]:
			result = tbtypes.TransferPendingTransferExpired
		case f.resolved[t.PendingID]:
			result = tbtypes.TransferPendingTransferAlreadyVoided
		default:
			f.resolved[t.PendingID] = true
			result = tbtypes.TransferOK
		}
		f.seen[t.ID] = result
		return result
	}

	// immediate or pending hold transfer: credit leg is the spent account.
	limit, hasLimit := f.capacity[t.CreditAccountID]
	if hasLimit && f.spent[t.CreditAccountID]+1 > limit {
		f.seen[t.ID] = tbtypes.TransferExceedsCredits
		return tbtypes.TransferExceedsCredits
	}
	f.spent[t.CreditAccountID]++
	f.seen[t.ID] = tbtypes.TransferOK
	return tbtypes.TransferOK
}
