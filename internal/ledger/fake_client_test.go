package ledger

import (
	"sync"

	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"
)

// fakeClient is an in-memory stand-in for the TigerBeetle client, enough
// to exercise the Batcher without a live cluster.
type fakeClient struct {
	mu        sync.Mutex
	accounts  map[tbtypes.Uint128]tbtypes.Account
	transfers map[tbtypes.Uint128]tbtypes.Transfer

	createAccountsCalls  int
	createTransfersCalls int
	failNext             error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		accounts:  make(map[tbtypes.Uint128]tbtypes.Account),
		transfers: make(map[tbtypes.Uint128]tbtypes.Transfer),
	}
}

func (f *fakeClient) CreateAccounts(items []tbtypes.Account) ([]tbtypes.AccountEventResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createAccountsCalls++
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	var events []tbtypes.AccountEventResult
	for i, a := range items {
		if _, exists := f.accounts[a.ID]; exists {
			events = append(events, tbtypes.AccountEventResult{Index: uint32(i), Result: tbtypes.AccountExists})
			continue
		}
		f.accounts[a.ID] = a
	}
	return events, nil
}

func (f *fakeClient) CreateTransfers(items []tbtypes.Transfer) ([]tbtypes.TransferEventResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createTransfersCalls++
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	var events []tbtypes.TransferEventResult
	for i, tr := range items {
		if _, exists := f.transfers[tr.ID]; exists {
			events = append(events, tbtypes.TransferEventResult{Index: uint32(i), Result: tbtypes.TransferExists})
			continue
		}
		f.transfers[tr.ID] = tr
	}
	return events, nil
}

func (f *fakeClient) LookupAccounts(ids []tbtypes.Uint128) ([]tbtypes.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tbtypes.Account
	for _, id := range ids {
		if a, ok := f.accounts[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeClient) LookupTransfers(ids []tbtypes.Uint128) ([]tbtypes.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tbtypes.Transfer
	for _, id := range ids {
		if tr, ok := f.transfers[id]; ok {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (f *fakeClient) GetAccountBalances(tbtypes.AccountFilter) ([]tbtypes.AccountBalance, error) {
	return nil, nil
}

func (f *fakeClient) Close() {}
