package ledger

import (
	"fmt"

	tb "github.com/tigerbeetle/tigerbeetle-go"
	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"
)

// Client is the subset of the TigerBeetle client the Batcher drives.
// Mirrors the narrow provider interfaces the teacher cuts for its own
// external integrations (BankInterface) so a fake can stand in for tests
// without dragging in a live cluster.
type Client interface {
	CreateAccounts([]tbtypes.Account) ([]tbtypes.AccountEventResult, error)
	CreateTransfers([]tbtypes.Transfer) ([]tbtypes.TransferEventResult, error)
	LookupAccounts([]tbtypes.Uint128) ([]tbtypes.Account, error)
	LookupTransfers([]tbtypes.Uint128) ([]tbtypes.Transfer, error)
	GetAccountBalances(tbtypes.AccountFilter) ([]tbtypes.AccountBalance, error)
	Close()
}

// Config carries the connection settings for the TigerBeetle cluster.
type Config struct {
	ClusterID uint64
	Addresses []string
}

// NewClient dials the TigerBeetle cluster. The returned Client is safe
// for concurrent use and is meant to be wrapped by exactly one Batcher
// per process.
func NewClient(cfg Config) (Client, error) {
	client, err := tb.NewClient(tbtypes.ToUint128(cfg.ClusterID), cfg.Addresses)
	if err != nil {
		return nil, fmt.Errorf("ledger: connect to tigerbeetle: %w", err)
	}
	return client, nil
}
