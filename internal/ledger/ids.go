package ledger

import (
	"crypto/sha256"

	"github.com/google/uuid"
	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"
)

// TransferKind distinguishes the different transfers an order can submit
// against the ledger. The transfer id is a deterministic function of
// (order id, kind) so a retried webhook or a retried sweep submits the
// identical id and the ledger collapses the duplicate instead of creating
// a second transfer.
type TransferKind string

const (
	KindTicketHold      TransferKind = "ticket-hold"
	KindGoodieHold      TransferKind = "goodie-hold"
	KindTicketPost      TransferKind = "ticket-post"
	KindGoodiePost      TransferKind = "goodie-post"
	KindTicketVoid      TransferKind = "ticket-void"
	KindGoodieVoid      TransferKind = "goodie-void"
	KindTicketImmediate TransferKind = "ticket-immediate"
	KindGoodieImmediate TransferKind = "goodie-immediate"
)

// DeriveTransferID hashes orderID and kind into a 128-bit transfer id.
// Replaying the same (orderID, kind) pair always yields the same id.
func DeriveTransferID(orderID tbtypes.Uint128, kind TransferKind) tbtypes.Uint128 {
	h := sha256.New()
	b := orderID.Bytes()
	h.Write(b[:])
	h.Write([]byte(kind))
	sum := h.Sum(nil)
	var out [16]byte
	copy(out[:], sum[:16])
	return tbtypes.BytesToUint128(out)
}

// FundingTransferID derives the one-time transfer id that moves a
// resource's total supply from its spent account to its budget account.
// Stable per pair so re-running InitializeSupply never double-funds.
func FundingTransferID(pair AccountPair) tbtypes.Uint128 {
	h := sha256.New()
	h.Write([]byte("funding"))
	h.Write([]byte(pair.Name))
	sum := h.Sum(nil)
	var out [16]byte
	copy(out[:], sum[:16])
	return tbtypes.BytesToUint128(out)
}

// RandomTransferID returns a fresh random transfer id. Used only for
// transfers that are meant to accumulate rather than collapse on retry,
// such as the restart-counter increment.
func RandomTransferID() tbtypes.Uint128 {
	id := uuid.New()
	return tbtypes.BytesToUint128(id)
}
