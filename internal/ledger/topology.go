package ledger

import tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"

// Ledger tags partition the account universe by domain, matching the
// tag scheme carried over from the resource-accounting source this core
// was distilled from: stats counters live on one ledger, ticket/goodie
// inventory on another.
const (
	LedgerStats   uint32 = 1000
	LedgerTickets uint32 = 2000
)

// CodeFunding marks the one-time transfer that moves total supply from a
// resource's spent account into its budget account at init. CodeBooking
// marks every hold/post/void transfer against a resource during normal
// operation.
const (
	CodeFunding uint16 = 1
	CodeBooking uint16 = 20
	CodeStats   uint16 = 10
)

// Well-known account ids, per the ledger topology suggested in §6.
const (
	AccountRestartCounterSpent  uint64 = 1000
	AccountRestartCounterBudget uint64 = 1005

	AccountGoodiesSpent  uint64 = 2110
	AccountGoodiesBudget uint64 = 2115

	AccountClassATicketsSpent  uint64 = 2120
	AccountClassATicketsBudget uint64 = 2125

	AccountClassBTicketsSpent  uint64 = 2220
	AccountClassBTicketsBudget uint64 = 2225
)

// AccountPair is the budget/spent pair backing one scarce resource.
type AccountPair struct {
	Name   string
	Spent  uint64
	Budget uint64
	Ledger uint32
	Code   uint16
}

func (p AccountPair) SpentID() tbtypes.Uint128  { return tbtypes.ToUint128(p.Spent) }
func (p AccountPair) BudgetID() tbtypes.Uint128 { return tbtypes.ToUint128(p.Budget) }

var (
	RestartCounterPair = AccountPair{"restart_counter", AccountRestartCounterSpent, AccountRestartCounterBudget, LedgerStats, CodeStats}
	GoodiesPair        = AccountPair{"goodies", AccountGoodiesSpent, AccountGoodiesBudget, LedgerTickets, CodeBooking}
	ClassATicketsPair  = AccountPair{"class_A_tickets", AccountClassATicketsSpent, AccountClassATicketsBudget, LedgerTickets, CodeBooking}
	ClassBTicketsPair  = AccountPair{"class_B_tickets", AccountClassBTicketsSpent, AccountClassBTicketsBudget, LedgerTickets, CodeBooking}
)

// AllPairs lists every resource pair the accounting layer manages.
func AllPairs() []AccountPair {
	return []AccountPair{RestartCounterPair, GoodiesPair, ClassATicketsPair, ClassBTicketsPair}
}

// PairForClass returns the ticket pair for a ticket class, "A" or "B".
func PairForClass(class string) (AccountPair, bool) {
	switch class {
	case "A":
		return ClassATicketsPair, true
	case "B":
		return ClassBTicketsPair, true
	default:
		return AccountPair{}, false
	}
}
