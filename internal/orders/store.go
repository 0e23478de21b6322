package orders

import (
	"errors"
	"fmt"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
)

// ErrNotFound is returned when no order matches the requested id or intent.
var ErrNotFound = errors.New("orders: not found")

// ErrConditionLost is returned by UpdateStatus when the order's current
// status was not one of the expected from-statuses — another actor won
// the race to transition it first. Never treated as a hard error by
// callers: it is the designed outcome of losing the conditional update.
var ErrConditionLost = errors.New("orders: condition lost")

// Store is the durable Order Store, backed by the "orders" PocketBase
// collection.
type Store struct {
	app *pocketbase.PocketBase
}

func New(app *pocketbase.PocketBase) *Store {
	return &Store{app: app}
}

// Ping verifies the underlying PocketBase database is reachable, for use
// by the service health check.
func (s *Store) Ping() error {
	var records []dbx.NullStringMap
	if err := s.app.DB().NewQuery("SELECT id FROM " + collectionName + " LIMIT 1").All(&records); err != nil {
		return fmt.Errorf("orders: ping: %w", err)
	}
	return nil
}

// Insert persists a new order row, typically in CREATED or FAILED status
// (a FAILED row when the ticket hold itself reported sold-out).
func (s *Store) Insert(o Order) (Order, error) {
	collection, err := s.app.FindCollectionByNameOrId(collectionName)
	if err != nil {
		return Order{}, fmt.Errorf("orders: find collection: %w", err)
	}
	record := core.NewRecord(collection)
	recordFromOrder(record, o)
	if err := s.app.Save(record); err != nil {
		return Order{}, fmt.Errorf("orders: insert: %w", err)
	}
	return orderFromRecord(record), nil
}

// Get loads an order by its ledger order id.
func (s *Store) Get(orderID string) (Order, error) {
	record, err := s.app.FindFirstRecordByFilter(collectionName, "order_id = {:orderId}", dbx.Params{"orderId": orderID})
	if err != nil {
		return Order{}, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}
	return orderFromRecord(record), nil
}

// GetByIntent loads an order by its payment intent id, used to correlate
// an incoming webhook back to its order when the session cache has
// already expired.
func (s *Store) GetByIntent(intentID string) (Order, error) {
	record, err := s.app.FindFirstRecordByFilter(collectionName, "payment_intent_id = {:intentId}", dbx.Params{"intentId": intentID})
	if err != nil {
		return Order{}, fmt.Errorf("%w: intent %s", ErrNotFound, intentID)
	}
	return orderFromRecord(record), nil
}

// UpdateStatus performs the serialization point for webhook duplicates
// and the timeout sweep: a conditional SQL update that only succeeds if
// the order's current status is one of fromStatuses. Returns
// ErrConditionLost if zero rows matched — another actor already moved
// the order out of the expected status, which is not an error condition,
// just a lost race.
func (s *Store) UpdateStatus(orderID string, fromStatuses []Status, to Status, extra map[string]any) error {
	cols := dbx.Params{"status": string(to)}
	for k, v := range extra {
		cols[k] = v
	}

	from := make([]any, len(fromStatuses))
	for i, st := range fromStatuses {
		from[i] = string(st)
	}

	cond := dbx.And(
		dbx.HashExp{"order_id": orderID},
		dbx.In("status", from...),
	)

	result, err := s.app.DB().Update(collectionName, cols, cond).Execute()
	if err != nil {
		return fmt.Errorf("orders: update status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("orders: update status: %w", err)
	}
	if affected == 0 {
		return ErrConditionLost
	}
	return nil
}
