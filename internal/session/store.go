// Package session holds the short-lived, per-checkout data the
// Orchestrator needs to resume settlement without re-reading the order
// store: a JSON record keyed by order id, plus a small indirection key mapping a
// payment intent id back to its order id.
package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"
)

// ErrNotFound is returned when a session or an intent binding has expired
// or never existed. Callers fall back to the Order Store on this error.
var ErrNotFound = errors.New("session: not found")

const (
	orderKeyPrefix  = "session:order:"
	intentKeyPrefix = "session:intent:"
)

// Data is the resumable state of an in-flight checkout.
type Data struct {
	OrderID         string `json:"order_id"`
	Class           string `json:"class"`
	TicketPendingID string `json:"ticket_pending_id"`
	GoodiePendingID string `json:"goodie_pending_id,omitempty"`
	HoldExpiresAt   int64  `json:"hold_expires_at"`
	PaymentIntentID string `json:"payment_intent_id"`
}

// Store is a Redis-backed reservation session cache. Safe for concurrent
// use; writes are last-writer-wins with no cross-key transaction, exactly
// as the Order Store remains the source of truth.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Store {
	return &Store{redis: client, ttl: ttl}
}

// EncodeID renders a ledger id as a fixed-width hex string, the form used
// for every ledger id that appears in a Redis key, a Data field, or an
// Order Store column.
func EncodeID(id tbtypes.Uint128) string {
	b := id.Bytes()
	return hex.EncodeToString(b[:])
}

// DecodeID parses a ledger id previously rendered by EncodeID.
func DecodeID(s string) (tbtypes.Uint128, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 16 {
		return tbtypes.Uint128{}, fmt.Errorf("malformed id %q", s)
	}
	var out [16]byte
	copy(out[:], b)
	return tbtypes.BytesToUint128(out), nil
}

func orderKey(orderID tbtypes.Uint128) string {
	return orderKeyPrefix + EncodeID(orderID)
}

func intentKey(intentID string) string {
	return intentKeyPrefix + intentID
}

// Put writes the session for an order, resetting its TTL.
func (s *Store) Put(ctx context.Context, orderID tbtypes.Uint128, data Data) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	if err := s.redis.Set(ctx, orderKey(orderID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("session: put: %w", err)
	}
	return nil
}

// Get reads the session for an order. Returns ErrNotFound if absent or expired.
func (s *Store) Get(ctx context.Context, orderID tbtypes.Uint128) (Data, error) {
	raw, err := s.redis.Get(ctx, orderKey(orderID)).Bytes()
	if err == redis.Nil {
		return Data{}, ErrNotFound
	}
	if err != nil {
		return Data{}, fmt.Errorf("session: get: %w", err)
	}
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return Data{}, fmt.Errorf("session: unmarshal: %w", err)
	}
	return data, nil
}

// Delete removes a session, typically once its order reaches a terminal state.
func (s *Store) Delete(ctx context.Context, orderID tbtypes.Uint128) error {
	if err := s.redis.Del(ctx, orderKey(orderID)).Err(); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

// BindIntent records the payment-intent-id to order-id mapping used to
// correlate an incoming webhook back to its order.
func (s *Store) BindIntent(ctx context.Context, intentID string, orderID tbtypes.Uint128) error {
	if err := s.redis.Set(ctx, intentKey(intentID), EncodeID(orderID), s.ttl).Err(); err != nil {
		return fmt.Errorf("session: bind intent: %w", err)
	}
	return nil
}

// ResolveIntent looks up the order id bound to a payment intent id.
// Returns ErrNotFound if the binding has expired or never existed.
func (s *Store) ResolveIntent(ctx context.Context, intentID string) (tbtypes.Uint128, error) {
	raw, err := s.redis.Get(ctx, intentKey(intentID)).Result()
	if err == redis.Nil {
		return tbtypes.Uint128{}, ErrNotFound
	}
	if err != nil {
		return tbtypes.Uint128{}, fmt.Errorf("session: resolve intent: %w", err)
	}
	orderID, err := DecodeID(raw)
	if err != nil {
		return tbtypes.Uint128{}, fmt.Errorf("session: resolve intent: %w", err)
	}
	return orderID, nil
}
