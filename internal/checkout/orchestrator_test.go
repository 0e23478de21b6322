package checkout

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"

	"github.com/ewent-la/reservation-core/internal/accounting"
	"github.com/ewent-la/reservation-core/internal/orders"
	"github.com/ewent-la/reservation-core/internal/session"
	"github.com/ewent-la/reservation-core/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccounting struct {
	mu         sync.Mutex
	capacity   map[string]int
	goodieLeft int
	heldOrders map[string]bool
}

func newFakeAccounting(classACapacity, goodieCapacity int) *fakeAccounting {
	return &fakeAccounting{
		capacity:   map[string]int{"A": classACapacity, "B": 1000},
		goodieLeft: goodieCapacity,
		heldOrders: make(map[string]bool),
	}
}

func (f *fakeAccounting) Hold(ctx context.Context, orderID tbtypes.Uint128, class string, wantGoodie bool, timeoutSeconds uint32) (accounting.HoldResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	res := accounting.HoldResult{TicketPendingID: orderID}
	if f.capacity[class] > 0 {
		f.capacity[class]--
		res.TicketOK = true
		f.heldOrders[session.EncodeID(orderID)] = true
	}
	if wantGoodie && res.TicketOK && f.goodieLeft > 0 {
		f.goodieLeft--
		res.GoodieOK = true
		id := orderID
		res.GoodiePendingID = &id
	}
	return res, nil
}

func (f *fakeAccounting) Post(ctx context.Context, orderID, ticketPendingID tbtypes.Uint128, goodiePendingID *tbtypes.Uint128, class string) (accounting.PostResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	held := f.heldOrders[session.EncodeID(orderID)]
	return accounting.PostResult{TicketPosted: held, GoodiePosted: goodiePendingID != nil}, nil
}

func (f *fakeAccounting) Void(ctx context.Context, orderID, ticketPendingID tbtypes.Uint128, goodiePendingID *tbtypes.Uint128) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.heldOrders, session.EncodeID(orderID))
	return nil
}

type fakeSessions struct {
	mu      sync.Mutex
	byOrder map[string]session.Data
	intents map[string]tbtypes.Uint128
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byOrder: map[string]session.Data{}, intents: map[string]tbtypes.Uint128{}}
}

func (f *fakeSessions) Put(ctx context.Context, orderID tbtypes.Uint128, data session.Data) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byOrder[session.EncodeID(orderID)] = data
	return nil
}

func (f *fakeSessions) Get(ctx context.Context, orderID tbtypes.Uint128) (session.Data, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.byOrder[session.EncodeID(orderID)]
	if !ok {
		return session.Data{}, session.ErrNotFound
	}
	return d, nil
}

func (f *fakeSessions) Delete(ctx context.Context, orderID tbtypes.Uint128) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byOrder, session.EncodeID(orderID))
	return nil
}

func (f *fakeSessions) BindIntent(ctx context.Context, intentID string, orderID tbtypes.Uint128) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[intentID] = orderID
	return nil
}

func (f *fakeSessions) ResolveIntent(ctx context.Context, intentID string) (tbtypes.Uint128, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.intents[intentID]
	if !ok {
		return tbtypes.Uint128{}, session.ErrNotFound
	}
	return id, nil
}

type fakeOrders struct {
	mu         sync.Mutex
	byID       map[string]orders.Order
	byIntentID map[string]string
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{byID: map[string]orders.Order{}, byIntentID: map[string]string{}}
}

func (f *fakeOrders) Insert(o orders.Order) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[o.OrderID] = o
	f.byIntentID[o.PaymentIntentID] = o.OrderID
	return o, nil
}

func (f *fakeOrders) Get(orderID string) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[orderID]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrders) GetByIntent(intentID string) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byIntentID[intentID]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return f.byID[id], nil
}

func (f *fakeOrders) UpdateStatus(orderID string, fromStatuses []orders.Status, to orders.Status, extra map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[orderID]
	if !ok {
		return orders.ErrNotFound
	}
	matched := false
	for _, s := range fromStatuses {
		if o.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return orders.ErrConditionLost
	}
	o.Status = to
	if pa, ok := extra["paid_at"]; ok {
		o.PaidAt = pa.(time.Time)
	}
	f.byID[orderID] = o
	return nil
}

type fakeProvider struct {
	seq int
}

func (f *fakeProvider) CreateSession(orderID string, amountCents int64, currency string) (string, string) {
	f.seq++
	intentID := "mock_intent_" + orderID
	return intentID, "/payments/mock/" + intentID
}

type noopNotifier struct{}

func (noopNotifier) PublishStatus(orderID, status string) {}

func newOrchestrator(acc Accounting, sess Sessions, store Orders) *Orchestrator {
	pricing := func(class string) (int64, string) {
		if class == "A" {
			return 5000, "USD"
		}
		return 2000, "USD"
	}
	return New(acc, sess, store, &fakeProvider{}, noopNotifier{}, time.Minute, 30*time.Second, 5*time.Minute, "test-secret", pricing)
}

func signedBody(t *testing.T, intentID, event string) []byte {
	t.Helper()
	now := time.Now().Unix()
	sig := webhook.Sign("test-secret", intentID, event, now)
	body, err := json.Marshal(webhook.Event{Event: event, IntentID: intentID, Timestamp: now, Signature: sig})
	require.NoError(t, err)
	return body
}

func TestOrchestrator_S1HappyPath(t *testing.T) {
	acc := newFakeAccounting(10, 5)
	sess := newFakeSessions()
	store := newFakeOrders()
	o := newOrchestrator(acc, sess, store)

	res, err := o.Checkout(context.Background(), "A", "buyer@example.com")
	require.NoError(t, err)

	ord, err := store.Get(res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusHeld, ord.Status)

	body := signedBody(t, ord.PaymentIntentID, webhook.EventPaid)
	require.NoError(t, o.HandleWebhook(context.Background(), body))

	ord, err = store.Get(res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, ord.Status)
}

func TestOrchestrator_S2SoldOut(t *testing.T) {
	acc := newFakeAccounting(1, 5)
	sess := newFakeSessions()
	store := newFakeOrders()
	o := newOrchestrator(acc, sess, store)

	_, err := o.Checkout(context.Background(), "A", "")
	require.NoError(t, err)

	_, err = o.Checkout(context.Background(), "A", "")
	assert.ErrorIs(t, err, ErrSoldOut)
}

func TestOrchestrator_S3GoodieExhausted(t *testing.T) {
	acc := newFakeAccounting(10, 0)
	sess := newFakeSessions()
	store := newFakeOrders()
	o := newOrchestrator(acc, sess, store)

	res, err := o.Checkout(context.Background(), "A", "")
	require.NoError(t, err)

	ord, err := store.Get(res.OrderID)
	require.NoError(t, err)
	assert.Empty(t, ord.GoodiePendingID)

	body := signedBody(t, ord.PaymentIntentID, webhook.EventPaid)
	require.NoError(t, o.HandleWebhook(context.Background(), body))

	ord, err = store.Get(res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, ord.Status)
}

func TestOrchestrator_S4PaymentFailed(t *testing.T) {
	acc := newFakeAccounting(10, 5)
	sess := newFakeSessions()
	store := newFakeOrders()
	o := newOrchestrator(acc, sess, store)

	res, err := o.Checkout(context.Background(), "A", "")
	require.NoError(t, err)
	ord, err := store.Get(res.OrderID)
	require.NoError(t, err)

	body := signedBody(t, ord.PaymentIntentID, webhook.EventFailed)
	require.NoError(t, o.HandleWebhook(context.Background(), body))

	ord, err = store.Get(res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCanceled, ord.Status)
}

func TestOrchestrator_S6DuplicateWebhook(t *testing.T) {
	acc := newFakeAccounting(10, 5)
	sess := newFakeSessions()
	store := newFakeOrders()
	o := newOrchestrator(acc, sess, store)

	res, err := o.Checkout(context.Background(), "A", "")
	require.NoError(t, err)
	ord, err := store.Get(res.OrderID)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		body := signedBody(t, ord.PaymentIntentID, webhook.EventPaid)
		require.NoError(t, o.HandleWebhook(context.Background(), body))
	}

	ord, err = store.Get(res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, ord.Status)
}

func TestOrchestrator_WebhookBadSignatureRejected(t *testing.T) {
	acc := newFakeAccounting(10, 5)
	sess := newFakeSessions()
	store := newFakeOrders()
	o := newOrchestrator(acc, sess, store)

	res, err := o.Checkout(context.Background(), "A", "")
	require.NoError(t, err)
	ord, err := store.Get(res.OrderID)
	require.NoError(t, err)

	now := time.Now().Unix()
	body, err := json.Marshal(webhook.Event{Event: webhook.EventPaid, IntentID: ord.PaymentIntentID, Timestamp: now, Signature: "bogus"})
	require.NoError(t, err)

	err = o.HandleWebhook(context.Background(), body)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownOrder)
}

func TestOrchestrator_WebhookUnknownIntentRejected(t *testing.T) {
	acc := newFakeAccounting(10, 5)
	sess := newFakeSessions()
	store := newFakeOrders()
	o := newOrchestrator(acc, sess, store)

	body := signedBody(t, "mock_intent_never_seen", webhook.EventPaid)

	err := o.HandleWebhook(context.Background(), body)
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestOrchestrator_SweepTimesOutExpiredHolds(t *testing.T) {
	acc := newFakeAccounting(10, 5)
	sess := newFakeSessions()
	store := newFakeOrders()
	o := newOrchestrator(acc, sess, store)

	res, err := o.Checkout(context.Background(), "A", "")
	require.NoError(t, err)
	ord, err := store.Get(res.OrderID)
	require.NoError(t, err)

	n := o.SweepTimedOutHolds(context.Background(), []orders.Order{ord})
	assert.Equal(t, 1, n)

	ord, err = store.Get(res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusTimeout, ord.Status)
}
