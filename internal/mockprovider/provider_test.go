package mockprovider

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ewent-la/reservation-core/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *int32, chan webhook.Event) {
	t.Helper()
	var calls int32
	received := make(chan webhook.Event, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var ev webhook.Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		received <- ev
		w.WriteHeader(http.StatusOK)
	}))
	return srv, &calls, received
}

func TestProvider_ResolvePaidFiresWebhookOnce(t *testing.T) {
	srv, calls, received := newTestServer(t)
	defer srv.Close()

	p := New(srv.URL, "secret", time.Hour)
	intentID, redirect := p.CreateSession("order-1", 1000, "USD")
	assert.Contains(t, redirect, intentID)

	target, err := p.Resolve(intentID, "paid")
	require.NoError(t, err)
	assert.Contains(t, target, "order-1")

	ev := <-received
	assert.Equal(t, webhook.EventPaid, ev.Event)
	assert.Equal(t, intentID, ev.IntentID)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestProvider_ResolveIsIdempotent(t *testing.T) {
	srv, calls, received := newTestServer(t)
	defer srv.Close()

	p := New(srv.URL, "secret", time.Hour)
	intentID, _ := p.CreateSession("order-1", 1000, "USD")

	_, err := p.Resolve(intentID, "paid")
	require.NoError(t, err)
	_, err = p.Resolve(intentID, "paid")
	require.NoError(t, err)

	<-received
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestProvider_AutoFailFiresAfterTimeout(t *testing.T) {
	srv, _, received := newTestServer(t)
	defer srv.Close()

	p := New(srv.URL, "secret", 20*time.Millisecond)
	intentID, _ := p.CreateSession("order-2", 500, "USD")

	ev := <-received
	assert.Equal(t, webhook.EventFailed, ev.Event)
	assert.Equal(t, intentID, ev.IntentID)
}

func TestProvider_ResolveBeforeAutoFailSuppressesSecondWebhook(t *testing.T) {
	srv, calls, received := newTestServer(t)
	defer srv.Close()

	p := New(srv.URL, "secret", 30*time.Millisecond)
	intentID, _ := p.CreateSession("order-3", 500, "USD")

	_, err := p.Resolve(intentID, "paid")
	require.NoError(t, err)

	ev := <-received
	assert.Equal(t, webhook.EventPaid, ev.Event)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestProvider_ResolveUnknownIntentErrors(t *testing.T) {
	p := New("http://unused.invalid", "secret", time.Hour)
	_, err := p.Resolve("mock_doesnotexist", "paid")
	assert.Error(t, err)
}
