// Package mockprovider stands in for the real payment provider. It hands
// out an opaque intent id and redirect URL at checkout, and guarantees
// exactly one webhook (paid or failed) eventually fires for every intent
// it issues, whether or not the client ever follows the redirect.
package mockprovider

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/ewent-la/reservation-core/internal/webhook"
	"github.com/ewent-la/reservation-core/utils"
)

type session struct {
	intentID    string
	orderID     string
	amountCents int64
	currency    string
	fired       bool
}

// Provider is the mock payment provider adapter.
type Provider struct {
	mu       sync.Mutex
	sessions map[string]*session

	webhookURL    string
	secret        string
	autoFailAfter time.Duration

	httpClient *http.Client
	breaker    *utils.CircuitBreaker
}

func New(webhookURL, secret string, autoFailAfter time.Duration) *Provider {
	return &Provider{
		sessions:      make(map[string]*session),
		webhookURL:    webhookURL,
		secret:        secret,
		autoFailAfter: autoFailAfter,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		breaker:       utils.NewCircuitBreaker("mock-provider"),
	}
}

// CreateSession issues an opaque intent id for the order and arms a
// background timer that fires a "failed" webhook if nothing resolves the
// intent before autoFailAfter elapses — the guaranteed webhook the
// checkout disconnect case relies on.
func (p *Provider) CreateSession(orderID string, amountCents int64, currency string) (intentID, redirectURL string) {
	intentID = "mock_" + randomHex(16)

	p.mu.Lock()
	p.sessions[intentID] = &session{intentID: intentID, orderID: orderID, amountCents: amountCents, currency: currency}
	p.mu.Unlock()

	go p.autoFail(intentID)

	return intentID, fmt.Sprintf("/payments/mock/%s", intentID)
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (p *Provider) autoFail(intentID string) {
	time.Sleep(p.autoFailAfter)
	p.resolve(intentID, webhook.EventFailed)
}

// Resolve simulates the user completing or canceling the checkout at the
// provider's own UI. Returns the redirect target the mock UI would send
// the browser to. outcome is "paid" or "failed".
func (p *Provider) Resolve(intentID, outcome string) (redirectURL string, err error) {
	p.mu.Lock()
	s, ok := p.sessions[intentID]
	p.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("mockprovider: unknown intent %q", intentID)
	}

	event := webhook.EventFailed
	if outcome == "paid" {
		event = webhook.EventPaid
	}
	p.resolve(intentID, event)

	if event == webhook.EventPaid {
		return fmt.Sprintf("/success?order_id=%s", s.orderID), nil
	}
	return "/cancel", nil
}

func (p *Provider) resolve(intentID, event string) {
	p.mu.Lock()
	s, ok := p.sessions[intentID]
	if !ok || s.fired {
		p.mu.Unlock()
		return
	}
	s.fired = true
	p.mu.Unlock()

	if err := p.fireWebhook(intentID, event); err != nil {
		log.Printf("mockprovider: webhook delivery for intent %s failed: %v", intentID, err)
	}
}

func (p *Provider) fireWebhook(intentID, event string) error {
	now := time.Now()
	body, err := json.Marshal(webhook.Event{
		Event:     event,
		IntentID:  intentID,
		Timestamp: now.Unix(),
		Signature: webhook.Sign(p.secret, intentID, event, now.Unix()),
	})
	if err != nil {
		return fmt.Errorf("mockprovider: encode webhook: %w", err)
	}

	_, err = p.breaker.Execute(context.Background(), func() (any, error) {
		resp, err := p.httpClient.Post(p.webhookURL, "application/json", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("mockprovider: webhook endpoint returned %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}
