// Package webhook verifies and decodes payment-provider callbacks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrBadSignature is returned when a webhook's signature does not match
// the canonical payload under the shared secret.
var ErrBadSignature = errors.New("webhook: bad signature")

// ErrStale is returned when a webhook's timestamp falls outside the
// accepted clock-skew window.
var ErrStale = errors.New("webhook: timestamp outside accepted skew")

// Event is the decoded payment-provider callback payload.
type Event struct {
	Event     string `json:"event"`
	IntentID  string `json:"intent_id"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

const (
	EventPaid   = "payment.paid"
	EventFailed = "payment.failed"
)

// Sign computes the canonical signature for a webhook payload: HMAC-SHA256
// over `intent_id|event|timestamp`, base64url encoded.
func Sign(secret, intentID, event string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonicalPayload(intentID, event, timestamp)))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

func canonicalPayload(intentID, event string, timestamp int64) string {
	return intentID + "|" + event + "|" + strconv.FormatInt(timestamp, 10)
}

// Verify decodes a raw webhook body and checks its signature and clock
// skew against now. skew is the maximum accepted |now - timestamp|.
func Verify(body []byte, secret string, now time.Time, skew time.Duration) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("webhook: decode: %w", err)
	}

	expected := Sign(secret, ev.IntentID, ev.Event, ev.Timestamp)
	if !hmac.Equal([]byte(expected), []byte(ev.Signature)) {
		return Event{}, ErrBadSignature
	}

	delta := now.Unix() - ev.Timestamp
	if delta < 0 {
		delta = -delta
	}
	if time.Duration(delta)*time.Second > skew {
		return Event{}, ErrStale
	}

	return ev, nil
}
