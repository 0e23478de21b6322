// Package realtime fans out order-status changes to PubNub so a client
// can watch an order resolve without polling. Ambient and best-effort: a
// failed or disabled publish never affects settlement.
package realtime

import (
	"fmt"
	"log"

	pubnub "github.com/pubnub/go"
)

// Publisher publishes order-status change events to a per-order channel.
// A nil Publisher (or one built with an empty publish key) is a no-op.
type Publisher struct {
	pn *pubnub.PubNub
}

func New(pn *pubnub.PubNub) *Publisher {
	return &Publisher{pn: pn}
}

// PublishStatus announces an order's new status on its own channel. Errors
// are logged, never returned: a lost PubNub publish is not a settlement
// failure.
func (p *Publisher) PublishStatus(orderID, status string) {
	if p == nil || p.pn == nil || p.pn.Config == nil || p.pn.Config.PublishKey == "" {
		return
	}
	channel := fmt.Sprintf("order-%s", orderID)
	_, status2, err := p.pn.Publish().
		Channel(channel).
		Message(map[string]interface{}{
			"type":     "order_status",
			"order_id": orderID,
			"status":   status,
		}).
		Execute()
	if err != nil {
		log.Printf("realtime: publish order %s status %s: %v (status=%v)", orderID, status, err, status2)
	}
}
