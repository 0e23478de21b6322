package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("orders")

		collection.Fields.Add(
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
			&core.TextField{Name: "order_id", Required: true, Max: 64},
			&core.SelectField{Name: "class", Required: true, Values: []string{"A", "B"}, MaxSelect: 1},
			&core.NumberField{Name: "amount_cents", Required: true},
			&core.TextField{Name: "currency", Required: true, Max: 8},
			&core.DateField{Name: "hold_expires_at"},
			&core.TextField{Name: "ticket_pending_id", Max: 64},
			&core.TextField{Name: "goodie_pending_id", Max: 64},
			&core.TextField{Name: "payment_intent_id", Required: true, Max: 64},
			&core.SelectField{
				Name:      "status",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"CREATED", "HELD", "PAID", "PAID_UNFULFILLED", "FAILED", "CANCELED", "TIMEOUT"},
			},
			&core.DateField{Name: "paid_at"},
			&core.TextField{Name: "ticket_code", Max: 32},
			&core.EmailField{Name: "customer_email"},
		)

		collection.AddIndex("idx_orders_order_id", true, "order_id", "")
		collection.AddIndex("idx_orders_payment_intent_id", true, "payment_intent_id", "")
		collection.AddIndex("idx_orders_status", false, "status", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("orders")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
