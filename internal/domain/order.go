package domain

import (
	"time"
)

// Order is the root business record. Items are exclusively owned by the
// order; an order with zero items must never reach either store once it
// leaves draft state (the "ghost order" rule).
type Order struct {
	ID     string `json:"id"`
	Number string `json:"order_number"` // display/search key, never regenerated
	Status Status `json:"status"`

	Items []OrderItem `json:"items"`

	Subtotal    float64 `json:"subtotal"`
	Tax         float64 `json:"tax"`
	Tip         float64 `json:"tip"`
	Discount    float64 `json:"discount"`
	Gratuity    float64 `json:"gratuity"`
	TotalAmount float64 `json:"total_amount"` // derived, never authoritative on its own

	AssignedTo string            `json:"assigned_to,omitempty"` // server/user id, possibly tenant_email_userid
	TableID    string            `json:"table_id,omitempty"`
	Protected  bool              `json:"protected,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"` // invariant: updated >= created
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type OrderItem struct {
	ID            string  `json:"id"`
	OrderID       string  `json:"order_id"`
	MenuItemID    string  `json:"menu_item_id"` // weak reference into the catalog
	Quantity      int     `json:"quantity"`
	UnitPrice     float64 `json:"unit_price"`
	TotalPrice    float64 `json:"total_price"`
	SentToKitchen bool    `json:"sent_to_kitchen"`
	Instructions  string  `json:"instructions,omitempty"`
}

// Recalculate derives item totals and the order total from the parts.
func (o *Order) Recalculate() {
	sub := 0.0
	for i := range o.Items {
		o.Items[i].TotalPrice = float64(o.Items[i].Quantity) * o.Items[i].UnitPrice
		sub += o.Items[i].TotalPrice
	}
	o.Subtotal = sub
	o.TotalAmount = o.Subtotal + o.Tax + o.Tip + o.Gratuity - o.Discount
}

// Touch stamps a new updated timestamp, keeping updated >= created.
func (o *Order) Touch(now time.Time) {
	if now.Before(o.CreatedAt) {
		now = o.CreatedAt
	}
	if now.Before(o.UpdatedAt) {
		now = o.UpdatedAt
	}
	o.UpdatedAt = now
}

// Clone returns a deep copy safe to hand to observers and push workers.
func (o *Order) Clone() Order {
	c := *o
	c.Items = make([]OrderItem, len(o.Items))
	copy(c.Items, o.Items)
	if o.Metadata != nil {
		c.Metadata = make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			c.Metadata[k] = v
		}
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
