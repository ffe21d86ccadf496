package events

import "errors"

// Known event kinds.
const (
	// KindOrderCreated is emitted by the order service once an order has
	// been persisted.
	KindOrderCreated Kind = "order.created"
)

// OrderCreated tells interested services that a user has placed an order.
// The cart service reacts by emptying that user's cart.
type OrderCreated struct {
	UserID int64 `json:"user_id"`
}

func (OrderCreated) Kind() Kind { return KindOrderCreated }

func (o OrderCreated) Validate() error {
	if o.UserID <= 0 {
		return errors.New("order.created: user_id is required")
	}
	return nil
}
