// Package cart is the cart collaborator: a small service that keeps one cart
// per user and empties it once the order service reports an order.created
// event for that user.
package cart

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when the user has no cart yet.
	ErrNotFound = errors.New("cart: not found")
	// ErrInvalidItem is returned for items without a product or quantity.
	ErrInvalidItem = errors.New("cart: invalid item")
)

// Item is one product line in a cart. Prices are kept in minor units.
type Item struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	PriceCents  int64  `json:"price_cents"`
	Quantity    int    `json:"quantity"`
}

// Validate rejects items that cannot be stored.
func (i Item) Validate() error {
	switch {
	case i.ProductID <= 0:
		return fmt.Errorf("%w: product_id is required", ErrInvalidItem)
	case i.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidItem)
	case i.PriceCents < 0:
		return fmt.Errorf("%w: price_cents must not be negative", ErrInvalidItem)
	}
	return nil
}

// Subtotal is price times quantity.
func (i Item) Subtotal() int64 { return i.PriceCents * int64(i.Quantity) }

// Cart belongs to exactly one user.
type Cart struct {
	UserID    int64     `json:"user_id"`
	Items     []Item    `json:"items"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TotalAmountCents sums every line.
func (c Cart) TotalAmountCents() int64 {
	var total int64
	for _, it := range c.Items {
		total += it.Subtotal()
	}
	return total
}

// TotalItems counts units across lines.
func (c Cart) TotalItems() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

func (c Cart) String() string { return fmt.Sprintf("Cart for user %d", c.UserID) }

// Store persists carts. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the user's cart or ErrNotFound.
	Get(ctx context.Context, userID int64) (Cart, error)
	// AddItem creates the cart if needed. Adding a product already in the
	// cart increases its quantity.
	AddItem(ctx context.Context, userID int64, item Item) (Cart, error)
	// RemoveItem deletes one product line. Removing a missing line is a no-op.
	RemoveItem(ctx context.Context, userID, productID int64) error
	// Clear empties the cart and keeps the cart itself. It returns
	// ErrNotFound when the user has no cart.
	Clear(ctx context.Context, userID int64) error
	Close() error
}

func mergeItem(items []Item, item Item) []Item {
	for i := range items {
		if items[i].ProductID == item.ProductID {
			items[i].Quantity += item.Quantity
			items[i].PriceCents = item.PriceCents
			if item.ProductName != "" {
				items[i].ProductName = item.ProductName
			}
			return items
		}
	}
	return append(items, item)
}
