package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/drblury/shopmesh/internal/runtime/config"
	"github.com/drblury/shopmesh/internal/runtime/events"
	"github.com/drblury/shopmesh/internal/runtime/logging"
)

// ClearOnOrderHandlerName is the registry name of the order.created reaction.
const ClearOnOrderHandlerName = "cart.clear_on_order"

// RegisterHandlers subscribes the cart reactions on reg.
func RegisterHandlers(reg *events.Registry, store Store) error {
	if store == nil {
		return errors.New("cart: store is required")
	}
	return events.Handle(reg, ClearOnOrderHandlerName, ClearOnOrder(store))
}

// ClearOnOrder empties the ordering user's cart. Clearing an already empty
// cart, or a user without a cart, succeeds, so redelivery is harmless.
func ClearOnOrder(store Store) events.TypedHandler[*events.OrderCreated] {
	return func(ctx context.Context, evt events.Context[*events.OrderCreated]) error {
		userID := evt.Payload.UserID
		log := evt.Logger
		if log == nil {
			log = logging.Nop()
		}
		fields := logging.LogFields{"user_id": userID}

		err := store.Clear(ctx, userID)
		switch {
		case errors.Is(err, ErrNotFound):
			log.Info("No cart found for user", fields)
			return nil
		case err != nil:
			return fmt.Errorf("clear cart for user %d: %w", userID, err)
		}
		log.Info("Cart cleared after order creation", fields)
		return nil
	}
}

// OpenStore builds the store selected by conf.CartStore.
func OpenStore(ctx context.Context, conf *config.Config) (Store, error) {
	switch conf.CartStore {
	case "", "memory":
		return NewMemoryStore(nil), nil
	case "sqlite":
		return OpenSQLStore(ctx, conf.CartDSN, nil)
	default:
		return nil, fmt.Errorf("cart: unsupported store %q", conf.CartStore)
	}
}
