package cart_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/shopmesh/internal/cart"
	"github.com/drblury/shopmesh/internal/runtime"
	"github.com/drblury/shopmesh/internal/runtime/config"
	"github.com/drblury/shopmesh/internal/runtime/events"
	"github.com/drblury/shopmesh/internal/runtime/logging"
	"github.com/drblury/shopmesh/transport"
)

type readySubscriber struct {
	message.Subscriber
	ready chan struct{}
}

func (s readySubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch, err := s.Subscriber.Subscribe(ctx, topic)
	if err == nil {
		s.ready <- struct{}{}
	}
	return ch, err
}

func newService(t *testing.T, name string, tr *transport.Transport, hooks runtime.DeliveryHooks) *runtime.Service {
	t.Helper()
	cfg := config.Default()
	cfg.ServiceName = name
	cfg.PubSubSystem = "channel"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second

	svc, err := runtime.NewService(context.Background(), &cfg, logging.Nop(), runtime.ServiceDependencies{
		Transport:  tr,
		Registerer: prometheus.NewRegistry(),
		Hooks:      hooks,
	})
	require.NoError(t, err)
	return svc
}

func TestOrderCreatedEmptiesOnlyThatUsersCart(t *testing.T) {
	medium := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	ready := make(chan struct{}, 1)

	handled := make(chan runtime.DeliveryInfo, 4)
	hooks := runtime.DeliveryHooks{
		OnHandled: func(info runtime.DeliveryInfo) { handled <- info },
		OnDropped: func(info runtime.DeliveryInfo, _ error) { handled <- info },
	}

	carts := newService(t, "cart-service", &transport.Transport{
		Publisher:  medium,
		Subscriber: readySubscriber{Subscriber: medium, ready: ready},
	}, hooks)
	// The order side only publishes; it shares the medium but owns no subscription.
	orders := newService(t, "order-service", &transport.Transport{Publisher: medium, Subscriber: medium}, runtime.DeliveryHooks{})
	t.Cleanup(func() {
		_ = carts.Close()
		_ = orders.Close()
	})

	store, err := cart.OpenSQLStore(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.AddItem(ctx, 7, cart.Item{ProductID: 1, PriceCents: 1000, Quantity: 2})
	require.NoError(t, err)
	_, err = store.AddItem(ctx, 7, cart.Item{ProductID: 2, PriceCents: 1500, Quantity: 1})
	require.NoError(t, err)
	_, err = store.AddItem(ctx, 8, cart.Item{ProductID: 3, PriceCents: 500, Quantity: 1})
	require.NoError(t, err)

	require.NoError(t, cart.RegisterHandlers(carts.Handlers(), store))

	listenCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- carts.Listen(listenCtx) }()

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("cart listener never subscribed")
	}

	orders.Publish(ctx, &events.OrderCreated{UserID: 7})

	select {
	case info := <-handled:
		assert.Equal(t, runtime.OutcomeHandled, info.Outcome)
		assert.Equal(t, string(events.KindOrderCreated), info.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("order.created was never handled")
	}

	c7, err := store.Get(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, c7.Items)

	c8, err := store.Get(ctx, 8)
	require.NoError(t, err)
	assert.Len(t, c8.Items, 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
}
