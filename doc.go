// Package shopmesh keeps independently deployed shop services loosely
// consistent without a shared database. It is a small layer on top of
// Watermill that gives every service three things:
//
//   - an event bus: a service commits its local write, then broadcasts an
//     immutable Envelope on one shared topic; every interested process runs a
//     supervised listener that dispatches envelopes to typed handlers
//   - a service client for bounded synchronous lookups against the static
//     service registry
//   - an edge chain of admission control (fixed-window rate limiting) and an
//     auth delegate that verifies bearer tokens against the identity service
//
// Delivery is best-effort. A process that is down misses what was published
// meanwhile and a handler may see the same envelope twice, so handlers must be
// idempotent. A malformed envelope, an unknown kind or a failing handler is
// logged, counted and dropped; it never stops the listener.
//
// # Transports
//
// The broadcast medium is read from Config.PubSubSystem:
//   - channel: in-process Go channels for tests
//   - redis: Redis Pub/Sub on the raw envelope bytes
//   - nats: core NATS subjects
//   - kafka: one consumer group per service
//   - rabbitmq: a fanout exchange with one queue per service
//
// # Quick start
//
//	cfg, err := shopmesh.LoadConfig("shopmesh.toml")
//	if err != nil {
//		return err
//	}
//	svc, err := shopmesh.NewService(ctx, cfg, logger, shopmesh.ServiceDependencies{})
//	if err != nil {
//		return err
//	}
//	defer svc.Close()
//
//	err = shopmesh.Handle(svc, "cart.clear", func(ctx context.Context, evt shopmesh.EventContext[*shopmesh.OrderCreated]) error {
//		return carts.Clear(ctx, evt.Payload.UserID)
//	})
//	...
//	return svc.Start(ctx)
//
// ServiceDependencies exposes the knobs tests and custom deployments need: an
// injected transport or TransportFactory, extra middleware, DeliveryHooks, a
// restart backoff policy, an identity resolver and an admission store.
package shopmesh
