/*
Package runtime hosts the per-process side of shopmesh: the event bus
connection, the supervised listener, the service client and the gateway
edge chain.

# Architecture Overview

Every shopmesh service owns one Service. It publishes envelopes on a single
shared topic and runs one Watermill router handler that receives every
envelope on that topic. Delivery is best-effort: a process that is down misses
what was published meanwhile, and a handler may see the same envelope twice.

# Package Structure

## Core Service (service.go)

Service wires together:
  - the broadcast medium (transport.Transport, owned and closed by Close)
  - the handler registry (events.Registry)
  - the service client and discovery registry
  - HTTP listeners for health, metrics and business routes

## Publishing (publisher.go)

Publish and PublishKind build an envelope and hand it to the medium within
Config.PublishTimeout. Failures are logged and counted, never returned to the
business code that already committed its local write.

## Listening (listener.go, supervisor.go)

Listen runs one router until the context ends or the bus is lost. The
outermost middleware contains every per-event failure: malformed envelopes,
unhandled kinds and handler errors are reported to DeliveryHooks and
acknowledged. Start supervises Listen and restarts it with exponential
backoff. Serve runs only the HTTP side, for processes such as the gateway that
publish but never consume.

## Middleware (middleware.go)

The default chain, outermost first:
  - CorrelationID: carries the publisher's correlation id into handler contexts
  - LogMessages: debug logging of payloads
  - Tracer: OpenTelemetry spans
  - Metrics: Watermill Prometheus router metrics (Config.MetricsEnabled)
  - Retry: bounded local retry (Config.HandlerMaxRetries)
  - Recoverer: panic recovery

## Edge (edge.go)

Edge composes admission control and the auth delegate in front of a gateway
handler.

# Sub-packages

  - admission/: fixed-window rate limiting with memory and Redis stores
  - auth/: bearer token verification against the identity service
  - client/: bounded synchronous calls between services
  - config/: configuration loading and validation
  - discovery/: service name to base URL registry
  - errors/: sentinel errors and error types
  - events/: envelope, wire codec and handler registry
  - httperr/: JSON error bodies
  - ids/: ULID generation
  - jsoncodec/: JSON encoding
  - logging/: logger interface and adapters
  - metadata/: message metadata and correlation ids
  - promutil/: idempotent collector registration
  - transport/: transport factory for Service

# Usage Example

	cfg, err := config.Load("shopmesh.toml")
	if err != nil {
		return err
	}
	svc, err := runtime.NewService(ctx, cfg, logger, runtime.ServiceDependencies{})
	if err != nil {
		return err
	}
	defer svc.Close()

	events.Handle(svc.Handlers(), "cart.clear", clearCart)
	return svc.Start(ctx)
*/
package runtime
