package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	errspkg "github.com/drblury/shopmesh/internal/runtime/errors"
	"github.com/drblury/shopmesh/internal/runtime/events"
	loggingpkg "github.com/drblury/shopmesh/internal/runtime/logging"
	metadatapkg "github.com/drblury/shopmesh/internal/runtime/metadata"
)

// ListenerHandlerName names the single router handler on the event channel.
const ListenerHandlerName = "shopmesh_events"

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// Listen consumes the shared event channel and dispatches every envelope to
// the registered handlers until ctx is cancelled. Malformed events, unhandled
// kinds and handler failures are logged, counted and acknowledged; none of
// them end the loop. Listen returns nil after a cancellation and an error
// wrapping ErrBusUnavailable when the subscription could not be opened or the
// stream ended while ctx was still live.
func (s *Service) Listen(ctx context.Context) error {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: s.Conf.ShutdownTimeout}, s.wmLogger)
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}

	router.AddMiddleware(s.containMiddleware)
	router.AddMiddleware(s.middlewares...)
	router.AddNoPublisherHandler(
		ListenerHandlerName,
		s.Conf.EventChannel,
		borrowedSubscriber{s.transport.Subscriber},
		s.dispatch,
	)

	s.Logger.Info("Listening for events", loggingpkg.LogFields{
		"topic": s.Conf.EventChannel,
		"kinds": s.registry.Kinds(),
	})
	runErr := routerRun(router, ctx)
	if ctx.Err() != nil {
		s.Logger.Info("Listener stopped", nil)
		return nil
	}
	if runErr != nil {
		return fmt.Errorf("%w: %w", errspkg.ErrBusUnavailable, runErr)
	}
	return fmt.Errorf("%w: event stream on %q closed", errspkg.ErrBusUnavailable, s.Conf.EventChannel)
}

// borrowedSubscriber keeps the router from closing the shared subscriber when
// it stops. The Service closes it in Close, so Listen can run again.
type borrowedSubscriber struct {
	message.Subscriber
}

func (borrowedSubscriber) Close() error { return nil }

// dispatch decodes one message and runs the handlers for its kind.
func (s *Service) dispatch(msg *message.Message) error {
	env, err := events.Decode(msg.Payload)
	if err != nil {
		return err
	}
	metadatapkg.Stamp(msg, string(env.Kind()), env.ID(), env.Source())

	md := metadatapkg.FromMessage(msg)
	logger := s.Logger.With(loggingpkg.LogFields{
		"event_kind":     md.EventKind(),
		"event_id":       md.EventID(),
		"correlation_id": md.CorrelationID(),
	})
	ctx, release := handlerContext(msg.Context(), s.Conf.ShutdownTimeout)
	defer release()
	return s.registry.Dispatch(ctx, events.Delivery{
		Envelope: env,
		Metadata: md,
		Logger:   logger,
	})
}

// handlerContext keeps the values of the message context but not its
// cancellation. The router cancels message contexts as soon as Listen stops;
// a handler in flight at that moment gets grace more time before its context
// ends, matching the router's own close timeout.
func handlerContext(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		if grace <= 0 {
			cancel()
			return
		}
		time.AfterFunc(grace, cancel)
	})
	return ctx, func() {
		stop()
		cancel()
	}
}

// containMiddleware is the outermost router middleware. It classifies the
// result of every message, reports it to the hooks and acknowledges the
// message regardless, so one bad event never stalls the subscription.
func (s *Service) containMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		info := DeliveryInfo{
			MessageUUID: msg.UUID,
			Topic:       s.Conf.EventChannel,
			Context:     msg.Context(),
			StartedAt:   time.Now(),
		}
		s.hooks.received(info)

		_, err := h(msg)

		info.Duration = time.Since(info.StartedAt)
		info.Kind = msg.Metadata.Get(metadatapkg.KeyEventKind)
		info.EventID = msg.Metadata.Get(metadatapkg.KeyEventID)
		info.CorrelationID = middleware.MessageCorrelationID(msg)
		info.Context = msg.Context()
		info.Outcome = classify(err)

		if err == nil {
			s.hooks.handled(info)
		} else {
			s.hooks.dropped(info, err)
		}
		return nil, nil
	}
}

// classify maps a dispatch error to an outcome. A real handler failure wins
// over a payload decode failure when several handlers ran.
func classify(err error) string {
	switch {
	case err == nil:
		return OutcomeHandled
	case errors.Is(err, errspkg.ErrNoHandler):
		return OutcomeUnhandled
	case errors.Is(err, errspkg.ErrHandlerFailure):
		return OutcomeHandlerFailure
	case errors.Is(err, errspkg.ErrMalformedEvent):
		return OutcomeMalformed
	default:
		return OutcomeHandlerFailure
	}
}
