package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	errspkg "github.com/drblury/shopmesh/internal/runtime/errors"
	"github.com/drblury/shopmesh/internal/runtime/events"
	idspkg "github.com/drblury/shopmesh/internal/runtime/ids"
	loggingpkg "github.com/drblury/shopmesh/internal/runtime/logging"
	metadatapkg "github.com/drblury/shopmesh/internal/runtime/metadata"
)

// PublisherConfig describes where and how envelopes are broadcast.
type PublisherConfig struct {
	Topic   string
	Source  string
	Timeout time.Duration
}

// Publisher broadcasts envelopes on the shared event channel. It is safe for
// concurrent use.
type Publisher struct {
	pub     message.Publisher
	cfg     PublisherConfig
	logger  loggingpkg.ServiceLogger
	metrics *BusMetrics
}

// NewPublisher wraps a transport publisher. metrics may be nil.
func NewPublisher(pub message.Publisher, cfg PublisherConfig, logger loggingpkg.ServiceLogger, metrics *BusMetrics) (*Publisher, error) {
	if pub == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if cfg.Topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Publisher{pub: pub, cfg: cfg, logger: logger, metrics: metrics}, nil
}

// NewMessage encodes env into a watermill message with the standard headers.
func NewMessage(env events.Envelope, correlationID string) (*message.Message, error) {
	raw, err := env.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Kind(), err)
	}

	uuid := env.ID()
	if uuid == "" {
		uuid = idspkg.CreateULID()
	}
	msg := message.NewMessage(uuid, raw)
	metadatapkg.Stamp(msg, string(env.Kind()), env.ID(), env.Source())
	if correlationID == "" {
		correlationID = idspkg.CreateULID()
	}
	middleware.SetCorrelationID(correlationID, msg)
	return msg, nil
}

// Publish broadcasts env and waits at most the configured timeout. Every
// failure is logged and counted here; the returned error wraps
// ErrBusUnavailable and exists for tests and introspection. Callers that have
// already committed their local write should ignore it.
//
// Cancellation of ctx does not abort the publish. A request that finished its
// write but lost its client still announces the change.
func (p *Publisher) Publish(ctx context.Context, env events.Envelope) error {
	if ctx == nil {
		ctx = context.Background()
	}
	kind := string(env.Kind())
	fields := loggingpkg.LogFields{
		"event_kind": kind,
		"event_id":   env.ID(),
		"topic":      p.cfg.Topic,
	}

	msg, err := NewMessage(env, metadatapkg.CorrelationIDFromContext(ctx))
	if err != nil {
		p.metrics.RecordPublishFailure(kind, ReasonEncode)
		p.logger.Error("Failed to encode event, dropping it", err, fields)
		return err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Timeout)
	defer cancel()
	msg.SetContext(ctx)

	done := make(chan error, 1)
	go func() {
		done <- p.pub.Publish(p.cfg.Topic, msg)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		p.metrics.RecordPublishFailure(kind, ReasonTimeout)
		p.logger.Error("Publishing event timed out, dropping it", ctx.Err(), fields.Add(loggingpkg.LogFields{"timeout": p.cfg.Timeout.String()}))
		return fmt.Errorf("%w: publish %s: %w", errspkg.ErrBusUnavailable, kind, ctx.Err())
	}
	if err != nil {
		p.metrics.RecordPublishFailure(kind, ReasonTransport)
		p.logger.Error("Failed to publish event, dropping it", err, fields)
		return fmt.Errorf("%w: publish %s: %w", errspkg.ErrBusUnavailable, kind, err)
	}

	p.metrics.RecordPublished(kind)
	p.logger.Debug("Event published", fields)
	return nil
}

// Source returns the service name stamped on envelopes built by the Service.
func (p *Publisher) Source() string {
	return p.cfg.Source
}

// Publish builds an envelope for payload and broadcasts it. It never fails the
// caller: problems are logged and counted.
func (s *Service) Publish(ctx context.Context, payload events.Payload) {
	env, err := events.New(payload, events.WithSource(s.publisher.Source()))
	if err != nil {
		s.metrics.RecordPublishFailure("", ReasonEncode)
		s.Logger.Error("Failed to build event, dropping it", err, nil)
		return
	}
	_ = s.publisher.Publish(ctx, env)
}

// PublishKind is Publish for kinds this process has no Go type for.
func (s *Service) PublishKind(ctx context.Context, kind events.Kind, data any) {
	env, err := events.NewRaw(kind, data, events.WithSource(s.publisher.Source()))
	if err != nil {
		s.metrics.RecordPublishFailure(string(kind), ReasonEncode)
		s.Logger.Error("Failed to build event, dropping it", err, loggingpkg.LogFields{"event_kind": string(kind)})
		return
	}
	_ = s.publisher.Publish(ctx, env)
}

// Publisher exposes the underlying bus publisher.
func (s *Service) Publisher() *Publisher {
	return s.publisher
}
