// Package redis provides a Redis Pub/Sub transport. Only the raw envelope
// bytes are published so that any process subscribed to the channel can read
// them, including ones that do not use watermill.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"github.com/drblury/shopmesh/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "redis"

// ClientFactory allows overriding the client creation for testing.
var ClientFactory = func(opts *redis.Options) *redis.Client {
	return redis.NewClient(opts)
}

// Register registers the Redis transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RedisCapabilities)
}

// Build creates a new Redis transport. No connection is made until the first
// publish or subscribe, so a service can start while Redis is still down.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	addr := cfg.GetRedisAddr()
	if addr == "" {
		return transport.Transport{}, errors.New("redis: address is required")
	}
	client := ClientFactory(&redis.Options{
		Addr:       addr,
		Password:   cfg.GetRedisPassword(),
		DB:         cfg.GetRedisDB(),
		ClientName: cfg.GetServiceName(),
	})
	ps := NewPubSub(client, logger)
	return transport.Transport{Publisher: ps, Subscriber: ps}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RedisCapabilities
}

// PubSub implements message.Publisher and message.Subscriber on one client.
type PubSub struct {
	client *redis.Client
	logger watermill.LoggerAdapter

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPubSub wraps client. The PubSub owns the client and closes it on Close.
func NewPubSub(client *redis.Client, logger watermill.LoggerAdapter) *PubSub {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &PubSub{
		client:  client,
		logger:  logger,
		closing: make(chan struct{}),
	}
}

// Publish sends each payload to the channel named by topic.
func (p *PubSub) Publish(topic string, messages ...*message.Message) error {
	if p.isClosed() {
		return errors.New("redis: pubsub closed")
	}
	for _, msg := range messages {
		if err := p.client.Publish(msg.Context(), topic, []byte(msg.Payload)).Err(); err != nil {
			return fmt.Errorf("redis: publish to %s: %w", topic, err)
		}
	}
	return nil
}

// Subscribe confirms the subscription with the server before returning. The
// returned channel is closed when ctx ends, the PubSub closes, or the
// connection to Redis is lost.
func (p *PubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if p.isClosed() {
		return nil, errors.New("redis: pubsub closed")
	}

	sub := p.client.Subscribe(ctx, topic)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis: subscribe to %s: %w", topic, err)
	}

	out := make(chan *message.Message)
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		// Reads do not observe ctx cancellation, closing the subscription unblocks them.
		select {
		case <-ctx.Done():
		case <-p.closing:
		}
		_ = sub.Close()
	}()
	go func() {
		defer p.wg.Done()
		p.consume(ctx, topic, sub, out)
	}()
	return out, nil
}

func (p *PubSub) consume(ctx context.Context, topic string, sub *redis.PubSub, out chan<- *message.Message) {
	defer close(out)
	fields := watermill.LogFields{"topic": topic}

	for {
		received, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil && !p.isClosed() {
				p.logger.Error("Redis subscription lost", err, fields)
				_ = sub.Close()
			}
			return
		}

		msg := message.NewMessage(watermill.NewULID(), []byte(received.Payload))
		msg.SetContext(ctx)

		select {
		case out <- msg:
		case <-ctx.Done():
			return
		case <-p.closing:
			return
		}

		select {
		case <-msg.Acked():
		case <-msg.Nacked():
			// Pub/Sub has no redelivery; the message is gone either way.
			p.logger.Debug("Message nacked, not redelivered", fields.Add(watermill.LogFields{"message_uuid": msg.UUID}))
		case <-ctx.Done():
			return
		case <-p.closing:
			return
		}
	}
}

// Close stops every subscription and closes the client.
func (p *PubSub) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closing)
		p.wg.Wait()
		err = p.client.Close()
	})
	return err
}

func (p *PubSub) isClosed() bool {
	select {
	case <-p.closing:
		return true
	default:
		return false
	}
}
