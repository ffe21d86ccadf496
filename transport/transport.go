// Package transport defines how the event bus reaches its broadcast medium.
// Each medium (redis, nats, kafka, rabbitmq, channel) lives in its own
// sub-package and registers a Builder with the registry.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport is an owned publisher/subscriber pair. Whoever builds it closes it.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close releases both halves. A medium that serves both roles with one value
// is closed once.
func (t Transport) Close() error {
	var errs []error
	if t.Subscriber != nil {
		errs = append(errs, t.Subscriber.Close())
	}
	if t.Publisher != nil && !sameValue(t.Publisher, t.Subscriber) {
		errs = append(errs, t.Publisher.Close())
	}
	return errors.Join(errs...)
}

func sameValue(pub message.Publisher, sub message.Subscriber) (same bool) {
	if sub == nil {
		return false
	}
	defer func() {
		// non-comparable dynamic types
		if recover() != nil {
			same = false
		}
	}()
	return any(pub) == any(sub)
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the values transports need without depending on the full
// config package.
type Config interface {
	GetPubSubSystem() string
	// GetServiceName scopes consumer groups and queues so that every service
	// receives its own copy of each event.
	GetServiceName() string

	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int

	GetNATSURL() string

	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	GetRabbitMQURL() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
