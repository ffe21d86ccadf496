package transport

// Capabilities describes the delivery guarantees of a broadcast medium.
type Capabilities struct {
	// Name is the registry name of the transport.
	Name string

	// SupportsFanOut means every subscribing service receives its own copy
	// of each event. The bus requires it.
	SupportsFanOut bool

	// Persistent means events published while a subscriber is offline are
	// delivered once it reconnects.
	Persistent bool

	// SupportsOrdering indicates events arrive in publish order.
	SupportsOrdering bool

	// SupportsAck indicates the transport supports explicit acknowledgment.
	SupportsAck bool

	// SupportsNack indicates a rejected message is redelivered.
	SupportsNack bool

	// SupportsTracing indicates metadata headers travel with the payload.
	SupportsTracing bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SupportsReliableDelivery returns true for at-least-once media (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// FireAndForget returns true when a subscriber that is down misses events.
func (c Capabilities) FireAndForget() bool {
	return !c.Persistent
}

// Predefined capability sets.
var (
	// ChannelCapabilities for the in-process Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsFanOut:   true,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// RedisCapabilities for Redis Pub/Sub. Only the raw envelope travels,
	// so headers are not propagated.
	RedisCapabilities = Capabilities{
		Name:             "redis",
		SupportsFanOut:   true,
		SupportsOrdering: true,
		MaxMessageSize:   512 * 1024 * 1024,
	}

	// NATSCapabilities for NATS Core.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsFanOut:  true,
		SupportsTracing: true,
		MaxMessageSize:  1048576, // default 1MB
	}

	// KafkaCapabilities for Apache Kafka with one consumer group per service.
	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsFanOut:   true,
		Persistent:       true,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsTracing:  true,
		MaxMessageSize:   1048576, // default 1MB
	}

	// RabbitMQCapabilities for a fanout exchange with one queue per service.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsFanOut:   true,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Returns a zero Capabilities struct if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
