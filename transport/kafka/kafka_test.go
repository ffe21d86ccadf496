package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/shopmesh/transport"
)

func TestRegister(t *testing.T) {
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "kafka", caps.Name)
	assert.True(t, caps.SupportsFanOut)
	assert.True(t, caps.Persistent)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.KafkaCapabilities, Capabilities())
}

func withFactories(t *testing.T, pub publisherFactoryFunc, sub subscriberFactoryFunc) {
	t.Helper()
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
	})
	if pub != nil {
		PublisherFactory = pub
	}
	if sub != nil {
		SubscriberFactory = sub
	}
}

type (
	publisherFactoryFunc  = func(kafka.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error)
	subscriberFactoryFunc = func(kafka.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error)
)

func TestBuild(t *testing.T) {
	t.Run("uses explicit consumer group", func(t *testing.T) {
		var subCfg kafka.SubscriberConfig
		var pubCfg kafka.PublisherConfig
		withFactories(t,
			func(cfg kafka.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
				pubCfg = cfg
				return &mockPublisher{}, nil
			},
			func(cfg kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
				subCfg = cfg
				return &mockSubscriber{}, nil
			},
		)

		tr, err := Build(context.Background(), &mockConfig{brokers: []string{"localhost:9092"}, consumerGroup: "carts", service: "cart-service"}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.NotNil(t, tr.Publisher)
		assert.NotNil(t, tr.Subscriber)

		assert.Equal(t, []string{"localhost:9092"}, pubCfg.Brokers)
		assert.Equal(t, "cart-service", pubCfg.OverwriteSaramaConfig.ClientID)
		assert.Equal(t, "carts", subCfg.ConsumerGroup)
		assert.Equal(t, sarama.OffsetNewest, subCfg.OverwriteSaramaConfig.Consumer.Offsets.Initial)
	})

	t.Run("falls back to service name", func(t *testing.T) {
		var subCfg kafka.SubscriberConfig
		withFactories(t,
			func(kafka.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
				return &mockPublisher{}, nil
			},
			func(cfg kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
				subCfg = cfg
				return &mockSubscriber{}, nil
			},
		)

		_, err := Build(context.Background(), &mockConfig{brokers: []string{"localhost:9092"}, service: "search-service"}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Equal(t, "search-service", subCfg.ConsumerGroup)
	})

	t.Run("requires a group", func(t *testing.T) {
		_, err := Build(context.Background(), &mockConfig{brokers: []string{"localhost:9092"}}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "consumer group")
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		withFactories(t,
			func(kafka.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
				return nil, errors.New("publisher error")
			},
			nil,
		)

		_, err := Build(context.Background(), &mockConfig{service: "cart-service"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "publisher error")
	})

	t.Run("closes publisher when subscriber factory fails", func(t *testing.T) {
		pub := &mockPublisher{}
		withFactories(t,
			func(kafka.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
				return pub, nil
			},
			func(kafka.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
				return nil, errors.New("subscriber error")
			},
		)

		_, err := Build(context.Background(), &mockConfig{service: "cart-service"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "subscriber error")
		assert.True(t, pub.closed)
	})
}

type mockConfig struct {
	brokers       []string
	consumerGroup string
	service       string
}

func (m *mockConfig) GetPubSubSystem() string       { return "kafka" }
func (m *mockConfig) GetServiceName() string        { return m.service }
func (m *mockConfig) GetRedisAddr() string          { return "" }
func (m *mockConfig) GetRedisPassword() string      { return "" }
func (m *mockConfig) GetRedisDB() int               { return 0 }
func (m *mockConfig) GetNATSURL() string            { return "" }
func (m *mockConfig) GetKafkaBrokers() []string     { return m.brokers }
func (m *mockConfig) GetKafkaConsumerGroup() string { return m.consumerGroup }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }

type mockPublisher struct{ closed bool }

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error {
	m.closed = true
	return nil
}

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (m *mockSubscriber) Close() error { return nil }
