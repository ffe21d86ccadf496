// Package nats provides a NATS Core transport. Subscribers do not join a queue
// group, so every connected service receives each event.
package nats

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/shopmesh/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates a new NATS transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	marshaler := &nats.NATSMarshaler{}
	options := connOptions(cfg.GetServiceName(), logger)
	jsConfig := nats.JetStreamConfig{Disabled: true}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: options,
			Marshaler:   marshaler,
			JetStream:   jsConfig,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:              url,
			NatsOptions:      options,
			Unmarshaler:      marshaler,
			JetStream:        jsConfig,
			SubscribersCount: 1,
			AckWaitTimeout:   30 * time.Second,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// connOptions names the connection after the service and reports link changes
// through the bus logger. Core NATS drops what is published while the link is
// down, so those windows are worth a log line.
func connOptions(service string, logger watermill.LoggerAdapter) []nc.Option {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	fields := watermill.LogFields{"service": service, "transport": TransportName}
	return []nc.Option{
		nc.Name(service),
		nc.RetryOnFailedConnect(false),
		nc.Timeout(5 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			if err != nil {
				logger.Error("Lost connection to NATS, events are dropped until it returns", err, fields)
			}
		}),
		nc.ReconnectHandler(func(conn *nc.Conn) {
			logger.Info("Reconnected to NATS", fields.Add(watermill.LogFields{"url": conn.ConnectedUrlRedacted()}))
		}),
	}
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
