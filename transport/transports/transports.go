// Package transports registers every built-in transport with the default
// registry.
package transports

import (
	"sync"

	"github.com/drblury/shopmesh/transport/channel"
	"github.com/drblury/shopmesh/transport/kafka"
	"github.com/drblury/shopmesh/transport/nats"
	"github.com/drblury/shopmesh/transport/rabbitmq"
	"github.com/drblury/shopmesh/transport/redis"
)

var once sync.Once

// Register is safe to call more than once.
func Register() {
	once.Do(func() {
		channel.Register()
		redis.Register()
		nats.Register()
		kafka.Register()
		rabbitmq.Register()
	})
}
