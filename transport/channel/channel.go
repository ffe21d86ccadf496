// Package channel provides the in-process medium. All transports built in one
// process share a single Go channel pub/sub, so several services hosted by one
// binary see each other's events the way they would on a broker.
package channel

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/shopmesh/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// OutputBuffer is the per-subscriber buffer size.
const OutputBuffer = 64

var (
	mu     sync.Mutex
	medium *gochannel.GoChannel
	leases int
)

// lease is one service's hold on the shared medium. It serves as both
// publisher and subscriber, so Transport.Close releases it once.
type lease struct {
	*gochannel.GoChannel
	once sync.Once
}

func (l *lease) Close() error {
	var err error
	l.once.Do(func() { err = release() })
	return err
}

func acquire(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	mu.Lock()
	defer mu.Unlock()
	if medium == nil {
		if logger == nil {
			logger = watermill.NopLogger{}
		}
		medium = gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: OutputBuffer}, logger)
	}
	leases++
	return medium
}

func release() error {
	mu.Lock()
	defer mu.Unlock()
	leases--
	if leases > 0 {
		return nil
	}
	closing := medium
	medium, leases = nil, 0
	return closing.Close()
}

// Leases reports how many built transports still hold the shared medium.
func Leases() int {
	mu.Lock()
	defer mu.Unlock()
	return leases
}

// Register registers the channel transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build leases the process-wide medium. It is closed when the last lease is.
func Build(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	l := &lease{GoChannel: acquire(logger)}
	return transport.Transport{Publisher: l, Subscriber: l}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
