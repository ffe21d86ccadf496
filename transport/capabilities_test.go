package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilities_SupportsReliableDelivery(t *testing.T) {
	assert.True(t, Capabilities{SupportsAck: true, SupportsNack: true}.SupportsReliableDelivery())
	assert.False(t, Capabilities{SupportsAck: true}.SupportsReliableDelivery())
	assert.False(t, Capabilities{}.SupportsReliableDelivery())
}

func TestCapabilities_FireAndForget(t *testing.T) {
	assert.True(t, RedisCapabilities.FireAndForget())
	assert.True(t, NATSCapabilities.FireAndForget())
	assert.False(t, KafkaCapabilities.FireAndForget())
}

func TestPredefinedCapabilitiesAllFanOut(t *testing.T) {
	for _, caps := range []Capabilities{
		ChannelCapabilities,
		RedisCapabilities,
		NATSCapabilities,
		KafkaCapabilities,
		RabbitMQCapabilities,
	} {
		t.Run(caps.Name, func(t *testing.T) {
			assert.NotEmpty(t, caps.Name)
			assert.True(t, caps.SupportsFanOut, "every bus medium must broadcast")
		})
	}
}

func TestCapabilities_ZeroValue(t *testing.T) {
	var caps Capabilities
	assert.Empty(t, caps.Name)
	assert.True(t, caps.FireAndForget())
	assert.False(t, caps.SupportsReliableDelivery())
}
