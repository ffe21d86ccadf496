package runtime

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusMetrics_RecordEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBusMetrics(reg)
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	m.RecordEvent("order.created", OutcomeHandled, 10*time.Millisecond)
	m.RecordEvent("order.created", OutcomeHandled, 10*time.Millisecond)
	m.RecordEvent("", OutcomeMalformed, 0)
	m.RecordEvent("order.created", OutcomeHandlerFailure, time.Millisecond)
	m.RecordEvent("inventory.low", OutcomeUnhandled, 0)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.Handled)
	assert.Equal(t, uint64(1), snap.Malformed)
	assert.Equal(t, uint64(1), snap.HandlerFailures)
	assert.Equal(t, uint64(1), snap.Unhandled)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("order.created", OutcomeHandled)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("unknown", OutcomeMalformed)))
}

func TestBusMetrics_Publish(t *testing.T) {
	m := NewBusMetrics(prometheus.NewRegistry())
	require.NoError(t, m.Register())

	m.RecordPublished("order.created")
	m.RecordPublishFailure("order.created", ReasonTimeout)
	m.RecordListenerRestart()

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.Published)
	assert.Equal(t, uint64(1), snap.PublishFailures)
	assert.Equal(t, uint64(1), snap.ListenerRestarts)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishFailuresTotal.WithLabelValues("order.created", ReasonTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.restartsTotal))
}

func TestBusMetrics_SharedRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, NewBusMetrics(reg).Register())
	require.NoError(t, NewBusMetrics(reg).Register())
}

func TestBusMetrics_NilSafe(t *testing.T) {
	var m *BusMetrics
	m.RecordPublished("x")
	m.RecordEvent("x", OutcomeHandled, 0)
	assert.Zero(t, m.Snapshot().Published)
}
