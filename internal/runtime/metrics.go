package runtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/shopmesh/internal/runtime/promutil"
)

// Event outcomes recorded by the listener.
const (
	OutcomeHandled        = "handled"
	OutcomeMalformed      = "malformed"
	OutcomeHandlerFailure = "handler_failure"
	OutcomeUnhandled      = "unhandled"
)

// Publish failure reasons.
const (
	ReasonEncode    = "encode"
	ReasonTimeout   = "timeout"
	ReasonTransport = "transport"
)

// BusMetrics tracks publish and delivery statistics for one Service.
type BusMetrics struct {
	mu sync.Mutex

	published        atomic.Uint64
	publishFailures  atomic.Uint64
	handled          atomic.Uint64
	malformed        atomic.Uint64
	handlerFailures  atomic.Uint64
	unhandled        atomic.Uint64
	listenerRestarts atomic.Uint64

	publishedTotal       *prometheus.CounterVec
	publishFailuresTotal *prometheus.CounterVec
	eventsTotal          *prometheus.CounterVec
	handlerDuration      *prometheus.HistogramVec
	restartsTotal        prometheus.Counter

	registerer prometheus.Registerer
	registered bool
}

// BusSnapshot is a point-in-time copy of the bus counters.
type BusSnapshot struct {
	Published        uint64    `json:"published"`
	PublishFailures  uint64    `json:"publish_failures"`
	Handled          uint64    `json:"handled"`
	Malformed        uint64    `json:"malformed"`
	HandlerFailures  uint64    `json:"handler_failures"`
	Unhandled        uint64    `json:"unhandled"`
	ListenerRestarts uint64    `json:"listener_restarts"`
	CollectedAt      time.Time `json:"collected_at"`
}

func newBusCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shopmesh",
			Subsystem: "bus",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewBusMetrics creates the collectors. A nil registerer uses the default one.
func NewBusMetrics(registerer prometheus.Registerer) *BusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &BusMetrics{
		registerer:           registerer,
		publishedTotal:       newBusCounterVec("published_total", "Events handed to the broadcast medium", []string{"kind"}),
		publishFailuresTotal: newBusCounterVec("publish_failures_total", "Events that could not be published and were dropped", []string{"kind", "reason"}),
		eventsTotal:          newBusCounterVec("events_total", "Inbound events by outcome", []string{"kind", "outcome"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shopmesh",
			Subsystem: "bus",
			Name:      "handler_duration_seconds",
			Help:      "Time spent dispatching one inbound event",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		restartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shopmesh",
			Subsystem: "bus",
			Name:      "listener_restarts_total",
			Help:      "Times the supervised listener was restarted after losing the bus",
		}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *BusMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	var err error
	if m.publishedTotal, err = promutil.Register(m.registerer, m.publishedTotal); err != nil {
		return err
	}
	if m.publishFailuresTotal, err = promutil.Register(m.registerer, m.publishFailuresTotal); err != nil {
		return err
	}
	if m.eventsTotal, err = promutil.Register(m.registerer, m.eventsTotal); err != nil {
		return err
	}
	if m.handlerDuration, err = promutil.Register(m.registerer, m.handlerDuration); err != nil {
		return err
	}
	if m.restartsTotal, err = promutil.Register(m.registerer, m.restartsTotal); err != nil {
		return err
	}

	m.registered = true
	return nil
}

// RecordPublished counts an event the medium accepted.
func (m *BusMetrics) RecordPublished(kind string) {
	if m == nil {
		return
	}
	m.published.Add(1)
	m.publishedTotal.WithLabelValues(kind).Inc()
}

// RecordPublishFailure counts a dropped outbound event.
func (m *BusMetrics) RecordPublishFailure(kind, reason string) {
	if m == nil {
		return
	}
	m.publishFailures.Add(1)
	m.publishFailuresTotal.WithLabelValues(kind, reason).Inc()
}

// RecordEvent counts an inbound event by outcome.
func (m *BusMetrics) RecordEvent(kind, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	switch outcome {
	case OutcomeHandled:
		m.handled.Add(1)
	case OutcomeMalformed:
		m.malformed.Add(1)
	case OutcomeHandlerFailure:
		m.handlerFailures.Add(1)
	case OutcomeUnhandled:
		m.unhandled.Add(1)
	}
	if kind == "" {
		kind = "unknown"
	}
	m.eventsTotal.WithLabelValues(kind, outcome).Inc()
	if outcome != OutcomeMalformed {
		m.handlerDuration.WithLabelValues(kind).Observe(took.Seconds())
	}
}

// RecordListenerRestart counts a supervised restart.
func (m *BusMetrics) RecordListenerRestart() {
	if m == nil {
		return
	}
	m.listenerRestarts.Add(1)
	m.restartsTotal.Inc()
}

// Snapshot returns the current counters.
func (m *BusMetrics) Snapshot() BusSnapshot {
	if m == nil {
		return BusSnapshot{CollectedAt: time.Now()}
	}
	return BusSnapshot{
		Published:        m.published.Load(),
		PublishFailures:  m.publishFailures.Load(),
		Handled:          m.handled.Load(),
		Malformed:        m.malformed.Load(),
		HandlerFailures:  m.handlerFailures.Load(),
		Unhandled:        m.unhandled.Load(),
		ListenerRestarts: m.listenerRestarts.Load(),
		CollectedAt:      time.Now(),
	}
}
