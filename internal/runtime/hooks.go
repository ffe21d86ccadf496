package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/shopmesh/internal/runtime/logging"
)

// DeliveryInfo describes one inbound message as seen by the listener.
type DeliveryInfo struct {
	// Kind and EventID are empty when the envelope could not be decoded.
	Kind          string
	EventID       string
	CorrelationID string
	MessageUUID   string
	Topic         string
	// Context is the context the handlers ran with.
	Context   context.Context
	StartedAt time.Time
	// Duration and Outcome are set once the handlers returned.
	Duration time.Duration
	Outcome  string
}

// DeliveryHooks are callbacks around every inbound message. All hooks are
// optional. They run on the listener goroutine, so they should return quickly.
type DeliveryHooks struct {
	// OnReceived runs before the envelope is decoded.
	OnReceived func(info DeliveryInfo)
	// OnHandled runs when every handler for the kind succeeded.
	OnHandled func(info DeliveryInfo)
	// OnDropped runs when the message was malformed, unhandled or a handler
	// failed. The message is acknowledged either way.
	OnDropped func(info DeliveryInfo, err error)
}

// Merge returns hooks that call h first and then other.
func (h DeliveryHooks) Merge(other DeliveryHooks) DeliveryHooks {
	return DeliveryHooks{
		OnReceived: chainInfoHooks(h.OnReceived, other.OnReceived),
		OnHandled:  chainInfoHooks(h.OnHandled, other.OnHandled),
		OnDropped:  chainDropHooks(h.OnDropped, other.OnDropped),
	}
}

func chainInfoHooks(a, b func(DeliveryInfo)) func(DeliveryInfo) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info DeliveryInfo) {
		a(info)
		b(info)
	}
}

func chainDropHooks(a, b func(DeliveryInfo, error)) func(DeliveryInfo, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info DeliveryInfo, err error) {
		a(info, err)
		b(info, err)
	}
}

func (h DeliveryHooks) received(info DeliveryInfo) {
	if h.OnReceived != nil {
		h.OnReceived(info)
	}
}

func (h DeliveryHooks) handled(info DeliveryInfo) {
	if h.OnHandled != nil {
		h.OnHandled(info)
	}
}

func (h DeliveryHooks) dropped(info DeliveryInfo, err error) {
	if h.OnDropped != nil {
		h.OnDropped(info, err)
	}
}

// LoggingHooks logs the fate of every message. Unhandled kinds are routine on
// a shared channel and go to debug; malformed events and handler failures are
// errors.
func LoggingHooks(logger loggingpkg.ServiceLogger) DeliveryHooks {
	return DeliveryHooks{
		OnHandled: func(info DeliveryInfo) {
			logger.Debug("Event handled", deliveryFields(info))
		},
		OnDropped: func(info DeliveryInfo, err error) {
			fields := deliveryFields(info)
			switch info.Outcome {
			case OutcomeUnhandled:
				logger.Debug("No handler for event kind, ignoring it", fields)
			case OutcomeMalformed:
				logger.Error("Dropping malformed event", err, fields)
			default:
				logger.Error("Event handler failed, dropping event", err, fields)
			}
		},
	}
}

// MetricsHooks records outcome counts and handler latency.
func MetricsHooks(metrics *BusMetrics) DeliveryHooks {
	record := func(info DeliveryInfo) {
		metrics.RecordEvent(info.Kind, info.Outcome, info.Duration)
	}
	return DeliveryHooks{
		OnHandled: record,
		OnDropped: func(info DeliveryInfo, _ error) { record(info) },
	}
}

// AlertingHooks calls alert for handler failures only. Malformed and
// unhandled events are producer problems, not this process's.
func AlertingHooks(alert func(info DeliveryInfo, err error)) DeliveryHooks {
	return DeliveryHooks{
		OnDropped: func(info DeliveryInfo, err error) {
			if info.Outcome == OutcomeHandlerFailure {
				alert(info, err)
			}
		},
	}
}

func deliveryFields(info DeliveryInfo) loggingpkg.LogFields {
	fields := loggingpkg.LogFields{
		"message_uuid": info.MessageUUID,
		"outcome":      info.Outcome,
		"duration":     info.Duration.String(),
	}
	if info.Kind != "" {
		fields["event_kind"] = info.Kind
	}
	if info.EventID != "" {
		fields["event_id"] = info.EventID
	}
	if info.CorrelationID != "" {
		fields["correlation_id"] = info.CorrelationID
	}
	return fields
}
