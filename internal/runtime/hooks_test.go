package runtime

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestDeliveryHooksMerge(t *testing.T) {
	var order []string
	first := DeliveryHooks{
		OnReceived: func(DeliveryInfo) { order = append(order, "first.received") },
		OnDropped:  func(DeliveryInfo, error) { order = append(order, "first.dropped") },
	}
	second := DeliveryHooks{
		OnReceived: func(DeliveryInfo) { order = append(order, "second.received") },
		OnHandled:  func(DeliveryInfo) { order = append(order, "second.handled") },
	}

	merged := first.Merge(second)
	merged.received(DeliveryInfo{})
	merged.handled(DeliveryInfo{})
	merged.dropped(DeliveryInfo{}, errors.New("x"))

	want := []string{"first.received", "second.received", "second.handled", "first.dropped"}
	if len(order) != len(want) {
		t.Fatalf("got %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestDeliveryHooksZeroValue(t *testing.T) {
	var hooks DeliveryHooks
	hooks.received(DeliveryInfo{})
	hooks.handled(DeliveryInfo{})
	hooks.dropped(DeliveryInfo{}, errors.New("x"))
}

func TestLoggingHooksLevels(t *testing.T) {
	logger := newRecordingLogger()
	hooks := LoggingHooks(logger)

	hooks.handled(DeliveryInfo{Kind: "order.created", Outcome: OutcomeHandled})
	hooks.dropped(DeliveryInfo{Kind: "inventory.low", Outcome: OutcomeUnhandled}, errors.New("no handler"))
	hooks.dropped(DeliveryInfo{Outcome: OutcomeMalformed}, errors.New("bad json"))
	hooks.dropped(DeliveryInfo{Kind: "order.created", EventID: "01HV", CorrelationID: "c-1", Outcome: OutcomeHandlerFailure}, errors.New("db down"))

	if got := logger.count("debug"); got != 2 {
		t.Fatalf("expected 2 debug entries, got %d", got)
	}
	if got := logger.count("error"); got != 2 {
		t.Fatalf("expected 2 error entries, got %d", got)
	}

	entry, ok := logger.find("Event handler failed, dropping event")
	if !ok {
		t.Fatal("missing handler failure entry")
	}
	if entry.fields["event_kind"] != "order.created" || entry.fields["event_id"] != "01HV" || entry.fields["correlation_id"] != "c-1" {
		t.Fatalf("unexpected fields: %v", entry.fields)
	}
	if entry.err == nil || entry.err.Error() != "db down" {
		t.Fatalf("unexpected error: %v", entry.err)
	}

	malformed, _ := logger.find("Dropping malformed event")
	if _, ok := malformed.fields["event_kind"]; ok {
		t.Fatal("malformed events have no kind")
	}
}

func TestMetricsHooks(t *testing.T) {
	metrics := NewBusMetrics(prometheus.NewRegistry())
	hooks := MetricsHooks(metrics)

	hooks.handled(DeliveryInfo{Kind: "order.created", Outcome: OutcomeHandled, Duration: time.Millisecond})
	hooks.dropped(DeliveryInfo{Outcome: OutcomeMalformed}, errors.New("bad"))
	hooks.dropped(DeliveryInfo{Kind: "order.created", Outcome: OutcomeHandlerFailure}, errors.New("bad"))

	snap := metrics.Snapshot()
	if snap.Handled != 1 || snap.Malformed != 1 || snap.HandlerFailures != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestAlertingHooksOnlyHandlerFailures(t *testing.T) {
	var alerted []string
	hooks := AlertingHooks(func(info DeliveryInfo, err error) {
		alerted = append(alerted, info.Kind)
	})

	hooks.dropped(DeliveryInfo{Kind: "a", Outcome: OutcomeMalformed}, errors.New("x"))
	hooks.dropped(DeliveryInfo{Kind: "b", Outcome: OutcomeUnhandled}, errors.New("x"))
	hooks.dropped(DeliveryInfo{Kind: "c", Outcome: OutcomeHandlerFailure}, errors.New("x"))

	if len(alerted) != 1 || alerted[0] != "c" {
		t.Fatalf("unexpected alerts: %v", alerted)
	}
}
