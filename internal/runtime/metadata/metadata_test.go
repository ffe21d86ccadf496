package metadata

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{"a": "1", "b": "2"}
	clone := original.Clone()
	clone["a"] = "changed"

	if original["a"] != "1" {
		t.Fatalf("expected original map to stay untouched, got %q", original["a"])
	}
	if len(clone) != len(original) {
		t.Fatalf("expected clone to have same size")
	}
}

func TestCloneEmpty(t *testing.T) {
	var m Metadata
	cloned := m.Clone()
	if cloned == nil {
		t.Fatal("expected non-nil map")
	}
	if len(cloned) != 0 {
		t.Fatal("expected empty map")
	}
}

func TestWithAndWithAll(t *testing.T) {
	base := Metadata{"foo": "bar"}
	enriched := base.With("baz", "qux")
	if base["baz"] != "" {
		t.Fatalf("expected base map to remain unchanged")
	}
	if enriched["baz"] != "qux" {
		t.Fatalf("expected enriched map to add entry")
	}

	merged := enriched.WithAll(Metadata{"alpha": "beta"})
	if merged["alpha"] != "beta" {
		t.Fatalf("expected merged metadata to include new value")
	}
	if merged["baz"] != "qux" {
		t.Fatalf("expected existing entries to persist")
	}
}

func TestNewPairs(t *testing.T) {
	md := New("key", "value", "another", "entry")
	if md["key"] != "value" {
		t.Fatalf("expected key to be set")
	}
	if md["another"] != "entry" {
		t.Fatalf("expected another entry to be set")
	}
}

func TestStampAndFromMessage(t *testing.T) {
	msg := message.NewMessage("m-1", nil)
	msg.Metadata = nil
	Stamp(msg, "order.created", "01HZX", "")

	md := FromMessage(msg)
	if md.EventKind() != "order.created" || md.EventID() != "01HZX" {
		t.Fatalf("unexpected headers %#v", md)
	}
	if _, ok := md[KeySource]; ok {
		t.Fatal("empty source must not be written")
	}

	Stamp(msg, "order.created", "", "order-service")
	md = FromMessage(msg)
	if md.EventID() != "01HZX" || md.Source() != "order-service" {
		t.Fatalf("restamping lost headers %#v", md)
	}

	md["event_id"] = "mutated"
	if msg.Metadata.Get(KeyEventID) != "01HZX" {
		t.Fatal("handlers must not alter message headers")
	}
}

func TestFromMessageEmpty(t *testing.T) {
	for _, msg := range []*message.Message{nil, message.NewMessage("m-2", nil)} {
		md := FromMessage(msg)
		if md == nil || len(md) != 0 {
			t.Fatalf("expected empty non-nil map, got %#v", md)
		}
	}
}

func TestCorrelationID(t *testing.T) {
	md := New(KeyCorrelationID, "01HZX", KeyEventKind, "order.created")
	if got := md.CorrelationID(); got != "01HZX" {
		t.Fatalf("expected correlation id, got %q", got)
	}
	if got := (Metadata{}).CorrelationID(); got != "" {
		t.Fatalf("expected empty correlation id, got %q", got)
	}
}

func TestCorrelationIDContext(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "req-1")
	if got := CorrelationIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected req-1, got %q", got)
	}
	if WithCorrelationID(ctx, "") != ctx {
		t.Fatal("empty id should return the context unchanged")
	}
	if got := CorrelationIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}
