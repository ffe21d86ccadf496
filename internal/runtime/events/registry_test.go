package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/shopmesh/internal/runtime/errors"
	loggingpkg "github.com/drblury/shopmesh/internal/runtime/logging"
	metadatapkg "github.com/drblury/shopmesh/internal/runtime/metadata"
)

func delivery(t *testing.T, raw string) Delivery {
	t.Helper()
	env, err := Decode([]byte(raw))
	require.NoError(t, err)
	return Delivery{Envelope: env, Metadata: metadatapkg.Metadata{}, Logger: loggingpkg.Nop()}
}

func TestHandleDecodesTypedPayload(t *testing.T) {
	reg := NewRegistry()

	var got []int64
	err := Handle(reg, "cart.clear", func(ctx context.Context, ev Context[*OrderCreated]) error {
		got = append(got, ev.Payload.UserID)
		assert.Equal(t, KindOrderCreated, ev.Envelope.Kind())
		return nil
	})
	require.NoError(t, err)
	assert.True(t, reg.Has(KindOrderCreated))
	assert.Equal(t, []Kind{KindOrderCreated}, reg.Kinds())

	err = reg.Dispatch(context.Background(), delivery(t, `{"type":"order.created","data":{"user_id":7},"timestamp":"2024-01-01T00:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, got)
}

func TestHandleRejectsShapeMismatch(t *testing.T) {
	reg := NewRegistry()
	called := false
	require.NoError(t, Handle(reg, "cart.clear", func(ctx context.Context, ev Context[*OrderCreated]) error {
		called = true
		return nil
	}))

	tests := []struct {
		name string
		raw  string
	}{
		{"wrong type", `{"type":"order.created","data":{"user_id":"seven"}}`},
		{"missing user", `{"type":"order.created","data":{}}`},
		{"null data", `{"type":"order.created","data":null}`},
		{"array data", `{"type":"order.created","data":[1,2]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Dispatch(context.Background(), delivery(t, tt.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errspkg.ErrMalformedEvent), "got %v", err)
			assert.False(t, errors.Is(err, errspkg.ErrHandlerFailure))
		})
	}
	assert.False(t, called)
}

func TestHandleRequiresPointerType(t *testing.T) {
	reg := NewRegistry()
	err := Handle(reg, "value", func(ctx context.Context, ev Context[OrderCreated]) error { return nil })
	assert.ErrorIs(t, err, errspkg.ErrPayloadPointerNeeded)

	err = Handle[*OrderCreated](reg, "nil", nil)
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)
}

func TestRegisterValidation(t *testing.T) {
	reg := NewRegistry()
	noop := func(context.Context, Delivery) error { return nil }

	assert.ErrorIs(t, reg.Register("", "x", noop), errspkg.ErrKindRequired)
	assert.ErrorIs(t, reg.Register("product.updated", "x", nil), errspkg.ErrHandlerRequired)

	require.NoError(t, reg.Register("product.updated", "", noop))
	assert.ErrorIs(t, reg.Register("product.updated", "", noop), errspkg.ErrKindAlreadyRegistered)
	require.NoError(t, reg.Register("product.updated", "search.reindex", noop))
}

func TestDispatchUnknownKind(t *testing.T) {
	reg := NewRegistry()
	err := reg.Dispatch(context.Background(), delivery(t, `{"type":"inventory.low","data":{}}`))
	assert.ErrorIs(t, err, errspkg.ErrNoHandler)
}

func TestDispatchContainsHandlerFailures(t *testing.T) {
	reg := NewRegistry()
	var ran []string
	require.NoError(t, reg.Register("product.updated", "fails", func(context.Context, Delivery) error {
		ran = append(ran, "fails")
		return errors.New("db down")
	}))
	require.NoError(t, reg.Register("product.updated", "panics", func(context.Context, Delivery) error {
		ran = append(ran, "panics")
		panic("boom")
	}))
	require.NoError(t, reg.Register("product.updated", "works", func(ctx context.Context, d Delivery) error {
		ran = append(ran, "works")
		var body map[string]any
		return json.Unmarshal(d.Envelope.Data(), &body)
	}))

	env, err := NewRaw("product.updated", map[string]any{"id": 3})
	require.NoError(t, err)

	err = reg.Dispatch(context.Background(), Delivery{Envelope: env, Logger: loggingpkg.Nop()})
	require.Error(t, err)
	assert.Equal(t, []string{"fails", "panics", "works"}, ran)
	assert.True(t, errors.Is(err, errspkg.ErrHandlerFailure))
	assert.Contains(t, err.Error(), "db down")
	assert.Contains(t, err.Error(), "panic: boom")

	var handlerErr *errspkg.HandlerError
	require.ErrorAs(t, err, &handlerErr)
	assert.Equal(t, "product.updated", handlerErr.Kind)
	assert.Equal(t, env.ID(), handlerErr.EventID)
}
