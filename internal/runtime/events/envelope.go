package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	errspkg "github.com/drblury/shopmesh/internal/runtime/errors"
	idspkg "github.com/drblury/shopmesh/internal/runtime/ids"
	"github.com/drblury/shopmesh/internal/runtime/jsoncodec"
)

// Kind tags what happened. Kinds are dot-separated, for example "order.created".
type Kind string

func (k Kind) String() string { return string(k) }

// Payload is implemented by every typed event body. The kind is a property of
// the type, so a value can never travel under the wrong tag.
type Payload interface {
	Kind() Kind
}

// Validator is implemented by payloads that have required fields.
type Validator interface {
	Validate() error
}

// Envelope is the immutable unit broadcast on the bus. Construct it with New or
// NewRaw; decode it with Decode. Data returns a copy, so a received envelope
// cannot be altered and republished.
type Envelope struct {
	id        string
	kind      Kind
	data      json.RawMessage
	timestamp time.Time
	source    string
}

// Option customises envelope construction.
type Option func(*Envelope)

// WithSource records the publishing service.
func WithSource(source string) Option {
	return func(e *Envelope) { e.source = source }
}

// WithTimestamp overrides the publisher-assigned timestamp.
func WithTimestamp(ts time.Time) Option {
	return func(e *Envelope) { e.timestamp = ts.UTC() }
}

// WithID overrides the generated envelope id.
func WithID(id string) Option {
	return func(e *Envelope) { e.id = id }
}

// New wraps a typed payload.
func New(p Payload, opts ...Option) (Envelope, error) {
	if p == nil {
		return Envelope{}, errspkg.ErrEventPayloadRequired
	}
	return NewRaw(p.Kind(), p, opts...)
}

// NewRaw wraps an arbitrary JSON-encodable body under kind. Use it for kinds
// this process has no Go type for.
func NewRaw(kind Kind, data any, opts ...Option) (Envelope, error) {
	if kind == "" {
		return Envelope{}, errspkg.ErrKindRequired
	}

	var raw json.RawMessage
	switch v := data.(type) {
	case json.RawMessage:
		raw = append(json.RawMessage(nil), v...)
	case []byte:
		raw = append(json.RawMessage(nil), v...)
	default:
		encoded, err := jsoncodec.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		raw = encoded
	}
	if !jsoncodec.Valid(raw) {
		return Envelope{}, fmt.Errorf("encode %s payload: data is not valid JSON", kind)
	}

	now := time.Now().UTC()
	env := Envelope{
		id:        idspkg.NewAt(now),
		kind:      kind,
		data:      raw,
		timestamp: now,
	}
	for _, opt := range opts {
		opt(&env)
	}
	return env, nil
}

func (e Envelope) ID() string           { return e.id }
func (e Envelope) Kind() Kind           { return e.kind }
func (e Envelope) Timestamp() time.Time { return e.timestamp }
func (e Envelope) Source() string       { return e.source }

// Data returns a copy of the raw JSON payload.
func (e Envelope) Data() json.RawMessage {
	return append(json.RawMessage(nil), e.data...)
}

// DecodeData unmarshals the payload into target.
func (e Envelope) DecodeData(target any) error {
	return jsoncodec.Unmarshal(e.data, target)
}

// wireEnvelope is the JSON document exchanged on the channel. id and source
// are optional so publishers that only send type/data/timestamp interoperate.
type wireEnvelope struct {
	ID        string          `json:"id,omitempty"`
	Type      Kind            `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
	Source    string          `json:"source,omitempty"`
}

// Encode produces the wire representation.
func (e Envelope) Encode() ([]byte, error) {
	if e.kind == "" {
		return nil, errspkg.ErrKindRequired
	}
	data := e.data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return jsoncodec.Marshal(wireEnvelope{
		ID:        e.id,
		Type:      e.kind,
		Data:      data,
		Timestamp: FormatTime(e.timestamp),
		Source:    e.source,
	})
}

// MarshalJSON lets envelopes be embedded in other documents.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return e.Encode()
}

// Decode parses a wire document. Every failure is a *errors.MalformedEventError.
func Decode(raw []byte) (Envelope, error) {
	var wire wireEnvelope
	if err := jsoncodec.Unmarshal(raw, &wire); err != nil {
		return Envelope{}, malformed(raw, err)
	}
	if wire.Type == "" {
		return Envelope{}, malformed(raw, errors.New("missing type"))
	}
	if len(wire.Data) == 0 {
		return Envelope{}, malformed(raw, errors.New("missing data"))
	}

	env := Envelope{
		id:     wire.ID,
		kind:   wire.Type,
		data:   append(json.RawMessage(nil), wire.Data...),
		source: wire.Source,
	}
	if wire.Timestamp != "" {
		ts, err := ParseTime(wire.Timestamp)
		if err != nil {
			return Envelope{}, malformed(raw, err)
		}
		env.timestamp = ts
	}
	return env, nil
}

func malformed(raw []byte, err error) error {
	return &errspkg.MalformedEventError{Raw: append([]byte(nil), raw...), Err: err}
}
