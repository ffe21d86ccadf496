package events

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	errspkg "github.com/drblury/shopmesh/internal/runtime/errors"
	"github.com/drblury/shopmesh/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/shopmesh/internal/runtime/logging"
	metadatapkg "github.com/drblury/shopmesh/internal/runtime/metadata"
)

// Delivery is one envelope as received by this process.
type Delivery struct {
	Envelope Envelope
	Metadata metadatapkg.Metadata
	Logger   loggingpkg.ServiceLogger
}

// Handler reacts to a delivery. Delivery is best-effort and may repeat, so
// handlers must be idempotent: applying the same envelope twice must leave the
// same state as applying it once.
type Handler func(ctx context.Context, d Delivery) error

// Context exposes a decoded payload to a typed handler.
type Context[T any] struct {
	Payload  T
	Envelope Envelope
	Metadata metadatapkg.Metadata
	Logger   loggingpkg.ServiceLogger
}

// TypedHandler processes a payload that has already been decoded and validated.
type TypedHandler[T any] func(ctx context.Context, event Context[T]) error

type registration struct {
	name    string
	handler Handler
}

// Registry maps event kinds to the handlers this process runs for them.
// It is filled during startup and only read afterwards.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind][]registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind][]registration)}
}

// Register adds a raw handler for kind. Names must be unique per kind.
func (r *Registry) Register(kind Kind, name string, h Handler) error {
	if kind == "" {
		return errspkg.ErrKindRequired
	}
	if h == nil {
		return errspkg.ErrHandlerRequired
	}
	if name == "" {
		name = string(kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.handlers[kind] {
		if existing.name == name {
			return fmt.Errorf("%w: %s/%s", errspkg.ErrKindAlreadyRegistered, kind, name)
		}
	}
	r.handlers[kind] = append(r.handlers[kind], registration{name: name, handler: h})
	return nil
}

// Handle registers a typed handler. T must be a pointer to a payload struct;
// its Kind method selects the kind. A body that does not fit T, or fails its
// Validate method, is reported as a malformed event before h runs.
func Handle[T Payload](r *Registry, name string, h TypedHandler[T]) error {
	if h == nil {
		return errspkg.ErrHandlerRequired
	}
	factory, err := payloadFactory[T]()
	if err != nil {
		return err
	}
	kind := factory().Kind()

	return r.Register(kind, name, func(ctx context.Context, d Delivery) error {
		payload := factory()
		if err := jsoncodec.Unmarshal(d.Envelope.data, payload); err != nil {
			return malformed(d.Envelope.data, fmt.Errorf("decode %s payload: %w", kind, err))
		}
		if v, ok := any(payload).(Validator); ok {
			if err := v.Validate(); err != nil {
				return malformed(d.Envelope.data, err)
			}
		}
		return h(ctx, Context[T]{
			Payload:  payload,
			Envelope: d.Envelope,
			Metadata: d.Metadata,
			Logger:   d.Logger,
		})
	})
}

func payloadFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrPayloadTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrPayloadPointerNeeded
	}
	elem := typ.Elem()
	return func() T {
		return reflect.New(elem).Interface().(T)
	}, nil
}

// Has reports whether at least one handler is registered for kind.
func (r *Registry) Has(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[kind]) > 0
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Dispatch runs every handler registered for the delivery's kind. Handlers run
// one after another; a failing or panicking handler does not stop the rest.
// Payload decode failures come back as *errors.MalformedEventError, handler
// failures as *errors.HandlerError, and a kind with no handlers as ErrNoHandler.
func (r *Registry) Dispatch(ctx context.Context, d Delivery) error {
	kind := d.Envelope.Kind()

	r.mu.RLock()
	regs := append([]registration(nil), r.handlers[kind]...)
	r.mu.RUnlock()

	if len(regs) == 0 {
		return fmt.Errorf("%w: %s", errspkg.ErrNoHandler, kind)
	}

	var errs []error
	for _, reg := range regs {
		if err := invoke(ctx, reg, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func invoke(ctx context.Context, reg registration, d Delivery) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &errspkg.HandlerError{
				Kind:    string(d.Envelope.Kind()),
				EventID: d.Envelope.ID(),
				Err:     fmt.Errorf("%s: panic: %v", reg.name, p),
			}
		}
	}()

	err = reg.handler(ctx, d)
	if err == nil {
		return nil
	}
	if errors.Is(err, errspkg.ErrMalformedEvent) {
		return err
	}
	return &errspkg.HandlerError{
		Kind:    string(d.Envelope.Kind()),
		EventID: d.Envelope.ID(),
		Err:     fmt.Errorf("%s: %w", reg.name, err),
	}
}
