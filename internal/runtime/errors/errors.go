package errors

import (
	sterrors "errors"
	"fmt"
)

// Construction and wiring errors.
var (
	ErrServiceRequired       = sterrors.New("shopmesh: service is required")
	ErrConfigRequired        = sterrors.New("shopmesh: configuration is required")
	ErrLoggerRequired        = sterrors.New("shopmesh: logger is required")
	ErrHandlerRequired       = sterrors.New("shopmesh: handler function is required")
	ErrKindRequired          = sterrors.New("shopmesh: event kind is required")
	ErrKindAlreadyRegistered = sterrors.New("shopmesh: event kind already registered")
	ErrPayloadTypeRequired   = sterrors.New("shopmesh: payload type is required")
	ErrPayloadPointerNeeded  = sterrors.New("shopmesh: payload type must be a pointer")
	ErrEventPayloadRequired  = sterrors.New("shopmesh: event payload is required")
	ErrPublisherRequired     = sterrors.New("shopmesh: publisher is required")
	ErrSubscriberRequired    = sterrors.New("shopmesh: subscriber is required")
	ErrTopicRequired         = sterrors.New("shopmesh: topic is required")
	ErrResolverRequired      = sterrors.New("shopmesh: identity resolver is required")
	ErrStoreRequired         = sterrors.New("shopmesh: store is required")
)

// Runtime failure classes. Each one is contained at its own boundary.
var (
	// ErrBusUnavailable means the broadcast medium could not be reached or the
	// subscription was lost.
	ErrBusUnavailable = sterrors.New("shopmesh: event bus unavailable")
	// ErrMalformedEvent means an inbound message could not be decoded into a
	// known envelope or payload shape.
	ErrMalformedEvent = sterrors.New("shopmesh: malformed event")
	// ErrHandlerFailure means a registered handler returned an error or panicked.
	ErrHandlerFailure = sterrors.New("shopmesh: event handler failed")
	// ErrNoHandler means no handler is registered for an event kind.
	ErrNoHandler = sterrors.New("shopmesh: no handler registered for event kind")
	// ErrServiceUnavailable means a synchronous call failed at the connection level.
	ErrServiceUnavailable = sterrors.New("shopmesh: service unavailable")
	ErrUnknownService     = sterrors.New("shopmesh: unknown service")
	// ErrAuthentication is the root of every auth delegate rejection.
	ErrAuthentication     = sterrors.New("shopmesh: authentication failed")
	ErrInvalidCredentials = fmt.Errorf("%w: credentials rejected", ErrAuthentication)
	ErrAdmissionRejected  = sterrors.New("shopmesh: rate limit exceeded")
)

// UnavailableError carries the service that could not be reached.
type UnavailableError struct {
	Service string
	Err     error
}

func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("shopmesh: service %q unavailable", e.Service)
	}
	return fmt.Sprintf("shopmesh: service %q unavailable: %v", e.Service, e.Err)
}

func (e *UnavailableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrServiceUnavailable}
	}
	return []error{ErrServiceUnavailable, e.Err}
}

// MalformedEventError keeps the raw payload that failed to decode.
type MalformedEventError struct {
	Raw []byte
	Err error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("shopmesh: malformed event: %v", e.Err)
}

func (e *MalformedEventError) Unwrap() []error {
	return []error{ErrMalformedEvent, e.Err}
}

// HandlerError identifies which event a handler failed on.
type HandlerError struct {
	Kind    string
	EventID string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("shopmesh: handler for %s (event %s) failed: %v", e.Kind, e.EventID, e.Err)
}

func (e *HandlerError) Unwrap() []error {
	return []error{ErrHandlerFailure, e.Err}
}

// ConfigValidationError wraps configuration validation failures.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("shopmesh: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
