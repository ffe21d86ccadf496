package shopmesh

import (
	"context"

	runtimepkg "github.com/drblury/shopmesh/internal/runtime"
	"github.com/drblury/shopmesh/internal/runtime/admission"
	"github.com/drblury/shopmesh/internal/runtime/auth"
	"github.com/drblury/shopmesh/internal/runtime/client"
	configpkg "github.com/drblury/shopmesh/internal/runtime/config"
	"github.com/drblury/shopmesh/internal/runtime/discovery"
	errspkg "github.com/drblury/shopmesh/internal/runtime/errors"
	"github.com/drblury/shopmesh/internal/runtime/events"
	idspkg "github.com/drblury/shopmesh/internal/runtime/ids"
	jsoncodec "github.com/drblury/shopmesh/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/shopmesh/internal/runtime/logging"
	metadatapkg "github.com/drblury/shopmesh/internal/runtime/metadata"
	transportpkg "github.com/drblury/shopmesh/internal/runtime/transport"
	newtransport "github.com/drblury/shopmesh/transport"
)

type (
	Config               = configpkg.Config
	ServiceURLs          = configpkg.ServiceURLs
	Service              = runtimepkg.Service
	ServiceDependencies  = runtimepkg.ServiceDependencies
	TransportFactory     = transportpkg.Factory
	TransportFactoryFunc = transportpkg.FactoryFunc

	// Events
	Kind                = events.Kind
	Payload             = events.Payload
	Envelope            = events.Envelope
	EnvelopeOption      = events.Option
	Registry            = events.Registry
	Delivery            = events.Delivery
	EventHandler        = events.Handler
	TypedHandler[T any] = events.TypedHandler[T]
	EventContext[T any] = events.Context[T]
	OrderCreated        = events.OrderCreated

	// Bus
	Publisher       = runtimepkg.Publisher
	PublisherConfig = runtimepkg.PublisherConfig
	DeliveryInfo    = runtimepkg.DeliveryInfo
	DeliveryHooks   = runtimepkg.DeliveryHooks
	BusMetrics      = runtimepkg.BusMetrics
	BusSnapshot     = runtimepkg.BusSnapshot
	HealthStatus    = runtimepkg.HealthStatus

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	// Service client
	Client            = client.Client
	Caller            = client.Caller
	Request           = client.Request
	Response          = client.Response
	DiscoveryRegistry = discovery.Registry

	// Edge
	Identity          = auth.Identity
	IdentityResolver  = auth.IdentityResolver
	ResolverFunc      = auth.ResolverFunc
	AdmissionStore    = admission.Store
	AdmissionDecision = admission.Decision

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError
	MalformedEventError   = errspkg.MalformedEventError
	HandlerError          = errspkg.HandlerError
	UnavailableError      = errspkg.UnavailableError

	// Modular transport types
	Transport             = newtransport.Transport
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	LoadConfig     = configpkg.Load
	DefaultConfig  = configpkg.Default
	ValidateConfig = configpkg.ValidateConfig

	NewRegistry    = events.NewRegistry
	NewEnvelope    = events.New
	NewRawEnvelope = events.NewRaw
	DecodeEnvelope = events.Decode
	WithSource     = events.WithSource
	WithID         = events.WithID
	WithTimestamp  = events.WithTimestamp

	NewPublisher = runtimepkg.NewPublisher

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RetryMiddleware         = runtimepkg.RetryMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware
	Retryable               = runtimepkg.Retryable

	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks
	NewBusMetrics = runtimepkg.NewBusMetrics

	NewDiscoveryRegistry    = discovery.New
	NewClient               = client.New
	NewServiceResolver      = auth.NewServiceResolver
	WithIdentity            = auth.WithIdentity
	IdentityFromContext     = auth.IdentityFromContext
	NewMemoryAdmissionStore = admission.NewMemoryStore
	NewRedisAdmissionStore  = admission.NewRedisStore

	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrServiceRequired    = errspkg.ErrServiceRequired
	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrHandlerRequired    = errspkg.ErrHandlerRequired
	ErrKindRequired       = errspkg.ErrKindRequired
	ErrPublisherRequired  = errspkg.ErrPublisherRequired
	ErrTopicRequired      = errspkg.ErrTopicRequired
	ErrBusUnavailable     = errspkg.ErrBusUnavailable
	ErrMalformedEvent     = errspkg.ErrMalformedEvent
	ErrHandlerFailure     = errspkg.ErrHandlerFailure
	ErrNoHandler          = errspkg.ErrNoHandler
	ErrServiceUnavailable = errspkg.ErrServiceUnavailable
	ErrUnknownService     = errspkg.ErrUnknownService
	ErrAuthentication     = errspkg.ErrAuthentication
	ErrInvalidCredentials = errspkg.ErrInvalidCredentials
	ErrAdmissionRejected  = errspkg.ErrAdmissionRejected

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewZapServiceLogger  = loggingpkg.NewZapServiceLogger
	NopLogger            = loggingpkg.Nop

	NewMetadata              = metadatapkg.New
	WithCorrelationID        = metadatapkg.WithCorrelationID
	CorrelationIDFromContext = metadatapkg.CorrelationIDFromContext

	CreateULID = idspkg.CreateULID
)

// Known event kinds.
const (
	KindOrderCreated = events.KindOrderCreated
)

// Delivery outcomes reported to DeliveryHooks.
const (
	OutcomeHandled        = runtimepkg.OutcomeHandled
	OutcomeMalformed      = runtimepkg.OutcomeMalformed
	OutcomeHandlerFailure = runtimepkg.OutcomeHandlerFailure
	OutcomeUnhandled      = runtimepkg.OutcomeUnhandled
)

// Metadata keys carried on every bus message.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyEventKind     = metadatapkg.KeyEventKind
	MetadataKeyEventID       = metadatapkg.KeyEventID
	MetadataKeySource        = metadatapkg.KeySource
)

// Handle registers a typed handler on the service's registry.
func Handle[T Payload](svc *Service, name string, h TypedHandler[T]) error {
	if svc == nil {
		return ErrServiceRequired
	}
	return events.Handle(svc.Handlers(), name, h)
}

// Publish broadcasts payload through svc. Failures are logged and counted,
// never returned.
func Publish(ctx context.Context, svc *Service, payload Payload) {
	if svc == nil {
		return
	}
	svc.Publish(ctx, payload)
}
