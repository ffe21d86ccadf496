package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/shopmesh/internal/runtime/admission"
	"github.com/drblury/shopmesh/internal/runtime/auth"
	"github.com/drblury/shopmesh/internal/runtime/client"
	configpkg "github.com/drblury/shopmesh/internal/runtime/config"
	"github.com/drblury/shopmesh/internal/runtime/discovery"
	errspkg "github.com/drblury/shopmesh/internal/runtime/errors"
	"github.com/drblury/shopmesh/internal/runtime/events"
	loggingpkg "github.com/drblury/shopmesh/internal/runtime/logging"
	transportpkg "github.com/drblury/shopmesh/internal/runtime/transport"
	"github.com/drblury/shopmesh/transport"
)

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to get the defaults derived from the configuration.
type ServiceDependencies struct {
	// Transport is a medium built by the caller. The Service takes ownership
	// and closes it in Close. When nil, TransportFactory builds one.
	Transport        *transport.Transport
	TransportFactory transportpkg.Factory

	Registry   *events.Registry
	Registerer prometheus.Registerer

	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	// Hooks run after the built-in logging and metrics hooks.
	Hooks DeliveryHooks
	// RestartBackOff paces listener restarts in Start.
	RestartBackOff backoff.BackOff

	// IdentityResolver replaces the user-service lookup used by Edge.
	IdentityResolver auth.IdentityResolver
	// AdmissionStore replaces the store selected by Config.RateLimitStore.
	AdmissionStore admission.Store
	Clock          func() time.Time
}

// Service owns one process's connection to the event bus, its service client
// and the HTTP listeners it serves. Register handlers before calling Start.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	wmLogger  watermill.LoggerAdapter
	transport transport.Transport
	publisher *Publisher
	registry  *events.Registry

	metrics     *BusMetrics
	registerer  prometheus.Registerer
	middlewares []message.HandlerMiddleware
	hooks       DeliveryHooks
	restart     backoff.BackOff

	discovery *discovery.Registry
	client    *client.Client

	edgeOnce  sync.Once
	edge      func(http.Handler) http.Handler
	edgeErr   error
	edgeDeps  ServiceDependencies
	closers   []func() error
	closersMu sync.Mutex

	httpServers   map[string]*http.ServeMux
	httpServersMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewService validates conf, connects to the configured broadcast medium and
// prepares the listener. Call Close when done.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	log = log.With(loggingpkg.LogFields{"service": conf.ServiceName})
	log.Info("Creating service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"event_channel": conf.EventChannel,
		"config":        conf,
	})

	s := &Service{
		Conf:       conf,
		Logger:     log,
		wmLogger:   loggingpkg.NewWatermillAdapter(log),
		registry:   deps.Registry,
		registerer: deps.Registerer,
		restart:    deps.RestartBackOff,
		edgeDeps:   deps,
	}
	if s.registry == nil {
		s.registry = events.NewRegistry()
	}
	if s.registerer == nil {
		s.registerer = prometheus.DefaultRegisterer
	}
	if s.restart == nil {
		s.restart = defaultRestartBackOff()
	}

	s.metrics = NewBusMetrics(s.registerer)
	if err := s.metrics.Register(); err != nil {
		return nil, fmt.Errorf("register bus metrics: %w", err)
	}
	s.hooks = LoggingHooks(log).Merge(MetricsHooks(s.metrics)).Merge(deps.Hooks)

	var err error
	if s.discovery, err = discovery.New(conf.Services.Map()); err != nil {
		return nil, err
	}
	if s.client, err = client.New(s.discovery, conf.RequestTimeout,
		client.WithLogger(log),
		client.WithRegisterer(s.registerer),
	); err != nil {
		return nil, err
	}

	if err := s.connect(ctx, deps); err != nil {
		return nil, err
	}

	if s.publisher, err = NewPublisher(s.transport.Publisher, PublisherConfig{
		Topic:   conf.EventChannel,
		Source:  conf.ServiceName,
		Timeout: conf.PublishTimeout,
	}, log, s.metrics); err != nil {
		_ = s.transport.Close()
		return nil, err
	}

	if err := s.resolveMiddlewares(deps); err != nil {
		_ = s.transport.Close()
		return nil, err
	}

	s.registerHealthHandler()
	if conf.MetricsEnabled {
		s.registerMetricsHandler()
	}
	return s, nil
}

func (s *Service) connect(ctx context.Context, deps ServiceDependencies) error {
	if deps.Transport != nil {
		s.transport = *deps.Transport
	} else {
		factory := deps.TransportFactory
		if factory == nil {
			factory = transportpkg.DefaultFactory()
		}
		tr, err := factory.Build(ctx, s.Conf, s.wmLogger)
		if err != nil {
			return fmt.Errorf("build %s transport: %w", s.Conf.PubSubSystem, err)
		}
		s.transport = tr
	}

	if s.transport.Publisher == nil || s.transport.Subscriber == nil {
		_ = s.transport.Close()
		if s.transport.Publisher == nil {
			return errspkg.ErrPublisherRequired
		}
		return errspkg.ErrSubscriberRequired
	}
	return nil
}

func (s *Service) resolveMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		mw, err := s.buildMiddleware(reg)
		if err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("build middleware %s: %w", name, err)
		}
		if mw == nil {
			continue
		}
		s.middlewares = append(s.middlewares, mw)
	}
	return nil
}

func defaultRestartBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	return b
}

// Handlers returns the registry inbound events are dispatched through.
func (s *Service) Handlers() *events.Registry {
	return s.registry
}

// TransportCapabilities reports the delivery guarantees of the configured medium.
func (s *Service) TransportCapabilities() transport.Capabilities {
	return transport.GetCapabilities(s.Conf.PubSubSystem)
}

// Client returns the synchronous service client.
func (s *Service) Client() *client.Client {
	return s.client
}

// Discovery returns the service registry built from configuration.
func (s *Service) Discovery() *discovery.Registry {
	return s.discovery
}

// Metrics returns the bus counters.
func (s *Service) Metrics() *BusMetrics {
	return s.metrics
}

func (s *Service) addCloser(fn func() error) {
	s.closersMu.Lock()
	defer s.closersMu.Unlock()
	s.closers = append(s.closers, fn)
}

// Close releases the transport and everything Edge opened. It is safe to call
// more than once; later calls return the first result.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.closersMu.Lock()
		closers := s.closers
		s.closers = nil
		s.closersMu.Unlock()

		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		if err := s.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
		s.closeErr = errors.Join(errs...)
		s.Logger.Info("Service closed", nil)
	})
	return s.closeErr
}
