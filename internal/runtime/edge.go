package runtime

import (
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/drblury/shopmesh/internal/runtime/admission"
	"github.com/drblury/shopmesh/internal/runtime/auth"
)

// Edge wraps h with the gateway chain: admission first, then the auth
// delegate, then h. The controller and delegate are built on the first call
// and shared by every later one, so all routes draw from the same counters.
func (s *Service) Edge(h http.Handler) (http.Handler, error) {
	s.edgeOnce.Do(func() {
		s.edge, s.edgeErr = s.buildEdge()
	})
	if s.edgeErr != nil {
		return nil, s.edgeErr
	}
	return s.edge(h), nil
}

func (s *Service) buildEdge() (func(http.Handler) http.Handler, error) {
	store, err := s.admissionStore()
	if err != nil {
		return nil, err
	}

	trusted, err := admission.ParseTrustedProxies(s.Conf.TrustedProxies)
	if err != nil {
		return nil, err
	}
	admissionOpts := []admission.Option{
		admission.WithTrustedProxies(trusted...),
		admission.WithPolicy(int64(s.Conf.RateLimitRequests), s.Conf.RateLimitWindow),
		admission.WithLogger(s.Logger),
		admission.WithRegisterer(s.registerer),
	}
	if s.edgeDeps.Clock != nil {
		admissionOpts = append(admissionOpts, admission.WithClock(s.edgeDeps.Clock))
	}
	controller, err := admission.New(store, admissionOpts...)
	if err != nil {
		return nil, err
	}

	resolver := s.edgeDeps.IdentityResolver
	if resolver == nil {
		resolver = auth.NewServiceResolver(s.client, s.Conf.IdentityService, s.Conf.IdentityPath)
	}
	exempt := s.Conf.AuthExemptPaths
	if len(exempt) == 0 {
		exempt = auth.DefaultExemptPaths
	}
	delegate, err := auth.New(resolver,
		auth.WithExemptPaths(exempt...),
		auth.WithLogger(s.Logger),
		auth.WithRegisterer(s.registerer),
	)
	if err != nil {
		return nil, err
	}

	return func(h http.Handler) http.Handler {
		return controller.Middleware(delegate.Middleware(h))
	}, nil
}

// admissionStore returns the injected store, or the one Config.RateLimitStore
// selects. Stores opened here are closed by Close.
func (s *Service) admissionStore() (admission.Store, error) {
	if s.edgeDeps.AdmissionStore != nil {
		return s.edgeDeps.AdmissionStore, nil
	}

	if s.Conf.RateLimitStore == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:       s.Conf.RedisAddr,
			Password:   s.Conf.RedisPassword,
			DB:         s.Conf.RedisDB,
			ClientName: s.Conf.ServiceName + "-admission",
		})
		s.addCloser(rdb.Close)
		return admission.NewRedisStore(rdb, ""), nil
	}

	store := admission.NewMemoryStore(s.Conf.RateLimitWindow)
	s.addCloser(store.Close)
	return store, nil
}
