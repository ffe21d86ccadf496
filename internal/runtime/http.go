package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/shopmesh/internal/runtime/events"
	"github.com/drblury/shopmesh/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/shopmesh/internal/runtime/logging"
)

// HealthPath is served on the main listener and exempt from auth.
const HealthPath = "/health/"

// HealthStatus is the body of the health endpoint.
type HealthStatus struct {
	Status    string        `json:"status"`
	Service   string        `json:"service"`
	Transport string        `json:"transport"`
	Persisted bool          `json:"persisted"`
	Kinds     []events.Kind `json:"kinds"`
	Bus       BusSnapshot   `json:"bus"`
}

// RegisterHTTPHandler mounts handler on the listener for addr. Handlers are
// served once Start runs; an empty addr means Config.HTTPAddr.
func (s *Service) RegisterHTTPHandler(addr, pattern string, handler http.Handler) {
	if addr == "" {
		addr = s.Conf.HTTPAddr
	}

	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[string]*http.ServeMux)
	}
	mux, ok := s.httpServers[addr]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[addr] = mux
	}
	mux.Handle(pattern, handler)
}

func (s *Service) registerHealthHandler() {
	s.RegisterHTTPHandler("", HealthPath, http.HandlerFunc(s.serveHealth))
}

func (s *Service) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	caps := s.TransportCapabilities()
	if err := jsoncodec.Encode(w, HealthStatus{
		Status:    "ok",
		Service:   s.Conf.ServiceName,
		Transport: s.Conf.PubSubSystem,
		Persisted: caps.Persistent,
		Kinds:     s.registry.Kinds(),
		Bus:       s.metrics.Snapshot(),
	}); err != nil {
		s.Logger.Error("Failed to write health response", err, nil)
	}
}

func (s *Service) registerMetricsHandler() {
	addr := ""
	if s.Conf.MetricsPort > 0 {
		addr = fmt.Sprintf(":%d", s.Conf.MetricsPort)
	}
	s.RegisterHTTPHandler(addr, "/metrics", s.metricsHandler())
}

func (s *Service) metricsHandler() http.Handler {
	if s.registerer == prometheus.DefaultRegisterer {
		return promhttp.Handler()
	}
	if g, ok := s.registerer.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

type runningServer struct {
	server *http.Server
	done   chan struct{}
}

// startHTTPServers binds every registered address before serving, so a port
// conflict fails Start instead of being logged from a goroutine.
func (s *Service) startHTTPServers() ([]runningServer, error) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	addrs := make([]string, 0, len(s.httpServers))
	for addr := range s.httpServers {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	servers := make([]runningServer, 0, len(addrs))
	for _, addr := range addrs {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			s.shutdownHTTPServers(servers)
			return nil, fmt.Errorf("listen on %s: %w", addr, err)
		}
		srv := runningServer{
			server: &http.Server{
				Handler:           s.httpServers[addr],
				ReadHeaderTimeout: 10 * time.Second,
			},
			done: make(chan struct{}),
		}
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": ln.Addr().String()})
		go func() {
			defer close(srv.done)
			if err := srv.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("HTTP server failed", err, loggingpkg.LogFields{"address": addr})
			}
		}()
		servers = append(servers, srv)
	}
	return servers, nil
}

func (s *Service) shutdownHTTPServers(servers []runningServer) {
	if len(servers) == 0 {
		return
	}
	timeout := s.Conf.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.server.Shutdown(ctx); err != nil {
			s.Logger.Error("HTTP server shutdown failed", err, nil)
			_ = srv.server.Close()
		}
		<-srv.done
	}
}
