package cli

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/drblury/shopmesh/internal/runtime/config"
	"github.com/drblury/shopmesh/internal/runtime/discovery"
	errspkg "github.com/drblury/shopmesh/internal/runtime/errors"
	"github.com/drblury/shopmesh/internal/runtime/httperr"
	"github.com/drblury/shopmesh/internal/runtime/logging"
)

// GatewayServiceName is the default service name of the gateway process.
const GatewayServiceName = "api-gateway"

// Routes maps the first path segment after /api/ to a service name.
// Segments not listed here fall back to "<segment>-service".
var Routes = map[string]string{
	"users":     config.UserService,
	"products":  config.ProductService,
	"cart":      config.CartService,
	"orders":    config.OrderService,
	"discounts": config.DiscountService,
	"currency":  config.CurrencyService,
}

func newGatewayCommand(a *app) *cobra.Command {
	var trusted []string
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the edge gateway in front of every service",
		Long: `Runs the API gateway. Requests under /api/<service>/ pass admission
control and the auth delegate, then are proxied to the service's base URL
from the registry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, err := a.newService(ctx, GatewayServiceName)
			if err != nil {
				return err
			}
			defer svc.Close()

			// The gateway is the first hop: X-Forwarded-For arrives from
			// clients unless a load balancer in front is named here.
			svc.Conf.TrustedProxies = trusted
			edge, err := svc.Edge(NewGatewayHandler(svc.Discovery(), svc.Conf.RequestTimeout, svc.Logger))
			if err != nil {
				return err
			}
			svc.RegisterHTTPHandler("", "/api/", edge)
			return svc.Serve(ctx)
		},
	}
	cmd.Flags().StringSliceVar(&trusted, "trusted-proxies", nil, "CIDRs of load balancers in front of the gateway whose X-Forwarded-For is believed")
	return cmd
}

// NewGatewayHandler proxies /api/<segment>/... to the service the segment
// names. The full path is kept. Unknown segments get 404 and unreachable
// services 502. timeout bounds the wait for response headers.
func NewGatewayHandler(reg *discovery.Registry, timeout time.Duration, logger logging.ServiceLogger) http.Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if timeout > 0 {
		transport.ResponseHeaderTimeout = timeout
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			target, _ := r.In.Context().Value(targetKey{}).(route)
			r.SetURL(target.base)
			r.SetXForwarded()
		},
		Transport: otelhttp.NewTransport(transport),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			target, _ := r.Context().Value(targetKey{}).(route)
			logger.Error("Upstream service unavailable", err, logging.LogFields{
				"service": target.service,
				"path":    r.URL.Path,
			})
			httperr.Write(w, http.StatusBadGateway, "Service unavailable")
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, err := resolveRoute(reg, r.URL.Path)
		if err != nil {
			if !errors.Is(err, errspkg.ErrUnknownService) {
				logger.Error("Gateway routing failed", err, logging.LogFields{"path": r.URL.Path})
			}
			httperr.Write(w, http.StatusNotFound, "Not found")
			return
		}
		proxy.ServeHTTP(w, r.WithContext(withRoute(r.Context(), rt)))
	})
}

func resolveRoute(reg *discovery.Registry, path string) (route, error) {
	rest, ok := strings.CutPrefix(path, "/api/")
	if !ok {
		return route{}, errspkg.ErrUnknownService
	}
	segment, _, _ := strings.Cut(rest, "/")
	if segment == "" {
		return route{}, errspkg.ErrUnknownService
	}
	name, ok := Routes[segment]
	if !ok {
		name = segment + "-service"
	}
	base, err := reg.ResolveURL(name)
	if err != nil {
		return route{}, err
	}
	return route{service: name, base: base}, nil
}

type route struct {
	service string
	base    *url.URL
}

type targetKey struct{}

func withRoute(ctx context.Context, rt route) context.Context {
	return context.WithValue(ctx, targetKey{}, rt)
}
