package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	errspkg "github.com/drblury/shopmesh/internal/runtime/errors"
	"github.com/drblury/shopmesh/internal/runtime/httperr"
	loggingpkg "github.com/drblury/shopmesh/internal/runtime/logging"
	"github.com/drblury/shopmesh/internal/runtime/promutil"
)

// Response bodies sent on rejection.
const (
	MessageAuthRequired  = "Authentication required"
	MessageInvalidFormat = "Invalid token format"
	MessageInvalidToken  = "Invalid token"
)

// DefaultExemptPaths bypass the delegate entirely. The health probe is exempt
// only at its exact path; the admin site owns everything below /admin/.
var DefaultExemptPaths = []string{"/health/", "/admin/*"}

// Decision outcomes recorded in shopmesh_auth_decisions_total.
const (
	outcomeExempt      = "exempt"
	outcomePassed      = "passed"
	outcomeMissing     = "missing"
	outcomeMalformed   = "malformed"
	outcomeRejected    = "rejected"
	outcomeUnavailable = "unavailable"
)

// Option customises a Delegate.
type Option func(*Delegate)

// WithExemptPaths replaces the exempt paths. An entry matches a request path
// exactly, unless it ends in "*", in which case it matches as a prefix.
func WithExemptPaths(prefixes ...string) Option {
	return func(d *Delegate) { d.exempt = append([]string(nil), prefixes...) }
}

// WithLogger sets the logger.
func WithLogger(logger loggingpkg.ServiceLogger) Option {
	return func(d *Delegate) { d.logger = logger }
}

// WithRegisterer sets where decision metrics are registered.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(d *Delegate) { d.registerer = r }
}

// Delegate is HTTP middleware that requires a verified bearer token on every
// non-exempt request. It only establishes who the caller is; authorization is
// left to the business handler.
type Delegate struct {
	resolver   IdentityResolver
	exempt     []string
	logger     loggingpkg.ServiceLogger
	registerer prometheus.Registerer
	decisions  *prometheus.CounterVec
}

// New builds a Delegate around resolver.
func New(resolver IdentityResolver, opts ...Option) (*Delegate, error) {
	if resolver == nil {
		return nil, errspkg.ErrResolverRequired
	}
	d := &Delegate{
		resolver: resolver,
		exempt:   append([]string(nil), DefaultExemptPaths...),
		logger:   loggingpkg.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	var err error
	d.decisions, err = promutil.Register(d.registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopmesh",
		Subsystem: "auth",
		Name:      "decisions_total",
		Help:      "Auth delegate decisions by outcome",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Exempt reports whether path bypasses verification.
func (d *Delegate) Exempt(path string) bool {
	for _, entry := range d.exempt {
		if prefix, ok := strings.CutSuffix(entry, "*"); ok {
			if strings.HasPrefix(path, prefix) {
				return true
			}
			continue
		}
		if path == entry {
			return true
		}
	}
	return false
}

// Middleware wraps next.
func (d *Delegate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d.Exempt(r.URL.Path) {
			d.decisions.WithLabelValues(outcomeExempt).Inc()
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			d.decisions.WithLabelValues(outcomeMissing).Inc()
			httperr.Write(w, http.StatusUnauthorized, MessageAuthRequired)
			return
		}
		token, ok := bearerToken(header)
		if !ok {
			d.decisions.WithLabelValues(outcomeMalformed).Inc()
			httperr.Write(w, http.StatusUnauthorized, MessageInvalidFormat)
			return
		}

		identity, err := d.resolver.Resolve(r.Context(), token)
		if err != nil {
			fields := loggingpkg.LogFields{"path": r.URL.Path, "method": r.Method}
			if errors.Is(err, errspkg.ErrServiceUnavailable) {
				d.decisions.WithLabelValues(outcomeUnavailable).Inc()
				d.logger.Error("Identity service unavailable, rejecting request", err, fields)
			} else {
				d.decisions.WithLabelValues(outcomeRejected).Inc()
				d.logger.Info("Token rejected", fields.Add(loggingpkg.LogFields{"reason": err.Error()}))
			}
			httperr.Write(w, http.StatusUnauthorized, MessageInvalidToken)
			return
		}

		d.decisions.WithLabelValues(outcomePassed).Inc()
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" || strings.ContainsRune(token, ' ') {
		return "", false
	}
	return token, true
}
