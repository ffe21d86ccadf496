// Package admission limits how many requests a caller may make per fixed
// window. The edge runs it before authentication.
//
// Windows are aligned to multiples of the window length, so a caller can
// spend its budget at the end of one window and again at the start of the
// next: up to twice the limit in a short span around a boundary.
package admission

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/shopmesh/internal/runtime/auth"
	errspkg "github.com/drblury/shopmesh/internal/runtime/errors"
	"github.com/drblury/shopmesh/internal/runtime/httperr"
	loggingpkg "github.com/drblury/shopmesh/internal/runtime/logging"
	"github.com/drblury/shopmesh/internal/runtime/promutil"
)

// MessageRateLimited is the 429 response body.
const MessageRateLimited = "Rate limit exceeded"

// Defaults match the gateway budget of 1000 requests per minute.
const (
	DefaultLimit  = 1000
	DefaultWindow = time.Minute
)

// FixedWindow is the admission policy.
type FixedWindow struct {
	Limit  int64
	Window time.Duration
}

// Start returns the start of the window containing now.
func (p FixedWindow) Start(now time.Time) time.Time {
	return now.Truncate(p.Window)
}

// Decision is the outcome for one request.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// KeyFunc derives the admission key for a request.
type KeyFunc func(r *http.Request) string

// DefaultKey uses the verified identity when one is already attached and the
// connecting peer's address otherwise. X-Forwarded-For is ignored.
func DefaultKey(r *http.Request) string {
	return KeyFor(nil)(r)
}

// KeyFor is DefaultKey with X-Forwarded-For honoured for requests whose peer
// is in trusted.
func KeyFor(trusted []netip.Prefix) KeyFunc {
	return func(r *http.Request) string {
		if id, ok := auth.IdentityFromContext(r.Context()); ok && id.SubjectID != "" {
			return "user:" + id.SubjectID
		}
		return "ip:" + ClientIP(r, trusted)
	}
}

// ClientIP returns the address of the client behind r. The X-Forwarded-For
// chain is read only when the peer is a trusted proxy; it is walked right to
// left and the first hop that is not itself trusted is the client. A client
// can prepend any hops it likes, so the leftmost entry is never believed
// while an untrusted hop follows it.
func ClientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}
	if len(trusted) == 0 || !isTrusted(peer, trusted) {
		return peer
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	client := peer
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		client = hop
		if !isTrusted(hop, trusted) {
			break
		}
	}
	return client
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseTrustedProxies reads CIDRs or bare addresses.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	var (
		out  []netip.Prefix
		errs []error
	)
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				errs = append(errs, fmt.Errorf("admission: trusted proxy %q: %w", entry, err))
				continue
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("admission: trusted proxy %q: %w", entry, err))
			continue
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, errors.Join(errs...)
}

// Option customises a Controller.
type Option func(*Controller)

// WithPolicy sets the limit and window.
func WithPolicy(limit int64, window time.Duration) Option {
	return func(c *Controller) { c.policy = FixedWindow{Limit: limit, Window: window} }
}

// WithKeyFunc replaces DefaultKey.
func WithKeyFunc(fn KeyFunc) Option {
	return func(c *Controller) { c.keyFunc = fn }
}

// WithTrustedProxies lets the default key read X-Forwarded-For from these
// peers. It has no effect when WithKeyFunc is also given.
func WithTrustedProxies(trusted ...netip.Prefix) Option {
	return func(c *Controller) { c.trusted = trusted }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger loggingpkg.ServiceLogger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithRegisterer sets where rejection metrics are registered.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *Controller) { c.registerer = r }
}

// Controller admits or rejects requests against a Store.
type Controller struct {
	store      Store
	policy     FixedWindow
	keyFunc    KeyFunc
	trusted    []netip.Prefix
	now        func() time.Time
	logger     loggingpkg.ServiceLogger
	registerer prometheus.Registerer

	rejected    prometheus.Counter
	storeErrors prometheus.Counter
}

// New builds a Controller. Non-positive limits and windows fall back to the
// defaults.
func New(store Store, opts ...Option) (*Controller, error) {
	if store == nil {
		return nil, errspkg.ErrStoreRequired
	}
	c := &Controller{
		store:   store,
		policy:  FixedWindow{Limit: DefaultLimit, Window: DefaultWindow},
		now:     time.Now,
		logger:  loggingpkg.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.keyFunc == nil {
		c.keyFunc = KeyFor(c.trusted)
	}
	if c.policy.Limit <= 0 {
		c.policy.Limit = DefaultLimit
	}
	if c.policy.Window <= 0 {
		c.policy.Window = DefaultWindow
	}

	var err error
	c.rejected, err = promutil.Register(c.registerer, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shopmesh",
		Subsystem: "admission",
		Name:      "rejected_total",
		Help:      "Requests rejected by the admission controller",
	}))
	if err != nil {
		return nil, err
	}
	c.storeErrors, err = promutil.Register(c.registerer, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shopmesh",
		Subsystem: "admission",
		Name:      "store_errors_total",
		Help:      "Counter store failures; the request was admitted",
	}))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Policy returns the active policy.
func (c *Controller) Policy() FixedWindow {
	return c.policy
}

// Allow counts one request for key. A rejected request returns its Decision
// together with an error matching ErrAdmissionRejected; any other error is a
// store failure and the Decision admits.
func (c *Controller) Allow(ctx context.Context, key string) (Decision, error) {
	now := c.now()
	start := c.policy.Start(now)
	reset := start.Add(c.policy.Window)

	count, err := c.store.Increment(ctx, key, start, c.policy.Window)
	if err != nil {
		return Decision{Allowed: true, Limit: c.policy.Limit, ResetAt: reset}, err
	}

	d := Decision{
		Allowed:   count <= c.policy.Limit,
		Count:     count,
		Limit:     c.policy.Limit,
		Remaining: max(c.policy.Limit-count, 0),
		ResetAt:   reset,
	}
	if !d.Allowed {
		d.RetryAfter = reset.Sub(now)
		return d, fmt.Errorf("%w: %s made %d of %d requests", errspkg.ErrAdmissionRejected, key, count, c.policy.Limit)
	}
	return d, nil
}

// Middleware wraps next. Store failures admit the request.
func (c *Controller) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := c.keyFunc(r)
		d, err := c.Allow(r.Context(), key)
		if err != nil && !errors.Is(err, errspkg.ErrAdmissionRejected) {
			c.storeErrors.Inc()
			c.logger.Error("Admission store failed, admitting request", err, loggingpkg.LogFields{"key": key})
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		if !d.Allowed {
			c.rejected.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
			c.logger.Debug("Request rejected by admission controller", loggingpkg.LogFields{
				"key":   key,
				"count": d.Count,
				"limit": d.Limit,
			})
			httperr.Write(w, http.StatusTooManyRequests, MessageRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
