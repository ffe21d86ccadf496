// Package client performs synchronous calls to collaborating services. Each
// call is one attempt bounded by a fixed timeout; there are no retries.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/drblury/shopmesh/internal/runtime/discovery"
	errspkg "github.com/drblury/shopmesh/internal/runtime/errors"
	"github.com/drblury/shopmesh/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/shopmesh/internal/runtime/logging"
	metadatapkg "github.com/drblury/shopmesh/internal/runtime/metadata"
	"github.com/drblury/shopmesh/internal/runtime/promutil"
)

// DefaultTimeout applies when New is given a non-positive timeout.
const DefaultTimeout = 5 * time.Second

// MaxResponseBytes caps how much of a response body is read.
const MaxResponseBytes = 4 << 20

// ErrResponseTooLarge is returned when a body exceeds MaxResponseBytes.
var ErrResponseTooLarge = errors.New("client: response body too large")

// CorrelationHeader carries the bus correlation id on outgoing calls.
const CorrelationHeader = "X-Correlation-ID"

// Request describes one call. Body, when set, is JSON encoded.
type Request struct {
	Service string
	Path    string
	Method  string
	Body    any
	Headers http.Header
}

// Response is any completed HTTP exchange, including non-2xx ones.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// DecodeJSON decodes the body into target.
func (r *Response) DecodeJSON(target any) error {
	if r == nil || len(r.Body) == 0 {
		return errors.New("client: empty response body")
	}
	return jsoncodec.Unmarshal(r.Body, target)
}

// Caller is the contract other components depend on.
type Caller interface {
	Call(ctx context.Context, req Request) (*Response, error)
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying client. The Client works on a copy
// carrying its own Timeout; hc itself is left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc == nil {
			return
		}
		cp := *hc
		c.http = &cp
	}
}

// WithLogger sets the logger.
func WithLogger(logger loggingpkg.ServiceLogger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRegisterer sets where call metrics are registered.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *Client) { c.registerer = r }
}

// Client resolves services through a discovery registry and calls them.
type Client struct {
	registry   *discovery.Registry
	timeout    time.Duration
	http       *http.Client
	logger     loggingpkg.ServiceLogger
	registerer prometheus.Registerer

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New builds a Client. timeout is the ceiling for a whole call, including
// reading the response body.
func New(registry *discovery.Registry, timeout time.Duration, opts ...Option) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		registry: registry,
		timeout:  timeout,
		logger:   loggingpkg.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	c.http.Timeout = timeout

	var err error
	c.requests, err = promutil.Register(c.registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopmesh",
		Subsystem: "client",
		Name:      "requests_total",
		Help:      "Service client calls by target service and outcome",
	}, []string{"service", "outcome"}))
	if err != nil {
		return nil, err
	}
	c.duration, err = promutil.Register(c.registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shopmesh",
		Subsystem: "client",
		Name:      "request_duration_seconds",
		Help:      "Service client call latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service"}))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Timeout returns the per-call ceiling.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Call performs exactly one attempt. A response with any status code is a
// result, not an error. Failing to get a response at all (DNS, connect,
// timeout, reset) returns *errors.UnavailableError.
func (c *Client) Call(ctx context.Context, req Request) (*Response, error) {
	endpoint, err := c.registry.Endpoint(req.Service, req.Path)
	if err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil {
		raw, err := jsoncodec.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("client: encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	for k, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if id := metadatapkg.CorrelationIDFromContext(ctx); id != "" && httpReq.Header.Get(CorrelationHeader) == "" {
		httpReq.Header.Set(CorrelationHeader, id)
	}

	fields := loggingpkg.LogFields{"service": req.Service, "method": method, "path": req.Path}
	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.unavailable(req.Service, start, err, fields)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes+1))
	if err != nil {
		return nil, c.unavailable(req.Service, start, err, fields)
	}
	if len(payload) > MaxResponseBytes {
		c.duration.WithLabelValues(req.Service).Observe(time.Since(start).Seconds())
		c.requests.WithLabelValues(req.Service, "too_large").Inc()
		err := fmt.Errorf("%w: %s sent more than %d bytes", ErrResponseTooLarge, req.Service, MaxResponseBytes)
		c.logger.Error("Service response rejected", err, fields.Add(loggingpkg.LogFields{"status": resp.StatusCode}))
		return nil, err
	}

	c.duration.WithLabelValues(req.Service).Observe(time.Since(start).Seconds())
	c.requests.WithLabelValues(req.Service, strconv.Itoa(resp.StatusCode/100)+"xx").Inc()
	c.logger.Debug("Service call completed", fields.Add(loggingpkg.LogFields{
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}))

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       payload,
	}, nil
}

func (c *Client) unavailable(service string, start time.Time, err error, fields loggingpkg.LogFields) error {
	c.duration.WithLabelValues(service).Observe(time.Since(start).Seconds())
	c.requests.WithLabelValues(service, "unavailable").Inc()
	c.logger.Error("Service unavailable", err, fields)
	return &errspkg.UnavailableError{Service: service, Err: err}
}
