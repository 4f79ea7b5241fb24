// Package upstream implements the marketplace status sources: order detail,
// shipping status, review existence, order history and cancellation.
//
// All calls share one HTTP client with a per-call timeout and a request rate
// limit. Expected negative outcomes are returned as *order.Failure values.
package upstream

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/xenking/orderwatch/internal/domain/order"
	"github.com/xenking/orderwatch/pkg/httpmiddleware"
)

// maxResponseSize caps upstream response bodies.
const maxResponseSize = 4 << 20

// Config configures the upstream client.
type Config struct {
	// BaseURL is the marketplace API root, e.g. https://api.example.com.
	BaseURL string
	// AccessToken is sent as a bearer token when set.
	AccessToken string
	// CallTimeout bounds a single call including reading the body.
	// Defaults to 5s.
	CallTimeout time.Duration
	// RPS and Burst bound outgoing requests. A zero RPS disables limiting.
	RPS   float64
	Burst int

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	// Transport overrides the base round tripper. Defaults to
	// http.DefaultTransport.
	Transport http.RoundTripper
}

// Client calls the marketplace order services.
type Client struct {
	base    *url.URL
	http    *http.Client
	token   string
	timeout time.Duration
	limiter *rate.Limiter
}

// Compile-time checks for the domain source interfaces.
var (
	_ order.DetailFetcher   = (*Client)(nil)
	_ order.ShippingFetcher = (*Client)(nil)
	_ order.ReviewChecker   = (*Client)(nil)
	_ order.HistoryFetcher  = (*Client)(nil)
	_ order.Canceler        = (*Client)(nil)
)

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("upstream base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse upstream base URL")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Errorf("upstream base URL %q: unsupported scheme", cfg.BaseURL)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	var opts []otelhttp.Option
	if cfg.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}
	if cfg.MeterProvider != nil {
		opts = append(opts, otelhttp.WithMeterProvider(cfg.MeterProvider))
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	return &Client{
		base: base,
		http: &http.Client{
			Transport: otelhttp.NewTransport(transport, opts...),
		},
		token:   cfg.AccessToken,
		timeout: cfg.CallTimeout,
		limiter: limiter,
	}, nil
}

// request describes one upstream call.
type request struct {
	src    order.Source
	op     string
	method string
	path   string
	query  url.Values
	body   []byte
	header http.Header
}

// do performs the call and returns the body of a 2xx response. Any other
// outcome is a *order.Failure.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	fail := func(kind order.Kind, err error) error {
		return order.NewFailure(r.src, kind, r.op, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fail(order.KindTransient, errors.Wrap(err, "rate limit"))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := *c.base
	u.Path = c.base.Path + r.path
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return nil, fail(order.KindValidation, errors.Wrap(err, "create request"))
	}
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id := httpmiddleware.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fail(order.KindTransient, errors.Wrap(err, describeNetErr(err)))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fail(order.KindTransient, errors.Wrap(err, "read response"))
	}
	if len(data) > maxResponseSize {
		return nil, fail(order.KindTransient, errors.Errorf("response exceeds %d bytes", maxResponseSize))
	}

	if kind, ok := classify(resp.StatusCode); !ok {
		msg := errorMessage(data)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fail(kind, &StatusError{Code: resp.StatusCode, Message: msg})
	}
	return data, nil
}

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return "HTTP " + strconv.Itoa(e.Code) + ": " + e.Message
}

// classify maps an HTTP status to a failure kind. ok is true for 2xx.
func classify(code int) (kind order.Kind, ok bool) {
	switch {
	case code >= 200 && code < 300:
		return "", true
	case code == http.StatusNotFound, code == http.StatusGone:
		return order.KindNotFound, false
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity, code == http.StatusConflict:
		return order.KindValidation, false
	default:
		// 401, 403, 408, 429 and 5xx.
		return order.KindTransient, false
	}
}

func describeNetErr(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "timeout"
	}
	return "send request"
}

// decodeFailure wraps a decode error of a 2xx body.
func decodeFailure(src order.Source, op string, err error) error {
	return order.NewFailure(src, order.KindTransient, op, errors.Wrap(err, "decode response"))
}
