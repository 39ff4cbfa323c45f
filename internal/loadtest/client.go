package loadtest

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/wesleyorama2/surge/internal/loadtest/metrics"
)

// ClientConfig contains HTTP client configuration.
type ClientConfig struct {
	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool

	// RPS caps the request rate across all VUs (0 = unlimited)
	RPS float64

	// Headers are added to every request
	Headers map[string]string
}

// DefaultClientConfig returns sensible defaults for load testing.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Client is an HTTP client that records one "http_req" observation per
// request. A single Client is shared by every VU of a run.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	rec     Recorder
	headers map[string]string

	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
}

// NewClient creates an instrumented client recording into rec.
func NewClient(config ClientConfig, rec Recorder) *Client {
	if rec == nil {
		rec = discardRecorder{}
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		MaxConnsPerHost:     config.MaxConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
		DisableKeepAlives:   config.DisableKeepAlives,
	}
	if config.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	c := &Client{
		http:    &http.Client{Transport: transport, Timeout: config.Timeout},
		rec:     rec,
		headers: config.Headers,
	}

	if config.RPS > 0 {
		burst := int(config.RPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(config.RPS), burst)
	}

	return c
}

// Response is a fully read HTTP response.
type Response struct {
	// Name of the request, used as the sub-metric tag
	Name string

	StatusCode int
	Headers    http.Header
	Latency    time.Duration

	body []byte
}

// Status returns the HTTP status code.
func (r *Response) Status() int { return r.StatusCode }

// Body returns the response body.
func (r *Response) Body() []byte { return r.body }

// Header returns the response headers.
func (r *Response) Header() http.Header { return r.Headers }

// Do sends req and records its outcome under name. The body is read
// completely and closed.
//
// A request fails when the transport errors or the status is outside
// 200-399. Transport errors are returned; HTTP error statuses are not.
func (c *Client) Do(req *http.Request, name string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	for k, v := range c.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	if req.ContentLength > 0 {
		c.bytesSent.Add(req.ContentLength)
	}

	start := time.Now()
	httpResp, err := c.http.Do(req)

	var (
		body   []byte
		status int
		header http.Header
	)
	if err == nil {
		status = httpResp.StatusCode
		header = httpResp.Header
		body, err = io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			err = fmt.Errorf("failed to read response body: %w", err)
		}
		c.bytesReceived.Add(int64(len(body)))
	}
	latency := time.Since(start)

	tags := map[string]string{
		"method": req.Method,
		"url":    req.URL.String(),
	}
	if name != "" {
		tags["name"] = name
	}
	if status != 0 {
		tags["status"] = strconv.Itoa(status)
	}

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
		tags["error"] = err.Error()
	} else if status < 200 || status >= 400 {
		outcome = metrics.OutcomeFailure
	}

	c.rec.Record(metrics.Observation{
		Metric:    metrics.SeriesHTTPReq,
		Timestamp: start,
		Latency:   latency,
		Outcome:   outcome,
		Tags:      tags,
	})

	if err != nil {
		return nil, err
	}

	return &Response{
		Name:       name,
		StatusCode: status,
		Headers:    header,
		Latency:    latency,
		body:       body,
	}, nil
}

// Get sends a GET request to url.
func (c *Client) Get(ctx context.Context, url, name string) (*Response, error) {
	return c.Request(ctx, http.MethodGet, url, nil, name)
}

// Request builds and sends a request.
func (c *Client) Request(ctx context.Context, method, url string, body io.Reader, name string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	return c.Do(req, name)
}

// BytesSent returns the total request body bytes sent.
func (c *Client) BytesSent() int64 {
	return c.bytesSent.Load()
}

// BytesReceived returns the total response body bytes received.
func (c *Client) BytesReceived() int64 {
	return c.bytesReceived.Load()
}

// CloseIdleConnections closes idle keep-alive connections.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}
