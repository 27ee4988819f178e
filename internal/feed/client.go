// Package feed fetches testimonial payloads from a tenant's upstream JSON
// feed (a spreadsheet-backed web app endpoint).
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// MaxErrorBody is the number of characters of an error response kept for
// diagnostics.
const MaxErrorBody = 300

var requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "tsc_feed_requests_total",
	Help: "Total upstream feed requests by HTTP status code (\"error\" for transport failures).",
}, []string{"status_code"})

// Collectors returns the package's Prometheus collectors for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{requestsTotal}
}

// StatusError is returned for a non-2xx feed response.
type StatusError struct {
	StatusCode int
	// Body holds at most MaxErrorBody characters of the response.
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feed %d: %s", e.StatusCode, e.Body)
}

// Payload is the decoded feed response. Fields keep their raw JSON so the
// caller can validate shapes without coercion.
type Payload struct {
	// Raw is the complete response body.
	Raw json.RawMessage
	// Fields holds the top-level members when the body is a JSON object,
	// and is nil otherwise.
	Fields map[string]json.RawMessage
}

// Fetcher retrieves a feed payload.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Payload, error)
}

// Options configures a Client.
type Options struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	RPS          int
	Burst        int
}

// Client is the HTTP Fetcher. Every request bypasses caches.
type Client struct {
	http         *http.Client
	rateLimiter  *RateLimiter
	userAgent    string
	maxBodyBytes int64
	logger       *logrus.Entry
}

// compile-time check
var _ Fetcher = (*Client)(nil)

// New creates a Client. A zero Timeout leaves the request bounded only by
// the caller's context.
func New(o Options, logger *logrus.Entry) *Client {
	log := logger.WithField("component", "feed")
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 10 << 20
	}
	return &Client{
		http:         &http.Client{Timeout: o.Timeout},
		rateLimiter:  NewRateLimiter(o.RPS, o.Burst, log.WithField("component", "rate_limiter")),
		userAgent:    o.UserAgent,
		maxBodyBytes: o.MaxBodyBytes,
		logger:       log,
	}
}

// RateLimiter returns the rate limiter associated with this client.
func (c *Client) RateLimiter() *RateLimiter {
	return c.rateLimiter
}

// Fetch GETs url with Cache-Control: no-cache and decodes the JSON body.
// A non-2xx response yields a *StatusError; transport and decode failures are
// returned wrapped.
func (c *Client) Fetch(ctx context.Context, url string) (*Payload, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	c.rateLimiter.UpdateFromHeaders(resp.Header)

	c.logger.WithFields(logrus.Fields{
		"status":   resp.StatusCode,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("feed response")

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: Truncate(string(body), MaxErrorBody)}
	}

	return Decode(body)
}

// Decode parses a feed body. The body must be valid JSON; whether it has the
// expected shape is left to the caller.
func Decode(body []byte) (*Payload, error) {
	if !json.Valid(body) {
		return nil, errors.New("decoding response: invalid JSON")
	}
	p := &Payload{Raw: json.RawMessage(body)}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err == nil {
		p.Fields = fields
	}
	return p, nil
}

// Truncate returns at most n characters of s.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
