package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
)

const maxResponseBodySize = 1 << 20 // 1MB

// connection pooling limits; a poller talks to one CRM host, so these stay small
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 4
	defaultMaxConnsPerHost     = 4
	defaultIdleConnTimeout     = 60 * time.Second
)

// The count query asks for a single record so the backend only has to
// compute the pagination metadata.
const (
	countPage  = 1
	countLimit = 1
)

// RequestIDHeader carries a per-attempt identifier so backend logs can be
// correlated with poller warnings.
const RequestIDHeader = "X-Request-ID"

var (
	// ErrTransport covers network failures and 5xx responses. Retried.
	ErrTransport = errors.New("transport failure")

	// ErrBackend is a failure reported by the CRM API itself, either a
	// success=false envelope or a 4xx response. Not retried.
	ErrBackend = errors.New("backend reported failure")

	// ErrMalformed means the response could not be interpreted as a count. Not retried.
	ErrMalformed = errors.New("malformed count response")
)

// Response holds the result of a single HTTP request made by [Client.Fetch].
type Response struct {
	// Body contains the HTTP response body, limited to 1MB.
	Body []byte

	// StatusCode is the HTTP status code. Zero if the request failed before
	// receiving a response.
	StatusCode int

	// Latency is the total time taken for the request.
	Latency time.Duration

	// RequestID is the value sent in [RequestIDHeader].
	RequestID string

	// Error contains any error that occurred during the request.
	Error error
}

// Decoder turns a 2xx response body into a record count.
//
// Decoders may return an error wrapping [ErrBackend] when the body reports a
// failure; any other error is classified as [ErrMalformed].
type Decoder func(body []byte) (int, error)

// RetryPolicy configures how many times a count request is attempted and the
// fixed delay between attempts.
type RetryPolicy struct {
	Attempts uint
	Delay    time.Duration
}

// CountRequest describes one count query against a CRM collection.
type CountRequest struct {
	// URL is the collection URL without pagination parameters.
	URL string

	// Headers are sent with every attempt.
	Headers map[string]string

	// Timeout bounds each individual attempt.
	Timeout time.Duration

	// Decode interprets the response body. Nil uses [DecodeEnvelope].
	Decode Decoder
}

// Client performs count queries with retries.
//
// Timeouts are applied per attempt via context rather than on the
// underlying http.Client.
type Client struct {
	httpClient *http.Client
	retry      RetryPolicy
	logger     *slog.Logger
}

// NewClient creates a count [Client] with the given retry policy.
// A zero Attempts value is treated as a single attempt.
func NewClient(policy RetryPolicy, logger *slog.Logger) *Client {
	if policy.Attempts == 0 {
		policy.Attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
		retry:  policy,
		logger: logger,
	}
}

// CountURL appends the fixed pagination query (page=1, limit=1) to rawURL,
// preserving any query parameters already present.
func CountURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid collection url: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(countPage))
	q.Set("limit", strconv.Itoa(countLimit))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Count queries the collection and returns its total record count.
//
// Transport failures and 5xx responses are retried according to the client's
// [RetryPolicy] with a fixed delay. Backend-reported failures and malformed
// payloads end the attempt loop immediately. The returned error wraps one of
// [ErrTransport], [ErrBackend], [ErrMalformed], or the context error.
func (c *Client) Count(ctx context.Context, req CountRequest) (int, error) {
	target, err := CountURL(req.URL)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	decode := req.Decode
	if decode == nil {
		decode = DecodeEnvelope
	}

	return retry.DoWithData(
		func() (int, error) {
			n, err := c.countOnce(ctx, target, req, decode)
			if err != nil && !errors.Is(err, ErrTransport) {
				return 0, retry.Unrecoverable(err)
			}
			return n, err
		},
		retry.Context(ctx),
		retry.Attempts(c.retry.Attempts),
		retry.Delay(c.retry.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			c.logger.Debug("count attempt failed",
				"url", target,
				"attempt", attempt+1,
				"attempts", c.retry.Attempts,
				"error", err.Error(),
			)
		}),
	)
}

// countOnce performs a single attempt and classifies its outcome.
func (c *Client) countOnce(ctx context.Context, target string, req CountRequest, decode Decoder) (int, error) {
	resp := c.Fetch(ctx, http.MethodGet, target, req.Headers, req.Timeout)
	if resp.Error != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransport, resp.Error)
	}

	switch {
	case resp.StatusCode >= 500:
		return 0, fmt.Errorf("%w: HTTP %d", ErrTransport, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		if msg := envelopeMessage(resp.Body); msg != "" {
			return 0, fmt.Errorf("%w: HTTP %d: %s", ErrBackend, resp.StatusCode, msg)
		}
		return 0, fmt.Errorf("%w: HTTP %d", ErrBackend, resp.StatusCode)
	}

	n, err := decode(resp.Body)
	if err != nil {
		if errors.Is(err, ErrBackend) || errors.Is(err, ErrMalformed) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative total %d", ErrMalformed, n)
	}
	return n, nil
}

// Fetch performs an HTTP request and returns a structured [Response].
//
// If method is empty, GET is used. The timeout is applied via context
// cancellation and bodies are limited to 1MB. Fetch always returns a
// Response; errors are captured in its Error field.
func (c *Client) Fetch(ctx context.Context, method, target string, headers map[string]string, timeout time.Duration) Response {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	requestID := uuid.NewString()

	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return Response{
			Latency:   time.Since(start),
			RequestID: requestID,
			Error:     fmt.Errorf("failed to create request: %w", err),
		}
	}

	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	req.Header.Set(RequestIDHeader, requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{
			Latency:   time.Since(start),
			RequestID: requestID,
			Error:     fmt.Errorf("request failed: %w", err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return Response{
			StatusCode: resp.StatusCode,
			Latency:    time.Since(start),
			RequestID:  requestID,
			Error:      fmt.Errorf("failed to read response body: %w", err),
		}
	}

	return Response{
		Body:       body,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
		RequestID:  requestID,
	}
}

// Close closes idle connections in the client's pool. Safe to call
// multiple times and on a nil client; the client stays usable afterwards.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

// envelope is the CRM list response shape. Only the fields needed for
// counting are decoded.
type envelope struct {
	Success    *bool   `json:"success"`
	Message    string  `json:"message"`
	Pagination *paging `json:"pagination"`
}

type paging struct {
	Total *json.Number `json:"total"`
}

// DecodeEnvelope reads {success, pagination: {total}, message} responses.
//
// A missing or false success flag is a backend failure carrying the message
// when present. A missing pagination.total is malformed.
func DecodeEnvelope(body []byte) (int, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if env.Success == nil || !*env.Success {
		if env.Message != "" {
			return 0, fmt.Errorf("%w: %s", ErrBackend, env.Message)
		}
		return 0, ErrBackend
	}
	if env.Pagination == nil || env.Pagination.Total == nil {
		return 0, fmt.Errorf("%w: missing pagination.total", ErrMalformed)
	}
	return totalFromNumber(*env.Pagination.Total)
}

// totalFromNumber accepts any integral JSON number, so 42 and 42.0 are
// both 42.
func totalFromNumber(num json.Number) (int, error) {
	if n, err := strconv.Atoi(num.String()); err == nil {
		return n, nil
	}
	f, err := num.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: pagination.total %q is not a number", ErrMalformed, num)
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("%w: pagination.total %s is not an integer", ErrMalformed, num)
	}
	return int(f), nil
}

// envelopeMessage extracts the message field from an error body, if any.
func envelopeMessage(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	return env.Message
}
