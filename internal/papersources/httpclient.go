package papersources

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// snippetLimit caps how much of an error response body is kept for messages.
const snippetLimit = 200

// HTTPClientConfig configures the HTTP client shared by source implementations.
type HTTPClientConfig struct {
	// Timeout is the per-request timeout.
	Timeout time.Duration

	// RateLimit is the sustained requests per second allowed against the
	// upstream API.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string
}

// HTTPClient wraps http.Client with client-side rate limiting and maps
// failures to *SourceError. It performs exactly one attempt per call;
// retry policy lives with the caller, which also coordinates concurrency
// permits across sources.
//
// It is safe for concurrent use.
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      HTTPClientConfig
}

// NewHTTPClient creates an HTTP client with rate limiting.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 3
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = int(cfg.RateLimit)
		if cfg.BurstSize < 1 {
			cfg.BurstSize = 1
		}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "LitForge-Bibliography/1.0"
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:      cfg,
	}
}

// SetRate adjusts the sustained request rate, e.g. after an API key becomes
// available and the upstream quota rises.
func (c *HTTPClient) SetRate(ratePerSecond float64) {
	c.rateLimiter.SetRate(ratePerSecond)
}

// Do executes one HTTP request. It waits for the rate limiter first, sets the
// User-Agent header, and returns the response only for 2xx statuses. Any other
// status is drained, closed, and reported as a *SourceError carrying the
// status code, a body snippet, the parsed Retry-After delay, and a transient
// classification. Transport failures become *SourceError with StatusCode 0.
//
// The source argument names the caller for error attribution.
func (c *HTTPClient) Do(source string, req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	if err := c.rateLimiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &SourceError{
			Source:    source,
			Transient: transientNetErr(err),
			Err:       err,
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	snippet := readSnippet(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return nil, &SourceError{
		Source:     source,
		StatusCode: resp.StatusCode,
		Snippet:    snippet,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		Transient:  transientStatus(resp.StatusCode),
	}
}

// readSnippet returns up to snippetLimit bytes of the body as a single line.
func readSnippet(r io.Reader) string {
	buf := make([]byte, snippetLimit)
	n, _ := io.ReadFull(r, buf)
	snippet := strings.TrimSpace(string(bytes.ToValidUTF8(buf[:n], nil)))
	return strings.Join(strings.Fields(snippet), " ")
}

// parseRetryAfter interprets a Retry-After header value as either a number of
// seconds or an HTTP date. It returns 0 when the header is absent, malformed,
// or already in the past.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}

	return 0
}
