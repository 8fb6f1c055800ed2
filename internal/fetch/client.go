// Package fetch provides the resilient HTTP client every connector issues its
// provider requests through: pooled transport, a counting limiter bounding
// concurrent in-flight requests, and an explicit retry policy with error
// classification. Rate-limit signals (429) fail fast; connection failures,
// timeouts and other non-2xx statuses are retried with jittered exponential
// backoff.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"macroflow/logger"
)

// Options configures a Client for one connector instance.
type Options struct {
	Source        string
	MaxConcurrent int
	Timeout       time.Duration
	Retry         RetryPolicy

	// RequestsPerSecond smooths request issuance below the provider's
	// published rate; zero disables the limiter and only the concurrency
	// cap throttles.
	RequestsPerSecond int
	Burst             int

	MaxIdleConns    int
	MaxConnsPerHost int
	IdleConnTimeout time.Duration

	// Headers are attached to every request (API keys, accept types).
	Headers map[string]string
}

// Client wraps a pooled http.Client with admission control and retries. One
// Client belongs to one connector instance; Close releases idle connections
// deterministically at shutdown.
type Client struct {
	source  string
	http    *http.Client
	sem     chan struct{}
	limiter *rate.Limiter
	retry   RetryPolicy
	headers map[string]string
	log     *logger.Log
}

// NewClient builds a Client with the transport tuning used for provider
// polling.
func NewClient(opts Options) *Client {
	maxIdle := opts.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 16
	}
	maxPerHost := opts.MaxConnsPerHost
	if maxPerHost <= 0 {
		maxPerHost = 8
	}
	idleTimeout := opts.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = 90 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	concurrent := opts.MaxConcurrent
	if concurrent <= 0 {
		concurrent = 1
	}

	transport := &http.Transport{
		MaxIdleConns:        maxIdle,
		MaxIdleConnsPerHost: maxIdle,
		MaxConnsPerHost:     maxPerHost,
		IdleConnTimeout:     idleTimeout,
		DisableCompression:  false,
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	retry := opts.Retry
	if retry.MaxAttempts == 0 && retry.BaseDelay == 0 {
		retry = DefaultRetryPolicy()
	}

	return &Client{
		source:  opts.Source,
		http:    &http.Client{Transport: transport, Timeout: timeout},
		sem:     make(chan struct{}, concurrent),
		limiter: limiter,
		retry:   retry,
		headers: opts.Headers,
		log:     logger.GetLogger(),
	}
}

// Get fetches url and returns the response body. Admission (concurrency cap,
// then optional RPS limiter) happens before the first attempt, so request
// issuance itself throttles ahead of any retry logic. A 429 returns
// *RateLimitError immediately; other failures are retried per the policy and
// reported as *FetchError once the budget is spent.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.sem }()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	log := c.log.WithComponent("fetch_client").WithFields(logger.Fields{
		"source": c.source,
		"url":    url,
	})

	var lastErr error
	attempts := c.retry.attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := c.doOnce(ctx, url)
		if err == nil {
			logger.IncrementFetch(c.source, len(body))
			return body, nil
		}

		var rle *RateLimitError
		if errors.As(err, &rle) {
			// Provider is throttling: propagate without burning the
			// retry budget against it.
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if attempt == attempts {
			break
		}

		delay := c.retry.Backoff(attempt)
		log.WithError(err).WithFields(logger.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("request failed, backing off")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, &FetchError{Source: c.source, URL: url, Attempts: attempts, Err: lastErr}
}

func (c *Client) doOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "macroflow/1.0")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{
			Source:     c.source,
			URL:        url,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

// Close releases pooled connections. Safe to call on every exit path.
func (c *Client) Close() {
	if t, ok := c.http.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
