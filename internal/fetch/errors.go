package fetch

import (
	"fmt"
	"time"
)

// RateLimitError is the provider's explicit throttling signal (HTTP 429). It
// is raised directly without internal retries: the caller decides whether to
// back off and re-run the whole window, which avoids retry storms against a
// provider that is already throttling.
type RateLimitError struct {
	Source     string
	URL        string
	StatusCode int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited (status %d, retry after %s)", e.Source, e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited (status %d)", e.Source, e.StatusCode)
}

// FetchError reports that the retry budget was exhausted. It wraps the last
// underlying cause.
type FetchError struct {
	Source   string
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: fetch %s failed after %d attempts: %v", e.Source, e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusError is a retryable non-2xx response, the transport-level cause a
// FetchError ultimately wraps.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s for %s", e.Status, e.URL)
}
