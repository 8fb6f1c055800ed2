package fetch

import (
	"math/rand"
	"time"
)

// RetryPolicy is an explicit value object describing backoff behavior, passed
// to the client rather than hidden in decorators so configuration and control
// flow stay visibly bound.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
}

// DefaultRetryPolicy matches the provider-facing defaults: up to 5 attempts,
// 1s base doubling to a 30s cap, up to 5s of random jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      5 * time.Second,
	}
}

// Backoff returns the delay before the given retry. attempt is 1-based: the
// delay after the first failed request is Backoff(1).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	d := base << uint(attempt-1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return d
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}
