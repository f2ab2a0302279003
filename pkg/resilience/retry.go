package resilience

import (
	"context"
	"time"
)

// RetryPolicy retries transient failures with exponential backoff.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
}

// NewReconnectPolicy is tuned for provider socket reconnects: exponential
// backoff starting at `backoff`, doubling up to `maxBackoff`.
func NewReconnectPolicy(maxRetries int, backoff, maxBackoff time.Duration) RetryPolicy {
	p := NewRetryPolicy(maxRetries, backoff)
	if maxBackoff > 0 {
		p.MaxBackoff = maxBackoff
	}
	return p
}

func (r RetryPolicy) Do(fn func() error) error {
	return r.DoContext(context.Background(), fn)
}

// DoContext runs fn up to MaxRetries+1 times. The delay doubles each
// attempt when MaxBackoff is set, and the wait aborts on ctx cancel.
func (r RetryPolicy) DoContext(ctx context.Context, fn func() error) error {
	delay := r.Backoff
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if i == r.MaxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if r.MaxBackoff > 0 {
			delay *= 2
			if delay > r.MaxBackoff {
				delay = r.MaxBackoff
			}
		}
	}
	return err
}
