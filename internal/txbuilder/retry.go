package txbuilder

import (
	"context"
	"time"
)

// RetryPolicy bounds how often a network-dependent step is attempted.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	// Retryable reports whether err is worth another attempt. Nil retries everything.
	Retryable func(error) bool
}

// DefaultRetryPolicy is three attempts one second apart.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: time.Second}

// Do runs fn until it succeeds, returns a non-retryable error, the attempt
// budget is spent or ctx is done. It returns the last error and the number
// of attempts made.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(ctx); err == nil {
			return i, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return i, err
		}
		if i == attempts {
			return i, err
		}
		timer := time.NewTimer(p.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return i, err
		case <-timer.C:
		}
	}
	return attempts, err
}
