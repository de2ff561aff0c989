package bridge

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultAttemptTimeout bounds one directed connect attempt.
const DefaultAttemptTimeout = 10 * time.Second

// RetryPolicy governs directed connects. The zero MaxAttempts retries
// forever; a nil NewBackOff retries immediately.
type RetryPolicy struct {
	AttemptTimeout time.Duration
	MaxAttempts    uint
	NewBackOff     func() backoff.BackOff
}

// DefaultRetryPolicy retries every 10 s timeout immediately and without
// limit; the counterpart is expected to show up eventually.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{AttemptTimeout: DefaultAttemptTimeout}
}

func (p RetryPolicy) attemptTimeout() time.Duration {
	if p.AttemptTimeout <= 0 {
		return DefaultAttemptTimeout
	}
	return p.AttemptTimeout
}

func (p RetryPolicy) backOff() backoff.BackOff {
	if p.NewBackOff == nil {
		return &backoff.ZeroBackOff{}
	}
	return p.NewBackOff()
}

func (p RetryPolicy) options() []backoff.RetryOption {
	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxElapsedTime(0),
	}
	if p.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(p.MaxAttempts))
	}
	return opts
}
