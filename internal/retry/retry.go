// Package retry holds the exponential-with-jitter policy used for
// reconnects and for circuit breaker cool-down growth.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"trade-guard/internal/logging"
)

// Policy describes exponential growth with jitter, capped at MaxInterval
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64 // randomization factor, 0 disables jitter
	MaxRetries      int     // 0 retries until ctx is done
}

func (p Policy) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Interval returns the wait before attempt n (0-based): roughly
// InitialInterval * Multiplier^n with jitter, never above MaxInterval plus
// its jitter band.
func (p Policy) Interval(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	b := p.exponential()
	d := b.NextBackOff()
	for i := 0; i < n; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Do runs op until it succeeds, returns a permanent error, the retry budget
// is spent or ctx is cancelled.
func Do(ctx context.Context, p Policy, name string, op func() error) error {
	var b backoff.BackOff = p.exponential()
	if p.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxRetries))
	}
	b = backoff.WithContext(b, ctx)

	log := logging.FromContext(ctx).WithComponent("retry")
	return backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		log.Warn("operation failed, retrying", "operation", name, "error", err, "wait", wait.String())
	})
}

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	return backoff.Permanent(err)
}
