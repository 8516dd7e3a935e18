package exec

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often a venue call is re-submitted after a failure that a
// follow-up read proved did not apply.
type RetryPolicy struct {
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Sleep waits between attempts; nil means a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Initial: 500 * time.Millisecond, Max: 5 * time.Second, Multiplier: 2}
}

func (p RetryPolicy) attempts() int {
	if p.Attempts <= 0 {
		return 1
	}
	return p.Attempts
}

// newBackOff yields the waits between attempts and then backoff.Stop.
func (p RetryPolicy) newBackOff() backoff.BackOff {
	if p.attempts() == 1 {
		// WithMaxRetries treats zero as unlimited.
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	if b.InitialInterval <= 0 {
		b.InitialInterval = 200 * time.Millisecond
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(p.attempts()-1))
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Delays lists the waits the policy would use, mostly for logging.
func (p RetryPolicy) Delays() []time.Duration {
	b := p.newBackOff()
	var out []time.Duration
	for {
		next := b.NextBackOff()
		if next == backoff.Stop {
			return out
		}
		out = append(out, next)
	}
}
