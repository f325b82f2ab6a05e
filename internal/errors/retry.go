package errors

import (
	"context"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (not including initial attempt).
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration

	// Multiplier is the factor by which delay increases after each retry.
	Multiplier float64
}

// DefaultRetryConfig returns sensible default retry configuration.
// Delays are 1s, 2s, 4s, i.e. 2^retry seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay returns the backoff before retry number retry (0-based).
// It is a pure function of the retry count.
func (c RetryConfig) Delay(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	mult := c.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := float64(c.InitialDelay)
	for i := 0; i < retry; i++ {
		d *= mult
		if c.MaxDelay > 0 && d >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && time.Duration(d) > c.MaxDelay {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// DelayFor returns the delay before retry number retry after err.
// A provider-specified RetryAfter wins over the computed backoff.
func (c RetryConfig) DelayFor(retry int, err error) time.Duration {
	if d, ok := RetryAfter(err); ok {
		return d
	}
	return c.Delay(retry)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
