// Package backoff implements bounded exponential retry for short, idempotent operations
// such as replacing the persisted state file while another program briefly holds it.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy describes a bounded exponential backoff.
type Policy struct {
	// Attempts is the total number of tries, including the first one. Values below 1 mean 1.
	Attempts int
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Multiplier scales the delay after every failed attempt. Values below 1 mean 1.
	Multiplier float64
	// Max caps a single delay. Zero means no cap.
	Max time.Duration
}

// DefaultPolicy retries three times, waiting 50ms then 100ms.
var DefaultPolicy = Policy{
	Attempts:   3,
	Initial:    50 * time.Millisecond,
	Multiplier: 2,
	Max:        time.Second,
}

// ErrExhausted wraps the last error when every attempt failed.
var ErrExhausted = errors.New("backoff: attempts exhausted")

// Delay returns the wait before attempt n (1-based; attempt 1 has no delay).
func (p Policy) Delay(n int) time.Duration {
	if n <= 1 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(p.Initial)
	for i := 2; i < n; i++ {
		d *= mult
	}
	if p.Max > 0 && time.Duration(d) > p.Max {
		return p.Max
	}

	return time.Duration(d)
}

// Retry calls fn until it succeeds, the attempts run out or ctx is done.
//
// fn receives the 1-based attempt number. The returned error wraps both ErrExhausted
// and the last error returned by fn.
func Retry(ctx context.Context, p Policy, fn func(attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for n := 1; n <= attempts; n++ {
		if d := p.Delay(n); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%w: %w", ctx.Err(), lastErr)
			case <-timer.C:
			}
		}

		if lastErr = fn(n); lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}
