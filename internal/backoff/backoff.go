// Package backoff provides jittered exponential retry for the places a
// mediated session talks to something slow to come up; the downstream
// manager uses it to retry tool servers mid-spawn.
package backoff

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy parameterizes one retry loop.
type Policy struct {
	// Initial is the first sleep. Zero means 100ms.
	Initial time.Duration
	// Max caps any single sleep. Zero means 5s.
	Max time.Duration
	// Factor multiplies the sleep each attempt. Zero means 2.
	Factor float64
	// Jitter in [0,1] randomizes each sleep upward by that fraction.
	Jitter float64
	// Attempts bounds the loop. Zero means 3.
	Attempts int
}

func (p Policy) withDefaults() Policy {
	if p.Initial <= 0 {
		p.Initial = 100 * time.Millisecond
	}
	if p.Max <= 0 {
		p.Max = 5 * time.Second
	}
	if p.Factor <= 0 {
		p.Factor = 2
	}
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	return p
}

// Delay computes the sleep before attempt n (1-indexed) using the given
// random value in [0,1); split out so tests run deterministically.
func (p Policy) Delay(attempt int, random float64) time.Duration {
	p = p.withDefaults()
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	total := base + base*p.Jitter*random
	if capped := float64(p.Max); total > capped {
		total = capped
	}
	return time.Duration(total)
}

// Retry runs fn until it succeeds, the policy's attempts are exhausted,
// or ctx is cancelled. The returned error wraps fn's last failure.
func Retry(ctx context.Context, p Policy, fn func(attempt int) error) error {
	p = p.withDefaults()
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == p.Attempts {
			break
		}
		timer := time.NewTimer(p.Delay(attempt, rand.Float64()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("backoff: %d attempts exhausted: %w", p.Attempts, lastErr)
}
