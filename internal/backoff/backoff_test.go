package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayGrowsAndCaps(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: 500 * time.Millisecond, Factor: 2}

	if got := p.Delay(1, 0); got != 100*time.Millisecond {
		t.Fatalf("attempt 1: got %v", got)
	}
	if got := p.Delay(2, 0); got != 200*time.Millisecond {
		t.Fatalf("attempt 2: got %v", got)
	}
	if got := p.Delay(4, 0); got != 500*time.Millisecond {
		t.Fatalf("attempt 4 should cap at Max, got %v", got)
	}
}

func TestDelayJitterIsBounded(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Hour, Factor: 2, Jitter: 0.5}

	base := p.Delay(1, 0)
	jittered := p.Delay(1, 0.999)
	if jittered <= base {
		t.Fatalf("jitter did not raise the delay: base %v, jittered %v", base, jittered)
	}
	if jittered > base+base/2 {
		t.Fatalf("jitter above bound: base %v, jittered %v", base, jittered)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), Policy{Initial: time.Millisecond, Attempts: 5}, func(attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("got %d calls", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("always fails")
	err := Retry(context.Background(), Policy{Initial: time.Millisecond, Attempts: 2}, func(int) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("got %v, want wrapped sentinel", err)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, Policy{Attempts: 3}, func(int) error {
		t.Fatal("fn should not run after cancellation")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
}
