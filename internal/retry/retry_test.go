package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(maxAttempts int) Config {
	return Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Factor:       2.0,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return nil
	})
	if result.Err != nil {
		t.Fatalf("Err = %v", result.Err)
	}
	if calls != 1 || result.Attempts != 1 {
		t.Fatalf("calls = %d, attempts = %d, want 1", calls, result.Attempts)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if result.Err != nil {
		t.Fatalf("Err = %v", result.Err)
	}
	if result.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	wantErr := errors.New("always fails")
	result := Do(context.Background(), fastConfig(3), func() error {
		return wantErr
	})
	if !errors.Is(result.Err, wantErr) {
		t.Fatalf("Err = %v", result.Err)
	}
	if result.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	wantErr := errors.New("bad request")
	result := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return Permanent(wantErr)
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if !errors.Is(result.Err, wantErr) {
		t.Fatalf("Err = %v", result.Err)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	result := Do(ctx, Config{MaxAttempts: 5, InitialDelay: time.Minute}, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if !errors.Is(result.Err, context.Canceled) {
		t.Fatalf("Err = %v, want context.Canceled", result.Err)
	}
}

func TestDoUsesDelayHint(t *testing.T) {
	hint := 20 * time.Millisecond
	calls := 0
	var gap time.Duration
	var last time.Time

	result := Do(context.Background(), fastConfig(2), func() error {
		now := time.Now()
		if calls == 1 {
			gap = now.Sub(last)
		}
		last = now
		calls++
		return WithDelayHint(errors.New("rate limited"), hint)
	})
	if result.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2", result.Attempts)
	}
	// The hint (20ms) must win over the 1ms configured backoff.
	if gap < hint {
		t.Fatalf("gap between attempts = %v, want >= %v", gap, hint)
	}
}

func TestPermanentNil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) != nil")
	}
	if IsPermanent(errors.New("plain")) {
		t.Fatal("plain error reported permanent")
	}
	if !IsPermanent(Permanent(errors.New("x"))) {
		t.Fatal("wrapped error not reported permanent")
	}
}
