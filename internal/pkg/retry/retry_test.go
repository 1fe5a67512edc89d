package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeStatusError struct{ status int }

func (e *fakeStatusError) Error() string   { return "provider said no" }
func (e *fakeStatusError) HTTPStatus() int { return e.status }

var errRateLimited = &fakeStatusError{status: 429}

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 4, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesRateLimitUpToCap(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 4, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return errRateLimited
	})
	if calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls)
	}
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	var stErr *fakeStatusError
	if !errors.As(err, &stErr) {
		t.Fatalf("exhaustion should wrap the last cause, got %v", err)
	}
}

func TestDoStopsAfterLateSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 4, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errRateLimited
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoDoesNotRetryOtherErrors(t *testing.T) {
	boom := errors.New("schema validation failed")
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 4, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return boom
	})
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected original error, got %v", err)
	}
	if errors.Is(err, ErrExhausted) {
		t.Fatalf("non-rate-limit failure must not look exhausted")
	}
}

func TestDoBackoffIsAtLeastExponential(t *testing.T) {
	base := 10 * time.Millisecond
	start := time.Now()
	_ = Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: base}, func(context.Context) error {
		return errRateLimited
	})
	// Two sleeps: base and 2*base.
	if elapsed := time.Since(start); elapsed < 3*base {
		t.Fatalf("expected at least %v of backoff, got %v", 3*base, elapsed)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, Policy{MaxAttempts: 10, BaseDelay: time.Second}, func(context.Context) error {
		calls++
		return errRateLimited
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt before cancel, got %d", calls)
	}
}

func TestIsRateLimitSubstringFallback(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("openai-compatible error: 429 Too Many Requests"), true},
		{errors.New("Rate limit reached for requests"), true},
		{errors.New("quota exceeded for this billing period"), true},
		{errors.New("invalid api key"), false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsRateLimit(tc.err); got != tc.want {
			t.Errorf("IsRateLimit(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
