package study

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/studyforge/core/internal/config"
	"github.com/studyforge/core/internal/pkg/retry"
	"go.uber.org/zap"
)

// rateLimitedCaller answers 429 for the listed models and succeeds otherwise.
type rateLimitedCaller struct {
	limited map[string]bool
	broken  map[string]bool
	calls   map[string]int
}

func newRateLimitedCaller() *rateLimitedCaller {
	return &rateLimitedCaller{
		limited: map[string]bool{},
		broken:  map[string]bool{},
		calls:   map[string]int{},
	}
}

func (f *rateLimitedCaller) Call(_ context.Context, assignment config.AIModelAssignment, _ callRequest) (string, error) {
	f.calls[assignment.Model]++
	if f.limited[assignment.Model] {
		return "", &httpError{Status: http.StatusTooManyRequests, Body: "slow down"}
	}
	if f.broken[assignment.Model] {
		return "", errors.New("model returned garbage")
	}
	return "notes from " + assignment.Model, nil
}

func testAIConfig() config.AIConfig {
	return config.AIConfig{
		PrimaryPool: []config.AIModelAssignment{
			{ProviderID: "p1", Model: "alpha"},
			{ProviderID: "p1", Model: "beta"},
			{ProviderID: "p2", Model: "gamma"},
		},
		FallbackModel: &config.AIModelAssignment{ProviderID: "p2", Model: "spare"},
		Retry: config.RetryOptions{
			MaxAttempts: 4,
			BaseDelayMS: 1,
			JitterMS:    1,
		},
	}
}

func TestPoolRotation(t *testing.T) {
	caller := newRateLimitedCaller()
	s := NewSynthesizer(caller, testAIConfig(), zap.NewNop())

	wantModels := []string{"alpha", "beta", "gamma", "alpha", "beta", "gamma"}
	for i, want := range wantModels {
		_, used, err := s.Generate(context.Background(), i, "t", "d", nil)
		if err != nil {
			t.Fatalf("section %d: unexpected error: %v", i, err)
		}
		if used != want {
			t.Errorf("section %d: used %q, want %q", i, used, want)
		}
	}
}

func TestFallbackIsSilentAndRecorded(t *testing.T) {
	caller := newRateLimitedCaller()
	caller.limited["alpha"] = true
	s := NewSynthesizer(caller, testAIConfig(), zap.NewNop())

	content, used, err := s.Generate(context.Background(), 0, "t", "d", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used != "spare" {
		t.Errorf("used = %q, want fallback %q", used, "spare")
	}
	if content != "notes from spare" {
		t.Errorf("unexpected content %q", content)
	}
	if got := caller.calls["alpha"]; got != 4 {
		t.Errorf("primary attempts = %d, want the full retry budget of 4", got)
	}
	if got := caller.calls["spare"]; got != 1 {
		t.Errorf("fallback attempts = %d, want 1", got)
	}
}

func TestNonRateLimitErrorSkipsRetry(t *testing.T) {
	caller := newRateLimitedCaller()
	caller.broken["alpha"] = true
	s := NewSynthesizer(caller, testAIConfig(), zap.NewNop())

	_, used, err := s.Generate(context.Background(), 0, "t", "d", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := caller.calls["alpha"]; got != 1 {
		t.Errorf("primary attempts = %d, want 1 (no retry for non-rate-limit errors)", got)
	}
	if used != "spare" {
		t.Errorf("used = %q, want fallback", used)
	}
}

func TestFallbackAlsoRetriesRateLimits(t *testing.T) {
	caller := newRateLimitedCaller()
	caller.limited["alpha"] = true
	caller.limited["spare"] = true
	s := NewSynthesizer(caller, testAIConfig(), zap.NewNop())

	_, _, err := s.Generate(context.Background(), 0, "t", "d", nil)
	if err == nil {
		t.Fatal("expected error when primary and fallback both fail")
	}
	if !errors.Is(err, retry.ErrExhausted) {
		t.Errorf("error should carry the exhaustion sentinel, got %v", err)
	}
	if got := caller.calls["spare"]; got != 4 {
		t.Errorf("fallback attempts = %d, want the full retry budget of 4", got)
	}
}

func TestNoFallbackConfigured(t *testing.T) {
	caller := newRateLimitedCaller()
	caller.broken["alpha"] = true
	cfg := testAIConfig()
	cfg.FallbackModel = nil
	s := NewSynthesizer(caller, cfg, zap.NewNop())

	_, _, err := s.Generate(context.Background(), 0, "t", "d", nil)
	if err == nil {
		t.Fatal("expected error with no fallback configured")
	}
	if got := caller.calls["spare"]; got != 0 {
		t.Errorf("fallback called %d times, want 0", got)
	}
}

func TestRetryBackoffFloor(t *testing.T) {
	caller := newRateLimitedCaller()
	caller.limited["alpha"] = true
	cfg := testAIConfig()
	cfg.FallbackModel = nil
	cfg.Retry = config.RetryOptions{MaxAttempts: 3, BaseDelayMS: 10, JitterMS: 1}
	s := NewSynthesizer(caller, cfg, zap.NewNop())

	start := time.Now()
	_, _, err := s.Generate(context.Background(), 0, "t", "d", nil)
	if err == nil {
		t.Fatal("expected exhaustion")
	}
	// Two retries: 10ms + 20ms minimum before jitter.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("elapsed %v, want at least 30ms of backoff", elapsed)
	}
}

func TestEmptyPoolUsesFallbackAsPrimary(t *testing.T) {
	caller := newRateLimitedCaller()
	cfg := testAIConfig()
	cfg.PrimaryPool = nil
	s := NewSynthesizer(caller, cfg, zap.NewNop())

	content, used, err := s.Generate(context.Background(), 0, "t", "d", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used != "spare" {
		t.Errorf("used = %q, want the fallback model", used)
	}
	if content != "notes from spare" {
		t.Errorf("unexpected content %q", content)
	}
}

func TestEmptyPoolDoesNotDoubleFallbackRetries(t *testing.T) {
	caller := newRateLimitedCaller()
	caller.limited["spare"] = true
	cfg := testAIConfig()
	cfg.PrimaryPool = nil
	s := NewSynthesizer(caller, cfg, zap.NewNop())

	_, _, err := s.Generate(context.Background(), 0, "t", "d", nil)
	if err == nil {
		t.Fatal("expected exhaustion")
	}
	// The fallback already served as the primary, so it gets one retry
	// budget, not two.
	if got := caller.calls["spare"]; got != 4 {
		t.Errorf("fallback attempts = %d, want 4", got)
	}
}

func TestPrimaryForRotation(t *testing.T) {
	s := NewSynthesizer(newRateLimitedCaller(), testAIConfig(), zap.NewNop())
	for i := 0; i < 12; i++ {
		want := testAIConfig().PrimaryPool[i%3].Model
		if got := s.PrimaryFor(i).Model; got != want {
			t.Errorf("PrimaryFor(%d) = %q, want %q", i, got, want)
		}
	}
}
