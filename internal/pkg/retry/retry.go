package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	anthropicclient "github.com/anthropics/anthropic-sdk-go"
	openaiclient "github.com/openai/openai-go/v2"
)

// ErrExhausted marks an error returned after the attempt cap was reached.
// It wraps the last provider error so callers can still inspect the cause
// while distinguishing exhaustion from a single failure.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy controls how Do retries rate-limited operations.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int
	// BaseDelay is doubled for every further retry: base, 2*base, 4*base, ...
	BaseDelay time.Duration
	// Jitter adds a random duration in [0, Jitter) to each delay.
	Jitter time.Duration
}

// Do runs op up to p.MaxAttempts times. Only errors classified as rate
// limiting are retried; anything else propagates immediately. Between
// attempts it sleeps BaseDelay << retry plus jitter, honoring ctx.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var last error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := wait(ctx, delayFor(p, attempt-1)); err != nil {
				return err
			}
		}
		last = op(ctx)
		if last == nil {
			return nil
		}
		if !IsRateLimit(last) {
			return last
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxAttempts, last)
}

func delayFor(p Policy, retry int) time.Duration {
	d := p.BaseDelay << uint(retry)
	if p.Jitter > 0 {
		d += time.Duration(rand.Int64N(int64(p.Jitter)))
	}
	return d
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// statusError is implemented by transport errors that carry an HTTP status.
type statusError interface {
	HTTPStatus() int
}

// IsRateLimit reports whether err is a provider rate-limit rejection.
// Typed SDK errors are checked first; the message substrings cover the
// plain OpenAI-compatible HTTP path where no typed error exists.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}

	var oaErr *openaiclient.Error
	if errors.As(err, &oaErr) {
		return oaErr.StatusCode == http.StatusTooManyRequests
	}
	var anErr *anthropicclient.Error
	if errors.As(err, &anErr) {
		return anErr.StatusCode == http.StatusTooManyRequests
	}
	var stErr statusError
	if errors.As(err, &stErr) {
		return stErr.HTTPStatus() == http.StatusTooManyRequests
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit",
		"rate_limit",
		"too many requests",
		"429",
		"quota exceeded",
		"resource_exhausted",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
