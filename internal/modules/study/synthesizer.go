package study

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/studyforge/core/internal/config"
	"github.com/studyforge/core/internal/pkg/retry"
	"go.uber.org/zap"
)

// Synthesizer expands one section descriptor at a time, rotating the primary
// model pool and silently falling back on a single spare model.
type Synthesizer struct {
	caller   modelCaller
	pool     []config.AIModelAssignment
	fallback *config.AIModelAssignment
	policy   retry.Policy
	log      *zap.Logger
}

func NewSynthesizer(caller modelCaller, ai config.AIConfig, log *zap.Logger) *Synthesizer {
	return &Synthesizer{
		caller:   caller,
		pool:     ai.PrimaryPool,
		fallback: ai.FallbackModel,
		policy: retry.Policy{
			MaxAttempts: ai.Retry.MaxAttempts,
			BaseDelay:   ai.Retry.RetryBaseDelay(),
			Jitter:      ai.Retry.RetryJitter(),
		},
		log: log,
	}
}

// PrimaryFor returns the pool assignment for the index-th section. With an
// empty pool the fallback model serves as the primary.
func (s *Synthesizer) PrimaryFor(index int) config.AIModelAssignment {
	if len(s.pool) == 0 {
		if s.fallback != nil {
			return *s.fallback
		}
		return config.AIModelAssignment{}
	}
	return s.pool[index%len(s.pool)]
}

// Generate produces the notes for one section. It returns the content and
// the model that actually produced it. Rate limits are retried with backoff;
// when the primary is exhausted or fails, the fallback model gets one
// retry-wrapped shot of its own.
func (s *Synthesizer) Generate(ctx context.Context, index int, title, description string, atts []Attachment) (string, string, error) {
	req := callRequest{
		System:      synthesisSystemPrompt,
		Prompt:      buildSynthesisPrompt(title, description, atts),
		Attachments: atts,
		MaxTokens:   8192,
	}

	primary := s.PrimaryFor(index)
	content, err := s.callWithRetry(ctx, primary, req)
	if err == nil {
		return content, primary.Model, nil
	}

	if s.fallback == nil || *s.fallback == primary {
		return "", "", err
	}

	s.log.Warn("primary model failed, trying fallback",
		zap.Int("section", index),
		zap.String("primary_model", primary.Model),
		zap.String("fallback_model", s.fallback.Model),
		zap.Bool("rate_limited", errors.Is(err, retry.ErrExhausted)),
		zap.Error(err))

	content, fbErr := s.callWithRetry(ctx, *s.fallback, req)
	if fbErr != nil {
		return "", "", fmt.Errorf("primary: %w; fallback: %w", err, fbErr)
	}
	return content, s.fallback.Model, nil
}

func (s *Synthesizer) callWithRetry(ctx context.Context, assignment config.AIModelAssignment, req callRequest) (string, error) {
	var content string
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		out, callErr := s.caller.Call(ctx, assignment, req)
		if callErr != nil {
			return callErr
		}
		if strings.TrimSpace(out) == "" {
			return errors.New("empty response from AI")
		}
		content = out
		return nil
	})
	return content, err
}
