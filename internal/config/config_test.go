package config

import (
	"strings"
	"testing"
)

func baseAIConfig() AIConfig {
	return AIConfig{
		Providers: []AIProvider{{ID: "p1", Type: "OpenAI", Enabled: true}},
		Retry:     RetryOptions{MaxAttempts: 4},
	}
}

func TestValidateAIConfigRejectsPoolLessSetup(t *testing.T) {
	cfg := baseAIConfig()
	err := validateAIConfig(cfg)
	if err == nil {
		t.Fatal("expected error for providers with neither primary_pool nor fallback_model")
	}
	if !strings.Contains(err.Error(), "primary_pool") {
		t.Errorf("error %q should name primary_pool", err)
	}
}

func TestValidateAIConfigAcceptsFallbackOnly(t *testing.T) {
	cfg := baseAIConfig()
	cfg.FallbackModel = &AIModelAssignment{ProviderID: "p1", Model: "m"}
	if err := validateAIConfig(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateAIConfigAcceptsPoolOnly(t *testing.T) {
	cfg := baseAIConfig()
	cfg.PrimaryPool = []AIModelAssignment{{ProviderID: "p1", Model: "m"}}
	if err := validateAIConfig(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateAIConfigAllowsNoProviders(t *testing.T) {
	cfg := AIConfig{Retry: RetryOptions{MaxAttempts: 4}}
	if err := validateAIConfig(cfg); err != nil {
		t.Fatalf("an AI-less config must stay valid for local development, got %v", err)
	}
}

func TestValidateAIConfigRejectsUnknownPoolProvider(t *testing.T) {
	cfg := baseAIConfig()
	cfg.PrimaryPool = []AIModelAssignment{{ProviderID: "ghost", Model: "m"}}
	if err := validateAIConfig(cfg); err == nil {
		t.Fatal("expected error for pool entry referencing an unknown provider")
	}
}

func TestValidateAIConfigRejectsDuplicateProviderIDs(t *testing.T) {
	cfg := baseAIConfig()
	cfg.Providers = append(cfg.Providers, AIProvider{ID: "p1", Type: "Anthropic"})
	cfg.PrimaryPool = []AIModelAssignment{{ProviderID: "p1", Model: "m"}}
	if err := validateAIConfig(cfg); err == nil {
		t.Fatal("expected error for duplicate provider ids")
	}
}
