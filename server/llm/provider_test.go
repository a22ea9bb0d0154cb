package llm

import "testing"

func TestResolveAPIConfigOpenRouterFromBase(t *testing.T) {
	clearLLMEnv(t)
	t.Setenv("OPENAI_API_BASE", "https://openrouter.ai/api/v1")
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENROUTER_SITE_URL", "https://example.com/app")
	t.Setenv("OPENROUTER_TITLE", "Custom Title")
	cfg, err := resolveAPIConfig("meta-llama/llama-3.1-70b-instruct")
	if err != nil {
		t.Fatalf("resolveAPIConfig returned error: %v", err)
	}
	if cfg.Kind != providerOpenRouter {
		t.Fatalf("expected providerOpenRouter, got %v", cfg.Kind)
	}
	if got := cfg.ExtraHeaders["HTTP-Referer"]; got != "https://example.com/app" {
		t.Fatalf("unexpected HTTP-Referer: %q", got)
	}
	if got := cfg.ExtraHeaders["X-Title"]; got != "Custom Title" {
		t.Fatalf("unexpected X-Title: %q", got)
	}
}

func TestResolveAPIConfigDefaultsToOpenAI(t *testing.T) {
	clearLLMEnv(t)
	t.Setenv("OPENAI_API_KEY", "test-key")
	cfg, err := resolveAPIConfig("gpt-4")
	if err != nil {
		t.Fatalf("resolveAPIConfig returned error: %v", err)
	}
	if cfg.Kind != providerOpenAI {
		t.Fatalf("expected providerOpenAI, got %v", cfg.Kind)
	}
	if cfg.BaseURL != "https://api.openai.com/v1" {
		t.Fatalf("unexpected base %q", cfg.BaseURL)
	}
	if cfg.HeaderName != "Authorization" || cfg.HeaderPrefix != "Bearer " {
		t.Fatalf("unexpected auth header %q %q", cfg.HeaderName, cfg.HeaderPrefix)
	}
	if len(cfg.ExtraHeaders) != 0 {
		t.Fatalf("openai requests must not carry openrouter headers: %v", cfg.ExtraHeaders)
	}
}

func TestResolveAPIConfigManualOverride(t *testing.T) {
	clearLLMEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	t.Setenv("OPENAI_API_KEY", "oa-key")
	t.Setenv("LLM_PROVIDER", "openrouter")
	cfg, err := resolveAPIConfig("gpt-4")
	if err != nil {
		t.Fatalf("resolveAPIConfig returned error: %v", err)
	}
	if cfg.Kind != providerOpenRouter || cfg.APIKey != "or-key" {
		t.Fatalf("expected openrouter with its key, got %v %q", cfg.Kind, cfg.APIKey)
	}
	if cfg.BaseURL != "https://openrouter.ai/api/v1" {
		t.Fatalf("unexpected base %q", cfg.BaseURL)
	}
}

func TestResolveAPIConfigMissingKey(t *testing.T) {
	clearLLMEnv(t)
	if _, err := resolveAPIConfig("gpt-4"); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestResolveAPIConfigModelFromEnv(t *testing.T) {
	clearLLMEnv(t)
	t.Setenv("OPENAI_API_KEY", "k")
	if _, err := resolveAPIConfig(""); err == nil {
		t.Fatalf("expected missing model error")
	}
	t.Setenv("OPENAI_MODEL", "gpt-4o-mini")
	cfg, err := resolveAPIConfig("")
	if err != nil {
		t.Fatalf("resolveAPIConfig returned error: %v", err)
	}
	if cfg.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected model %q", cfg.Model)
	}
}
