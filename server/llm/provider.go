package llm

import (
	"errors"
	"os"
	"strings"
)

type providerKind int

const (
	providerOpenAI providerKind = iota
	providerOpenRouter
)

var defaultBase = map[providerKind]string{
	providerOpenAI:     "https://api.openai.com/v1",
	providerOpenRouter: "https://openrouter.ai/api/v1",
}

type apiConfig struct {
	Kind         providerKind
	APIKey       string
	Model        string
	BaseURL      string
	HeaderName   string
	HeaderPrefix string
	Organization string
	ExtraHeaders map[string]string
}

// resolveAPIConfig picks provider, key, base URL and auth header from the
// environment. LLM_PROVIDER pins the provider; otherwise it is guessed from
// which keys, models and bases are set.
func resolveAPIConfig(model string) (apiConfig, error) {
	kind, pinned := pinnedProvider()
	if !pinned && leansOpenRouter() {
		kind = providerOpenRouter
	}

	model = strings.TrimSpace(model)
	if model == "" {
		model = byKind(kind, "OPENAI_MODEL", "OPENROUTER_MODEL")
	}
	if model == "" {
		return apiConfig{}, errors.New("model missing: set OPENAI_MODEL/OPENROUTER_MODEL or pass a value")
	}
	if !pinned && strings.Contains(strings.ToLower(model), "openrouter/") {
		kind = providerOpenRouter
	}

	cfg := apiConfig{Kind: kind, Model: model, ExtraHeaders: map[string]string{}}
	cfg.BaseURL = env("OPENAI_API_BASE", "OPENAI_BASE_URL", "OPENROUTER_API_BASE", "OPENROUTER_BASE_URL")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBase[kind]
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	cfg.APIKey = byKind(kind, "OPENAI_API_KEY", "OPENROUTER_API_KEY")
	if cfg.APIKey == "" {
		return apiConfig{}, errors.New("API key missing: set OPENAI_API_KEY or OPENROUTER_API_KEY")
	}

	cfg.HeaderName = env("OPENAI_API_KEY_HEADER", "OPENROUTER_API_KEY_HEADER")
	if cfg.HeaderName == "" {
		cfg.HeaderName = "Authorization"
	}
	// prefixes keep their trailing space
	cfg.HeaderPrefix = os.Getenv("OPENAI_API_KEY_PREFIX")
	if cfg.HeaderPrefix == "" {
		cfg.HeaderPrefix = os.Getenv("OPENROUTER_API_KEY_PREFIX")
	}
	if cfg.HeaderName == "Authorization" && strings.TrimSpace(cfg.HeaderPrefix) == "" {
		cfg.HeaderPrefix = "Bearer "
	}
	cfg.Organization = env("OPENAI_ORG")

	if kind == providerOpenRouter {
		if site := env("OPENROUTER_SITE_URL"); site != "" {
			cfg.ExtraHeaders["HTTP-Referer"] = site
			cfg.ExtraHeaders["Referer"] = site
		}
		if title := env("OPENROUTER_TITLE"); title != "" {
			cfg.ExtraHeaders["X-Title"] = title
		}
	}
	return cfg, nil
}

func pinnedProvider() (providerKind, bool) {
	switch strings.ToLower(env("LLM_PROVIDER")) {
	case "openrouter":
		return providerOpenRouter, true
	case "openai":
		return providerOpenAI, true
	}
	return providerOpenAI, false
}

// leansOpenRouter reports whether only OpenRouter settings are present, or
// a base URL points at openrouter.
func leansOpenRouter() bool {
	switch {
	case env("OPENROUTER_API_KEY") != "" && env("OPENAI_API_KEY") == "":
		return true
	case env("OPENROUTER_MODEL") != "" && env("OPENAI_MODEL") == "":
		return true
	case env("OPENROUTER_API_BASE", "OPENROUTER_BASE_URL") != "":
		return true
	}
	return strings.Contains(strings.ToLower(env("OPENAI_API_BASE", "OPENAI_BASE_URL")), "openrouter")
}

// byKind reads the provider's own variable first and falls back to the
// other provider's.
func byKind(kind providerKind, openaiKey, openrouterKey string) string {
	if kind == providerOpenRouter {
		return env(openrouterKey, openaiKey)
	}
	return env(openaiKey, openrouterKey)
}

// env returns the first non-blank variable among keys, trimmed.
func env(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}
