package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func clearLLMEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LLM_PROVIDER", "OPENAI_API_KEY", "OPENROUTER_API_KEY", "OPENAI_MODEL", "OPENROUTER_MODEL",
		"OPENAI_API_BASE", "OPENAI_BASE_URL", "OPENROUTER_API_BASE", "OPENROUTER_BASE_URL",
		"OPENAI_API_KEY_HEADER", "OPENROUTER_API_KEY_HEADER", "OPENAI_API_KEY_PREFIX",
		"OPENROUTER_API_KEY_PREFIX", "OPENAI_ORG", "OPENROUTER_SITE_URL", "OPENROUTER_TITLE",
	} {
		t.Setenv(k, "")
	}
}

func TestSetHeaderPreserveCase(t *testing.T) {
	hdr := http.Header{}
	setHeaderPreserveCase(hdr, "HTTP-Referer", "https://example.com/app")
	if vals := hdr["HTTP-Referer"]; len(vals) != 1 || vals[0] != "https://example.com/app" {
		t.Fatalf("expected HTTP-Referer slice to be preserved, got %+v", vals)
	}
	if _, exists := hdr["Http-Referer"]; exists {
		t.Fatalf("unexpected canonical header variant present: %+v", hdr)
	}

	setHeaderPreserveCase(hdr, "Referer", "https://example.com/app")
	if got := hdr.Get("Referer"); got != "https://example.com/app" {
		t.Fatalf("expected Referer to be set via canonical path, got %q", got)
	}

	setHeaderPreserveCase(hdr, "  ", "value")
	setHeaderPreserveCase(hdr, "X-Test", "   ")
	if _, exists := hdr[" "]; exists {
		t.Fatalf("expected blank header keys to be ignored")
	}
	if got := hdr.Get("X-Test"); got != "" {
		t.Fatalf("expected blank header values to be skipped, got %q", got)
	}
}

func TestChatSendsMessagesAndOptions(t *testing.T) {
	clearLLMEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Roar!"}}]}`))
	}))
	defer srv.Close()

	c := &Client{HTTP: srv.Client(), BaseURL: srv.URL}
	out, err := c.Chat(context.Background(), "gpt-3.5-turbo",
		[]Message{System("be fierce"), User("go")},
		Options{Temperature: Temp(0.5), MaxTokens: 50})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != "Roar!" {
		t.Fatalf("unexpected content %q", out)
	}
	if got["model"] != "gpt-3.5-turbo" {
		t.Fatalf("unexpected model %v", got["model"])
	}
	if got["temperature"] != 0.5 || got["max_tokens"] != float64(50) {
		t.Fatalf("unexpected sampling knobs %v %v", got["temperature"], got["max_tokens"])
	}
	if _, ok := got["response_format"]; ok {
		t.Fatalf("response_format must be omitted for free text")
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
}

func TestChatJSONModeAndHTTPError(t *testing.T) {
	clearLLMEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["response_format"]; !ok {
			t.Errorf("expected response_format in JSON mode")
		}
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	c := &Client{HTTP: srv.Client(), BaseURL: srv.URL}
	_, err := c.Chat(context.Background(), "gpt-4", []Message{User("x")}, Options{JSON: true})
	if err == nil || !strings.Contains(err.Error(), "openai http 429") {
		t.Fatalf("expected http 429 error, got %v", err)
	}
}

func TestChatNoChoices(t *testing.T) {
	clearLLMEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := &Client{HTTP: srv.Client(), BaseURL: srv.URL}
	if _, err := c.Chat(context.Background(), "gpt-4", []Message{User("x")}, Options{}); err == nil {
		t.Fatalf("expected error for empty choices")
	}
}

func TestDecodeObject(t *testing.T) {
	var v struct {
		Winner string `json:"winner"`
	}
	if err := DecodeObject("Sure!\n```json\n{\"winner\": \"Fang\"}\n```", &v); err != nil {
		t.Fatalf("DecodeObject: %v", err)
	}
	if v.Winner != "Fang" {
		t.Fatalf("unexpected winner %q", v.Winner)
	}
	if err := DecodeObject("   ", &v); err == nil {
		t.Fatalf("expected error on empty input")
	}
	if err := DecodeObject("no json here", &v); err == nil {
		t.Fatalf("expected error on prose")
	}
}
