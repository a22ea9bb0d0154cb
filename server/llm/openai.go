package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func System(content string) Message { return Message{Role: "system", Content: content} }
func User(content string) Message   { return Message{Role: "user", Content: content} }

// Options controls sampling, output size and JSON mode for a single call.
type Options struct {
	Temperature     *float64
	MaxTokens       int
	JSON            bool
	ReasoningEffort string
}

// Temp is a small helper for Options.Temperature literals.
func Temp(v float64) *float64 { return &v }

// Client talks to an OpenAI-compatible chat/completions endpoint.
type Client struct {
	HTTP *http.Client
	// BaseURL overrides the env-resolved base (tests, proxies).
	BaseURL string
}

func New() *Client {
	return &Client{HTTP: &http.Client{Timeout: 45 * time.Second}}
}

// Chat sends the conversation and returns the first choice's content.
func (c *Client) Chat(ctx context.Context, model string, msgs []Message, opts Options) (string, error) {
	cfg, err := resolveAPIConfig(model)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", errors.New("no messages")
	}
	base := cfg.BaseURL
	if strings.TrimSpace(c.BaseURL) != "" {
		base = strings.TrimRight(c.BaseURL, "/")
	}

	payload := map[string]any{
		"model":    cfg.Model,
		"messages": msgs,
	}
	if opts.Temperature != nil {
		payload["temperature"] = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		payload["max_tokens"] = opts.MaxTokens
	}
	if opts.JSON {
		payload["response_format"] = map[string]any{"type": "json_object"}
	}
	if re := strings.TrimSpace(opts.ReasoningEffort); re != "" {
		payload["reasoning"] = map[string]any{"effort": re}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(cfg.HeaderName, cfg.HeaderPrefix+cfg.APIKey)
	if cfg.Organization != "" {
		req.Header.Set("OpenAI-Organization", cfg.Organization)
	}
	for k, v := range cfg.ExtraHeaders {
		setHeaderPreserveCase(req.Header, k, v)
	}

	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	body := buf.Bytes()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("openai http %d: %s", resp.StatusCode, truncate(string(body), 800))
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &cc); err != nil {
		return "", err
	}
	if len(cc.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return cc.Choices[0].Message.Content, nil
}

// ExtractJSONObject returns the outermost {...} span of s, or "".
func ExtractJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		return ""
	}
	return strings.TrimSpace(s[start : end+1])
}

// DecodeObject unmarshals raw into v, retrying on the embedded object when
// the model wrapped its JSON in prose or code fences.
func DecodeObject(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("empty response")
	}
	err := json.Unmarshal([]byte(raw), v)
	if err == nil {
		return nil
	}
	if cleaned := ExtractJSONObject(raw); cleaned != "" && cleaned != raw {
		if err2 := json.Unmarshal([]byte(cleaned), v); err2 == nil {
			return nil
		}
	}
	return err
}

func setHeaderPreserveCase(h http.Header, key, value string) {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		return
	}
	if http.CanonicalHeaderKey(key) == key {
		h.Set(key, value)
		return
	}
	h[key] = []string{value}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
