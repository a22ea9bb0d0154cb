package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBase = "https://api.replicate.com/v1"
	fluxModel   = "black-forest-labs/flux-schnell"

	// StylePrompt prefixes scene prompts from the visuals endpoint.
	StylePrompt = "Create a vibrant and detailed 2D cartoon illustration in the style of Studio Ghibli, epic 2d game background"

	variationPrompt = "Generate a variation of this image"
)

var ErrEmptyPrompt = errors.New("prompt or image url is required")

type Request struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspectRatio"`
	ImageURL    string `json:"imageUrl"`
}

// Client calls flux-schnell predictions on Replicate.
type Client struct {
	HTTP    *http.Client
	BaseURL string
	Token   string
	// Style, when set, is prefixed to every prompt.
	Style string
	// Poll is the wait between status checks when Prefer: wait times out.
	Poll time.Duration
}

func New(token string) *Client {
	return &Client{HTTP: &http.Client{Timeout: 90 * time.Second}, Token: token}
}

// WithStyle returns a copy of c that prefixes style to prompts.
func (c *Client) WithStyle(style string) *Client {
	cp := *c
	cp.Style = style
	return &cp
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

func (c *Client) input(r Request) map[string]any {
	prompt := strings.TrimSpace(r.Prompt)
	in := map[string]any{
		"aspect_ratio":           r.AspectRatio,
		"disable_safety_checker": true,
		"go_fast":                true,
		"megapixels":             "1",
		"num_outputs":            1,
		"output_format":          "webp",
		"output_quality":         80,
		"num_inference_steps":    4,
	}
	if in["aspect_ratio"] == "" {
		in["aspect_ratio"] = "1:1"
	}
	if r.ImageURL != "" {
		in["image"] = r.ImageURL
		prompt = variationPrompt
	}
	if c.Style != "" {
		prompt = c.Style + " " + prompt
		if r.ImageURL != "" {
			prompt += "."
		}
	}
	in["prompt"] = prompt
	return in
}

// Generate runs one prediction and returns the first output URL.
func (c *Client) Generate(ctx context.Context, r Request) (string, error) {
	if strings.TrimSpace(r.Prompt) == "" && strings.TrimSpace(r.ImageURL) == "" {
		return "", ErrEmptyPrompt
	}
	if c.Token == "" {
		return "", errors.New("REPLICATE_API_TOKEN not set")
	}
	body, err := json.Marshal(map[string]any{"input": c.input(r)})
	if err != nil {
		return "", err
	}
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = defaultBase
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/models/"+fluxModel+"/predictions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "wait")
	p, err := c.do(req)
	if err != nil {
		return "", err
	}
	log.Printf("imagegen: prediction %s %s", p.ID, p.Status)

	poll := c.Poll
	if poll <= 0 {
		poll = time.Second
	}
	for p.Status == "starting" || p.Status == "processing" {
		if p.URLs.Get == "" {
			return "", fmt.Errorf("prediction %s still %s with no poll url", p.ID, p.Status)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(poll):
		}
		get, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URLs.Get, nil)
		if err != nil {
			return "", err
		}
		if p, err = c.do(get); err != nil {
			return "", err
		}
	}
	if p.Status != "succeeded" {
		return "", fmt.Errorf("prediction %s %s: %v", p.ID, p.Status, p.Error)
	}
	return firstURL(p.Output)
}

func (c *Client) do(req *http.Request) (prediction, error) {
	req.Header.Set("Authorization", "Bearer "+c.Token)
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return prediction{}, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return prediction{}, fmt.Errorf("replicate http %d: %s", resp.StatusCode, truncate(string(raw), 500))
	}
	var p prediction
	if err := json.Unmarshal(raw, &p); err != nil {
		return prediction{}, fmt.Errorf("replicate: decode: %w", err)
	}
	return p, nil
}

// firstURL accepts the list output of flux-schnell and the bare string
// some models return.
func firstURL(out json.RawMessage) (string, error) {
	var list []string
	if err := json.Unmarshal(out, &list); err == nil {
		if len(list) > 0 && list[0] != "" {
			return list[0], nil
		}
		return "", errors.New("prediction returned no images")
	}
	var one string
	if err := json.Unmarshal(out, &one); err == nil && one != "" {
		return one, nil
	}
	return "", fmt.Errorf("unexpected prediction output: %s", truncate(string(out), 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
