package imagegen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateSendsFluxInput(t *testing.T) {
	var got map[string]map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models/black-forest-labs/flux-schnell/predictions", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.Equal(t, "wait", r.Header.Get("Prefer"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"p1","status":"succeeded","output":["https://img/1.webp"]}`))
	}))
	defer srv.Close()

	c := New("tok")
	c.BaseURL = srv.URL
	url, err := c.Generate(context.Background(), Request{Prompt: "a glass wyrm"})
	require.NoError(t, err)
	require.Equal(t, "https://img/1.webp", url)

	in := got["input"]
	require.Equal(t, "a glass wyrm", in["prompt"])
	require.Equal(t, "1:1", in["aspect_ratio"])
	require.Equal(t, "webp", in["output_format"])
	require.Equal(t, float64(4), in["num_inference_steps"])
	require.Equal(t, true, in["disable_safety_checker"])
	require.NotContains(t, in, "image")
}

func TestGenerateVariationWithStyle(t *testing.T) {
	var got map[string]map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"p1","status":"succeeded","output":"https://img/2.webp"}`))
	}))
	defer srv.Close()

	c := New("tok").WithStyle(StylePrompt)
	c.BaseURL = srv.URL
	url, err := c.Generate(context.Background(), Request{ImageURL: "https://img/src.png", AspectRatio: "16:9"})
	require.NoError(t, err)
	require.Equal(t, "https://img/2.webp", url)

	in := got["input"]
	require.Equal(t, "https://img/src.png", in["image"])
	require.Equal(t, "16:9", in["aspect_ratio"])
	require.Equal(t, StylePrompt+" Generate a variation of this image.", in["prompt"])
}

func TestGeneratePollsUntilDone(t *testing.T) {
	var polls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"id":"p1","status":"processing","urls":{"get":"` + srv.URL + `/predictions/p1"}}`))
			return
		}
		if polls.Add(1) < 2 {
			_, _ = w.Write([]byte(`{"id":"p1","status":"processing","urls":{"get":"` + srv.URL + `/predictions/p1"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"p1","status":"succeeded","output":["https://img/3.webp"]}`))
	}))
	defer srv.Close()

	c := New("tok")
	c.BaseURL = srv.URL
	c.Poll = time.Millisecond
	url, err := c.Generate(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	require.Equal(t, "https://img/3.webp", url)
	require.Equal(t, int32(2), polls.Load())
}

func TestGenerateErrors(t *testing.T) {
	_, err := New("tok").Generate(context.Background(), Request{})
	require.ErrorIs(t, err, ErrEmptyPrompt)

	_, err = New("").Generate(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer bad" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Unauthenticated"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"p1","status":"failed","error":"NSFW"}`))
	}))
	defer srv.Close()

	c := New("bad")
	c.BaseURL = srv.URL
	_, err = c.Generate(context.Background(), Request{Prompt: "x"})
	require.ErrorContains(t, err, "replicate http 401")

	c.Token = "ok"
	_, err = c.Generate(context.Background(), Request{Prompt: "x"})
	require.ErrorContains(t, err, "failed")
}
