package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"aibeasts/server/engine"
	"aibeasts/server/llm"
)

var (
	battlesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "aibeasts_battles_total", Help: "Lobby settlements by outcome"},
		[]string{"outcome"},
	)
	payoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "aibeasts_payouts_total", Help: "Payout attempts by resulting status"},
		[]string{"status"},
	)
	llmCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "aibeasts_llm_calls_total", Help: "LLM calls by purpose and result"},
		[]string{"purpose", "result"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests"},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60},
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(battlesTotal, payoutsTotal, llmCallsTotal)
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration)
}

// instrument records count and latency per matched chi route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// countedLLM tags every call with the purpose it serves.
type countedLLM struct {
	inner   engine.Completer
	purpose string
}

func (c countedLLM) Chat(ctx context.Context, model string, msgs []llm.Message, opts llm.Options) (string, error) {
	out, err := c.inner.Chat(ctx, model, msgs, opts)
	result := "ok"
	if err != nil {
		result = "error"
	}
	llmCallsTotal.WithLabelValues(c.purpose, result).Inc()
	return out, err
}

func countBattle(outcome string) { battlesTotal.WithLabelValues(outcome).Inc() }
func countPayout(status string)  { payoutsTotal.WithLabelValues(status).Inc() }
