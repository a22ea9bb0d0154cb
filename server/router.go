package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"aibeasts/server/agent"
	"aibeasts/server/auth"
	"aibeasts/server/engine"
	"aibeasts/server/imagegen"
	"aibeasts/server/store"
	"aibeasts/server/training"
)

// Store is everything the HTTP layer reads or writes. *store.DB satisfies it.
type Store interface {
	engine.Store
	training.BeastStore

	Ping(ctx context.Context) error
	CreateUser(ctx context.Context, username, email, passwordHash string) (store.User, error)
	UserByUsername(ctx context.Context, username string) (store.User, error)
	UserByID(ctx context.Context, id string) (store.User, error)
	SetWallet(ctx context.Context, userID, wallet string) error
	BeastByID(ctx context.Context, id string) (agent.Beast, error)
	SetImage(ctx context.Context, userID, url string) error
	Leaderboard(ctx context.Context, limit int) ([]agent.Beast, error)
	CreateLobby(ctx context.Context, l store.Lobby) (store.Lobby, error)
	OpenLobbies(ctx context.Context, mode string) ([]store.Lobby, error)
	LobbiesFor(ctx context.Context, userID string) ([]store.Lobby, error)
}

type imageGenerator interface {
	Generate(ctx context.Context, r imagegen.Request) (string, error)
}

// Server holds the wired dependencies behind the HTTP API.
type Server struct {
	DB      Store
	Access  auth.Issuer
	Refresh auth.Issuer
	Settler engine.Settler
	Coach   training.Coach

	MonsterLLM   training.Completer
	MonsterModel string

	Images  imageGenerator
	Visuals imageGenerator

	AllowedOrigins []string
	Limit          *limiter
	// BattleTimeout bounds one settlement, LLM calls and payout included.
	BattleTimeout time.Duration
}

func Router(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Get("/api/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/auth", s.login)
	r.Post("/api/refresh-token", s.refreshToken)

	r.Get("/api/lobbies", s.listLobbies)
	r.Get("/api/lobbies/{id}/battle", s.lobbyBattle)
	r.Get("/api/leaderboard", s.leaderboard)

	r.Group(func(r chi.Router) {
		r.Use(s.Access.Middleware)

		r.Get("/api/characters/me", s.myBeast)
		r.Put("/api/characters/me/image", s.setImage)
		r.Put("/api/users/me/wallet", s.setWallet)
		r.Post("/api/lobbies", s.createLobby)
		r.Get("/api/lobbies/mine", s.myLobbies)

		// every route below spends LLM or image credits
		r.Group(func(r chi.Router) {
			r.Use(s.Limit.middleware)
			r.Post("/api/training", s.train)
			r.Post("/api/generate-ai-monster", s.generateMonster)
			r.Post("/api/flux-generate", s.fluxGenerate)
			r.Post("/api/visuals-generate", s.visualsGenerate)
			r.Post("/api/battle", s.battle)
			r.Post("/api/battle/practice", s.practice)
		})
	})

	origins := s.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: len(s.AllowedOrigins) > 0,
		MaxAge:           300,
	}).Handler(r)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.DB.Ping(ctx); err != nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]string{"error": msg})
}

// decodeBody reads a JSON body of at most 64KiB. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func claims(r *http.Request) *auth.Claims {
	c, _ := auth.ClaimsFrom(r.Context())
	return c
}
