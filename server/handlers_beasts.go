package main

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"aibeasts/server/imagegen"
	"aibeasts/server/rating"
	"aibeasts/server/store"
	"aibeasts/server/training"
)

func (s *Server) train(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	reply, err := s.Coach.Reply(r.Context(), claims(r).ID, body.Message)
	if err != nil {
		log.Printf("training: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, map[string]string{"response": reply})
}

func (s *Server) myBeast(w http.ResponseWriter, r *http.Request) {
	b, err := s.DB.BeastByOwner(r.Context(), claims(r).ID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No beast yet. Start training to create one.")
		return
	}
	if err != nil {
		log.Printf("characters/me: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, b)
}

func (s *Server) setImage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ImageURL string `json:"image_url"`
	}
	if err := decodeBody(r, &body); err != nil || strings.TrimSpace(body.ImageURL) == "" {
		writeError(w, http.StatusBadRequest, "image_url is required.")
		return
	}
	err := s.DB.SetImage(r.Context(), claims(r).ID, strings.TrimSpace(body.ImageURL))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No beast yet. Start training to create one.")
		return
	}
	if err != nil {
		log.Printf("characters/me/image: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, map[string]string{"image_url": body.ImageURL})
}

func (s *Server) generateMonster(w http.ResponseWriter, r *http.Request) {
	m, err := training.GenerateMonster(r.Context(), s.MonsterLLM, s.MonsterModel, s.DB)
	if err != nil {
		log.Printf("generate-ai-monster: %v", err)
		writeJSONStatus(w, http.StatusInternalServerError, map[string]any{
			"success": false, "message": "Error creating AI monster", "error": err.Error(),
		})
		return
	}
	writeJSON(w, map[string]any{"success": true, "monster": m})
}

func (s *Server) fluxGenerate(w http.ResponseWriter, r *http.Request) {
	s.generateImage(w, r, s.Images)
}

func (s *Server) visualsGenerate(w http.ResponseWriter, r *http.Request) {
	s.generateImage(w, r, s.Visuals)
}

func (s *Server) generateImage(w http.ResponseWriter, r *http.Request, gen imageGenerator) {
	if gen == nil {
		writeError(w, http.StatusServiceUnavailable, "Image generation is not configured.")
		return
	}
	var req imagegen.Request
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	url, err := gen.Generate(r.Context(), req)
	if errors.Is(err, imagegen.ErrEmptyPrompt) {
		writeError(w, http.StatusBadRequest, "Prompt or imageUrl is required")
		return
	}
	if err != nil {
		log.Printf("image generate: %v", err)
		writeError(w, http.StatusBadGateway, "Failed to generate flux image")
		return
	}
	writeJSON(w, map[string]string{"imageUrl": url})
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	beasts, err := s.DB.Leaderboard(r.Context(), limit)
	if err != nil {
		log.Printf("leaderboard: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	type row struct {
		Rank        int     `json:"rank"`
		ID          string  `json:"id"`
		Name        string  `json:"name"`
		ImageURL    string  `json:"image_url"`
		Elo         float64 `json:"elo"`
		Wins        int     `json:"wins"`
		GamesPlayed int     `json:"games_played"`
		Experience  int     `json:"experience"`
		AIGenerated bool    `json:"ai_generated"`
		rating.WinRate
	}
	out := make([]row, 0, len(beasts))
	for i, b := range beasts {
		out = append(out, row{
			Rank: i + 1, ID: b.ID, Name: b.Name, ImageURL: b.ImageURL,
			Elo: b.Elo, Wins: b.Wins, GamesPlayed: b.GamesPlayed, Experience: b.Experience,
			AIGenerated: b.AIGenerated,
			WinRate:     rating.Wilson95(b.Wins, b.GamesPlayed),
		})
	}
	writeJSON(w, map[string]any{"rows": out})
}
