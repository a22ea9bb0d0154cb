package main

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"aibeasts/server/engine"
	"aibeasts/server/escrow"
	"aibeasts/server/store"
)

const alreadyPlayedMsg = "This lobby has already been played."

func (s *Server) createLobby(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name             string `json:"lobby_name"`
		Conditions       string `json:"conditions"`
		Mode             string `json:"lobby_mode"`
		BetAmount        string `json:"bet_amount"`
		ContractBattleID string `json:"battlecontract_id"`
		Player1Pic       string `json:"player1_pic"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	l := store.Lobby{
		CreatedBy:  claims(r).ID,
		Name:       strings.TrimSpace(body.Name),
		Conditions: strings.TrimSpace(body.Conditions),
		Mode:       strings.ToLower(strings.TrimSpace(body.Mode)),
		Player1Pic: strings.TrimSpace(body.Player1Pic),
	}
	if l.Name == "" {
		writeError(w, http.StatusBadRequest, "lobby_name is required.")
		return
	}
	if l.Mode == "" {
		l.Mode = store.ModeFree
	}
	switch l.Mode {
	case store.ModeFree:
	case store.ModeCrypto:
		bet, err := escrow.ParseStake(body.BetAmount)
		if err != nil || !bet.GreaterThan(decimal.Zero) {
			writeError(w, http.StatusBadRequest, "Crypto lobbies need a positive bet_amount in ETH.")
			return
		}
		if _, err := escrow.ParseBattleID(body.ContractBattleID); err != nil {
			writeError(w, http.StatusBadRequest, "Crypto lobbies need the on-chain battlecontract_id.")
			return
		}
		l.BetAmount = &bet
		l.ContractBattleID = strings.TrimSpace(body.ContractBattleID)
	default:
		writeError(w, http.StatusBadRequest, "lobby_mode must be free or crypto.")
		return
	}
	if _, err := s.DB.BeastByOwner(r.Context(), l.CreatedBy); err != nil {
		writeError(w, http.StatusBadRequest, "Create a beast before opening a lobby.")
		return
	}
	out, err := s.DB.CreateLobby(r.Context(), l)
	if err != nil {
		log.Printf("lobbies: create: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSONStatus(w, http.StatusCreated, out)
}

func (s *Server) listLobbies(w http.ResponseWriter, r *http.Request) {
	mode := strings.ToLower(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = store.ModeFree
	}
	if mode != store.ModeFree && mode != store.ModeCrypto {
		writeError(w, http.StatusBadRequest, "mode must be free or crypto.")
		return
	}
	ls, err := s.DB.OpenLobbies(r.Context(), mode)
	if err != nil {
		log.Printf("lobbies: list: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, map[string]any{"lobbies": ls})
}

func (s *Server) myLobbies(w http.ResponseWriter, r *http.Request) {
	ls, err := s.DB.LobbiesFor(r.Context(), claims(r).ID)
	if err != nil {
		log.Printf("lobbies: mine: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, map[string]any{"lobbies": ls})
}

// lobbyBattle serves the recorded battle for replay.
func (s *Server) lobbyBattle(w http.ResponseWriter, r *http.Request) {
	b, err := s.DB.BattleByLobby(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No battle recorded for this lobby.")
		return
	}
	if err != nil {
		log.Printf("lobbies: battle: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, b)
}

// battle settles a lobby for the authenticated challenger.
func (s *Server) battle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		LobbyID string `json:"lobby_id"`
	}
	if err := decodeBody(r, &body); err != nil || strings.TrimSpace(body.LobbyID) == "" {
		writeError(w, http.StatusBadRequest, "lobby_id is required.")
		return
	}
	ctx, cancel := withTimeout(r.Context(), s.BattleTimeout)
	defer cancel()

	out, err := s.Settler.Settle(ctx, engine.SettleRequest{
		LobbyID:      strings.TrimSpace(body.LobbyID),
		ChallengerID: claims(r).ID,
	})
	switch {
	case err == nil:
		writeJSON(w, out)
	case errors.Is(err, engine.ErrAlreadyPlayed):
		writeError(w, http.StatusBadRequest, alreadyPlayedMsg)
	case errors.Is(err, engine.ErrSelfBattle):
		writeError(w, http.StatusConflict, "You cannot battle your own lobby.")
	case errors.Is(err, engine.ErrLobbyUnavailable):
		writeError(w, http.StatusConflict, "This lobby is not open for battle.")
	case errors.Is(err, engine.ErrNoBeast):
		writeError(w, http.StatusBadRequest, "Both players need a beast to battle.")
	case errors.Is(err, engine.ErrNoWinner):
		writeJSONStatus(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "The referee did not name a winner. The lobby is open again.",
			"transcript": out.Transcript,
			"judge_log":  out.JudgeLog,
		})
	default:
		log.Printf("battle: lobby %s: %v", body.LobbyID, err)
		writeError(w, http.StatusInternalServerError, "Failed to generate battle.")
	}
}

// practice pits the player's beast against a stored AI beast. Nothing is
// recorded.
func (s *Server) practice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AIBeastID string `json:"ai_beast_id"`
	}
	if err := decodeBody(r, &body); err != nil || strings.TrimSpace(body.AIBeastID) == "" {
		writeError(w, http.StatusBadRequest, "ai_beast_id is required.")
		return
	}
	ctx, cancel := withTimeout(r.Context(), s.BattleTimeout)
	defer cancel()

	mine, err := s.DB.BeastByOwner(ctx, claims(r).ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Create a beast before battling.")
		return
	}
	foe, err := s.DB.BeastByID(ctx, strings.TrimSpace(body.AIBeastID))
	if err != nil || !foe.AIGenerated {
		writeError(w, http.StatusNotFound, "AI beast not found.")
		return
	}
	res, err := s.Settler.Runner.Practice(ctx, mine, foe)
	if err != nil {
		log.Printf("practice: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate battle.")
		return
	}
	countBattle("practice")
	writeJSON(w, res)
}
