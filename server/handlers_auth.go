package main

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"aibeasts/server/auth"
	"aibeasts/server/escrow"
	"aibeasts/server/store"
)

type userView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Wallet   string `json:"wallet,omitempty"`
}

func viewUser(u store.User) userView {
	return userView{ID: u.ID, Username: u.Username, Email: u.Email, Wallet: u.Wallet}
}

// login signs an existing player in or registers a new one.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	body.Username = strings.TrimSpace(body.Username)
	body.Email = strings.TrimSpace(body.Email)
	if body.Username == "" || body.Email == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "Username, email, and password are required.")
		return
	}
	ctx := r.Context()

	u, err := s.DB.UserByUsername(ctx, body.Username)
	switch {
	case err == nil:
		if auth.CheckPassword(u.PasswordHash, body.Password) != nil {
			writeError(w, http.StatusUnauthorized, "Invalid password.")
			return
		}
		s.issue(w, http.StatusOK, u, "Login successful.")
		return
	case !errors.Is(err, store.ErrNotFound):
		log.Printf("auth: lookup %q: %v", body.Username, err)
		writeError(w, http.StatusInternalServerError, "Error checking user existence.")
		return
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Error creating user.")
		return
	}
	u, err = s.DB.CreateUser(ctx, body.Username, body.Email, hash)
	if errors.Is(err, store.ErrConflict) {
		writeError(w, http.StatusConflict, "Username is taken.")
		return
	}
	if err != nil {
		log.Printf("auth: create %q: %v", body.Username, err)
		writeError(w, http.StatusInternalServerError, "Error creating user.")
		return
	}
	log.Printf("auth: registered %s (%s)", u.Username, u.ID)
	s.issue(w, http.StatusCreated, u, "User registered successfully.")
}

func (s *Server) issue(w http.ResponseWriter, status int, u store.User, msg string) {
	tok, err := s.Access.Issue(u.ID, u.Username, u.Email)
	if err != nil {
		log.Printf("auth: sign token: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error.")
		return
	}
	writeJSONStatus(w, status, map[string]any{"token": tok, "user": viewUser(u), "message": msg})
}

// refreshToken trades a valid token for a long-lived one.
func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil || strings.TrimSpace(body.Token) == "" {
		writeError(w, http.StatusUnauthorized, "No token provided.")
		return
	}
	c, err := s.Access.Parse(strings.TrimSpace(body.Token))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid or expired token.")
		return
	}
	u, err := s.DB.UserByID(r.Context(), c.ID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid token or user not found.")
		return
	}
	tok, err := s.Refresh.Issue(u.ID, u.Username, u.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal Server Error.")
		return
	}
	writeJSON(w, map[string]any{"token": tok, "message": "New token generated successfully."})
}

func (s *Server) setWallet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Wallet string `json:"wallet"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	wallet := strings.TrimSpace(body.Wallet)
	if wallet != "" && !escrow.ValidWallet(wallet) {
		writeError(w, http.StatusBadRequest, "Wallet must be a 0x-prefixed Ethereum address.")
		return
	}
	if err := s.DB.SetWallet(r.Context(), claims(r).ID, wallet); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found.")
			return
		}
		log.Printf("wallet: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error.")
		return
	}
	writeJSON(w, map[string]any{"wallet": wallet})
}
