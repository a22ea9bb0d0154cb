package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	LobbyOpen     = "open"
	LobbyBattling = "battling"
	LobbyPlayed   = "played"

	ModeFree   = "free"
	ModeCrypto = "crypto"
)

type Lobby struct {
	ID               string           `json:"id"`
	CreatedBy        string           `json:"created_by"`
	OpponentID       string           `json:"opponent_id,omitempty"`
	Name             string           `json:"lobby_name"`
	Conditions       string           `json:"conditions"`
	Status           string           `json:"lobby_status"`
	Mode             string           `json:"lobby_mode"`
	BetAmount        *decimal.Decimal `json:"bet_amount,omitempty"`
	ContractBattleID string           `json:"battlecontract_id,omitempty"`
	Player1Pic       string           `json:"player1_pic"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Wagered reports whether the lobby carries a positive on-chain stake.
func (l Lobby) Wagered() bool {
	return l.BetAmount != nil && l.BetAmount.IsPositive()
}

// numeric travels as text so decimal precision survives the round trip.
const lobbyCols = `id::text, created_by::text, coalesce(opponent_id::text, ''), lobby_name, conditions,
	lobby_status, lobby_mode, bet_amount::text, coalesce(battlecontract_id, ''), player1_pic, created_at`

func scanLobby(row pgx.Row) (Lobby, error) {
	var (
		l   Lobby
		bet *string
	)
	err := row.Scan(&l.ID, &l.CreatedBy, &l.OpponentID, &l.Name, &l.Conditions,
		&l.Status, &l.Mode, &bet, &l.ContractBattleID, &l.Player1Pic, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lobby{}, ErrNotFound
	}
	if err != nil {
		return Lobby{}, err
	}
	if bet != nil {
		d, err := decimal.NewFromString(*bet)
		if err != nil {
			return Lobby{}, err
		}
		l.BetAmount = &d
	}
	return l, nil
}

func scanLobbies(rows pgx.Rows, err error) ([]Lobby, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Lobby{}
	for rows.Next() {
		l, err := scanLobby(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (db *DB) CreateLobby(ctx context.Context, l Lobby) (Lobby, error) {
	if l.Mode == "" {
		l.Mode = ModeFree
	}
	var bet any
	if l.BetAmount != nil {
		bet = l.BetAmount.String()
	}
	return scanLobby(db.QueryRow(ctx, `
		INSERT INTO aibeasts_lobbies(created_by, lobby_name, conditions, lobby_mode, bet_amount, battlecontract_id, player1_pic)
		VALUES ($1::uuid, $2, $3, $4, $5::numeric, $6, $7)
		RETURNING `+lobbyCols,
		l.CreatedBy, l.Name, l.Conditions, l.Mode, bet, nullable(l.ContractBattleID), l.Player1Pic))
}

func (db *DB) LobbyByID(ctx context.Context, id string) (Lobby, error) {
	if !ValidID(id) {
		return Lobby{}, ErrNotFound
	}
	return scanLobby(db.QueryRow(ctx,
		`SELECT `+lobbyCols+` FROM aibeasts_lobbies WHERE id = $1::uuid`, id))
}

// OpenLobbies lists joinable lobbies of one mode, newest first.
func (db *DB) OpenLobbies(ctx context.Context, mode string) ([]Lobby, error) {
	return scanLobbies(db.Query(ctx, `
		SELECT `+lobbyCols+`
		  FROM aibeasts_lobbies
		 WHERE lobby_status = 'open' AND lobby_mode = $1
		 ORDER BY created_at DESC
		 LIMIT 100`, mode))
}

// LobbiesFor lists lobbies the player created or joined.
func (db *DB) LobbiesFor(ctx context.Context, userID string) ([]Lobby, error) {
	if !ValidID(userID) {
		return []Lobby{}, nil
	}
	return scanLobbies(db.Query(ctx, `
		SELECT `+lobbyCols+`
		  FROM aibeasts_lobbies
		 WHERE created_by = $1::uuid OR opponent_id = $1::uuid
		 ORDER BY created_at DESC
		 LIMIT 100`, userID))
}

// ClaimLobby moves an open lobby to battling for challengerID. Exactly one
// caller can win the claim; everyone else gets ErrNotOpen.
func (db *DB) ClaimLobby(ctx context.Context, lobbyID, challengerID string) (Lobby, error) {
	if !ValidID(lobbyID) || !ValidID(challengerID) {
		return Lobby{}, ErrNotOpen
	}
	l, err := scanLobby(db.QueryRow(ctx, `
		UPDATE aibeasts_lobbies
		   SET lobby_status = 'battling', opponent_id = $2::uuid
		 WHERE id = $1::uuid
		   AND lobby_status = 'open'
		   AND created_by <> $2::uuid
		RETURNING `+lobbyCols, lobbyID, challengerID))
	if errors.Is(err, ErrNotFound) {
		return Lobby{}, ErrNotOpen
	}
	return l, err
}

// ReleaseLobby reopens a lobby whose battle did not complete.
func (db *DB) ReleaseLobby(ctx context.Context, lobbyID string) error {
	_, err := db.Exec(ctx, `
		UPDATE aibeasts_lobbies
		   SET lobby_status = 'open', opponent_id = NULL
		 WHERE id = $1::uuid AND lobby_status = 'battling'`, lobbyID)
	return err
}
