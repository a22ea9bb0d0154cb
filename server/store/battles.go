package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	PayoutNone          = "none"
	PayoutPending       = "pending"
	PayoutMissingWallet = "missing_wallet"
	PayoutPaying        = "paying" // claimed by one worker; payout_tx is set once broadcast
	PayoutPaid          = "paid"
	PayoutFailed        = "failed"
)

type Battle struct {
	ID              string    `json:"id"`
	LobbyID         string    `json:"lobby_id"`
	Character1      string    `json:"character_1"`
	Character2      string    `json:"character_2"`
	CharacterWinner string    `json:"character_winner"`
	User1           string    `json:"user_1"`
	User2           string    `json:"user_2"`
	Winner          string    `json:"winner"`
	BattleLog       []string  `json:"battle_log"`
	JudgeLog        string    `json:"judge_log"`
	Environment     string    `json:"environment"`
	WinnerWallet    string    `json:"winner_wallet,omitempty"`
	PayoutStatus    string    `json:"payout_status"`
	PayoutTx        string    `json:"payout_tx,omitempty"`
	PayoutError     string    `json:"payout_error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// BeastResult is one side's career update from a recorded battle.
type BeastResult struct {
	BeastID  string
	Won      bool
	XP       int
	EloDelta float64
}

// PendingPayout is a recorded battle still owing an on-chain declareWinner.
type PendingPayout struct {
	BattleID         string
	LobbyID          string
	ContractBattleID string
	Wallet           string
}

const battleCols = `id::text, lobby_id::text, character_1, character_2, character_winner,
	user_1::text, user_2::text, winner::text, battle_log, judge_log, environment,
	coalesce(winner_wallet, ''), payout_status, coalesce(payout_tx, ''), coalesce(payout_error, ''), created_at`

func scanBattle(row pgx.Row) (Battle, error) {
	var b Battle
	err := row.Scan(&b.ID, &b.LobbyID, &b.Character1, &b.Character2, &b.CharacterWinner,
		&b.User1, &b.User2, &b.Winner, &b.BattleLog, &b.JudgeLog, &b.Environment,
		&b.WinnerWallet, &b.PayoutStatus, &b.PayoutTx, &b.PayoutError, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Battle{}, ErrNotFound
	}
	return b, err
}

// RecordBattle writes the battle row, closes the lobby and applies the
// career updates in one transaction. A second battle for the same lobby is
// ErrDuplicate; a lobby that is no longer battling is ErrNotOpen.
func (db *DB) RecordBattle(ctx context.Context, b Battle, results ...BeastResult) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // safe if already committed

	if b.Environment == "" {
		b.Environment = "standard"
	}
	if b.PayoutStatus == "" {
		b.PayoutStatus = PayoutNone
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO aibeasts_battles(
			id, lobby_id, character_1, character_2, character_winner,
			user_1, user_2, winner, battle_log, judge_log, environment,
			winner_wallet, payout_status
		) VALUES (
			$1::uuid, $2::uuid, $3, $4, $5,
			$6::uuid, $7::uuid, $8::uuid, $9, $10, $11,
			$12, $13
		)`,
		b.ID, b.LobbyID, b.Character1, b.Character2, b.CharacterWinner,
		b.User1, b.User2, b.Winner, nonNil(b.BattleLog), b.JudgeLog, b.Environment,
		nullable(b.WinnerWallet), b.PayoutStatus,
	); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE aibeasts_lobbies SET lobby_status = 'played'
		 WHERE id = $1::uuid AND lobby_status = 'battling'`, b.LobbyID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotOpen
	}

	for _, r := range results {
		won := 0
		if r.Won {
			won = 1
		}
		if _, err := tx.Exec(ctx, `
			UPDATE aibeasts_characters
			   SET wins = wins + $2,
			       games_played = games_played + 1,
			       experience = experience + $3,
			       elo = elo + $4
			 WHERE id = $1::uuid`, r.BeastID, won, r.XP, r.EloDelta); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (db *DB) BattleByLobby(ctx context.Context, lobbyID string) (Battle, error) {
	if !ValidID(lobbyID) {
		return Battle{}, ErrNotFound
	}
	return scanBattle(db.QueryRow(ctx,
		`SELECT `+battleCols+` FROM aibeasts_battles WHERE lobby_id = $1::uuid`, lobbyID))
}

// PayoutLease is how long a claimed payout may sit in "paying" before
// another worker may take it over, e.g. after a crash mid-wait.
const PayoutLease = 10 * time.Minute

// claimable matches payouts no live worker owns.
const claimable = `(payout_status IN ('pending', 'failed')
	OR (payout_status = 'paying' AND updated_at < now() - make_interval(secs => $2)))`

// ClaimPayout moves a pending, failed or abandoned payout to "paying" and
// returns the transaction hash of any earlier broadcast. ErrNotOpen means
// another worker owns it or it is already settled.
func (db *DB) ClaimPayout(ctx context.Context, battleID string) (string, error) {
	if !ValidID(battleID) {
		return "", ErrNotOpen
	}
	var tx string
	err := db.QueryRow(ctx, `
		UPDATE aibeasts_battles
		   SET payout_status = 'paying', updated_at = now()
		 WHERE id = $1::uuid AND `+claimable+`
		RETURNING coalesce(payout_tx, '')`, battleID, PayoutLease.Seconds()).Scan(&tx)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotOpen
	}
	return tx, err
}

// SetPayoutTx stores the hash of a just-broadcast declareWinner before its
// receipt is awaited.
func (db *DB) SetPayoutTx(ctx context.Context, battleID, txHash string) error {
	if !ValidID(battleID) {
		return ErrNotOpen
	}
	tag, err := db.Exec(ctx, `
		UPDATE aibeasts_battles
		   SET payout_tx = $2, payout_error = NULL, updated_at = now()
		 WHERE id = $1::uuid AND payout_status = 'paying'`, battleID, txHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotOpen
	}
	return nil
}

// SetPayout closes a claimed payout attempt. Only a row in "paying" is
// updated, so a paid battle is never downgraded. An empty txHash keeps the
// stored one.
func (db *DB) SetPayout(ctx context.Context, battleID, status, txHash, errText string) error {
	if !ValidID(battleID) {
		return ErrNotOpen
	}
	tag, err := db.Exec(ctx, `
		UPDATE aibeasts_battles
		   SET payout_status = $2,
		       payout_tx = coalesce($3, payout_tx),
		       payout_error = $4,
		       updated_at = now()
		 WHERE id = $1::uuid AND payout_status = 'paying'`, battleID, status, nullable(txHash), nullable(errText))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotOpen
	}
	return nil
}

// PendingPayouts lists wagered battles whose payout can be claimed.
func (db *DB) PendingPayouts(ctx context.Context) ([]PendingPayout, error) {
	rows, err := db.Query(ctx, `
		SELECT b.id::text, b.lobby_id::text, coalesce(l.battlecontract_id, ''), coalesce(b.winner_wallet, '')
		  FROM aibeasts_battles b
		  JOIN aibeasts_lobbies l ON l.id = b.lobby_id
		 WHERE b.payout_status IN ('pending', 'failed')
		    OR (b.payout_status = 'paying' AND b.updated_at < now() - make_interval(secs => $1))
		 ORDER BY b.created_at`, PayoutLease.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PendingPayout
	for rows.Next() {
		var p PendingPayout
		if err := rows.Scan(&p.BattleID, &p.LobbyID, &p.ContractBattleID, &p.Wallet); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
