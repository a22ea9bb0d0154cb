package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Wallet       string
	CreatedAt    time.Time
}

const userCols = `id::text, username, email, password_hash, coalesce(wallet, ''), created_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Wallet, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// CreateUser inserts a player. A taken username is ErrConflict.
func (db *DB) CreateUser(ctx context.Context, username, email, passwordHash string) (User, error) {
	u, err := scanUser(db.QueryRow(ctx, `
		INSERT INTO aibeasts_users(username, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING `+userCols,
		strings.TrimSpace(username), strings.TrimSpace(email), passwordHash))
	if isUniqueViolation(err) {
		return User{}, ErrConflict
	}
	return u, err
}

func (db *DB) UserByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(db.QueryRow(ctx,
		`SELECT `+userCols+` FROM aibeasts_users WHERE username = $1`,
		strings.TrimSpace(username)))
}

func (db *DB) UserByID(ctx context.Context, id string) (User, error) {
	if !ValidID(id) {
		return User{}, ErrNotFound
	}
	return scanUser(db.QueryRow(ctx,
		`SELECT `+userCols+` FROM aibeasts_users WHERE id = $1::uuid`, id))
}

func (db *DB) SetWallet(ctx context.Context, userID, wallet string) error {
	if !ValidID(userID) {
		return ErrNotFound
	}
	tag, err := db.Exec(ctx,
		`UPDATE aibeasts_users SET wallet = $2 WHERE id = $1::uuid`, userID, nullable(wallet))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// WalletOf returns the player's payout address, "" when unset.
func (db *DB) WalletOf(ctx context.Context, userID string) (string, error) {
	u, err := db.UserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Wallet, nil
}
