package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"aibeasts/server/agent"
)

const beastCols = `id::text, user_id::text, name, image_url, abilities, personality, physic,
	wins, games_played, experience, elo, ai_generated`

func scanBeast(row pgx.Row) (agent.Beast, error) {
	var b agent.Beast
	err := row.Scan(&b.ID, &b.UserID, &b.Name, &b.ImageURL, &b.Abilities, &b.Personality, &b.Physic,
		&b.Wins, &b.GamesPlayed, &b.Experience, &b.Elo, &b.AIGenerated)
	if errors.Is(err, pgx.ErrNoRows) {
		return agent.Beast{}, ErrNotFound
	}
	return b, err
}

// BeastByOwner returns the player's single beast.
func (db *DB) BeastByOwner(ctx context.Context, userID string) (agent.Beast, error) {
	if !ValidID(userID) {
		return agent.Beast{}, ErrNotFound
	}
	return scanBeast(db.QueryRow(ctx,
		`SELECT `+beastCols+` FROM aibeasts_characters WHERE user_id = $1::uuid`, userID))
}

func (db *DB) BeastByID(ctx context.Context, id string) (agent.Beast, error) {
	if !ValidID(id) {
		return agent.Beast{}, ErrNotFound
	}
	return scanBeast(db.QueryRow(ctx,
		`SELECT `+beastCols+` FROM aibeasts_characters WHERE id = $1::uuid`, id))
}

// CreateBeast inserts b. A nil UserID stores an unowned AI beast; a second
// beast for the same player is ErrConflict.
func (db *DB) CreateBeast(ctx context.Context, b agent.Beast) (agent.Beast, error) {
	if err := agent.Validate(b); err != nil {
		return agent.Beast{}, err
	}
	var owner any
	if b.UserID != nil {
		owner = *b.UserID
	}
	out, err := scanBeast(db.QueryRow(ctx, `
		INSERT INTO aibeasts_characters(user_id, name, image_url, abilities, personality, physic, ai_generated)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)
		RETURNING `+beastCols,
		owner, b.Name, b.ImageURL, nonNil(b.Abilities), nonNil(b.Personality), nonNil(b.Physic), b.AIGenerated))
	if isUniqueViolation(err) {
		return agent.Beast{}, ErrConflict
	}
	return out, err
}

// AddTrait appends trait to one trait list in a single statement, so
// concurrent training messages cannot drop each other's traits. It reports
// false when the list already holds the trait (case-insensitively) or is
// full.
func (db *DB) AddTrait(ctx context.Context, beastID string, kind agent.TraitKind, trait string) (bool, error) {
	if !kind.Storable() {
		return false, fmt.Errorf("not a trait list: %q", kind)
	}
	if !ValidID(beastID) {
		return false, ErrNotFound
	}
	// kind is one of three fixed column names
	col := string(kind)
	tag, err := db.Exec(ctx, `
		UPDATE aibeasts_characters
		   SET `+col+` = array_append(`+col+`, $2)
		 WHERE id = $1::uuid
		   AND cardinality(`+col+`) < $3
		   AND NOT EXISTS (SELECT 1 FROM unnest(`+col+`) t WHERE lower(t) = lower($2))`,
		beastID, trait, agent.MaxTraits)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (db *DB) SetImage(ctx context.Context, userID, url string) error {
	if !ValidID(userID) {
		return ErrNotFound
	}
	tag, err := db.Exec(ctx,
		`UPDATE aibeasts_characters SET image_url = $2 WHERE user_id = $1::uuid`, userID, url)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Leaderboard lists beasts by Elo, then wins.
func (db *DB) Leaderboard(ctx context.Context, limit int) ([]agent.Beast, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := db.Query(ctx, `
		SELECT `+beastCols+`
		  FROM aibeasts_characters
		 ORDER BY elo DESC, wins DESC, name
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []agent.Beast
	for rows.Next() {
		b, err := scanBeast(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func nonNil(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}
