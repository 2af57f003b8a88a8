package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wordpot/internal/game"
)

// PlayerDirectory resolves players from the players table, which is filled
// by the platform's identity sync.
type PlayerDirectory struct {
	pool *pgxpool.Pool
}

func NewPlayerDirectory(pool *pgxpool.Pool) *PlayerDirectory {
	return &PlayerDirectory{pool: pool}
}

var _ game.IdentityResolver = (*PlayerDirectory)(nil)

func (d *PlayerDirectory) ResolvePlayer(ctx context.Context, id game.PlayerID) (game.Player, error) {
	var (
		p        game.Player
		referrer int64
	)
	err := d.pool.QueryRow(ctx,
		`SELECT id, wallet_address, COALESCE(referrer_id, 0) FROM players WHERE id = $1`, int64(id)).
		Scan(&p.ID, &p.Address, &referrer)
	if errors.Is(err, pgx.ErrNoRows) {
		return game.Player{}, game.ErrUnknownPlayer
	}
	if err != nil {
		return game.Player{}, err
	}
	p.ReferrerID = game.PlayerID(referrer)
	return p, nil
}

// UpsertPlayer stores the player's current address. The referrer is set on
// first insert only; later changes never rewrite who referred a player.
func (d *PlayerDirectory) UpsertPlayer(ctx context.Context, p game.Player) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO players (id, wallet_address, referrer_id) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET wallet_address = EXCLUDED.wallet_address`,
		int64(p.ID), p.Address, nullablePlayer(p.ReferrerID))
	return err
}
