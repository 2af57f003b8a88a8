package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"wordpot/internal/game"
)

const (
	REDIS_KEY_ACTIVE_ROUND = "round:active"
	REDIS_KEY_ROUND_PREFIX = "round:"
)

var roundScopedViews = []string{"summary", "wheel", "guess_count", "status", "top_guessers"}

func roundKey(roundID int64, view string) string {
	return fmt.Sprintf("%s%d:%s", REDIS_KEY_ROUND_PREFIX, roundID, view)
}

// RoundKeys lists the round-scoped view keys of a round.
func RoundKeys(roundID int64) []string {
	keys := make([]string, 0, len(roundScopedViews))
	for _, v := range roundScopedViews {
		keys = append(keys, roundKey(roundID, v))
	}
	return keys
}

// Invalidator deletes cached views in one pipeline. A failed pipeline is
// retried once before the error is returned.
type Invalidator struct {
	client *redis.Client
	log    *slog.Logger
}

func NewInvalidator(client *redis.Client, log *slog.Logger) *Invalidator {
	if log == nil {
		log = slog.Default()
	}
	return &Invalidator{client: client, log: log.With("component", "cache_invalidator")}
}

var _ game.Invalidator = (*Invalidator)(nil)

func (i *Invalidator) InvalidateRound(ctx context.Context, roundID int64) error {
	return i.del(ctx, RoundKeys(roundID))
}

// InvalidateTransition drops the old round's views and the active round
// pointer together.
func (i *Invalidator) InvalidateTransition(ctx context.Context, oldRoundID int64) error {
	return i.del(ctx, append(RoundKeys(oldRoundID), REDIS_KEY_ACTIVE_ROUND))
}

func (i *Invalidator) del(ctx context.Context, keys []string) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		_, err = i.client.Pipelined(ctx, func(p redis.Pipeliner) error {
			for _, k := range keys {
				p.Del(ctx, k)
			}
			return nil
		})
		if err == nil {
			return nil
		}
		i.log.Debug("invalidation attempt failed", "attempt", attempt+1, "error", err)
	}
	return err
}
