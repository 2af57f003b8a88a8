package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"wordpot/internal/game"
)

const VIEW_TTL = 30 * time.Second

// ViewCache stores read views as JSON. The active round pointer holds the
// round id; the summary itself is round-scoped so a guess invalidates it
// without touching the pointer.
type ViewCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func NewViewCache(client *redis.Client, ttl time.Duration, log *slog.Logger) *ViewCache {
	if ttl <= 0 {
		ttl = VIEW_TTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &ViewCache{client: client, ttl: ttl, log: log.With("component", "view_cache")}
}

var _ game.ViewCache = (*ViewCache)(nil)

func (v *ViewCache) GetSummary(ctx context.Context) (*game.RoundSummary, bool) {
	id, err := v.client.Get(ctx, REDIS_KEY_ACTIVE_ROUND).Int64()
	if err != nil {
		v.miss(err)
		return nil, false
	}
	var s game.RoundSummary
	if !v.getJSON(ctx, roundKey(id, "summary"), &s) {
		return nil, false
	}
	return &s, true
}

func (v *ViewCache) SetSummary(ctx context.Context, s *game.RoundSummary) {
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	_, err = v.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, roundKey(s.RoundID, "summary"), data, v.ttl)
		p.Set(ctx, REDIS_KEY_ACTIVE_ROUND, strconv.FormatInt(s.RoundID, 10), v.ttl)
		return nil
	})
	if err != nil {
		v.log.Warn("summary not cached", "round_id", s.RoundID, "error", err)
	}
}

func (v *ViewCache) GetWheel(ctx context.Context, roundID int64) ([]string, bool) {
	var words []string
	if !v.getJSON(ctx, roundKey(roundID, "wheel"), &words) {
		return nil, false
	}
	return words, true
}

func (v *ViewCache) SetWheel(ctx context.Context, roundID int64, words []string) {
	if words == nil {
		words = []string{}
	}
	data, err := json.Marshal(words)
	if err != nil {
		return
	}
	if err := v.client.Set(ctx, roundKey(roundID, "wheel"), data, v.ttl).Err(); err != nil {
		v.log.Warn("wheel not cached", "round_id", roundID, "error", err)
	}
}

func (v *ViewCache) getJSON(ctx context.Context, key string, dst any) bool {
	data, err := v.client.Get(ctx, key).Bytes()
	if err != nil {
		v.miss(err)
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		v.log.Warn("corrupt cached view", "key", key, "error", err)
		return false
	}
	return true
}

func (v *ViewCache) miss(err error) {
	if !errors.Is(err, redis.Nil) {
		v.log.Warn("cache read failed", "error", err)
	}
}
