package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"wordpot/internal/game"
)

const (
	STREAM_PAYOUTS       = "wordpot:payouts"
	STREAM_BONUS_REWARDS = "wordpot:bonus_rewards"
	STREAM_MAX_LEN       = 100000
)

// StreamPayoutExecutor hands transfers to the settlement worker through a
// Redis stream. The returned reference is the batch id, which the worker
// uses to deduplicate redelivered batches.
type StreamPayoutExecutor struct {
	client *redis.Client
	stream string
}

func NewStreamPayoutExecutor(client *redis.Client) *StreamPayoutExecutor {
	return &StreamPayoutExecutor{client: client, stream: STREAM_PAYOUTS}
}

var _ game.PayoutExecutor = (*StreamPayoutExecutor)(nil)

func (e *StreamPayoutExecutor) ExecutePayouts(ctx context.Context, roundID int64, transfers []game.Transfer) (string, error) {
	body, err := json.Marshal(transfers)
	if err != nil {
		return "", err
	}
	batchID := uuid.NewString()
	id, err := e.client.XAdd(ctx, &redis.XAddArgs{
		Stream: e.stream,
		MaxLen: STREAM_MAX_LEN,
		Approx: true,
		Values: map[string]interface{}{
			"batch_id":  batchID,
			"round_id":  strconv.FormatInt(roundID, 10),
			"transfers": string(body),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue payouts for round %d: %w", roundID, err)
	}
	return batchID + "@" + id, nil
}

// StreamRewardIssuer publishes bonus rewards for the rewards worker. A
// redelivered event carries the same reward_id.
type StreamRewardIssuer struct {
	client *redis.Client
	stream string
}

func NewStreamRewardIssuer(client *redis.Client) *StreamRewardIssuer {
	return &StreamRewardIssuer{client: client, stream: STREAM_BONUS_REWARDS}
}

var _ game.RewardIssuer = (*StreamRewardIssuer)(nil)

func (r *StreamRewardIssuer) IssueBonusReward(ctx context.Context, reward game.BonusReward) error {
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: STREAM_MAX_LEN,
		Approx: true,
		Values: map[string]interface{}{
			"reward_id":  fmt.Sprintf("%d:%d", reward.RoundID, reward.WordIndex),
			"round_id":   strconv.FormatInt(reward.RoundID, 10),
			"player_id":  strconv.FormatInt(int64(reward.PlayerID), 10),
			"word_index": strconv.Itoa(reward.WordIndex),
			"units":      strconv.FormatInt(reward.Units, 10),
		},
	}).Err()
}
