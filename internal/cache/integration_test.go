package cache

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"wordpot/internal/game"
	"wordpot/internal/logger"
)

var (
	redisOnce     sync.Once
	redisEndpoint string
	redisErr      error
)

// redisClient starts one redis container for the package and flushes it
// for every test. Tests skip when Docker is unavailable.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	if os.Getenv("SKIP_INTEGRATION") != "" {
		t.Skip("SKIP_INTEGRATION set")
	}
	redisOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
			},
			Started: true,
		})
		if err != nil {
			redisErr = err
			return
		}
		redisEndpoint, redisErr = c.Endpoint(ctx, "")
	})
	if redisErr != nil {
		t.Skipf("redis container unavailable: %v", redisErr)
	}

	s, err := NewWithOptions(redisEndpoint, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	client := s.GetClient()
	require.NoError(t, client.FlushDB(context.Background()).Err())
	return client
}

func TestIntegration_Health(t *testing.T) {
	client := redisClient(t)
	s := &service{client: client}

	stats := s.Health()
	assert.Equal(t, "up", stats["status"])
	assert.Equal(t, "Redis is healthy", stats["message"])
}

func TestIntegration_ViewCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := redisClient(t)
	views := NewViewCache(client, time.Minute, logger.Discard())

	_, ok := views.GetSummary(ctx)
	assert.False(t, ok)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	views.SetSummary(ctx, &game.RoundSummary{RoundID: 4, PrizePool: math.NewInt(240), TotalGuessCount: 3, CommitHash: "abc", StartedAt: started})
	got, ok := views.GetSummary(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(4), got.RoundID)
	assert.True(t, got.PrizePool.Equal(math.NewInt(240)))
	assert.True(t, got.StartedAt.Equal(started))

	views.SetWheel(ctx, 4, []string{"HOUSE", "SLATE"})
	wheel, ok := views.GetWheel(ctx, 4)
	require.True(t, ok)
	assert.Equal(t, []string{"HOUSE", "SLATE"}, wheel)
}

func TestIntegration_InvalidationScopes(t *testing.T) {
	ctx := context.Background()
	client := redisClient(t)
	views := NewViewCache(client, time.Minute, logger.Discard())
	inv := NewInvalidator(client, logger.Discard())

	views.SetSummary(ctx, &game.RoundSummary{RoundID: 4, PrizePool: math.NewInt(1)})
	views.SetWheel(ctx, 4, []string{"HOUSE"})

	require.NoError(t, inv.InvalidateRound(ctx, 4))
	_, ok := views.GetWheel(ctx, 4)
	assert.False(t, ok)
	_, ok = views.GetSummary(ctx)
	assert.False(t, ok)
	n, err := client.Exists(ctx, REDIS_KEY_ACTIVE_ROUND).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "round scope keeps the active pointer")

	require.NoError(t, inv.InvalidateTransition(ctx, 4))
	n, err = client.Exists(ctx, REDIS_KEY_ACTIVE_ROUND).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIntegration_StreamPayoutExecutor(t *testing.T) {
	ctx := context.Background()
	client := redisClient(t)
	exec := NewStreamPayoutExecutor(client)

	ref, err := exec.ExecutePayouts(ctx, 9, []game.Transfer{
		{Address: "0xwin", Amount: math.NewInt(800), Role: game.RoleWinner},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ref)

	msgs, err := client.XRange(ctx, STREAM_PAYOUTS, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "9", msgs[0].Values["round_id"])
	assert.Contains(t, msgs[0].Values["transfers"], "0xwin")
}

func TestIntegration_StreamRewardIssuer(t *testing.T) {
	ctx := context.Background()
	client := redisClient(t)
	issuer := NewStreamRewardIssuer(client)

	require.NoError(t, issuer.IssueBonusReward(ctx, game.BonusReward{RoundID: 2, PlayerID: 5, WordIndex: 3, Units: 5000000}))

	msgs, err := client.XRange(ctx, STREAM_BONUS_REWARDS, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "2:3", msgs[0].Values["reward_id"])
	assert.Equal(t, "5000000", msgs[0].Values["units"])
}
