package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"wordpot/internal/config"
	"wordpot/internal/fair"
	"wordpot/internal/logger"
	"wordpot/internal/words"
)

type recordingCache struct {
	NopCache
	mu          sync.Mutex
	rounds      []int64
	transitions []int64
	fail        bool
}

func (c *recordingCache) InvalidateRound(ctx context.Context, roundID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rounds = append(c.rounds, roundID)
	if c.fail {
		return errors.New("cache down")
	}
	return nil
}

func (c *recordingCache) InvalidateTransition(ctx context.Context, oldRoundID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitions = append(c.transitions, oldRoundID)
	if c.fail {
		return errors.New("cache down")
	}
	return nil
}

func (c *recordingCache) transitioned(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.transitions {
		if t == id {
			return true
		}
	}
	return false
}

type recordingExecutor struct {
	mu       sync.Mutex
	calls    [][]Transfer
	failures int
}

func (e *recordingExecutor) ExecutePayouts(ctx context.Context, roundID int64, transfers []Transfer) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, transfers)
	if e.failures > 0 {
		e.failures--
		return "", errors.New("settlement service unavailable")
	}
	return "tx-ref", nil
}

func (e *recordingExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type recordingRewards struct {
	mu      sync.Mutex
	rewards []BonusReward
}

func (r *recordingRewards) IssueBonusReward(ctx context.Context, reward BonusReward) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rewards = append(r.rewards, reward)
	return nil
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []error
}

func (a *recordingAlerter) Alert(ctx context.Context, err error, tags map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, err)
}

type harness struct {
	m       *Manager
	store   *MemoryStore
	clock   *clockwork.FakeClock
	cache   *recordingCache
	exec    *recordingExecutor
	rewards *recordingRewards
	alerts  *recordingAlerter
	dir     *StaticDirectory
	disp    *Dispatcher
}

func testEconomics() config.Economics {
	econ := config.DefaultEconomics()
	econ.BonusWordCount = 0
	return econ
}

func newHarness(t *testing.T, mutate ...func(*Deps)) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	h := &harness{
		store:   NewMemoryStore(clock),
		clock:   clock,
		cache:   &recordingCache{},
		exec:    &recordingExecutor{},
		rewards: &recordingRewards{},
		alerts:  &recordingAlerter{},
		dir:     NewStaticDirectory(),
	}
	committer, err := fair.NewCommitter(fair.ProfileSHA256)
	require.NoError(t, err)

	d := Deps{
		Store:       h.store,
		Catalog:     words.MustDefault(),
		Economics:   testEconomics(),
		Committer:   committer,
		Codec:       NewAnswerCodec(nil),
		Selector:    FixedAnswer("CRANE"),
		Resolver:    h.dir,
		Payouts:     h.exec,
		Rewards:     h.rewards,
		Invalidator: h.cache,
		Views:       h.cache,
		Alerter:     h.alerts,
		Clock:       clock,
		Log:         logger.Discard(),
		PayoutBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
		},
	}
	for _, f := range mutate {
		f(&d)
	}
	h.m, err = NewManager(d)
	require.NoError(t, err)

	h.disp = NewDispatcher(h.store, clock, logger.Discard())
	h.m.RegisterSideEffects(h.disp)
	return h
}

func (h *harness) openRound(t *testing.T, answer string) *Round {
	t.Helper()
	r, err := h.m.CreateRound(context.Background(), CreateOptions{ForcedAnswer: answer})
	require.NoError(t, err)
	return r
}

func (h *harness) guess(t *testing.T, player PlayerID, word string) *GuessOutcome {
	t.Helper()
	out, err := h.m.SubmitGuess(context.Background(), GuessRequest{PlayerID: player, Word: word, Paid: true})
	require.NoError(t, err)
	return out
}

func sumPayouts(payouts []Payout) math.Int {
	total := math.ZeroInt()
	for _, p := range payouts {
		total = total.Add(p.Amount)
	}
	return total
}
