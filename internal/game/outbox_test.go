package game

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wordpot/internal/logger"
)

func enqueue(t *testing.T, s *MemoryStore, ev Event) {
	t.Helper()
	require.NoError(t, s.InTx(context.Background(), func(tx Tx) error {
		return tx.EnqueueEvent(context.Background(), ev)
	}))
}

func TestDispatcher_RunsHandlersInOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	d := NewDispatcher(s, nil, logger.Discard())

	var calls []string
	d.Register("ping", "a", func(ctx context.Context, ev Event) error { calls = append(calls, "a"); return nil })
	d.Register("ping", "b", func(ctx context.Context, ev Event) error { calls = append(calls, "b"); return nil })
	enqueue(t, s, Event{Type: "ping", RoundID: 1})

	n, err := d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a", "b"}, calls)
	assert.Equal(t, 0, s.PendingEvents())
}

func TestDispatcher_RetriesFailedEvents(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	d := NewDispatcher(s, nil, logger.Discard())

	attempts := 0
	d.Register("flaky", "flaky", func(ctx context.Context, ev Event) error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	enqueue(t, s, Event{Type: "flaky"})

	require.NoError(t, d.Drain(ctx, 10))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 0, s.PendingEvents())
}

func TestDispatcher_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	d := NewDispatcher(s, nil, logger.Discard())

	attempts := 0
	d.Register("broken", "broken", func(ctx context.Context, ev Event) error {
		attempts++
		return errors.New("always")
	})
	enqueue(t, s, Event{Type: "broken"})

	require.NoError(t, d.Drain(ctx, 20))
	assert.Equal(t, memMaxEventAttempts, attempts)
	assert.Equal(t, 1, s.PendingEvents())
}

func TestDispatcher_RecoversHandlerPanic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	d := NewDispatcher(s, nil, logger.Discard())

	d.Register("boom", "boom", func(ctx context.Context, ev Event) error { panic("boom") })
	enqueue(t, s, Event{Type: "boom"})

	assert.NotPanics(t, func() {
		_, err := d.DispatchOnce(ctx)
		assert.NoError(t, err)
	})
	assert.Equal(t, 1, s.PendingEvents())
}

func TestDispatcher_UnknownTypeCompletes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	d := NewDispatcher(s, nil, logger.Discard())
	enqueue(t, s, Event{Type: "nobody_listens"})

	_, err := d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, s.PendingEvents())
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	s := NewMemoryStore(nil)
	d := NewDispatcher(s, nil, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, d.Run(ctx))
}

func TestSideEffects_WinnerAchievementOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.openRound(t, "CRANE")
	h.guess(t, 1, "CRANE")
	require.NoError(t, h.disp.Drain(ctx, 5))

	// second win by the same player: the round after auto-creation
	h.guess(t, 1, "CRANE")
	require.NoError(t, h.disp.Drain(ctx, 5))

	awarded, err := h.store.AwardAchievement(ctx, 1, ACHIEVEMENT_WINNER, 0)
	require.NoError(t, err)
	assert.False(t, awarded)
}

func TestSideEffects_NextRoundWaitsForPayoutRecords(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	r := h.openRound(t, "CRANE")
	h.guess(t, 1, "HOUSE")

	// resolve without settling, as if the process died after commit
	_, err := h.store.Resolve(ctx, r.ID, 2, 0, h.clock.Now())
	require.NoError(t, err)
	enqueue(t, h.store, Event{Type: EventRoundResolved, RoundID: r.ID, PlayerID: 2})

	require.NoError(t, h.disp.Drain(ctx, 5))

	payouts, err := h.store.Payouts(ctx, r.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, payouts)
	assert.Equal(t, 1, h.exec.callCount())

	next, err := h.store.ActiveRound(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.PrizePool.IsPositive())
}
