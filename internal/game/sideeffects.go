package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const ACHIEVEMENT_WINNER = "winner"

// RegisterSideEffects wires the round lifecycle handlers into d.
func (m *Manager) RegisterSideEffects(d *Dispatcher) {
	d.Register(EventRoundResolved, "broadcast", m.broadcastResolution)
	d.Register(EventRoundResolved, "winner_achievement", m.awardWinner)
	d.Register(EventRoundResolved, "next_round", m.openNextRound)
	d.Register(EventBonusWordClaimed, "bonus_reward", m.issueBonusReward)
}

func (m *Manager) broadcastResolution(ctx context.Context, ev Event) error {
	r, err := m.store.Round(ctx, ev.RoundID)
	if err != nil {
		return err
	}
	m.hub.Broadcast(Message{
		Type:    "round_resolved",
		RoundID: r.ID,
		Data: map[string]interface{}{
			"winner_id":  r.WinnerID,
			"prize_pool": r.PrizePool,
		},
	})
	return nil
}

func (m *Manager) awardWinner(ctx context.Context, ev Event) error {
	if ev.PlayerID == 0 {
		return nil
	}
	awarded, err := m.store.AwardAchievement(ctx, ev.PlayerID, ACHIEVEMENT_WINNER, ev.RoundID)
	if err != nil {
		return err
	}
	if awarded {
		m.log.Info("achievement awarded", "player_id", ev.PlayerID, "kind", ACHIEVEMENT_WINNER, "round_id", ev.RoundID)
	}
	return nil
}

// openNextRound hands off the resolved round's payouts and opens the next
// round. Opening settles the round first if the hand-off did not record it.
func (m *Manager) openNextRound(ctx context.Context, ev Event) error {
	r, err := m.store.Round(ctx, ev.RoundID)
	if err != nil {
		return err
	}
	if _, err := m.settle(ctx, r, true); err != nil {
		var ie *IntegrityError
		if errors.As(err, &ie) {
			return err
		}
		// CreateRound records missing payouts again before carrying the seed
		m.log.Warn("payout hand-off from outbox failed", "round_id", r.ID, "error", err)
	}

	next, err := m.CreateRound(ctx, CreateOptions{})
	if errors.Is(err, ErrActiveRoundExists) || errors.Is(err, ErrSeedAlreadyCarried) {
		return nil
	}
	if err != nil {
		return err
	}
	m.log.Info("next round opened", "previous_round_id", r.ID, "round_id", next.ID)
	return nil
}

func (m *Manager) issueBonusReward(ctx context.Context, ev Event) error {
	var reward BonusReward
	if err := json.Unmarshal(ev.Payload, &reward); err != nil {
		return fmt.Errorf("decode bonus reward: %w", err)
	}
	return m.rewards.IssueBonusReward(ctx, reward)
}
