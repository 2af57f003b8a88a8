package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"wordpot/internal/metrics"
)

// settle computes and records a resolved round's payouts. When execute is
// set and this call created the records, the transferable ones are handed
// to the payout executor. Records written by an earlier call are returned
// untouched so a payout is never sent twice.
func (m *Manager) settle(ctx context.Context, r *Round, execute bool) ([]Payout, error) {
	payouts, created, err := m.ensurePayouts(ctx, r)
	if err != nil {
		return payouts, err
	}
	if !created || !execute {
		return payouts, nil
	}
	return m.executePayouts(ctx, r.ID, payouts)
}

func (m *Manager) ensurePayouts(ctx context.Context, r *Round) ([]Payout, bool, error) {
	existing, err := m.store.Payouts(ctx, r.ID)
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 {
		return existing, false, nil
	}

	top, err := m.store.TopGuessers(ctx, r.ID, m.econ.TopGuesserLockThreshold, m.econ.TopGuesserSlots(), r.WinnerID)
	if err != nil {
		return nil, false, fmt.Errorf("rank top guessers: %w", err)
	}
	payouts, err := SplitJackpot(m.econ, JackpotInput{
		RoundID:          r.ID,
		Pool:             r.PrizePool,
		SeedForNextRound: r.SeedForNextRound,
		WinnerID:         r.WinnerID,
		ReferrerID:       r.ReferrerID,
		TopGuessers:      top,
	})
	if err != nil {
		var ie *IntegrityError
		if errors.As(err, &ie) {
			m.integrityViolation(ctx, ie)
		}
		return nil, false, err
	}
	if len(payouts) == 0 {
		m.log.Info("zero jackpot, no payouts", "round_id", r.ID)
		return nil, false, nil
	}

	for i := range payouts {
		if !payouts[i].Transferable() {
			continue
		}
		addr, err := m.addressFor(ctx, r.ID, payouts[i].PlayerID)
		if err != nil {
			return nil, false, err
		}
		payouts[i].Address = addr
	}

	created, err := m.store.RecordPayouts(ctx, r.ID, payouts)
	if err != nil {
		return nil, false, fmt.Errorf("record payouts: %w", err)
	}
	if !created {
		existing, err := m.store.Payouts(ctx, r.ID)
		return existing, false, err
	}

	for _, p := range payouts {
		if p.Role != RoleCreator {
			continue
		}
		if err := m.store.CreditLedger(ctx, p.Amount, "creator_share"); err != nil {
			m.log.Error("ledger credit failed", "round_id", r.ID, "amount", p.Amount.String(), "error", err)
		}
	}
	return payouts, true, nil
}

// addressFor returns the wallet bound to the player for the round, falling
// back to the identity resolver for players who never guessed in it.
func (m *Manager) addressFor(ctx context.Context, roundID int64, id PlayerID) (string, error) {
	addr, err := m.store.WalletFor(ctx, roundID, id)
	if err != nil {
		return "", err
	}
	if addr != "" {
		return addr, nil
	}
	p, err := m.resolver.ResolvePlayer(ctx, id)
	if err != nil {
		return "", fmt.Errorf("resolve payout address for player %d: %w", id, err)
	}
	return p.Address, nil
}

// executePayouts hands pending or failed transfers to the executor. On
// failure the records are marked failed and the round stays resolved.
func (m *Manager) executePayouts(ctx context.Context, roundID int64, payouts []Payout) ([]Payout, error) {
	var transfers []Transfer
	for _, p := range payouts {
		if !p.Transferable() || p.Status == PayoutSubmitted {
			continue
		}
		transfers = append(transfers, Transfer{Address: p.Address, Amount: p.Amount, Role: p.Role})
	}
	if len(transfers) == 0 {
		return payouts, nil
	}

	var ref string
	op := func() error {
		var err error
		ref, err = m.payouts.ExecutePayouts(ctx, roundID, transfers)
		return err
	}
	notify := func(err error, wait time.Duration) {
		m.log.Warn("payout execution retry", "round_id", roundID, "error", err, "wait", wait)
	}
	err := backoff.RetryNotify(op, backoff.WithContext(m.newBackOff(), ctx), notify)

	status := PayoutSubmitted
	if err != nil {
		status = PayoutFailed
		metrics.PayoutExecutionsTotal.WithLabelValues("failed").Inc()
		m.log.Error("payout execution failed", "round_id", roundID, "transfers", len(transfers), "error", err)
	} else {
		metrics.PayoutExecutionsTotal.WithLabelValues("submitted").Inc()
		m.log.Info("payouts submitted", "round_id", roundID, "transfers", len(transfers), "settlement_ref", ref)
	}
	if merr := m.store.MarkPayouts(ctx, roundID, status, ref); merr != nil {
		m.log.Error("mark payouts failed", "round_id", roundID, "status", status, "error", merr)
	}
	for i := range payouts {
		if payouts[i].Transferable() && payouts[i].Status != PayoutSubmitted {
			payouts[i].Status = status
			payouts[i].SettlementRef = ref
		}
	}
	if err != nil {
		return payouts, fmt.Errorf("execute payouts for round %d: %w", roundID, err)
	}
	return payouts, nil
}

// SettleRound records any missing payouts for a resolved round and retries
// transfers that are still pending or failed. Operator path.
func (m *Manager) SettleRound(ctx context.Context, roundID int64) ([]Payout, error) {
	r, err := m.store.Round(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if r.Status != RoundResolved {
		return nil, fmt.Errorf("round %d is %s: %w", roundID, r.Status, ErrRoundNotResolved)
	}
	payouts, _, err := m.ensurePayouts(ctx, r)
	if err != nil {
		return payouts, err
	}
	return m.executePayouts(ctx, roundID, payouts)
}

// Resolve sets a round's winner outside the guess path. The second call on
// the same round fails with ErrAlreadyResolved and records nothing.
func (m *Manager) Resolve(ctx context.Context, roundID int64, winnerID, referrerID PlayerID) (*Round, error) {
	r, err := m.store.Resolve(ctx, roundID, winnerID, EffectiveReferrer(winnerID, referrerID), m.clock.Now())
	if err != nil {
		return nil, err
	}
	metrics.RoundsResolvedTotal.Inc()
	if _, err := m.settle(ctx, r, true); err != nil {
		m.log.Error("settlement after resolve failed", "round_id", roundID, "error", err)
	}
	m.invalidate(ctx, roundID, true)
	return r, nil
}
