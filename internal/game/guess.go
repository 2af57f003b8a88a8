package game

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"cosmossdk.io/math"

	"wordpot/internal/fair"
	"wordpot/internal/metrics"
	"wordpot/internal/words"
)

// ValidateWord normalizes a guess and runs the format and dictionary checks.
func (m *Manager) ValidateWord(raw string) (string, error) {
	word := fair.NormalizeWord(raw)
	if utf8.RuneCountInString(word) != words.WORD_LENGTH {
		return "", &InvalidWordError{Word: word, Reason: ReasonLength}
	}
	for i := 0; i < len(word); i++ {
		if word[i] < 'A' || word[i] > 'Z' {
			return "", &InvalidWordError{Word: word, Reason: ReasonAlphabetic}
		}
	}
	if !m.catalog.IsValidGuess(word) {
		return "", &InvalidWordError{Word: word, Reason: ReasonNotInDictionary}
	}
	return word, nil
}

// SubmitGuess runs one guess through validation, deduplication and
// classification. A correct guess resolves the round.
func (m *Manager) SubmitGuess(ctx context.Context, req GuessRequest) (out *GuessOutcome, err error) {
	start := m.clock.Now()
	defer func() {
		metrics.GuessDuration.Observe(m.clock.Since(start).Seconds())
		metrics.GuessesTotal.WithLabelValues(guessOutcomeLabel(out, err)).Inc()
	}()

	if req.PlayerID <= 0 {
		return nil, ErrInvalidPlayer
	}
	word, err := m.ValidateWord(req.Word)
	if err != nil {
		return nil, err
	}

	round, err := m.store.ActiveRound(ctx)
	if err != nil {
		return nil, err
	}
	if !round.IsActive() {
		return nil, ErrRoundClosed
	}
	answer, err := m.revealAnswer(ctx, round)
	if err != nil {
		return nil, err
	}

	player, err := m.resolver.ResolvePlayer(ctx, req.PlayerID)
	if err != nil {
		return nil, fmt.Errorf("resolve player %d: %w", req.PlayerID, err)
	}

	if word == answer {
		return m.resolveWinner(ctx, round.ID, player, word, req.Paid)
	}
	return m.recordGuess(ctx, round.ID, player, word, req.Paid)
}

func (m *Manager) recordGuess(ctx context.Context, roundID int64, player Player, word string, paid bool) (*GuessOutcome, error) {
	now := m.clock.Now()
	out := &GuessOutcome{Status: GuessIncorrect, RoundID: roundID, Word: word}

	err := m.store.InTx(ctx, func(tx Tx) error {
		eliminated, err := tx.IsEliminated(ctx, roundID, word)
		if err != nil {
			return err
		}
		if eliminated {
			return &AlreadyGuessedError{Word: word}
		}

		seq, err := tx.NextSequenceIndex(ctx, roundID)
		if err != nil {
			return err
		}
		if _, err := tx.BindWallet(ctx, roundID, player.ID, player.Address); err != nil {
			return err
		}

		idx, bonus, err := tx.ClaimBonusWord(ctx, roundID, word, player.ID, now)
		if err != nil {
			return err
		}

		g := &Guess{
			RoundID:     roundID,
			PlayerID:    player.ID,
			Word:        word,
			Paid:        paid,
			IsBonusWord: bonus,
			Seq:         SequenceIndex(seq),
			CreatedAt:   now,
		}
		if err := tx.InsertGuess(ctx, g); err != nil {
			if errors.Is(err, ErrDuplicateGuess) {
				return &AlreadyGuessedError{Word: word}
			}
			return err
		}

		if paid {
			if _, err := tx.Accrue(ctx, roundID, m.accrual); err != nil {
				return err
			}
		}

		if bonus {
			out.Status = GuessBonus
			out.BonusWordIndex = &idx
			err := tx.EnqueueEvent(ctx, Event{
				Type:     EventBonusWordClaimed,
				RoundID:  roundID,
				PlayerID: player.ID,
				Payload: mustJSON(BonusReward{
					RoundID:   roundID,
					PlayerID:  player.ID,
					WordIndex: idx,
					Units:     m.econ.BonusRewardUnits,
				}),
			})
			if err != nil {
				return err
			}
		}

		n, err := tx.PlayerGuessCount(ctx, roundID, player.ID)
		if err != nil {
			return err
		}
		out.SequenceIndex = seq
		out.PlayerGuessCount = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.invalidate(ctx, roundID, false)
	m.hub.Broadcast(Message{
		Type:    "guess",
		RoundID: roundID,
		Data: map[string]interface{}{
			"word":           word,
			"sequence_index": out.SequenceIndex,
			"bonus":          out.Status == GuessBonus,
		},
	})
	return out, nil
}

// resolveWinner is the only path that can set a round's winner. The round
// row lock is held from the active check until the winner is written.
func (m *Manager) resolveWinner(ctx context.Context, roundID int64, player Player, word string, paid bool) (*GuessOutcome, error) {
	now := m.clock.Now()
	out := &GuessOutcome{Status: GuessCorrect, RoundID: roundID, Word: word, WinnerID: player.ID}
	var resolved *Round

	err := m.store.InTx(ctx, func(tx Tx) error {
		locked, err := tx.ActiveRoundForUpdate(ctx)
		if err != nil {
			return err
		}
		if locked == nil || locked.ID != roundID || !locked.IsActive() {
			return ErrRoundAlreadyResolved
		}

		seq, err := tx.NextSequenceIndex(ctx, roundID)
		if err != nil {
			return err
		}
		if _, err := tx.BindWallet(ctx, roundID, player.ID, player.Address); err != nil {
			return err
		}
		g := &Guess{
			RoundID:   roundID,
			PlayerID:  player.ID,
			Word:      word,
			Paid:      paid,
			Correct:   true,
			Seq:       SequenceIndex(seq),
			CreatedAt: now,
		}
		if err := tx.InsertGuess(ctx, g); err != nil {
			return err
		}
		if paid {
			if _, err := tx.Accrue(ctx, roundID, m.accrual); err != nil {
				return err
			}
		}

		referrer := EffectiveReferrer(player.ID, player.ReferrerID)
		resolved, err = tx.SetWinner(ctx, roundID, player.ID, referrer, now)
		if errors.Is(err, ErrAlreadyResolved) {
			return ErrRoundAlreadyResolved
		}
		if err != nil {
			return err
		}
		out.SequenceIndex = seq

		return tx.EnqueueEvent(ctx, Event{
			Type:     EventRoundResolved,
			RoundID:  roundID,
			PlayerID: player.ID,
			Payload: mustJSON(map[string]interface{}{
				"winner_id":   player.ID,
				"referrer_id": referrer,
				"prize_pool":  resolved.PrizePool,
			}),
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.RoundsResolvedTotal.Inc()
	m.log.Info("round resolved",
		"round_id", roundID,
		"winner_id", player.ID,
		"referrer_id", resolved.ReferrerID,
		"prize_pool", resolved.PrizePool.String(),
		"sequence_index", out.SequenceIndex)

	// The win is committed. Nothing below may undo it, including the
	// caller going away.
	settleCtx := context.WithoutCancel(ctx)
	payouts, perr := m.settle(settleCtx, resolved, true)
	out.Payouts = payouts
	if perr != nil {
		out.PayoutError = perr.Error()
	}

	m.invalidate(settleCtx, roundID, true)
	return out, nil
}

func (m *Manager) accrual(currentSeed math.Int) Accrual {
	return Accrue(m.econ, currentSeed)
}

func guessOutcomeLabel(out *GuessOutcome, err error) string {
	switch {
	case err == nil && out != nil:
		return string(out.Status)
	case IsValidation(err):
		return "rejected"
	case IsConflict(err):
		return "conflict"
	case errors.Is(err, ErrInvalidPlayer), errors.Is(err, ErrUnknownPlayer):
		return "rejected"
	}
	return "error"
}
