package game

import (
	"fmt"

	"cosmossdk.io/math"

	"wordpot/internal/config"
)

// Accrual is how one paid guess's price is distributed.
type Accrual struct {
	ToPool   math.Int
	ToSeed   math.Int
	ToLedger math.Int
}

// Accrue splits the guess price into the prize-pool fraction and the seed
// fraction. Seed beyond the cap overflows to the operator ledger.
func Accrue(econ config.Economics, currentSeed math.Int) Accrual {
	toPool := bps(econ.GuessPriceWei, econ.GuessPoolShareBps)
	seedPart := econ.GuessPriceWei.Sub(toPool)
	toSeed, overflow := capSeed(econ.SeedCapWei, currentSeed, seedPart)
	return Accrual{ToPool: toPool, ToSeed: toSeed, ToLedger: overflow}
}

// capSeed returns how much of amount fits under cap given current, and the
// overflow.
func capSeed(capWei, current, amount math.Int) (toSeed, overflow math.Int) {
	room := capWei.Sub(current)
	if room.IsNegative() {
		room = math.ZeroInt()
	}
	if amount.LTE(room) {
		return amount, math.ZeroInt()
	}
	return room, amount.Sub(room)
}

func bps(amount math.Int, share int64) math.Int {
	return amount.MulRaw(share).QuoRaw(config.BPS_DENOMINATOR)
}

type JackpotInput struct {
	RoundID          int64
	Pool             math.Int
	SeedForNextRound math.Int
	WinnerID         PlayerID
	ReferrerID       PlayerID
	TopGuessers      []TopGuesser
}

// EffectiveReferrer treats self-referral like no referrer.
func EffectiveReferrer(winner, referrer PlayerID) PlayerID {
	if referrer <= 0 || referrer == winner {
		return 0
	}
	return referrer
}

// SplitJackpot computes the payout records for a resolved round. The
// records always sum to the pool exactly; integer remainders go to the
// winner. A zero pool yields no records.
func SplitJackpot(econ config.Economics, in JackpotInput) ([]Payout, error) {
	if in.Pool.IsNil() || in.Pool.IsZero() {
		return nil, nil
	}
	if in.Pool.IsNegative() {
		return nil, &IntegrityError{Kind: IntegrityPayoutSum, RoundID: in.RoundID, Detail: "negative prize pool"}
	}
	seedNow := in.SeedForNextRound
	if seedNow.IsNil() {
		seedNow = math.ZeroInt()
	}

	pool := in.Pool
	referrer := EffectiveReferrer(in.WinnerID, in.ReferrerID)

	winnerAmt := bps(pool, econ.WinnerShareBps)
	referrerAmt := math.ZeroInt()
	seedBound := math.ZeroInt()
	var topPool math.Int
	if referrer != 0 {
		referrerAmt = bps(pool, econ.ReferrerShareBps)
		topPool = bps(pool, econ.TopGuesserShareBps)
	} else {
		topPool = bps(pool, econ.TopGuesserShareBps+econ.NoReferrerToTopGuessersBps)
		seedBound = bps(pool, econ.NoReferrerToSeedBps)
	}
	seedAmt, creatorAmt := capSeed(econ.SeedCapWei, seedNow, seedBound)

	guessers := in.TopGuessers
	if n := econ.TopGuesserSlots(); len(guessers) > n {
		guessers = guessers[:n]
	}
	tiers := distributeTiers(topPool, econ.TopGuesserTiersBps, len(guessers))
	if len(guessers) == 0 {
		winnerAmt = winnerAmt.Add(topPool)
	}

	allocated := winnerAmt.Add(referrerAmt).Add(seedAmt).Add(creatorAmt)
	for _, t := range tiers {
		allocated = allocated.Add(t)
	}
	winnerAmt = winnerAmt.Add(pool.Sub(allocated))

	payouts := []Payout{{RoundID: in.RoundID, Role: RoleWinner, PlayerID: in.WinnerID, Amount: winnerAmt}}
	if referrerAmt.IsPositive() {
		payouts = append(payouts, Payout{RoundID: in.RoundID, Role: RoleReferrer, PlayerID: referrer, Amount: referrerAmt})
	}
	for i, amt := range tiers {
		if !amt.IsPositive() {
			continue
		}
		payouts = append(payouts, Payout{
			RoundID:  in.RoundID,
			Role:     RoleTopGuesser,
			PlayerID: guessers[i].PlayerID,
			Rank:     i + 1,
			Amount:   amt,
		})
	}
	if seedAmt.IsPositive() {
		payouts = append(payouts, Payout{RoundID: in.RoundID, Role: RoleSeed, Amount: seedAmt})
	}
	if creatorAmt.IsPositive() {
		payouts = append(payouts, Payout{RoundID: in.RoundID, Role: RoleCreator, Amount: creatorAmt})
	}

	for i := range payouts {
		payouts[i].Status = PayoutPending
		if !payouts[i].Transferable() {
			payouts[i].Status = PayoutInternal
		}
	}

	if err := CheckPayoutSum(in.RoundID, pool, payouts); err != nil {
		return nil, err
	}
	return payouts, nil
}

// distributeTiers splits pool over the first n tiers, renormalized so the
// present ranks receive all of it. Rank 1 absorbs the remainder.
func distributeTiers(pool math.Int, tiersBps []int64, n int) []math.Int {
	if n > len(tiersBps) {
		n = len(tiersBps)
	}
	if n <= 0 {
		return nil
	}
	var denom int64
	for _, t := range tiersBps[:n] {
		denom += t
	}

	out := make([]math.Int, n)
	sum := math.ZeroInt()
	for i := 0; i < n; i++ {
		out[i] = pool.MulRaw(tiersBps[i]).QuoRaw(denom)
		sum = sum.Add(out[i])
	}
	out[0] = out[0].Add(pool.Sub(sum))
	return out
}

// CheckPayoutSum verifies the core money invariant.
func CheckPayoutSum(roundID int64, pool math.Int, payouts []Payout) error {
	sum := math.ZeroInt()
	for _, p := range payouts {
		if p.Amount.IsNegative() {
			return &IntegrityError{Kind: IntegrityPayoutSum, RoundID: roundID, Detail: fmt.Sprintf("negative %s payout", p.Role)}
		}
		sum = sum.Add(p.Amount)
	}
	if !sum.Equal(pool) {
		return &IntegrityError{
			Kind:    IntegrityPayoutSum,
			RoundID: roundID,
			Detail:  fmt.Sprintf("payouts sum to %s, prize pool is %s", sum, pool),
		}
	}
	return nil
}

// SeedPayout sums the seed records of a resolution.
func SeedPayout(payouts []Payout) math.Int {
	total := math.ZeroInt()
	for _, p := range payouts {
		if p.Role == RoleSeed {
			total = total.Add(p.Amount)
		}
	}
	return total
}
