package game

import (
	"sort"
	"time"
)

// RankTopGuessers ranks players by paid guesses whose sequence index is at
// or below lockThreshold. Guesses after the lock still count for winning but
// not for rank. Ties go to the earlier first qualifying guess.
func RankTopGuessers(guesses []Guess, lockThreshold, limit int, exclude PlayerID) []TopGuesser {
	type tally struct {
		count int
		first time.Time
	}
	tallies := make(map[PlayerID]*tally)
	for _, g := range guesses {
		if !g.Paid || g.PlayerID == exclude || !g.Seq.EligibleUnder(lockThreshold) {
			continue
		}
		t, ok := tallies[g.PlayerID]
		if !ok {
			t = &tally{first: g.CreatedAt}
			tallies[g.PlayerID] = t
		}
		t.count++
		if g.CreatedAt.Before(t.first) {
			t.first = g.CreatedAt
		}
	}

	out := make([]TopGuesser, 0, len(tallies))
	for id, t := range tallies {
		out = append(out, TopGuesser{PlayerID: id, PaidGuesses: t.count, FirstGuessAt: t.first})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PaidGuesses != out[j].PaidGuesses {
			return out[i].PaidGuesses > out[j].PaidGuesses
		}
		if !out[i].FirstGuessAt.Equal(out[j].FirstGuessAt) {
			return out[i].FirstGuessAt.Before(out[j].FirstGuessAt)
		}
		return out[i].PlayerID < out[j].PlayerID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
