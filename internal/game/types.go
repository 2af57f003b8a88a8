package game

import (
	"encoding/json"
	"time"

	"cosmossdk.io/math"

	"wordpot/internal/fair"
)

// PlayerID identifies a player on the social platform. Zero means "none".
type PlayerID int64

type RoundStatus string

const (
	RoundActive    RoundStatus = "active"
	RoundResolved  RoundStatus = "resolved"
	RoundCancelled RoundStatus = "cancelled"
)

type Round struct {
	ID               int64        `json:"round_id"`
	Status           RoundStatus  `json:"status"`
	Answer           PackedAnswer `json:"-"` // never exposed
	Salt             fair.Salt    `json:"-"` // revealed only after resolution
	CommitHash       string       `json:"commit_hash"`
	CommitProfile    fair.Profile `json:"commit_profile"`
	BonusRoot        string       `json:"bonus_root,omitempty"`
	PrizePool        math.Int     `json:"prize_pool"`
	SeedForNextRound math.Int     `json:"seed_for_next_round"`
	GuessCount       int          `json:"guess_count"`
	WinnerID         PlayerID     `json:"winner_id,omitempty"`
	ReferrerID       PlayerID     `json:"referrer_id,omitempty"`
	StartedAt        time.Time    `json:"started_at"`
	ResolvedAt       *time.Time   `json:"resolved_at,omitempty"`
	// SeedCarriedInto is the round that received this round's seed, once.
	SeedCarriedInto int64 `json:"seed_carried_into,omitempty"`
}

func (r *Round) IsActive() bool {
	return r != nil && r.Status == RoundActive && r.WinnerID == 0
}

func (r *Round) Clone() *Round {
	if r == nil {
		return nil
	}
	c := *r
	if r.ResolvedAt != nil {
		at := *r.ResolvedAt
		c.ResolvedAt = &at
	}
	return &c
}

// BonusWord is a secondary committed word that pays a side reward once.
type BonusWord struct {
	RoundID   int64      `json:"round_id"`
	Index     int        `json:"index"`
	Word      string     `json:"-"`
	Salt      fair.Salt  `json:"-"`
	Hash      string     `json:"hash"`
	ClaimedBy PlayerID   `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

// Ordinal is a guess's position in its round. Rows written before sequence
// indexing existed carry no index; they are the legacy variant and are
// always leaderboard eligible. New guesses are always indexed.
type Ordinal struct {
	index int
	known bool
}

func SequenceIndex(i int) Ordinal { return Ordinal{index: i, known: true} }

func LegacyOrdinal() Ordinal { return Ordinal{} }

func (o Ordinal) Index() (int, bool) { return o.index, o.known }

func (o Ordinal) Legacy() bool { return !o.known }

// EligibleUnder reports whether the guess counts toward leaderboard rank.
func (o Ordinal) EligibleUnder(lockThreshold int) bool {
	return o.Legacy() || o.index <= lockThreshold
}

func (o Ordinal) MarshalJSON() ([]byte, error) {
	if !o.known {
		return []byte("null"), nil
	}
	return json.Marshal(o.index)
}

type Guess struct {
	ID          int64     `json:"id"`
	RoundID     int64     `json:"round_id"`
	PlayerID    PlayerID  `json:"player_id"`
	Word        string    `json:"word"`
	Paid        bool      `json:"paid"`
	Correct     bool      `json:"correct"`
	IsBonusWord bool      `json:"is_bonus_word"`
	Seq         Ordinal   `json:"sequence_index"`
	CreatedAt   time.Time `json:"created_at"`
}

type PayoutRole string

const (
	RoleWinner     PayoutRole = "winner"
	RoleReferrer   PayoutRole = "referrer"
	RoleTopGuesser PayoutRole = "top_guesser"
	RoleSeed       PayoutRole = "seed"
	RoleCreator    PayoutRole = "creator"
)

type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutSubmitted PayoutStatus = "submitted"
	PayoutFailed    PayoutStatus = "failed"
	// Seed and creator records never leave the system.
	PayoutInternal PayoutStatus = "internal"
)

// Payout is one row of a round's resolution split. PlayerID is zero for the
// seed and creator roles; Rank is set for top guessers only.
type Payout struct {
	RoundID       int64        `json:"round_id"`
	Role          PayoutRole   `json:"role"`
	PlayerID      PlayerID     `json:"player_id,omitempty"`
	Rank          int          `json:"rank,omitempty"`
	Address       string       `json:"address,omitempty"`
	Amount        math.Int     `json:"amount"`
	Status        PayoutStatus `json:"status"`
	SettlementRef string       `json:"settlement_ref,omitempty"`
}

// Transferable reports whether the payout is sent on-chain.
func (p Payout) Transferable() bool {
	switch p.Role {
	case RoleWinner, RoleReferrer, RoleTopGuesser:
		return true
	}
	return false
}

// Transfer is what the payout-execution service receives.
type Transfer struct {
	Address string     `json:"address"`
	Amount  math.Int   `json:"amount"`
	Role    PayoutRole `json:"role"`
}

type TopGuesser struct {
	Rank         int       `json:"rank"`
	PlayerID     PlayerID  `json:"player_id"`
	PaidGuesses  int       `json:"paid_guesses"`
	FirstGuessAt time.Time `json:"first_guess_at"`
}

type GuessRequest struct {
	PlayerID PlayerID `json:"player_id"`
	Word     string   `json:"word"`
	Paid     bool     `json:"paid"`
}

type GuessStatus string

const (
	GuessCorrect   GuessStatus = "correct"
	GuessBonus     GuessStatus = "bonus"
	GuessIncorrect GuessStatus = "incorrect"
)

type GuessOutcome struct {
	Status           GuessStatus `json:"status"`
	RoundID          int64       `json:"round_id"`
	Word             string      `json:"word"`
	SequenceIndex    int         `json:"sequence_index"`
	PlayerGuessCount int         `json:"player_guess_count,omitempty"`
	WinnerID         PlayerID    `json:"winner_id,omitempty"`
	BonusWordIndex   *int        `json:"bonus_word_index,omitempty"`
	Payouts          []Payout    `json:"payouts,omitempty"`
	// PayoutError is set when the round was won but the payout hand-off
	// failed. The win stands; an operator settles the pending payouts.
	PayoutError string `json:"payout_error,omitempty"`
}

type RoundSummary struct {
	RoundID         int64     `json:"round_id"`
	PrizePool       math.Int  `json:"prize_pool"`
	TotalGuessCount int       `json:"total_guess_count"`
	CommitHash      string    `json:"commit_hash"`
	StartedAt       time.Time `json:"started_at"`
}

// CreateOptions control CreateRound. ForcedAnswer must be in the answer set.
// SkipActiveCheck is honoured only by isolated simulation stores.
type CreateOptions struct {
	ForcedAnswer    string
	SkipActiveCheck bool
}

// NewRound is what the store persists when a round opens.
type NewRound struct {
	Answer        PackedAnswer
	Salt          fair.Salt
	CommitHash    string
	CommitProfile fair.Profile
	BonusRoot     string
	BonusWords    []BonusWord
	OpeningPool   math.Int
	// SeedFrom marks the closed round whose seed makes up OpeningPool. The
	// store claims it in the same transaction as the insert.
	SeedFrom        int64
	StartedAt       time.Time
	SkipActiveCheck bool
}

// Player is the identity resolver's view of a player.
type Player struct {
	ID         PlayerID
	Address    string
	ReferrerID PlayerID
}

// Reveal is published once a round is resolved so anyone can check the
// commitment.
type Reveal struct {
	RoundID    int64         `json:"round_id"`
	CommitHash string        `json:"commit_hash"`
	Profile    fair.Profile  `json:"profile"`
	BonusRoot  string        `json:"bonus_root,omitempty"`
	Bonus      []BonusReveal `json:"bonus,omitempty"`
	Word       string        `json:"word,omitempty"`
	Salt       fair.Salt     `json:"salt,omitempty"`
}

type BonusReveal struct {
	Index     int       `json:"index"`
	Hash      string    `json:"hash"`
	Word      string    `json:"word,omitempty"`
	Salt      fair.Salt `json:"salt,omitempty"`
	ClaimedBy PlayerID  `json:"claimed_by,omitempty"`
}
