package game

import (
	"context"
	"encoding/json"
	"time"

	"cosmossdk.io/math"
)

// Store is the round state store. Implementations must enforce the single
// active round invariant themselves (unique index or equivalent), not rely
// on callers.
type Store interface {
	// InTx runs fn in one transaction. Any error or panic rolls it back.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// ActiveRound returns nil, nil when no round is active.
	ActiveRound(ctx context.Context) (*Round, error)
	Round(ctx context.Context, id int64) (*Round, error)
	// LatestClosedRound is the most recent resolved or cancelled round, or nil.
	LatestClosedRound(ctx context.Context) (*Round, error)

	CreateRound(ctx context.Context, nr NewRound) (*Round, error)
	Resolve(ctx context.Context, roundID int64, winnerID, referrerID PlayerID, at time.Time) (*Round, error)

	Wheel(ctx context.Context, roundID int64) ([]string, error)
	TopGuessers(ctx context.Context, roundID int64, lockThreshold, limit int, exclude PlayerID) ([]TopGuesser, error)
	BonusWords(ctx context.Context, roundID int64) ([]BonusWord, error)
	WalletFor(ctx context.Context, roundID int64, playerID PlayerID) (string, error)

	// RecordPayouts stores a resolution's payouts once. It reports false if
	// the round already has payout records.
	RecordPayouts(ctx context.Context, roundID int64, payouts []Payout) (bool, error)
	Payouts(ctx context.Context, roundID int64) ([]Payout, error)
	MarkPayouts(ctx context.Context, roundID int64, status PayoutStatus, settlementRef string) error

	CreditLedger(ctx context.Context, amount math.Int, reason string) error
	LedgerBalance(ctx context.Context) (math.Int, error)

	ClaimEvents(ctx context.Context, limit int) ([]Event, error)
	CompleteEvent(ctx context.Context, id string, handlerErr error) error

	// AwardAchievement reports false if the player already holds it.
	AwardAchievement(ctx context.Context, playerID PlayerID, kind string, roundID int64) (bool, error)
}

// Tx is the transactional view used by guess processing and resolution.
type Tx interface {
	// ActiveRoundForUpdate locks the active round row until the transaction
	// ends. Returns nil, nil when no round is active.
	ActiveRoundForUpdate(ctx context.Context) (*Round, error)

	IsEliminated(ctx context.Context, roundID int64, word string) (bool, error)
	// NextSequenceIndex atomically bumps the round's guess counter and
	// returns the new value. ErrRoundClosed if the round is not active.
	NextSequenceIndex(ctx context.Context, roundID int64) (int, error)
	// InsertGuess returns ErrDuplicateGuess if the word is already recorded
	// as a non-winning guess in the round.
	InsertGuess(ctx context.Context, g *Guess) error
	PlayerGuessCount(ctx context.Context, roundID int64, playerID PlayerID) (int, error)

	// Accrue applies a paid guess to the round's monetary fields. The
	// callback receives the current seed under the row lock.
	Accrue(ctx context.Context, roundID int64, split func(currentSeed math.Int) Accrual) (Accrual, error)
	CreditLedger(ctx context.Context, amount math.Int, reason string) error

	// ClaimBonusWord claims an unclaimed bonus word. ok is false when the word
	// is not a bonus word of the round or is already claimed.
	ClaimBonusWord(ctx context.Context, roundID int64, word string, playerID PlayerID, at time.Time) (index int, ok bool, err error)

	// SetWinner writes winner, referrer snapshot and resolution time once.
	// ErrAlreadyResolved if the round already has a winner.
	SetWinner(ctx context.Context, roundID int64, winnerID, referrerID PlayerID, at time.Time) (*Round, error)

	// BindWallet records the player's payout address for the round on first
	// use and returns the bound address thereafter.
	BindWallet(ctx context.Context, roundID int64, playerID PlayerID, address string) (string, error)

	EnqueueEvent(ctx context.Context, ev Event) error
}

// Event types written to the outbox.
const (
	EventRoundResolved    = "round_resolved"
	EventBonusWordClaimed = "bonus_word_claimed"
	EventRoundOpened      = "round_opened"
)

// Event is a durable side-effect request, written in the same transaction as
// the state change that caused it.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	RoundID   int64           `json:"round_id"`
	PlayerID  PlayerID        `json:"player_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
}

// IdentityResolver maps a player to the payout address used for every
// operation concerning that player.
type IdentityResolver interface {
	ResolvePlayer(ctx context.Context, id PlayerID) (Player, error)
}

// PayoutExecutor hands transfers to the settlement service and returns its
// reference.
type PayoutExecutor interface {
	ExecutePayouts(ctx context.Context, roundID int64, transfers []Transfer) (string, error)
}

type BonusReward struct {
	RoundID   int64    `json:"round_id"`
	PlayerID  PlayerID `json:"player_id"`
	WordIndex int      `json:"word_index"`
	Units     int64    `json:"units"`
}

type RewardIssuer interface {
	IssueBonusReward(ctx context.Context, reward BonusReward) error
}

// Invalidator is the cache-invalidation sink. Round scope covers the views
// of one round; transition scope adds the active round pointer.
type Invalidator interface {
	InvalidateRound(ctx context.Context, roundID int64) error
	InvalidateTransition(ctx context.Context, oldRoundID int64) error
}

// ViewCache serves the read side. Misses are reported with ok=false.
type ViewCache interface {
	GetSummary(ctx context.Context) (*RoundSummary, bool)
	SetSummary(ctx context.Context, s *RoundSummary)
	GetWheel(ctx context.Context, roundID int64) ([]string, bool)
	SetWheel(ctx context.Context, roundID int64, words []string)
}

type Alerter interface {
	Alert(ctx context.Context, err error, tags map[string]string)
}

type Broadcaster interface {
	Broadcast(message interface{})
}

// Catalog is the word lookup collaborator.
type Catalog interface {
	IsValidGuess(word string) bool
	IsValidAnswer(word string) bool
	PickRandomAnswer() (string, error)
	PickRandomAnswers(n int, exclude ...string) ([]string, error)
}
