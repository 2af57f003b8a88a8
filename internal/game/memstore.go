package game

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const memMaxEventAttempts = 5

type walletKey struct {
	round  int64
	player PlayerID
}

type achievementKey struct {
	player PlayerID
	kind   string
}

type memEvent struct {
	Event
	status  string
	lastErr string
}

// MemoryStore is an in-process Store for simulation tooling and tests.
// Transactions are serialized on one mutex and rolled back with an undo log.
// Unlike the Postgres store it honours NewRound.SkipActiveCheck.
type MemoryStore struct {
	mu    sync.Mutex
	clock clockwork.Clock

	nextRoundID int64
	nextGuessID int64
	rounds      map[int64]*Round
	roundOrder  []int64
	guesses     map[int64][]Guess
	bonus       map[int64][]BonusWord
	payouts     map[int64][]Payout
	wallets     map[walletKey]string
	events      []*memEvent
	awards      map[achievementKey]int64
	ledger      math.Int
}

func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock:   clock,
		rounds:  make(map[int64]*Round),
		guesses: make(map[int64][]Guess),
		bonus:   make(map[int64][]BonusWord),
		payouts: make(map[int64][]Payout),
		wallets: make(map[walletKey]string),
		awards:  make(map[achievementKey]int64),
		ledger:  math.ZeroInt(),
	}
}

type memTx struct {
	s    *MemoryStore
	undo []func()
}

func (tx *memTx) onRollback(f func()) { tx.undo = append(tx.undo, f) }

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	rollback := func() {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
	}
	defer func() {
		if r := recover(); r != nil {
			rollback()
			panic(r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err = fn(tx); err != nil {
		rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		rollback()
		return err
	}
	return nil
}

func (s *MemoryStore) activeLocked() *Round {
	for i := len(s.roundOrder) - 1; i >= 0; i-- {
		if r := s.rounds[s.roundOrder[i]]; r.Status == RoundActive {
			return r
		}
	}
	return nil
}

func (s *MemoryStore) ActiveRound(ctx context.Context) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked().Clone(), nil
}

func (s *MemoryStore) Round(ctx context.Context, id int64) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil, ErrRoundNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) LatestClosedRound(ctx context.Context) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.roundOrder) - 1; i >= 0; i-- {
		if r := s.rounds[s.roundOrder[i]]; r.Status != RoundActive {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) CreateRound(ctx context.Context, nr NewRound) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !nr.SkipActiveCheck && s.activeLocked() != nil {
		return nil, ErrActiveRoundExists
	}
	var from *Round
	if nr.SeedFrom != 0 {
		from = s.rounds[nr.SeedFrom]
		if from == nil {
			return nil, ErrRoundNotFound
		}
		if from.SeedCarriedInto != 0 {
			return nil, ErrSeedAlreadyCarried
		}
	}
	pool := nr.OpeningPool
	if pool.IsNil() {
		pool = math.ZeroInt()
	}
	started := nr.StartedAt
	if started.IsZero() {
		started = s.clock.Now()
	}

	s.nextRoundID++
	r := &Round{
		ID:               s.nextRoundID,
		Status:           RoundActive,
		Answer:           nr.Answer,
		Salt:             nr.Salt,
		CommitHash:       nr.CommitHash,
		CommitProfile:    nr.CommitProfile,
		BonusRoot:        nr.BonusRoot,
		PrizePool:        pool,
		SeedForNextRound: math.ZeroInt(),
		StartedAt:        started,
	}
	s.rounds[r.ID] = r
	s.roundOrder = append(s.roundOrder, r.ID)
	if from != nil {
		from.SeedCarriedInto = r.ID
	}

	bonus := make([]BonusWord, len(nr.BonusWords))
	for i, b := range nr.BonusWords {
		b.RoundID = r.ID
		bonus[i] = b
	}
	s.bonus[r.ID] = bonus

	return r.Clone(), nil
}

func (s *MemoryStore) Resolve(ctx context.Context, roundID int64, winnerID, referrerID PlayerID, at time.Time) (*Round, error) {
	var out *Round
	err := s.InTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.SetWinner(ctx, roundID, winnerID, referrerID, at)
		return err
	})
	return out, err
}

func (s *MemoryStore) Wheel(ctx context.Context, roundID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, g := range s.guesses[roundID] {
		if !g.Correct {
			out = append(out, g.Word)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) TopGuessers(ctx context.Context, roundID int64, lockThreshold, limit int, exclude PlayerID) ([]TopGuesser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RankTopGuessers(s.guesses[roundID], lockThreshold, limit, exclude), nil
}

// Guesses returns a copy of the round's guess log.
func (s *MemoryStore) Guesses(roundID int64) []Guess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Guess(nil), s.guesses[roundID]...)
}

// AppendLegacyGuess imports a guess row without a sequence index.
func (s *MemoryStore) AppendLegacyGuess(g Guess) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextGuessID++
	g.ID = s.nextGuessID
	g.Seq = LegacyOrdinal()
	s.guesses[g.RoundID] = append(s.guesses[g.RoundID], g)
}

func (s *MemoryStore) BonusWords(ctx context.Context, roundID int64) ([]BonusWord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]BonusWord(nil), s.bonus[roundID]...), nil
}

func (s *MemoryStore) WalletFor(ctx context.Context, roundID int64, playerID PlayerID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallets[walletKey{roundID, playerID}], nil
}

func (s *MemoryStore) RecordPayouts(ctx context.Context, roundID int64, payouts []Payout) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rounds[roundID]; !ok {
		return false, ErrRoundNotFound
	}
	if len(s.payouts[roundID]) > 0 {
		return false, nil
	}
	s.payouts[roundID] = append([]Payout(nil), payouts...)
	return true, nil
}

func (s *MemoryStore) Payouts(ctx context.Context, roundID int64) ([]Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Payout(nil), s.payouts[roundID]...), nil
}

func (s *MemoryStore) MarkPayouts(ctx context.Context, roundID int64, status PayoutStatus, settlementRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.payouts[roundID] {
		p := &s.payouts[roundID][i]
		if !p.Transferable() || p.Status == PayoutSubmitted {
			continue
		}
		p.Status = status
		p.SettlementRef = settlementRef
	}
	return nil
}

func (s *MemoryStore) CreditLedger(ctx context.Context, amount math.Int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = s.ledger.Add(amount)
	return nil
}

func (s *MemoryStore) LedgerBalance(ctx context.Context) (math.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger, nil
}

func (s *MemoryStore) ClaimEvents(ctx context.Context, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if len(out) >= limit {
			break
		}
		if e.status == "pending" || (e.status == "failed" && e.Attempts < memMaxEventAttempts) {
			e.status = "processing"
			e.Attempts++
			out = append(out, e.Event)
		}
	}
	return out, nil
}

func (s *MemoryStore) CompleteEvent(ctx context.Context, id string, handlerErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.ID != id {
			continue
		}
		if handlerErr != nil {
			e.status = "failed"
			e.lastErr = handlerErr.Error()
		} else {
			e.status = "done"
			e.lastErr = ""
		}
		return nil
	}
	return errors.New("event not found")
}

// PendingEvents counts events not yet completed.
func (s *MemoryStore) PendingEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.status != "done" {
			n++
		}
	}
	return n
}

func (s *MemoryStore) AwardAchievement(ctx context.Context, playerID PlayerID, kind string, roundID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := achievementKey{playerID, kind}
	if _, ok := s.awards[k]; ok {
		return false, nil
	}
	s.awards[k] = roundID
	return true, nil
}

// Tx

func (tx *memTx) ActiveRoundForUpdate(ctx context.Context) (*Round, error) {
	return tx.s.activeLocked().Clone(), nil
}

func (tx *memTx) IsEliminated(ctx context.Context, roundID int64, word string) (bool, error) {
	for _, g := range tx.s.guesses[roundID] {
		if !g.Correct && g.Word == word {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) NextSequenceIndex(ctx context.Context, roundID int64) (int, error) {
	r, ok := tx.s.rounds[roundID]
	if !ok {
		return 0, ErrRoundNotFound
	}
	if !r.IsActive() {
		return 0, ErrRoundClosed
	}
	r.GuessCount++
	tx.onRollback(func() { r.GuessCount-- })
	return r.GuessCount, nil
}

func (tx *memTx) InsertGuess(ctx context.Context, g *Guess) error {
	if !g.Correct {
		if dup, _ := tx.IsEliminated(ctx, g.RoundID, g.Word); dup {
			return ErrDuplicateGuess
		}
	}
	s := tx.s
	s.nextGuessID++
	g.ID = s.nextGuessID
	if g.CreatedAt.IsZero() {
		g.CreatedAt = s.clock.Now()
	}
	prev := s.guesses[g.RoundID]
	s.guesses[g.RoundID] = append(prev[:len(prev):len(prev)], *g)
	tx.onRollback(func() {
		s.guesses[g.RoundID] = prev
		s.nextGuessID--
	})
	return nil
}

func (tx *memTx) PlayerGuessCount(ctx context.Context, roundID int64, playerID PlayerID) (int, error) {
	n := 0
	for _, g := range tx.s.guesses[roundID] {
		if g.PlayerID == playerID {
			n++
		}
	}
	return n, nil
}

func (tx *memTx) Accrue(ctx context.Context, roundID int64, split func(currentSeed math.Int) Accrual) (Accrual, error) {
	r, ok := tx.s.rounds[roundID]
	if !ok {
		return Accrual{}, ErrRoundNotFound
	}
	a := split(r.SeedForNextRound)
	prevPool, prevSeed := r.PrizePool, r.SeedForNextRound
	r.PrizePool = r.PrizePool.Add(a.ToPool)
	r.SeedForNextRound = r.SeedForNextRound.Add(a.ToSeed)
	tx.onRollback(func() {
		r.PrizePool, r.SeedForNextRound = prevPool, prevSeed
	})
	if a.ToLedger.IsPositive() {
		if err := tx.CreditLedger(ctx, a.ToLedger, "seed_overflow"); err != nil {
			return Accrual{}, err
		}
	}
	return a, nil
}

func (tx *memTx) CreditLedger(ctx context.Context, amount math.Int, reason string) error {
	s := tx.s
	prev := s.ledger
	s.ledger = s.ledger.Add(amount)
	tx.onRollback(func() { s.ledger = prev })
	return nil
}

func (tx *memTx) ClaimBonusWord(ctx context.Context, roundID int64, word string, playerID PlayerID, at time.Time) (int, bool, error) {
	words := tx.s.bonus[roundID]
	for i := range words {
		b := &words[i]
		if b.Word != word || b.ClaimedBy != 0 {
			continue
		}
		b.ClaimedBy = playerID
		claimedAt := at
		b.ClaimedAt = &claimedAt
		tx.onRollback(func() {
			b.ClaimedBy = 0
			b.ClaimedAt = nil
		})
		return b.Index, true, nil
	}
	return 0, false, nil
}

func (tx *memTx) SetWinner(ctx context.Context, roundID int64, winnerID, referrerID PlayerID, at time.Time) (*Round, error) {
	r, ok := tx.s.rounds[roundID]
	if !ok {
		return nil, ErrRoundNotFound
	}
	if r.Status != RoundActive || r.WinnerID != 0 {
		return nil, ErrAlreadyResolved
	}
	prev := *r
	resolvedAt := at
	r.Status = RoundResolved
	r.WinnerID = winnerID
	r.ReferrerID = referrerID
	r.ResolvedAt = &resolvedAt
	tx.onRollback(func() { *r = prev })
	return r.Clone(), nil
}

func (tx *memTx) BindWallet(ctx context.Context, roundID int64, playerID PlayerID, address string) (string, error) {
	s := tx.s
	k := walletKey{roundID, playerID}
	if bound, ok := s.wallets[k]; ok {
		return bound, nil
	}
	s.wallets[k] = address
	tx.onRollback(func() { delete(s.wallets, k) })
	return address, nil
}

func (tx *memTx) EnqueueEvent(ctx context.Context, ev Event) error {
	s := tx.s
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.clock.Now()
	}
	s.events = append(s.events, &memEvent{Event: ev, status: "pending"})
	n := len(s.events)
	tx.onRollback(func() { s.events = s.events[:n-1] })
	return nil
}
