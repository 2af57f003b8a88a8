package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"cosmossdk.io/math"
	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"wordpot/internal/config"
	"wordpot/internal/fair"
	"wordpot/internal/metrics"
)

// Deps wires a Manager. Store, Catalog and Resolver are required; the rest
// fall back to no-op or logging implementations.
type Deps struct {
	Store       Store
	Catalog     Catalog
	Economics   config.Economics
	Committer   fair.Committer
	Codec       AnswerCodec
	Selector    AnswerSelector
	Resolver    IdentityResolver
	Payouts     PayoutExecutor
	Rewards     RewardIssuer
	Invalidator Invalidator
	Views       ViewCache
	Alerter     Alerter
	Hub         Broadcaster
	Clock       clockwork.Clock
	Log         *slog.Logger
	// PayoutBackOff builds the retry policy for one payout hand-off.
	PayoutBackOff func() backoff.BackOff
}

// Manager is the authority over round state and money movement.
type Manager struct {
	store       Store
	catalog     Catalog
	econ        config.Economics
	committer   fair.Committer
	codec       AnswerCodec
	selector    AnswerSelector
	resolver    IdentityResolver
	payouts     PayoutExecutor
	rewards     RewardIssuer
	invalidator Invalidator
	views       ViewCache
	alerter     Alerter
	hub         Broadcaster
	clock       clockwork.Clock
	log         *slog.Logger
	newBackOff  func() backoff.BackOff
}

func NewManager(d Deps) (*Manager, error) {
	if d.Store == nil || d.Catalog == nil || d.Resolver == nil {
		return nil, errors.New("game: store, catalog and resolver are required")
	}
	if err := d.Economics.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		store:       d.Store,
		catalog:     d.Catalog,
		econ:        d.Economics,
		committer:   d.Committer,
		codec:       d.Codec,
		selector:    d.Selector,
		resolver:    d.Resolver,
		payouts:     d.Payouts,
		rewards:     d.Rewards,
		invalidator: d.Invalidator,
		views:       d.Views,
		alerter:     d.Alerter,
		hub:         d.Hub,
		clock:       d.Clock,
		log:         d.Log,
		newBackOff:  d.PayoutBackOff,
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.log = m.log.With("component", "round_manager")
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.selector == nil {
		m.selector = RandomAnswer{}
	}
	if m.payouts == nil {
		m.payouts = LogPayouts{Log: m.log}
	}
	if m.rewards == nil {
		m.rewards = LogPayouts{Log: m.log}
	}
	if m.invalidator == nil {
		m.invalidator = NopCache{}
	}
	if m.views == nil {
		m.views = NopCache{}
	}
	if m.alerter == nil {
		m.alerter = logAlerter{log: m.log}
	}
	if m.hub == nil {
		m.hub = nopBroadcaster{}
	}
	if m.newBackOff == nil {
		m.newBackOff = func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
		}
	}
	return m, nil
}

func (m *Manager) Economics() config.Economics { return m.econ }

// CreateRound opens a new round unless one is active. The opening prize pool
// is the seed carried from the previous round.
func (m *Manager) CreateRound(ctx context.Context, opts CreateOptions) (*Round, error) {
	var word string
	if opts.ForcedAnswer != "" {
		word = fair.NormalizeWord(opts.ForcedAnswer)
	} else {
		picked, err := m.selector.SelectAnswer(ctx, m.catalog)
		if err != nil {
			return nil, fmt.Errorf("select answer: %w", err)
		}
		word = fair.NormalizeWord(picked)
	}
	if !m.catalog.IsValidAnswer(word) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAnswerWord, word)
	}

	if !opts.SkipActiveCheck {
		active, err := m.store.ActiveRound(ctx)
		if err != nil {
			return nil, err
		}
		if active != nil {
			return nil, ErrActiveRoundExists
		}
	}

	salt, hash, err := m.committer.CreateCommitment(word)
	if err != nil {
		// entropy failure
		return nil, err
	}

	prev, err := m.store.LatestClosedRound(ctx)
	if err != nil {
		return nil, err
	}
	if prev != nil && prev.SeedCarriedInto != 0 {
		prev = nil
	}
	return m.openRound(ctx, prev, word, salt, hash, opts.SkipActiveCheck)
}

// NextRoundFromSeed opens a round on a caller-made commitment, carrying the
// previous round's seed into the new round's prize pool. The previous round
// itself is not modified.
func (m *Manager) NextRoundFromSeed(ctx context.Context, prevRoundID int64, word string, salt fair.Salt, commitHash string) (int64, error) {
	prev, err := m.store.Round(ctx, prevRoundID)
	if err != nil {
		return 0, err
	}
	if prev.Status == RoundActive {
		return 0, ErrActiveRoundExists
	}
	if prev.SeedCarriedInto != 0 {
		return 0, fmt.Errorf("round %d seed went to round %d: %w", prev.ID, prev.SeedCarriedInto, ErrSeedAlreadyCarried)
	}
	word = fair.NormalizeWord(word)
	if !m.catalog.IsValidAnswer(word) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAnswerWord, word)
	}
	if !m.committer.VerifyCommit(salt, word, commitHash) {
		m.integrityViolation(ctx, &IntegrityError{Kind: IntegrityCommitment, RoundID: prevRoundID, Detail: "supplied commitment does not open to the next answer"})
	}

	r, err := m.openRound(ctx, prev, word, salt, commitHash, false)
	if err != nil {
		return 0, err
	}
	return r.ID, nil
}

// openRound opens a round whose pool is prev's carried seed. A resolved prev
// is settled first so its seed record exists before it is carried.
func (m *Manager) openRound(ctx context.Context, prev *Round, word string, salt fair.Salt, hash string, skipActiveCheck bool) (*Round, error) {
	opening := math.ZeroInt()
	var seedFrom int64
	if prev != nil && prev.Status != RoundActive {
		opening = prev.SeedForNextRound
		if prev.Status == RoundResolved {
			payouts, created, err := m.ensurePayouts(ctx, prev)
			if err != nil {
				return nil, fmt.Errorf("settle round %d before carrying its seed: %w", prev.ID, err)
			}
			if created {
				if _, err := m.executePayouts(context.WithoutCancel(ctx), prev.ID, payouts); err != nil {
					m.log.Warn("payout hand-off failed while opening next round", "round_id", prev.ID, "error", err)
				}
			}
			opening = opening.Add(SeedPayout(payouts))
		}
		seedFrom = prev.ID
	}

	packed, err := m.codec.Pack(word)
	if err != nil {
		return nil, err
	}
	bonus, root, err := m.commitBonusWords(word)
	if err != nil {
		return nil, err
	}

	r, err := m.store.CreateRound(ctx, NewRound{
		Answer:          packed,
		Salt:            salt,
		CommitHash:      hash,
		CommitProfile:   m.committer.Profile(),
		BonusRoot:       root,
		BonusWords:      bonus,
		OpeningPool:     opening,
		SeedFrom:        seedFrom,
		StartedAt:       m.clock.Now(),
		SkipActiveCheck: skipActiveCheck,
	})
	if err != nil {
		return nil, err
	}
	metrics.RoundsCreatedTotal.Inc()

	oldID := r.ID
	if prev != nil {
		oldID = prev.ID
	}
	m.invalidate(ctx, oldID, true)

	m.log.Info("round opened",
		"round_id", r.ID,
		"commit_hash", r.CommitHash,
		"opening_pool", r.PrizePool.String(),
		"bonus_words", len(bonus))

	m.hub.Broadcast(Message{
		Type:    "round_opened",
		RoundID: r.ID,
		Data: map[string]interface{}{
			"commit_hash": r.CommitHash,
			"bonus_root":  r.BonusRoot,
			"prize_pool":  r.PrizePool,
		},
	})
	return r, nil
}

func (m *Manager) commitBonusWords(answer string) ([]BonusWord, string, error) {
	if m.econ.BonusWordCount == 0 {
		return nil, "", nil
	}
	picked, err := m.catalog.PickRandomAnswers(m.econ.BonusWordCount, answer)
	if err != nil {
		return nil, "", fmt.Errorf("pick bonus words: %w", err)
	}
	set, err := m.committer.CommitSet(picked)
	if err != nil {
		return nil, "", err
	}
	bonus := make([]BonusWord, len(picked))
	for i, w := range picked {
		bonus[i] = BonusWord{Index: i, Word: w, Salt: set.Entries[i].Salt, Hash: set.Entries[i].Hash}
	}
	return bonus, set.Root, nil
}

// ActiveRoundSummary returns nil when no round is active.
func (m *Manager) ActiveRoundSummary(ctx context.Context) (*RoundSummary, error) {
	if s, ok := m.views.GetSummary(ctx); ok {
		return s, nil
	}
	r, err := m.store.ActiveRound(ctx)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, nil
	}
	s := &RoundSummary{
		RoundID:         r.ID,
		PrizePool:       r.PrizePool,
		TotalGuessCount: r.GuessCount,
		CommitHash:      r.CommitHash,
		StartedAt:       r.StartedAt,
	}
	m.views.SetSummary(ctx, s)
	return s, nil
}

// Wheel lists the words eliminated in a round.
func (m *Manager) Wheel(ctx context.Context, roundID int64) ([]string, error) {
	if w, ok := m.views.GetWheel(ctx, roundID); ok {
		return w, nil
	}
	w, err := m.store.Wheel(ctx, roundID)
	if err != nil {
		return nil, err
	}
	m.views.SetWheel(ctx, roundID, w)
	return w, nil
}

func (m *Manager) TopGuessers(ctx context.Context, roundID int64) ([]TopGuesser, error) {
	r, err := m.store.Round(ctx, roundID)
	if err != nil {
		return nil, err
	}
	return m.store.TopGuessers(ctx, roundID, m.econ.TopGuesserLockThreshold, m.econ.TopGuesserSlots(), r.WinnerID)
}

// Commitment publishes a round's commitments. Secrets are included only
// once the round is no longer active.
func (m *Manager) Commitment(ctx context.Context, roundID int64) (*Reveal, error) {
	r, err := m.store.Round(ctx, roundID)
	if err != nil {
		return nil, err
	}
	bonus, err := m.store.BonusWords(ctx, roundID)
	if err != nil {
		return nil, err
	}

	rv := &Reveal{RoundID: r.ID, CommitHash: r.CommitHash, Profile: r.CommitProfile, BonusRoot: r.BonusRoot}
	closed := r.Status != RoundActive
	if closed {
		word, err := m.revealAnswer(ctx, r)
		if err != nil {
			return nil, err
		}
		rv.Word, rv.Salt = word, r.Salt
	}
	for _, b := range bonus {
		br := BonusReveal{Index: b.Index, Hash: b.Hash, ClaimedBy: b.ClaimedBy}
		if closed || b.ClaimedBy != 0 {
			br.Word, br.Salt = b.Word, b.Salt
		}
		rv.Bonus = append(rv.Bonus, br)
	}
	return rv, nil
}

// revealAnswer unpacks the stored answer and re-checks it against the
// round's commitment.
func (m *Manager) revealAnswer(ctx context.Context, r *Round) (string, error) {
	word, err := m.codec.Unpack(r.Answer)
	if err != nil {
		m.integrityViolation(ctx, &IntegrityError{Kind: IntegrityCommitment, RoundID: r.ID, Detail: err.Error()})
	}
	c, err := fair.NewCommitter(r.CommitProfile)
	if err != nil {
		return "", err
	}
	if !c.VerifyCommit(r.Salt, word, r.CommitHash) {
		m.integrityViolation(ctx, &IntegrityError{Kind: IntegrityCommitment, RoundID: r.ID, Detail: "stored answer does not match commit hash"})
	}
	return word, nil
}

// integrityViolation alerts and aborts the current operation.
func (m *Manager) integrityViolation(ctx context.Context, ie *IntegrityError) {
	metrics.IntegrityViolationsTotal.WithLabelValues(string(ie.Kind)).Inc()
	m.alerter.Alert(ctx, ie, map[string]string{
		"kind":     string(ie.Kind),
		"round_id": strconv.FormatInt(ie.RoundID, 10),
	})
	panic(ie)
}

// invalidate runs the cache invalidation for a round. Failures are logged
// and never returned.
func (m *Manager) invalidate(ctx context.Context, roundID int64, transition bool) {
	scope := "round"
	var err error
	if transition {
		scope = "transition"
		err = m.invalidator.InvalidateTransition(ctx, roundID)
	} else {
		err = m.invalidator.InvalidateRound(ctx, roundID)
	}
	if err != nil {
		metrics.CacheInvalidationsTotal.WithLabelValues(scope, "error").Inc()
		m.log.Warn("cache invalidation failed", "scope", scope, "round_id", roundID, "error", err)
		return
	}
	metrics.CacheInvalidationsTotal.WithLabelValues(scope, "ok").Inc()
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
