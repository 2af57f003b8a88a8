package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"wordpot/internal/game"
)

const (
	MAX_EVENT_ATTEMPTS   = 8
	EVENT_CLAIM_TIMEOUT  = 5 * time.Minute
	EVENT_RETRY_BASE     = 2 * time.Second
	pgUniqueViolation    = "23505"
	idxSingleActiveRound = "rounds_single_active"
	idxEliminatedWord    = "guesses_eliminated_word"
	idxSingleWinner      = "guesses_single_winner"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RoundStore is the Postgres game.Store. The single active round and the
// eliminated-word rule are enforced by unique indexes, so they hold across
// processes.
type RoundStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewRoundStore(pool *pgxpool.Pool, log *slog.Logger) *RoundStore {
	if log == nil {
		log = slog.Default()
	}
	return &RoundStore{pool: pool, log: log.With("component", "round_store")}
}

var _ game.Store = (*RoundStore)(nil)

const roundColumns = `id, status, answer, salt, commit_hash, commit_profile, bonus_root,
	prize_pool::text, seed_for_next_round::text, guess_count,
	COALESCE(winner_id, 0), COALESCE(referrer_id, 0), started_at, resolved_at,
	COALESCE(seed_carried_into, 0)`

func scanRound(row pgx.Row) (*game.Round, error) {
	var (
		r          game.Round
		pool, seed string
		winner     int64
		referrer   int64
	)
	err := row.Scan(&r.ID, &r.Status, &r.Answer, &r.Salt, &r.CommitHash, &r.CommitProfile, &r.BonusRoot,
		&pool, &seed, &r.GuessCount, &winner, &referrer, &r.StartedAt, &r.ResolvedAt,
		&r.SeedCarriedInto)
	if err != nil {
		return nil, err
	}
	if r.PrizePool, err = parseAmount(pool); err != nil {
		return nil, err
	}
	if r.SeedForNextRound, err = parseAmount(seed); err != nil {
		return nil, err
	}
	r.WinnerID, r.ReferrerID = game.PlayerID(winner), game.PlayerID(referrer)
	return &r, nil
}

func parseAmount(s string) (math.Int, error) {
	v, ok := math.NewIntFromString(s)
	if !ok {
		return math.Int{}, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func uniqueViolation(err error, index string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == index
}

func nullablePlayer(id game.PlayerID) *int64 {
	if id == 0 {
		return nil
	}
	v := int64(id)
	return &v
}

func (s *RoundStore) InTx(ctx context.Context, fn func(tx game.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&roundTx{tx: tx})
	})
}

func (s *RoundStore) ActiveRound(ctx context.Context) (*game.Round, error) {
	return activeRound(ctx, s.pool, "")
}

func activeRound(ctx context.Context, q querier, suffix string) (*game.Round, error) {
	r, err := scanRound(q.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE status = 'active' ORDER BY id DESC LIMIT 1 `+suffix))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (s *RoundStore) Round(ctx context.Context, id int64) (*game.Round, error) {
	r, err := scanRound(s.pool.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, game.ErrRoundNotFound
	}
	return r, err
}

func (s *RoundStore) LatestClosedRound(ctx context.Context) (*game.Round, error) {
	r, err := scanRound(s.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE status <> 'active' ORDER BY id DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// CreateRound inserts the round and its bonus commitments in one
// transaction and claims the seed of nr.SeedFrom. SkipActiveCheck only skips
// the pre-check; the unique index still applies.
func (s *RoundStore) CreateRound(ctx context.Context, nr game.NewRound) (*game.Round, error) {
	pool := nr.OpeningPool
	if pool.IsNil() {
		pool = math.ZeroInt()
	}
	started := nr.StartedAt
	if started.IsZero() {
		started = time.Now()
	}

	var out *game.Round
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if !nr.SkipActiveCheck {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rounds WHERE status = 'active')`).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return game.ErrActiveRoundExists
			}
		}

		r, err := scanRound(tx.QueryRow(ctx, `
			INSERT INTO rounds (answer, salt, commit_hash, commit_profile, bonus_root, prize_pool, started_at)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)
			RETURNING `+roundColumns,
			nr.Answer, nr.Salt, nr.CommitHash, nr.CommitProfile, nr.BonusRoot, pool.String(), started))
		if err != nil {
			return err
		}

		if nr.SeedFrom != 0 {
			tag, err := tx.Exec(ctx, `
				UPDATE rounds SET seed_carried_into = $2
				WHERE id = $1 AND status <> 'active' AND seed_carried_into IS NULL`,
				nr.SeedFrom, r.ID)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				if err := (&roundTx{tx: tx}).roundExists(ctx, nr.SeedFrom); err != nil {
					return err
				}
				return game.ErrSeedAlreadyCarried
			}
		}

		if len(nr.BonusWords) > 0 {
			_, err = tx.CopyFrom(ctx,
				pgx.Identifier{"bonus_words"},
				[]string{"round_id", "word_index", "word", "salt", "hash"},
				pgx.CopyFromSlice(len(nr.BonusWords), func(i int) ([]any, error) {
					b := nr.BonusWords[i]
					return []any{r.ID, b.Index, b.Word, string(b.Salt), b.Hash}, nil
				}))
			if err != nil {
				return fmt.Errorf("insert bonus words: %w", err)
			}
		}
		out = r
		return nil
	})
	if uniqueViolation(err, idxSingleActiveRound) {
		return nil, game.ErrActiveRoundExists
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RoundStore) Resolve(ctx context.Context, roundID int64, winnerID, referrerID game.PlayerID, at time.Time) (*game.Round, error) {
	var out *game.Round
	err := s.InTx(ctx, func(tx game.Tx) error {
		var err error
		out, err = tx.SetWinner(ctx, roundID, winnerID, referrerID, at)
		return err
	})
	return out, err
}

func (s *RoundStore) Wheel(ctx context.Context, roundID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT word FROM guesses WHERE round_id = $1 AND NOT is_correct ORDER BY word`, roundID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// TopGuessers ranks in SQL with the same rules as game.RankTopGuessers.
// Rows without a sequence index are legacy and always count.
func (s *RoundStore) TopGuessers(ctx context.Context, roundID int64, lockThreshold, limit int, exclude game.PlayerID) ([]game.TopGuesser, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT player_id, count(*), min(created_at)
		FROM guesses
		WHERE round_id = $1
		  AND is_paid
		  AND player_id <> $2
		  AND (sequence_index IS NULL OR sequence_index <= $3)
		GROUP BY player_id
		ORDER BY count(*) DESC, min(created_at) ASC, player_id ASC
		LIMIT $4`,
		roundID, int64(exclude), lockThreshold, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.TopGuesser
	for rows.Next() {
		var (
			tg game.TopGuesser
			id int64
		)
		if err := rows.Scan(&id, &tg.PaidGuesses, &tg.FirstGuessAt); err != nil {
			return nil, err
		}
		tg.PlayerID = game.PlayerID(id)
		tg.Rank = len(out) + 1
		out = append(out, tg)
	}
	return out, rows.Err()
}

func (s *RoundStore) BonusWords(ctx context.Context, roundID int64) ([]game.BonusWord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT round_id, word_index, word, salt, hash, COALESCE(claimed_by, 0), claimed_at
		FROM bonus_words WHERE round_id = $1 ORDER BY word_index`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.BonusWord
	for rows.Next() {
		var (
			b         game.BonusWord
			claimedBy int64
		)
		if err := rows.Scan(&b.RoundID, &b.Index, &b.Word, &b.Salt, &b.Hash, &claimedBy, &b.ClaimedAt); err != nil {
			return nil, err
		}
		b.ClaimedBy = game.PlayerID(claimedBy)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *RoundStore) WalletFor(ctx context.Context, roundID int64, playerID game.PlayerID) (string, error) {
	var addr string
	err := s.pool.QueryRow(ctx,
		`SELECT address FROM round_wallets WHERE round_id = $1 AND player_id = $2`, roundID, int64(playerID)).Scan(&addr)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return addr, err
}

// RecordPayouts takes the round row lock, so concurrent callers serialize
// and only the first writes.
func (s *RoundStore) RecordPayouts(ctx context.Context, roundID int64, payouts []game.Payout) (bool, error) {
	created := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx, `SELECT id FROM rounds WHERE id = $1 FOR UPDATE`, roundID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return game.ErrRoundNotFound
		}
		if err != nil {
			return err
		}

		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payouts WHERE round_id = $1)`, roundID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return nil
		}

		batch := &pgx.Batch{}
		for _, p := range payouts {
			batch.Queue(`
				INSERT INTO payouts (round_id, role, player_id, rank, address, amount, status, settlement_ref)
				VALUES ($1, $2, $3, NULLIF($4::int, 0), $5, $6::numeric, $7, $8)`,
				roundID, p.Role, nullablePlayer(p.PlayerID), p.Rank, p.Address, p.Amount.String(), p.Status, p.SettlementRef)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert payouts: %w", err)
		}
		created = true
		return nil
	})
	return created, err
}

func (s *RoundStore) Payouts(ctx context.Context, roundID int64) ([]game.Payout, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT round_id, role, COALESCE(player_id, 0), COALESCE(rank, 0), address, amount::text, status, settlement_ref
		FROM payouts WHERE round_id = $1 ORDER BY id`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.Payout
	for rows.Next() {
		var (
			p      game.Payout
			player int64
			amount string
		)
		if err := rows.Scan(&p.RoundID, &p.Role, &player, &p.Rank, &p.Address, &amount, &p.Status, &p.SettlementRef); err != nil {
			return nil, err
		}
		if p.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		p.PlayerID = game.PlayerID(player)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *RoundStore) MarkPayouts(ctx context.Context, roundID int64, status game.PayoutStatus, settlementRef string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE payouts SET status = $2, settlement_ref = $3, updated_at = now()
		WHERE round_id = $1
		  AND role IN ('winner', 'referrer', 'top_guesser')
		  AND status <> 'submitted'`,
		roundID, status, settlementRef)
	return err
}

func (s *RoundStore) CreditLedger(ctx context.Context, amount math.Int, reason string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return creditLedger(ctx, tx, amount, reason)
	})
}

// creditLedger creates the ledger row on first use.
func creditLedger(ctx context.Context, q querier, amount math.Int, reason string) error {
	if _, err := q.Exec(ctx,
		`INSERT INTO ledger_entries (amount, reason) VALUES ($1::numeric, $2)`, amount.String(), reason); err != nil {
		return err
	}
	_, err := q.Exec(ctx, `
		INSERT INTO system_ledger (id, balance) VALUES (1, $1::numeric)
		ON CONFLICT (id) DO UPDATE SET balance = system_ledger.balance + EXCLUDED.balance, updated_at = now()`,
		amount.String())
	return err
}

func (s *RoundStore) LedgerBalance(ctx context.Context) (math.Int, error) {
	var bal string
	err := s.pool.QueryRow(ctx, `SELECT balance::text FROM system_ledger WHERE id = 1`).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return math.ZeroInt(), nil
	}
	if err != nil {
		return math.Int{}, err
	}
	return parseAmount(bal)
}

// ClaimEvents marks a batch as processing. Events stuck in processing past
// the claim timeout are claimed again.
func (s *RoundStore) ClaimEvents(ctx context.Context, limit int) ([]game.Event, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE outbox_events SET status = 'processing', attempts = attempts + 1, claimed_at = now()
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE available_at <= now()
			  AND attempts < $2
			  AND (status IN ('pending', 'failed')
			       OR (status = 'processing' AND claimed_at < now() - $3::int * interval '1 second'))
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id::text, type, COALESCE(round_id, 0), COALESCE(player_id, 0), payload, attempts, created_at`,
		limit, MAX_EVENT_ATTEMPTS, int(EVENT_CLAIM_TIMEOUT.Seconds()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.Event
	for rows.Next() {
		var (
			ev      game.Event
			player  int64
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.RoundID, &player, &payload, &ev.Attempts, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.PlayerID = game.PlayerID(player)
		ev.Payload = json.RawMessage(payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *RoundStore) CompleteEvent(ctx context.Context, id string, handlerErr error) error {
	if handlerErr == nil {
		_, err := s.pool.Exec(ctx,
			`UPDATE outbox_events SET status = 'done', last_error = NULL WHERE id = $1`, id)
		return err
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'failed', last_error = $2, available_at = now() + attempts * $3::int * interval '1 second'
		WHERE id = $1`,
		id, handlerErr.Error(), int(EVENT_RETRY_BASE.Seconds()))
	return err
}

func (s *RoundStore) AwardAchievement(ctx context.Context, playerID game.PlayerID, kind string, roundID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO achievements (player_id, kind, round_id) VALUES ($1, $2, $3)
		ON CONFLICT (player_id, kind) DO NOTHING`,
		int64(playerID), kind, roundID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// roundTx is the transactional view. Every write path locks the round row
// before any other row it touches.
type roundTx struct {
	tx pgx.Tx
}

func (t *roundTx) ActiveRoundForUpdate(ctx context.Context) (*game.Round, error) {
	return activeRound(ctx, t.tx, "FOR UPDATE")
}

func (t *roundTx) IsEliminated(ctx context.Context, roundID int64, word string) (bool, error) {
	var eliminated bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM guesses WHERE round_id = $1 AND word = $2 AND NOT is_correct)`,
		roundID, word).Scan(&eliminated)
	return eliminated, err
}

func (t *roundTx) NextSequenceIndex(ctx context.Context, roundID int64) (int, error) {
	var seq int
	err := t.tx.QueryRow(ctx, `
		UPDATE rounds SET guess_count = guess_count + 1
		WHERE id = $1 AND status = 'active' AND winner_id IS NULL
		RETURNING guess_count`, roundID).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := t.roundExists(ctx, roundID); err != nil {
			return 0, err
		}
		return 0, game.ErrRoundClosed
	}
	return seq, err
}

func (t *roundTx) roundExists(ctx context.Context, roundID int64) error {
	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rounds WHERE id = $1)`, roundID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return game.ErrRoundNotFound
	}
	return nil
}

func (t *roundTx) InsertGuess(ctx context.Context, g *game.Guess) error {
	var seq *int
	if i, ok := g.Seq.Index(); ok {
		seq = &i
	}
	createdAt := g.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO guesses (round_id, player_id, word, is_paid, is_correct, is_bonus_word, sequence_index, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		g.RoundID, int64(g.PlayerID), g.Word, g.Paid, g.Correct, g.IsBonusWord, seq, createdAt).Scan(&g.ID, &g.CreatedAt)
	switch {
	case uniqueViolation(err, idxEliminatedWord):
		return game.ErrDuplicateGuess
	case uniqueViolation(err, idxSingleWinner):
		return game.ErrAlreadyResolved
	}
	return err
}

func (t *roundTx) PlayerGuessCount(ctx context.Context, roundID int64, playerID game.PlayerID) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT count(*) FROM guesses WHERE round_id = $1 AND player_id = $2`, roundID, int64(playerID)).Scan(&n)
	return n, err
}

// Accrue reads the seed under the row lock and applies the split in one
// update, so concurrent paid guesses never lose an increment.
func (t *roundTx) Accrue(ctx context.Context, roundID int64, split func(currentSeed math.Int) game.Accrual) (game.Accrual, error) {
	var seedText string
	err := t.tx.QueryRow(ctx,
		`SELECT seed_for_next_round::text FROM rounds WHERE id = $1 FOR UPDATE`, roundID).Scan(&seedText)
	if errors.Is(err, pgx.ErrNoRows) {
		return game.Accrual{}, game.ErrRoundNotFound
	}
	if err != nil {
		return game.Accrual{}, err
	}
	seed, err := parseAmount(seedText)
	if err != nil {
		return game.Accrual{}, err
	}

	a := split(seed)
	if _, err := t.tx.Exec(ctx, `
		UPDATE rounds
		SET prize_pool = prize_pool + $2::numeric, seed_for_next_round = seed_for_next_round + $3::numeric
		WHERE id = $1`,
		roundID, a.ToPool.String(), a.ToSeed.String()); err != nil {
		return game.Accrual{}, err
	}
	if a.ToLedger.IsPositive() {
		if err := creditLedger(ctx, t.tx, a.ToLedger, "seed_overflow"); err != nil {
			return game.Accrual{}, err
		}
	}
	return a, nil
}

func (t *roundTx) CreditLedger(ctx context.Context, amount math.Int, reason string) error {
	return creditLedger(ctx, t.tx, amount, reason)
}

func (t *roundTx) ClaimBonusWord(ctx context.Context, roundID int64, word string, playerID game.PlayerID, at time.Time) (int, bool, error) {
	var idx int
	err := t.tx.QueryRow(ctx, `
		UPDATE bonus_words SET claimed_by = $3, claimed_at = $4
		WHERE round_id = $1 AND word = $2 AND claimed_by IS NULL
		RETURNING word_index`,
		roundID, word, int64(playerID), at).Scan(&idx)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return idx, true, nil
}

func (t *roundTx) SetWinner(ctx context.Context, roundID int64, winnerID, referrerID game.PlayerID, at time.Time) (*game.Round, error) {
	r, err := scanRound(t.tx.QueryRow(ctx, `
		UPDATE rounds SET status = 'resolved', winner_id = $2, referrer_id = $3, resolved_at = $4
		WHERE id = $1 AND status = 'active' AND winner_id IS NULL
		RETURNING `+roundColumns,
		roundID, int64(winnerID), nullablePlayer(referrerID), at))
	if errors.Is(err, pgx.ErrNoRows) {
		if err := t.roundExists(ctx, roundID); err != nil {
			return nil, err
		}
		return nil, game.ErrAlreadyResolved
	}
	return r, err
}

func (t *roundTx) BindWallet(ctx context.Context, roundID int64, playerID game.PlayerID, address string) (string, error) {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO round_wallets (round_id, player_id, address) VALUES ($1, $2, $3)
		ON CONFLICT (round_id, player_id) DO NOTHING`,
		roundID, int64(playerID), address); err != nil {
		return "", err
	}
	var bound string
	err := t.tx.QueryRow(ctx,
		`SELECT address FROM round_wallets WHERE round_id = $1 AND player_id = $2`, roundID, int64(playerID)).Scan(&bound)
	return bound, err
}

func (t *roundTx) EnqueueEvent(ctx context.Context, ev game.Event) error {
	id := uuid.New()
	if ev.ID != "" {
		parsed, err := uuid.Parse(ev.ID)
		if err != nil {
			return fmt.Errorf("event id: %w", err)
		}
		id = parsed
	}
	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox_events (id, type, round_id, player_id, payload)
		VALUES ($1, $2, NULLIF($3::bigint, 0), $4, $5)`,
		id.String(), ev.Type, ev.RoundID, nullablePlayer(ev.PlayerID), []byte(payload))
	return err
}
