package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"text/tabwriter"

	"cosmossdk.io/math"
	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"wordpot/internal/config"
	"wordpot/internal/fair"
	"wordpot/internal/game"
	"wordpot/internal/logger"
	"wordpot/internal/words"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	roundsFlag := flag.Int("rounds", 3, "number of rounds to play")
	playersFlag := flag.Int("players", 25, "number of concurrent players")
	guessesFlag := flag.Int("guesses", 400, "wrong guesses offered per round before the answer")
	referredFlag := flag.Bool("referred", true, "give every even player a referrer")
	flag.Parse()

	if *playersFlag < 1 || *roundsFlag < 1 {
		return errors.New("--players and --rounds must be positive")
	}

	log := logger.Discard()
	if *verboseFlag {
		log = logger.New(true)
	}

	catalog, err := words.Default()
	if err != nil {
		return err
	}
	committer, err := fair.NewCommitter(fair.ProfileSHA256)
	if err != nil {
		return err
	}

	dir := game.NewStaticDirectory()
	for i := 1; i <= *playersFlag; i++ {
		p := game.Player{ID: game.PlayerID(i), Address: fmt.Sprintf("0x%040x", i)}
		if *referredFlag && i%2 == 0 {
			p.ReferrerID = game.PlayerID(i - 1)
		}
		dir.Set(p)
	}

	clock := clockwork.NewRealClock()
	store := game.NewMemoryStore(clock)
	econ := config.DefaultEconomics()
	selector := &drawSelector{}
	manager, err := game.NewManager(game.Deps{
		Store:     store,
		Catalog:   catalog,
		Economics: econ,
		Committer: committer,
		Codec:     game.NewAnswerCodec(nil),
		Selector:  selector,
		Resolver:  dir,
		Clock:     clock,
		Log:       log,
	})
	if err != nil {
		return err
	}
	dispatcher := game.NewDispatcher(store, clock, log)
	manager.RegisterSideEffects(dispatcher)

	ctx := context.Background()
	if _, err := manager.CreateRound(ctx, game.CreateOptions{}); err != nil {
		return err
	}

	out := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	for i := 0; i < *roundsFlag; i++ {
		r, err := store.ActiveRound(ctx)
		if err != nil {
			return err
		}
		if r == nil {
			return errors.New("no active round")
		}
		if err := playRound(ctx, manager, store, catalog, r, selector.latest(), *playersFlag, *guessesFlag); err != nil {
			return err
		}
		// resolution side effects open the next round
		if err := dispatcher.Drain(ctx, 100); err != nil {
			return err
		}
		if err := printRound(ctx, out, manager, store, r.ID); err != nil {
			return err
		}
	}

	bal, err := store.LedgerBalance(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "operator ledger\t%s wei\n", bal)
	return out.Flush()
}

// playRound offers a shuffled queue of guesses to concurrent players until
// someone finds the answer.
func playRound(ctx context.Context, m *game.Manager, store *game.MemoryStore, catalog *words.Catalog, r *game.Round, answer string, players, wrong int) error {
	candidates, err := catalog.PickRandomAnswers(min(wrong, catalog.AnswerCount()-1), answer)
	if err != nil {
		return err
	}
	candidates = append(candidates, answer)
	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

	queue := make(chan string, len(candidates))
	for _, w := range candidates {
		queue <- w
	}
	close(queue)

	g, gctx := errgroup.WithContext(ctx)
	for p := 1; p <= players; p++ {
		player := game.PlayerID(p)
		g.Go(func() error {
			for w := range queue {
				out, err := m.SubmitGuess(gctx, game.GuessRequest{PlayerID: player, Word: w, Paid: true})
				switch {
				case err == nil && out.Status == game.GuessCorrect:
					return nil
				case err == nil:
				case game.IsValidation(err), game.IsConflict(err):
				default:
					return err
				}
				if cur, _ := store.Round(gctx, r.ID); cur != nil && !cur.IsActive() {
					return nil
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// drawSelector picks random answers and remembers the latest one so the
// simulator can make sure the guess queue contains it.
type drawSelector struct {
	mu   sync.Mutex
	last string
}

func (d *drawSelector) SelectAnswer(ctx context.Context, c game.Catalog) (string, error) {
	w, err := c.PickRandomAnswer()
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	d.last = w
	d.mu.Unlock()
	return w, nil
}

func (d *drawSelector) latest() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func printRound(ctx context.Context, out *tabwriter.Writer, m *game.Manager, store *game.MemoryStore, roundID int64) error {
	r, err := store.Round(ctx, roundID)
	if err != nil {
		return err
	}
	payouts, err := store.Payouts(ctx, roundID)
	if err != nil {
		return err
	}
	reveal, err := m.Commitment(ctx, roundID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "round %d\tanswer %s\twinner %d\tguesses %d\tpool %s wei\n",
		r.ID, reveal.Word, r.WinnerID, r.GuessCount, r.PrizePool)
	fmt.Fprintln(out, "\trole\tplayer\trank\tamount\tstatus")
	total := math.ZeroInt()
	for _, p := range payouts {
		fmt.Fprintf(out, "\t%s\t%d\t%d\t%s\t%s\n", p.Role, p.PlayerID, p.Rank, p.Amount, p.Status)
		total = total.Add(p.Amount)
	}
	fmt.Fprintf(out, "\ttotal\t\t\t%s\t\n\n", total)
	return nil
}
