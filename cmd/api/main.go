package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"wordpot/internal/alert"
	"wordpot/internal/cache"
	"wordpot/internal/config"
	"wordpot/internal/database"
	"wordpot/internal/fair"
	"wordpot/internal/game"
	"wordpot/internal/logger"
	"wordpot/internal/server"
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
	addrFlag := flag.String("addr", "", "HTTP listen address (or set HTTP_ADDR env var)")
	migrateFlag := flag.Bool("migrate", true, "apply the embedded database migrations on startup")
	rateLimitFlag := flag.Int("rate-limit", 120, "requests per minute per client IP, 0 disables")
	environmentFlag := flag.String("environment", "production", "environment name reported to Sentry")
	flag.Parse()

	log := logger.New(*verboseFlag)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *addrFlag != "" {
		cfg.HTTPAddr = *addrFlag
	}

	// a round can not be opened without salts, so a broken entropy source
	// stops the process here
	if _, err := fair.GenerateSalt(); err != nil {
		return fmt.Errorf("entropy source unavailable: %w", err)
	}

	alerter, err := alert.NewSentry(log, cfg.SentryDSN, *environmentFlag)
	if err != nil {
		return fmt.Errorf("sentry: %w", err)
	}
	defer alerter.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if *migrateFlag {
		if err := database.RunMigrations(db.DB(), ""); err != nil {
			return err
		}
	}

	redisService, err := cache.New(cfg)
	if err != nil {
		return fmt.Errorf("redis is required for payouts and views: %w", err)
	}
	defer redisService.Close()
	redisClient := redisService.GetClient()

	var sealer game.Sealer
	if cfg.AnswerKeyHex != "" {
		s, err := game.NewXChaChaSealer(cfg.AnswerKeyHex)
		if err != nil {
			return fmt.Errorf("ANSWER_KEY: %w", err)
		}
		sealer = s
	} else {
		log.Warn("ANSWER_KEY not set, answers are stored unsealed")
	}

	committer, err := fair.NewCommitter(fair.Profile(cfg.CommitProfile))
	if err != nil {
		return err
	}
	catalog, err := words.Default()
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	store := database.NewRoundStore(db.Pool(), log)
	hub := game.NewHub(log)
	views := cache.NewViewCache(redisClient, cache.VIEW_TTL, log)

	manager, err := game.NewManager(game.Deps{
		Store:       store,
		Catalog:     catalog,
		Economics:   cfg.Economics,
		Committer:   committer,
		Codec:       game.NewAnswerCodec(sealer),
		Selector:    game.RandomAnswer{},
		Resolver:    database.NewPlayerDirectory(db.Pool()),
		Payouts:     cache.NewStreamPayoutExecutor(redisClient),
		Rewards:     cache.NewStreamRewardIssuer(redisClient),
		Invalidator: cache.NewInvalidator(redisClient, log),
		Views:       views,
		Alerter:     alerter,
		Hub:         hub,
		Clock:       clock,
		Log:         log,
	})
	if err != nil {
		return err
	}

	dispatcher := game.NewDispatcher(store, clock, log)
	manager.RegisterSideEffects(dispatcher)

	if r, err := manager.CreateRound(ctx, game.CreateOptions{}); err == nil {
		log.Info("opened round", "round_id", r.ID, "commit_hash", r.CommitHash)
	} else if !errors.Is(err, game.ErrActiveRoundExists) && !errors.Is(err, game.ErrSeedAlreadyCarried) {
		return fmt.Errorf("open initial round: %w", err)
	}

	srv := server.New(server.Options{
		Manager:   manager,
		Hub:       hub,
		DB:        db,
		Cache:     redisService,
		Log:       log,
		RateLimit: *rateLimitFlag,
	})
	srv.RegisterFiberRoutes()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		log.Info("listening", "addr", cfg.HTTPAddr)
		return srv.Listen(cfg.HTTPAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		return srv.Shutdown()
	})

	return g.Wait()
}
