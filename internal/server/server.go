package server

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"wordpot/internal/game"
)

// HealthChecker is satisfied by database.Service and cache.Service.
type HealthChecker interface {
	Health() map[string]string
}

type Options struct {
	Manager *game.Manager
	Hub     *game.Hub
	DB      HealthChecker
	Cache   HealthChecker
	Log     *slog.Logger
	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit int
}

type FiberServer struct {
	*fiber.App

	db          HealthChecker
	cache       HealthChecker
	gameManager *game.Manager
	gameHub     *game.Hub
	log         *slog.Logger
}

func New(opts Options) *FiberServer {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "wordpot",
			AppName:       "wordpot",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
			ErrorHandler:  errorHandler(log),
		}),

		db:          opts.DB,
		cache:       opts.Cache,
		gameManager: opts.Manager,
		gameHub:     opts.Hub,
		log:         log.With("component", "http"),
	}

	// integrity violations panic; recover turns them into a 500
	server.App.Use(recover.New())
	server.App.Use(server.requestLogger)
	if opts.RateLimit > 0 {
		server.App.Use(limiter.New(limiter.Config{
			Max:        opts.RateLimit,
			Expiration: 1 * time.Minute,
			Next: func(c *fiber.Ctx) bool {
				return c.Path() == "/health" || c.Path() == "/metrics"
			},
		}))
	}

	return server
}

func (s *FiberServer) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.log.Debug("request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"duration", time.Since(start))
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones. The
// process owner closes the stores.
func (s *FiberServer) Shutdown() error {
	s.log.Info("shutting down")
	return s.App.ShutdownWithTimeout(10 * time.Second)
}
