package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/joho/godotenv/autoload"
)

// Service represents a service that interacts with a database.
type Service interface {
	// Health returns a map of health status information.
	Health() map[string]string

	// Pool is the native pgx pool used by the stores.
	Pool() *pgxpool.Pool

	// DB is a database/sql view of the same pool, for migrations.
	DB() *sql.DB

	// Close terminates the database connection.
	Close() error
}

type service struct {
	pool *pgxpool.Pool
	db   *sql.DB
}

var (
	database   = os.Getenv("BLUEPRINT_DB_DATABASE")
	password   = os.Getenv("BLUEPRINT_DB_PASSWORD")
	username   = os.Getenv("BLUEPRINT_DB_USERNAME")
	port       = os.Getenv("BLUEPRINT_DB_PORT")
	host       = os.Getenv("BLUEPRINT_DB_HOST")
	schema     = os.Getenv("BLUEPRINT_DB_SCHEMA")
	dbInstance *service
)

// New connects using the BLUEPRINT_DB_* variables. The connection is shared
// by every caller in the process.
func New() Service {
	if dbInstance != nil {
		return dbInstance
	}
	if schema == "" {
		schema = "public"
	}
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s", username, password, host, port, database, schema)
	s, err := Connect(context.Background(), connStr)
	if err != nil {
		log.Fatal(err)
	}
	dbInstance = s.(*service)
	return dbInstance
}

// Connect opens a pool for url and checks it with a ping.
func Connect(ctx context.Context, url string) (Service, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 50
	cfg.MinConns = 2
	cfg.MaxConnIdleTime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &service{pool: pool, db: stdlib.OpenDBFromPool(pool)}, nil
}

func (s *service) Pool() *pgxpool.Pool { return s.pool }

func (s *service) DB() *sql.DB { return s.db }

// Health checks the health of the database connection by pinging the database.
// It returns a map with keys indicating various health statistics.
func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		log.Printf("[DB] health check failed: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	ps := s.pool.Stat()
	stats["total_conns"] = strconv.Itoa(int(ps.TotalConns()))
	stats["acquired_conns"] = strconv.Itoa(int(ps.AcquiredConns()))
	stats["idle_conns"] = strconv.Itoa(int(ps.IdleConns()))
	stats["acquire_count"] = strconv.FormatInt(ps.AcquireCount(), 10)
	stats["empty_acquire_count"] = strconv.FormatInt(ps.EmptyAcquireCount(), 10)
	stats["acquire_duration"] = ps.AcquireDuration().String()
	stats["max_idle_destroy_count"] = strconv.FormatInt(ps.MaxIdleDestroyCount(), 10)

	if ps.AcquiredConns() > ps.MaxConns()*4/5 {
		stats["message"] = "The database is experiencing heavy load."
	}
	if ps.EmptyAcquireCount() > 1000 {
		stats["message"] = "The database has a high number of waits for a free connection, indicating potential bottlenecks."
	}

	return stats
}

// Close closes the database connection.
func (s *service) Close() error {
	log.Printf("[DB] Disconnected from database: %s", database)
	if s == dbInstance {
		dbInstance = nil
	}
	err := s.db.Close()
	s.pool.Close()
	return err
}
