package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"

	"wordpot/internal/config"
	"wordpot/internal/database"
)

const MIGRATIONS_DIR = "./internal/database/migrations"

var migrationFile = regexp.MustCompile(`^(\d+)_[a-z0-9_]+\.(up|down)\.sql$`)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	pathFlag := flag.String("path", "", "read migrations from this directory instead of the embedded set")
	dirFlag := flag.String("dir", MIGRATIONS_DIR, "directory new migrations are written to")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		return errors.New("missing command")
	}

	command := flag.Arg(0)
	if command == "create" {
		if flag.NArg() < 2 {
			return errors.New("usage: migrate create <name>")
		}
		return createMigration(*dirFlag, flag.Arg(1), time.Now())
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	srv, err := database.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer srv.Close()
	db := srv.DB()

	switch command {
	case "up":
		log.Println("[MIGRATE] Running migrations...")
		if err := database.RunMigrations(db, *pathFlag); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		log.Println("[MIGRATE] Migrations completed")

	case "down":
		log.Println("[MIGRATE] Rolling back last migration...")
		if err := database.RollbackMigration(db, *pathFlag); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		log.Println("[MIGRATE] Rollback completed")

	case "version":
		version, dirty, err := database.GetMigrationVersion(db, *pathFlag)
		if err != nil {
			return fmt.Errorf("read version: %w", err)
		}
		if dirty {
			log.Printf("[MIGRATE] Schema at version %d is DIRTY and needs manual repair", version)
		} else {
			log.Printf("[MIGRATE] Schema at version %d", version)
		}

	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

// nextVersion is one past the highest numbered migration in dir.
func nextVersion(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read migrations directory: %w", err)
	}
	highest := 0
	for _, e := range entries {
		m := migrationFile.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("migration %s: %w", e.Name(), err)
		}
		highest = max(highest, v)
	}
	return highest + 1, nil
}

func createMigration(dir, name string, now time.Time) error {
	if !regexp.MustCompile(`^[a-z0-9_]+$`).MatchString(name) {
		return fmt.Errorf("migration name %q must be lower-case letters, digits and underscores", name)
	}
	version, err := nextVersion(dir)
	if err != nil {
		return err
	}

	up := filepath.Join(dir, fmt.Sprintf("%06d_%s.up.sql", version, name))
	down := filepath.Join(dir, fmt.Sprintf("%06d_%s.down.sql", version, name))
	upContent := fmt.Sprintf("-- Migration: %s\n-- Created: %s\n\n", name, now.UTC().Format(time.RFC3339))
	downContent := fmt.Sprintf("-- Rollback: %s\n\n", name)

	if err := os.WriteFile(up, []byte(upContent), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(down, []byte(downContent), 0o644); err != nil {
		return err
	}
	log.Printf("[MIGRATE] Created %s and %s", up, down)
	return nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: migrate [flags] <command>

Commands:
  up              apply all pending migrations
  down            roll back the last migration
  version         print the schema version
  create <name>   write an empty up/down pair with the next version

The database comes from DATABASE_URL or the BLUEPRINT_DB_* variables.

Flags:`)
	flag.PrintDefaults()
}
