// Package main is the entry point for the fortune club server.
//
// main stays minimal: load configuration, build the logger, make sure the
// database directory exists and hand over to internal/server.
//
// EXIT CODES:
// Every startup failure logs one line and exits 1. There is no retry loop
// here; a supervisor (systemd, Docker restart policy) restarts the process.
//
// RUNNING LOCALLY:
//
//	JWT_SECRET=$(openssl rand -hex 32) ADMIN_PASSWORD=letmein go run ./cmd/server
//
// or put both in .env. CONFIG_FILE=config.yaml layers a YAML file under the
// environment; see internal/config for the full list of variables.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/sakif/fortune-club/internal/config"
	"github.com/sakif/fortune-club/internal/server"
)

func main() {
	// === 1. ENVIRONMENT ===
	// A .env file is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to read .env", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. CONFIGURATION ===
	// Defaults, then the optional YAML file, then the environment. Validate
	// runs before anything is opened so a missing secret fails fast.
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 3. LOGGING ===
	// Until here slog's default text logger was in use. SetDefault makes the
	// configured one apply to packages that log via slog.Info directly too.
	logger, err := newLogger(cfg.Log)
	if err != nil {
		slog.Error("invalid log config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.SetDefault(logger)

	// === 4. DATA DIRECTORY ===
	// SQLite creates the file but not its parent directory. For ":memory:"
	// Dir returns "." and MkdirAll is a no-op.
	// 0o755 = owner can read/write/execute, others can read/execute.
	dbDir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		logger.Error("failed to create database directory",
			slog.String("dir", dbDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// === 5. CREATE AND START THE SERVER ===
	// server.New opens the database, the cache and the tracer, and wires
	// every service and handler. Nothing listens yet.
	srv, err := server.New(context.Background(), *cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT or SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// newLogger picks the slog handler: text for a terminal, JSON for a log
// collector. Both write to stdout.
func newLogger(lc config.LogConfig) (*slog.Logger, error) {
	level, err := lc.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}
