package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog"
)

// DuckDB wraps an in-memory DuckDB used as a local conversion engine.
type DuckDB struct {
	db     *sql.DB
	logger zerolog.Logger
	config *Config
}

// Config holds DuckDB configuration
type Config struct {
	MemoryLimit   string
	ThreadCount   int
	TempDirectory string // Spill directory for large sorts and partitioned writes
}

// New creates a new DuckDB instance
func New(cfg *Config, logger zerolog.Logger) (*DuckDB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	// SET statements are per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}

	if err := configureDatabase(db, cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure duckdb: %w", err)
	}

	log := logger.With().Str("component", "duckdb").Logger()
	log.Info().
		Str("memory_limit", cfg.MemoryLimit).
		Int("thread_count", cfg.ThreadCount).
		Str("temp_directory", cfg.TempDirectory).
		Msg("DuckDB initialized")

	return &DuckDB{
		db:     db,
		logger: log,
		config: cfg,
	}, nil
}

// configureDatabase sets DuckDB configuration after connection
func configureDatabase(db *sql.DB, cfg *Config) error {
	if cfg.MemoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", EscapeString(cfg.MemoryLimit))); err != nil {
			return fmt.Errorf("failed to set memory_limit: %w", err)
		}
	}
	if cfg.ThreadCount > 0 {
		if _, err := db.Exec(fmt.Sprintf("SET threads=%d", cfg.ThreadCount)); err != nil {
			return fmt.Errorf("failed to set threads: %w", err)
		}
	}
	if cfg.TempDirectory != "" {
		if _, err := db.Exec(fmt.Sprintf("SET temp_directory='%s'", EscapeString(cfg.TempDirectory))); err != nil {
			return fmt.Errorf("failed to set temp_directory: %w", err)
		}
	}
	return nil
}

// EscapeString escapes single quotes for use inside a DuckDB string literal.
func EscapeString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// QuoteIdent quotes a DuckDB identifier.
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// QueryContext executes a query and returns rows
func (d *DuckDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	start := time.Now()
	rows, err := d.db.QueryContext(ctx, query, args...)
	elapsed := time.Since(start)

	if err != nil {
		d.logger.Error().
			Err(err).
			Str("query", query).
			Dur("elapsed", elapsed).
			Msg("Query failed")
		return nil, fmt.Errorf("query failed: %w", err)
	}

	d.logger.Debug().
		Str("query", query).
		Dur("elapsed", elapsed).
		Msg("Query executed")

	return rows, nil
}

// ExecContext executes a statement without returning rows
func (d *DuckDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	result, err := d.db.ExecContext(ctx, query, args...)
	elapsed := time.Since(start)

	if err != nil {
		d.logger.Error().
			Err(err).
			Str("query", query).
			Dur("elapsed", elapsed).
			Msg("Exec failed")
		return nil, fmt.Errorf("exec failed: %w", err)
	}

	d.logger.Debug().
		Str("query", query).
		Dur("elapsed", elapsed).
		Msg("Exec completed")

	return result, nil
}

// Close closes the database connection
func (d *DuckDB) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	d.logger.Info().Msg("DuckDB closed")
	return nil
}

// DB returns the underlying *sql.DB
func (d *DuckDB) DB() *sql.DB {
	return d.db
}
