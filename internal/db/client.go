// Package db persists the local job history in SQLite.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Client wraps the history database.
type Client struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open connects to (or creates) the history database at path and applies the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	c := &Client{db: db, path: path, logger: logger}
	if err := c.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("history database opened", "path", path)
	return c, nil
}

// Path returns the database file location.
func (c *Client) Path() string {
	return c.path
}

// Close closes the underlying database connection.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}
