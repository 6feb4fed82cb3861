package db

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes.
const schemaVersion = 2

// upgrades[v] moves a database from version v-1 to v.
var upgrades = map[int]string{
	2: `ALTER TABLE jobs ADD COLUMN frame_urls TEXT`,
}

// InitSchema creates the tables on a new database, upgrades an older one and
// rejects one written by a newer release.
func (c *Client) InitSchema(ctx context.Context) error {
	var tableExists int
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return c.createSchema(ctx)
	}

	var version int
	if err := c.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	switch {
	case version < schemaVersion:
		return c.upgradeSchema(ctx, version)
	case version > schemaVersion:
		return fmt.Errorf("%w: %s has version %d, expected %d (delete the file to reset history)",
			ErrSchemaMismatch, c.path, version, schemaVersion)
	}
	return nil
}

func (c *Client) upgradeSchema(ctx context.Context, from int) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upgrade tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for v := from + 1; v <= schemaVersion; v++ {
		stmt, ok := upgrades[v]
		if !ok {
			return fmt.Errorf("%w: no upgrade from version %d to %d", ErrSchemaMismatch, v-1, v)
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("upgrade schema to version %d: %w", v, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE schema_version SET version = ?", schemaVersion); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upgrade: %w", err)
	}
	c.logger.Info("history schema upgraded", "path", c.path, "from", from, "to", schemaVersion)
	return nil
}

func (c *Client) createSchema(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	c.logger.Debug("history schema created", "path", c.path, "version", schemaVersion)
	return nil
}
