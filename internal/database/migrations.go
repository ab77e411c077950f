package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// migration is one versioned schema change. Applied versions are recorded in
// schema_migrations so each runs once.
type migration struct {
	version int
	name    string
	sql     string
}

// baseVersion is the version recorded for schema.sql itself.
const baseVersion = 1

// migrations run in order after the base schema. Versions must increase.
var migrations = []migration{
	{
		version: 2,
		name:    "jobs finished_at index",
		sql:     `CREATE INDEX IF NOT EXISTS idx_jobs_finished_at ON jobs (finished_at) WHERE state <> 'running'`,
	},
	{
		version: 3,
		name:    "jobs state index",
		sql:     `CREATE INDEX IF NOT EXISTS idx_jobs_state_started ON jobs (state, started_at DESC)`,
	},
}

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    integer PRIMARY KEY,
		name       text NOT NULL,
		applied_at timestamptz NOT NULL DEFAULT now()
	)`

// EnsureSchema loads baseSQL on a fresh database and then applies every
// migration not yet recorded. A database created before version tracking
// is adopted as is: baseSQL only uses IF NOT EXISTS statements.
func (db *DB) EnsureSchema(ctx context.Context, baseSQL []byte) error {
	if _, err := db.Pool.Exec(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	rows, err := db.Pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	all := append([]migration{{version: baseVersion, name: "base schema", sql: string(baseSQL)}}, migrations...)
	todo := pendingMigrations(applied, all)
	if len(todo) == 0 {
		db.log.Debug().Int("version", all[len(all)-1].version).Msg("schema up to date")
		return nil
	}

	for i, m := range todo {
		if err := db.apply(ctx, m); err != nil {
			return &MigrationError{failed: m, pending: todo[i:], err: err}
		}
		db.log.Info().Int("version", m.version).Str("migration", m.name).Msg("schema migration applied")
	}
	return nil
}

func (db *DB) apply(ctx context.Context, m migration) error {
	return pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING`,
			m.version, m.name)
		return err
	})
}

func pendingMigrations(applied map[int]bool, all []migration) []migration {
	var out []migration
	for _, m := range all {
		if !applied[m.version] {
			out = append(out, m)
		}
	}
	return out
}

// MigrationError reports a failed migration together with the SQL an
// operator can run by hand to finish the upgrade.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema version %d (%s) failed: %v\n\n", e.failed.version, e.failed.name, e.err)
	b.WriteString("Apply the remaining changes as a database superuser:\n\n")
	for _, m := range e.pending {
		if m.version == baseVersion {
			b.WriteString("  -- contents of schema.sql\n")
			continue
		}
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart dubby.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
