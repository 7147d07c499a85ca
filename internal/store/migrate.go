package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// migrationLockID serializes migration runs across API replicas that boot at
// the same time.
const migrationLockID int64 = 0x66656564 // "feed"

var migrationName = regexp.MustCompile(`^(\d+)_[a-z0-9_]+\.(up|down)\.sql$`)

// Migration is one versioned SQL file from the migrations directory.
type Migration struct {
	Version string
	Name    string
	Path    string
}

// ListMigrations returns the migrations for one direction ("up" or "down"),
// ascending by version. Files that do not follow NNNN_name.dir.sql are
// ignored.
func ListMigrations(dir, direction string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil || match[2] != direction {
			continue
		}
		out = append(out, Migration{
			Version: match[1],
			Name:    entry.Name(),
			Path:    filepath.Join(dir, entry.Name()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// ApplyMigrations runs every pending up migration in its own transaction and
// returns the names it applied.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) ([]string, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}
	pending, err := ListMigrations(migrationsDir, "up")
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, migration := range pending {
		ran, err := applyMigration(ctx, db, migration)
		if err != nil {
			return applied, err
		}
		if ran {
			applied = append(applied, migration.Name)
		}
	}
	return applied, nil
}

func applyMigration(ctx context.Context, db *sql.DB, migration Migration) (bool, error) {
	contents, err := os.ReadFile(migration.Path)
	if err != nil {
		return false, fmt.Errorf("read migration %s: %w", migration.Name, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin migration tx %s: %w", migration.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return false, fmt.Errorf("lock migrations: %w", err)
	}
	var done bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, migration.Name).Scan(&done); err != nil {
		return false, fmt.Errorf("check migration %s: %w", migration.Name, err)
	}
	if done {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		return false, fmt.Errorf("execute migration %s: %w", migration.Name, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, migration.Name); err != nil {
		return false, fmt.Errorf("record migration %s: %w", migration.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", migration.Name, err)
	}
	return true, nil
}

// RollbackMigrations runs every down migration, newest first, and forgets
// the recorded versions so a later ApplyMigrations starts from scratch.
func RollbackMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	downs, err := ListMigrations(migrationsDir, "down")
	if err != nil {
		return err
	}
	for i := len(downs) - 1; i >= 0; i-- {
		contents, err := os.ReadFile(downs[i].Path)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", downs[i].Name, err)
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("execute migration %s: %w", downs[i].Name, err)
		}
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		return fmt.Errorf("clear schema_migrations: %w", err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}
