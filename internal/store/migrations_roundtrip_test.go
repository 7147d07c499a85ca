package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMigrationsRoundTripPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("FEEDBACK_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("FEEDBACK_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	dir := filepath.Join("..", "..", "db", "migrations")
	ups, err := ListMigrations(dir, "up")
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}

	applied, err := ApplyMigrations(ctx, db, dir)
	if err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	if len(applied) != len(ups) {
		t.Fatalf("expected %d migrations applied, got %v", len(ups), applied)
	}

	again, err := ApplyMigrations(ctx, db, dir)
	if err != nil {
		t.Fatalf("reapply: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no pending migrations, got %v", again)
	}

	if err := RollbackMigrations(ctx, db, dir); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}

	var tables int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema='public' AND table_name <> 'schema_migrations'`).Scan(&tables); err != nil {
		t.Fatalf("count tables: %v", err)
	}
	if tables != 0 {
		t.Fatalf("expected down migrations to drop every table, %d left", tables)
	}

	if _, err := ApplyMigrations(ctx, db, dir); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}
