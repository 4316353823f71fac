package store

import (
	"context"
	"database/sql"
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
	dsn := strings.TrimSpace(os.Getenv("CADENCE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("CADENCE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	migrationsDir := filepath.Join("..", "..", "db", "migrations")

	upFiles, err := pendingMigrations(migrationsDir)
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if len(upFiles) == 0 {
		t.Fatal("no .up.sql files found")
	}

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations on a clean schema: %v", err)
	}
	if got := countMigrations(ctx, t, db); got != len(upFiles) {
		t.Fatalf("schema_migrations has %d rows, want %d", got, len(upFiles))
	}

	// A second run must be a no-op, not a duplicate-object failure.
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("re-apply migrations: %v", err)
	}
	if got := countMigrations(ctx, t, db); got != len(upFiles) {
		t.Fatalf("re-apply recorded extra versions: %d rows, want %d", got, len(upFiles))
	}

	for _, table := range []string{"projects", "stages", "stage_components", "comments", "attachments", "audit_records"} {
		var exists bool
		err := db.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_schema='public' AND table_name=$1)
		`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("table %s missing after migration", table)
		}
	}
}

func countMigrations(ctx context.Context, t *testing.T, db *sql.DB) int {
	t.Helper()
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count schema_migrations: %v", err)
	}
	return count
}
