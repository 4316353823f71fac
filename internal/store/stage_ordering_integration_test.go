package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// openTestStore connects to the Postgres named by CADENCE_TEST_DATABASE_URL,
// rebuilds the public schema from the migration files and returns a store
// over it. Tests are skipped when no database is configured.
func openTestStore(t *testing.T) (*sql.DB, *PostgresStore) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("CADENCE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("CADENCE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db, NewPostgresStore(db)
}

func seedProject(t *testing.T, db *sql.DB, projectID string) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO projects (id, title, created_by) VALUES ($1, 'Rebrand', 'usr_provider')
	`, projectID)
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
}

// seedStages inserts one stage per id at positions 1..n, all in 'todo'.
func seedStages(t *testing.T, db *sql.DB, projectID string, stageIDs ...string) {
	t.Helper()
	for i, id := range stageIDs {
		_, err := db.ExecContext(context.Background(), `
			INSERT INTO stages (id, project_id, title, position, type, status, owner)
			VALUES ($1, $2, $1, $3, 'custom', 'todo', 'provider')
		`, id, projectID, i+1)
		if err != nil {
			t.Fatalf("seed stage %s: %v", id, err)
		}
	}
}

// stageOrder returns the project's stage ids in position order and fails
// the test unless positions are exactly 1..n with no gaps.
func stageOrder(t *testing.T, db *sql.DB, projectID string) []string {
	t.Helper()
	rows, err := db.QueryContext(context.Background(), `
		SELECT id, position FROM stages WHERE project_id=$1 ORDER BY position ASC
	`, projectID)
	if err != nil {
		t.Fatalf("query stage order: %v", err)
	}
	defer rows.Close()

	var ids []string
	next := 1
	for rows.Next() {
		var id string
		var position int
		if err := rows.Scan(&id, &position); err != nil {
			t.Fatalf("scan stage order: %v", err)
		}
		if position != next {
			t.Fatalf("stage %s at position %d, want dense position %d", id, position, next)
		}
		ids = append(ids, id)
		next++
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate stage order: %v", err)
	}
	return ids
}

func TestInsertStageAfterShiftsSiblings(t *testing.T) {
	db, st := openTestStore(t)
	ctx := context.Background()
	seedProject(t, db, "prj_1")
	seedStages(t, db, "prj_1", "stg_a", "stg_b", "stg_c")

	after := "stg_a"
	created, err := st.InsertStageAfter(ctx, Stage{
		ID: "stg_new", ProjectID: "prj_1", Title: "Inserted",
		Type: "custom", Status: "todo", Owner: "provider",
	}, &after)
	if err != nil {
		t.Fatalf("InsertStageAfter: %v", err)
	}
	if created.Position != 2 {
		t.Fatalf("inserted at position %d, want 2", created.Position)
	}

	got := stageOrder(t, db, "prj_1")
	want := []string{"stg_a", "stg_new", "stg_b", "stg_c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestInsertStageAppendsWithoutSibling(t *testing.T) {
	db, st := openTestStore(t)
	ctx := context.Background()
	seedProject(t, db, "prj_1")
	seedStages(t, db, "prj_1", "stg_a", "stg_b")

	created, err := st.InsertStageAfter(ctx, Stage{
		ID: "stg_new", ProjectID: "prj_1", Title: "Appended",
		Type: "custom", Status: "todo", Owner: "provider",
	}, nil)
	if err != nil {
		t.Fatalf("InsertStageAfter: %v", err)
	}
	if created.Position != 3 {
		t.Fatalf("appended at position %d, want 3", created.Position)
	}
	stageOrder(t, db, "prj_1")
}

func TestDeleteStageCompactsOrder(t *testing.T) {
	db, st := openTestStore(t)
	ctx := context.Background()
	seedProject(t, db, "prj_1")
	seedStages(t, db, "prj_1", "stg_a", "stg_b", "stg_c", "stg_d")

	if err := st.DeleteStage(ctx, "prj_1", "stg_b"); err != nil {
		t.Fatalf("DeleteStage: %v", err)
	}

	got := stageOrder(t, db, "prj_1")
	want := []string{"stg_a", "stg_c", "stg_d"}
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestDeleteStageWithComponentsRejected(t *testing.T) {
	db, st := openTestStore(t)
	ctx := context.Background()
	seedProject(t, db, "prj_1")
	seedStages(t, db, "prj_1", "stg_a", "stg_b")

	_, err := db.ExecContext(ctx, `
		INSERT INTO stage_components (id, stage_id, component_type, sort_order)
		VALUES ('cmp_1', 'stg_a', 'checklist', 1)
	`)
	if err != nil {
		t.Fatalf("seed component: %v", err)
	}

	if err := st.DeleteStage(ctx, "prj_1", "stg_a"); !errors.Is(err, ErrStageNotEmpty) {
		t.Fatalf("DeleteStage = %v, want ErrStageNotEmpty", err)
	}
	got := stageOrder(t, db, "prj_1")
	if len(got) != 2 || got[0] != "stg_a" {
		t.Fatalf("stages changed after rejected delete: %v", got)
	}
}

func TestReorderStagesRenumbers(t *testing.T) {
	db, st := openTestStore(t)
	ctx := context.Background()
	seedProject(t, db, "prj_1")
	seedStages(t, db, "prj_1", "stg_a", "stg_b", "stg_c")

	if err := st.ReorderStages(ctx, "prj_1", []string{"stg_c", "stg_a", "stg_b"}); err != nil {
		t.Fatalf("ReorderStages: %v", err)
	}

	got := stageOrder(t, db, "prj_1")
	want := []string{"stg_c", "stg_a", "stg_b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestReorderStagesRejectsIDSetMismatch(t *testing.T) {
	db, st := openTestStore(t)
	ctx := context.Background()
	seedProject(t, db, "prj_1")
	seedStages(t, db, "prj_1", "stg_a", "stg_b", "stg_c")

	cases := [][]string{
		{"stg_a", "stg_b"},                   // missing one
		{"stg_a", "stg_b", "stg_c", "stg_x"}, // extra
		{"stg_a", "stg_b", "stg_x"},          // wrong id
		{"stg_a", "stg_a", "stg_b"},          // duplicate
	}
	for _, ids := range cases {
		if err := st.ReorderStages(ctx, "prj_1", ids); !errors.Is(err, ErrOrderMismatch) {
			t.Fatalf("ReorderStages(%v) = %v, want ErrOrderMismatch", ids, err)
		}
	}

	got := stageOrder(t, db, "prj_1")
	want := []string{"stg_a", "stg_b", "stg_c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order changed after rejected reorder: %v", got)
		}
	}
}

func TestCompleteStageActivatesSuccessor(t *testing.T) {
	db, st := openTestStore(t)
	ctx := context.Background()
	seedProject(t, db, "prj_1")
	seedStages(t, db, "prj_1", "stg_a", "stg_b", "stg_c")

	completed, successor, err := st.CompleteStage(ctx, "prj_1", "stg_a", "handed off to design")
	if err != nil {
		t.Fatalf("CompleteStage: %v", err)
	}
	if completed.Status != "done" || completed.CompletionAt == nil {
		t.Fatalf("completed stage not stamped: %+v", completed)
	}
	if completed.CompletionNote != "handed off to design" {
		t.Fatalf("completion note = %q", completed.CompletionNote)
	}
	if successor == nil || successor.ID != "stg_b" || successor.Status != "in_review" {
		t.Fatalf("successor = %+v, want stg_b in_review", successor)
	}

	// Third stage must be untouched.
	var status string
	if err := db.QueryRowContext(ctx, `SELECT status FROM stages WHERE id='stg_c'`).Scan(&status); err != nil {
		t.Fatalf("query stg_c: %v", err)
	}
	if status != "todo" {
		t.Fatalf("stg_c status = %q, want todo", status)
	}
}

func TestCompleteStageLeavesActiveSuccessorAlone(t *testing.T) {
	db, st := openTestStore(t)
	ctx := context.Background()
	seedProject(t, db, "prj_1")
	seedStages(t, db, "prj_1", "stg_a", "stg_b")

	if _, err := db.ExecContext(ctx, `UPDATE stages SET status='approved' WHERE id='stg_b'`); err != nil {
		t.Fatalf("set successor status: %v", err)
	}

	_, successor, err := st.CompleteStage(ctx, "prj_1", "stg_a", "")
	if err != nil {
		t.Fatalf("CompleteStage: %v", err)
	}
	if successor != nil {
		t.Fatalf("expected no activation for an approved successor, got %+v", successor)
	}

	var status string
	if err := db.QueryRowContext(ctx, `SELECT status FROM stages WHERE id='stg_b'`).Scan(&status); err != nil {
		t.Fatalf("query stg_b: %v", err)
	}
	if status != "approved" {
		t.Fatalf("stg_b status = %q, want approved", status)
	}
}

func TestCompleteLastStageReturnsNoSuccessor(t *testing.T) {
	db, st := openTestStore(t)
	ctx := context.Background()
	seedProject(t, db, "prj_1")
	seedStages(t, db, "prj_1", "stg_a")

	completed, successor, err := st.CompleteStage(ctx, "prj_1", "stg_a", "")
	if err != nil {
		t.Fatalf("CompleteStage: %v", err)
	}
	if completed.Status != "done" {
		t.Fatalf("completed status = %q", completed.Status)
	}
	if successor != nil {
		t.Fatalf("expected nil successor for last stage, got %+v", successor)
	}
}
