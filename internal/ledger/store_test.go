package ledger_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"comfybatch/internal/ledger"
	"comfybatch/internal/testsupport"
)

func openStore(t *testing.T) *ledger.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	started := time.Now().Add(-time.Minute)
	if err := store.BeginRun(ctx, ledger.Run{ID: "run-a", Workflow: "animate", Seed: 1<<63 + 5, StartedAt: started}); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	jobs := []ledger.Job{
		{RunID: "run-a", Stage: "animate", Index: 0, Kind: "v2v", Influencer: "alice", Video: "/v/1.mp4", Person: "/p/a.png", Status: "succeeded", ArtifactPath: "/out/a.mp4", Bytes: 42, SHA256: "abc", StartedAt: started, FinishedAt: time.Now()},
		{RunID: "run-a", Stage: "animate", Index: 1, Kind: "v2v", Influencer: "bob", Video: "/v/1.mp4", Person: "/p/b.png", Status: "failed", ErrorKind: "template_binding", ErrorMessage: "node 99 missing"},
	}
	for _, job := range jobs {
		if err := store.RecordJob(ctx, job); err != nil {
			t.Fatalf("RecordJob: %v", err)
		}
	}
	counts := ledger.Counts{Total: 2, Succeeded: 1, Failed: 1}
	if err := store.FinishRun(ctx, "run-a", ledger.RunCompleted, counts, nil); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	run, err := store.GetRun(ctx, "run-")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != ledger.RunCompleted || run.Counts != counts || run.Seed != 1<<63+5 {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.FinishedAt.IsZero() || run.Duration() < time.Minute {
		t.Fatalf("unexpected timing: %+v", run)
	}

	recorded, err := store.RunJobs(ctx, "run-a")
	if err != nil {
		t.Fatalf("RunJobs: %v", err)
	}
	if len(recorded) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(recorded))
	}
	if recorded[0].ArtifactPath != "/out/a.mp4" || recorded[0].Bytes != 42 || recorded[0].StartedAt.IsZero() {
		t.Fatalf("unexpected first job %+v", recorded[0])
	}
	if recorded[1].ErrorKind != "template_binding" || recorded[1].Background != "" {
		t.Fatalf("unexpected second job %+v", recorded[1])
	}
}

func TestRecentRunsNewestFirst(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second", "third"} {
		if err := store.BeginRun(ctx, ledger.Run{ID: id, Workflow: "animate", StartedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("BeginRun: %v", err)
		}
	}
	runs, err := store.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "third" || runs[1].ID != "second" {
		t.Fatalf("unexpected order: %+v", runs)
	}
	if runs[0].Status != ledger.RunRunning {
		t.Fatalf("expected running status, got %q", runs[0].Status)
	}
}

func TestGetRunMissing(t *testing.T) {
	store := openStore(t)
	if _, err := store.GetRun(context.Background(), "nope"); !errors.Is(err, ledger.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if err := store.FinishRun(context.Background(), "nope", ledger.RunAborted, ledger.Counts{}, errors.New("x")); !errors.Is(err, ledger.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound from FinishRun, got %v", err)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := ledger.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("update version: %v", err)
	}
	db.Close()

	if _, err := ledger.OpenPath(path); !errors.Is(err, ledger.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestOpenRejectsUnversionedTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("CREATE TABLE runs (id TEXT PRIMARY KEY)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	db.Close()

	if _, err := ledger.OpenPath(path); !errors.Is(err, ledger.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestOpenReusesExistingLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	for range 2 {
		store, err := ledger.OpenPath(path)
		if err != nil {
			t.Fatalf("OpenPath: %v", err)
		}
		store.Close()
	}
}
