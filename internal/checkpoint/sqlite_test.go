package checkpoint

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/brightpath-labs/mentorsync/internal/testutil"
	"github.com/brightpath-labs/mentorsync/pkg/core"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(testutil.NewTestLogger(t))
	if err := store.Open(filepath.Join(t.TempDir(), "checkpoints.db")); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestReadCheckpointMissingSource(t *testing.T) {
	store := openTestStore(t)

	cp, err := store.ReadCheckpoint("goals")
	if err != nil {
		t.Fatalf("ReadCheckpoint() error = %v", err)
	}
	if cp.Source != "goals" {
		t.Errorf("Source = %q, want %q", cp.Source, "goals")
	}
	if !cp.Watermark.IsZero() {
		t.Errorf("Watermark = %v, want zero", cp.Watermark)
	}
}

func TestCommitCheckpointFirstCommit(t *testing.T) {
	store := openTestStore(t)

	wm := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := store.CommitCheckpoint("goals", time.Time{}, &core.Checkpoint{
		Source:        "goals",
		Watermark:     wm,
		LastStatus:    core.RunStatusSuccess,
		RecordsSynced: 7,
	})
	if err != nil {
		t.Fatalf("CommitCheckpoint() error = %v", err)
	}

	cp, err := store.ReadCheckpoint("goals")
	if err != nil {
		t.Fatalf("ReadCheckpoint() error = %v", err)
	}
	if !cp.Watermark.Equal(wm) {
		t.Errorf("Watermark = %v, want %v", cp.Watermark, wm)
	}
	if cp.RecordsSynced != 7 {
		t.Errorf("RecordsSynced = %d, want 7", cp.RecordsSynced)
	}
	if cp.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set")
	}
}

func TestCommitCheckpointCAS(t *testing.T) {
	store := openTestStore(t)

	wm1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	wm2 := wm1.Add(time.Hour)

	if err := store.CommitCheckpoint("goals", time.Time{}, &core.Checkpoint{
		Source: "goals", Watermark: wm1, LastStatus: core.RunStatusSuccess,
	}); err != nil {
		t.Fatalf("first commit error = %v", err)
	}

	// Advancing from the current watermark succeeds.
	if err := store.CommitCheckpoint("goals", wm1, &core.Checkpoint{
		Source: "goals", Watermark: wm2, LastStatus: core.RunStatusSuccess,
	}); err != nil {
		t.Fatalf("second commit error = %v", err)
	}

	// A commit based on the stale watermark is rejected.
	err := store.CommitCheckpoint("goals", wm1, &core.Checkpoint{
		Source: "goals", Watermark: wm1.Add(30 * time.Minute), LastStatus: core.RunStatusSuccess,
	})
	if !errors.Is(err, ErrWatermarkConflict) {
		t.Fatalf("stale commit error = %v, want ErrWatermarkConflict", err)
	}

	// The stored watermark is untouched by the rejected commit.
	cp, err := store.ReadCheckpoint("goals")
	if err != nil {
		t.Fatalf("ReadCheckpoint() error = %v", err)
	}
	if !cp.Watermark.Equal(wm2) {
		t.Errorf("Watermark = %v, want %v", cp.Watermark, wm2)
	}
}

func TestCommitCheckpointFirstCommitConflict(t *testing.T) {
	store := openTestStore(t)

	wm := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.CommitCheckpoint("goals", time.Time{}, &core.Checkpoint{
		Source: "goals", Watermark: wm, LastStatus: core.RunStatusSuccess,
	}); err != nil {
		t.Fatalf("first commit error = %v", err)
	}

	// A second first-commit (expected epoch zero) loses the race.
	err := store.CommitCheckpoint("goals", time.Time{}, &core.Checkpoint{
		Source: "goals", Watermark: wm.Add(time.Minute), LastStatus: core.RunStatusSuccess,
	})
	if !errors.Is(err, ErrWatermarkConflict) {
		t.Fatalf("racing first commit error = %v, want ErrWatermarkConflict", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	store := openTestStore(t)

	run, err := store.CreateRun()
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if run.ID == "" {
		t.Fatal("run ID should be set")
	}
	if run.Status != core.RunStatusRunning {
		t.Errorf("Status = %q, want %q", run.Status, core.RunStatusRunning)
	}

	if err := store.CompleteRun(run.ID, core.RunStatusPartial, "goals: boom"); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	got, err := store.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != core.RunStatusPartial {
		t.Errorf("Status = %q, want %q", got.Status, core.RunStatusPartial)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
	if got.Error != "goals: boom" {
		t.Errorf("Error = %q, want %q", got.Error, "goals: boom")
	}
}

func TestCompleteRunUnknownID(t *testing.T) {
	store := openTestStore(t)

	err := store.CompleteRun("nope", core.RunStatusSuccess, "")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("CompleteRun() error = %v, want ErrRunNotFound", err)
	}
}

func TestGetRunUnknownID(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetRun("nope")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("GetRun() error = %v, want ErrRunNotFound", err)
	}
}

func TestSourceResults(t *testing.T) {
	store := openTestStore(t)

	run, err := store.CreateRun()
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	before := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	after := before.Add(time.Hour)

	results := []*core.SourceResult{
		{RunID: run.ID, Source: "logins", Status: core.SourceStatusSuccess, RecordsSynced: 3,
			WatermarkBefore: before, WatermarkAfter: after},
		{RunID: run.ID, Source: "goals", Status: core.SourceStatusFailed, Error: "sink down",
			WatermarkBefore: before, WatermarkAfter: before},
	}
	for _, res := range results {
		if err := store.RecordSourceResult(res); err != nil {
			t.Fatalf("RecordSourceResult(%s) error = %v", res.Source, err)
		}
	}

	got, err := store.GetSourceResults(run.ID)
	if err != nil {
		t.Fatalf("GetSourceResults() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	// Ordered by source for stable output.
	if got[0].Source != "goals" || got[1].Source != "logins" {
		t.Errorf("order = [%s, %s], want [goals, logins]", got[0].Source, got[1].Source)
	}
	if got[0].Error != "sink down" {
		t.Errorf("Error = %q, want %q", got[0].Error, "sink down")
	}
	if !got[1].WatermarkAfter.Equal(after) {
		t.Errorf("WatermarkAfter = %v, want %v", got[1].WatermarkAfter, after)
	}
}

func TestListCheckpointsAndRuns(t *testing.T) {
	store := openTestStore(t)

	for _, src := range []string{"reflections", "goals"} {
		if err := store.CommitCheckpoint(src, time.Time{}, &core.Checkpoint{
			Source: src, Watermark: time.Now().UTC(), LastStatus: core.RunStatusSuccess,
		}); err != nil {
			t.Fatalf("CommitCheckpoint(%s) error = %v", src, err)
		}
	}

	cps, err := store.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints() error = %v", err)
	}
	if len(cps) != 2 {
		t.Fatalf("got %d checkpoints, want 2", len(cps))
	}
	if cps[0].Source != "goals" {
		t.Errorf("first checkpoint = %q, want goals", cps[0].Source)
	}

	for range 3 {
		if _, err := store.CreateRun(); err != nil {
			t.Fatalf("CreateRun() error = %v", err)
		}
	}
	runs, err := store.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("got %d runs, want 2", len(runs))
	}
}
