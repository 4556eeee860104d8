package tracker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/trakhq/trak/internal/store"
	"github.com/trakhq/trak/pkg/models"
)

func testTracker(t *testing.T, cfg Config) (*Tracker, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "trak.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, cfg, nil), st
}

func event(eventType models.EventType, ts time.Time) *models.Event {
	return &models.Event{
		EventType:   eventType,
		SessionID:   "s",
		ProjectID:   "p",
		ProjectName: "demo",
		Timestamp:   ts,
	}
}

func TestThresholdDrivenNotification(t *testing.T) {
	tr, _ := testTracker(t, Config{NotifyThreshold: time.Second})
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	// Fast transaction: completes but does not notify.
	if _, _, err := tr.ProcessEvent(ctx, event(models.EventUserPromptSubmit, t0)); err != nil {
		t.Fatal(err)
	}
	completed, notify, err := tr.ProcessEvent(ctx, event(models.EventStop, t0.Add(100*time.Millisecond)))
	if err != nil {
		t.Fatal(err)
	}
	if completed == nil {
		t.Fatal("no completion emitted")
	}
	if completed.DurationMs < 100 || completed.DurationMs > 200 {
		t.Fatalf("durationMs = %d, want [100,200]", completed.DurationMs)
	}
	if notify {
		t.Fatal("100ms transaction crossed a 1s threshold")
	}

	// Slow transaction: notifies.
	if _, _, err := tr.ProcessEvent(ctx, event(models.EventUserPromptSubmit, t0)); err != nil {
		t.Fatal(err)
	}
	completed, notify, err = tr.ProcessEvent(ctx, event(models.EventStop, t0.Add(5*time.Second)))
	if err != nil {
		t.Fatal(err)
	}
	if completed == nil || !notify {
		t.Fatalf("5s transaction should notify (completed=%v notify=%v)", completed != nil, notify)
	}
}

func TestThresholdComparisonIsInclusive(t *testing.T) {
	tr, _ := testTracker(t, Config{NotifyThreshold: time.Second})
	ctx := context.Background()
	t0 := time.Now().UTC()

	if _, _, err := tr.ProcessEvent(ctx, event(models.EventUserPromptSubmit, t0)); err != nil {
		t.Fatal(err)
	}
	_, notify, err := tr.ProcessEvent(ctx, event(models.EventStop, t0.Add(time.Second)))
	if err != nil {
		t.Fatal(err)
	}
	if !notify {
		t.Fatal("duration exactly at threshold must notify")
	}
}

func TestCrashRecoveryFromStore(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "trak.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	ctx := context.Background()

	startTime := time.Now().UTC().Add(-3 * time.Second)
	if err := st.SaveTransaction(ctx, &models.ActiveTransaction{
		ProjectID: "p", SessionID: "s", ProjectName: "demo", StartTime: startTime,
		PromptText: "persisted prompt",
	}); err != nil {
		t.Fatal(err)
	}

	// Fresh tracker, empty memory: the Stop must recover lazily.
	tr := New(st, Config{NotifyThreshold: time.Second}, nil)
	completed, notify, err := tr.ProcessEvent(ctx, event(models.EventStop, startTime.Add(3*time.Second)))
	if err != nil {
		t.Fatal(err)
	}
	if completed == nil {
		t.Fatal("no completion from recovered transaction")
	}
	if completed.DurationMs < 3000 || completed.DurationMs >= 4000 {
		t.Fatalf("durationMs = %d, want [3000,4000)", completed.DurationMs)
	}
	if completed.PromptText != "persisted prompt" {
		t.Fatalf("PromptText = %q, recovery lost it", completed.PromptText)
	}
	if !notify {
		t.Fatal("3s transaction should notify at 1s threshold")
	}

	pending, err := st.GetPendingTransactions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after completion = %d, want 0", len(pending))
	}
}

func TestOrphanStopSynthesizesZeroDuration(t *testing.T) {
	tr, _ := testTracker(t, Config{NotifyThreshold: time.Second})
	completed, notify, err := tr.ProcessEvent(context.Background(), event(models.EventStop, time.Now().UTC()))
	if err != nil {
		t.Fatal(err)
	}
	if completed == nil {
		t.Fatal("orphan Stop must still produce a completion")
	}
	if completed.DurationMs != 0 {
		t.Fatalf("durationMs = %d, want 0", completed.DurationMs)
	}
	if notify {
		t.Fatal("zero-duration completion crossed a 1s threshold")
	}
}

func TestPostToolUseWithoutSubmitOpensTransaction(t *testing.T) {
	tr, _ := testTracker(t, Config{})
	ctx := context.Background()
	t0 := time.Now().UTC()

	tool := event(models.EventPostToolUse, t0)
	tool.ToolName = "Edit"
	tool.ToolInput = map[string]any{"file_path": "/a.ts"}
	if _, _, err := tr.ProcessEvent(ctx, tool); err != nil {
		t.Fatal(err)
	}
	if tr.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", tr.ActiveCount())
	}

	completed, _, err := tr.ProcessEvent(ctx, event(models.EventStop, t0.Add(time.Second)))
	if err != nil {
		t.Fatal(err)
	}
	if completed.PromptText != "" {
		t.Fatalf("PromptText = %q, want empty", completed.PromptText)
	}
	if len(completed.ToolsUsed) != 1 || completed.ToolsUsed[0] != "Edit" {
		t.Fatalf("ToolsUsed = %v", completed.ToolsUsed)
	}
	if len(completed.FilesModified) != 1 || completed.FilesModified[0] != "/a.ts" {
		t.Fatalf("FilesModified = %v", completed.FilesModified)
	}
}

func TestAccumulatorsDeduplicatePreservingOrder(t *testing.T) {
	tr, _ := testTracker(t, Config{})
	ctx := context.Background()
	t0 := time.Now().UTC()

	if _, _, err := tr.ProcessEvent(ctx, event(models.EventUserPromptSubmit, t0)); err != nil {
		t.Fatal(err)
	}
	for _, use := range []struct{ tool, path string }{
		{"Edit", "/a.ts"},
		{"Bash", ""},
		{"Edit", "/b.ts"},
		{"Edit", "/a.ts"},
	} {
		e := event(models.EventPostToolUse, t0)
		e.ToolName = use.tool
		if use.path != "" {
			e.ToolInput = map[string]any{"file_path": use.path}
		}
		if _, _, err := tr.ProcessEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	stop := event(models.EventStop, t0.Add(time.Second))
	stop.ToolsUsed = []string{"Bash", "Write"}
	stop.FilesModified = []string{"/a.ts", "/c.ts"}
	completed, _, err := tr.ProcessEvent(ctx, stop)
	if err != nil {
		t.Fatal(err)
	}

	wantTools := []string{"Edit", "Bash", "Write"}
	if len(completed.ToolsUsed) != len(wantTools) {
		t.Fatalf("ToolsUsed = %v, want %v", completed.ToolsUsed, wantTools)
	}
	for i, tool := range wantTools {
		if completed.ToolsUsed[i] != tool {
			t.Fatalf("ToolsUsed = %v, want %v", completed.ToolsUsed, wantTools)
		}
	}
	wantFiles := []string{"/a.ts", "/b.ts", "/c.ts"}
	for i, f := range wantFiles {
		if completed.FilesModified[i] != f {
			t.Fatalf("FilesModified = %v, want %v", completed.FilesModified, wantFiles)
		}
	}
}

func TestNewPromptReplacesOpenTransaction(t *testing.T) {
	tr, st := testTracker(t, Config{})
	ctx := context.Background()
	t0 := time.Now().UTC()

	first := event(models.EventUserPromptSubmit, t0.Add(-time.Minute))
	first.PromptText = "old task"
	if _, _, err := tr.ProcessEvent(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := event(models.EventUserPromptSubmit, t0)
	second.PromptText = "new task"
	if _, _, err := tr.ProcessEvent(ctx, second); err != nil {
		t.Fatal(err)
	}

	// At most one non-completed entry per key, in memory and durably.
	if tr.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", tr.ActiveCount())
	}
	pending, err := st.GetPendingTransactions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].PromptText != "new task" {
		t.Fatalf("pending = %+v, want single new-task row", pending)
	}

	completed, _, err := tr.ProcessEvent(ctx, event(models.EventStop, t0.Add(time.Second)))
	if err != nil {
		t.Fatal(err)
	}
	if completed.PromptText != "new task" {
		t.Fatalf("PromptText = %q, want new task", completed.PromptText)
	}
}

func TestStopPromptTextFillsMissingPrompt(t *testing.T) {
	tr, _ := testTracker(t, Config{})
	ctx := context.Background()
	t0 := time.Now().UTC()

	tool := event(models.EventPostToolUse, t0)
	tool.ToolName = "Bash"
	if _, _, err := tr.ProcessEvent(ctx, tool); err != nil {
		t.Fatal(err)
	}
	stop := event(models.EventStop, t0.Add(time.Second))
	stop.PromptText = "from stop"
	completed, _, err := tr.ProcessEvent(ctx, stop)
	if err != nil {
		t.Fatal(err)
	}
	if completed.PromptText != "from stop" {
		t.Fatalf("PromptText = %q", completed.PromptText)
	}
}

func TestSweepReapsMemoryAndStore(t *testing.T) {
	tr, st := testTracker(t, Config{StaleAfter: time.Hour})
	ctx := context.Background()

	// Stale entry in memory (and persisted by ProcessEvent).
	stale := event(models.EventUserPromptSubmit, time.Now().UTC().Add(-2*time.Hour))
	if _, _, err := tr.ProcessEvent(ctx, stale); err != nil {
		t.Fatal(err)
	}
	// Store-only stale row from a previous process.
	if err := st.SaveTransaction(ctx, &models.ActiveTransaction{
		ProjectID: "p2", SessionID: "s2", ProjectName: "demo",
		StartTime: time.Now().UTC().Add(-3 * time.Hour),
	}); err != nil {
		t.Fatal(err)
	}
	// Fresh entry survives.
	fresh := event(models.EventUserPromptSubmit, time.Now().UTC())
	fresh.SessionID = "fresh"
	if _, _, err := tr.ProcessEvent(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	dropped, err := tr.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if dropped != 3 {
		// Two store rows (stale in-memory one was persisted too) plus
		// the in-memory copy.
		t.Fatalf("dropped = %d, want 3", dropped)
	}
	if tr.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1 fresh entry", tr.ActiveCount())
	}
}

func TestSessionStartIsIgnored(t *testing.T) {
	tr, _ := testTracker(t, Config{})
	completed, notify, err := tr.ProcessEvent(context.Background(), event(models.EventSessionStart, time.Now()))
	if err != nil || completed != nil || notify {
		t.Fatalf("SessionStart = (%v, %v, %v), want (nil, false, nil)", completed, notify, err)
	}
	if tr.ActiveCount() != 0 {
		t.Fatal("SessionStart created state")
	}
}

func TestRecoverRestoresPendingTransactions(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "trak.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	first := New(st, Config{NotifyThreshold: time.Second}, nil)
	if _, _, err := first.ProcessEvent(ctx, event(models.EventUserPromptSubmit, t0)); err != nil {
		t.Fatal(err)
	}

	// A fresh tracker on the same store simulates a restart.
	second := New(st, Config{NotifyThreshold: time.Second}, nil)
	restored, err := second.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if restored != 1 || second.ActiveCount() != 1 {
		t.Fatalf("restored = %d, active = %d, want 1 and 1", restored, second.ActiveCount())
	}

	// The recovered start time drives the duration on Stop.
	completed, notify, err := second.ProcessEvent(ctx, event(models.EventStop, t0.Add(5*time.Second)))
	if err != nil {
		t.Fatal(err)
	}
	if completed == nil || !notify {
		t.Fatalf("completed = %v, notify = %v", completed, notify)
	}
	if completed.DurationMs != 5000 {
		t.Fatalf("DurationMs = %d, want 5000", completed.DurationMs)
	}
}

func TestRecoverSkipsKeysAlreadyActive(t *testing.T) {
	tr, _ := testTracker(t, Config{})
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, _, err := tr.ProcessEvent(ctx, event(models.EventUserPromptSubmit, t0)); err != nil {
		t.Fatal(err)
	}
	restored, err := tr.Recover(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if restored != 0 {
		t.Fatalf("restored = %d, want 0 for already-active key", restored)
	}
}
