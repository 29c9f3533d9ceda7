package cleaner

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/vw-ai/lifetrace/internal/storage"
	"github.com/vw-ai/lifetrace/internal/storage/sqlite"
	"github.com/vw-ai/lifetrace/internal/types"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "test.db"), 0, nil)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedActivity(t *testing.T, store *sqlite.Store, date string, tags ...string) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := store.CreateProcessedActivity(ctx, &types.ProcessedActivity{
		Date:            date,
		CombinedDetails: "seeded activity",
		RawActivityIDs:  []int64{1},
		Sources:         []string{types.SourceCalendar},
	})
	if err != nil {
		t.Fatalf("seed processed failed: %v", err)
	}
	for _, name := range tags {
		tag, err := store.GetOrCreateTag(ctx, name, "")
		if err != nil {
			t.Fatalf("seed tag failed: %v", err)
		}
		if err := store.InsertActivityTag(ctx, &types.ActivityTag{
			ProcessedActivityID: id, TagID: tag.ID, Confidence: 0.8,
		}); err != nil {
			t.Fatalf("seed link failed: %v", err)
		}
	}
	return id
}

func TestFallbackAnalyzePatterns(t *testing.T) {
	usages := []*types.TagUsage{
		{Name: "scheduled_activity", UsageCount: 5},
		{Name: "meetings", UsageCount: 2},
		{Name: "meeting", UsageCount: 8},
		{Name: "coding", UsageCount: 4},
	}
	byTag := map[string]Analysis{}
	for _, a := range FallbackAnalyze(usages) {
		byTag[a.TagName] = a
	}

	if a := byTag["scheduled_activity"]; a.Action != ActionRemove || a.Confidence < 0.8 {
		t.Fatalf("scheduled_activity should be removed with high confidence, got %+v", a)
	}
	if a := byTag["meetings"]; a.Action != ActionRemove {
		// "meetings" hits the redundant_plurals pattern before the merge
		// heuristic gets a chance.
		t.Fatalf("meetings should match the plural pattern, got %+v", a)
	}
	if a := byTag["meeting"]; a.Action != ActionKeep {
		t.Fatalf("meeting should be kept, got %+v", a)
	}
	if a := byTag["coding"]; a.Action != ActionKeep {
		t.Fatalf("coding should be kept, got %+v", a)
	}
}

func TestFallbackMergeHeuristic(t *testing.T) {
	usages := []*types.TagUsage{
		{Name: "workout", UsageCount: 1},
		{Name: "workouts", UsageCount: 5},
	}
	byTag := map[string]Analysis{}
	for _, a := range FallbackAnalyze(usages) {
		byTag[a.TagName] = a
	}
	if a := byTag["workout"]; a.Action != ActionMerge || a.MergeTarget != "workouts" {
		t.Fatalf("workout should merge into the higher-usage plural, got %+v", a)
	}
}

// scriptedChat classifies per a canned JSON payload.
type scriptedChat struct{ response string }

func (s *scriptedChat) Complete(_ context.Context, _, _ string, _ int64) (string, error) {
	return s.response, nil
}

func TestTwoPhaseCleanup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedActivity(t, store, "2025-08-01", "scheduled_activity", "meetings", "meeting")
	seedActivity(t, store, "2025-08-02", "meetings")

	chat := &scriptedChat{response: `{"actions": [
		{"tag": "scheduled_activity", "action": "remove", "reason": "system artifact", "confidence": 0.95},
		{"tag": "meetings", "action": "merge", "merge_into": "meeting", "reason": "plural variant", "confidence": 0.9},
		{"tag": "meeting", "action": "keep", "reason": "meaningful", "confidence": 0.9}
	]}`}

	summary, err := New(store, chat, nil).Clean(ctx, Request{
		DryRun:           false,
		RemovalThreshold: 0.8,
		MergeThreshold:   0.6,
	})
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if summary.Removed != 1 || summary.Merged != 1 {
		t.Fatalf("expected 1 removal and 1 merge, got %+v", summary)
	}

	// Final tag set is {meeting}; union semantics give it both activities.
	if _, err := store.GetTagByName(ctx, "scheduled_activity"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("scheduled_activity should be deleted, got %v", err)
	}
	if _, err := store.GetTagByName(ctx, "meetings"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("meetings should be deleted, got %v", err)
	}
	tag, err := store.GetTagByName(ctx, "meeting")
	if err != nil {
		t.Fatalf("meeting should survive: %v", err)
	}
	if tag.UsageCount != 2 {
		t.Fatalf("expected union usage 2, got %d", tag.UsageCount)
	}
}

func TestMergeNeverTargetsRemovedTag(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedActivity(t, store, "2025-08-01", "tasks", "task", "planning")

	// The LLM proposes merging into a tag that Phase A removes; the merge
	// must be dropped rather than resurrect the target.
	chat := &scriptedChat{response: `{"actions": [
		{"tag": "planning", "action": "remove", "reason": "generic", "confidence": 0.95},
		{"tag": "task", "action": "merge", "merge_into": "planning", "reason": "related", "confidence": 0.9},
		{"tag": "tasks", "action": "remove", "reason": "artifact", "confidence": 0.95}
	]}`}

	summary, err := New(store, chat, nil).Clean(ctx, Request{
		RemovalThreshold: 0.8,
		MergeThreshold:   0.6,
	})
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if summary.MarkedForMerge != 0 {
		t.Fatalf("merge into removed target must be dropped, got %+v", summary)
	}
	if _, err := store.GetTagByName(ctx, "task"); err != nil {
		t.Fatalf("task should survive untouched: %v", err)
	}
}

func TestScopedCleanupKeepsTagRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inRange := seedActivity(t, store, "2025-08-01", "stuff")
	outOfRange := seedActivity(t, store, "2025-09-01", "stuff")

	summary, err := New(store, nil, nil).Clean(ctx, Request{
		RemovalThreshold: 0.8,
		MergeThreshold:   0.8,
		DateStart:        "2025-08-01",
		DateEnd:          "2025-08-31",
	})
	if err != nil {
		t.Fatalf("scoped cleanup failed: %v", err)
	}
	if !summary.Scoped {
		t.Fatal("expected a scoped run")
	}

	// The tag row survives a scoped run; only in-range links go.
	if _, err := store.GetTagByName(ctx, "stuff"); err != nil {
		t.Fatalf("scoped run must not delete tag rows: %v", err)
	}
	tagsIn, err := store.TagsForProcessedActivity(ctx, inRange)
	if err != nil {
		t.Fatalf("tags lookup failed: %v", err)
	}
	if len(tagsIn) != 0 {
		t.Fatalf("in-range link should be removed, got %v", tagsIn)
	}
	tagsOut, err := store.TagsForProcessedActivity(ctx, outOfRange)
	if err != nil {
		t.Fatalf("tags lookup failed: %v", err)
	}
	if len(tagsOut) != 1 {
		t.Fatalf("out-of-range link must survive, got %v", tagsOut)
	}
}

func TestDryRunMutatesNothing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedActivity(t, store, "2025-08-01", "scheduled_activity")

	summary, err := New(store, nil, nil).Clean(ctx, Request{DryRun: true, RemovalThreshold: 0.8})
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if summary.MarkedForRemoval != 1 || summary.Removed != 0 {
		t.Fatalf("dry run should mark but not remove, got %+v", summary)
	}
	if _, err := store.GetTagByName(ctx, "scheduled_activity"); err != nil {
		t.Fatalf("dry run must not mutate: %v", err)
	}
}
