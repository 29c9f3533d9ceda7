package processor

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vw-ai/lifetrace/internal/storage/sqlite"
	"github.com/vw-ai/lifetrace/internal/tagger"
	"github.com/vw-ai/lifetrace/internal/taxonomy"
	"github.com/vw-ai/lifetrace/internal/types"
)

func newTestProcessor(t *testing.T) (*Processor, *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "test.db"), 0, nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	resources, err := taxonomy.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("failed to open resources: %v", err)
	}
	if err := resources.Save(
		&taxonomy.Taxonomy{Taxonomy: map[string]taxonomy.Category{
			"work":     {Keywords: []string{"meeting", "standup"}},
			"personal": {},
		}},
		&taxonomy.Synonyms{Synonyms: map[string][]string{}},
	); err != nil {
		t.Fatalf("failed to seed taxonomy: %v", err)
	}

	tg := tagger.New(resources, nil, nil)
	return New(store, tg, nil, nil, "", nil), store
}

func seedRaw(t *testing.T, store *sqlite.Store, date, details string) {
	t.Helper()
	if _, err := store.UpsertRawActivity(context.Background(), &types.RawActivity{
		Date: date, Details: details, Source: types.SourceCalendar, DurationMinutes: 30,
	}, details); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func TestProcessCreatesTaggedActivities(t *testing.T) {
	p, store := newTestProcessor(t)
	ctx := context.Background()

	seedRaw(t, store, "2025-08-01", "Team standup meeting")
	seedRaw(t, store, "2025-08-02", "afternoon walk")

	report, err := p.Process(ctx, Options{DateStart: "2025-08-01", DateEnd: "2025-08-02"})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if report.Counters.RawActivities != 2 || report.Counters.ProcessedActivities != 2 {
		t.Fatalf("unexpected counters: %+v", report.Counters)
	}
	if report.Counters.AverageTagsPerActivity <= 0 {
		t.Fatal("expected tags to be assigned")
	}

	items, total, err := store.ListProcessedActivities(ctx, types.ProcessedActivityFilter{Limit: 10})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 processed activities, got %d", total)
	}
	for _, pa := range items {
		if len(pa.RawActivityIDs) != 1 {
			t.Fatalf("one processed per raw today, got %v", pa.RawActivityIDs)
		}
		if len(pa.Sources) != 1 || pa.Sources[0] != types.SourceCalendar {
			t.Fatalf("sources must mirror the raw activity, got %v", pa.Sources)
		}
		tags, err := store.TagsForProcessedActivity(ctx, pa.ID)
		if err != nil {
			t.Fatalf("tags lookup failed: %v", err)
		}
		if len(tags) == 0 {
			t.Fatalf("activity %d has no tags", pa.ID)
		}
	}
}

func TestReprocessReplacesRange(t *testing.T) {
	p, store := newTestProcessor(t)
	ctx := context.Background()

	seedRaw(t, store, "2025-08-01", "Team standup meeting")

	if _, err := p.Process(ctx, Options{DateStart: "2025-08-01", DateEnd: "2025-08-02"}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if _, err := p.Process(ctx, Options{DateStart: "2025-08-01", DateEnd: "2025-08-02"}); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	_, total, err := store.ListProcessedActivities(ctx, types.ProcessedActivityFilter{Limit: 10})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 1 {
		t.Fatalf("reprocessing must replace, not duplicate: got %d", total)
	}
}

func TestJobLifecycle(t *testing.T) {
	p, store := newTestProcessor(t)
	seedRaw(t, store, "2025-08-01", "Team standup meeting")

	job := p.Start(context.Background(), Options{})
	if job.Status != StatusRunning {
		t.Fatalf("expected running, got %s", job.Status)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		current, ok := p.Jobs().Get(job.ID)
		if !ok {
			t.Fatal("job vanished")
		}
		if current.Status == StatusCompleted {
			if current.Counters == nil || current.Counters.ProcessedActivities != 1 {
				t.Fatalf("unexpected counters: %+v", current.Counters)
			}
			break
		}
		if current.Status == StatusFailed {
			t.Fatalf("job failed: %s", current.Error)
		}
		if time.Now().After(deadline) {
			t.Fatal("job did not complete in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	snap, ok := p.Jobs().Progress(job.ID)
	if !ok || snap.Status != StatusCompleted || snap.Progress != 100 {
		t.Fatalf("unexpected final snapshot: %+v", snap)
	}
}

func TestJobStoreSnapshotBounds(t *testing.T) {
	jobs := NewJobStore()
	jobs.Create("job-1", func() {})

	longText := strings.Repeat("x", 500)
	manyTags := make([]string, 20)
	for i := range manyTags {
		manyTags[i] = "tag"
	}
	jobs.Update("job-1", Snapshot{
		Status:          StatusRunning,
		CurrentActivity: longText,
		CurrentTags:     manyTags,
	})

	snap, _ := jobs.Progress("job-1")
	if len(snap.CurrentActivity) != 200 {
		t.Fatalf("activity text must clip to 200, got %d", len(snap.CurrentActivity))
	}
	if len(snap.CurrentTags) != 10 {
		t.Fatalf("tags must clip to 10, got %d", len(snap.CurrentTags))
	}
}

func TestJobHistoryOrder(t *testing.T) {
	jobs := NewJobStore()
	jobs.Create("first", func() {})
	time.Sleep(5 * time.Millisecond)
	jobs.Create("second", func() {})

	history := jobs.History(10)
	if len(history) != 2 || history[0].ID != "second" {
		t.Fatalf("history must be newest first, got %v", history)
	}
	if got := jobs.History(1); len(got) != 1 {
		t.Fatalf("limit must apply, got %d", len(got))
	}
}

func TestProcessNoData(t *testing.T) {
	p, _ := newTestProcessor(t)

	report, err := p.Process(context.Background(), Options{})
	if err != nil {
		t.Fatalf("empty run failed: %v", err)
	}
	if report.Status != "no_data" {
		t.Fatalf("expected no_data, got %s", report.Status)
	}
}
