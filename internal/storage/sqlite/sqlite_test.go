package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/vw-ai/lifetrace/internal/storage"
	"github.com/vw-ai/lifetrace/internal/types"
)

func TestUpsertRawActivityIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	hm := "09:00"
	ra := &types.RawActivity{
		Date:            "2025-08-01",
		Time:            &hm,
		DurationMinutes: 60,
		Details:         "Standup",
		Source:          types.SourceCalendar,
		SourceLink:      "https://calendar.example/a",
	}

	inserted, err := store.UpsertRawActivity(ctx, ra, "a")
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if !inserted {
		t.Fatal("expected first upsert to insert")
	}
	firstID := ra.ID

	// Same event again, with a mutated duration: must update, not insert.
	ra2 := &types.RawActivity{
		Date:            "2025-08-01",
		Time:            &hm,
		DurationMinutes: 90,
		Details:         "Standup (extended)",
		Source:          types.SourceCalendar,
		SourceLink:      "https://calendar.example/a",
	}
	inserted, err = store.UpsertRawActivity(ctx, ra2, "a")
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if inserted {
		t.Fatal("expected second upsert to update the existing row")
	}
	if ra2.ID != firstID {
		t.Fatalf("expected id %d, got %d", firstID, ra2.ID)
	}

	rows, total, err := store.ListRawActivities(ctx, types.RawActivityFilter{Limit: 10})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 1 || len(rows) != 1 {
		t.Fatalf("expected exactly one row, got total=%d len=%d", total, len(rows))
	}
	if rows[0].DurationMinutes != 90 {
		t.Fatalf("expected refreshed duration 90, got %d", rows[0].DurationMinutes)
	}
}

func TestListRawActivitiesPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, date := range []string{"2025-08-01", "2025-08-02", "2025-08-03"} {
		ra := &types.RawActivity{Date: date, Details: "e", Source: types.SourceCalendar}
		if _, err := store.UpsertRawActivity(ctx, ra, string(rune('a'+i))); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	rows, total, err := store.ListRawActivities(ctx, types.RawActivityFilter{Limit: 1})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 3 || len(rows) != 1 {
		t.Fatalf("expected total 3 with one row, got total=%d len=%d", total, len(rows))
	}

	// Inverted date filter yields an empty result, not an error.
	rows, total, err = store.ListRawActivities(ctx, types.RawActivityFilter{
		DateStart: "2025-08-03", DateEnd: "2025-08-01", Limit: 10,
	})
	if err != nil {
		t.Fatalf("inverted range errored: %v", err)
	}
	if total != 0 || len(rows) != 0 {
		t.Fatalf("expected empty result for inverted range, got total=%d", total)
	}
}

func TestTagNameConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateTag(ctx, &types.Tag{Name: "Work"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// Case-differing duplicate is a conflict (names normalize to lowercase).
	_, err := store.CreateTag(ctx, &types.Tag{Name: "WORK"})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	tag, err := store.GetOrCreateTag(ctx, "work", "")
	if err != nil {
		t.Fatalf("get-or-create failed: %v", err)
	}
	if tag.Name != "work" {
		t.Fatalf("expected normalized name, got %q", tag.Name)
	}
}

func seedProcessed(t *testing.T, store *Store, date string, tags map[string]float64) int64 {
	t.Helper()
	ctx := context.Background()

	paID, err := store.CreateProcessedActivity(ctx, &types.ProcessedActivity{
		Date:            date,
		CombinedDetails: "seeded",
		RawActivityIDs:  []int64{1},
		Sources:         []string{types.SourceCalendar},
	})
	if err != nil {
		t.Fatalf("create processed failed: %v", err)
	}
	for name, conf := range tags {
		tag, err := store.GetOrCreateTag(ctx, name, "")
		if err != nil {
			t.Fatalf("get-or-create tag failed: %v", err)
		}
		if err := store.InsertActivityTag(ctx, &types.ActivityTag{
			ProcessedActivityID: paID, TagID: tag.ID, Confidence: conf,
		}); err != nil {
			t.Fatalf("insert activity tag failed: %v", err)
		}
	}
	return paID
}

func TestUsageCountTriggers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedProcessed(t, store, "2025-08-01", map[string]float64{"meeting": 0.9})
	seedProcessed(t, store, "2025-08-02", map[string]float64{"meeting": 0.8})

	tag, err := store.GetTagByName(ctx, "meeting")
	if err != nil {
		t.Fatalf("get tag failed: %v", err)
	}
	if tag.UsageCount != 2 {
		t.Fatalf("expected usage_count 2 from triggers, got %d", tag.UsageCount)
	}

	// Deleting a processed activity cascades and decrements.
	if _, err := store.DeleteProcessedActivitiesInRange(ctx, "2025-08-02", "2025-08-02"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	tag, err = store.GetTagByName(ctx, "meeting")
	if err != nil {
		t.Fatalf("get tag failed: %v", err)
	}
	if tag.UsageCount != 1 {
		t.Fatalf("expected usage_count 1 after cascade, got %d", tag.UsageCount)
	}
}

func TestDeleteTagCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	paID := seedProcessed(t, store, "2025-08-01", map[string]float64{"meeting": 0.9, "work": 0.7})
	tag, err := store.GetTagByName(ctx, "meeting")
	if err != nil {
		t.Fatalf("get tag failed: %v", err)
	}
	if err := store.DeleteTag(ctx, tag.ID); err != nil {
		t.Fatalf("delete tag failed: %v", err)
	}

	remaining, err := store.TagsForProcessedActivity(ctx, paID)
	if err != nil {
		t.Fatalf("tags for activity failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Name != "work" {
		t.Fatalf("expected only 'work' to remain, got %v", remaining)
	}
}

func TestMergeActivityTagsUnion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Activity 1 carries both tags; activity 2 carries only the source.
	seedProcessed(t, store, "2025-08-01", map[string]float64{"meetings": 0.8, "meeting": 0.9})
	pa2 := seedProcessed(t, store, "2025-08-02", map[string]float64{"meetings": 0.7})

	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if _, err := tx.MergeActivityTags(ctx, "meetings", "meeting", "", ""); err != nil {
			return err
		}
		if err := tx.DeleteTagByName(ctx, "meetings"); err != nil {
			return err
		}
		return tx.RecomputeTagUsage(ctx, "meetings", "meeting")
	})
	if err != nil {
		t.Fatalf("merge transaction failed: %v", err)
	}

	if _, err := store.GetTagByName(ctx, "meetings"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected meetings gone, got %v", err)
	}
	tag, err := store.GetTagByName(ctx, "meeting")
	if err != nil {
		t.Fatalf("get target failed: %v", err)
	}
	// Union per activity: activity 1 keeps one link, activity 2 gains one.
	if tag.UsageCount != 2 {
		t.Fatalf("expected union usage 2, got %d", tag.UsageCount)
	}
	tags, err := store.TagsForProcessedActivity(ctx, pa2)
	if err != nil {
		t.Fatalf("tags for activity failed: %v", err)
	}
	if len(tags) != 1 || tags[0].Name != "meeting" {
		t.Fatalf("expected activity 2 rewritten to meeting, got %v", tags)
	}
}

func TestTransactionRollback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if _, err := tx.CreateProcessedActivity(ctx, &types.ProcessedActivity{
			Date: "2025-08-01", RawActivityIDs: []int64{1}, Sources: []string{"calendar"},
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	_, total, err := store.ListProcessedActivities(ctx, types.ProcessedActivityFilter{Limit: 10})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected rollback to discard the row, got %d", total)
	}
}

func TestMigrationsRecordVersions(t *testing.T) {
	store := newTestStore(t)

	version, err := store.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("schema version failed: %v", err)
	}
	want := migrationsList[len(migrationsList)-1].Version
	if version != want {
		t.Fatalf("expected schema version %d, got %d", want, version)
	}
}
