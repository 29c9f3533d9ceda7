package insights

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/vw-ai/lifetrace/internal/storage/sqlite"
	"github.com/vw-ai/lifetrace/internal/types"
)

func newTestService(t *testing.T) (*Service, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "test.db"), 0, nil)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewService(store), store
}

func seed(t *testing.T, store *sqlite.Store, date string, minutes int, tags ...string) {
	t.Helper()
	ctx := context.Background()
	id, err := store.CreateProcessedActivity(ctx, &types.ProcessedActivity{
		Date:                 date,
		TotalDurationMinutes: minutes,
		CombinedDetails:      "seeded",
		RawActivityIDs:       []int64{1},
		Sources:              []string{types.SourceCalendar},
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
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
}

func TestOverviewAggregation(t *testing.T) {
	svc, store := newTestService(t)
	seed(t, store, "2025-08-01", 60, "work")
	seed(t, store, "2025-08-01", 30, "work", "study")
	seed(t, store, "2025-08-02", 90, "health")

	out, err := svc.Overview(context.Background(), "2025-08-01", "2025-08-02")
	if err != nil {
		t.Fatalf("overview failed: %v", err)
	}

	if out.ActivityCount != 3 {
		t.Fatalf("expected 3 activities, got %d", out.ActivityCount)
	}
	if out.TotalTrackedHours != 3.0 {
		t.Fatalf("expected 3.0 tracked hours, got %f", out.TotalTrackedHours)
	}
	if out.UniqueTags != 3 {
		t.Fatalf("expected 3 unique tags, got %d", out.UniqueTags)
	}
	if out.TagTimeDistribution["work"] != 90 {
		t.Fatalf("expected work=90 minutes, got %d", out.TagTimeDistribution["work"])
	}
	if out.DateRange.Start != "2025-08-01" || out.DateRange.End != "2025-08-02" {
		t.Fatalf("unexpected date range: %+v", out.DateRange)
	}
	if len(out.Top5Activities) == 0 || out.Top5Activities[0].Tag != "work" && out.Top5Activities[0].Tag != "health" {
		t.Fatalf("unexpected top activities: %+v", out.Top5Activities)
	}
}

func TestOverviewEmpty(t *testing.T) {
	svc, _ := newTestService(t)

	out, err := svc.Overview(context.Background(), "", "")
	if err != nil {
		t.Fatalf("overview failed: %v", err)
	}
	if out.ActivityCount != 0 || out.TotalTrackedHours != 0 {
		t.Fatalf("expected empty overview, got %+v", out)
	}
	if out.TagTimeDistribution == nil || out.Top5Activities == nil {
		t.Fatal("empty overview must keep non-nil collections")
	}
}

func TestTimeDistributionGrouping(t *testing.T) {
	svc, store := newTestService(t)
	seed(t, store, "2025-08-01", 60, "work") // Friday
	seed(t, store, "2025-08-02", 30, "work") // Saturday, same ISO week
	seed(t, store, "2025-08-04", 90, "work") // Monday, next week

	byDay, err := svc.TimeDistribution(context.Background(), "", "", "day")
	if err != nil {
		t.Fatalf("distribution failed: %v", err)
	}
	if len(byDay.TimeSeries) != 3 {
		t.Fatalf("expected 3 day buckets, got %d", len(byDay.TimeSeries))
	}
	if byDay.Summary.MostProductiveDay != "2025-08-04" {
		t.Fatalf("expected 2025-08-04 most productive, got %s", byDay.Summary.MostProductiveDay)
	}

	byWeek, err := svc.TimeDistribution(context.Background(), "", "", "week")
	if err != nil {
		t.Fatalf("distribution failed: %v", err)
	}
	if len(byWeek.TimeSeries) != 2 {
		t.Fatalf("expected 2 week buckets, got %d", len(byWeek.TimeSeries))
	}

	byMonth, err := svc.TimeDistribution(context.Background(), "", "", "month")
	if err != nil {
		t.Fatalf("distribution failed: %v", err)
	}
	if len(byMonth.TimeSeries) != 1 || byMonth.TimeSeries[0].Date != "2025-08-01" {
		t.Fatalf("expected one month bucket at 2025-08-01, got %+v", byMonth.TimeSeries)
	}
	if byMonth.Summary.TotalPeriodHours != 3.0 {
		t.Fatalf("expected 3.0 period hours, got %f", byMonth.Summary.TotalPeriodHours)
	}
}
