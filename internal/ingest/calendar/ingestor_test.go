package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

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

// fakeProvider serves canned event pages per calendar.
type fakeProvider struct {
	pages map[string][][]Event
	calls int
	err   error
}

func (f *fakeProvider) Events(_ context.Context, calendarID string, _, _ time.Time, pageToken string) ([]Event, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	pages := f.pages[calendarID]
	idx := 0
	if pageToken != "" {
		idx = int(pageToken[0] - '0')
	}
	if idx >= len(pages) {
		return nil, "", nil
	}
	next := ""
	if idx+1 < len(pages) {
		next = string(rune('0' + idx + 1))
	}
	return pages[idx], next, nil
}

func testEvents() []Event {
	return []Event{
		{
			ID:      "a",
			Summary: "Standup",
			Start:   "2025-08-01T09:00:00Z",
			End:     "2025-08-01T10:00:00Z",
			Raw:     json.RawMessage(`{"id":"a"}`),
		},
		{
			ID:      "b",
			Summary: "Conference",
			Start:   "2025-08-02",
			End:     "2025-08-03",
			Raw:     json.RawMessage(`{"id":"b"}`),
		},
	}
}

func TestIngestWindow(t *testing.T) {
	store := newTestStore(t)
	provider := &fakeProvider{pages: map[string][][]Event{"primary": {testEvents()}}}
	in := NewIngestor(store, provider, nil)
	ctx := context.Background()

	res, err := in.Ingest(ctx, "2025-08-01", "2025-08-02", nil, time.Time{})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if res.Inserted != 2 {
		t.Fatalf("expected 2 insertions, got %+v", res)
	}

	rows, err := store.RawActivitiesInRange(ctx, "2025-08-01", "2025-08-02")
	if err != nil {
		t.Fatalf("range query failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	timed := rows[0]
	if timed.Time == nil || *timed.Time != "09:00" {
		t.Fatalf("expected 09:00, got %v", timed.Time)
	}
	if timed.DurationMinutes != 60 {
		t.Fatalf("expected 60 minutes, got %d", timed.DurationMinutes)
	}
	if timed.Details != "Standup" {
		t.Fatalf("expected summary as details, got %q", timed.Details)
	}

	allDay := rows[1]
	if allDay.Time != nil {
		t.Fatalf("all-day event must have no time, got %v", *allDay.Time)
	}
	if allDay.DurationMinutes != 1440 {
		t.Fatalf("expected 1440 minutes for the all-day span, got %d", allDay.DurationMinutes)
	}
}

func TestIngestIdempotent(t *testing.T) {
	store := newTestStore(t)
	provider := &fakeProvider{pages: map[string][][]Event{"primary": {testEvents()}}}
	in := NewIngestor(store, provider, nil)
	ctx := context.Background()

	if _, err := in.Ingest(ctx, "2025-08-01", "2025-08-02", nil, time.Time{}); err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	res, err := in.Ingest(ctx, "2025-08-01", "2025-08-02", nil, time.Time{})
	if err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}
	if res.Inserted != 0 || res.Updated != 2 {
		t.Fatalf("re-ingest must update, not insert: %+v", res)
	}

	rows, err := store.RawActivitiesInRange(ctx, "", "")
	if err != nil {
		t.Fatalf("range query failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows after re-ingest, got %d", len(rows))
	}
}

func TestIngestPagination(t *testing.T) {
	store := newTestStore(t)
	events := testEvents()
	provider := &fakeProvider{pages: map[string][][]Event{
		"primary": {{events[0]}, {events[1]}},
	}}
	in := NewIngestor(store, provider, nil)

	res, err := in.Ingest(context.Background(), "2025-08-01", "2025-08-02", nil, time.Time{})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if res.Inserted != 2 {
		t.Fatalf("expected both pages ingested, got %+v", res)
	}
}

func TestIngestSkipsStaleUpdates(t *testing.T) {
	store := newTestStore(t)
	events := testEvents()
	events[0].Updated = "2025-07-01T00:00:00Z"
	events[1].Updated = "2025-08-02T00:00:00Z"
	provider := &fakeProvider{pages: map[string][][]Event{"primary": {events}}}
	in := NewIngestor(store, provider, nil)

	cutoff := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	res, err := in.Ingest(context.Background(), "2025-08-01", "2025-08-02", nil, cutoff)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if res.Inserted != 1 || res.Skipped != 1 {
		t.Fatalf("expected one insert and one stale skip, got %+v", res)
	}
}

func TestIngestProviderFailureMovesOn(t *testing.T) {
	store := newTestStore(t)
	provider := &fakeProvider{err: errors.New("HTTP 500")}
	in := NewIngestor(store, provider, nil)

	// Provider failure aborts the calendar but not the run.
	res, err := in.Ingest(context.Background(), "2025-08-01", "2025-08-02", []string{"one", "two"}, time.Time{})
	if err != nil {
		t.Fatalf("run should not fail: %v", err)
	}
	if res.Inserted != 0 {
		t.Fatalf("expected nothing ingested, got %+v", res)
	}
	if provider.calls != 2 {
		t.Fatalf("expected both calendars attempted, got %d calls", provider.calls)
	}
}
