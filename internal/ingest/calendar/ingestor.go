package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vw-ai/lifetrace/internal/storage"
	"github.com/vw-ai/lifetrace/internal/types"
)

// maxDetailsLen bounds the stored details text.
const maxDetailsLen = 1000

// Ingestor pulls calendar events in a date window and upserts them as raw
// activities with source=calendar.
type Ingestor struct {
	store    storage.Storage
	provider Provider
	log      *slog.Logger
}

// NewIngestor wires a provider to the store.
func NewIngestor(store storage.Storage, provider Provider, log *slog.Logger) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{store: store, provider: provider, log: log}
}

// Result reports one ingestion run.
type Result struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Ingest pulls [startDate, endDate] inclusive (YYYY-MM-DD) from the given
// calendars (default: primary) and upserts events in provider order. Events
// whose updated timestamp is older than sinceUpdated are skipped when
// sinceUpdated is non-zero. Re-ingesting the same window never duplicates
// rows; mutable fields are refreshed.
func (in *Ingestor) Ingest(ctx context.Context, startDate, endDate string, calendarIDs []string, sinceUpdated time.Time) (*Result, error) {
	timeMin, timeMax, err := windowBounds(startDate, endDate)
	if err != nil {
		return nil, err
	}
	if len(calendarIDs) == 0 {
		calendarIDs = []string{"primary"}
	}

	res := &Result{}
	for _, calID := range calendarIDs {
		if err := in.ingestCalendar(ctx, calID, timeMin, timeMax, sinceUpdated, res); err != nil {
			// An HTTP failure aborts this calendar only; the run moves on.
			in.log.Error("calendar aborted", "calendar", calID, "error", err)
		}
	}
	in.log.Info("calendar ingest complete",
		"inserted", res.Inserted, "updated", res.Updated,
		"skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

func (in *Ingestor) ingestCalendar(ctx context.Context, calID string, timeMin, timeMax, sinceUpdated time.Time, res *Result) error {
	pageToken := ""
	for {
		events, next, err := in.provider.Events(ctx, calID, timeMin, timeMax, pageToken)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if !sinceUpdated.IsZero() && ev.Updated != "" {
				if updated, err := time.Parse(time.RFC3339, ev.Updated); err == nil && updated.Before(sinceUpdated) {
					res.Skipped++
					continue
				}
			}
			inserted, err := in.upsertEvent(ctx, ev)
			if err != nil {
				res.Failed++
				in.log.Warn("failed to upsert event", "event", ev.ID, "error", err)
				continue
			}
			if inserted {
				res.Inserted++
			} else {
				res.Updated++
			}
		}
		if next == "" {
			return nil
		}
		pageToken = next
	}
}

func (in *Ingestor) upsertEvent(ctx context.Context, ev Event) (bool, error) {
	if ev.Start == "" {
		return false, fmt.Errorf("event %q has no start", ev.ID)
	}

	ra := &types.RawActivity{
		Source:        types.SourceCalendar,
		SourceLink:    ev.HTMLLink,
		SourcePayload: ev.Raw,
	}

	if len(ev.Start) == 10 {
		// Date-only event: no time; the duration is the all-day span set
		// below, or zero when the event has no end date.
		ra.Date = ev.Start
	} else {
		start, err := time.Parse(time.RFC3339, ev.Start)
		if err != nil {
			return false, fmt.Errorf("parse event start: %w", err)
		}
		end := start
		if ev.End != "" {
			if e, err := time.Parse(time.RFC3339, ev.End); err == nil {
				end = e
			}
		}
		ra.Date = start.UTC().Format("2006-01-02")
		hm := start.UTC().Format("15:04")
		ra.Time = &hm
		if mins := int(end.Sub(start) / time.Minute); mins > 0 {
			ra.DurationMinutes = mins
		}
	}

	// All-day events spanning [start, end) get the full span in minutes.
	if ra.Time == nil && len(ev.Start) == 10 && len(ev.End) == 10 {
		start, err1 := time.Parse("2006-01-02", ev.Start)
		end, err2 := time.Parse("2006-01-02", ev.End)
		if err1 == nil && err2 == nil && end.After(start) {
			ra.DurationMinutes = int(end.Sub(start) / time.Minute)
		}
	}

	details := ev.Summary
	if details == "" {
		details = ev.Description
	}
	if len(details) > maxDetailsLen {
		details = details[:maxDetailsLen]
	}
	ra.Details = details

	return in.store.UpsertRawActivity(ctx, ra, ev.ID)
}

// windowBounds converts an inclusive [start, end] date range to half-open
// UTC instants at midnight and end-of-day.
func windowBounds(startDate, endDate string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse start date: %w", err)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse end date: %w", err)
	}
	return start.UTC(),
		end.UTC().Add(23*time.Hour + 59*time.Minute + 59*time.Second),
		nil
}
