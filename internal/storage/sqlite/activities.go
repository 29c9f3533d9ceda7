package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/vw-ai/lifetrace/internal/storage"
	"github.com/vw-ai/lifetrace/internal/types"
)

const rawActivityColumns = `id, date, time, duration_minutes, details, source,
	source_link, source_event_id, source_payload, created_at, updated_at`

// UpsertRawActivity inserts or updates a raw activity keyed on
// (source, source_event_id, date, time) falling back to (source, source_link).
// Mutable fields (duration, details, link, payload) are refreshed on match;
// identity fields never change. Returns true when a new row was inserted.
func (s *Store) UpsertRawActivity(ctx context.Context, ra *types.RawActivity, sourceEventID string) (bool, error) {
	payload := ra.SourcePayload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	var existingID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM raw_activities
		WHERE source = ?
		  AND ((source_event_id IS NOT NULL AND source_event_id = ?
		        AND date = ? AND (time IS ? OR time = ?))
		       OR (source_link <> '' AND source_link = ?))
		LIMIT 1`,
		ra.Source, sourceEventID, ra.Date, ra.Time, ra.Time, ra.SourceLink,
	).Scan(&existingID)

	switch {
	case err == sql.ErrNoRows:
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO raw_activities
				(date, time, duration_minutes, details, source, source_link, source_event_id, source_payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ra.Date, ra.Time, ra.DurationMinutes, ra.Details, ra.Source,
			ra.SourceLink, nullIfEmpty(sourceEventID), string(payload))
		if err != nil {
			return false, storage.Wrap(storage.ErrOperation, "insert raw activity", err)
		}
		ra.ID, _ = res.LastInsertId()
		return true, nil
	case err != nil:
		return false, storage.Wrap(storage.ErrOperation, "lookup raw activity", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE raw_activities
		SET duration_minutes = ?, details = ?, source_link = ?, source_payload = ?
		WHERE id = ?`,
		ra.DurationMinutes, ra.Details, ra.SourceLink, string(payload), existingID)
	if err != nil {
		return false, storage.Wrap(storage.ErrOperation, "update raw activity", err)
	}
	ra.ID = existingID
	return false, nil
}

// ListRawActivities returns a filtered page plus the unpaginated total.
func (s *Store) ListRawActivities(ctx context.Context, f types.RawActivityFilter) ([]*types.RawActivity, int, error) {
	var conds []string
	var params []any
	if f.Source != "" {
		conds = append(conds, "source = ?")
		params = append(params, f.Source)
	}
	if f.DateStart != "" {
		conds = append(conds, "date >= ?")
		params = append(params, f.DateStart)
	}
	if f.DateEnd != "" {
		conds = append(conds, "date <= ?")
		params = append(params, f.DateEnd)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM raw_activities "+where, params...).Scan(&total); err != nil {
		return nil, 0, storage.Wrap(storage.ErrOperation, "count raw activities", err)
	}

	query := "SELECT " + rawActivityColumns + " FROM raw_activities " + where +
		" ORDER BY date DESC, time DESC LIMIT ? OFFSET ?"
	params = append(params, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, 0, storage.Wrap(storage.ErrOperation, "list raw activities", err)
	}
	defer rows.Close()

	out, err := scanRawActivities(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// RawActivitiesInRange returns activities in [dateStart, dateEnd] inclusive
// in store order (date, time). Empty bounds leave that side open.
func (s *Store) RawActivitiesInRange(ctx context.Context, dateStart, dateEnd string) ([]*types.RawActivity, error) {
	var conds []string
	var params []any
	if dateStart != "" {
		conds = append(conds, "date >= ?")
		params = append(params, dateStart)
	}
	if dateEnd != "" {
		conds = append(conds, "date <= ?")
		params = append(params, dateEnd)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+rawActivityColumns+" FROM raw_activities "+where+" ORDER BY date ASC, time ASC",
		params...)
	if err != nil {
		return nil, storage.Wrap(storage.ErrOperation, "raw activities in range", err)
	}
	defer rows.Close()
	return scanRawActivities(rows)
}

func scanRawActivities(rows *sql.Rows) ([]*types.RawActivity, error) {
	var out []*types.RawActivity
	for rows.Next() {
		var (
			ra      types.RawActivity
			t       sql.NullString
			eventID sql.NullString
			payload string
			created string
			updated string
		)
		if err := rows.Scan(&ra.ID, &ra.Date, &t, &ra.DurationMinutes, &ra.Details,
			&ra.Source, &ra.SourceLink, &eventID, &payload, &created, &updated); err != nil {
			return nil, storage.Wrap(storage.ErrOperation, "scan raw activity", err)
		}
		if t.Valid {
			ra.Time = &t.String
		}
		ra.SourcePayload = json.RawMessage(payload)
		ra.CreatedAt = parseTimestamp(created)
		ra.UpdatedAt = parseTimestamp(updated)
		out = append(out, &ra)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap(storage.ErrOperation, "iterate raw activities", err)
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// parseTimestamp handles the two layouts SQLite emits for DATETIME columns.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339, "2006-01-02T15:04:05Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// formatTimestamp is the canonical storage layout for DATETIME parameters.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}
