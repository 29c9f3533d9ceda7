package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/vw-ai/lifetrace/internal/storage"
	"github.com/vw-ai/lifetrace/internal/types"
)

const processedColumns = `id, date, time, total_duration_minutes, combined_details,
	raw_activity_ids, sources, created_at`

// CreateProcessedActivity inserts a processed activity and returns its id.
// raw_activity_ids must be non-empty.
func (s *Store) CreateProcessedActivity(ctx context.Context, pa *types.ProcessedActivity) (int64, error) {
	return createProcessedActivity(ctx, s.db, pa)
}

func (t *txStore) CreateProcessedActivity(ctx context.Context, pa *types.ProcessedActivity) (int64, error) {
	return createProcessedActivity(ctx, t.q, pa)
}

func createProcessedActivity(ctx context.Context, q dbtx, pa *types.ProcessedActivity) (int64, error) {
	if len(pa.RawActivityIDs) == 0 {
		return 0, storage.Wrap(storage.ErrOperation, "create processed activity",
			errEmptyRawIDs)
	}
	rawIDs, _ := json.Marshal(pa.RawActivityIDs)
	sources, _ := json.Marshal(pa.Sources)

	res, err := q.ExecContext(ctx, `
		INSERT INTO processed_activities
			(date, time, total_duration_minutes, combined_details, raw_activity_ids, sources)
		VALUES (?, ?, ?, ?, ?, ?)`,
		pa.Date, pa.Time, pa.TotalDurationMinutes, pa.CombinedDetails,
		string(rawIDs), string(sources))
	if err != nil {
		return 0, storage.Wrap(storage.ErrOperation, "create processed activity", err)
	}
	id, _ := res.LastInsertId()
	pa.ID = id
	return id, nil
}

// DeleteProcessedActivitiesInRange removes processed activities (and their
// activity_tags via cascade) within [dateStart, dateEnd]; empty bounds leave
// that side open.
func (s *Store) DeleteProcessedActivitiesInRange(ctx context.Context, dateStart, dateEnd string) (int64, error) {
	return deleteProcessedInRange(ctx, s.db, dateStart, dateEnd)
}

func (t *txStore) DeleteProcessedActivitiesInRange(ctx context.Context, dateStart, dateEnd string) (int64, error) {
	return deleteProcessedInRange(ctx, t.q, dateStart, dateEnd)
}

func deleteProcessedInRange(ctx context.Context, q dbtx, dateStart, dateEnd string) (int64, error) {
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
	query := "DELETE FROM processed_activities"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	res, err := q.ExecContext(ctx, query, params...)
	if err != nil {
		return 0, storage.Wrap(storage.ErrOperation, "delete processed activities", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// InsertActivityTag links a processed activity to a tag. Re-linking the same
// pair is a no-op so taggers can retry safely.
func (s *Store) InsertActivityTag(ctx context.Context, at *types.ActivityTag) error {
	return insertActivityTag(ctx, s.db, at)
}

func (t *txStore) InsertActivityTag(ctx context.Context, at *types.ActivityTag) error {
	return insertActivityTag(ctx, t.q, at)
}

func insertActivityTag(ctx context.Context, q dbtx, at *types.ActivityTag) error {
	_, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO activity_tags (processed_activity_id, tag_id, confidence)
		VALUES (?, ?, ?)`,
		at.ProcessedActivityID, at.TagID, at.Confidence)
	return storage.Wrap(storage.ErrOperation, "insert activity tag", err)
}

// RemoveActivityTagsForTag deletes the links for tagName, restricted to
// processed activities in [dateStart, dateEnd] when bounds are given.
// Returns the number of removed links.
func (s *Store) RemoveActivityTagsForTag(ctx context.Context, tagName, dateStart, dateEnd string) (int64, error) {
	return removeActivityTagsForTag(ctx, s.db, tagName, dateStart, dateEnd)
}

func (t *txStore) RemoveActivityTagsForTag(ctx context.Context, tagName, dateStart, dateEnd string) (int64, error) {
	return removeActivityTagsForTag(ctx, t.q, tagName, dateStart, dateEnd)
}

func removeActivityTagsForTag(ctx context.Context, q dbtx, tagName, dateStart, dateEnd string) (int64, error) {
	query := `
		DELETE FROM activity_tags
		WHERE tag_id = (SELECT id FROM tags WHERE name = ?)`
	params := []any{NormalizeTagName(tagName)}
	if dateStart != "" {
		query += ` AND processed_activity_id IN (SELECT id FROM processed_activities WHERE date >= ?)`
		params = append(params, dateStart)
	}
	if dateEnd != "" {
		query += ` AND processed_activity_id IN (SELECT id FROM processed_activities WHERE date <= ?)`
		params = append(params, dateEnd)
	}
	res, err := q.ExecContext(ctx, query, params...)
	if err != nil {
		return 0, storage.Wrap(storage.ErrOperation, "remove activity tags", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MergeActivityTags rewrites links from sourceTag to targetTag without
// producing duplicates on the same processed activity: links whose activity
// already carries the target are deleted instead of rewritten. Returns the
// number of affected links.
func (s *Store) MergeActivityTags(ctx context.Context, sourceTag, targetTag, dateStart, dateEnd string) (int64, error) {
	return mergeActivityTags(ctx, s.db, sourceTag, targetTag, dateStart, dateEnd)
}

func (t *txStore) MergeActivityTags(ctx context.Context, sourceTag, targetTag, dateStart, dateEnd string) (int64, error) {
	return mergeActivityTags(ctx, t.q, sourceTag, targetTag, dateStart, dateEnd)
}

func mergeActivityTags(ctx context.Context, q dbtx, sourceTag, targetTag, dateStart, dateEnd string) (int64, error) {
	var srcID, dstID int64
	if err := q.QueryRowContext(ctx, `SELECT id FROM tags WHERE name = ?`,
		NormalizeTagName(sourceTag)).Scan(&srcID); err != nil {
		if err == sql.ErrNoRows {
			return 0, storage.Wrap(storage.ErrNotFound, "merge source tag", err)
		}
		return 0, storage.Wrap(storage.ErrOperation, "merge source tag", err)
	}
	if err := q.QueryRowContext(ctx, `SELECT id FROM tags WHERE name = ?`,
		NormalizeTagName(targetTag)).Scan(&dstID); err != nil {
		if err == sql.ErrNoRows {
			return 0, storage.Wrap(storage.ErrNotFound, "merge target tag", err)
		}
		return 0, storage.Wrap(storage.ErrOperation, "merge target tag", err)
	}

	rangeCond := ""
	var rangeParams []any
	if dateStart != "" {
		rangeCond += ` AND processed_activity_id IN (SELECT id FROM processed_activities WHERE date >= ?)`
		rangeParams = append(rangeParams, dateStart)
	}
	if dateEnd != "" {
		rangeCond += ` AND processed_activity_id IN (SELECT id FROM processed_activities WHERE date <= ?)`
		rangeParams = append(rangeParams, dateEnd)
	}

	// Drop source links whose activity already has the target, then rewrite
	// the remainder. Union semantics per processed activity.
	delParams := append([]any{srcID, dstID}, rangeParams...)
	res, err := q.ExecContext(ctx, `
		DELETE FROM activity_tags
		WHERE tag_id = ?
		  AND processed_activity_id IN (
			SELECT processed_activity_id FROM activity_tags WHERE tag_id = ?
		  )`+rangeCond, delParams...)
	if err != nil {
		return 0, storage.Wrap(storage.ErrOperation, "merge dedupe", err)
	}
	deduped, _ := res.RowsAffected()

	updParams := append([]any{dstID, srcID}, rangeParams...)
	res, err = q.ExecContext(ctx, `
		UPDATE activity_tags SET tag_id = ?
		WHERE tag_id = ?`+rangeCond, updParams...)
	if err != nil {
		return 0, storage.Wrap(storage.ErrOperation, "merge rewrite", err)
	}
	moved, _ := res.RowsAffected()
	return deduped + moved, nil
}

// ListProcessedActivities returns a filtered page plus the unpaginated total.
// Tag filters match activities carrying any of the named tags.
func (s *Store) ListProcessedActivities(ctx context.Context, f types.ProcessedActivityFilter) ([]*types.ProcessedActivity, int, error) {
	var conds []string
	var params []any
	join := ""
	if len(f.Tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Tags)), ",")
		join = `
			INNER JOIN activity_tags at ON pa.id = at.processed_activity_id
			INNER JOIN tags t ON at.tag_id = t.id`
		conds = append(conds, "t.name IN ("+placeholders+")")
		for _, tag := range f.Tags {
			params = append(params, NormalizeTagName(tag))
		}
	}
	if f.DateStart != "" {
		conds = append(conds, "pa.date >= ?")
		params = append(params, f.DateStart)
	}
	if f.DateEnd != "" {
		conds = append(conds, "pa.date <= ?")
		params = append(params, f.DateEnd)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT pa.id) FROM processed_activities pa "+join+" "+where,
		params...).Scan(&total); err != nil {
		return nil, 0, storage.Wrap(storage.ErrOperation, "count processed activities", err)
	}

	query := "SELECT DISTINCT pa.id, pa.date, pa.time, pa.total_duration_minutes, " +
		"pa.combined_details, pa.raw_activity_ids, pa.sources, pa.created_at " +
		"FROM processed_activities pa " + join + " " + where +
		" ORDER BY pa.date DESC, pa.time DESC LIMIT ? OFFSET ?"
	params = append(params, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, 0, storage.Wrap(storage.ErrOperation, "list processed activities", err)
	}
	defer rows.Close()

	out, err := scanProcessedActivities(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// TagsForProcessedActivity returns the tags linked to one processed activity,
// highest confidence first.
func (s *Store) TagsForProcessedActivity(ctx context.Context, processedID int64) ([]*types.TagWithConfidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.description, t.color, t.usage_count, t.created_at, t.updated_at,
		       at.confidence
		FROM tags t
		INNER JOIN activity_tags at ON t.id = at.tag_id
		WHERE at.processed_activity_id = ?
		ORDER BY at.confidence DESC`, processedID)
	if err != nil {
		return nil, storage.Wrap(storage.ErrOperation, "tags for activity", err)
	}
	defer rows.Close()

	var out []*types.TagWithConfidence
	for rows.Next() {
		var (
			tc      types.TagWithConfidence
			color   sql.NullString
			created string
			updated string
		)
		if err := rows.Scan(&tc.ID, &tc.Name, &tc.Description, &color, &tc.UsageCount,
			&created, &updated, &tc.Confidence); err != nil {
			return nil, storage.Wrap(storage.ErrOperation, "scan activity tag", err)
		}
		if color.Valid {
			tc.Color = &color.String
		}
		tc.CreatedAt = parseTimestamp(created)
		tc.UpdatedAt = parseTimestamp(updated)
		out = append(out, &tc)
	}
	return out, storage.Wrap(storage.ErrOperation, "iterate activity tags", rows.Err())
}

// ProcessedActivitiesForInsights returns the activities in range plus a
// tag-name lookup keyed by activity id, in one pass for the analytics
// endpoints.
func (s *Store) ProcessedActivitiesForInsights(ctx context.Context, dateStart, dateEnd string) ([]*types.ProcessedActivity, map[int64][]string, error) {
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
		"SELECT "+processedColumns+" FROM processed_activities "+where+" ORDER BY date ASC",
		params...)
	if err != nil {
		return nil, nil, storage.Wrap(storage.ErrOperation, "insights activities", err)
	}
	defer rows.Close()

	activities, err := scanProcessedActivities(rows)
	if err != nil {
		return nil, nil, err
	}

	tagRows, err := s.db.QueryContext(ctx, `
		SELECT at.processed_activity_id, t.name
		FROM activity_tags at
		INNER JOIN tags t ON at.tag_id = t.id`)
	if err != nil {
		return nil, nil, storage.Wrap(storage.ErrOperation, "insights tags", err)
	}
	defer tagRows.Close()

	tagsByActivity := make(map[int64][]string)
	for tagRows.Next() {
		var (
			id   int64
			name string
		)
		if err := tagRows.Scan(&id, &name); err != nil {
			return nil, nil, storage.Wrap(storage.ErrOperation, "scan insights tag", err)
		}
		tagsByActivity[id] = append(tagsByActivity[id], name)
	}
	if err := tagRows.Err(); err != nil {
		return nil, nil, storage.Wrap(storage.ErrOperation, "iterate insights tags", err)
	}
	return activities, tagsByActivity, nil
}

// Stats returns table counts, the raw-activity date range, and the schema
// version for /system/stats.
func (s *Store) Stats(ctx context.Context) (*storage.SystemStats, error) {
	st := &storage.SystemStats{}
	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM raw_activities`, &st.RawActivities},
		{`SELECT COUNT(*) FROM processed_activities`, &st.ProcessedActivities},
		{`SELECT COUNT(*) FROM tags`, &st.Tags},
		{`SELECT COUNT(*) FROM activity_tags`, &st.ActivityTags},
		{`SELECT COUNT(*) FROM note_pages`, &st.NotePages},
		{`SELECT COUNT(*) FROM note_blocks`, &st.NoteBlocks},
		{`SELECT COUNT(*) FROM note_blocks WHERE is_leaf = 1`, &st.LeafBlocks},
		{`SELECT COUNT(*) FROM embeddings`, &st.Embeddings},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, storage.Wrap(storage.ErrOperation, "stats", err)
		}
	}

	var start, end sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT MIN(date), MAX(date) FROM raw_activities`).Scan(&start, &end); err != nil {
		return nil, storage.Wrap(storage.ErrOperation, "stats date range", err)
	}
	st.RawDateStart = start.String
	st.RawDateEnd = end.String

	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	st.SchemaVersion = version
	return st, nil
}

func scanProcessedActivities(rows *sql.Rows) ([]*types.ProcessedActivity, error) {
	var out []*types.ProcessedActivity
	for rows.Next() {
		var (
			pa      types.ProcessedActivity
			t       sql.NullString
			rawIDs  string
			sources string
			created string
		)
		if err := rows.Scan(&pa.ID, &pa.Date, &t, &pa.TotalDurationMinutes,
			&pa.CombinedDetails, &rawIDs, &sources, &created); err != nil {
			return nil, storage.Wrap(storage.ErrOperation, "scan processed activity", err)
		}
		if t.Valid {
			pa.Time = &t.String
		}
		_ = json.Unmarshal([]byte(rawIDs), &pa.RawActivityIDs)
		_ = json.Unmarshal([]byte(sources), &pa.Sources)
		pa.CreatedAt = parseTimestamp(created)
		out = append(out, &pa)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap(storage.ErrOperation, "iterate processed activities", err)
	}
	return out, nil
}
