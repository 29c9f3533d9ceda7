package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/vw-ai/lifetrace/internal/storage"
	"github.com/vw-ai/lifetrace/internal/types"
)

const tagColumns = `id, name, description, color, usage_count, created_at, updated_at`

// NormalizeTagName lowercases and trims a tag name. Two tags differing only
// in case cannot coexist.
func NormalizeTagName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// GetTag returns a tag by id, or ErrNotFound.
func (s *Store) GetTag(ctx context.Context, id int64) (*types.Tag, error) {
	return getTag(ctx, s.db, `WHERE id = ?`, id)
}

// GetTagByName returns a tag by normalized name, or ErrNotFound.
func (s *Store) GetTagByName(ctx context.Context, name string) (*types.Tag, error) {
	return getTag(ctx, s.db, `WHERE name = ?`, NormalizeTagName(name))
}

func getTag(ctx context.Context, q dbtx, where string, args ...any) (*types.Tag, error) {
	row := q.QueryRowContext(ctx, "SELECT "+tagColumns+" FROM tags "+where, args...)
	t, err := scanTag(row)
	if err == sql.ErrNoRows {
		return nil, storage.Wrap(storage.ErrNotFound, "get tag", err)
	}
	if err != nil {
		return nil, storage.Wrap(storage.ErrOperation, "get tag", err)
	}
	return t, nil
}

// CreateTag inserts a tag with a normalized name. A name collision returns
// ErrConflict; racing creators should fall back to GetTagByName.
func (s *Store) CreateTag(ctx context.Context, t *types.Tag) (int64, error) {
	return createTag(ctx, s.db, t)
}

func createTag(ctx context.Context, q dbtx, t *types.Tag) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO tags (name, description, color) VALUES (?, ?, ?)`,
		NormalizeTagName(t.Name), t.Description, t.Color)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, storage.Wrap(storage.ErrConflict, "create tag", err)
		}
		return 0, storage.Wrap(storage.ErrOperation, "create tag", err)
	}
	id, _ := res.LastInsertId()
	t.ID = id
	return id, nil
}

// GetOrCreateTag returns the existing tag for name or creates it. The store
// uniqueness constraint decides races: the loser reads back the winner's row.
func (s *Store) GetOrCreateTag(ctx context.Context, name, description string) (*types.Tag, error) {
	return getOrCreateTag(ctx, s.db, name, description)
}

func (t *txStore) GetOrCreateTag(ctx context.Context, name, description string) (*types.Tag, error) {
	return getOrCreateTag(ctx, t.q, name, description)
}

func getOrCreateTag(ctx context.Context, q dbtx, name, description string) (*types.Tag, error) {
	name = NormalizeTagName(name)
	if tag, err := getTag(ctx, q, `WHERE name = ?`, name); err == nil {
		return tag, nil
	}
	tag := &types.Tag{Name: name, Description: description}
	_, err := createTag(ctx, q, tag)
	if err == nil {
		return getTag(ctx, q, `WHERE id = ?`, tag.ID)
	}
	if errors.Is(err, storage.ErrConflict) {
		return getTag(ctx, q, `WHERE name = ?`, name)
	}
	return nil, err
}

// UpdateTag rewrites the mutable tag fields.
func (s *Store) UpdateTag(ctx context.Context, t *types.Tag) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tags SET name = ?, description = ?, color = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		NormalizeTagName(t.Name), t.Description, t.Color, t.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.Wrap(storage.ErrConflict, "update tag", err)
		}
		return storage.Wrap(storage.ErrOperation, "update tag", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.Wrap(storage.ErrNotFound, "update tag", sql.ErrNoRows)
	}
	return nil
}

// DeleteTag removes a tag; activity_tags rows cascade.
func (s *Store) DeleteTag(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id)
	if err != nil {
		return storage.Wrap(storage.ErrOperation, "delete tag", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.Wrap(storage.ErrNotFound, "delete tag", sql.ErrNoRows)
	}
	return nil
}

// DeleteTagByName removes a tag by normalized name; missing names are a
// no-op so cleanup passes stay idempotent.
func (s *Store) DeleteTagByName(ctx context.Context, name string) error {
	return deleteTagByName(ctx, s.db, name)
}

func (t *txStore) DeleteTagByName(ctx context.Context, name string) error {
	return deleteTagByName(ctx, t.q, name)
}

func deleteTagByName(ctx context.Context, q dbtx, name string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM tags WHERE name = ?`, NormalizeTagName(name))
	return storage.Wrap(storage.ErrOperation, "delete tag by name", err)
}

// ListTags returns a sorted page of tags plus the total count.
func (s *Store) ListTags(ctx context.Context, f types.TagFilter) ([]*types.Tag, int, error) {
	order := "usage_count DESC"
	switch f.SortBy {
	case "name":
		order = "name ASC"
	case "created_at":
		order = "created_at DESC"
	case "usage_count", "":
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tags`).Scan(&total); err != nil {
		return nil, 0, storage.Wrap(storage.ErrOperation, "count tags", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+tagColumns+" FROM tags ORDER BY "+order+" LIMIT ? OFFSET ?",
		f.Limit, f.Offset)
	if err != nil {
		return nil, 0, storage.Wrap(storage.ErrOperation, "list tags", err)
	}
	defer rows.Close()

	var out []*types.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, 0, storage.Wrap(storage.ErrOperation, "scan tag", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storage.Wrap(storage.ErrOperation, "iterate tags", err)
	}
	return out, total, nil
}

// TagsWithUsage returns each tag with its usage count and up to sampleLimit
// sample activity details, optionally restricted to processed activities in
// [dateStart, dateEnd]. Used by the cleaner to build analysis context.
func (s *Store) TagsWithUsage(ctx context.Context, dateStart, dateEnd string, sampleLimit int) ([]*types.TagUsage, error) {
	var conds []string
	var params []any
	if dateStart != "" {
		conds = append(conds, "pa.date >= ?")
		params = append(params, dateStart)
	}
	if dateEnd != "" {
		conds = append(conds, "pa.date <= ?")
		params = append(params, dateEnd)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.name,
		       COUNT(at.id) AS usage_in_scope,
		       GROUP_CONCAT(pa.combined_details, ' | ') AS samples
		FROM tags t
		JOIN activity_tags at ON t.id = at.tag_id
		JOIN processed_activities pa ON at.processed_activity_id = pa.id
		`+where+`
		GROUP BY t.id, t.name
		ORDER BY usage_in_scope DESC`, params...)
	if err != nil {
		return nil, storage.Wrap(storage.ErrOperation, "tags with usage", err)
	}
	defer rows.Close()

	var out []*types.TagUsage
	for rows.Next() {
		var (
			u       types.TagUsage
			samples sql.NullString
		)
		if err := rows.Scan(&u.Name, &u.UsageCount, &samples); err != nil {
			return nil, storage.Wrap(storage.ErrOperation, "scan tag usage", err)
		}
		u.SampleActivities = sampleDetails(samples.String, sampleLimit)
		out = append(out, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap(storage.ErrOperation, "iterate tag usage", err)
	}
	return out, nil
}

// sampleDetails splits the GROUP_CONCAT payload and clips each sample to a
// short preview, keeping at most limit entries.
func sampleDetails(joined string, limit int) []string {
	if joined == "" || limit <= 0 {
		return nil
	}
	var out []string
	for _, part := range strings.Split(joined, " | ") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if len(part) > 50 {
			part = part[:50] + "..."
		}
		out = append(out, part)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// RecomputeTagUsage resets usage_count from the live activity_tags rows for
// the named tags (or every tag when none are named). Bulk merges rewrite
// tag_id in place, which bypasses the insert/delete triggers; callers run
// this afterward so usage_count matches the live links again.
func (s *Store) RecomputeTagUsage(ctx context.Context, names ...string) error {
	return recomputeTagUsage(ctx, s.db, names...)
}

func (t *txStore) RecomputeTagUsage(ctx context.Context, names ...string) error {
	return recomputeTagUsage(ctx, t.q, names...)
}

func recomputeTagUsage(ctx context.Context, q dbtx, names ...string) error {
	query := `
		UPDATE tags SET usage_count = (
			SELECT COUNT(*) FROM activity_tags WHERE activity_tags.tag_id = tags.id
		)`
	var params []any
	if len(names) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
		query += " WHERE name IN (" + placeholders + ")"
		for _, n := range names {
			params = append(params, NormalizeTagName(n))
		}
	}
	_, err := q.ExecContext(ctx, query, params...)
	return storage.Wrap(storage.ErrOperation, "recompute tag usage", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTag(row rowScanner) (*types.Tag, error) {
	var (
		t       types.Tag
		color   sql.NullString
		created string
		updated string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &color, &t.UsageCount, &created, &updated); err != nil {
		return nil, err
	}
	if color.Valid {
		t.Color = &color.String
	}
	t.CreatedAt = parseTimestamp(created)
	t.UpdatedAt = parseTimestamp(updated)
	return &t, nil
}
