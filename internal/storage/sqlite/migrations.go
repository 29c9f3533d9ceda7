// Package sqlite - database migrations
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vw-ai/lifetrace/internal/storage"
)

// Migration is a single forward schema change. There are no down steps; the
// runner only applies migrations forward.
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, tx *sql.Tx) error
}

// migrationsList is ordered by version. The runner applies everything above
// MAX(schema_versions.version) in ascending order, one transaction per
// migration, recording the row on success. Each migration is idempotent so a
// database created by an older schema const converges to the same shape.
var migrationsList = []Migration{
	{
		Version:     1,
		Description: "baseline schema",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			// The schema const has already executed; this records it.
			return nil
		},
	},
	{
		Version:     2,
		Description: "note_blocks block_type column for pre-typing databases",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			return ensureColumn(ctx, tx, "note_blocks", "block_type", "block_type TEXT NOT NULL DEFAULT ''")
		},
	},
	{
		Version:     3,
		Description: "composite unique index on activity_tags",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				CREATE UNIQUE INDEX IF NOT EXISTS idx_activity_tags_unique
				ON activity_tags(processed_activity_id, tag_id)`)
			return err
		},
	},
	{
		Version:     4,
		Description: "source_event_id column and lookup index on raw_activities",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			if err := ensureColumn(ctx, tx, "raw_activities", "source_event_id", "source_event_id TEXT"); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `
				CREATE INDEX IF NOT EXISTS idx_raw_activities_event
				ON raw_activities(source, source_event_id)`)
			return err
		},
	},
}

// ensureColumn adds a column when missing. SQLite has no IF NOT EXISTS for
// columns, so existence is checked through table_info.
func ensureColumn(ctx context.Context, tx *sql.Tx, table, column, ddl string) error {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &primaryKey); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s`, table, ddl))
	return err
}

// SchemaVersion returns MAX(version) from schema_versions; 0 for a fresh
// database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_versions`).Scan(&v)
	if err != nil {
		return 0, storage.Wrap(storage.ErrSchema, "read schema version", err)
	}
	return int(v.Int64), nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrationsList {
		if m.Version <= current {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return storage.Wrap(storage.ErrSchema,
				fmt.Sprintf("migration %d (%s)", m.Version, m.Description), err)
		}
		s.log.Info("applied migration", "version", m.Version, "description", m.Description)
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, m Migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := m.Up(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_versions (version, description) VALUES (?, ?)`,
		m.Version, m.Description); err != nil {
		return err
	}
	return tx.Commit()
}
