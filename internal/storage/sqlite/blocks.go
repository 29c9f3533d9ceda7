package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/vw-ai/lifetrace/internal/storage"
	"github.com/vw-ai/lifetrace/internal/types"
)

const noteBlockColumns = `id, block_id, page_id, parent_block_id, block_type,
	is_leaf, text, abstract, last_edited_at, created_at`

// UpsertNotePage inserts or refreshes a page keyed on its external page_id.
func (s *Store) UpsertNotePage(ctx context.Context, p *types.NotePage) error {
	var edited any
	if p.LastEditedAt != nil {
		edited = formatTimestamp(*p.LastEditedAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO note_pages (page_id, title, url, last_edited_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(page_id) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			last_edited_at = excluded.last_edited_at`,
		p.PageID, p.Title, p.URL, edited)
	return storage.Wrap(storage.ErrOperation, "upsert note page", err)
}

// UpsertNoteBlock inserts or refreshes a block keyed on its external
// block_id. The abstract column is deliberately left alone: the indexer owns
// it and re-traversal must not clobber it.
func (s *Store) UpsertNoteBlock(ctx context.Context, b *types.NoteBlock) error {
	var edited any
	if b.LastEditedAt != nil {
		edited = formatTimestamp(*b.LastEditedAt)
	}
	isLeaf := 0
	if b.IsLeaf {
		isLeaf = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO note_blocks (block_id, page_id, parent_block_id, block_type, is_leaf, text, last_edited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(block_id) DO UPDATE SET
			page_id = excluded.page_id,
			parent_block_id = excluded.parent_block_id,
			block_type = excluded.block_type,
			is_leaf = excluded.is_leaf,
			text = excluded.text,
			last_edited_at = excluded.last_edited_at`,
		b.BlockID, b.PageID, b.ParentBlockID, b.BlockType, isLeaf, b.Text, edited)
	return storage.Wrap(storage.ErrOperation, "upsert note block", err)
}

// AppendBlockEdit records an edit observation for recently-edited queries.
func (s *Store) AppendBlockEdit(ctx context.Context, blockID string, editedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO note_block_edits (block_id, edited_at) VALUES (?, ?)`,
		blockID, formatTimestamp(editedAt))
	return storage.Wrap(storage.ErrOperation, "append block edit", err)
}

// LeafBlocks returns all leaves. With onlyUnindexed, leaves that already
// carry both an abstract and a live embedding for model are filtered out so
// the indexer can skip them.
func (s *Store) LeafBlocks(ctx context.Context, onlyUnindexed bool, model string) ([]*types.NoteBlock, error) {
	query := "SELECT " + noteBlockColumns + " FROM note_blocks WHERE is_leaf = 1"
	var params []any
	if onlyUnindexed {
		query += ` AND (abstract IS NULL OR NOT EXISTS (
			SELECT 1 FROM embeddings e WHERE e.block_id = note_blocks.block_id AND e.model = ?))`
		params = append(params, model)
	}
	query += " ORDER BY last_edited_at DESC"

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, storage.Wrap(storage.ErrOperation, "list leaf blocks", err)
	}
	defer rows.Close()
	return scanNoteBlocks(rows)
}

// LeafBlocksEditedSince returns leaves whose last_edited_at falls after since.
func (s *Store) LeafBlocksEditedSince(ctx context.Context, since time.Time) ([]*types.NoteBlock, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+noteBlockColumns+` FROM note_blocks
		 WHERE is_leaf = 1 AND last_edited_at >= ?
		 ORDER BY last_edited_at DESC`,
		formatTimestamp(since))
	if err != nil {
		return nil, storage.Wrap(storage.ErrOperation, "leaf blocks edited since", err)
	}
	defer rows.Close()
	return scanNoteBlocks(rows)
}

// LeafBlocksEditedBetween returns leaves edited within [start, end].
func (s *Store) LeafBlocksEditedBetween(ctx context.Context, start, end time.Time) ([]*types.NoteBlock, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+noteBlockColumns+` FROM note_blocks
		 WHERE is_leaf = 1 AND last_edited_at >= ? AND last_edited_at <= ?
		 ORDER BY last_edited_at DESC`,
		formatTimestamp(start), formatTimestamp(end))
	if err != nil {
		return nil, storage.Wrap(storage.ErrOperation, "leaf blocks edited between", err)
	}
	defer rows.Close()
	return scanNoteBlocks(rows)
}

// SetBlockAbstract writes only the abstract field.
func (s *Store) SetBlockAbstract(ctx context.Context, blockID, abstract string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE note_blocks SET abstract = ? WHERE block_id = ?`, abstract, blockID)
	if err != nil {
		return storage.Wrap(storage.ErrOperation, "set block abstract", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.Wrap(storage.ErrNotFound, "set block abstract", sql.ErrNoRows)
	}
	return nil
}

// RecentLeafAbstracts samples abstracts (falling back to text) from the most
// recently edited leaves, newest first, for the taxonomy corpus.
func (s *Store) RecentLeafAbstracts(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(abstract, text) FROM note_blocks
		WHERE is_leaf = 1 AND (abstract IS NOT NULL OR text <> '')
		ORDER BY last_edited_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, storage.Wrap(storage.ErrOperation, "recent leaf abstracts", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, storage.Wrap(storage.ErrOperation, "scan abstract", err)
		}
		out = append(out, s)
	}
	return out, storage.Wrap(storage.ErrOperation, "iterate abstracts", rows.Err())
}

// UpsertEmbedding replaces the live vector for (block_id, model).
func (s *Store) UpsertEmbedding(ctx context.Context, e *types.Embedding) error {
	vec, err := json.Marshal(e.Vector)
	if err != nil {
		return storage.Wrap(storage.ErrOperation, "encode embedding", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embeddings (block_id, model, vector, dim)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(block_id, model) DO UPDATE SET
			vector = excluded.vector,
			dim = excluded.dim,
			created_at = CURRENT_TIMESTAMP`,
		e.BlockID, e.Model, string(vec), len(e.Vector))
	return storage.Wrap(storage.ErrOperation, "upsert embedding", err)
}

// EmbeddingForBlock returns the live embedding for (blockID, model), or
// ErrNotFound.
func (s *Store) EmbeddingForBlock(ctx context.Context, blockID, model string) (*types.Embedding, error) {
	var (
		e       types.Embedding
		vec     string
		created string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, block_id, model, vector, dim, created_at
		FROM embeddings WHERE block_id = ? AND model = ?`,
		blockID, model).Scan(&e.ID, &e.BlockID, &e.Model, &vec, &e.Dim, &created)
	if err == sql.ErrNoRows {
		return nil, storage.Wrap(storage.ErrNotFound, "embedding for block", err)
	}
	if err != nil {
		return nil, storage.Wrap(storage.ErrOperation, "embedding for block", err)
	}
	if err := json.Unmarshal([]byte(vec), &e.Vector); err != nil {
		return nil, storage.Wrap(storage.ErrOperation, "decode embedding", err)
	}
	e.CreatedAt = parseTimestamp(created)
	return &e, nil
}

func scanNoteBlocks(rows *sql.Rows) ([]*types.NoteBlock, error) {
	var out []*types.NoteBlock
	for rows.Next() {
		var (
			b        types.NoteBlock
			parent   sql.NullString
			isLeaf   int
			abstract sql.NullString
			edited   sql.NullString
			created  string
		)
		if err := rows.Scan(&b.ID, &b.BlockID, &b.PageID, &parent, &b.BlockType,
			&isLeaf, &b.Text, &abstract, &edited, &created); err != nil {
			return nil, storage.Wrap(storage.ErrOperation, "scan note block", err)
		}
		if parent.Valid {
			b.ParentBlockID = &parent.String
		}
		b.IsLeaf = isLeaf != 0
		if abstract.Valid {
			b.Abstract = &abstract.String
		}
		if edited.Valid {
			t := parseTimestamp(edited.String)
			b.LastEditedAt = &t
		}
		b.CreatedAt = parseTimestamp(created)
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap(storage.ErrOperation, "iterate note blocks", err)
	}
	return out, nil
}
