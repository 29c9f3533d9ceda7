package sqlite

const schema = `
-- Raw activities: one row per observed calendar event or note interpretation.
CREATE TABLE IF NOT EXISTS raw_activities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    date TEXT NOT NULL,
    time TEXT,
    duration_minutes INTEGER NOT NULL DEFAULT 0 CHECK(duration_minutes >= 0),
    details TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL CHECK(source IN ('calendar', 'notes')),
    source_link TEXT NOT NULL DEFAULT '',
    source_event_id TEXT,
    source_payload TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_raw_activities_date ON raw_activities(date);
CREATE INDEX IF NOT EXISTS idx_raw_activities_source ON raw_activities(source);
CREATE INDEX IF NOT EXISTS idx_raw_activities_source_date ON raw_activities(source, date);
CREATE INDEX IF NOT EXISTS idx_raw_activities_event ON raw_activities(source, source_event_id);

-- Note workspace pages.
CREATE TABLE IF NOT EXISTS note_pages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    page_id TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL DEFAULT '',
    last_edited_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Note blocks form a tree rooted at the page. parent_block_id is NULL for
-- top-level blocks. A leaf has no children, a text-bearing type, and
-- non-empty text.
CREATE TABLE IF NOT EXISTS note_blocks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    block_id TEXT NOT NULL UNIQUE,
    page_id TEXT NOT NULL,
    parent_block_id TEXT,
    block_type TEXT NOT NULL DEFAULT '',
    is_leaf INTEGER NOT NULL DEFAULT 0,
    text TEXT NOT NULL DEFAULT '',
    abstract TEXT,
    last_edited_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_note_blocks_page ON note_blocks(page_id);
CREATE INDEX IF NOT EXISTS idx_note_blocks_parent ON note_blocks(parent_block_id);
CREATE INDEX IF NOT EXISTS idx_note_blocks_edited ON note_blocks(last_edited_at);
CREATE INDEX IF NOT EXISTS idx_note_blocks_leaf ON note_blocks(is_leaf);

-- Append-only edit audit backing "recently edited" queries.
CREATE TABLE IF NOT EXISTS note_block_edits (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    block_id TEXT NOT NULL,
    edited_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_note_block_edits_block ON note_block_edits(block_id);

-- One live embedding per (block, model). Vectors are stored as JSON arrays.
CREATE TABLE IF NOT EXISTS embeddings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    block_id TEXT NOT NULL,
    model TEXT NOT NULL DEFAULT '',
    vector TEXT NOT NULL,
    dim INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(block_id, model)
);

-- Tags: names are normalized to lowercase before insert; usage_count is
-- maintained by the activity_tags triggers below.
CREATE TABLE IF NOT EXISTS tags (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE CHECK(length(name) <= 100),
    description TEXT NOT NULL DEFAULT '',
    color TEXT,
    usage_count INTEGER NOT NULL DEFAULT 0 CHECK(usage_count >= 0),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tags_usage ON tags(usage_count);

-- Processed activities: one per raw activity today; the JSON columns admit
-- grouping without a schema change.
CREATE TABLE IF NOT EXISTS processed_activities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    date TEXT NOT NULL,
    time TEXT,
    total_duration_minutes INTEGER NOT NULL DEFAULT 0,
    combined_details TEXT NOT NULL DEFAULT '',
    raw_activity_ids TEXT NOT NULL DEFAULT '[]',
    sources TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_processed_activities_date ON processed_activities(date);

CREATE TABLE IF NOT EXISTS activity_tags (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    processed_activity_id INTEGER NOT NULL,
    tag_id INTEGER NOT NULL,
    confidence REAL NOT NULL DEFAULT 0.5 CHECK(confidence >= 0.0 AND confidence <= 1.0),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(processed_activity_id, tag_id),
    FOREIGN KEY (processed_activity_id) REFERENCES processed_activities(id) ON DELETE CASCADE,
    FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_activity_tags_activity ON activity_tags(processed_activity_id);
CREATE INDEX IF NOT EXISTS idx_activity_tags_tag ON activity_tags(tag_id);

-- Schema version bookkeeping for the migration runner.
CREATE TABLE IF NOT EXISTS schema_versions (
    version INTEGER PRIMARY KEY,
    description TEXT NOT NULL DEFAULT '',
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- usage_count maintenance. Deletes floor at zero so a recompute after a
-- partial failure can never underflow the CHECK constraint.
CREATE TRIGGER IF NOT EXISTS trg_activity_tags_insert
AFTER INSERT ON activity_tags
BEGIN
    UPDATE tags SET usage_count = usage_count + 1, updated_at = CURRENT_TIMESTAMP
    WHERE id = NEW.tag_id;
END;

CREATE TRIGGER IF NOT EXISTS trg_activity_tags_delete
AFTER DELETE ON activity_tags
BEGIN
    UPDATE tags SET usage_count = MAX(usage_count - 1, 0), updated_at = CURRENT_TIMESTAMP
    WHERE id = OLD.tag_id;
END;

CREATE TRIGGER IF NOT EXISTS trg_raw_activities_touch
AFTER UPDATE ON raw_activities
BEGIN
    UPDATE raw_activities SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
END;
`
