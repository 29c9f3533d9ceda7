// Package types defines the core data model shared by the storage layer,
// the ingestion pipeline, and the API surface.
package types

import (
	"encoding/json"
	"time"
)

// Activity sources.
const (
	SourceCalendar = "calendar"
	SourceNotes    = "notes"
)

// RawActivity is an atomic observation pulled from an external source,
// preserved verbatim for traceability. Rows are created by the ingestors and
// never mutated by the tagger.
type RawActivity struct {
	ID              int64           `json:"id"`
	Date            string          `json:"date"` // YYYY-MM-DD
	Time            *string         `json:"time"` // HH:MM, nil for date-only events
	DurationMinutes int             `json:"duration_minutes"`
	Details         string          `json:"details"`
	Source          string          `json:"source"`
	SourceLink      string          `json:"source_link"`
	SourcePayload   json.RawMessage `json:"source_payload"` // opaque provider JSON
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NotePage is an upserted note-workspace page.
type NotePage struct {
	ID           int64      `json:"id"`
	PageID       string     `json:"page_id"`
	Title        string     `json:"title"`
	URL          string     `json:"url"`
	LastEditedAt *time.Time `json:"last_edited_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NoteBlock is a node in a page's block tree. A leaf is a text-bearing block
// with no children and non-empty text; leaves are the only unit the indexer
// summarizes and embeds.
type NoteBlock struct {
	ID            int64      `json:"id"`
	BlockID       string     `json:"block_id"`
	PageID        string     `json:"page_id"`
	ParentBlockID *string    `json:"parent_block_id"`
	BlockType     string     `json:"block_type"`
	IsLeaf        bool       `json:"is_leaf"`
	Text          string     `json:"text"`
	Abstract      *string    `json:"abstract"`
	LastEditedAt  *time.Time `json:"last_edited_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// NoteBlockEdit is an append-only audit row backing "recently edited" queries.
type NoteBlockEdit struct {
	ID       int64     `json:"id"`
	BlockID  string    `json:"block_id"`
	EditedAt time.Time `json:"edited_at"`
}

// Embedding is the live vector for a (block, model) pair.
type Embedding struct {
	ID        int64     `json:"id"`
	BlockID   string    `json:"block_id"`
	Model     string    `json:"model"`
	Vector    []float32 `json:"vector"`
	Dim       int       `json:"dim"`
	CreatedAt time.Time `json:"created_at"`
}

// Tag is a taxonomy category applied to processed activities. Names are
// normalized to lowercase; usage_count is derived from activity_tags rows.
type Tag struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Color       *string   `json:"color"`
	UsageCount  int       `json:"usage_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProcessedActivity is the post-aggregation unit carrying tags. Today it
// wraps exactly one raw activity; the model admits grouping.
type ProcessedActivity struct {
	ID                   int64     `json:"id"`
	Date                 string    `json:"date"`
	Time                 *string   `json:"time"`
	TotalDurationMinutes int       `json:"total_duration_minutes"`
	CombinedDetails      string    `json:"combined_details"`
	RawActivityIDs       []int64   `json:"raw_activity_ids"`
	Sources              []string  `json:"sources"`
	CreatedAt            time.Time `json:"created_at"`
}

// ActivityTag links a processed activity to a tag with a confidence score.
type ActivityTag struct {
	ProcessedActivityID int64     `json:"processed_activity_id"`
	TagID               int64     `json:"tag_id"`
	Confidence          float64   `json:"confidence"`
	CreatedAt           time.Time `json:"created_at"`
}

// TagWithConfidence is a tag joined with its per-activity confidence, as
// embedded in processed-activity responses.
type TagWithConfidence struct {
	Tag
	Confidence float64 `json:"confidence"`
}

// RawActivityFilter narrows raw-activity listings.
type RawActivityFilter struct {
	Source    string
	DateStart string
	DateEnd   string
	Limit     int
	Offset    int
}

// ProcessedActivityFilter narrows processed-activity listings.
type ProcessedActivityFilter struct {
	DateStart string
	DateEnd   string
	Tags      []string
	Limit     int
	Offset    int
}

// TagFilter narrows tag listings.
type TagFilter struct {
	SortBy string // name | usage_count | created_at
	Limit  int
	Offset int
}

// TagUsage is a tag with usage context sampled for cleanup analysis.
type TagUsage struct {
	Name             string   `json:"name"`
	UsageCount       int      `json:"usage_count"`
	SampleActivities []string `json:"sample_activities"`
}
