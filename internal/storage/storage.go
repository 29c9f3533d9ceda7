// Package storage defines the interface for activity store backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vw-ai/lifetrace/internal/types"
)

// Sentinel errors shared across backends. Callers match with errors.Is.
var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned on uniqueness violations and concurrent
	// state races (e.g. two creators racing on a tag name).
	ErrConflict = errors.New("conflict")

	// ErrConnection is returned when the pool or database file is
	// unreachable, including pool-acquire timeouts.
	ErrConnection = errors.New("connection error")

	// ErrOperation is returned when a statement fails for any other reason.
	ErrOperation = errors.New("operation failed")

	// ErrSchema is returned when schema initialization or a migration fails.
	ErrSchema = errors.New("schema error")
)

// OpError wraps a low-level database error with one of the sentinel kinds.
type OpError struct {
	Kind error  // one of the sentinels above
	Op   string // short operation name, e.g. "upsert raw activity"
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Kind }

// Wrap builds an OpError. A nil err returns nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Kind: kind, Op: op, Err: err}
}

// Transaction exposes the subset of Storage that participates in an atomic
// unit of work. All operations share one connection; an error returned from
// the callback rolls the whole unit back.
type Transaction interface {
	CreateProcessedActivity(ctx context.Context, pa *types.ProcessedActivity) (int64, error)
	GetOrCreateTag(ctx context.Context, name, description string) (*types.Tag, error)
	InsertActivityTag(ctx context.Context, at *types.ActivityTag) error
	DeleteProcessedActivitiesInRange(ctx context.Context, dateStart, dateEnd string) (int64, error)
	RemoveActivityTagsForTag(ctx context.Context, tagName, dateStart, dateEnd string) (int64, error)
	MergeActivityTags(ctx context.Context, sourceTag, targetTag, dateStart, dateEnd string) (int64, error)
	DeleteTagByName(ctx context.Context, name string) error
	RecomputeTagUsage(ctx context.Context, names ...string) error
}

// Storage is the durable store behind the pipeline. The sqlite backend in
// storage/sqlite is the only production implementation.
//
// Every method that mutates more than one row runs inside a transaction;
// multi-step workflows use RunInTransaction to share one.
type Storage interface {
	Transaction

	// Raw activities
	UpsertRawActivity(ctx context.Context, ra *types.RawActivity, sourceEventID string) (inserted bool, err error)
	ListRawActivities(ctx context.Context, f types.RawActivityFilter) ([]*types.RawActivity, int, error)
	RawActivitiesInRange(ctx context.Context, dateStart, dateEnd string) ([]*types.RawActivity, error)

	// Note pages and blocks
	UpsertNotePage(ctx context.Context, p *types.NotePage) error
	UpsertNoteBlock(ctx context.Context, b *types.NoteBlock) error
	AppendBlockEdit(ctx context.Context, blockID string, editedAt time.Time) error
	LeafBlocks(ctx context.Context, onlyUnindexed bool, model string) ([]*types.NoteBlock, error)
	LeafBlocksEditedSince(ctx context.Context, since time.Time) ([]*types.NoteBlock, error)
	LeafBlocksEditedBetween(ctx context.Context, start, end time.Time) ([]*types.NoteBlock, error)
	SetBlockAbstract(ctx context.Context, blockID, abstract string) error
	RecentLeafAbstracts(ctx context.Context, limit int) ([]string, error)

	// Embeddings
	UpsertEmbedding(ctx context.Context, e *types.Embedding) error
	EmbeddingForBlock(ctx context.Context, blockID, model string) (*types.Embedding, error)

	// Tags
	GetTag(ctx context.Context, id int64) (*types.Tag, error)
	GetTagByName(ctx context.Context, name string) (*types.Tag, error)
	CreateTag(ctx context.Context, t *types.Tag) (int64, error)
	UpdateTag(ctx context.Context, t *types.Tag) error
	DeleteTag(ctx context.Context, id int64) error
	ListTags(ctx context.Context, f types.TagFilter) ([]*types.Tag, int, error)
	TagsWithUsage(ctx context.Context, dateStart, dateEnd string, sampleLimit int) ([]*types.TagUsage, error)

	// Processed activities
	ListProcessedActivities(ctx context.Context, f types.ProcessedActivityFilter) ([]*types.ProcessedActivity, int, error)
	TagsForProcessedActivity(ctx context.Context, processedID int64) ([]*types.TagWithConfidence, error)
	ProcessedActivitiesForInsights(ctx context.Context, dateStart, dateEnd string) ([]*types.ProcessedActivity, map[int64][]string, error)

	// Transactions and lifecycle
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	Stats(ctx context.Context) (*SystemStats, error)
	Ping(ctx context.Context) error
	Close() error
}

// SystemStats summarizes table counts and covered date ranges for the
// /system/stats endpoint.
type SystemStats struct {
	RawActivities       int    `json:"raw_activities"`
	ProcessedActivities int    `json:"processed_activities"`
	Tags                int    `json:"tags"`
	ActivityTags        int    `json:"activity_tags"`
	NotePages           int    `json:"note_pages"`
	NoteBlocks          int    `json:"note_blocks"`
	LeafBlocks          int    `json:"leaf_blocks"`
	Embeddings          int    `json:"embeddings"`
	RawDateStart        string `json:"raw_date_start"`
	RawDateEnd          string `json:"raw_date_end"`
	SchemaVersion       int    `json:"schema_version"`
}
