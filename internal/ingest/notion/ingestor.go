package notion

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vw-ai/lifetrace/internal/storage"
	"github.com/vw-ai/lifetrace/internal/types"
)

const (
	defaultBatchSize = 10
	// interRequestDelay spaces provider calls to stay under rate limits.
	interRequestDelay = 150 * time.Millisecond
	maxFetchRetries   = 3
)

// Progress reports traversal state to the caller after every page.
type Progress struct {
	BatchIndex      int
	PagesProcessed  int
	BlocksProcessed int
	CurrentPage     string
}

// ProgressFunc receives progress snapshots. May be nil.
type ProgressFunc func(Progress)

// Ingestor walks the workspace page tree and upserts pages, blocks, and edit
// timestamps. Traversal is iterative with an explicit stack; recursion depth
// is unbounded in principle.
type Ingestor struct {
	store     storage.Storage
	provider  Provider
	log       *slog.Logger
	BatchSize int
	Delay     time.Duration
}

// NewIngestor wires the provider to the store.
func NewIngestor(store storage.Storage, provider Provider, log *slog.Logger) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{
		store:     store,
		provider:  provider,
		log:       log,
		BatchSize: defaultBatchSize,
		Delay:     interRequestDelay,
	}
}

// Result reports one traversal run.
type Result struct {
	PagesProcessed  int `json:"pages_processed"`
	BlocksProcessed int `json:"blocks_processed"`
	PagesFailed     int `json:"pages_failed"`
}

// Ingest traverses either the seed pages or, when seedPageIDs is empty, every
// page discovered through workspace search. Page batches bound memory; a
// failing page is logged and skipped. Re-traversal updates mutable fields and
// never duplicates rows or overwrites abstracts.
func (in *Ingestor) Ingest(ctx context.Context, seedPageIDs []string, maxPages int, progress ProgressFunc) (*Result, error) {
	pages, err := in.resolvePages(ctx, seedPageIDs, maxPages)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	batchSize := in.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	for i := 0; i < len(pages); i += batchSize {
		end := i + batchSize
		if end > len(pages) {
			end = len(pages)
		}
		for _, page := range pages[i:end] {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			blocks, err := in.ingestPage(ctx, page)
			if err != nil {
				res.PagesFailed++
				in.log.Warn("page failed", "page", page.ID, "error", err)
				continue
			}
			res.PagesProcessed++
			res.BlocksProcessed += blocks
			if progress != nil {
				progress(Progress{
					BatchIndex:      i / batchSize,
					PagesProcessed:  res.PagesProcessed,
					BlocksProcessed: res.BlocksProcessed,
					CurrentPage:     page.Title,
				})
			}
		}
	}

	in.log.Info("notes ingest complete",
		"pages", res.PagesProcessed, "blocks", res.BlocksProcessed, "failed", res.PagesFailed)
	return res, nil
}

func (in *Ingestor) resolvePages(ctx context.Context, seedPageIDs []string, maxPages int) ([]Page, error) {
	if len(seedPageIDs) > 0 {
		pages := make([]Page, 0, len(seedPageIDs))
		for _, id := range seedPageIDs {
			page, err := in.provider.GetPage(ctx, id)
			if err != nil {
				in.log.Warn("seed page lookup failed", "page", id, "error", err)
				continue
			}
			pages = append(pages, *page)
		}
		return pages, nil
	}

	var pages []Page
	cursor := ""
	for {
		batch, next, err := in.provider.SearchPages(ctx, cursor)
		if err != nil {
			return nil, err
		}
		pages = append(pages, batch...)
		if maxPages > 0 && len(pages) >= maxPages {
			return pages[:maxPages], nil
		}
		if next == "" {
			return pages, nil
		}
		cursor = next
		in.pause(ctx)
	}
}

// frame is one pending traversal step: fetch the children of blockID and
// record them with parentID as their parent (nil for the page's top level).
type frame struct {
	blockID  string
	parentID *string
}

func (in *Ingestor) ingestPage(ctx context.Context, page Page) (int, error) {
	if err := in.store.UpsertNotePage(ctx, &types.NotePage{
		PageID:       page.ID,
		Title:        page.Title,
		URL:          page.URL,
		LastEditedAt: page.LastEditedAt,
	}); err != nil {
		return 0, err
	}

	processed := 0
	stack := []frame{{blockID: page.ID, parentID: nil}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := in.fetchChildren(ctx, f.blockID)
		if err != nil {
			in.log.Warn("block fetch failed", "block", f.blockID, "error", err)
			continue
		}

		for _, child := range children {
			text := ""
			if IsTextBearing(child.Type) {
				text = child.Text
			}
			isLeaf := !child.HasChildren && IsTextBearing(child.Type) && text != ""

			nb := &types.NoteBlock{
				BlockID:       child.ID,
				PageID:        page.ID,
				ParentBlockID: f.parentID,
				BlockType:     child.Type,
				IsLeaf:        isLeaf,
				Text:          text,
				LastEditedAt:  child.LastEditedAt,
			}
			if err := in.store.UpsertNoteBlock(ctx, nb); err != nil {
				in.log.Warn("block upsert failed", "block", child.ID, "error", err)
				continue
			}
			if child.LastEditedAt != nil {
				if err := in.store.AppendBlockEdit(ctx, child.ID, *child.LastEditedAt); err != nil {
					in.log.Warn("block edit append failed", "block", child.ID, "error", err)
				}
			}
			processed++

			if child.HasChildren {
				id := child.ID
				stack = append(stack, frame{blockID: id, parentID: &id})
			}
		}
	}
	return processed, nil
}

// fetchChildren pages through one block's children with exponential backoff,
// at most maxFetchRetries retries per fetch.
func (in *Ingestor) fetchChildren(ctx context.Context, blockID string) ([]Block, error) {
	var all []Block
	cursor := ""
	for {
		blocks, next, err := in.fetchWithRetry(ctx, blockID, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, blocks...)
		if next == "" {
			return all, nil
		}
		cursor = next
		in.pause(ctx)
	}
}

func (in *Ingestor) fetchWithRetry(ctx context.Context, blockID, cursor string) ([]Block, string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxFetchRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, "", ctx.Err()
			}
		}
		in.pause(ctx)

		blocks, next, err := in.provider.BlockChildren(ctx, blockID, cursor)
		if err == nil {
			return blocks, next, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return nil, "", err
		}
	}
	return nil, "", lastErr
}

func (in *Ingestor) pause(ctx context.Context) {
	if in.Delay <= 0 {
		return
	}
	select {
	case <-time.After(in.Delay):
	case <-ctx.Done():
	}
}
