// Package retrieve ranks leaf note blocks against a query text within a
// temporal window: calendar-as-query, notes-as-context.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/vw-ai/lifetrace/internal/llm"
	"github.com/vw-ai/lifetrace/internal/storage"
	"github.com/vw-ai/lifetrace/internal/types"
)

const (
	// DefaultHours is the recent window when unspecified.
	DefaultHours = 24
	// DefaultK is the result count when unspecified.
	DefaultK = 5
)

// Context is one retrieved block with its similarity score.
type Context struct {
	Block *types.NoteBlock `json:"block"`
	Score float64          `json:"score"`
}

// Retriever ranks candidates by cosine similarity of the query embedding
// against each candidate's live embedding. Candidates without a live
// embedding are excluded, never imputed.
type Retriever struct {
	store    storage.Storage
	embedder llm.Embedder
	log      *slog.Logger
}

// New wires a retriever. The embedder must match the indexer's model.
func New(store storage.Storage, embedder llm.Embedder, log *slog.Logger) *Retriever {
	if log == nil {
		log = slog.Default()
	}
	return &Retriever{store: store, embedder: embedder, log: log}
}

// Retrieve returns the top-K leaves edited within the last `hours`, ranked
// by similarity to query. An empty query returns an empty result.
func (r *Retriever) Retrieve(ctx context.Context, query string, hours, k int) ([]Context, error) {
	if hours <= 0 {
		hours = DefaultHours
	}
	candidates, err := r.store.LeafBlocksEditedSince(ctx, time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		return nil, err
	}
	return r.rank(ctx, query, candidates, k)
}

// RetrieveByDate returns the top-K leaves edited within
// [date - daysWindow 00:00:00, date + daysWindow 23:59:59].
func (r *Retriever) RetrieveByDate(ctx context.Context, query, date string, daysWindow, k int) ([]Context, error) {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("parse date: %w", err)
	}
	if daysWindow < 0 {
		daysWindow = 1
	}
	start := d.AddDate(0, 0, -daysWindow)
	end := d.AddDate(0, 0, daysWindow).Add(23*time.Hour + 59*time.Minute + 59*time.Second)

	candidates, err := r.store.LeafBlocksEditedBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return r.rank(ctx, query, candidates, k)
}

func (r *Retriever) rank(ctx context.Context, query string, candidates []*types.NoteBlock, k int) ([]Context, error) {
	if k <= 0 {
		k = DefaultK
	}
	query = llm.CleanText(query)
	if query == "" {
		return []Context{}, nil
	}

	qvec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results := make([]Context, 0, len(candidates))
	for _, block := range candidates {
		emb, err := r.store.EmbeddingForBlock(ctx, block.BlockID, r.embedder.Model())
		if err != nil {
			continue // no live embedding yet; indexing will fill it
		}
		results = append(results, Context{
			Block: block,
			Score: Cosine(qvec, emb.Vector),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		// Ties break to the more recently edited block, then block id.
		ei, ej := results[i].Block.LastEditedAt, results[j].Block.LastEditedAt
		switch {
		case ei != nil && ej != nil && !ei.Equal(*ej):
			return ei.After(*ej)
		case ei != nil && ej == nil:
			return true
		case ei == nil && ej != nil:
			return false
		}
		return results[i].Block.BlockID < results[j].Block.BlockID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Cosine computes the cosine similarity of two vectors. Mismatched or empty
// vectors score zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
