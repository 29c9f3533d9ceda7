package retrieve

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vw-ai/lifetrace/internal/llm"
	"github.com/vw-ai/lifetrace/internal/storage/sqlite"
	"github.com/vw-ai/lifetrace/internal/types"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "test.db"), 0, nil)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedLeaf(t *testing.T, store *sqlite.Store, embedder llm.Embedder, blockID, text string, editedAt time.Time) {
	t.Helper()
	ctx := context.Background()
	if err := store.UpsertNoteBlock(ctx, &types.NoteBlock{
		BlockID:      blockID,
		PageID:       "page-1",
		BlockType:    "paragraph",
		IsLeaf:       true,
		Text:         text,
		LastEditedAt: &editedAt,
	}); err != nil {
		t.Fatalf("seed block failed: %v", err)
	}
	vec, err := embedder.Embed(ctx, text)
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if err := store.UpsertEmbedding(ctx, &types.Embedding{
		BlockID: blockID, Model: embedder.Model(), Vector: vec, Dim: len(vec),
	}); err != nil {
		t.Fatalf("seed embedding failed: %v", err)
	}
}

func TestRetrieveRanksBySimilarity(t *testing.T) {
	store := newTestStore(t)
	embedder := llm.NewHashEmbedder("")
	r := New(store, embedder, nil)

	now := time.Now()
	seedLeaf(t, store, embedder, "block-standup", "Standup notes about the auth module", now)
	seedLeaf(t, store, embedder, "block-recipe", "Pancake recipe with blueberries and maple syrup", now)

	results, err := r.Retrieve(context.Background(), "Standup", 48, 3)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected both candidates, got %d", len(results))
	}
	if results[0].Block.BlockID != "block-standup" {
		t.Fatalf("block containing the query phrase must rank first, got %q", results[0].Block.BlockID)
	}
	if results[0].Score <= results[1].Score {
		t.Fatalf("expected strictly greater score: %f vs %f", results[0].Score, results[1].Score)
	}
}

func TestRetrieveEmptyQuery(t *testing.T) {
	store := newTestStore(t)
	embedder := llm.NewHashEmbedder("")
	r := New(store, embedder, nil)

	seedLeaf(t, store, embedder, "block-1", "something", time.Now())

	results, err := r.Retrieve(context.Background(), "   ", 24, 5)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("empty query must return empty result, got %d", len(results))
	}
}

func TestRetrieveExcludesUnembedded(t *testing.T) {
	store := newTestStore(t)
	embedder := llm.NewHashEmbedder("")
	r := New(store, embedder, nil)

	now := time.Now()
	seedLeaf(t, store, embedder, "block-embedded", "meeting notes", now)

	// A leaf without an embedding is never imputed.
	if err := store.UpsertNoteBlock(context.Background(), &types.NoteBlock{
		BlockID: "block-bare", PageID: "page-1", BlockType: "paragraph",
		IsLeaf: true, Text: "bare block", LastEditedAt: &now,
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	results, err := r.Retrieve(context.Background(), "meeting", 24, 5)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	for _, res := range results {
		if res.Block.BlockID == "block-bare" {
			t.Fatal("candidate without a live embedding must be excluded")
		}
	}
}

func TestRetrieveByDateWindow(t *testing.T) {
	store := newTestStore(t)
	embedder := llm.NewHashEmbedder("")
	r := New(store, embedder, nil)

	center := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	seedLeaf(t, store, embedder, "block-in", "standup notes", center)
	seedLeaf(t, store, embedder, "block-out", "standup notes from long ago", center.AddDate(0, 0, -10))

	results, err := r.RetrieveByDate(context.Background(), "standup", "2025-08-01", 1, 5)
	if err != nil {
		t.Fatalf("retrieve by date failed: %v", err)
	}
	if len(results) != 1 || results[0].Block.BlockID != "block-in" {
		t.Fatalf("expected only the in-window block, got %v", results)
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"mismatched", []float32{1, 0}, []float32{1}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		if got := Cosine(tt.a, tt.b); got != tt.want {
			t.Errorf("%s: Cosine = %f, want %f", tt.name, got, tt.want)
		}
	}
}
