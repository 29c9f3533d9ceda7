// Package index fills abstracts and embeddings for leaf note blocks.
package index

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/vw-ai/lifetrace/internal/llm"
	"github.com/vw-ai/lifetrace/internal/storage"
	"github.com/vw-ai/lifetrace/internal/types"
)

// Scope selects which leaves an indexing run visits.
type Scope string

const (
	ScopeAll    Scope = "all"
	ScopeRecent Scope = "recent"

	// DefaultRecentHours is the recent-scope window when unspecified.
	DefaultRecentHours = 24

	// fallbackTargetWords is the truncation point for the deterministic
	// abstract when the LLM path fails.
	fallbackTargetWords = 60

	abstractMaxTokens = 200
)

const abstractPrompt = "Summarize the following content into 30-100 words, focusing on the key activity context.\n\n"

// Indexer produces abstracts and embeddings for leaf blocks. Blocks that
// already carry both are skipped, making runs idempotent.
type Indexer struct {
	store    storage.Storage
	chat     llm.Chat // nil disables the LLM path
	embedder llm.Embedder
	log      *slog.Logger
}

// New wires an indexer. chat may be nil; the deterministic fallback then
// produces every abstract.
func New(store storage.Storage, chat llm.Chat, embedder llm.Embedder, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{store: store, chat: chat, embedder: embedder, log: log}
}

// Result reports one indexing run.
type Result struct {
	ProcessedBlocks int `json:"processed_blocks"`
	Abstracts       int `json:"abstracts"`
	Embeddings      int `json:"embeddings"`
	Failed          int `json:"failed"`
}

// Index visits leaves per scope. hours applies only to ScopeRecent; values
// <= 0 select the default window. Per-block failures log and skip.
func (ix *Indexer) Index(ctx context.Context, scope Scope, hours int) (*Result, error) {
	var (
		blocks []*types.NoteBlock
		err    error
	)
	switch scope {
	case ScopeRecent:
		if hours <= 0 {
			hours = DefaultRecentHours
		}
		blocks, err = ix.store.LeafBlocksEditedSince(ctx, time.Now().Add(-time.Duration(hours)*time.Hour))
	default:
		blocks, err = ix.store.LeafBlocks(ctx, true, ix.embedder.Model())
	}
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, block := range blocks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := ix.indexBlock(ctx, block, res); err != nil {
			res.Failed++
			ix.log.Warn("block indexing failed", "block", block.BlockID, "error", err)
			continue
		}
		res.ProcessedBlocks++
	}
	ix.log.Info("indexing complete", "scope", string(scope),
		"processed", res.ProcessedBlocks, "abstracts", res.Abstracts,
		"embeddings", res.Embeddings, "failed", res.Failed)
	return res, nil
}

func (ix *Indexer) indexBlock(ctx context.Context, block *types.NoteBlock, res *Result) error {
	abstract := ""
	if block.Abstract != nil {
		abstract = *block.Abstract
	}

	if abstract == "" {
		abstract = ix.generateAbstract(ctx, block.Text)
		if abstract != "" {
			if err := ix.store.SetBlockAbstract(ctx, block.BlockID, abstract); err != nil {
				return err
			}
			res.Abstracts++
		}
	}

	_, err := ix.store.EmbeddingForBlock(ctx, block.BlockID, ix.embedder.Model())
	if err == nil {
		return nil // live embedding present, nothing to do
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	document := abstract
	if document == "" {
		document = block.Text
	}
	vec, err := ix.embedder.Embed(ctx, document)
	if err != nil {
		// Embedder chains should not fail, but an explicit fallback keeps
		// the invariant that every indexed leaf has a vector.
		vec = llm.HashEmbedding(document)
	}
	if err := ix.store.UpsertEmbedding(ctx, &types.Embedding{
		BlockID: block.BlockID,
		Model:   ix.embedder.Model(),
		Vector:  vec,
		Dim:     len(vec),
	}); err != nil {
		return err
	}
	res.Embeddings++
	return nil
}

// generateAbstract targets 30-100 words through the LLM; failures fall back
// to FallbackAbstract.
func (ix *Indexer) generateAbstract(ctx context.Context, text string) string {
	text = llm.CleanText(text)
	if text == "" {
		return ""
	}
	if ix.chat != nil {
		if summary, err := ix.chat.Complete(ctx, "", abstractPrompt+text, abstractMaxTokens); err == nil {
			if s := llm.CleanText(summary); s != "" {
				return s
			}
		}
	}
	return FallbackAbstract(text, fallbackTargetWords)
}

// FallbackAbstract whitespace-normalizes text and truncates to roughly
// targetWords. Source text of at most 100 words passes through whole, so
// the 30-word lower bound only holds when the source affords it.
func FallbackAbstract(text string, targetWords int) string {
	words := strings.Fields(llm.CleanText(text))
	if len(words) <= 100 {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:targetWords], " ")
}
