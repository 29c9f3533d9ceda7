// Package cleaner removes meaningless tags and merges redundant ones in two
// strictly ordered phases while preserving referential integrity.
package cleaner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vw-ai/lifetrace/internal/llm"
	"github.com/vw-ai/lifetrace/internal/storage"
	"github.com/vw-ai/lifetrace/internal/taxonomy"
	"github.com/vw-ai/lifetrace/internal/types"
)

// Actions a tag analysis can recommend.
const (
	ActionKeep   = "keep"
	ActionRemove = "remove"
	ActionMerge  = "merge"
)

const (
	// DefaultRemovalThreshold gates Phase A.
	DefaultRemovalThreshold = 0.7
	// DefaultMergeThreshold gates Phase B.
	DefaultMergeThreshold = 0.8

	analysisBatchSize = 30
	analysisTimeout   = 30 * time.Second
	analysisMaxTokens = 1500
	sampleActivityMax = 5
)

// Analysis is one tag's classification.
type Analysis struct {
	TagName     string  `json:"tag"`
	Action      string  `json:"action"`
	Reason      string  `json:"reason"`
	Confidence  float64 `json:"confidence"`
	MergeTarget string  `json:"merge_into,omitempty"`
}

// Request scopes one cleanup run. Empty date bounds select the global scope,
// where tags themselves may be deleted; a scoped run only touches links whose
// processed activity falls in range.
type Request struct {
	DryRun           bool    `json:"dry_run"`
	RemovalThreshold float64 `json:"removal_threshold"`
	MergeThreshold   float64 `json:"merge_threshold"`
	DateStart        string  `json:"date_start"`
	DateEnd          string  `json:"date_end"`
}

// ActionOutcome records what happened to one tag.
type ActionOutcome struct {
	Tag        string  `json:"tag"`
	Action     string  `json:"action"`
	Target     string  `json:"target,omitempty"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	Links      int64   `json:"links_affected"`
	Error      string  `json:"error,omitempty"`
}

// Summary is the result of one cleanup run.
type Summary struct {
	Status           string          `json:"status"`
	TotalAnalyzed    int             `json:"total_analyzed"`
	MarkedForRemoval int             `json:"marked_for_removal"`
	MarkedForMerge   int             `json:"marked_for_merge"`
	Removed          int             `json:"removed"`
	Merged           int             `json:"merged"`
	DryRun           bool            `json:"dry_run"`
	Scoped           bool            `json:"scoped"`
	Outcomes         []ActionOutcome `json:"outcomes"`
}

// Cleaner analyzes and mutates the tag set.
type Cleaner struct {
	store storage.Storage
	chat  llm.Chat // nil forces the deterministic rule set
	log   *slog.Logger
}

// New wires a cleaner.
func New(store storage.Storage, chat llm.Chat, log *slog.Logger) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	return &Cleaner{store: store, chat: chat, log: log}
}

// Clean runs the two-phase algorithm. Phase A removes, Phase B merges among
// the survivors; Phase B never merges into a tag Phase A removed. This
// ordering is a hard contract.
func (c *Cleaner) Clean(ctx context.Context, req Request) (*Summary, error) {
	if req.RemovalThreshold <= 0 {
		req.RemovalThreshold = DefaultRemovalThreshold
	}
	if req.MergeThreshold <= 0 {
		req.MergeThreshold = DefaultMergeThreshold
	}
	scoped := req.DateStart != "" || req.DateEnd != ""

	usages, err := c.store.TagsWithUsage(ctx, req.DateStart, req.DateEnd, sampleActivityMax)
	if err != nil {
		return nil, err
	}
	if len(usages) == 0 {
		return &Summary{Status: "no_tags", DryRun: req.DryRun, Scoped: scoped}, nil
	}

	analyses := c.Analyze(ctx, usages)

	// Phase A selection.
	var toRemove, survivors []Analysis
	for _, a := range analyses {
		if a.Action == ActionRemove && a.Confidence >= req.RemovalThreshold {
			toRemove = append(toRemove, a)
		} else {
			survivors = append(survivors, a)
		}
	}

	// Phase B selection: merges only among survivors, and only into targets
	// that also survived.
	surviving := map[string]bool{}
	for _, a := range survivors {
		surviving[a.TagName] = true
	}
	var toMerge []Analysis
	for _, a := range survivors {
		if a.Action == ActionMerge && a.MergeTarget != "" &&
			a.Confidence >= req.MergeThreshold && surviving[a.MergeTarget] {
			toMerge = append(toMerge, a)
		}
	}

	summary := &Summary{
		Status:           "success",
		TotalAnalyzed:    len(analyses),
		MarkedForRemoval: len(toRemove),
		MarkedForMerge:   len(toMerge),
		DryRun:           req.DryRun,
		Scoped:           scoped,
	}
	if req.DryRun {
		for _, a := range toRemove {
			summary.Outcomes = append(summary.Outcomes, ActionOutcome{
				Tag: a.TagName, Action: ActionRemove, Reason: a.Reason, Confidence: a.Confidence})
		}
		for _, a := range toMerge {
			summary.Outcomes = append(summary.Outcomes, ActionOutcome{
				Tag: a.TagName, Action: ActionMerge, Target: a.MergeTarget,
				Reason: a.Reason, Confidence: a.Confidence})
		}
		return summary, nil
	}

	// Phase A: removals. Each tag gets its own transaction to bound lock
	// duration; a failing tag is recorded and the run continues.
	for _, a := range toRemove {
		outcome := ActionOutcome{Tag: a.TagName, Action: ActionRemove, Reason: a.Reason, Confidence: a.Confidence}
		err := c.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
			n, err := tx.RemoveActivityTagsForTag(ctx, a.TagName, req.DateStart, req.DateEnd)
			if err != nil {
				return err
			}
			outcome.Links = n
			if !scoped {
				if err := tx.DeleteTagByName(ctx, a.TagName); err != nil {
					return err
				}
			}
			return tx.RecomputeTagUsage(ctx, a.TagName)
		})
		if err != nil {
			outcome.Error = err.Error()
			c.log.Warn("tag removal failed", "tag", a.TagName, "error", err)
		} else {
			summary.Removed++
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
	}

	// Phase B: merges among survivors.
	for _, a := range toMerge {
		outcome := ActionOutcome{Tag: a.TagName, Action: ActionMerge, Target: a.MergeTarget,
			Reason: a.Reason, Confidence: a.Confidence}
		err := c.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
			n, err := tx.MergeActivityTags(ctx, a.TagName, a.MergeTarget, req.DateStart, req.DateEnd)
			if err != nil {
				return err
			}
			outcome.Links = n
			if !scoped {
				if err := tx.DeleteTagByName(ctx, a.TagName); err != nil {
					return err
				}
			}
			return tx.RecomputeTagUsage(ctx, a.TagName, a.MergeTarget)
		})
		if err != nil {
			outcome.Error = err.Error()
			c.log.Warn("tag merge failed", "tag", a.TagName, "target", a.MergeTarget, "error", err)
		} else {
			summary.Merged++
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
	}

	return summary, nil
}

// Analyze classifies every tag, batching LLM calls and falling back to the
// deterministic rule set per batch on failure.
func (c *Cleaner) Analyze(ctx context.Context, usages []*types.TagUsage) []Analysis {
	if c.chat == nil {
		return FallbackAnalyze(usages)
	}

	var all []Analysis
	for i := 0; i < len(usages); i += analysisBatchSize {
		end := i + analysisBatchSize
		if end > len(usages) {
			end = len(usages)
		}
		batch := usages[i:end]

		analyses, err := c.analyzeBatch(ctx, batch)
		if err != nil {
			c.log.Warn("AI tag analysis failed, using fallback", "batch", i/analysisBatchSize, "error", err)
			analyses = FallbackAnalyze(batch)
		}
		all = append(all, analyses...)
	}
	return all
}

func (c *Cleaner) analyzeBatch(ctx context.Context, batch []*types.TagUsage) ([]Analysis, error) {
	ctx, cancel := context.WithTimeout(ctx, analysisTimeout)
	defer cancel()

	var sb strings.Builder
	for _, u := range batch {
		fmt.Fprintf(&sb, "- %s (used %d times): %s\n",
			u.Name, u.UsageCount, strings.Join(u.SampleActivities, "; "))
	}

	resp, err := c.chat.Complete(ctx, cleanupSystemPrompt, cleanupUserPrompt(sb.String()), analysisMaxTokens)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Actions []Analysis `json:"actions"`
	}
	if err := json.Unmarshal([]byte(taxonomy.StripCodeFences(resp)), &payload); err != nil {
		return nil, fmt.Errorf("parse analysis JSON: %w", err)
	}

	known := map[string]bool{}
	for _, u := range batch {
		known[u.Name] = true
	}
	var out []Analysis
	for _, a := range payload.Actions {
		if !known[a.TagName] {
			continue
		}
		if a.Action == "" {
			a.Action = ActionKeep
		}
		if a.Confidence == 0 {
			a.Confidence = 0.5
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("analysis matched no known tags")
	}
	return out, nil
}
