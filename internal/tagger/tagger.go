// Package tagger assigns 1-3 taxonomy tags with confidences to raw
// activities through a three-step cascade: synonym/keyword matching, a
// taxonomy-constrained LLM call, and deterministic content heuristics.
package tagger

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/vw-ai/lifetrace/internal/llm"
	"github.com/vw-ai/lifetrace/internal/taxonomy"
	"github.com/vw-ai/lifetrace/internal/types"
)

const (
	// acceptThreshold ends the cascade after the synonym pass when its best
	// candidate reaches it.
	acceptThreshold = 0.7

	// DefaultReviewThreshold flags activities for human review below it.
	// Flagging is metadata only; persistence is never blocked.
	DefaultReviewThreshold = 0.5

	// fuzzyThreshold is the minimum ratio when mapping freeform LLM output
	// back onto the taxonomy.
	fuzzyThreshold = 0.8

	// regenerationRatio triggers an optional taxonomy rebuild when
	// |tags| / |activities| exceeds it.
	regenerationRatio = 0.3

	maxTags      = 3
	llmMaxTokens = 300
)

// Candidate is one proposed tag with its confidence.
type Candidate struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// TagContext is the evidence the cascade works from.
type TagContext struct {
	ActivityText    string
	Source          string
	DurationMinutes int
	TimeOfDay       string
	TaxonomyTags    []string
}

// Tagger runs the cascade against the active taxonomy.
type Tagger struct {
	resources       *taxonomy.Store
	chat            llm.Chat // nil skips the LLM pass
	log             *slog.Logger
	ReviewThreshold float64
}

// New wires a tagger to the taxonomy store and the chat collaborator.
func New(resources *taxonomy.Store, chat llm.Chat, log *slog.Logger) *Tagger {
	if log == nil {
		log = slog.Default()
	}
	return &Tagger{
		resources:       resources,
		chat:            chat,
		log:             log,
		ReviewThreshold: DefaultReviewThreshold,
	}
}

// GenerateTags produces 1-3 candidates for one activity. Never returns an
// empty slice: the final fallback emits (personal, 0.3).
func (tg *Tagger) GenerateTags(ctx context.Context, activity *types.RawActivity) []Candidate {
	tax, syn := tg.resources.Active()
	tc := TagContext{
		ActivityText:    activity.Details,
		Source:          activity.Source,
		DurationMinutes: activity.DurationMinutes,
		TaxonomyTags:    tax.Tags(),
	}
	if activity.Time != nil {
		tc.TimeOfDay = *activity.Time
	}

	// Step 1: synonym + keyword matching against the taxonomy.
	matches := tg.matchTaxonomy(tc.ActivityText, tax, syn)
	if len(matches) > 0 && matches[0].Confidence >= acceptThreshold {
		return clampTags(matches)
	}

	// Step 2: LLM constrained to the taxonomy vocabulary.
	if tg.chat != nil {
		if candidates := tg.llmTags(ctx, tc, tax); len(candidates) > 0 {
			return clampTags(candidates)
		}
	}

	// Step 3: deterministic content heuristics.
	return clampTags(tg.fallbackTags(tc, matches))
}

// NeedsReview reports whether the best confidence falls under the review
// threshold.
func (tg *Tagger) NeedsReview(candidates []Candidate) bool {
	if len(candidates) == 0 {
		return true
	}
	return candidates[0].Confidence < tg.ReviewThreshold
}

// ShouldRegenerate reports whether the tag vocabulary has outgrown the
// corpus: |tags| / |activities| > 0.3.
func ShouldRegenerate(tagCount, activityCount int) bool {
	if tagCount == 0 || activityCount == 0 {
		return false
	}
	return float64(tagCount)/float64(activityCount) > regenerationRatio
}

// matchTaxonomy combines the synonym map, personal shortcuts, and per-category
// keyword lists into a deduplicated candidate list, best first.
func (tg *Tagger) matchTaxonomy(text string, tax *taxonomy.Taxonomy, syn *taxonomy.Synonyms) []Candidate {
	lower := strings.ToLower(text)
	best := map[string]float64{}

	record := func(tag string, conf float64) {
		if existing, ok := best[tag]; !ok || conf > existing {
			best[tag] = conf
		}
	}

	// Personal shortcuts carry the highest trust.
	for shortcut, categories := range syn.PersonalShortcuts {
		if shortcut == "" || !strings.Contains(lower, strings.ToLower(shortcut)) {
			continue
		}
		for _, cat := range categories {
			if canonical, ok := tax.Canonical(cat); ok {
				record(canonical, 0.95)
			}
		}
	}

	// General synonyms: longer matches earn more confidence, capped at 0.9.
	for cat, terms := range syn.Synonyms {
		canonical, ok := tax.Canonical(cat)
		if !ok {
			continue
		}
		for _, term := range terms {
			if term == "" || !strings.Contains(lower, strings.ToLower(term)) {
				continue
			}
			conf := float64(len(term)) / 20.0
			if conf > 0.9 {
				conf = 0.9
			}
			record(canonical, conf)
		}
	}

	// Category keyword lists: confidence scales with the match ratio,
	// capped at 0.8.
	for cat, info := range tax.Taxonomy {
		if len(info.Keywords) == 0 {
			continue
		}
		hits := 0
		for _, kw := range info.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		conf := float64(hits) / float64(len(info.Keywords)) * 2
		if conf > 0.8 {
			conf = 0.8
		}
		record(cat, conf)
	}

	return sortCandidates(best)
}

// llmTags calls the chat collaborator and validates every tag against the
// taxonomy. Malformed JSON degrades to comma-splitting plus fuzzy mapping.
func (tg *Tagger) llmTags(ctx context.Context, tc TagContext, tax *taxonomy.Taxonomy) []Candidate {
	resp, err := tg.chat.Complete(ctx, tagSystemPrompt, tagUserPrompt(tc), llmMaxTokens)
	if err != nil {
		tg.log.Warn("tag LLM call failed", "error", err)
		return nil
	}

	clean := taxonomy.StripCodeFences(resp)
	var payload struct {
		Tags []struct {
			Name       string  `json:"name"`
			Confidence float64 `json:"confidence"`
		} `json:"tags"`
	}
	if err := json.Unmarshal([]byte(clean), &payload); err == nil && len(payload.Tags) > 0 {
		var out []Candidate
		for _, t := range payload.Tags {
			canonical, ok := tax.Canonical(t.Name)
			if !ok {
				continue // free-form tags are rejected outright
			}
			conf := t.Confidence
			if conf <= 0 || conf > 1 {
				conf = 0.5
			}
			out = append(out, Candidate{Name: canonical, Confidence: conf})
		}
		return dedupeCandidates(out)
	}

	// Forgiving parse: comma-split and fuzzy-map each token.
	var out []Candidate
	for _, token := range strings.Split(clean, ",") {
		token = strings.TrimSpace(strings.ToLower(token))
		if token == "" {
			continue
		}
		if name, ratio, ok := FuzzyMapToTaxonomy(token, tax.Tags(), fuzzyThreshold); ok {
			out = append(out, Candidate{Name: name, Confidence: ratio})
		}
	}
	return dedupeCandidates(out)
}

// Multilingual content heuristics keyed on substrings, mapped to default
// categories with fixed confidences.
var contentHeuristics = []struct {
	words []string
	tag   string
	conf  float64
}{
	{[]string{"meeting", "会议", "call", "conference"}, "work", 0.7},
	{[]string{"eat", "meal", "吃", "用餐"}, "health", 0.8},
	{[]string{"rest", "sleep", "休息", "睡觉"}, "personal", 0.8},
	{[]string{"study", "learn", "学习", "read"}, "study", 0.7},
	{[]string{"exercise", "gym", "健身", "运动"}, "health", 0.8},
}

func (tg *Tagger) fallbackTags(tc TagContext, priorMatches []Candidate) []Candidate {
	if len(priorMatches) > 0 {
		return priorMatches
	}

	tax, _ := tg.resources.Active()
	lower := strings.ToLower(tc.ActivityText)
	var out []Candidate
	for _, h := range contentHeuristics {
		for _, w := range h.words {
			if strings.Contains(lower, w) {
				if canonical, ok := tax.Canonical(h.tag); ok {
					out = append(out, Candidate{Name: canonical, Confidence: h.conf})
				}
				break
			}
		}
	}
	if len(out) > 0 {
		return dedupeCandidates(out)
	}

	// Source hints before the absolute fallback.
	switch tc.Source {
	case types.SourceCalendar:
		if canonical, ok := tax.Canonical("work"); ok {
			return []Candidate{{Name: canonical, Confidence: 0.5}}
		}
	case types.SourceNotes:
		if canonical, ok := tax.Canonical("personal"); ok {
			return []Candidate{{Name: canonical, Confidence: 0.5}}
		}
	}
	return []Candidate{{Name: "personal", Confidence: 0.3}}
}

func sortCandidates(best map[string]float64) []Candidate {
	out := make([]Candidate, 0, len(best))
	for tag, conf := range best {
		out = append(out, Candidate{Name: tag, Confidence: conf})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func dedupeCandidates(in []Candidate) []Candidate {
	best := map[string]float64{}
	for _, c := range in {
		if existing, ok := best[c.Name]; !ok || c.Confidence > existing {
			best[c.Name] = c.Confidence
		}
	}
	return sortCandidates(best)
}

func clampTags(in []Candidate) []Candidate {
	if len(in) > maxTags {
		return in[:maxTags]
	}
	return in
}
