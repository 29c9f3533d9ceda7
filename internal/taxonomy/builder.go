package taxonomy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/vw-ai/lifetrace/internal/llm"
	"github.com/vw-ai/lifetrace/internal/storage"
	"github.com/vw-ai/lifetrace/internal/types"
)

const (
	corpusSampleLimit = 100
	builderMaxTokens  = 1200
)

const builderSystemPrompt = `You are building a practical, personal tag taxonomy from a user's own activity corpus.

GOALS:
1. Derive 5-12 concrete categories from what the user actually does
2. Each category gets a one-line description, 3-8 keywords, and optional sub_tags
3. Derive synonyms: alternate terms the user writes for each category
4. Include personal_shortcuts for private abbreviations mapping to categories
5. Use lowercase_underscore_format; avoid over-abstract categories

Respond with JSON only:
{"taxonomy": {"category": {"description": "...", "keywords": ["..."], "sub_tags": ["..."]}},
 "synonyms": {"category": ["term"], "personal_shortcuts": {"shortcut": ["category"]}}}`

// Builder derives the generated taxonomy and synonyms artifacts from the
// user's recent corpus of calendar events and note abstracts.
type Builder struct {
	store     storage.Storage
	chat      llm.Chat // nil forces the deterministic fallback
	resources *Store
	log       *slog.Logger
}

// NewBuilder wires a builder.
func NewBuilder(store storage.Storage, chat llm.Chat, resources *Store, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{store: store, chat: chat, resources: resources, log: log}
}

// BuildResult reports one taxonomy build.
type BuildResult struct {
	Categories int    `json:"categories"`
	Synonyms   int    `json:"synonyms"`
	CorpusSize int    `json:"corpus_size"`
	UsedLLM    bool   `json:"used_llm"`
	Status     string `json:"status"`
}

// Build samples the corpus within the optional date window, derives the
// taxonomy and synonyms (LLM first, deterministic fallback second), and
// writes both artifacts to the resource store.
func (b *Builder) Build(ctx context.Context, dateStart, dateEnd string) (*BuildResult, error) {
	corpus, err := b.fetchCorpus(ctx, dateStart, dateEnd)
	if err != nil {
		return nil, err
	}

	var (
		tax     *Taxonomy
		syn     *Synonyms
		usedLLM bool
	)
	if b.chat != nil && len(corpus) > 0 {
		if t, s, err := b.buildWithLLM(ctx, corpus); err == nil {
			tax, syn, usedLLM = t, s, true
		} else {
			b.log.Warn("taxonomy LLM build failed, using fallback", "error", err)
		}
	}
	if tax == nil {
		tax, syn = FallbackBuild(corpus)
	}

	if err := b.resources.Save(tax, syn); err != nil {
		return nil, fmt.Errorf("save taxonomy artifacts: %w", err)
	}
	return &BuildResult{
		Categories: len(tax.Taxonomy),
		Synonyms:   len(syn.Synonyms),
		CorpusSize: len(corpus),
		UsedLLM:    usedLLM,
		Status:     "success",
	}, nil
}

// corpusItem is one sampled document.
type corpusItem struct {
	Kind string // calendar | notes
	Text string
}

func (b *Builder) fetchCorpus(ctx context.Context, dateStart, dateEnd string) ([]corpusItem, error) {
	var corpus []corpusItem

	events, _, err := b.store.ListRawActivities(ctx, types.RawActivityFilter{
		Source:    types.SourceCalendar,
		DateStart: dateStart,
		DateEnd:   dateEnd,
		Limit:     corpusSampleLimit,
	})
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		if ev.Details != "" {
			corpus = append(corpus, corpusItem{Kind: "calendar", Text: ev.Details})
		}
	}

	abstracts, err := b.store.RecentLeafAbstracts(ctx, corpusSampleLimit)
	if err != nil {
		return nil, err
	}
	for _, a := range abstracts {
		if a != "" {
			corpus = append(corpus, corpusItem{Kind: "notes", Text: a})
		}
	}
	return corpus, nil
}

func (b *Builder) buildWithLLM(ctx context.Context, corpus []corpusItem) (*Taxonomy, *Synonyms, error) {
	var sb strings.Builder
	for i, item := range corpus {
		if i >= corpusSampleLimit {
			break
		}
		fmt.Fprintf(&sb, "[%s] %s\n", item.Kind, clip(item.Text, 200))
	}

	resp, err := b.chat.Complete(ctx, builderSystemPrompt,
		"Derive the taxonomy and synonyms from these activities:\n\n"+sb.String(),
		builderMaxTokens)
	if err != nil {
		return nil, nil, err
	}

	var payload struct {
		Taxonomy map[string]Category `json:"taxonomy"`
	}
	clean := StripCodeFences(resp)
	if err := json.Unmarshal([]byte(clean), &payload); err != nil {
		return nil, nil, fmt.Errorf("parse taxonomy JSON: %w", err)
	}
	if len(payload.Taxonomy) == 0 {
		return nil, nil, fmt.Errorf("taxonomy JSON has no categories")
	}

	// Synonyms share a level with personal_shortcuts; decode separately.
	var raw struct {
		Synonyms map[string]json.RawMessage `json:"synonyms"`
	}
	syn := &Synonyms{Synonyms: map[string][]string{}, PersonalShortcuts: map[string][]string{}}
	if err := json.Unmarshal([]byte(clean), &raw); err == nil {
		for key, val := range raw.Synonyms {
			if key == "personal_shortcuts" {
				_ = json.Unmarshal(val, &syn.PersonalShortcuts)
				continue
			}
			var terms []string
			if err := json.Unmarshal(val, &terms); err == nil {
				syn.Synonyms[key] = terms
			}
		}
	}

	return &Taxonomy{Taxonomy: payload.Taxonomy}, syn, nil
}

var codeFenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

// StripCodeFences removes a wrapping markdown code fence if present.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

var (
	tokenRe   = regexp.MustCompile(`[a-zA-Z][a-zA-Z\-]{2,}`)
	stopwords = map[string]bool{
		"the": true, "and": true, "with": true, "from": true, "into": true,
		"that": true, "this": true, "have": true, "will": true, "been": true,
		"for": true, "are": true, "was": true, "not": true, "you": true,
	}
)

// Category buckets and their selector keywords for the deterministic
// fallback.
var fallbackBuckets = []struct {
	name     string
	selector []string
}{
	{"work", []string{"meeting", "project", "code", "review", "planning", "standup", "sync"}},
	{"health", []string{"gym", "exercise", "run", "walk", "meal", "lunch", "dinner", "breakfast"}},
	{"personal", []string{"write", "read", "learn", "study", "practice"}},
	{"social", []string{"call", "chat", "visit", "party", "event"}},
	{"maintenance", []string{"clean", "shop", "cook", "laundry", "grocery"}},
}

var fallbackSynonymGroups = []struct {
	name     string
	selector []string
}{
	{"meetings", []string{"call", "standup", "sync", "conference", "retro"}},
	{"coding", []string{"develop", "program", "debug", "commit", "deploy", "code"}},
	{"exercise", []string{"gym", "workout", "training", "fitness", "run", "jog"}},
	{"eating", []string{"meal", "lunch", "dinner", "breakfast", "snack", "food"}},
	{"writing", []string{"document", "note", "journal", "blog", "draft", "edit"}},
}

// FallbackBuild derives a taxonomy sketch from token frequency when the LLM
// is unavailable. An empty corpus still yields a non-empty vocabulary.
func FallbackBuild(corpus []corpusItem) (*Taxonomy, *Synonyms) {
	counts := map[string]int{}
	for _, item := range corpus {
		for _, w := range tokenRe.FindAllString(strings.ToLower(item.Text), -1) {
			if !stopwords[w] {
				counts[w]++
			}
		}
	}

	type wc struct {
		word  string
		count int
	}
	ranked := make([]wc, 0, len(counts))
	for w, c := range counts {
		ranked = append(ranked, wc{w, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})
	if len(ranked) > 200 {
		ranked = ranked[:200]
	}
	top := make([]string, len(ranked))
	for i, r := range ranked {
		top[i] = r.word
	}

	tax := &Taxonomy{Taxonomy: map[string]Category{}}
	for _, bucket := range fallbackBuckets {
		keywords := selectByKeyword(top, bucket.selector, 6)
		if len(keywords) == 0 {
			// Seed empty buckets with their selectors so even an empty
			// corpus yields a usable vocabulary.
			keywords = bucket.selector[:3]
		}
		tax.Taxonomy[bucket.name] = Category{
			Description: bucket.name + " activities",
			Keywords:    keywords,
		}
	}

	syn := &Synonyms{Synonyms: map[string][]string{}, PersonalShortcuts: map[string][]string{}}
	for _, group := range fallbackSynonymGroups {
		terms := selectByKeyword(top, group.selector, 8)
		if len(terms) == 0 {
			terms = group.selector[:3]
		}
		syn.Synonyms[group.name] = terms
	}
	return tax, syn
}

func selectByKeyword(words, selector []string, limit int) []string {
	var out []string
	for _, w := range words {
		for _, key := range selector {
			if strings.Contains(w, key) {
				out = append(out, w)
				break
			}
		}
		if len(out) >= limit {
			break
		}
	}
	return out
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
