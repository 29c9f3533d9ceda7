package tagger

import (
	"context"
	"errors"
	"testing"

	"github.com/vw-ai/lifetrace/internal/taxonomy"
	"github.com/vw-ai/lifetrace/internal/types"
)

// fakeChat returns a canned completion or error.
type fakeChat struct {
	response string
	err      error
	calls    int
}

func (f *fakeChat) Complete(_ context.Context, _, _ string, _ int64) (string, error) {
	f.calls++
	return f.response, f.err
}

func newTestResources(t *testing.T) *taxonomy.Store {
	t.Helper()
	store, err := taxonomy.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("failed to build taxonomy store: %v", err)
	}
	if err := store.Save(
		&taxonomy.Taxonomy{Taxonomy: map[string]taxonomy.Category{
			"work":     {Description: "work", Keywords: []string{"meeting", "standup"}},
			"personal": {Description: "personal"},
			"study":    {Description: "study", Keywords: []string{"study", "learn"}},
			"health":   {Description: "health", Keywords: []string{"gym", "meal"}},
		}},
		&taxonomy.Synonyms{
			Synonyms:          map[string][]string{"work": {"retrospective"}},
			PersonalShortcuts: map[string][]string{"1:1": {"work"}},
		},
	); err != nil {
		t.Fatalf("failed to seed taxonomy: %v", err)
	}
	return store
}

func activity(details string) *types.RawActivity {
	return &types.RawActivity{Details: details, Source: types.SourceCalendar}
}

func TestKeywordPassSkipsLLM(t *testing.T) {
	chat := &fakeChat{response: `{"tags":[]}`}
	tg := New(newTestResources(t), chat, nil)

	tags := tg.GenerateTags(context.Background(), activity("Team standup meeting"))
	if len(tags) == 0 {
		t.Fatal("expected candidates")
	}
	if tags[0].Name != "work" {
		t.Fatalf("expected work, got %q", tags[0].Name)
	}
	if tags[0].Confidence < 0.7 {
		t.Fatalf("expected confidence >= 0.7, got %f", tags[0].Confidence)
	}
	if chat.calls != 0 {
		t.Fatalf("high-confidence match must not call the LLM, got %d calls", chat.calls)
	}
}

func TestPersonalShortcutConfidence(t *testing.T) {
	tg := New(newTestResources(t), nil, nil)

	tags := tg.GenerateTags(context.Background(), activity("1:1 with Sam"))
	if tags[0].Name != "work" || tags[0].Confidence != 0.95 {
		t.Fatalf("expected (work, 0.95), got (%s, %f)", tags[0].Name, tags[0].Confidence)
	}
}

func TestLLMPassValidatesTaxonomy(t *testing.T) {
	chat := &fakeChat{response: `{"tags":[{"name":"work","confidence":0.8},{"name":"invented_tag","confidence":0.9}]}`}
	tg := New(newTestResources(t), chat, nil)

	tags := tg.GenerateTags(context.Background(), activity("quarterly planning session"))
	for _, c := range tags {
		if c.Name == "invented_tag" {
			t.Fatal("free-form tags must be rejected")
		}
	}
	if len(tags) == 0 || tags[0].Name != "work" {
		t.Fatalf("expected validated work tag, got %v", tags)
	}
}

func TestLLMCommaFallback(t *testing.T) {
	chat := &fakeChat{response: "worke, studdy"}
	tg := New(newTestResources(t), chat, nil)

	tags := tg.GenerateTags(context.Background(), activity("quarterly planning session"))
	found := map[string]bool{}
	for _, c := range tags {
		found[c.Name] = true
	}
	if !found["work"] || !found["study"] {
		t.Fatalf("expected fuzzy-mapped work and study, got %v", tags)
	}
}

func TestAbsoluteFallback(t *testing.T) {
	chat := &fakeChat{err: errors.New("provider down")}
	tg := New(newTestResources(t), chat, nil)

	tags := tg.GenerateTags(context.Background(), &types.RawActivity{
		Details: "zzz qqq", Source: "unknown",
	})
	if len(tags) != 1 || tags[0].Name != "personal" || tags[0].Confidence != 0.3 {
		t.Fatalf("expected (personal, 0.3), got %v", tags)
	}
}

func TestClampToThreeTags(t *testing.T) {
	chat := &fakeChat{response: `{"tags":[
		{"name":"work","confidence":0.9},{"name":"personal","confidence":0.8},
		{"name":"study","confidence":0.7},{"name":"health","confidence":0.6}]}`}
	tg := New(newTestResources(t), chat, nil)

	tags := tg.GenerateTags(context.Background(), activity("everything at once"))
	if len(tags) > 3 {
		t.Fatalf("expected at most 3 tags, got %d", len(tags))
	}
}

func TestNeedsReview(t *testing.T) {
	tg := New(newTestResources(t), nil, nil)

	if tg.NeedsReview([]Candidate{{Name: "work", Confidence: 0.9}}) {
		t.Fatal("high confidence should not need review")
	}
	if !tg.NeedsReview([]Candidate{{Name: "personal", Confidence: 0.3}}) {
		t.Fatal("low confidence should need review")
	}
}

func TestShouldRegenerate(t *testing.T) {
	tests := []struct {
		tags, activities int
		want             bool
	}{
		{0, 100, false},
		{10, 0, false},
		{30, 100, false}, // exactly at the ratio
		{31, 100, true},
	}
	for _, tt := range tests {
		if got := ShouldRegenerate(tt.tags, tt.activities); got != tt.want {
			t.Errorf("ShouldRegenerate(%d, %d) = %v, want %v", tt.tags, tt.activities, got, tt.want)
		}
	}
}

func TestRatio(t *testing.T) {
	if r := Ratio("work", "work"); r != 1.0 {
		t.Fatalf("identical strings should score 1.0, got %f", r)
	}
	if r := Ratio("worke", "work"); r < 0.8 {
		t.Fatalf("near-identical strings should score >= 0.8, got %f", r)
	}
	if r := Ratio("work", "health"); r > 0.5 {
		t.Fatalf("unrelated strings should score low, got %f", r)
	}
}

func TestFuzzyMapToTaxonomy(t *testing.T) {
	tags := []string{"work", "study", "health"}

	if name, conf, ok := FuzzyMapToTaxonomy("Work", tags, 0.8); !ok || name != "work" || conf != 1.0 {
		t.Fatalf("exact case-insensitive match failed: %q %f %v", name, conf, ok)
	}
	if name, _, ok := FuzzyMapToTaxonomy("worke", tags, 0.8); !ok || name != "work" {
		t.Fatalf("fuzzy match failed: %q %v", name, ok)
	}
	if _, _, ok := FuzzyMapToTaxonomy("gardening", tags, 0.8); ok {
		t.Fatal("distant token must not map")
	}
}
