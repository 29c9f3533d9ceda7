// Package taxonomy holds the personalized category vocabulary the tagger is
// constrained to, plus the synonym map, persisted as versioned JSON
// artifacts in a small resource directory.
package taxonomy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Artifact file names. Generated artifacts take precedence over seeds.
const (
	GeneratedTaxonomyFile = "hierarchical_taxonomy_generated.json"
	GeneratedSynonymsFile = "synonyms_generated.json"
	SeedTaxonomyFile      = "tag_taxonomy.json"
	SeedSynonymsFile      = "synonyms.json"
)

// Category describes one taxonomy entry.
type Category struct {
	Description string   `json:"description"`
	Keywords    []string `json:"keywords,omitempty"`
	SubTags     []string `json:"sub_tags,omitempty"`
}

// Taxonomy is the canonical tag vocabulary.
type Taxonomy struct {
	Taxonomy map[string]Category `json:"taxonomy"`
}

// Tags returns the category names sorted for stable iteration.
func (t *Taxonomy) Tags() []string {
	out := make([]string, 0, len(t.Taxonomy))
	for name := range t.Taxonomy {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Has reports membership, case-insensitive.
func (t *Taxonomy) Has(name string) bool {
	name = strings.ToLower(name)
	for tag := range t.Taxonomy {
		if strings.ToLower(tag) == name {
			return true
		}
	}
	return false
}

// Canonical returns the taxonomy-cased name for a case-insensitive match.
func (t *Taxonomy) Canonical(name string) (string, bool) {
	name = strings.ToLower(name)
	for tag := range t.Taxonomy {
		if strings.ToLower(tag) == name {
			return tag, true
		}
	}
	return "", false
}

// Synonyms maps categories to alternate terms, plus personal shortcuts that
// map a private abbreviation to one or more categories.
type Synonyms struct {
	Synonyms          map[string][]string `json:"synonyms"`
	PersonalShortcuts map[string][]string `json:"personal_shortcuts,omitempty"`
}

// DefaultTaxonomy is the floor vocabulary when no artifact exists yet.
func DefaultTaxonomy() *Taxonomy {
	return &Taxonomy{Taxonomy: map[string]Category{
		"work":     {Description: "Work-related activities", Keywords: []string{"meeting", "project", "review"}},
		"personal": {Description: "Personal activities"},
		"study":    {Description: "Learning activities", Keywords: []string{"study", "learn", "read"}},
	}}
}

// Store loads and saves the artifact files and serves the active taxonomy to
// the tagger. A fsnotify watcher refreshes the cache when the files change
// underneath a long-lived server.
type Store struct {
	dir string
	log *slog.Logger

	mu       sync.RWMutex
	taxonomy *Taxonomy
	synonyms *Synonyms

	watcher *fsnotify.Watcher
}

// NewStore opens the resource directory, creating it if missing, and loads
// the active artifacts.
func NewStore(dir string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create resources dir: %w", err)
	}
	s := &Store{dir: dir, log: log}
	s.reload()
	return s, nil
}

// Dir returns the resource directory path.
func (s *Store) Dir() string { return s.dir }

// Active returns the current taxonomy and synonyms. Never nil.
func (s *Store) Active() (*Taxonomy, *Synonyms) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taxonomy, s.synonyms
}

// reload re-reads the artifacts, preferring generated files over seeds and
// falling back to the default vocabulary.
func (s *Store) reload() {
	tax := s.loadTaxonomy()
	syn := s.loadSynonyms()

	s.mu.Lock()
	s.taxonomy = tax
	s.synonyms = syn
	s.mu.Unlock()
}

func (s *Store) loadTaxonomy() *Taxonomy {
	for _, name := range []string{GeneratedTaxonomyFile, SeedTaxonomyFile} {
		var tax Taxonomy
		if err := readJSON(filepath.Join(s.dir, name), &tax); err == nil && len(tax.Taxonomy) > 0 {
			return &tax
		}
	}
	return DefaultTaxonomy()
}

func (s *Store) loadSynonyms() *Synonyms {
	for _, name := range []string{GeneratedSynonymsFile, SeedSynonymsFile} {
		var syn Synonyms
		if err := readJSON(filepath.Join(s.dir, name), &syn); err == nil && len(syn.Synonyms) > 0 {
			return &syn
		}
	}
	return &Synonyms{Synonyms: map[string][]string{}}
}

// Save writes both generated artifacts atomically (write-then-rename) and
// refreshes the cache.
func (s *Store) Save(tax *Taxonomy, syn *Synonyms) error {
	if err := writeJSON(filepath.Join(s.dir, GeneratedTaxonomyFile), tax); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(s.dir, GeneratedSynonymsFile), syn); err != nil {
		return err
	}
	s.reload()
	return nil
}

// Watch starts a fsnotify watcher on the resource directory so external
// artifact updates become visible without a restart. Close stops it.
func (s *Store) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.dir); err != nil {
		_ = w.Close()
		return err
	}
	s.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					s.log.Debug("taxonomy artifacts changed", "file", ev.Name)
					s.reload()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn("taxonomy watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher if one is running.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
