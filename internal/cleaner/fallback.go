package cleaner

import (
	"strings"

	"github.com/vw-ai/lifetrace/internal/types"
)

// Known meaningless patterns applied when the LLM is unavailable.
var meaninglessPatterns = map[string][]string{
	"system_artifacts":  {"scheduled_activity", "activities", "tasks", "events"},
	"generic_processes": {"effective_time_management", "time_management", "productivity", "planning", "organization", "management"},
	"redundant_plurals": {"meetings", "writings", "codings"},
	"meta_tags":         {"working", "things", "stuff", "general", "misc", "other"},
	"empty_concepts":    {"activity", "item", "entry"},
}

// FallbackAnalyze classifies tags with the deterministic rule set: pattern
// matching for removals, singular/plural heuristics for merges.
func FallbackAnalyze(usages []*types.TagUsage) []Analysis {
	byName := map[string]*types.TagUsage{}
	for _, u := range usages {
		byName[u.Name] = u
	}

	var out []Analysis
	for _, u := range usages {
		lower := strings.ToLower(u.Name)
		a := Analysis{
			TagName:    u.Name,
			Action:     ActionKeep,
			Reason:     "Appears meaningful",
			Confidence: 0.7,
		}

		for category, patterns := range meaninglessPatterns {
			if matchesAny(lower, patterns) {
				a.Action = ActionRemove
				a.Reason = "Matches " + category + " pattern"
				a.Confidence = 0.9
				break
			}
		}

		if a.Action == ActionKeep {
			if target := findMergeTarget(u.Name, byName); target != "" {
				a.Action = ActionMerge
				a.MergeTarget = target
				a.Reason = "Redundant variant of '" + target + "'"
				a.Confidence = 0.8
			}
		}

		if len(lower) < 3 {
			a.Action = ActionRemove
			a.MergeTarget = ""
			a.Reason = "Too short to be meaningful"
			a.Confidence = 0.8
		} else if strings.Count(lower, "_") > 2 {
			a.Confidence = 0.5
		}

		out = append(out, a)
	}
	return out
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}

// findMergeTarget proposes a singular/plural counterpart, preferring the
// variant with higher usage.
func findMergeTarget(name string, byName map[string]*types.TagUsage) string {
	lower := strings.ToLower(name)

	if strings.HasSuffix(lower, "s") && len(lower) > 3 {
		singular := lower[:len(lower)-1]
		if other, ok := byName[singular]; ok && other.UsageCount >= byName[name].UsageCount {
			return singular
		}
	}

	plural := lower + "s"
	if other, ok := byName[plural]; ok && other.UsageCount > byName[name].UsageCount {
		return plural
	}
	return ""
}
