package cleaner

const cleanupSystemPrompt = `You are an expert at analyzing activity tracking tags for quality and consistency.

Your mission: identify meaningless tags AND find merge opportunities for better tag organization.

MEANINGFUL TAGS capture specific, actionable information: concrete activities, tools or methods that add context, and purposes that explain why.

MEANINGLESS TAGS to remove:
- System artifacts that do not describe real activities (scheduled_activity, activities, tasks, events)
- Generic process descriptors (effective_time_management, productivity)
- Meta-concepts with no insight (working, general, misc, other, stuff)
- Broad categorizations instead of specific actions (management, planning)
- Malformed or accidental tags

MERGE OPPORTUNITIES to consolidate:
- Singular/plural variants (meeting/meetings)
- Synonymous terms in the same context (gym/exercise)
- Typos or spelling variants of the same concept

Be aggressive about removing generic tags; frequency does not make a
meaningless tag meaningful. All output tags are lowercase_underscore_format.`

func cleanupUserPrompt(tagsData string) string {
	return `Analyze these activity tracking tags and identify cleanup actions:

` + tagsData + `

For each tag decide keep, remove, or merge, with a confidence in [0,1].
Respond with JSON only:
{"actions": [{"tag": "...", "action": "keep|remove|merge", "reason": "...", "confidence": 0.0, "merge_into": "..."}]}`
}
