package tagger

import (
	"fmt"
	"strings"
)

const tagSystemPrompt = `You are an intelligent activity categorization system. Your job is to assign 1-3 tags to an activity for time tracking and analysis.

IMPORTANT RULES:
1. Only use tags from the provided taxonomy; never invent new tags
2. Assign 1-3 tags maximum per activity
3. Attach a confidence between 0.0 and 1.0 to each tag
4. Use the exact taxonomy spelling

Respond with JSON only: {"tags": [{"name": "...", "confidence": 0.0}]}`

func tagUserPrompt(ctx TagContext) string {
	existing := "None"
	if len(ctx.TaxonomyTags) > 0 {
		tags := ctx.TaxonomyTags
		if len(tags) > 50 {
			tags = tags[:50]
		}
		existing = strings.Join(tags, ", ")
	}
	timeContext := ctx.TimeOfDay
	if timeContext == "" {
		timeContext = "not specified"
	}
	return fmt.Sprintf(`Activity: %q
Source: %s
Duration: %d minutes
Time context: %s

Allowed taxonomy tags: %s

Assign 1-3 tags with confidences.`,
		ctx.ActivityText, ctx.Source, ctx.DurationMinutes, timeContext, existing)
}
