// Package crossref links items from different services through the Jira
// issue keys they mention.
package crossref

import (
	"regexp"
	"strings"
)

// TagPrefix marks tags that reference a Jira issue.
const TagPrefix = "jira:"

// jiraKeyPattern matches Jira issue keys (e.g., PROJ-123, ABC-1).
var jiraKeyPattern = regexp.MustCompile(`\b([A-Z][A-Z0-9]+-\d+)\b`)

// ExtractJiraKeys extracts all Jira issue keys from texts, deduplicated in
// order of first occurrence.
func ExtractJiraKeys(texts ...string) []string {
	matches := jiraKeyPattern.FindAllString(strings.Join(texts, " "), -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var result []string
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		result = append(result, m)
	}
	return result
}

// Tags returns one TagPrefix tag per Jira key mentioned in texts.
func Tags(texts ...string) []string {
	keys := ExtractJiraKeys(texts...)
	tags := make([]string, 0, len(keys))
	for _, k := range keys {
		tags = append(tags, TagPrefix+k)
	}
	return tags
}
