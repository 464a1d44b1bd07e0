package service

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Model responses are JSON in theory only: they arrive wrapped in markdown
// fences, prefixed with prose, or with trailing commas. These helpers recover
// the object when one is recoverable and return nil otherwise.

var (
	jsonObjectPattern    = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ParseJSONObject extracts a JSON object from a model response string, trying
// the raw text, fenced code blocks, and a greedy brace match in that order.
func ParseJSONObject(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	attempts := []string{raw}
	for _, match := range fencedJSONPattern.FindAllStringSubmatch(raw, -1) {
		attempts = append(attempts, match[1])
	}
	if match := jsonObjectPattern.FindString(raw); match != "" {
		attempts = append(attempts, match)
	}

	for _, attempt := range attempts {
		cleaned := trailingCommaPattern.ReplaceAllString(attempt, "$1")
		var parsed map[string]any
		if err := json.Unmarshal([]byte(cleaned), &parsed); err == nil {
			return parsed
		}
	}
	return nil
}
