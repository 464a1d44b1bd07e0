package service

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"sowforge-backend/models"
)

// The retrieval service's response shape is not contractually fixed: it may be
// a structured candidate payload, a conversational answer with citations, or
// free text. Normalization tries an ordered chain of extraction strategies and
// never fails; malformed input only yields fewer candidates.

const minClauseTextLength = 16

var (
	fencedJSONPattern  = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	evidenceURIPattern = regexp.MustCompile(`(?:https?|s3)://[^\s"'<>)\]]+`)
)

// NormalizeCandidates turns a retrieval response of unknown shape into clause
// candidates for one section. fallbackFilters supplies metadata defaults for
// candidates that arrive without their own.
func NormalizeCandidates(resp *SearchResponse, sectionName string, fallbackFilters map[string]any, topK int) []models.ClauseCandidate {
	if resp == nil {
		return nil
	}

	raw := resp.Candidates
	if len(raw) == 0 {
		raw = candidatesFromAnswer(resp.Answer)
	}

	var candidates []models.ClauseCandidate
	if len(raw) > 0 {
		candidates = mapRawCandidates(raw, sectionName, fallbackFilters)
	}
	if len(candidates) == 0 {
		candidates = candidatesFromCitations(resp.Citations)
	}
	if len(candidates) == 0 {
		candidates = candidatesFromURIs(resp.Answer)
	}

	candidates = dropShortCandidates(candidates)
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates
}

// candidatesFromAnswer parses the answer text as JSON: first the full text,
// then each fenced code block, then any embedded snippet carrying a
// "candidates" key.
func candidatesFromAnswer(answer string) []map[string]any {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil
	}

	if parsed := parseCandidatePayload(answer); len(parsed) > 0 {
		return parsed
	}
	for _, match := range fencedJSONPattern.FindAllStringSubmatch(answer, -1) {
		if parsed := parseCandidatePayload(match[1]); len(parsed) > 0 {
			return parsed
		}
	}
	if snippet := embeddedCandidateSnippet(answer); snippet != "" {
		if parsed := parseCandidatePayload(snippet); len(parsed) > 0 {
			return parsed
		}
	}
	return nil
}

// embeddedCandidateSnippet slices the widest brace-delimited substring around a
// "candidates" key out of otherwise free text.
func embeddedCandidateSnippet(answer string) string {
	mark := strings.Index(answer, `"candidates"`)
	if mark < 0 {
		return ""
	}
	open := strings.LastIndexAny(answer[:mark], "{[")
	if open < 0 {
		return ""
	}
	closeIdx := strings.LastIndexAny(answer, "}]")
	if closeIdx <= mark {
		return ""
	}
	return answer[open : closeIdx+1]
}

// parseCandidatePayload accepts either {"candidates": [...]} or a bare list of
// candidate objects.
func parseCandidatePayload(raw string) []map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var asObject map[string]any
	if err := json.Unmarshal([]byte(raw), &asObject); err == nil {
		return toRawCandidateList(asObject["candidates"])
	}

	var asList []any
	if err := json.Unmarshal([]byte(raw), &asList); err == nil {
		return toRawCandidateList(asList)
	}
	return nil
}

func toRawCandidateList(value any) []map[string]any {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// mapRawCandidates fills in the defaults the upstream service routinely omits.
func mapRawCandidates(raw []map[string]any, sectionName string, fallbackFilters map[string]any) []models.ClauseCandidate {
	candidates := make([]models.ClauseCandidate, 0, len(raw))
	for idx, item := range raw {
		text := normalizeClauseText(stringField(item, "clause_text", "text", "content"))
		if text == "" {
			continue
		}

		metadata := models.ClauseMetadata{Section: sectionName}
		if m, ok := item["metadata"].(map[string]any); ok {
			if v := stringField(m, "section"); v != "" {
				metadata.Section = v
			}
			metadata.ClauseType = stringField(m, "clause_type")
			metadata.RiskLevel = stringField(m, "risk_level")
			metadata.Tags = stringListField(m, "tags")
		}
		if metadata.ClauseType == "" {
			metadata.ClauseType = filterString(fallbackFilters, "clause_type", "general")
		}
		if metadata.RiskLevel == "" {
			metadata.RiskLevel = filterString(fallbackFilters, "risk_level", "medium")
		}

		chunkID := stringField(item, "chunk_id", "id")
		if chunkID == "" {
			chunkID = fmt.Sprintf("%s-kb-%d", strings.ToLower(sectionName), idx+1)
		}
		sourceURI := stringField(item, "source_uri", "source")
		if sourceURI == "" {
			sourceURI = "unknown://source"
		}

		score := 0.5
		if v, ok := item["score"].(float64); ok {
			score = v
		}

		candidates = append(candidates, models.ClauseCandidate{
			ChunkID:    chunkID,
			SourceURI:  sourceURI,
			Score:      score,
			ClauseText: text,
			Metadata:   metadata,
		})
	}
	return candidates
}

// candidatesFromCitations derives candidates from the citations attached to a
// conversational response, deduplicated by (chunk id, source).
func candidatesFromCitations(citations []Citation) []models.ClauseCandidate {
	var candidates []models.ClauseCandidate
	seen := make(map[string]bool)

	for idx, citation := range citations {
		sourceURI := citation.SourceURI
		if sourceURI == "" {
			sourceURI = "unknown://source"
		}

		text := normalizeClauseText(citation.SourceText)
		if text == "" {
			text = normalizeClauseText(citation.Title)
		}
		if text == "" {
			text = fmt.Sprintf("Evidence reference from %s.", sourceURI)
		}

		// Dedupe repeated citations pointing at the same source text and URI.
		// Keying on the synthesized citation-N ids would never collapse
		// anything: each citation in a response gets a fresh id, so duplicate
		// evidence is only recognizable by its content and source.
		key := text + "|" + sourceURI
		if seen[key] {
			continue
		}
		seen[key] = true
		chunkID := fmt.Sprintf("citation-%d", idx+1)

		candidates = append(candidates, models.ClauseCandidate{
			ChunkID:    chunkID,
			SourceURI:  sourceURI,
			Score:      0.5,
			ClauseText: text,
		})
	}
	return candidates
}

// candidatesFromURIs is the last resort: synthesize one low-confidence
// candidate per unique URI found in the raw answer text.
func candidatesFromURIs(answer string) []models.ClauseCandidate {
	var candidates []models.ClauseCandidate
	seen := make(map[string]bool)

	for _, uri := range evidenceURIPattern.FindAllString(answer, -1) {
		uri = strings.TrimRight(uri, ".,;")
		if seen[uri] {
			continue
		}
		seen[uri] = true
		candidates = append(candidates, models.ClauseCandidate{
			ChunkID:    fmt.Sprintf("uri-%d", len(candidates)+1),
			SourceURI:  uri,
			Score:      0.2,
			ClauseText: fmt.Sprintf("Evidence reference from %s.", uri),
		})
	}
	return candidates
}

// dropShortCandidates removes below-threshold clause texts, but only when
// longer alternatives exist. A short candidate beats no candidate.
func dropShortCandidates(candidates []models.ClauseCandidate) []models.ClauseCandidate {
	kept := make([]models.ClauseCandidate, 0, len(candidates))
	for _, c := range candidates {
		if len(c.ClauseText) >= minClauseTextLength {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return candidates
	}
	return kept
}

// normalizeClauseText strips whitespace and markdown front-matter (headings,
// list markers, emphasis wrappers) from a clause text.
func normalizeClauseText(text string) string {
	text = strings.TrimSpace(text)
	for {
		trimmed := strings.TrimLeft(text, "#*->• \t")
		trimmed = strings.TrimSpace(trimmed)
		if trimmed == text {
			break
		}
		text = trimmed
	}
	return text
}

func stringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func stringListField(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func filterString(filters map[string]any, key, fallback string) string {
	if v, ok := filters[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
