package service

import (
	"context"
	"log"
	"sort"
	"strings"

	"sowforge-backend/models"
)

// Citation is one source reference attached to a conversational retrieval response
type Citation struct {
	SourceURI  string `json:"source_uri"`
	Title      string `json:"title,omitempty"`
	SourceText string `json:"source_text,omitempty"`
}

// SearchResponse is the retrieval collaborator's reply. Exactly one of the
// three shapes is usually populated: structured Candidates, a JSON-bearing
// Answer, or Citations with free Answer text.
type SearchResponse struct {
	Candidates []map[string]any `json:"candidates,omitempty"`
	Answer     string           `json:"answer,omitempty"`
	Citations  []Citation       `json:"citations,omitempty"`
}

// RetrievalClient is the external clause-retrieval collaborator. Implementations
// must honor ctx cancellation; the engine treats any error as an empty result.
type RetrievalClient interface {
	Search(ctx context.Context, filters map[string]any, topK int) (*SearchResponse, error)
}

// RetrievalEngine issues per-section retrieval queries, relaxing filter
// dimensions one at a time when too few candidates come back. It never returns
// an error: the final attempt's candidates are returned as-is, possibly empty,
// with a full per-attempt audit trail.
type RetrievalEngine struct {
	client RetrievalClient
}

// NewRetrievalEngine creates a retrieval engine over the given client.
func NewRetrievalEngine(client RetrievalClient) *RetrievalEngine {
	return &RetrievalEngine{client: client}
}

// BuildQuery merges a section's resolved filters with structured-context
// defaults, omitting any dimension in relaxed.
func (e *RetrievalEngine) BuildQuery(def *models.SectionDefinition, sc *models.StructuredContext, relaxed []string) map[string]any {
	relaxedSet := make(map[string]bool, len(relaxed))
	for _, dim := range relaxed {
		relaxedSet[dim] = true
	}

	query := map[string]any{"section": def.Name}
	for key, val := range def.ClauseFilters {
		if models.IsRetrievalFilterField(key) && !relaxedSet[key] && !emptyFilterValue(val) {
			query[key] = val
		}
	}

	if sc != nil {
		defaults := map[string]any{
			"industry":             sc.Industry,
			"region":               sc.Region,
			"deployment_model":     sc.DeploymentModel,
			"architecture_pattern": sc.ArchitecturePattern,
		}
		for key, val := range defaults {
			if _, set := query[key]; !set && !relaxedSet[key] && !emptyFilterValue(val) {
				query[key] = val
			}
		}
	}
	return query
}

// RetrieveSection runs the bounded retrieve/relax loop for one section.
func (e *RetrievalEngine) RetrieveSection(ctx context.Context, def *models.SectionDefinition, sc *models.StructuredContext, topK int) ([]models.ClauseCandidate, *models.RetrievalDiagnostics) {
	policy := def.FallbackPolicy
	diag := &models.RetrievalDiagnostics{RelaxedDimensions: []string{}}

	var relaxed []string
	var candidates []models.ClauseCandidate

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		query := e.BuildQuery(def, sc, relaxed)
		candidates = e.search(ctx, def.Name, query, topK, false)
		diag.Attempts = append(diag.Attempts, models.RetrievalAttempt{
			Attempt:       attempt + 1,
			FiltersUsed:   query,
			ReturnedCount: len(candidates),
		})

		if len(candidates) >= policy.MinClauses {
			break
		}
		if attempt >= policy.MaxRetries || len(policy.RelaxationOrder) == 0 {
			continue
		}
		// Relax exactly one more dimension per failed attempt. The section
		// filter itself is never eligible.
		idx := attempt
		if idx >= len(policy.RelaxationOrder) {
			idx = len(policy.RelaxationOrder) - 1
		}
		if dim := policy.RelaxationOrder[idx]; dim != "section" && !contains(relaxed, dim) {
			relaxed = append(relaxed, dim)
		}
	}

	// Availability-over-precision last resort: one extra attempt with the
	// section filter dropped, only when explicitly configured.
	if len(candidates) < policy.MinClauses && policy.AllowOffSection {
		query := e.BuildQuery(def, sc, append(relaxed, models.RetrievalFilterFields...))
		delete(query, "section")
		offSection := e.search(ctx, def.Name, query, topK, true)
		diag.Attempts = append(diag.Attempts, models.RetrievalAttempt{
			Attempt:       len(diag.Attempts) + 1,
			FiltersUsed:   query,
			ReturnedCount: len(offSection),
			OffSection:    true,
		})
		if len(offSection) > len(candidates) {
			candidates = offSection
		}
	}

	diag.FinalCount = len(candidates)
	diag.RelaxedDimensions = append(diag.RelaxedDimensions, relaxed...)
	return candidates, diag
}

func (e *RetrievalEngine) search(ctx context.Context, sectionName string, query map[string]any, topK int, offSection bool) []models.ClauseCandidate {
	if e.client == nil {
		return nil
	}
	resp, err := e.client.Search(ctx, query, topK)
	if err != nil {
		log.Printf("Warning: retrieval failed for section %s: %v", sectionName, err)
		return nil
	}
	candidates := NormalizeCandidates(resp, sectionName, query, topK)
	if offSection {
		for i := range candidates {
			candidates[i].OffSection = true
		}
	}
	return candidates
}

// RerankClauses sorts candidates by relevance score with a tie-break boost for
// clauses that mention the section name verbatim. Sorting is stable so equal
// candidates keep their retrieval order.
func RerankClauses(sectionName string, candidates []models.ClauseCandidate) []models.ClauseCandidate {
	ranked := make([]models.ClauseCandidate, len(candidates))
	copy(ranked, candidates)

	boost := func(c models.ClauseCandidate) int {
		if sectionName != "" && strings.Contains(strings.ToLower(c.ClauseText), strings.ToLower(sectionName)) {
			return 1
		}
		return 0
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return boost(ranked[i]) > boost(ranked[j])
	})
	return ranked
}

func emptyFilterValue(val any) bool {
	switch v := val.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []string:
		return len(v) == 0
	case []any:
		return len(v) == 0
	}
	return false
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
