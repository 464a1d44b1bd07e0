package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"sowforge-backend/repository"
)

// QueryEmbedder produces a query embedding for corpus search
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
}

// CorpusRetriever serves retrieval queries from the local clause corpus:
// the query text is embedded and matched against sow_clauses with the filter
// dimensions applied as column predicates. Responses always come back in the
// structured candidate shape.
type CorpusRetriever struct {
	repo     *repository.ClauseRepository
	embedder QueryEmbedder
}

// NewCorpusRetriever creates a corpus-backed retrieval client.
func NewCorpusRetriever(repo *repository.ClauseRepository, embedder QueryEmbedder) *CorpusRetriever {
	return &CorpusRetriever{repo: repo, embedder: embedder}
}

// Search implements RetrievalClient over the clause corpus.
func (r *CorpusRetriever) Search(ctx context.Context, filters map[string]any, topK int) (*SearchResponse, error) {
	if r.repo == nil || r.embedder == nil {
		return nil, fmt.Errorf("corpus retriever not configured")
	}

	embedding, err := r.embedder.EmbedQuery(ctx, corpusQueryText(filters))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	clauses, err := r.repo.Search(ctx, embedding, filters, topK)
	if err != nil {
		return nil, err
	}

	resp := &SearchResponse{Candidates: make([]map[string]any, 0, len(clauses))}
	for _, clause := range clauses {
		resp.Candidates = append(resp.Candidates, map[string]any{
			"chunk_id":    clause.ID.String(),
			"source_uri":  clause.SourceDocument,
			"score":       scoreFromDistance(clause.Distance),
			"clause_text": clause.Text,
			"metadata": map[string]any{
				"section":     clause.Section,
				"clause_type": clause.ClauseType,
				"risk_level":  clause.RiskLevel,
				"tags":        clause.Tags,
			},
		})
	}
	return resp, nil
}

// corpusQueryText builds the embedding query from the filter dimensions, most
// specific first, so semantically close clauses rank well even when the column
// predicates already narrowed the pool.
func corpusQueryText(filters map[string]any) string {
	var parts []string
	for _, key := range []string{"section", "clause_type", "architecture_pattern", "deployment_model", "industry"} {
		if s, ok := filters[key].(string); ok && s != "" {
			parts = append(parts, fmt.Sprintf("[%s: %s]", strings.ToUpper(key), s))
		}
	}
	if tags := filters["tags"]; tags != nil {
		switch v := tags.(type) {
		case []string:
			parts = append(parts, strings.Join(v, " "))
		case string:
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return "statement of work clause"
	}
	return strings.Join(parts, " ")
}

// scoreFromDistance converts a cosine distance into a relevance score in [0, 1].
func scoreFromDistance(distance float64) float64 {
	score := 1 - distance
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// AgentRetriever serves retrieval queries from a remote knowledge agent's chat
// endpoint. The agent replies conversationally, so its answers arrive in
// whatever shape the agent chose; normalization downstream sorts that out.
type AgentRetriever struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewAgentRetriever creates a retrieval client for a remote knowledge agent.
func NewAgentRetriever(endpoint, apiKey string) *AgentRetriever {
	return &AgentRetriever{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type agentChatRequest struct {
	Message string         `json:"message"`
	Filters map[string]any `json:"filters,omitempty"`
	TopK    int            `json:"top_k,omitempty"`
}

type agentChatResponse struct {
	Answer    string `json:"answer"`
	Citations []struct {
		SourceURI  string `json:"source_uri"`
		Title      string `json:"title,omitempty"`
		SourceText string `json:"source_text,omitempty"`
	} `json:"citations,omitempty"`
}

// Search implements RetrievalClient against the agent's chat endpoint.
func (r *AgentRetriever) Search(ctx context.Context, filters map[string]any, topK int) (*SearchResponse, error) {
	if r.endpoint == "" {
		return nil, fmt.Errorf("agent retriever endpoint not configured")
	}

	reqBody := agentChatRequest{
		Message: agentQueryMessage(filters, topK),
		Filters: filters,
		TopK:    topK,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent API error: %d", resp.StatusCode)
	}

	var agentResp agentChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&agentResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	out := &SearchResponse{Answer: agentResp.Answer}
	for _, c := range agentResp.Citations {
		out.Citations = append(out.Citations, Citation{
			SourceURI:  c.SourceURI,
			Title:      c.Title,
			SourceText: c.SourceText,
		})
	}
	return out, nil
}

// agentQueryMessage phrases the filter set as an instruction the agent can act
// on, asking for machine-readable candidates up front.
func agentQueryMessage(filters map[string]any, topK int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Return up to %d reusable contract clauses as a JSON object "+
		`{"candidates": [{"chunk_id", "source_uri", "score", "clause_text", "metadata"}]}.`, topK)
	if section, ok := filters["section"].(string); ok && section != "" {
		fmt.Fprintf(&b, " The clauses are for the %q section.", section)
	}
	for key, value := range filters {
		if key == "section" {
			continue
		}
		if s, ok := value.(string); ok && s != "" {
			fmt.Fprintf(&b, " Prefer clauses where %s is %q.", key, s)
		}
	}
	return b.String()
}
