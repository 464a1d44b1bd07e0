package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/google/generative-ai-go/genai"

	"sowforge-backend/models"
)

const (
	embeddingAPI   = "https://generativelanguage.googleapis.com/v1beta/models/gemini-embedding-001:embedContent"
	defaultModel   = "gemini-3-pro-preview"
	maxRetries     = 3
	initialBackoff = time.Second
	maxPromptChars = 30000
)

// GeminiClient implements CompletionClient and query embedding over the Gemini
// API. Generation goes through the SDK with a JSON response schema; embeddings
// use the REST endpoint so the output dimensionality can be pinned.
type GeminiClient struct {
	client       *genai.Client
	model        string
	httpClient   *http.Client
	embedBaseURL string
}

// GeminiOption configures a GeminiClient.
type GeminiOption func(*GeminiClient)

// WithModel overrides the default generation model.
func WithModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		if model != "" {
			g.model = model
		}
	}
}

// NewGeminiClient wraps a genai client for section generation and embeddings.
func NewGeminiClient(client *genai.Client, opts ...GeminiOption) *GeminiClient {
	g := &GeminiClient{
		client:       client,
		model:        defaultModel,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		embedBaseURL: embeddingAPI,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Complete sends a prompt and returns the model's text response. When a schema
// is provided the model is constrained to emit a JSON object of that shape.
// Transient failures are retried with exponential backoff.
func (g *GeminiClient) Complete(ctx context.Context, prompt string, schema *ResponseSchema) (string, error) {
	if g.client == nil {
		return "", fmt.Errorf("gemini client not configured")
	}

	if len(prompt) > maxPromptChars {
		log.Printf("Warning: Prompt too long (%d chars), truncating to %d chars", len(prompt), maxPromptChars)
		prompt = prompt[:maxPromptChars] + "\n\n[Content truncated due to length...]"
	}

	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0.2)
	if schema != nil {
		model.ResponseMIMEType = "application/json"
		model.ResponseSchema = buildGenaiSchema(schema)
	}

	var lastErr error
	backoff := initialBackoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}

		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			lastErr = err
			continue
		}

		text, err := responseText(resp)
		if err != nil {
			lastErr = err
			continue
		}
		return text, nil
	}

	return "", fmt.Errorf("%w: %v", ErrGenerationFailed, lastErr)
}

func buildGenaiSchema(schema *ResponseSchema) *genai.Schema {
	properties := make(map[string]*genai.Schema, len(schema.Fields))
	required := make([]string, 0, len(schema.Fields))
	for _, field := range schemaFieldOrder(schema.Fields) {
		if schema.Fields[field] == models.FieldTypeList {
			properties[field] = &genai.Schema{
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			}
		} else {
			properties[field] = &genai.Schema{Type: genai.TypeString}
		}
		required = append(required, field)
	}
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: properties,
		Required:   required,
	}
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("API returned no candidates")
	}

	var b bytes.Buffer
	for i, candidate := range resp.Candidates {
		if candidate.FinishReason != genai.FinishReasonStop && candidate.FinishReason != genai.FinishReasonUnspecified {
			log.Printf("Warning: Candidate %d finished with reason: %s", i, candidate.FinishReason)
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
	}

	if b.Len() == 0 {
		return "", fmt.Errorf("API candidates contained no text parts")
	}
	return b.String(), nil
}

// embeddingRequest is the REST body for gemini-embedding-001
type embeddingRequest struct {
	Model                string       `json:"model"`
	Content              contentInput `json:"content"`
	TaskType             string       `json:"taskType"`
	OutputDimensionality int          `json:"outputDimensionality"`
}

type contentInput struct {
	Parts []partInput `json:"parts"`
}

type partInput struct {
	Text string `json:"text"`
}

type embeddingResponse struct {
	Embedding struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
}

// EmbedQuery embeds a retrieval query at 768 dimensions and L2-normalizes the
// result so cosine distance in the corpus index behaves.
func (g *GeminiClient) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	return g.embed(ctx, text, "RETRIEVAL_QUERY")
}

// EmbedDocument embeds corpus-side text for indexing. The embedding model is
// asymmetric: stored rows must use the document task type so query-side
// embeddings rank against them correctly.
func (g *GeminiClient) EmbedDocument(ctx context.Context, text string) ([]float64, error) {
	return g.embed(ctx, text, "RETRIEVAL_DOCUMENT")
}

func (g *GeminiClient) embed(ctx context.Context, text, taskType string) ([]float64, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}

	reqBody := embeddingRequest{
		Model: "models/gemini-embedding-001",
		Content: contentInput{
			Parts: []partInput{{Text: text}},
		},
		TaskType:             taskType,
		OutputDimensionality: 768,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	backoff := initialBackoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, "POST", g.embedBaseURL, bytes.NewBuffer(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", apiKey)

		resp, err := g.httpClient.Do(req)
		if err != nil {
			if attempt == maxRetries-1 {
				return nil, fmt.Errorf("failed to send request after %d attempts: %w", maxRetries, err)
			}
			continue
		}

		if resp.StatusCode == http.StatusOK {
			var apiResp embeddingResponse
			if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
				resp.Body.Close()
				if attempt == maxRetries-1 {
					return nil, fmt.Errorf("failed to decode response: %w", err)
				}
				continue
			}
			resp.Body.Close()
			return normalizeVector(apiResp.Embedding.Values), nil
		}

		resp.Body.Close()

		// 400 and 401 are not transient
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("API error: %d", resp.StatusCode)
		}
		if attempt == maxRetries-1 {
			return nil, fmt.Errorf("API error after %d attempts: %d", maxRetries, resp.StatusCode)
		}
	}

	return nil, ErrEmbeddingFailed
}

func normalizeVector(v []float64) []float64 {
	norm := 0.0
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
	return v
}
