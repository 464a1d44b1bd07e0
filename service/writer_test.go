package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sowforge-backend/models"
)

// scriptedCompletion replays canned responses and records every prompt.
type scriptedCompletion struct {
	responses []string
	errs      []error
	prompts   []string
}

func (c *scriptedCompletion) Complete(ctx context.Context, prompt string, schema *ResponseSchema) (string, error) {
	c.prompts = append(c.prompts, prompt)
	idx := len(c.prompts) - 1
	if idx < len(c.errs) && c.errs[idx] != nil {
		return "", c.errs[idx]
	}
	if idx < len(c.responses) {
		return c.responses[idx], nil
	}
	return "", errors.New("no scripted response")
}

func templateBlueprint() *models.SectionBlueprint {
	return &models.SectionBlueprint{
		SectionIntent:  "Introduces the engagement",
		Category:       models.CategoryTemplate,
		OutputSchema:   models.DefaultSectionSchemas[models.CategoryTemplate],
		FallbackPolicy: models.DefaultFallbackPolicy(),
	}
}

func clauseBlueprint() *models.SectionBlueprint {
	return &models.SectionBlueprint{
		SectionIntent: "Defines the service level commitments",
		Category:      models.CategoryClause,
		OutputSchema:  models.DefaultSectionSchemas[models.CategoryClause],
		RerankedClauses: []models.ClauseCandidate{
			{ChunkID: "sla-1", ClauseText: "Availability of 99.9 percent measured monthly."},
			{ChunkID: "sla-2", ClauseText: "Service credits apply after two consecutive breaches."},
		},
		PrimaryClauseIDs: []string{"sla-1", "sla-2"},
		FallbackPolicy:   models.DefaultFallbackPolicy(),
	}
}

func testIntake() models.Intake {
	return models.Intake{
		"client_name":   "Northwind Health",
		"project_scope": "Claims triage assistant rollout",
		"document_type": "Statement of Work",
		"industry":      "healthcare",
		"region":        "EU",
	}
}

func TestTemplateSectionIsDeterministicAndOffline(t *testing.T) {
	completion := &scriptedCompletion{}
	writer := NewSectionWriter(completion)
	def := &models.SectionDefinition{
		Name:         "Introduction",
		Category:     models.CategoryTemplate,
		OutputSchema: models.DefaultSectionSchemas[models.CategoryTemplate],
	}

	output, diag, usage := writer.WriteWithRetry(context.Background(), "Introduction", def, templateBlueprint(), nil, testIntake(), nil)

	content, ok := output["content"].(string)
	require.True(t, ok)
	assert.Contains(t, content, "Northwind Health")
	assert.Contains(t, content, "Claims triage assistant rollout")
	assert.Empty(t, completion.prompts, "template sections never call the model")
	assert.Equal(t, 0, usage.WriterCalls)
	require.Len(t, diag.Attempts, 1)
	assert.True(t, diag.Attempts[0].Pass)
	assert.Equal(t, TemplateMode, diag.Attempts[0].WriterMode)

	again, _, _ := writer.WriteWithRetry(context.Background(), "Introduction", def, templateBlueprint(), nil, testIntake(), nil)
	assert.Equal(t, output, again)
}

func TestClauseSectionFirstAttemptPass(t *testing.T) {
	completion := &scriptedCompletion{responses: []string{
		`{"section_summary": "Availability commitments with monthly measurement and credits.",
		  "obligations": ["Maintain 99.9 percent availability.", "Issue service credits after breaches."],
		  "constraints": ["Measurement excludes planned maintenance."],
		  "limitations": ["Credits are the sole remedy."]}`,
	}}
	writer := NewSectionWriter(completion)
	def := &models.SectionDefinition{
		Name:           "Service Levels",
		Category:       models.CategoryClause,
		RequiredFields: []string{"section_summary", "obligations"},
		OutputSchema:   models.DefaultSectionSchemas[models.CategoryClause],
		FallbackPolicy: models.DefaultFallbackPolicy(),
	}

	output, diag, usage := writer.WriteWithRetry(context.Background(), "Service Levels", def, clauseBlueprint(), nil, testIntake(), nil)

	assert.Equal(t, []string{"Maintain 99.9 percent availability.", "Issue service credits after breaches."}, output["obligations"])
	require.Len(t, diag.Attempts, 1)
	assert.True(t, diag.Attempts[0].Pass)
	assert.Equal(t, ClauseAssemblyMode, diag.Attempts[0].WriterMode)
	assert.Equal(t, 1, usage.WriterCalls)
	assert.Positive(t, usage.EstimatedPromptChars)

	// The evidence clauses are in the prompt.
	require.Len(t, completion.prompts, 1)
	assert.Contains(t, completion.prompts[0], "99.9 percent measured monthly")
}

func TestWriteRetryTriggersFreshRetrieval(t *testing.T) {
	completion := &scriptedCompletion{responses: []string{
		`{"section_summary": "", "obligations": [], "constraints": [], "limitations": []}`,
		`{"section_summary": "A complete summary of the service commitments.",
		  "obligations": ["Do the work."], "constraints": [], "limitations": []}`,
	}}
	writer := NewSectionWriter(completion)
	def := &models.SectionDefinition{
		Name:           "Service Levels",
		Category:       models.CategoryClause,
		RequiredFields: []string{"section_summary", "obligations"},
		OutputSchema:   models.DefaultSectionSchemas[models.CategoryClause],
		FallbackPolicy: models.DefaultFallbackPolicy(),
	}

	refreshed := 0
	refresher := func(ctx context.Context) ([]models.ClauseCandidate, *models.RetrievalDiagnostics) {
		refreshed++
		return []models.ClauseCandidate{
			{ChunkID: "fresh-1", ClauseText: "A freshly retrieved clause about service commitments."},
		}, &models.RetrievalDiagnostics{FinalCount: 1}
	}

	output, diag, _ := writer.WriteWithRetry(context.Background(), "Service Levels", def, clauseBlueprint(), nil, testIntake(), refresher)

	assert.Equal(t, 1, refreshed)
	require.Len(t, diag.Attempts, 2)
	assert.False(t, diag.Attempts[0].Pass)
	assert.NotNil(t, diag.Attempts[0].RetrievalRetry)
	assert.True(t, diag.Attempts[1].Pass)
	assert.Equal(t, "A complete summary of the service commitments.", output["section_summary"])

	// Second prompt carries the refreshed candidates.
	require.Len(t, completion.prompts, 2)
	assert.Contains(t, completion.prompts[1], "freshly retrieved clause")
}

func TestWriteExhaustionFallsBackToPlaceholders(t *testing.T) {
	completion := &scriptedCompletion{errs: []error{
		errors.New("model unavailable"),
		errors.New("model unavailable"),
		errors.New("model unavailable"),
		errors.New("model unavailable"),
	}}
	writer := NewSectionWriter(completion)
	def := &models.SectionDefinition{
		Name:           "Service Levels",
		Category:       models.CategoryClause,
		RequiredFields: []string{"section_summary"},
		OutputSchema:   models.DefaultSectionSchemas[models.CategoryClause],
		FallbackPolicy: models.DefaultFallbackPolicy(),
	}

	output, diag, _ := writer.WriteWithRetry(context.Background(), "Service Levels", def, clauseBlueprint(), nil, testIntake(), nil)

	assert.Len(t, diag.Attempts, 4, "max_retries of 3 allows 4 attempts")
	for _, attempt := range diag.Attempts {
		assert.False(t, attempt.Pass)
	}

	assert.Equal(t, "TBD", output["section_summary"])
	assert.Equal(t, []string{"TBD"}, output["obligations"])
	assert.Equal(t, []string{
		"Refine clause filters and retry retrieval.",
		"Provide additional intake details for missing required fields.",
	}, output["action_items"])
}

func TestCoerceToSchemaShapesResponse(t *testing.T) {
	schema := models.OutputSchema{
		"summary": models.FieldTypeString,
		"items":   models.FieldTypeList,
	}

	output := coerceToSchema(map[string]any{
		"summary":    "  trimmed  ",
		"items":      []any{"one", 2, "three"},
		"unexpected": "dropped",
	}, schema)

	assert.Equal(t, "trimmed", output["summary"])
	assert.Equal(t, []string{"one", "2", "three"}, output["items"])
	assert.NotContains(t, output, "unexpected")
}

func TestTechnicalPromptCarriesContextConstraints(t *testing.T) {
	completion := &scriptedCompletion{responses: []string{
		`{"overview": "A retrieval augmented generation platform on managed cloud services.",
		  "architecture_pattern": "RAG",
		  "core_components": ["API Gateway ingestion"],
		  "data_flow": "Documents flow inbound only.",
		  "security_model": "Tenant isolated access control.",
		  "multi_tenancy_model": "Pooled compute with isolated data.",
		  "limitations": "No streaming support."}`,
	}}
	writer := NewSectionWriter(completion)
	def := &models.SectionDefinition{
		Name:           "Technical Architecture",
		Category:       models.CategoryTechnical,
		OutputSchema:   models.DefaultSectionSchemas[models.CategoryTechnical],
		FallbackPolicy: models.DefaultFallbackPolicy(),
	}
	bp := &models.SectionBlueprint{
		Category:       models.CategoryTechnical,
		OutputSchema:   models.DefaultSectionSchemas[models.CategoryTechnical],
		FallbackPolicy: models.DefaultFallbackPolicy(),
	}
	sc := &models.StructuredContext{
		ArchitecturePattern: "RAG",
		AllowedServices:     []string{"API Gateway", "Object Storage"},
	}

	output, diag, _ := writer.WriteWithRetry(context.Background(), "Technical Architecture", def, bp, sc, testIntake(), nil)

	require.Len(t, diag.Attempts, 1)
	assert.True(t, diag.Attempts[0].Pass)
	assert.Equal(t, TechnicalSynthesisMode, diag.Attempts[0].WriterMode)
	assert.Equal(t, "RAG", output["architecture_pattern"])

	require.Len(t, completion.prompts, 1)
	assert.Contains(t, completion.prompts[0], `must be exactly "RAG"`)
	assert.Contains(t, completion.prompts[0], "API Gateway, Object Storage")
}
