package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sowforge-backend/models"
)

func fullIntake() models.Intake {
	return models.Intake{
		"client_name":          "Northwind Health",
		"project_scope":        "Claims triage assistant rollout",
		"document_type":        "Statement of Work",
		"industry":             "healthcare",
		"region":               "EU",
		"deployment_model":     "hybrid",
		"architecture_pattern": "RAG",
		"cloud_provider":       "OCI",
		"ai_services_used":     []any{"OCI Generative AI"},
	}
}

func testPlan() *models.Plan {
	return &models.Plan{
		Sections: []models.SectionDefinition{
			{
				Name:     "Introduction",
				Intent:   "Introduces the engagement",
				Category: models.CategoryTemplate,
			},
			{
				Name:     "Service Levels",
				Intent:   "Defines availability commitments",
				Category: models.CategoryClause,
				ClauseFilters: map[string]any{
					"clause_type": "sla",
					"industry":    "{{structured.industry}}",
					"owner":       "legal",
				},
			},
			{
				Name:     "Technical Architecture",
				Intent:   "Describes the target platform",
				Category: models.CategoryTechnical,
			},
		},
	}
}

func newTestWorkflow(t *testing.T, retrieval RetrievalClient, completion CompletionClient) *WorkflowService {
	t.Helper()
	return NewWorkflowService(
		WithRetrievalEngine(NewRetrievalEngine(retrieval)),
		WithSectionWriter(NewSectionWriter(completion)),
		WithContextExtractor(NewContextExtractor(nil)),
		WithReviewer(NewReviewer()),
	)
}

// generousRetrieval returns the same healthy candidate set for every query.
type generousRetrieval struct{}

func (generousRetrieval) Search(ctx context.Context, filters map[string]any, topK int) (*SearchResponse, error) {
	return structuredResponse(4), nil
}

func goodSectionResponses() []string {
	return []string{
		`{"section_summary": "Availability commitments with monthly measurement.",
		  "obligations": ["Maintain 99.9 percent availability."],
		  "constraints": ["Planned maintenance excluded."],
		  "limitations": ["Credits are the sole remedy."]}`,
		`{"overview": "A retrieval augmented platform on managed services.",
		  "architecture_pattern": "RAG",
		  "core_components": ["Object Storage", "API Gateway"],
		  "data_flow": "Inbound document flow only.",
		  "security_model": "Tenant scoped access control.",
		  "multi_tenancy_model": "Pooled compute, isolated data.",
		  "limitations": "Batch ingestion only."}`,
	}
}

func runPipeline(t *testing.T, svc *WorkflowService, caseID uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	_, err := svc.SubmitPlan(ctx, caseID, testPlan())
	require.NoError(t, err)
	_, err = svc.RunRetrieve(ctx, caseID, 0)
	require.NoError(t, err)
	_, err = svc.RunRerank(ctx, caseID)
	require.NoError(t, err)
	_, err = svc.RunAssemble(ctx, caseID)
	require.NoError(t, err)
	_, err = svc.RunDraft(ctx, caseID, nil)
	require.NoError(t, err)
	_, err = svc.RunValidate(ctx, caseID)
	require.NoError(t, err)
	_, err = svc.RunReview(ctx, caseID, nil)
	require.NoError(t, err)
}

func TestCreateCaseRequiresIntakeFields(t *testing.T) {
	svc := newTestWorkflow(t, generousRetrieval{}, &scriptedCompletion{})

	_, err := svc.CreateCase(context.Background(), CreateCaseRequest{Intake: models.Intake{
		"client_name": "Northwind Health",
	}})
	require.Error(t, err)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Message, "project_scope")
	assert.Contains(t, validationErr.Message, "region")
}

func TestCreateCaseExtractsContextInline(t *testing.T) {
	svc := newTestWorkflow(t, generousRetrieval{}, &scriptedCompletion{})

	c, err := svc.CreateCase(context.Background(), CreateCaseRequest{Intake: fullIntake()})
	require.NoError(t, err)
	assert.Equal(t, models.StageExtracted, c.Stage)

	require.NotNil(t, c.StructuredContext)
	assert.Equal(t, "RAG", c.StructuredContext.ArchitecturePattern)
	assert.Equal(t, "healthcare", c.StructuredContext.Industry)
	assert.Contains(t, c.StructuredContext.AllowedServices, "OCI Generative AI")
	assert.Contains(t, c.StructuredContext.AllowedServices, "Object Storage")

	artifact := c.LatestArtifact(models.StageExtracted)
	require.NotNil(t, artifact)
	assert.Equal(t, 1, artifact.Version)
}

func TestSubmitPlanNormalization(t *testing.T) {
	svc := newTestWorkflow(t, generousRetrieval{}, &scriptedCompletion{})
	c, err := svc.CreateCase(context.Background(), CreateCaseRequest{Intake: fullIntake()})
	require.NoError(t, err)

	artifact, err := svc.SubmitPlan(context.Background(), c.ID, testPlan())
	require.NoError(t, err)

	plan := artifact.Payload["plan"].(*models.Plan)
	sla := plan.SectionByName("Service Levels")
	require.NotNil(t, sla)

	assert.Equal(t, "healthcare", sla.ClauseFilters["industry"], "structured template resolved")
	assert.NotContains(t, sla.ClauseFilters, "owner", "unknown filter dimensions dropped")
	assert.Equal(t, models.DefaultFallbackPolicy(), sla.FallbackPolicy)
	assert.Equal(t, models.DefaultSectionSchemas[models.CategoryClause], sla.OutputSchema)
}

func TestSubmitPlanRejectsBadPlans(t *testing.T) {
	svc := newTestWorkflow(t, generousRetrieval{}, &scriptedCompletion{})
	c, err := svc.CreateCase(context.Background(), CreateCaseRequest{Intake: fullIntake()})
	require.NoError(t, err)

	var validationErr *ValidationError

	_, err = svc.SubmitPlan(context.Background(), c.ID, &models.Plan{})
	require.ErrorAs(t, err, &validationErr)

	_, err = svc.SubmitPlan(context.Background(), c.ID, &models.Plan{Sections: []models.SectionDefinition{
		{Name: "A", Category: "weird"},
	}})
	require.ErrorAs(t, err, &validationErr)

	_, err = svc.SubmitPlan(context.Background(), c.ID, &models.Plan{Sections: []models.SectionDefinition{
		{Name: "A"}, {Name: "A"},
	}})
	require.ErrorAs(t, err, &validationErr)
}

func TestStageGuardRejectsJumps(t *testing.T) {
	svc := newTestWorkflow(t, generousRetrieval{}, &scriptedCompletion{})
	c, err := svc.CreateCase(context.Background(), CreateCaseRequest{Intake: fullIntake()})
	require.NoError(t, err)

	_, err = svc.RunDraft(context.Background(), c.ID, nil)
	var transitionErr *StateTransitionError
	require.ErrorAs(t, err, &transitionErr)
}

func TestFullPipelineToApproval(t *testing.T) {
	completion := &scriptedCompletion{responses: goodSectionResponses()}
	svc := newTestWorkflow(t, generousRetrieval{}, completion)

	c, err := svc.CreateCase(context.Background(), CreateCaseRequest{Intake: fullIntake()})
	require.NoError(t, err)
	runPipeline(t, svc, c.ID)

	// Draft is complete and grounded.
	draftArtifact, err := svc.GetLatestArtifact(c.ID, models.StageDrafted)
	require.NoError(t, err)
	draft := draftArtifact.Payload["draft"].(*models.Draft)
	require.Len(t, draft.StructuredSections, 3)
	assert.Contains(t, draft.Markdown, "# Statement of Work: Northwind Health")
	assert.Contains(t, draft.Markdown, "## Service Levels")

	sla := draft.StructuredSections[1]
	assert.Equal(t, ClauseAssemblyMode, sla.WriterMode)
	require.NotEmpty(t, sla.SourceMapping)
	assert.NotEmpty(t, sla.SourceMapping[0].ClauseIDs)

	// Validation and review both passed.
	validation, err := svc.GetLatestArtifact(c.ID, models.StageValidated)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusPass, validation.Payload["report"].(*models.ValidationReport).Status)

	review, err := svc.GetLatestArtifact(c.ID, models.StageReviewed)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusPass, review.Payload["report"].(*models.ReviewReport).Status)

	// Approval is terminal.
	approved, err := svc.Approve(context.Background(), c.ID, "reviewer@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.StageApproved, approved.Stage)
	assert.Equal(t, "reviewer@example.com", approved.ApprovedBy)

	var transitionErr *StateTransitionError
	_, err = svc.RunDraft(context.Background(), c.ID, nil)
	require.ErrorAs(t, err, &transitionErr)
	_, err = svc.Approve(context.Background(), c.ID, "someone-else")
	require.ErrorAs(t, err, &transitionErr)
}

func TestRunDraftRejectsProhibitedCommitments(t *testing.T) {
	completion := &scriptedCompletion{responses: goodSectionResponses()}
	svc := newTestWorkflow(t, generousRetrieval{}, completion)

	c, err := svc.CreateCase(context.Background(), CreateCaseRequest{Intake: fullIntake()})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.SubmitPlan(ctx, c.ID, testPlan())
	require.NoError(t, err)
	_, err = svc.RunRetrieve(ctx, c.ID, 0)
	require.NoError(t, err)
	_, err = svc.RunRerank(ctx, c.ID)
	require.NoError(t, err)
	_, err = svc.RunAssemble(ctx, c.ID)
	require.NoError(t, err)

	_, err = svc.RunDraft(ctx, c.ID, []string{"Sole Remedy"})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Message, "Service Levels")
	assert.Equal(t, models.StageAssembled, mustGetCase(t, svc, c.ID).Stage)
}

func mustGetCase(t *testing.T, svc *WorkflowService, id uuid.UUID) *models.Case {
	t.Helper()
	c, err := svc.GetCase(id)
	require.NoError(t, err)
	return c
}

func TestStageRerunAppendsNewVersion(t *testing.T) {
	svc := newTestWorkflow(t, generousRetrieval{}, &scriptedCompletion{})
	c, err := svc.CreateCase(context.Background(), CreateCaseRequest{Intake: fullIntake()})
	require.NoError(t, err)

	first, err := svc.SubmitPlan(context.Background(), c.ID, testPlan())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	second, err := svc.SubmitPlan(context.Background(), c.ID, testPlan())
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	got, err := svc.GetCase(c.ID)
	require.NoError(t, err)
	assert.Len(t, got.Artifacts[models.StagePlanReady], 2)
	assert.Equal(t, models.StagePlanReady, got.Stage)
}

func TestGetCaseReturnsIsolatedSnapshot(t *testing.T) {
	svc := newTestWorkflow(t, generousRetrieval{}, &scriptedCompletion{})
	c, err := svc.CreateCase(context.Background(), CreateCaseRequest{Intake: fullIntake()})
	require.NoError(t, err)

	before, err := svc.GetCase(c.ID)
	require.NoError(t, err)
	require.Equal(t, models.StageExtracted, before.Stage)

	_, err = svc.SubmitPlan(context.Background(), c.ID, testPlan())
	require.NoError(t, err)

	// Later stage runs must not show through earlier snapshots.
	assert.Equal(t, models.StageExtracted, before.Stage)
	assert.Empty(t, before.Artifacts[models.StagePlanReady])

	after, err := svc.GetCase(c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StagePlanReady, after.Stage)
	assert.Len(t, after.Artifacts[models.StagePlanReady], 1)
}

func TestApprovalRequiresPassingReview(t *testing.T) {
	// Drafts that always say "guarantee" fail review.
	completion := &scriptedCompletion{responses: []string{
		`{"section_summary": "We guarantee availability under all circumstances.",
		  "obligations": ["Guarantee uptime."], "constraints": [], "limitations": []}`,
		goodSectionResponses()[1],
	}}
	svc := newTestWorkflow(t, generousRetrieval{}, completion)

	c, err := svc.CreateCase(context.Background(), CreateCaseRequest{Intake: fullIntake()})
	require.NoError(t, err)
	runPipeline(t, svc, c.ID)

	review, err := svc.GetLatestArtifact(c.ID, models.StageReviewed)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusFail, review.Payload["report"].(*models.ReviewReport).Status)

	var transitionErr *StateTransitionError
	_, err = svc.Approve(context.Background(), c.ID, "reviewer@example.com")
	require.ErrorAs(t, err, &transitionErr)
}

func TestGetLatestArtifactErrors(t *testing.T) {
	svc := newTestWorkflow(t, generousRetrieval{}, &scriptedCompletion{})

	_, err := svc.GetLatestArtifact(uuid.New(), models.StageDrafted)
	assert.ErrorIs(t, err, ErrCaseNotFound)

	c, err := svc.CreateCase(context.Background(), CreateCaseRequest{Intake: fullIntake()})
	require.NoError(t, err)

	_, err = svc.GetLatestArtifact(c.ID, models.StageDrafted)
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	_, err = svc.GetLatestArtifact(c.ID, models.WorkflowStage("NOPE"))
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestRenderDocumentFormats(t *testing.T) {
	completion := &scriptedCompletion{responses: goodSectionResponses()}
	svc := newTestWorkflow(t, generousRetrieval{}, completion)

	c, err := svc.CreateCase(context.Background(), CreateCaseRequest{Intake: fullIntake()})
	require.NoError(t, err)
	runPipeline(t, svc, c.ID)

	md, contentType, err := svc.RenderDocument(c.ID, "md")
	require.NoError(t, err)
	assert.Equal(t, "text/markdown; charset=utf-8", contentType)
	assert.Contains(t, string(md), "## Technical Architecture")

	html, contentType, err := svc.RenderDocument(c.ID, "html")
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=utf-8", contentType)
	assert.Contains(t, string(html), "<h2")

	jsonDoc, contentType, err := svc.RenderDocument(c.ID, "json")
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
	assert.Contains(t, string(jsonDoc), "section_summary")

	_, _, err = svc.RenderDocument(c.ID, "docx")
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}
