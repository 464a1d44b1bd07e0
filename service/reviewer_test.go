package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sowforge-backend/models"
)

func reviewedDraft(sections ...models.DraftedSection) *models.Draft {
	return &models.Draft{StructuredSections: sections}
}

func groundedSection(name, text string) models.DraftedSection {
	return models.DraftedSection{
		Name:          name,
		Category:      models.CategoryClause,
		DraftMarkdown: text,
		SourceMapping: []models.SourceMapping{{Paragraph: 1, ClauseIDs: []string{"c1"}}},
	}
}

func TestReviewPassesCleanDraft(t *testing.T) {
	report := NewReviewer().Review(reviewedDraft(
		groundedSection("Service Levels", "The provider targets 99.9 percent availability."),
	), nil)

	assert.Equal(t, models.ReportStatusPass, report.Status)
	assert.Empty(t, report.Findings)
}

func TestReviewFailsOnForbiddenPhrase(t *testing.T) {
	report := NewReviewer().Review(reviewedDraft(
		groundedSection("Service Levels", "We guarantee full availability at all times."),
	), nil)

	assert.Equal(t, models.ReportStatusFail, report.Status)
	require.NotEmpty(t, report.Findings)
	assert.Equal(t, models.SeverityCritical, report.Findings[0].Severity)
	assert.Equal(t, "forbidden_phrase", report.Findings[0].Type)
	assert.Contains(t, report.Findings[0].Evidence, "guarantee")
}

func TestReviewForbiddenPhraseIsCaseInsensitive(t *testing.T) {
	report := NewReviewer().Review(reviewedDraft(
		groundedSection("Scope", "All deliverables ship Without Exception."),
	), nil)

	assert.Equal(t, models.ReportStatusFail, report.Status)
}

func TestReviewCustomForbiddenPhrases(t *testing.T) {
	reviewer := NewReviewer(WithForbiddenPhrases([]string{"unlimited liability"}))

	report := reviewer.Review(reviewedDraft(
		groundedSection("Liability", "We guarantee a response."),
	), nil)
	assert.Equal(t, models.ReportStatusPass, report.Status, "default phrases are replaced, not extended")

	report = reviewer.Review(reviewedDraft(
		groundedSection("Liability", "The vendor accepts unlimited liability."),
	), nil)
	assert.Equal(t, models.ReportStatusFail, report.Status)
}

func TestReviewFailsOnMissingGrounding(t *testing.T) {
	ungrounded := models.DraftedSection{
		Name:          "Service Levels",
		Category:      models.CategoryClause,
		DraftMarkdown: "Availability targets apply to production workloads.",
	}

	report := NewReviewer().Review(reviewedDraft(ungrounded), nil)
	assert.Equal(t, models.ReportStatusFail, report.Status)
	require.NotEmpty(t, report.Findings)
	assert.Equal(t, "grounding", report.Findings[0].Type)
}

func TestReviewTemplateSectionsExemptFromGrounding(t *testing.T) {
	template := models.DraftedSection{
		Name:          "Introduction",
		Category:      models.CategoryTemplate,
		DraftMarkdown: "This Statement of Work describes the engagement.",
	}

	report := NewReviewer().Review(reviewedDraft(template), nil)
	assert.Equal(t, models.ReportStatusPass, report.Status)
}

func TestReviewAdvisoryGuardrailsNeverFail(t *testing.T) {
	guardrails := []models.ReviewFinding{
		{Severity: models.SeverityAdvisory, Type: "architecture_consistency", Evidence: "mismatch"},
	}

	report := NewReviewer().Review(reviewedDraft(
		groundedSection("Technical Architecture", "The platform runs on managed services."),
	), guardrails)

	assert.Equal(t, models.ReportStatusPass, report.Status)
	assert.Len(t, report.Findings, 1, "advisory findings are surfaced in the report")
}

func TestReviewNilDraftFails(t *testing.T) {
	report := NewReviewer().Review(nil, nil)
	assert.Equal(t, models.ReportStatusFail, report.Status)
}
