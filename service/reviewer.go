package service

import (
	"fmt"
	"strings"

	"sowforge-backend/models"
)

// DefaultForbiddenPhrases are over-commitments a statement of work must never
// make without explicit legal sign-off.
var DefaultForbiddenPhrases = []string{"guarantee", "without exception"}

// Reviewer runs the final compliance pass over a draft: forbidden-phrase
// scanning, grounding checks, and the advisory guardrail findings.
type Reviewer struct {
	forbiddenPhrases []string
}

// ReviewerOption configures a Reviewer.
type ReviewerOption func(*Reviewer)

// WithForbiddenPhrases overrides the default forbidden phrase list.
func WithForbiddenPhrases(phrases []string) ReviewerOption {
	return func(r *Reviewer) {
		if len(phrases) > 0 {
			r.forbiddenPhrases = phrases
		}
	}
}

// NewReviewer creates a reviewer with the default policy.
func NewReviewer(opts ...ReviewerOption) *Reviewer {
	r := &Reviewer{forbiddenPhrases: DefaultForbiddenPhrases}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Review produces the review report for a draft. Critical findings fail the
// review; guardrail findings are appended as advisory and never affect the
// status.
func (r *Reviewer) Review(draft *models.Draft, guardrailFindings []models.ReviewFinding) *models.ReviewReport {
	report := &models.ReviewReport{Status: models.ReportStatusPass}
	if draft == nil {
		report.Status = models.ReportStatusFail
		report.Findings = append(report.Findings, models.ReviewFinding{
			Severity:       models.SeverityCritical,
			Type:           "missing_draft",
			Evidence:       "no draft content was available for review",
			Recommendation: "Run the drafting stage before requesting review.",
		})
		return report
	}

	for _, section := range draft.StructuredSections {
		report.Findings = append(report.Findings, r.checkForbiddenPhrases(&section)...)
		if finding := checkGrounding(&section); finding != nil {
			report.Findings = append(report.Findings, *finding)
		}
	}

	report.Findings = append(report.Findings, guardrailFindings...)

	for _, finding := range report.Findings {
		if finding.Severity == models.SeverityCritical {
			report.Status = models.ReportStatusFail
			break
		}
	}
	return report
}

func (r *Reviewer) checkForbiddenPhrases(section *models.DraftedSection) []models.ReviewFinding {
	text := strings.ToLower(section.DraftMarkdown + " " + flattenOutput(section.StructuredContent))

	var findings []models.ReviewFinding
	for _, phrase := range r.forbiddenPhrases {
		if strings.Contains(text, strings.ToLower(phrase)) {
			findings = append(findings, models.ReviewFinding{
				Severity:       models.SeverityCritical,
				Type:           "forbidden_phrase",
				Section:        section.Name,
				Evidence:       fmt.Sprintf("section contains the forbidden phrase %q", phrase),
				Recommendation: "Rephrase the commitment in qualified terms or obtain legal sign-off.",
			})
		}
	}
	return findings
}

// checkGrounding flags evidence-backed sections whose drafted paragraphs carry
// no clause attribution. Template sections are exempt: they are generated from
// intake, not evidence.
func checkGrounding(section *models.DraftedSection) *models.ReviewFinding {
	if section.Category == models.CategoryTemplate {
		return nil
	}
	for _, mapping := range section.SourceMapping {
		if len(mapping.ClauseIDs) > 0 {
			return nil
		}
	}
	return &models.ReviewFinding{
		Severity:       models.SeverityCritical,
		Type:           "grounding",
		Section:        section.Name,
		Evidence:       "no drafted paragraph in this section maps back to a source clause",
		Recommendation: "Re-run drafting with a richer candidate set so the content can cite its evidence.",
	}
}

func flattenOutput(output models.SectionOutput) string {
	var parts []string
	for _, value := range output {
		switch v := value.(type) {
		case string:
			parts = append(parts, v)
		case []string:
			parts = append(parts, v...)
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					parts = append(parts, s)
				}
			}
		}
	}
	return strings.Join(parts, " ")
}
