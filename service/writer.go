package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"sowforge-backend/models"
)

// Writer mode identifiers recorded in drafted-section audit trails
const (
	TemplateMode           = "TEMPLATE_MODE"
	ClauseAssemblyMode     = "CLAUSE_ASSEMBLY_MODE"
	TechnicalSynthesisMode = "TECHNICAL_SYNTHESIS_MODE"
)

// WriterModeFor maps a section category to its writer mode identifier.
func WriterModeFor(category models.SectionCategory) string {
	switch category {
	case models.CategoryClause:
		return ClauseAssemblyMode
	case models.CategoryTechnical:
		return TechnicalSynthesisMode
	default:
		return TemplateMode
	}
}

// RetrievalRefresher re-runs retrieval and rerank for a section between failed
// write attempts, returning the fresh candidate set and its audit trail.
type RetrievalRefresher func(ctx context.Context) ([]models.ClauseCandidate, *models.RetrievalDiagnostics)

// SectionWriter generates structured section content. Template sections are
// filled deterministically from intake; clause and technical sections go
// through the completion client with a schema-constrained prompt.
type SectionWriter struct {
	completion CompletionClient
}

// NewSectionWriter creates a section writer over the given completion client.
func NewSectionWriter(completion CompletionClient) *SectionWriter {
	return &SectionWriter{completion: completion}
}

// WriteWithRetry runs the write/validate loop for one section. A failed
// validation triggers fresh retrieval (when a refresher is provided) and
// another attempt, up to MaxRetries+1 attempts total. The loop never errors:
// when every attempt fails, the placeholder fallback output is returned so the
// draft stays structurally complete.
func (w *SectionWriter) WriteWithRetry(
	ctx context.Context,
	name string,
	def *models.SectionDefinition,
	bp *models.SectionBlueprint,
	sc *models.StructuredContext,
	intake models.Intake,
	refresh RetrievalRefresher,
) (models.SectionOutput, *models.WriteDiagnostics, models.TokenUsage) {
	mode := WriterModeFor(bp.Category)
	diagnostics := &models.WriteDiagnostics{}
	usage := models.TokenUsage{}

	maxAttempts := bp.FallbackPolicy.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var output models.SectionOutput
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var promptChars int
		output, promptChars = w.writeOnce(ctx, name, bp, sc, intake)
		if bp.Category != models.CategoryTemplate {
			usage.WriterCalls++
			usage.EstimatedPromptChars += promptChars
		}

		pass, reasons := ValidateSectionOutput(def, output, sc)
		record := models.WriteAttempt{
			Attempt:    attempt,
			WriterMode: mode,
			Pass:       pass,
			Reasons:    reasons,
		}

		if pass {
			diagnostics.Attempts = append(diagnostics.Attempts, record)
			return output, diagnostics, usage
		}

		if attempt < maxAttempts && refresh != nil && bp.Category != models.CategoryTemplate {
			candidates, retrievalDiag := refresh(ctx)
			record.RetrievalRetry = retrievalDiag
			bp.RerankedClauses = candidates
			bp.PrimaryClauses = primaryClauses(candidates)
		}
		diagnostics.Attempts = append(diagnostics.Attempts, record)
		log.Printf("Section %q failed validation on attempt %d: %s", name, attempt, strings.Join(reasons, "; "))
	}

	return FallbackSectionOutput(bp.OutputSchema), diagnostics, usage
}

// writeOnce produces one section output and reports the prompt size used.
func (w *SectionWriter) writeOnce(ctx context.Context, name string, bp *models.SectionBlueprint, sc *models.StructuredContext, intake models.Intake) (models.SectionOutput, int) {
	if bp.Category == models.CategoryTemplate {
		return writeTemplateSection(name, bp, intake), 0
	}

	prompt := w.buildPrompt(name, bp, sc, intake)
	schema := &ResponseSchema{Name: strings.ReplaceAll(strings.ToLower(name), " ", "_"), Fields: bp.OutputSchema}

	response, err := w.completion.Complete(ctx, prompt, schema)
	if err != nil {
		log.Printf("Warning: section %q generation failed, using schema defaults: %v", name, err)
		return schemaDefaults(bp.OutputSchema), len(prompt)
	}

	parsed := ParseJSONObject(response)
	if parsed == nil {
		log.Printf("Warning: section %q response was not valid JSON, using schema defaults", name)
		return schemaDefaults(bp.OutputSchema), len(prompt)
	}
	return coerceToSchema(parsed, bp.OutputSchema), len(prompt)
}

// writeTemplateSection fills template content deterministically from intake.
// No model call is made for template sections.
func writeTemplateSection(name string, bp *models.SectionBlueprint, intake models.Intake) models.SectionOutput {
	output := schemaDefaults(bp.OutputSchema)

	clientName := intake.GetString("client_name")
	projectScope := intake.GetString("project_scope")
	documentType := intake.GetString("document_type")
	if documentType == "" {
		documentType = "Statement of Work"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "This %s describes the engagement between the delivery team and %s.", documentType, clientName)
	if projectScope != "" {
		fmt.Fprintf(&b, " The engagement covers: %s.", strings.TrimSuffix(projectScope, "."))
	}
	if bp.SectionIntent != "" {
		fmt.Fprintf(&b, " This section %s.", strings.TrimSuffix(strings.ToLower(bp.SectionIntent[:1])+bp.SectionIntent[1:], "."))
	}

	if _, ok := bp.OutputSchema["content"]; ok {
		output["content"] = b.String()
	} else {
		// Fill the first string field when the schema has no content field.
		for field, ft := range bp.OutputSchema {
			if ft == models.FieldTypeString {
				output[field] = b.String()
				break
			}
		}
	}
	return output
}

func (w *SectionWriter) buildPrompt(name string, bp *models.SectionBlueprint, sc *models.StructuredContext, intake models.Intake) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are drafting the %q section of a %s for %s.\n", name,
		firstNonEmpty(intake.GetString("document_type"), "Statement of Work"), intake.GetString("client_name"))
	if bp.SectionIntent != "" {
		fmt.Fprintf(&b, "Section intent: %s\n", bp.SectionIntent)
	}

	b.WriteString("\nReturn a single JSON object with exactly these fields:\n")
	for _, field := range schemaFieldOrder(bp.OutputSchema) {
		if bp.OutputSchema[field] == models.FieldTypeList {
			fmt.Fprintf(&b, "- %s: array of strings\n", field)
		} else {
			fmt.Fprintf(&b, "- %s: string\n", field)
		}
	}

	switch bp.Category {
	case models.CategoryClause:
		b.WriteString("\nAssemble the section strictly from the evidence clauses below. ")
		b.WriteString("Do not introduce obligations, constraints, or limitations that no clause supports.\n")
	case models.CategoryTechnical:
		b.WriteString("\nEngagement context:\n")
		if sc != nil {
			fmt.Fprintf(&b, "- deployment_model: %s\n", sc.DeploymentModel)
			fmt.Fprintf(&b, "- architecture_pattern: %s\n", sc.ArchitecturePattern)
			fmt.Fprintf(&b, "- data_isolation_model: %s\n", sc.DataIsolationModel)
			fmt.Fprintf(&b, "- cloud_provider: %s\n", sc.CloudProvider)
			fmt.Fprintf(&b, "- data_flow_direction: %s\n", sc.DataFlowDirection)
			if len(sc.AllowedServices) > 0 {
				fmt.Fprintf(&b, "- allowed services: %s\n", strings.Join(sc.AllowedServices, ", "))
			}
			fmt.Fprintf(&b, "\nThe architecture_pattern field must be exactly %q. ", sc.ArchitecturePattern)
			b.WriteString("Mention only services from the allowed services list.\n")
		}
	}

	if len(bp.RerankedClauses) > 0 {
		b.WriteString("\nEvidence clauses:\n")
		for i, c := range bp.RerankedClauses {
			fmt.Fprintf(&b, "[%d] (id=%s) %s\n", i+1, c.ChunkID, c.ClauseText)
		}
	}
	return b.String()
}

// FallbackSectionOutput is the placeholder output emitted when every write
// attempt fails validation. Every schema field gets a TBD marker and the
// action items tell the operator how to recover.
func FallbackSectionOutput(schema models.OutputSchema) models.SectionOutput {
	output := make(models.SectionOutput, len(schema)+1)
	for field, ft := range schema {
		if ft == models.FieldTypeList {
			output[field] = []string{"TBD"}
		} else {
			output[field] = "TBD"
		}
	}
	output["action_items"] = []string{
		"Refine clause filters and retry retrieval.",
		"Provide additional intake details for missing required fields.",
	}
	return output
}

func schemaDefaults(schema models.OutputSchema) models.SectionOutput {
	output := make(models.SectionOutput, len(schema))
	for field, ft := range schema {
		output[field] = ft.DefaultValue()
	}
	return output
}

// coerceToSchema reshapes a parsed model response onto the schema: unknown
// fields are dropped, missing fields get defaults, and values are coerced to
// the declared type.
func coerceToSchema(parsed map[string]any, schema models.OutputSchema) models.SectionOutput {
	output := make(models.SectionOutput, len(schema))
	for field, ft := range schema {
		value, ok := parsed[field]
		if !ok {
			output[field] = ft.DefaultValue()
			continue
		}
		if ft == models.FieldTypeList {
			output[field] = coerceStringList(value)
		} else {
			output[field] = coerceString(value)
		}
	}
	return output
}

func coerceString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := coerceString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func coerceStringList(value any) []string {
	switch v := value.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := coerceString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		if strings.TrimSpace(v) == "" {
			return []string{}
		}
		return []string{strings.TrimSpace(v)}
	default:
		return []string{}
	}
}

// schemaFieldOrder returns schema fields in a stable order for prompt building.
func schemaFieldOrder(schema models.OutputSchema) []string {
	fields := make([]string, 0, len(schema))
	for field := range schema {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// primaryClauses picks the top two candidates as the section's primary evidence.
func primaryClauses(candidates []models.ClauseCandidate) []models.ClauseCandidate {
	if len(candidates) > 2 {
		return candidates[:2]
	}
	return candidates
}
