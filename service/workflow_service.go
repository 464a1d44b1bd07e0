package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sowforge-backend/models"
)

const (
	defaultTopK = 8
	defaultTopM = 4
)

// RequiredIntakeFields must be present and non-empty before a case is created
var RequiredIntakeFields = []string{
	"client_name",
	"project_scope",
	"document_type",
	"industry",
	"region",
}

var filterTemplatePattern = regexp.MustCompile(`^\{\{\s*(intake|structured)\.([a-z_]+)\s*\}\}$`)

// caseEntry pairs a case with its writer lock. All mutation of one case runs
// under its lock, so stage handlers never interleave.
type caseEntry struct {
	mu sync.Mutex
	c  *models.Case
}

// WorkflowService orchestrates the case lifecycle: intake through approval,
// one immutable artifact appended per stage run. Cases live in an in-memory
// registry keyed by ID.
type WorkflowService struct {
	mu    sync.RWMutex
	cases map[uuid.UUID]*caseEntry
	now   func() time.Time
	topK  int
	topM  int

	retriever *RetrievalEngine
	writer    *SectionWriter
	extractor *ContextExtractor
	reviewer  *Reviewer
}

// WorkflowServiceOption configures a WorkflowService
type WorkflowServiceOption func(*WorkflowService)

// WithRetrievalEngine sets the retrieval engine.
func WithRetrievalEngine(engine *RetrievalEngine) WorkflowServiceOption {
	return func(s *WorkflowService) {
		s.retriever = engine
	}
}

// WithSectionWriter sets the section writer.
func WithSectionWriter(writer *SectionWriter) WorkflowServiceOption {
	return func(s *WorkflowService) {
		s.writer = writer
	}
}

// WithContextExtractor sets the structured-context extractor.
func WithContextExtractor(extractor *ContextExtractor) WorkflowServiceOption {
	return func(s *WorkflowService) {
		s.extractor = extractor
	}
}

// WithReviewer sets the draft reviewer.
func WithReviewer(reviewer *Reviewer) WorkflowServiceOption {
	return func(s *WorkflowService) {
		s.reviewer = reviewer
	}
}

// WithTopK sets the default retrieval depth per section.
func WithTopK(topK int) WorkflowServiceOption {
	return func(s *WorkflowService) {
		if topK > 0 {
			s.topK = topK
		}
	}
}

// WithClock overrides the artifact timestamp source. Used in tests.
func WithClock(now func() time.Time) WorkflowServiceOption {
	return func(s *WorkflowService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewWorkflowService creates a workflow service with the given options.
func NewWorkflowService(opts ...WorkflowServiceOption) *WorkflowService {
	s := &WorkflowService{
		cases:    make(map[uuid.UUID]*caseEntry),
		now:      time.Now,
		topK:     defaultTopK,
		topM:     defaultTopM,
		reviewer: NewReviewer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateCaseRequest carries the intake record for a new case
type CreateCaseRequest struct {
	Intake models.Intake
}

// CreateCase validates intake, registers the case, and runs context extraction
// inline so the returned case is already at EXTRACTED.
func (s *WorkflowService) CreateCase(ctx context.Context, req CreateCaseRequest) (*models.Case, error) {
	var missing []string
	for _, field := range RequiredIntakeFields {
		if strings.TrimSpace(req.Intake.GetString(field)) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, validationErrorf("intake is missing required fields: %s", strings.Join(missing, ", "))
	}

	c := &models.Case{
		ID:        uuid.New(),
		CreatedAt: s.now(),
		Intake:    req.Intake,
		Stage:     models.StageInit,
		Artifacts: make(map[models.WorkflowStage][]*models.Artifact),
	}

	sc := s.extractContext(ctx, req.Intake)
	c.StructuredContext = sc
	s.appendArtifact(c, models.StageExtracted, map[string]any{
		"structured_context": sc,
	})
	c.Stage = models.StageExtracted

	entry := &caseEntry{c: c}
	s.mu.Lock()
	s.cases[c.ID] = entry
	s.mu.Unlock()

	log.Printf("Created case %s for client %q at stage %s", c.ID, req.Intake.GetString("client_name"), c.Stage)
	return c.Snapshot(), nil
}

func (s *WorkflowService) extractContext(ctx context.Context, intake models.Intake) *models.StructuredContext {
	if s.extractor != nil {
		return s.extractor.Extract(ctx, intake)
	}
	// No extractor configured: fall back to a pure intake projection.
	return NewContextExtractor(nil).Extract(ctx, intake)
}

// GetCase returns a snapshot of a case by ID. Callers marshal the result
// after the per-case lock is released, so the live case is never handed out.
func (s *WorkflowService) GetCase(caseID uuid.UUID) (*models.Case, error) {
	entry, err := s.entry(caseID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.c.Snapshot(), nil
}

// GetLatestArtifact returns the newest artifact a stage produced for a case.
func (s *WorkflowService) GetLatestArtifact(caseID uuid.UUID, stage models.WorkflowStage) (*models.Artifact, error) {
	if !models.IsValidStage(stage) {
		return nil, validationErrorf("unknown workflow stage %q", stage)
	}
	entry, err := s.entry(caseID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	artifact := entry.c.LatestArtifact(stage)
	if artifact == nil {
		return nil, fmt.Errorf("%w: case %s has no %s artifact", ErrArtifactNotFound, caseID, stage)
	}
	return artifact, nil
}

// StageRunRequest carries the per-stage inputs for RunStage
type StageRunRequest struct {
	Stage      models.WorkflowStage
	Plan       *models.Plan            // PLAN_READY
	TopK       int                     // RETRIEVED; 0 means the service default
	Prohibited []string                // DRAFTED, optional commitment blocklist
	Evidence   *models.EvidenceContext // REVIEWED, optional
}

// RunStage dispatches one stage handler for a case and returns the artifact
// the run produced.
func (s *WorkflowService) RunStage(ctx context.Context, caseID uuid.UUID, req StageRunRequest) (*models.Artifact, error) {
	switch req.Stage {
	case models.StagePlanReady:
		return s.SubmitPlan(ctx, caseID, req.Plan)
	case models.StageRetrieved:
		return s.RunRetrieve(ctx, caseID, req.TopK)
	case models.StageReranked:
		return s.RunRerank(ctx, caseID)
	case models.StageAssembled:
		return s.RunAssemble(ctx, caseID)
	case models.StageDrafted:
		return s.RunDraft(ctx, caseID, req.Prohibited)
	case models.StageValidated:
		return s.RunValidate(ctx, caseID)
	case models.StageReviewed:
		return s.RunReview(ctx, caseID, req.Evidence)
	default:
		if !models.IsValidStage(req.Stage) {
			return nil, validationErrorf("unknown workflow stage %q", req.Stage)
		}
		return nil, validationErrorf("stage %s cannot be run directly", req.Stage)
	}
}

// SubmitPlan normalizes and stores a document plan. Filter templates are
// resolved against intake and structured context; unknown filter dimensions
// are dropped; missing schemas and fallback policies get category defaults.
func (s *WorkflowService) SubmitPlan(ctx context.Context, caseID uuid.UUID, plan *models.Plan) (*models.Artifact, error) {
	if plan == nil || len(plan.Sections) == 0 {
		return nil, validationErrorf("plan must contain at least one section")
	}

	entry, err := s.entry(caseID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	c := entry.c
	if err := ensureStage(c, models.StagePlanReady); err != nil {
		return nil, err
	}

	normalized, err := normalizePlan(plan, c.Intake, c.StructuredContext)
	if err != nil {
		return nil, err
	}

	artifact := s.appendArtifact(c, models.StagePlanReady, map[string]any{
		"plan": normalized,
	})
	c.Stage = models.StagePlanReady
	return artifact, nil
}

// SectionRetrieval is one section's retrieval result inside a RETRIEVED artifact
type SectionRetrieval struct {
	Candidates  []models.ClauseCandidate     `json:"candidates"`
	Diagnostics *models.RetrievalDiagnostics `json:"diagnostics"`
}

// RunRetrieve executes the retrieve/relax loop for every plan section.
func (s *WorkflowService) RunRetrieve(ctx context.Context, caseID uuid.UUID, topK int) (*models.Artifact, error) {
	if topK <= 0 {
		topK = s.topK
	}

	entry, err := s.entry(caseID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	c := entry.c
	if err := ensureStage(c, models.StageRetrieved); err != nil {
		return nil, err
	}
	plan, err := casePlan(c)
	if err != nil {
		return nil, err
	}
	if s.retriever == nil {
		return nil, validationErrorf("no retrieval engine configured")
	}

	sections := make(map[string]*SectionRetrieval, len(plan.Sections))
	meta := models.RetrieveMeta{TopK: topK}
	for i := range plan.Sections {
		def := &plan.Sections[i]
		meta.RequestedSections = append(meta.RequestedSections, def.Name)

		candidates, diag := s.retriever.RetrieveSection(ctx, def, c.StructuredContext, topK)
		sections[def.Name] = &SectionRetrieval{Candidates: candidates, Diagnostics: diag}
		if len(candidates) > 0 {
			meta.ReturnedSections = append(meta.ReturnedSections, def.Name)
		}
	}

	artifact := s.appendArtifact(c, models.StageRetrieved, map[string]any{
		"sections": sections,
		"meta":     meta,
	})
	c.Stage = models.StageRetrieved
	return artifact, nil
}

// SectionRerank is one section's reranked candidate set inside a RERANKED artifact
type SectionRerank struct {
	Candidates  []models.ClauseCandidate  `json:"candidates"`
	Diagnostics *models.RerankDiagnostics `json:"diagnostics"`
}

// RunRerank reorders each section's retrieved candidates and keeps the top M.
func (s *WorkflowService) RunRerank(ctx context.Context, caseID uuid.UUID) (*models.Artifact, error) {
	entry, err := s.entry(caseID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	c := entry.c
	if err := ensureStage(c, models.StageReranked); err != nil {
		return nil, err
	}

	retrieved, err := caseRetrieval(c)
	if err != nil {
		return nil, err
	}

	sections := make(map[string]*SectionRerank, len(retrieved))
	for name, sr := range retrieved {
		ranked := RerankClauses(name, sr.Candidates)
		pre := len(ranked)
		if len(ranked) > s.topM {
			ranked = ranked[:s.topM]
		}
		sections[name] = &SectionRerank{
			Candidates: ranked,
			Diagnostics: &models.RerankDiagnostics{
				PreRerankCount:  pre,
				PostRerankCount: len(ranked),
				TopM:            s.topM,
			},
		}
	}

	artifact := s.appendArtifact(c, models.StageReranked, map[string]any{
		"sections": sections,
	})
	c.Stage = models.StageReranked
	return artifact, nil
}

// RunAssemble builds the per-section generation blueprints from the plan and
// the reranked candidates.
func (s *WorkflowService) RunAssemble(ctx context.Context, caseID uuid.UUID) (*models.Artifact, error) {
	entry, err := s.entry(caseID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	c := entry.c
	if err := ensureStage(c, models.StageAssembled); err != nil {
		return nil, err
	}
	plan, err := casePlan(c)
	if err != nil {
		return nil, err
	}
	reranked, err := caseRerank(c)
	if err != nil {
		return nil, err
	}

	order := make([]string, 0, len(plan.Sections))
	for _, def := range plan.Sections {
		order = append(order, def.Name)
	}

	blueprints := make(map[string]*models.SectionBlueprint, len(plan.Sections))
	for i := range plan.Sections {
		def := &plan.Sections[i]

		var candidates []models.ClauseCandidate
		if sr := reranked[def.Name]; sr != nil {
			candidates = sr.Candidates
		}
		primary := primaryClauses(candidates)
		primaryIDs := make([]string, 0, len(primary))
		for _, p := range primary {
			primaryIDs = append(primaryIDs, p.ChunkID)
		}

		blueprints[def.Name] = &models.SectionBlueprint{
			SectionIntent:    def.Intent,
			Category:         def.Category,
			Order:            order,
			PrimaryClauseIDs: primaryIDs,
			PrimaryClauses:   primary,
			RerankedClauses:  candidates,
			OutputSchema:     def.OutputSchema,
			RequiredFields:   def.RequiredFields,
			MinContent:       def.MinContent,
			FallbackPolicy:   def.FallbackPolicy,
			ClauseFilters:    def.ClauseFilters,
		}
	}

	artifact := s.appendArtifact(c, models.StageAssembled, map[string]any{
		"blueprints": blueprints,
	})
	c.Stage = models.StageAssembled
	return artifact, nil
}

// RunDraft generates every section through the write/validate loop and renders
// the assembled document. A non-empty prohibited list rejects the run when any
// rendered section contains one of the listed commitment phrases.
func (s *WorkflowService) RunDraft(ctx context.Context, caseID uuid.UUID, prohibited []string) (*models.Artifact, error) {
	entry, err := s.entry(caseID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	c := entry.c
	if err := ensureStage(c, models.StageDrafted); err != nil {
		return nil, err
	}
	if s.writer == nil {
		return nil, validationErrorf("no section writer configured")
	}
	plan, err := casePlan(c)
	if err != nil {
		return nil, err
	}
	blueprints, err := caseBlueprints(c)
	if err != nil {
		return nil, err
	}

	draft := &models.Draft{SectionsJSON: make(map[string]models.SectionOutput, len(plan.Sections))}
	runDiag := &models.WriteRunDiagnostics{
		ExtractedContext: c.StructuredContext,
		Sections:         make(map[string]*models.SectionWriteDiagnostics, len(plan.Sections)),
	}

	for i := range plan.Sections {
		def := &plan.Sections[i]
		stored := blueprints[def.Name]
		if stored == nil {
			return nil, validationErrorf("no blueprint assembled for section %q", def.Name)
		}
		// Work on a copy: retry refreshes swap candidate sets, and the
		// assembled artifact must stay immutable.
		blueprint := *stored
		bp := &blueprint

		refresher := s.sectionRefresher(def, c.StructuredContext)
		output, diag, usage := s.writer.WriteWithRetry(ctx, def.Name, def, bp, c.StructuredContext, c.Intake, refresher)

		markdown := RenderSectionMarkdown(def.Name, def.Category, output)
		if phrase := firstProhibitedMatch(markdown, prohibited); phrase != "" {
			return nil, validationErrorf("section %q contains prohibited commitment language %q", def.Name, phrase)
		}
		section := models.DraftedSection{
			Name:              def.Name,
			Intent:            def.Intent,
			Category:          def.Category,
			WriterMode:        WriterModeFor(def.Category),
			StructuredContent: output,
			DraftMarkdown:     markdown,
			SourceMapping:     BuildSourceMapping(markdown, def.Category, bp.PrimaryClauseIDs),
		}
		draft.StructuredSections = append(draft.StructuredSections, section)
		draft.SectionsJSON[def.Name] = output

		runDiag.Sections[def.Name] = &models.SectionWriteDiagnostics{
			WriterMode: section.WriterMode,
			Validation: diag,
		}
		runDiag.TokenUsage.WriterCalls += usage.WriterCalls
		runDiag.TokenUsage.EstimatedPromptChars += usage.EstimatedPromptChars
	}

	draft.Markdown = RenderDocumentMarkdown(c.Intake, draft.StructuredSections)

	artifact := s.appendArtifact(c, models.StageDrafted, map[string]any{
		"draft":       draft,
		"diagnostics": runDiag,
	})
	c.Stage = models.StageDrafted
	return artifact, nil
}

// sectionRefresher builds the retrieval refresher used between failed write
// attempts: a fresh retrieve plus rerank, trimmed to the service's top M.
func (s *WorkflowService) sectionRefresher(def *models.SectionDefinition, sc *models.StructuredContext) RetrievalRefresher {
	if s.retriever == nil {
		return nil
	}
	return func(ctx context.Context) ([]models.ClauseCandidate, *models.RetrievalDiagnostics) {
		candidates, diag := s.retriever.RetrieveSection(ctx, def, sc, s.topK)
		ranked := RerankClauses(def.Name, candidates)
		if len(ranked) > s.topM {
			ranked = ranked[:s.topM]
		}
		return ranked, diag
	}
}

// RunValidate re-checks every drafted section against its plan definition and
// records a pass/fail report. A failing report still produces a VALIDATED
// artifact; the verdict lives in the report, not the stage.
func (s *WorkflowService) RunValidate(ctx context.Context, caseID uuid.UUID) (*models.Artifact, error) {
	entry, err := s.entry(caseID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	c := entry.c
	if err := ensureStage(c, models.StageValidated); err != nil {
		return nil, err
	}
	plan, err := casePlan(c)
	if err != nil {
		return nil, err
	}
	draft, err := caseDraft(c)
	if err != nil {
		return nil, err
	}

	report := &models.ValidationReport{Status: models.ReportStatusPass}
	for i := range plan.Sections {
		def := &plan.Sections[i]
		output, ok := draft.SectionsJSON[def.Name]
		if !ok {
			report.Status = models.ReportStatusFail
			report.Findings = append(report.Findings, models.SectionFindings{
				Section: def.Name,
				Reasons: []string{"section is missing from the draft"},
			})
			continue
		}
		if pass, reasons := ValidateSectionOutput(def, output, c.StructuredContext); !pass {
			report.Status = models.ReportStatusFail
			report.Findings = append(report.Findings, models.SectionFindings{
				Section: def.Name,
				Reasons: reasons,
			})
		}
	}

	artifact := s.appendArtifact(c, models.StageValidated, map[string]any{
		"report": report,
	})
	c.Stage = models.StageValidated
	return artifact, nil
}

// RunReview runs the compliance review plus the architecture guardrails over
// the draft. Evidence is optional; without it only the draft-level checks run.
func (s *WorkflowService) RunReview(ctx context.Context, caseID uuid.UUID, evidence *models.EvidenceContext) (*models.Artifact, error) {
	entry, err := s.entry(caseID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	c := entry.c
	if err := ensureStage(c, models.StageReviewed); err != nil {
		return nil, err
	}
	draft, err := caseDraft(c)
	if err != nil {
		return nil, err
	}

	guardrailFindings := CheckGuardrails(evidence, c.StructuredContext, draft)
	report := s.reviewer.Review(draft, guardrailFindings)

	payload := map[string]any{"report": report}
	if evidence != nil {
		payload["evidence"] = evidence
	}

	artifact := s.appendArtifact(c, models.StageReviewed, payload)
	c.Stage = models.StageReviewed
	return artifact, nil
}

// Approve moves a case to its terminal stage. Only a case whose latest review
// passed can be approved.
func (s *WorkflowService) Approve(ctx context.Context, caseID uuid.UUID, approvedBy string) (*models.Case, error) {
	entry, err := s.entry(caseID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	c := entry.c
	if c.Stage == models.StageApproved {
		return nil, stateTransitionErrorf("case %s is already approved", caseID)
	}
	if c.Stage != models.StageReviewed {
		return nil, stateTransitionErrorf("case %s is at stage %s; approval requires a completed review", caseID, c.Stage)
	}

	report := caseReviewReport(c)
	if report == nil || report.Status != models.ReportStatusPass {
		return nil, stateTransitionErrorf("case %s cannot be approved: latest review did not pass", caseID)
	}

	s.appendArtifact(c, models.StageApproved, map[string]any{
		"approved_by": approvedBy,
		"approved_at": s.now().UTC().Format(time.RFC3339),
	})
	c.Stage = models.StageApproved
	c.ApprovedBy = approvedBy
	log.Printf("Case %s approved by %s", caseID, approvedBy)
	return c.Snapshot(), nil
}

// RenderDocument returns the drafted document in the requested format:
// "md" (default), "html", or "json".
func (s *WorkflowService) RenderDocument(caseID uuid.UUID, format string) ([]byte, string, error) {
	entry, err := s.entry(caseID)
	if err != nil {
		return nil, "", err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	draft, err := caseDraft(entry.c)
	if err != nil {
		return nil, "", err
	}

	switch strings.ToLower(format) {
	case "", "md", "markdown":
		return []byte(draft.Markdown), "text/markdown; charset=utf-8", nil
	case "html":
		rendered, err := RenderHTML(draft.Markdown)
		if err != nil {
			return nil, "", err
		}
		return []byte(rendered), "text/html; charset=utf-8", nil
	case "json":
		data, err := json.MarshalIndent(draft.SectionsJSON, "", "  ")
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	default:
		return nil, "", validationErrorf("unsupported document format %q", format)
	}
}

func (s *WorkflowService) entry(caseID uuid.UUID) (*caseEntry, error) {
	s.mu.RLock()
	entry, ok := s.cases[caseID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, caseID)
	}
	return entry, nil
}

// appendArtifact records a new immutable artifact version for a stage.
// Caller holds the case lock.
func (s *WorkflowService) appendArtifact(c *models.Case, stage models.WorkflowStage, payload map[string]any) *models.Artifact {
	artifact := &models.Artifact{
		Stage:     stage,
		Version:   len(c.Artifacts[stage]) + 1,
		CreatedAt: s.now(),
		Payload:   payload,
	}
	c.Artifacts[stage] = append(c.Artifacts[stage], artifact)
	return artifact
}

// ensureStage enforces the linear lifecycle: a stage may run when the case sits
// at its predecessor, or at the stage itself for an idempotent re-run.
func ensureStage(c *models.Case, target models.WorkflowStage) error {
	if c.Stage == models.StageApproved {
		return stateTransitionErrorf("case %s is approved and terminal", c.ID)
	}
	if c.Stage == target {
		return nil
	}
	for i, stage := range models.StageOrder {
		if stage == target && i > 0 && models.StageOrder[i-1] == c.Stage {
			return nil
		}
	}
	return stateTransitionErrorf("cannot run %s while case %s is at stage %s", target, c.ID, c.Stage)
}

// normalizePlan resolves filter templates and fills per-section defaults.
// The input plan is not mutated.
func normalizePlan(plan *models.Plan, intake models.Intake, sc *models.StructuredContext) (*models.Plan, error) {
	normalized := &models.Plan{
		StructuredContext: sc,
		RiskChecks:        plan.RiskChecks,
		Sections:          make([]models.SectionDefinition, 0, len(plan.Sections)),
	}

	seen := make(map[string]bool, len(plan.Sections))
	for _, def := range plan.Sections {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return nil, validationErrorf("plan contains a section without a name")
		}
		if seen[name] {
			return nil, validationErrorf("plan contains duplicate section %q", name)
		}
		seen[name] = true

		if def.Category == "" {
			def.Category = models.CategoryTemplate
		}
		if !models.IsValidCategory(def.Category) {
			return nil, validationErrorf("section %q has unknown category %q", name, def.Category)
		}

		def.Name = name
		def.ClauseFilters = resolveClauseFilters(def.ClauseFilters, intake, sc)
		if len(def.OutputSchema) == 0 {
			def.OutputSchema = models.DefaultSectionSchemas[def.Category]
		}
		if def.FallbackPolicy.MinClauses == 0 && def.FallbackPolicy.MaxRetries == 0 && len(def.FallbackPolicy.RelaxationOrder) == 0 {
			def.FallbackPolicy = models.DefaultFallbackPolicy()
		}
		normalized.Sections = append(normalized.Sections, def)
	}
	return normalized, nil
}

// resolveClauseFilters keeps only recognized filter dimensions and resolves
// {{intake.x}} and {{structured.x}} templates. A template that resolves to
// nothing drops its dimension rather than filtering on an empty value.
func resolveClauseFilters(filters map[string]any, intake models.Intake, sc *models.StructuredContext) map[string]any {
	resolved := make(map[string]any, len(filters))
	for key, value := range filters {
		if !models.IsRetrievalFilterField(key) {
			continue
		}
		value = resolveFilterValue(value, intake, sc)
		if emptyFilterValue(value) {
			continue
		}
		resolved[key] = value
	}
	return resolved
}

func resolveFilterValue(value any, intake models.Intake, sc *models.StructuredContext) any {
	switch v := value.(type) {
	case string:
		match := filterTemplatePattern.FindStringSubmatch(strings.TrimSpace(v))
		if match == nil {
			return v
		}
		if match[1] == "intake" {
			return intake[match[2]]
		}
		return sc.Lookup(match[2])
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			if r := resolveFilterValue(item, intake, sc); !emptyFilterValue(r) {
				out = append(out, r)
			}
		}
		return out
	}
	return value
}

// casePlan reads the latest normalized plan from a case's artifacts.
func casePlan(c *models.Case) (*models.Plan, error) {
	artifact := c.LatestArtifact(models.StagePlanReady)
	if artifact == nil {
		return nil, fmt.Errorf("%w: case %s has no plan", ErrArtifactNotFound, c.ID)
	}
	plan, ok := artifact.Payload["plan"].(*models.Plan)
	if !ok {
		return nil, fmt.Errorf("%w: case %s plan artifact is malformed", ErrArtifactNotFound, c.ID)
	}
	return plan, nil
}

func caseRetrieval(c *models.Case) (map[string]*SectionRetrieval, error) {
	artifact := c.LatestArtifact(models.StageRetrieved)
	if artifact == nil {
		return nil, fmt.Errorf("%w: case %s has no retrieval result", ErrArtifactNotFound, c.ID)
	}
	sections, ok := artifact.Payload["sections"].(map[string]*SectionRetrieval)
	if !ok {
		return nil, fmt.Errorf("%w: case %s retrieval artifact is malformed", ErrArtifactNotFound, c.ID)
	}
	return sections, nil
}

func caseRerank(c *models.Case) (map[string]*SectionRerank, error) {
	artifact := c.LatestArtifact(models.StageReranked)
	if artifact == nil {
		return nil, fmt.Errorf("%w: case %s has no rerank result", ErrArtifactNotFound, c.ID)
	}
	sections, ok := artifact.Payload["sections"].(map[string]*SectionRerank)
	if !ok {
		return nil, fmt.Errorf("%w: case %s rerank artifact is malformed", ErrArtifactNotFound, c.ID)
	}
	return sections, nil
}

func caseBlueprints(c *models.Case) (map[string]*models.SectionBlueprint, error) {
	artifact := c.LatestArtifact(models.StageAssembled)
	if artifact == nil {
		return nil, fmt.Errorf("%w: case %s has no assembled blueprints", ErrArtifactNotFound, c.ID)
	}
	blueprints, ok := artifact.Payload["blueprints"].(map[string]*models.SectionBlueprint)
	if !ok {
		return nil, fmt.Errorf("%w: case %s assembly artifact is malformed", ErrArtifactNotFound, c.ID)
	}
	return blueprints, nil
}

func caseDraft(c *models.Case) (*models.Draft, error) {
	artifact := c.LatestArtifact(models.StageDrafted)
	if artifact == nil {
		return nil, fmt.Errorf("%w: case %s has no draft", ErrArtifactNotFound, c.ID)
	}
	draft, ok := artifact.Payload["draft"].(*models.Draft)
	if !ok {
		return nil, fmt.Errorf("%w: case %s draft artifact is malformed", ErrArtifactNotFound, c.ID)
	}
	return draft, nil
}

func caseReviewReport(c *models.Case) *models.ReviewReport {
	artifact := c.LatestArtifact(models.StageReviewed)
	if artifact == nil {
		return nil
	}
	report, _ := artifact.Payload["report"].(*models.ReviewReport)
	return report
}

func firstProhibitedMatch(markdown string, prohibited []string) string {
	lowered := strings.ToLower(markdown)
	for _, phrase := range prohibited {
		if phrase == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(phrase)) {
			return phrase
		}
	}
	return ""
}
