package service

import (
	"fmt"
	"strings"

	"sowforge-backend/models"
)

// BuildEvidenceContext merges intake facts with the extracted architecture
// states into the structured evidence the guardrails run against. Component
// lists are deduplicated by name and label before cross-checks run.
func BuildEvidenceContext(intake models.Intake, current, target *models.ArchitectureState) *models.EvidenceContext {
	ec := &models.EvidenceContext{
		ProjectData:     intake,
		CurrentState:    dedupeState(current),
		TargetState:     dedupeState(target),
		TechnologyStack: map[string][]string{},
	}

	ec.TechnologyStack = buildTechnologyStack(ec.CurrentState, ec.TargetState)
	ec.CrossValidation = crossValidate(intake, ec)
	ec.Inconsistencies = findInconsistencies(ec)
	return ec
}

func dedupeState(state *models.ArchitectureState) *models.ArchitectureState {
	if state == nil {
		return nil
	}
	out := &models.ArchitectureState{
		Compute:            dedupeComponents(state.Compute),
		Kubernetes:         dedupeComponents(state.Kubernetes),
		Databases:          dedupeComponents(state.Databases),
		Networking:         dedupeComponents(state.Networking),
		LoadBalancers:      dedupeComponents(state.LoadBalancers),
		Security:           dedupeComponents(state.Security),
		Storage:            dedupeComponents(state.Storage),
		Streaming:          dedupeComponents(state.Streaming),
		OnPremConnectivity: dedupeComponents(state.OnPremConnectivity),
		HighAvailability:   dedupeComponents(state.HighAvailability),
		Relationships:      state.Relationships,
	}
	out.KubernetesPresent = state.KubernetesPresent || len(out.Kubernetes) > 0
	return out
}

func dedupeComponents(components []models.Component) []models.Component {
	seen := make(map[string]bool, len(components))
	out := make([]models.Component, 0, len(components))
	for _, c := range components {
		key := strings.ToLower(strings.TrimSpace(c.Name)) + "|" + strings.ToLower(strings.TrimSpace(c.Label))
		if key == "|" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

var technologyStackConcerns = []string{
	"compute", "kubernetes", "databases", "networking", "load_balancers",
	"security", "storage", "streaming", "on_prem_connectivity", "high_availability_pattern",
}

func buildTechnologyStack(states ...*models.ArchitectureState) map[string][]string {
	stack := make(map[string][]string)
	for _, state := range states {
		if state == nil {
			continue
		}
		for i, list := range state.ComponentLists() {
			concern := technologyStackConcerns[i]
			for _, c := range list {
				if c.Name != "" && !contains(stack[concern], c.Name) {
					stack[concern] = append(stack[concern], c.Name)
				}
			}
		}
	}
	return stack
}

// crossValidate compares intake claims against what the diagrams actually show.
func crossValidate(intake models.Intake, ec *models.EvidenceContext) models.CrossValidation {
	cv := models.CrossValidation{}

	deployment := strings.ToLower(intake.GetString("deployment_model"))
	onPrem := stateHasOnPrem(ec.CurrentState) || stateHasOnPrem(ec.TargetState)
	switch {
	case strings.Contains(deployment, "on-prem") || strings.Contains(deployment, "hybrid"):
		if onPrem {
			cv.Enforcements = append(cv.Enforcements, "on-premises connectivity confirmed by diagram evidence")
		} else {
			cv.Unconfirmed = append(cv.Unconfirmed, "intake declares "+deployment+" deployment but no on-premises connectivity appears in the diagrams")
		}
	case onPrem && deployment != "":
		cv.Mismatches = append(cv.Mismatches, "diagrams show on-premises connectivity but intake declares "+deployment+" deployment")
	}

	kubernetes := stateHasKubernetes(ec.CurrentState) || stateHasKubernetes(ec.TargetState)
	pattern := strings.ToLower(intake.GetString("architecture_pattern"))
	if strings.Contains(pattern, "kubernetes") || strings.Contains(pattern, "microservice") {
		if kubernetes {
			cv.Enforcements = append(cv.Enforcements, "container orchestration confirmed by diagram evidence")
		} else {
			cv.Unconfirmed = append(cv.Unconfirmed, "intake declares a "+pattern+" pattern but no Kubernetes components appear in the diagrams")
		}
	}

	return cv
}

func findInconsistencies(ec *models.EvidenceContext) []string {
	var issues []string

	currentDBs := databaseEngines(ec.CurrentState)
	targetDBs := databaseEngines(ec.TargetState)
	if len(currentDBs) > 0 && len(targetDBs) > 0 {
		for engine := range targetDBs {
			if !currentDBs[engine] && conflictingEngine(engine, currentDBs) {
				issues = append(issues, fmt.Sprintf("target state introduces %s while the current state runs a different database engine", engine))
			}
		}
	}

	issues = append(issues, ec.CrossValidation.Mismatches...)
	return issues
}

func conflictingEngine(engine string, others map[string]bool) bool {
	for other := range others {
		if other != engine {
			return true
		}
	}
	return false
}

func stateHasOnPrem(state *models.ArchitectureState) bool {
	return state != nil && len(state.OnPremConnectivity) > 0
}

func stateHasKubernetes(state *models.ArchitectureState) bool {
	return state != nil && (state.KubernetesPresent || len(state.Kubernetes) > 0)
}

// databaseEngines reports which known engines appear in a state's database list.
func databaseEngines(state *models.ArchitectureState) map[string]bool {
	engines := make(map[string]bool)
	if state == nil {
		return engines
	}
	for _, c := range state.Databases {
		text := strings.ToLower(c.Name + " " + c.Label + " " + c.Details)
		for _, engine := range []string{"mysql", "postgresql", "oracle", "mongodb"} {
			if engine == "postgresql" && strings.Contains(text, "postgres") {
				engines[engine] = true
				continue
			}
			if strings.Contains(text, engine) {
				engines[engine] = true
			}
		}
	}
	return engines
}

// CheckGuardrails runs the architecture consistency rules over a finished
// draft. Every finding is advisory: guardrails surface risks for the human
// reviewer but never fail a review on their own.
func CheckGuardrails(evidence *models.EvidenceContext, sc *models.StructuredContext, draft *models.Draft) []models.ReviewFinding {
	if draft == nil {
		return nil
	}
	text := strings.ToLower(draft.Markdown)
	for _, section := range draft.StructuredSections {
		text += "\n" + strings.ToLower(section.DraftMarkdown)
	}

	var findings []models.ReviewFinding
	findings = append(findings, checkKubernetes(evidence, text)...)
	findings = append(findings, checkDatabaseEngine(evidence, text)...)
	findings = append(findings, checkStreaming(evidence, text)...)
	findings = append(findings, checkLoadBalancing(evidence, text)...)
	findings = append(findings, checkOnPremConnectivity(evidence, sc, text)...)
	return findings
}

func checkKubernetes(evidence *models.EvidenceContext, text string) []models.ReviewFinding {
	hasEvidence := evidence != nil && (stateHasKubernetes(evidence.CurrentState) || stateHasKubernetes(evidence.TargetState))
	mentioned := strings.Contains(text, "kubernetes") || strings.Contains(text, "oke")

	switch {
	case hasEvidence && !mentioned:
		return []models.ReviewFinding{{
			Severity:       models.SeverityAdvisory,
			Type:           "architecture_consistency",
			Section:        "Technical Architecture",
			Evidence:       "diagram evidence shows Kubernetes components but the draft never mentions Kubernetes or OKE",
			Recommendation: "Describe the container orchestration layer (OKE) shown in the architecture diagrams.",
		}}
	case !hasEvidence && strings.Contains(text, "oke"):
		return []models.ReviewFinding{{
			Severity:       models.SeverityAdvisory,
			Type:           "architecture_consistency",
			Section:        "Technical Architecture",
			Evidence:       "the draft mentions OKE but no Kubernetes components appear in the diagram evidence",
			Recommendation: "Confirm whether OKE is in scope, or remove the orchestration claim.",
		}}
	}
	return nil
}

func checkDatabaseEngine(evidence *models.EvidenceContext, text string) []models.ReviewFinding {
	if evidence == nil {
		return nil
	}
	engines := databaseEngines(evidence.CurrentState)
	for engine := range databaseEngines(evidence.TargetState) {
		engines[engine] = true
	}

	var findings []models.ReviewFinding
	if engines["mysql"] && !engines["postgresql"] && strings.Contains(text, "postgres") {
		findings = append(findings, models.ReviewFinding{
			Severity:       models.SeverityAdvisory,
			Type:           "data_platform_consistency",
			Section:        "Technical Architecture",
			Evidence:       "the draft references PostgreSQL but the diagram evidence shows MySQL",
			Recommendation: "Align the data platform description with the MySQL deployment in the evidence.",
		})
	}
	if engines["postgresql"] && !engines["mysql"] && strings.Contains(text, "mysql") {
		findings = append(findings, models.ReviewFinding{
			Severity:       models.SeverityAdvisory,
			Type:           "data_platform_consistency",
			Section:        "Technical Architecture",
			Evidence:       "the draft references MySQL but the diagram evidence shows PostgreSQL",
			Recommendation: "Align the data platform description with the PostgreSQL deployment in the evidence.",
		})
	}
	return findings
}

func checkStreaming(evidence *models.EvidenceContext, text string) []models.ReviewFinding {
	hasEvidence := evidence != nil &&
		((evidence.CurrentState != nil && len(evidence.CurrentState.Streaming) > 0) ||
			(evidence.TargetState != nil && len(evidence.TargetState.Streaming) > 0))
	if hasEvidence || !strings.Contains(text, "streaming") {
		return nil
	}
	return []models.ReviewFinding{{
		Severity:       models.SeverityAdvisory,
		Type:           "architecture_consistency",
		Section:        "Technical Architecture",
		Evidence:       "the draft describes streaming capabilities but no streaming components appear in the diagram evidence",
		Recommendation: "Confirm the streaming requirement, or scope the claim to batch data movement.",
	}}
}

func checkLoadBalancing(evidence *models.EvidenceContext, text string) []models.ReviewFinding {
	hasEvidence := evidence != nil &&
		((evidence.CurrentState != nil && len(evidence.CurrentState.LoadBalancers) > 0) ||
			(evidence.TargetState != nil && len(evidence.TargetState.LoadBalancers) > 0))
	mentioned := strings.Contains(text, "load balancer") || strings.Contains(text, "load balancing") || strings.Contains(text, "ingress")
	if !hasEvidence || mentioned {
		return nil
	}
	return []models.ReviewFinding{{
		Severity:       models.SeverityAdvisory,
		Type:           "architecture_consistency",
		Section:        "Technical Architecture",
		Evidence:       "diagram evidence shows load balancers but the draft never describes traffic distribution or ingress",
		Recommendation: "Describe how inbound traffic is distributed across the deployed services.",
	}}
}

func checkOnPremConnectivity(evidence *models.EvidenceContext, sc *models.StructuredContext, text string) []models.ReviewFinding {
	onPrem := false
	if sc != nil {
		d := strings.ToLower(sc.DeploymentModel)
		onPrem = strings.Contains(d, "on-prem") || strings.Contains(d, "hybrid")
	}
	if evidence != nil && (stateHasOnPrem(evidence.CurrentState) || stateHasOnPrem(evidence.TargetState)) {
		onPrem = true
	}

	mentioned := strings.Contains(text, "vpn") || strings.Contains(text, "drg") ||
		strings.Contains(text, "dynamic routing gateway") || strings.Contains(text, "fastconnect")
	if !onPrem || mentioned {
		return nil
	}
	return []models.ReviewFinding{{
		Severity:       models.SeverityAdvisory,
		Type:           "connectivity_consistency",
		Section:        "Technical Architecture",
		Evidence:       "the engagement involves on-premises connectivity but the draft never describes a VPN or dynamic routing gateway",
		Recommendation: "Describe the hybrid connectivity path (Site-to-Site VPN or FastConnect via DRG).",
	}}
}
