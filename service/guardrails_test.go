package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sowforge-backend/models"
)

func evidenceWith(state *models.ArchitectureState) *models.EvidenceContext {
	return BuildEvidenceContext(models.Intake{}, state, nil)
}

func draftSaying(text string) *models.Draft {
	return &models.Draft{Markdown: text}
}

func TestBuildEvidenceContextDedupesComponents(t *testing.T) {
	state := &models.ArchitectureState{
		Databases: []models.Component{
			{Name: "MySQL", Label: "primary", Confidence: "high"},
			{Name: "MySQL", Label: "primary", Confidence: "low"},
			{Name: "MySQL", Label: "replica", Confidence: "high"},
		},
	}

	ec := BuildEvidenceContext(models.Intake{}, state, nil)
	require.NotNil(t, ec.CurrentState)
	assert.Len(t, ec.CurrentState.Databases, 2, "same name and label collapse to one component")
	assert.Equal(t, []string{"MySQL"}, ec.TechnologyStack["databases"])
}

func TestBuildEvidenceContextCrossValidation(t *testing.T) {
	intake := models.Intake{"deployment_model": "hybrid"}

	confirmed := BuildEvidenceContext(intake, &models.ArchitectureState{
		OnPremConnectivity: []models.Component{{Name: "Site-to-Site VPN", Confidence: "high"}},
	}, nil)
	assert.NotEmpty(t, confirmed.CrossValidation.Enforcements)
	assert.Empty(t, confirmed.CrossValidation.Unconfirmed)

	unconfirmed := BuildEvidenceContext(intake, &models.ArchitectureState{}, nil)
	assert.NotEmpty(t, unconfirmed.CrossValidation.Unconfirmed)
}

func TestGuardrailDatabaseEngineMismatch(t *testing.T) {
	evidence := evidenceWith(&models.ArchitectureState{
		Databases: []models.Component{{Name: "MySQL 8", Confidence: "high"}},
	})
	draft := draftSaying("The data platform runs on PostgreSQL with automated failover.")

	findings := CheckGuardrails(evidence, nil, draft)
	require.NotEmpty(t, findings)
	assert.Equal(t, models.SeverityAdvisory, findings[0].Severity)
	assert.Contains(t, findings[0].Evidence, "PostgreSQL")
	assert.Contains(t, findings[0].Evidence, "MySQL")
}

func TestGuardrailKubernetesMissingFromDraft(t *testing.T) {
	evidence := evidenceWith(&models.ArchitectureState{
		Kubernetes: []models.Component{{Name: "OKE Cluster", Confidence: "high"}},
	})
	draft := draftSaying("Workloads run on managed compute instances.")

	findings := CheckGuardrails(evidence, nil, draft)
	require.NotEmpty(t, findings)
	assert.Contains(t, findings[0].Evidence, "Kubernetes")
}

func TestGuardrailStreamingClaimWithoutEvidence(t *testing.T) {
	evidence := evidenceWith(&models.ArchitectureState{})
	draft := draftSaying("Real-time streaming ingestion feeds the vector index continuously.")

	findings := CheckGuardrails(evidence, nil, draft)
	require.NotEmpty(t, findings)
	assert.Contains(t, findings[0].Evidence, "streaming")
}

func TestGuardrailLoadBalancerMissingFromDraft(t *testing.T) {
	evidence := evidenceWith(&models.ArchitectureState{
		LoadBalancers: []models.Component{{Name: "Flexible Load Balancer", Confidence: "high"}},
	})

	silent := draftSaying("Traffic goes straight to the application tier.")
	findings := CheckGuardrails(evidence, nil, silent)
	require.NotEmpty(t, findings)
	assert.Contains(t, findings[0].Evidence, "load balancers")

	covered := draftSaying("An ingress controller distributes traffic across replicas.")
	assert.Empty(t, CheckGuardrails(evidence, nil, covered))
}

func TestGuardrailOnPremConnectivity(t *testing.T) {
	sc := &models.StructuredContext{DeploymentModel: "hybrid"}

	silent := draftSaying("All services run in a single region.")
	findings := CheckGuardrails(nil, sc, silent)
	require.NotEmpty(t, findings)
	assert.Contains(t, findings[0].Recommendation, "VPN")

	covered := draftSaying("Connectivity to the data center uses FastConnect through a DRG.")
	assert.Empty(t, CheckGuardrails(nil, sc, covered))
}

func TestGuardrailFindingsAreAlwaysAdvisory(t *testing.T) {
	evidence := evidenceWith(&models.ArchitectureState{
		Databases:     []models.Component{{Name: "MySQL", Confidence: "high"}},
		Kubernetes:    []models.Component{{Name: "OKE", Confidence: "high"}},
		LoadBalancers: []models.Component{{Name: "LB", Confidence: "high"}},
	})
	draft := draftSaying("PostgreSQL handles storage with streaming replication to all nodes.")

	findings := CheckGuardrails(evidence, &models.StructuredContext{DeploymentModel: "on-premises"}, draft)
	require.NotEmpty(t, findings)
	for _, f := range findings {
		assert.Equal(t, models.SeverityAdvisory, f.Severity)
	}
}
