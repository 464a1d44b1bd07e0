package models

// Component is one named element extracted from an architecture diagram
type Component struct {
	Name       string `json:"name"`
	Label      string `json:"label,omitempty"`
	Details    string `json:"details,omitempty"`
	Confidence string `json:"confidence"`
}

// ArchitectureState is the normalized form of one extracted diagram: component
// lists keyed by concern. The multimodal extractor upstream emits this shape;
// the guardrails only consume it.
type ArchitectureState struct {
	Compute             []Component `json:"compute"`
	Kubernetes          []Component `json:"kubernetes"`
	Databases           []Component `json:"databases"`
	Networking          []Component `json:"networking"`
	LoadBalancers       []Component `json:"load_balancers"`
	Security            []Component `json:"security"`
	Storage             []Component `json:"storage"`
	Streaming           []Component `json:"streaming"`
	OnPremConnectivity  []Component `json:"on_prem_connectivity"`
	HighAvailability    []Component `json:"high_availability_pattern"`
	Relationships       []string    `json:"relationships,omitempty"`
	KubernetesPresent   bool        `json:"kubernetes_present,omitempty"`
}

// ComponentLists returns the state's component groups in a fixed order.
func (s *ArchitectureState) ComponentLists() [][]Component {
	return [][]Component{
		s.Compute,
		s.Kubernetes,
		s.Databases,
		s.Networking,
		s.LoadBalancers,
		s.Security,
		s.Storage,
		s.Streaming,
		s.OnPremConnectivity,
		s.HighAvailability,
	}
}

// EvidenceContext merges intake facts with the extracted current/target
// architecture states, plus the cross-checks computed over them. This is the
// structured evidence the consistency guardrails run against.
type EvidenceContext struct {
	ProjectData     Intake              `json:"project_data"`
	CurrentState    *ArchitectureState  `json:"current_state"`
	TargetState     *ArchitectureState  `json:"target_state"`
	TechnologyStack map[string][]string `json:"technology_stack"`
	CrossValidation CrossValidation     `json:"cross_validation"`
	Inconsistencies []string            `json:"inconsistencies"`
}

// CrossValidation holds the evidence-vs-intake comparison results
type CrossValidation struct {
	Mismatches   []string `json:"mismatches"`
	Unconfirmed  []string `json:"unconfirmed"`
	Enforcements []string `json:"enforcements"`
}
