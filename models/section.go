package models

// SectionCategory selects the writer mode for a section
type SectionCategory string

const (
	CategoryTemplate  SectionCategory = "template"
	CategoryClause    SectionCategory = "clause"
	CategoryTechnical SectionCategory = "technical"
)

// IsValidCategory reports whether c is a known section category.
func IsValidCategory(c SectionCategory) bool {
	return c == CategoryTemplate || c == CategoryClause || c == CategoryTechnical
}

// FieldType is the closed set of section output value types. The schema an
// output must satisfy maps field names to one of these; a string field defaults
// to "" and a list field to an empty []string.
type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeList   FieldType = "list"
)

// OutputSchema maps a section output field to its expected value type
type OutputSchema map[string]FieldType

// DefaultValue returns the zero payload for a field type.
func (t FieldType) DefaultValue() any {
	if t == FieldTypeList {
		return []string{}
	}
	return ""
}

// NormalizeOutputSchema converts a wire-format schema (field -> default value,
// where a list default means a list field) into an OutputSchema.
func NormalizeOutputSchema(raw map[string]any) OutputSchema {
	schema := make(OutputSchema, len(raw))
	for key, def := range raw {
		switch def.(type) {
		case []any, []string:
			schema[key] = FieldTypeList
		default:
			schema[key] = FieldTypeString
		}
	}
	return schema
}

// DefaultSectionSchemas are the per-category output schemas used when a plan
// section does not supply its own.
var DefaultSectionSchemas = map[SectionCategory]OutputSchema{
	CategoryClause: {
		"section_summary": FieldTypeString,
		"obligations":     FieldTypeList,
		"constraints":     FieldTypeList,
		"limitations":     FieldTypeList,
	},
	CategoryTechnical: {
		"overview":             FieldTypeString,
		"architecture_pattern": FieldTypeString,
		"core_components":      FieldTypeList,
		"data_flow":            FieldTypeString,
		"security_model":       FieldTypeString,
		"multi_tenancy_model":  FieldTypeString,
		"limitations":          FieldTypeString,
	},
	CategoryTemplate: {
		"content": FieldTypeString,
	},
}

// FallbackPolicy bounds the retrieval relaxation and write/validate retry loops
// for one section.
type FallbackPolicy struct {
	MinClauses      int      `json:"min_clauses"`
	RelaxationOrder []string `json:"relaxation_order"`
	MaxRetries      int      `json:"max_retries"`
	// AllowOffSection permits a final attempt with the section filter dropped
	// when every relaxation attempt stayed below MinClauses. Off by default:
	// wrong-section evidence is easy to over-trust.
	AllowOffSection bool `json:"allow_off_section,omitempty"`
}

// DefaultFallbackPolicy returns the standard relaxation budget.
func DefaultFallbackPolicy() FallbackPolicy {
	return FallbackPolicy{
		MinClauses:      3,
		RelaxationOrder: []string{"tags", "industry", "region", "risk_level"},
		MaxRetries:      3,
	}
}

// MinContentRule is a minimum-content requirement for one output field
type MinContentRule struct {
	MinWords int `json:"min_words,omitempty"`
	MinItems int `json:"min_items,omitempty"`
}

// SectionDefinition is one entry of a document plan: what the section is for,
// how to retrieve evidence for it, and what its output must look like.
type SectionDefinition struct {
	Name           string                    `json:"name"`
	Intent         string                    `json:"intent"`
	Category       SectionCategory           `json:"category"`
	ClauseFilters  map[string]any            `json:"clause_filters,omitempty"`
	RequiredFields []string                  `json:"required_fields,omitempty"`
	MinContent     map[string]MinContentRule `json:"min_content,omitempty"`
	FallbackPolicy FallbackPolicy            `json:"fallback_policy"`
	OutputSchema   OutputSchema              `json:"output_schema"`
}

// SectionOutput maps schema field names to generated values (string or []string)
type SectionOutput map[string]any

// Plan is the PLAN_READY artifact body
type Plan struct {
	Sections          []SectionDefinition `json:"sections"`
	StructuredContext *StructuredContext  `json:"structured_context"`
	RiskChecks        []string            `json:"risk_checks,omitempty"`
}

// SectionByName returns the plan section with the given name, or nil.
func (p *Plan) SectionByName(name string) *SectionDefinition {
	for i := range p.Sections {
		if p.Sections[i].Name == name {
			return &p.Sections[i]
		}
	}
	return nil
}

// SectionBlueprint is the per-section generation input produced by ASSEMBLE:
// reranked candidates plus the section configuration the writer and validator
// need downstream.
type SectionBlueprint struct {
	SectionIntent    string                    `json:"section_intent"`
	Category         SectionCategory           `json:"category"`
	Order            []string                  `json:"order"`
	PrimaryClauseIDs []string                  `json:"primary_clause_ids"`
	PrimaryClauses   []ClauseCandidate         `json:"primary_clauses"`
	RerankedClauses  []ClauseCandidate         `json:"reranked_clauses"`
	OutputSchema     OutputSchema              `json:"output_schema"`
	RequiredFields   []string                  `json:"required_fields,omitempty"`
	MinContent       map[string]MinContentRule `json:"min_content,omitempty"`
	FallbackPolicy   FallbackPolicy            `json:"fallback_policy"`
	ClauseFilters    map[string]any            `json:"clause_filters,omitempty"`
}

// SourceMapping ties a drafted paragraph back to the clauses that ground it
type SourceMapping struct {
	Paragraph int      `json:"paragraph"`
	ClauseIDs []string `json:"clause_ids"`
}

// DraftedSection is one generated document section with its audit trail
type DraftedSection struct {
	Name              string          `json:"name"`
	Intent            string          `json:"intent"`
	Category          SectionCategory `json:"category"`
	WriterMode        string          `json:"writer_mode"`
	StructuredContent SectionOutput   `json:"structured_content"`
	DraftMarkdown     string          `json:"draft_markdown"`
	SourceMapping     []SourceMapping `json:"source_mapping"`
}

// Draft is the DRAFTED artifact body
type Draft struct {
	StructuredSections []DraftedSection         `json:"structured_sections"`
	SectionsJSON       map[string]SectionOutput `json:"sections_json"`
	Markdown           string                   `json:"markdown"`
}
