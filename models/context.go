package models

// Intake holds the client-supplied facts for a case. It is free-form by
// contract: the transport accepts arbitrary JSON and the extractor normalizes
// it into a StructuredContext.
type Intake map[string]any

// GetString returns the string value for a key, or "" when absent or not a string.
func (i Intake) GetString(key string) string {
	if v, ok := i[key].(string); ok {
		return v
	}
	return ""
}

// GetStringList returns the string-list value for a key, tolerating both
// []string and the []any that json.Unmarshal produces.
func (i Intake) GetStringList(key string) []string {
	switch v := i[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// StructuredContext is the normalized fact record derived from intake during
// EXTRACT. It is written once and constrains retrieval and generation for the
// rest of the case lifecycle.
type StructuredContext struct {
	DeploymentModel     string   `json:"deployment_model"`
	ArchitecturePattern string   `json:"architecture_pattern"`
	DataIsolationModel  string   `json:"data_isolation_model"`
	CloudProvider       string   `json:"cloud_provider"`
	AIServicesUsed      []string `json:"ai_services_used"`
	DataFlowDirection   string   `json:"data_flow_direction"`
	RegulatoryContext   []string `json:"regulatory_context"`
	Industry            string   `json:"industry"`
	Region              string   `json:"region"`
	AllowedServices     []string `json:"allowed_services"`
}

// Lookup resolves a structured-context field by its wire name. Used when
// resolving {{structured.x}} filter templates in section plans.
func (c *StructuredContext) Lookup(field string) any {
	if c == nil {
		return nil
	}
	switch field {
	case "deployment_model":
		return c.DeploymentModel
	case "architecture_pattern":
		return c.ArchitecturePattern
	case "data_isolation_model":
		return c.DataIsolationModel
	case "cloud_provider":
		return c.CloudProvider
	case "ai_services_used":
		return c.AIServicesUsed
	case "data_flow_direction":
		return c.DataFlowDirection
	case "regulatory_context":
		return c.RegulatoryContext
	case "industry":
		return c.Industry
	case "region":
		return c.Region
	case "allowed_services":
		return c.AllowedServices
	}
	return nil
}
