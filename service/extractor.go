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

// ContextExtractor turns free-form intake into a structured-context record via
// one schema-constrained model call. Any failure falls back to values taken
// directly from same-named intake fields, so extraction itself never errors.
type ContextExtractor struct {
	completion CompletionClient
}

// NewContextExtractor creates a context extractor over the given completion client.
func NewContextExtractor(completion CompletionClient) *ContextExtractor {
	return &ContextExtractor{completion: completion}
}

var contextSchema = &ResponseSchema{
	Name: "context_extraction",
	Fields: models.OutputSchema{
		"deployment_model":     models.FieldTypeString,
		"architecture_pattern": models.FieldTypeString,
		"data_isolation_model": models.FieldTypeString,
		"cloud_provider":       models.FieldTypeString,
		"ai_services_used":     models.FieldTypeList,
		"data_flow_direction":  models.FieldTypeString,
		"regulatory_context":   models.FieldTypeList,
		"industry":             models.FieldTypeString,
		"region":               models.FieldTypeString,
		"allowed_services":     models.FieldTypeList,
	},
}

// Extract derives the structured context for an intake record.
func (e *ContextExtractor) Extract(ctx context.Context, intake models.Intake) *models.StructuredContext {
	var parsed map[string]any
	if e.completion != nil {
		intakeJSON, _ := json.Marshal(intake)
		prompt := fmt.Sprintf(
			"Extract the engagement context from this intake record. "+
				"Return JSON only, with exactly these keys: deployment_model, architecture_pattern, "+
				"data_isolation_model, cloud_provider, ai_services_used, data_flow_direction, "+
				"regulatory_context, industry, region, allowed_services. "+
				"Use empty strings or empty arrays for unknown values.\nIntake: %s", intakeJSON)

		response, err := e.completion.Complete(ctx, prompt, contextSchema)
		if err != nil {
			log.Printf("Warning: structured context extraction failed, using intake fallbacks: %v", err)
		} else {
			parsed = ParseJSONObject(response)
		}
	}

	sc := &models.StructuredContext{
		DeploymentModel:     firstNonEmpty(stringField(parsed, "deployment_model"), intake.GetString("deployment_model")),
		ArchitecturePattern: firstNonEmpty(stringField(parsed, "architecture_pattern"), intake.GetString("architecture_pattern")),
		DataIsolationModel:  firstNonEmpty(stringField(parsed, "data_isolation_model"), intake.GetString("data_isolation_model")),
		CloudProvider:       firstNonEmpty(stringField(parsed, "cloud_provider"), intake.GetString("cloud_provider"), "OCI"),
		DataFlowDirection:   firstNonEmpty(stringField(parsed, "data_flow_direction"), intake.GetString("data_flow_direction")),
		Industry:            firstNonEmpty(stringField(parsed, "industry"), intake.GetString("industry")),
		Region:              firstNonEmpty(stringField(parsed, "region"), intake.GetString("region")),
	}

	sc.AIServicesUsed = firstNonEmptyList(stringListField(parsed, "ai_services_used"), intake.GetStringList("ai_services_used"))
	sc.RegulatoryContext = firstNonEmptyList(stringListField(parsed, "regulatory_context"), intake.GetStringList("regulatory_context"))
	if sc.RegulatoryContext == nil {
		sc.RegulatoryContext = []string{}
	}

	sc.AllowedServices = stringListField(parsed, "allowed_services")
	if len(sc.AllowedServices) == 0 {
		sc.AllowedServices = deriveAllowedServices(sc.AIServicesUsed, sc.CloudProvider)
	}
	return sc
}

// deriveAllowedServices unions the declared AI capabilities with the baseline
// platform services for a known provider.
func deriveAllowedServices(aiServices []string, cloudProvider string) []string {
	allowed := make(map[string]bool)
	for _, svc := range aiServices {
		allowed[svc] = true
	}
	if strings.Contains(strings.ToLower(cloudProvider), "oci") {
		for _, svc := range []string{"OCI AI Services", "OCI Data Science", "Object Storage", "API Gateway", "Functions"} {
			allowed[svc] = true
		}
	}

	out := make([]string, 0, len(allowed))
	for svc := range allowed {
		out = append(out, svc)
	}
	sort.Strings(out)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptyList(lists ...[]string) []string {
	for _, l := range lists {
		if len(l) > 0 {
			return l
		}
	}
	return nil
}
