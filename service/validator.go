package service

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"sowforge-backend/models"
)

// serviceNamePattern picks out product-style service names such as
// "OCI Data Science" or "Object Storage" from generated prose.
var serviceNamePattern = regexp.MustCompile(`\b(?:OCI\s+)?[A-Z][A-Za-z]+(?:\s+[A-Z][A-Za-z]+)*\b`)

// ValidateSectionOutput checks a section output against its definition.
// All checks run; reasons accumulate rather than short-circuit.
func ValidateSectionOutput(def *models.SectionDefinition, output models.SectionOutput, sc *models.StructuredContext) (bool, []string) {
	var reasons []string

	for _, field := range def.RequiredFields {
		value, ok := lookupPath(map[string]any(output), field)
		if !ok || emptyFieldValue(value) {
			reasons = append(reasons, fmt.Sprintf("required field %q is missing or empty", field))
		}
	}

	for field, rule := range def.MinContent {
		value, ok := lookupPath(map[string]any(output), field)
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			if rule.MinWords > 0 && len(strings.Fields(v)) < rule.MinWords {
				reasons = append(reasons, fmt.Sprintf("field %q has fewer than %d words", field, rule.MinWords))
			}
		case []any:
			if rule.MinItems > 0 && len(v) < rule.MinItems {
				reasons = append(reasons, fmt.Sprintf("field %q has fewer than %d items", field, rule.MinItems))
			}
		case []string:
			if rule.MinItems > 0 && len(v) < rule.MinItems {
				reasons = append(reasons, fmt.Sprintf("field %q has fewer than %d items", field, rule.MinItems))
			}
		}
	}

	if def.Category == models.CategoryTechnical && sc != nil {
		reasons = append(reasons, validateTechnicalSection(output, sc)...)
	}

	return len(reasons) == 0, reasons
}

func validateTechnicalSection(output models.SectionOutput, sc *models.StructuredContext) []string {
	var reasons []string

	if sc.ArchitecturePattern != "" {
		got, _ := lookupPath(map[string]any(output), "architecture_pattern")
		gotStr, _ := got.(string)
		if !strings.EqualFold(strings.TrimSpace(gotStr), strings.TrimSpace(sc.ArchitecturePattern)) {
			reasons = append(reasons, fmt.Sprintf(
				"architecture_pattern %q does not match engagement context %q", gotStr, sc.ArchitecturePattern))
		}
	}

	if len(sc.AllowedServices) > 0 {
		allowed := make(map[string]bool, len(sc.AllowedServices))
		for _, svc := range sc.AllowedServices {
			allowed[strings.ToLower(svc)] = true
		}
		for _, mentioned := range extractServiceNames(output) {
			if !allowed[strings.ToLower(mentioned)] {
				reasons = append(reasons, fmt.Sprintf("service %q is not in the allowed services for this engagement", mentioned))
			}
		}
	}

	return reasons
}

// extractServiceNames scans every string and string-list value of the output
// for candidate service names, so a service slipped into overview or data_flow
// is held to the same allowed list as core_components. Only matches that look
// like platform services (contain a cloud service keyword) are reported, so
// generic prose does not trip validation. Fields are visited in sorted order
// to keep the reason list deterministic.
func extractServiceNames(output models.SectionOutput) []string {
	fields := make([]string, 0, len(output))
	for field := range output {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var entries []string
	for _, field := range fields {
		switch v := output[field].(type) {
		case string:
			entries = append(entries, v)
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					entries = append(entries, s)
				}
			}
		case []string:
			entries = append(entries, v...)
		}
	}

	seen := make(map[string]bool)
	var names []string
	for _, entry := range entries {
		for _, match := range serviceNamePattern.FindAllString(entry, -1) {
			if !looksLikeService(match) {
				continue
			}
			if !seen[match] {
				seen[match] = true
				names = append(names, match)
			}
		}
	}
	return names
}

var serviceKeywords = []string{
	"oci", "storage", "gateway", "functions", "database", "data science",
	"ai services", "kubernetes", "streaming", "vault", "registry",
}

func looksLikeService(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range serviceKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// lookupPath resolves a dotted field path through nested maps.
func lookupPath(obj map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = obj
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func emptyFieldValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}
