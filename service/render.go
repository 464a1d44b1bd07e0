package service

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"sowforge-backend/models"
)

var markdownRenderer = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// sectionFieldTitles maps schema field names to their rendered headings
var sectionFieldTitles = map[string]string{
	"section_summary":      "Summary",
	"obligations":          "Obligations",
	"constraints":          "Constraints",
	"limitations":          "Limitations",
	"overview":             "Overview",
	"architecture_pattern": "Architecture Pattern",
	"core_components":      "Core Components",
	"data_flow":            "Data Flow",
	"security_model":       "Security Model",
	"multi_tenancy_model":  "Multi-Tenancy Model",
	"action_items":         "Action Items",
}

// renderFieldOrders fixes the heading order per category so regenerated drafts
// stay diffable.
var renderFieldOrders = map[models.SectionCategory][]string{
	models.CategoryClause: {
		"section_summary", "obligations", "constraints", "limitations",
	},
	models.CategoryTechnical: {
		"overview", "architecture_pattern", "core_components", "data_flow",
		"security_model", "multi_tenancy_model", "limitations",
	},
}

// RenderSectionMarkdown renders one section's structured output as markdown.
func RenderSectionMarkdown(name string, category models.SectionCategory, output models.SectionOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", name)

	if category == models.CategoryTemplate {
		if content := coerceString(output["content"]); content != "" {
			b.WriteString("\n" + content + "\n")
		}
		renderRemainingFields(&b, output, []string{"content"})
		return b.String()
	}

	order := renderFieldOrders[category]
	for _, field := range order {
		renderField(&b, field, output[field])
	}
	renderRemainingFields(&b, output, order)
	return b.String()
}

func renderRemainingFields(b *strings.Builder, output models.SectionOutput, rendered []string) {
	for _, field := range schemaFieldKeys(output) {
		if contains(rendered, field) {
			continue
		}
		renderField(b, field, output[field])
	}
}

func renderField(b *strings.Builder, field string, value any) {
	if value == nil {
		return
	}
	title := sectionFieldTitles[field]
	if title == "" {
		title = humanizeField(field)
	}

	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return
		}
		if field == "architecture_pattern" {
			fmt.Fprintf(b, "\n**%s:** %s\n", title, v)
			return
		}
		fmt.Fprintf(b, "\n### %s\n\n%s\n", title, v)
	default:
		items := coerceStringList(value)
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(b, "\n### %s\n\n", title)
		for _, item := range items {
			fmt.Fprintf(b, "- %s\n", item)
		}
	}
}

// BuildSourceMapping ties each markdown paragraph of an evidence-backed
// section to the primary clauses it was assembled from. Template sections get
// no mapping: their content comes from intake, not evidence.
func BuildSourceMapping(markdown string, category models.SectionCategory, clauseIDs []string) []models.SourceMapping {
	if category == models.CategoryTemplate || len(clauseIDs) == 0 {
		return nil
	}

	var mappings []models.SourceMapping
	paragraph := 0
	for _, block := range strings.Split(markdown, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" || strings.HasPrefix(block, "#") {
			continue
		}
		paragraph++
		mappings = append(mappings, models.SourceMapping{
			Paragraph: paragraph,
			ClauseIDs: clauseIDs,
		})
	}
	return mappings
}

// RenderDocumentMarkdown assembles the full document from its drafted sections.
func RenderDocumentMarkdown(intake models.Intake, sections []models.DraftedSection) string {
	var b strings.Builder

	documentType := intake.GetString("document_type")
	if documentType == "" {
		documentType = "Statement of Work"
	}
	fmt.Fprintf(&b, "# %s", documentType)
	if client := intake.GetString("client_name"); client != "" {
		fmt.Fprintf(&b, ": %s", client)
	}
	b.WriteString("\n")

	for _, section := range sections {
		b.WriteString("\n" + strings.TrimRight(section.DraftMarkdown, "\n") + "\n")
	}
	return b.String()
}

// RenderHTML converts document markdown to HTML.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := markdownRenderer.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to render HTML: %w", err)
	}
	return buf.String(), nil
}

func humanizeField(field string) string {
	words := strings.Split(field, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// schemaFieldKeys returns an output's field names in sorted order.
func schemaFieldKeys(output models.SectionOutput) []string {
	keys := make([]string, 0, len(output))
	for key := range output {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
