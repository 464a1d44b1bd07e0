package repository

import (
	"context"
	"fmt"
	"strings"

	"sowforge-backend/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ClauseRepository handles database operations for the clause corpus
type ClauseRepository struct {
	db *pgxpool.Pool
}

// NewClauseRepository creates a new clause repository
func NewClauseRepository(db *pgxpool.Pool) *ClauseRepository {
	return &ClauseRepository{db: db}
}

// formatVector formats an embedding vector as a string for pgx
func formatVector(embedding []float64) string {
	if len(embedding) == 0 {
		return "[]"
	}
	var parts []string
	for _, v := range embedding {
		parts = append(parts, fmt.Sprintf("%.6f", v))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// scalarFilterColumns are the clause columns a retrieval filter may match
// directly, in the order they appear in the generated query. Tags are handled
// separately with array overlap.
var scalarFilterColumns = []string{
	"section",
	"clause_type",
	"risk_level",
	"industry",
	"region",
	"deployment_model",
	"architecture_pattern",
	"service_family",
	"compliance_scope",
}

// Search performs a filtered vector search over the clause corpus.
// embedding: query embedding vector (768 dimensions)
// filters: retrieval filter dimensions; unknown keys are ignored
// limit: maximum number of clauses to return
func (r *ClauseRepository) Search(
	ctx context.Context,
	embedding []float64,
	filters map[string]any,
	limit int,
) ([]models.Clause, error) {
	if len(embedding) != 768 {
		return nil, fmt.Errorf("embedding must be 768 dimensions, got %d", len(embedding))
	}

	vectorStr := formatVector(embedding)
	args := []interface{}{vectorStr}
	var conditions []string

	for _, column := range scalarFilterColumns {
		value, ok := filters[column]
		if !ok {
			continue
		}
		s, ok := value.(string)
		if !ok || s == "" {
			continue
		}
		args = append(args, s)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if tags := filterTags(filters["tags"]); len(tags) > 0 {
		args = append(args, tags)
		conditions = append(conditions, fmt.Sprintf("tags && $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT
			id,
			clause_text,
			section,
			clause_type,
			risk_level,
			industry,
			region,
			deployment_model,
			architecture_pattern,
			service_family,
			compliance_scope,
			tags,
			source_document,
			metadata,
			embedding <=> $1::vector AS distance
		FROM sow_clauses
		%s
		ORDER BY
			embedding <=> $1::vector
		LIMIT $%d`, where, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query clauses: %w", err)
	}
	defer rows.Close()

	var clauses []models.Clause
	for rows.Next() {
		var clause models.Clause
		err := rows.Scan(
			&clause.ID,
			&clause.Text,
			&clause.Section,
			&clause.ClauseType,
			&clause.RiskLevel,
			&clause.Industry,
			&clause.Region,
			&clause.DeploymentModel,
			&clause.ArchitecturePattern,
			&clause.ServiceFamily,
			&clause.ComplianceScope,
			&clause.Tags,
			&clause.SourceDocument,
			&clause.Metadata,
			&clause.Distance,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan clause: %w", err)
		}
		clauses = append(clauses, clause)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clauses: %w", err)
	}

	return clauses, nil
}

// Insert stores one clause with its embedding.
func (r *ClauseRepository) Insert(ctx context.Context, clause *models.Clause, embedding []float64) error {
	if len(embedding) != 768 {
		return fmt.Errorf("embedding must be 768 dimensions, got %d", len(embedding))
	}

	query := `
		INSERT INTO sow_clauses (
			id, clause_text, section, clause_type, risk_level,
			industry, region, deployment_model, architecture_pattern,
			service_family, compliance_scope, tags, source_document,
			metadata, embedding
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15::vector
		)
		ON CONFLICT (id) DO UPDATE SET
			clause_text = EXCLUDED.clause_text,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`

	_, err := r.db.Exec(ctx, query,
		clause.ID,
		clause.Text,
		clause.Section,
		clause.ClauseType,
		clause.RiskLevel,
		clause.Industry,
		clause.Region,
		clause.DeploymentModel,
		clause.ArchitecturePattern,
		clause.ServiceFamily,
		clause.ComplianceScope,
		clause.Tags,
		clause.SourceDocument,
		clause.Metadata,
		formatVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("failed to insert clause: %w", err)
	}
	return nil
}

// filterTags coerces a filter value into a tag list.
func filterTags(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		var tags []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				tags = append(tags, s)
			}
		}
		return tags
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}
