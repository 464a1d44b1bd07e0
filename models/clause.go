package models

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/google/uuid"
)

// ClauseMetadata carries the retrieval labels attached to a candidate
type ClauseMetadata struct {
	Section    string   `json:"section"`
	ClauseType string   `json:"clause_type"`
	RiskLevel  string   `json:"risk_level"`
	Tags       []string `json:"tags,omitempty"`
}

// Value implements driver.Valuer for JSONB
func (m ClauseMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONB
func (m *ClauseMetadata) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}
	if len(bytes) == 0 {
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// ClauseCandidate is one retrieved unit of evidence offered to the writer.
// ClauseText is always non-empty after normalization.
type ClauseCandidate struct {
	ChunkID    string         `json:"chunk_id"`
	SourceURI  string         `json:"source_uri"`
	Score      float64        `json:"score"`
	ClauseText string         `json:"clause_text"`
	Metadata   ClauseMetadata `json:"metadata"`
	// OffSection marks a candidate accepted under the off-section last resort
	OffSection bool `json:"off_section,omitempty"`
}

// Clause is a row of the sow_clauses corpus table. The filter dimensions are
// first-class columns so retrieval can match them without unpacking JSON.
type Clause struct {
	ID                  uuid.UUID      `json:"id"`
	Text                string         `json:"text"`
	Section             string         `json:"section"`
	ClauseType          string         `json:"clause_type"`
	RiskLevel           string         `json:"risk_level"`
	Industry            string         `json:"industry"`
	Region              string         `json:"region"`
	DeploymentModel     string         `json:"deployment_model"`
	ArchitecturePattern string         `json:"architecture_pattern"`
	ServiceFamily       string         `json:"service_family"`
	ComplianceScope     string         `json:"compliance_scope"`
	Tags                []string       `json:"tags"`
	SourceDocument      string         `json:"source_document"`
	Metadata            ClauseMetadata `json:"metadata"`
	Distance            float64        `json:"distance,omitempty"` // Vector similarity distance
}

// RetrievalFilterFields are the filter dimensions a retrieval query may carry.
// Anything else in a section's clause_filters is dropped during plan
// normalization.
var RetrievalFilterFields = []string{
	"section",
	"clause_type",
	"tags",
	"risk_level",
	"industry",
	"region",
	"deployment_model",
	"architecture_pattern",
	"service_family",
	"compliance_scope",
}

// IsRetrievalFilterField reports whether key is a recognized filter dimension.
func IsRetrievalFilterField(key string) bool {
	for _, f := range RetrievalFilterFields {
		if f == key {
			return true
		}
	}
	return false
}
