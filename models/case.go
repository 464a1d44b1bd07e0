package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowStage represents a stage in the case lifecycle
type WorkflowStage string

const (
	StageInit      WorkflowStage = "INIT"
	StageExtracted WorkflowStage = "EXTRACTED"
	StagePlanReady WorkflowStage = "PLAN_READY"
	StageRetrieved WorkflowStage = "RETRIEVED"
	StageReranked  WorkflowStage = "RERANKED"
	StageAssembled WorkflowStage = "ASSEMBLED"
	StageDrafted   WorkflowStage = "DRAFTED"
	StageValidated WorkflowStage = "VALIDATED"
	StageReviewed  WorkflowStage = "REVIEWED"
	StageApproved  WorkflowStage = "APPROVED"
)

// StageOrder is the linear workflow order. APPROVED is terminal.
var StageOrder = []WorkflowStage{
	StageInit,
	StageExtracted,
	StagePlanReady,
	StageRetrieved,
	StageReranked,
	StageAssembled,
	StageDrafted,
	StageValidated,
	StageReviewed,
	StageApproved,
}

// IsValidStage reports whether s names a known workflow stage.
func IsValidStage(s WorkflowStage) bool {
	for _, stage := range StageOrder {
		if stage == s {
			return true
		}
	}
	return false
}

// Artifact is an immutable, versioned snapshot produced by one workflow stage.
// A re-run of the same stage appends a new version; payloads are never mutated.
type Artifact struct {
	Stage     WorkflowStage  `json:"stage"`
	Version   int            `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	Payload   map[string]any `json:"payload"`
}

// Case represents one document-generation job tracked through the stage lifecycle
type Case struct {
	ID                uuid.UUID                     `json:"id"`
	CreatedAt         time.Time                     `json:"created_at"`
	Intake            Intake                        `json:"intake"`
	StructuredContext *StructuredContext            `json:"structured_context,omitempty"`
	Stage             WorkflowStage                 `json:"stage"`
	Artifacts         map[WorkflowStage][]*Artifact `json:"artifacts"`
	ApprovedBy        string                        `json:"approved_by,omitempty"`
}

// Snapshot returns a copy safe to read outside the per-case lock. Artifacts
// are immutable once appended, so the copy shares artifact pointers and only
// duplicates the containers a stage run mutates.
func (c *Case) Snapshot() *Case {
	copied := *c
	copied.Intake = make(Intake, len(c.Intake))
	for k, v := range c.Intake {
		copied.Intake[k] = v
	}
	copied.Artifacts = make(map[WorkflowStage][]*Artifact, len(c.Artifacts))
	for stage, artifacts := range c.Artifacts {
		copied.Artifacts[stage] = append([]*Artifact(nil), artifacts...)
	}
	return &copied
}

// LatestArtifact returns the newest artifact for a stage, or nil when the stage
// has not produced one yet.
func (c *Case) LatestArtifact(stage WorkflowStage) *Artifact {
	artifacts := c.Artifacts[stage]
	if len(artifacts) == 0 {
		return nil
	}
	return artifacts[len(artifacts)-1]
}
