package service

import (
	"context"

	"sowforge-backend/models"
)

// ResponseSchema constrains a completion call to a flat JSON object whose
// fields follow the given types. Callers never assume the model honored it.
type ResponseSchema struct {
	Name   string
	Fields models.OutputSchema
}

// CompletionClient is the external generative-model collaborator. A nil schema
// requests free text. Errors and unparseable output are expected conditions:
// every caller has a deterministic fallback.
type CompletionClient interface {
	Complete(ctx context.Context, prompt string, schema *ResponseSchema) (string, error)
}
