package service

import (
	"errors"
	"fmt"
)

var (
	ErrCaseNotFound     = errors.New("case not found")
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrGenerationFailed = errors.New("failed to generate content")
	ErrEmbeddingFailed  = errors.New("failed to generate embedding")
)

// ValidationError marks bad caller input: missing intake fields, an empty plan,
// an unknown section category. It is surfaced, never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// StateTransitionError marks an illegal stage jump. It is surfaced, never retried.
type StateTransitionError struct {
	Message string
}

func (e *StateTransitionError) Error() string {
	return e.Message
}

func stateTransitionErrorf(format string, args ...any) *StateTransitionError {
	return &StateTransitionError{Message: fmt.Sprintf(format, args...)}
}
