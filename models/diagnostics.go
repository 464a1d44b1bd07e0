package models

// RetrievalAttempt records one retrieval call: the exact filter set used and
// what came back. Attempt numbering starts at 1.
type RetrievalAttempt struct {
	Attempt       int            `json:"attempt"`
	FiltersUsed   map[string]any `json:"filters_used"`
	ReturnedCount int            `json:"returned_count"`
	OffSection    bool           `json:"off_section,omitempty"`
}

// RetrievalDiagnostics is the audit trail of one section's retrieval, across
// all relaxation attempts.
type RetrievalDiagnostics struct {
	Attempts          []RetrievalAttempt `json:"attempts"`
	FinalCount        int                `json:"final_count"`
	RelaxedDimensions []string           `json:"relaxed_dimensions"`
}

// RerankDiagnostics records the candidate counts around one section's rerank
type RerankDiagnostics struct {
	PreRerankCount  int `json:"pre_rerank_count"`
	PostRerankCount int `json:"post_rerank_count"`
	TopM            int `json:"top_m"`
}

// WriteAttempt records one write/validate attempt for a section
type WriteAttempt struct {
	Attempt        int                   `json:"attempt"`
	WriterMode     string                `json:"writer_mode"`
	Pass           bool                  `json:"pass"`
	Reasons        []string              `json:"reasons"`
	RetrievalRetry *RetrievalDiagnostics `json:"retrieval_retry,omitempty"`
}

// WriteDiagnostics is the audit trail of one section's write/validate loop
type WriteDiagnostics struct {
	Attempts []WriteAttempt `json:"attempts"`
}

// SectionWriteDiagnostics pairs a section's writer mode with its validation trail
type SectionWriteDiagnostics struct {
	WriterMode string            `json:"writer_mode"`
	Validation *WriteDiagnostics `json:"validation"`
}

// TokenUsage is a rough accounting of writer-call volume for one WRITE run
type TokenUsage struct {
	WriterCalls          int `json:"writer_calls"`
	EstimatedPromptChars int `json:"estimated_prompt_chars"`
}

// WriteRunDiagnostics is the DRAFTED artifact's diagnostics body
type WriteRunDiagnostics struct {
	ExtractedContext *StructuredContext                  `json:"extracted_context"`
	Sections         map[string]*SectionWriteDiagnostics `json:"sections"`
	TokenUsage       TokenUsage                          `json:"token_usage"`
}

// RetrieveMeta summarizes which sections a RETRIEVE run covered
type RetrieveMeta struct {
	RequestedSections []string `json:"requested_sections"`
	ReturnedSections  []string `json:"returned_sections"`
	TopK              int      `json:"top_k"`
}
