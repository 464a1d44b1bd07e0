package models

// ReportStatus is the overall verdict of a validation or review run
type ReportStatus string

const (
	ReportStatusPass ReportStatus = "pass"
	ReportStatusFail ReportStatus = "fail"
)

// SectionFindings groups validation failure reasons for one section
type SectionFindings struct {
	Section string   `json:"section"`
	Reasons []string `json:"reasons"`
}

// ValidationReport is the VALIDATED artifact body
type ValidationReport struct {
	Status   ReportStatus      `json:"status"`
	Findings []SectionFindings `json:"findings"`
}

// ReviewFinding is one issue raised during REVIEW. Critical findings fail the
// review; advisory findings never do.
type ReviewFinding struct {
	Severity       string `json:"severity"`
	Type           string `json:"type"`
	Section        string `json:"section"`
	Evidence       string `json:"evidence"`
	Recommendation string `json:"recommendation"`
}

const (
	SeverityCritical = "critical"
	SeverityAdvisory = "advisory"
)

// ReviewReport is the REVIEWED artifact body. Guardrail findings land in
// Findings with advisory severity: they are surfaced for the human reviewer but
// never flip the status.
type ReviewReport struct {
	Status   ReportStatus    `json:"status"`
	Findings []ReviewFinding `json:"findings"`
}
