// File path: internal/report/report.go
package report

import (
	"fmt"

	"github.com/comexa/docverifier/internal/cnpj"
	"github.com/comexa/docverifier/internal/compare"
	"github.com/comexa/docverifier/internal/document"
)

// Workflow is the full verification report produced for one document set. It
// is the unit stored in the workflow cache and persisted to the reports
// directory, so repeated submissions of the same files replay it verbatim.
type Workflow struct {
	Timestamp          string                      `json:"timestamp"`
	DocumentsProcessed []string                    `json:"documents_processed"`
	ExtractedData      map[string]*document.Record `json:"extracted_data"`
	CNPJValidation     *cnpj.Validation            `json:"cnpj_validation"`
	Comparison         *compare.Report             `json:"comparison"`
	Summary            Summary                     `json:"summary"`
}

// Summary condenses the comparison counts for callers that do not need the
// per-field details.
type Summary struct {
	TotalChecks int    `json:"total_checks"`
	Passed      int    `json:"passed"`
	Failed      int    `json:"failed"`
	SuccessRate string `json:"success_rate"`
}

// BuildSummary derives the summary block from a comparison result. The rate
// is rendered as a percentage with one decimal, or "N/A" when every field was
// skipped.
func BuildSummary(c *compare.Report) Summary {
	s := Summary{SuccessRate: "N/A"}
	if c == nil {
		return s
	}
	s.TotalChecks = c.TotalChecks
	s.Passed = c.Passed
	s.Failed = c.Failed
	if c.TotalChecks > 0 {
		s.SuccessRate = fmt.Sprintf("%.1f%%", float64(c.Passed)/float64(c.TotalChecks)*100)
	}
	return s
}
