// File path: internal/compare/compare.go
package compare

import (
	"math"
	"strings"

	"github.com/comexa/docverifier/internal/cnpj"
	"github.com/comexa/docverifier/internal/document"
)

// Comparison detail statuses.
const (
	StatusMatch    = "match"
	StatusMismatch = "mismatch"
)

// NumericTolerance is the relative deviation allowed for weight and volume
// figures, which legitimately drift a little between carrier and seller
// paperwork.
const NumericTolerance = 0.02

// Detail records the outcome of one field check: the field's display name,
// the raw value each document supplied, and whether they agreed.
type Detail struct {
	Field  string                 `json:"field"`
	Values map[string]interface{} `json:"values"`
	Status string                 `json:"status"`
}

// Report is the aggregate result of cross-checking a document set.
type Report struct {
	TotalChecks int      `json:"total_checks"`
	Passed      int      `json:"passed"`
	Failed      int      `json:"failed"`
	Warnings    int      `json:"warnings"`
	Details     []Detail `json:"details"`
}

type fieldKind int

const (
	kindText fieldKind = iota
	kindTaxID
	kindNumeric
)

// fieldSpec describes how one field is collected and judged. Classification
// fields carry the both-documents requirement: a code present on only one of
// the two mandatory documents is a compliance failure, not a data gap.
type fieldSpec struct {
	label          string
	kind           fieldKind
	tolerance      float64
	withPacking    bool
	classification bool
	value          func(*document.Record) (interface{}, bool)
}

func stringField(get func(*document.Record) *string) func(*document.Record) (interface{}, bool) {
	return func(r *document.Record) (interface{}, bool) {
		if r == nil {
			return nil, false
		}
		if v := get(r); v != nil {
			return *v, true
		}
		return nil, false
	}
}

var fieldSpecs = []fieldSpec{
	{
		label: "Shipper Name",
		kind:  kindText,
		value: stringField(func(r *document.Record) *string { return r.ShipperName }),
	},
	{
		label:       "Consignee",
		kind:        kindText,
		withPacking: true,
		value:       stringField(func(r *document.Record) *string { return r.Consignee }),
	},
	{
		label: "CNPJ",
		kind:  kindTaxID,
		value: stringField(func(r *document.Record) *string { return r.CNPJ }),
	},
	{
		label:          "NCM 4 Digits",
		kind:           kindText,
		classification: true,
		value:          stringField(func(r *document.Record) *string { return r.NCM4 }),
	},
	{
		label:          "NCM 8 Digits",
		kind:           kindText,
		classification: true,
		value:          stringField(func(r *document.Record) *string { return r.NCM8 }),
	},
	{
		label:       "Number of Packages",
		kind:        kindNumeric,
		withPacking: true,
		value: func(r *document.Record) (interface{}, bool) {
			if r == nil || r.Packages == nil {
				return nil, false
			}
			return *r.Packages, true
		},
	},
	{
		label:       "Gross Weight (kg)",
		kind:        kindNumeric,
		tolerance:   NumericTolerance,
		withPacking: true,
		value: func(r *document.Record) (interface{}, bool) {
			if r == nil || r.GrossWeight == nil {
				return nil, false
			}
			return *r.GrossWeight, true
		},
	},
	{
		label:       "CBM (m³)",
		kind:        kindNumeric,
		tolerance:   NumericTolerance,
		withPacking: true,
		value: func(r *document.Record) (interface{}, bool) {
			if r == nil || r.CBM == nil {
				return nil, false
			}
			return *r.CBM, true
		},
	},
}

type collected struct {
	role  string
	value interface{}
}

// Compare cross-checks the extracted records field by field. The packing
// record may be nil; fields that would include it then fall back to BL and
// Invoice only. Fields no document supplied are skipped and never counted.
func Compare(bl, invoice, packing *document.Record) *Report {
	report := &Report{Details: make([]Detail, 0, len(fieldSpecs))}

	for _, spec := range fieldSpecs {
		sources := []struct {
			role   string
			record *document.Record
		}{
			{document.RoleBL.Label(), bl},
			{document.RoleInvoice.Label(), invoice},
		}
		if spec.withPacking && packing != nil {
			sources = append(sources, struct {
				role   string
				record *document.Record
			}{document.RolePacking.Label(), packing})
		}

		values := make([]collected, 0, len(sources))
		for _, src := range sources {
			if v, ok := spec.value(src.record); ok {
				values = append(values, collected{role: src.role, value: v})
			}
		}
		if len(values) == 0 {
			continue
		}

		if spec.classification && !coversMandatoryRoles(values) {
			report.TotalChecks++
			report.Failed++
			report.Details = append(report.Details, newDetail(spec.label, values, StatusMismatch))
			continue
		}

		report.TotalChecks++
		var match bool
		switch spec.kind {
		case kindText:
			match = textMatch(values)
		case kindTaxID:
			match = taxIDMatch(values)
		case kindNumeric:
			match = numericMatch(values, spec.tolerance)
		}

		status := StatusMismatch
		if match {
			report.Passed++
			status = StatusMatch
		} else {
			report.Failed++
		}
		report.Details = append(report.Details, newDetail(spec.label, values, status))
	}

	return report
}

func newDetail(field string, values []collected, status string) Detail {
	byRole := make(map[string]interface{}, len(values))
	for _, v := range values {
		byRole[v.role] = v.value
	}
	return Detail{Field: field, Values: byRole, Status: status}
}

// coversMandatoryRoles reports whether both legally required documents
// supplied a value.
func coversMandatoryRoles(values []collected) bool {
	var bl, invoice bool
	for _, v := range values {
		switch v.role {
		case document.RoleBL.Label():
			bl = true
		case document.RoleInvoice.Label():
			invoice = true
		}
	}
	return bl && invoice
}

func textMatch(values []collected) bool {
	first := ""
	for i, v := range values {
		s, _ := v.value.(string)
		normalized := strings.ToLower(strings.TrimSpace(s))
		if i == 0 {
			first = normalized
			continue
		}
		if normalized != first {
			return false
		}
	}
	return true
}

func taxIDMatch(values []collected) bool {
	first := ""
	for i, v := range values {
		s, _ := v.value.(string)
		cleaned := cnpj.Normalize(s)
		if i == 0 {
			first = cleaned
			continue
		}
		if cleaned != first {
			return false
		}
	}
	return true
}

func numericMatch(values []collected, tolerance float64) bool {
	nums := make([]float64, 0, len(values))
	for _, v := range values {
		switch n := v.value.(type) {
		case float64:
			nums = append(nums, n)
		case int:
			nums = append(nums, float64(n))
		}
	}
	if len(nums) == 0 {
		return false
	}

	if tolerance == 0 {
		for _, n := range nums[1:] {
			if n != nums[0] {
				return false
			}
		}
		return true
	}

	var sum float64
	for _, n := range nums {
		sum += n
	}
	mean := sum / float64(len(nums))
	if mean == 0 {
		for _, n := range nums {
			if n != 0 {
				return false
			}
		}
		return true
	}
	for _, n := range nums {
		if math.Abs(n-mean)/mean > tolerance {
			return false
		}
	}
	return true
}
