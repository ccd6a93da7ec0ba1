// File path: internal/document/document.go
package document

import "strings"

// Role identifies which shipping document a file represents.
type Role string

const (
	RoleBL      Role = "bl"
	RoleInvoice Role = "invoice"
	RolePacking Role = "packing"
	RoleUnknown Role = "unknown"
)

// ParseRole normalizes a user-supplied document type string. Anything it does
// not recognize maps to RoleUnknown rather than an error so that upload and
// extraction requests with a sloppy doc_type still proceed.
func ParseRole(value string) Role {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "bl", "bill_of_lading", "bill-of-lading":
		return RoleBL
	case "invoice", "commercial_invoice":
		return RoleInvoice
	case "packing", "packing_list", "packing-list":
		return RolePacking
	default:
		return RoleUnknown
	}
}

// Label returns the display name used in comparison details.
func (r Role) Label() string {
	switch r {
	case RoleBL:
		return "BL"
	case RoleInvoice:
		return "Invoice"
	case RolePacking:
		return "Packing"
	default:
		return "Unknown"
	}
}

// Record is the normalized field set extracted from one shipping document.
// Every data field is independently nullable; absence is a valid state and
// never implies anything about the other fields. The diagnostic fields
// (RawText, ExtractionMethod, Confidence) never participate in comparison.
type Record struct {
	ShipperName  *string `json:"shipper_name"`
	Consignee    *string `json:"consignee"`
	CNPJ         *string `json:"cnpj"`
	Localization *string `json:"localization"`

	// Classification codes carry one or more fixed-width numeric codes in
	// document order, distinct values only, joined by "/".
	NCM4 *string `json:"ncm_4d"`
	NCM8 *string `json:"ncm_8d"`

	Packages    *int     `json:"packages"`
	GrossWeight *float64 `json:"gross_weight"`
	CBM         *float64 `json:"cbm"`

	RawText          *string  `json:"raw_text,omitempty"`
	ExtractionMethod string   `json:"extraction_method,omitempty"`
	Confidence       *float64 `json:"confidence,omitempty"`
}

// Failed constructs the record an extractor returns when it cannot produce
// data: every field null, the method string carrying the error description,
// confidence pinned to zero. Extraction failures surface this way instead of
// propagating an error so a single bad document never blocks the workflow.
func Failed(method string) *Record {
	zero := 0.0
	return &Record{ExtractionMethod: method, Confidence: &zero}
}

// FailedExtraction reports whether the record is an absorbed failure rather
// than real extraction output.
func (r *Record) FailedExtraction() bool {
	return r != nil && r.Confidence != nil && *r.Confidence == 0
}

// Clone returns a deep copy. Cache reads hand out clones so callers can never
// mutate an entry another request is about to serve.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.ShipperName = cloneString(r.ShipperName)
	out.Consignee = cloneString(r.Consignee)
	out.CNPJ = cloneString(r.CNPJ)
	out.Localization = cloneString(r.Localization)
	out.NCM4 = cloneString(r.NCM4)
	out.NCM8 = cloneString(r.NCM8)
	if r.Packages != nil {
		v := *r.Packages
		out.Packages = &v
	}
	if r.GrossWeight != nil {
		v := *r.GrossWeight
		out.GrossWeight = &v
	}
	if r.CBM != nil {
		v := *r.CBM
		out.CBM = &v
	}
	out.RawText = cloneString(r.RawText)
	if r.Confidence != nil {
		v := *r.Confidence
		out.Confidence = &v
	}
	return &out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
