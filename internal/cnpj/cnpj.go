// File path: internal/cnpj/cnpj.go
package cnpj

import "strings"

// Check-digit weights for the two mod-11 passes over a CNPJ.
var (
	firstDigitWeights  = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	secondDigitWeights = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// Validation is the offline verification block attached to workflow reports.
type Validation struct {
	CNPJ      string `json:"cnpj"`
	Formatted string `json:"formatted"`
	Valid     bool   `json:"valid"`
}

// Normalize strips everything but digits from a tax identifier.
func Normalize(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Valid reports whether the identifier carries a correct CNPJ checksum. The
// input may be punctuated or raw digits. Never panics: malformed input simply
// yields false.
func Valid(id string) bool {
	digits := Normalize(id)
	if len(digits) != 14 {
		return false
	}
	if allSame(digits) {
		return false
	}
	first := checkDigit(digits[:12], firstDigitWeights)
	second := checkDigit(digits[:13], secondDigitWeights)
	return int(digits[12]-'0') == first && int(digits[13]-'0') == second
}

// Format re-inserts the conventional XX.XXX.XXX/XXXX-XX punctuation. Inputs
// that do not clean up to exactly 14 digits come back unchanged.
func Format(id string) string {
	digits := Normalize(id)
	if len(digits) != 14 {
		return id
	}
	return digits[:2] + "." + digits[2:5] + "." + digits[5:8] + "/" + digits[8:12] + "-" + digits[12:]
}

// Check bundles the checksum result into the report-facing validation block.
func Check(id string) Validation {
	digits := Normalize(id)
	return Validation{
		CNPJ:      digits,
		Formatted: Format(id),
		Valid:     Valid(id),
	}
}

func checkDigit(digits string, weights []int) int {
	total := 0
	for i, w := range weights {
		total += int(digits[i]-'0') * w
	}
	remainder := total % 11
	if remainder < 2 {
		return 0
	}
	return 11 - remainder
}

func allSame(digits string) bool {
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			return false
		}
	}
	return true
}
