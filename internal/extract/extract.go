package extract

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Fields holds the structured values pulled out of recognized invoice text.
// A nil field means no match was found.
type Fields struct {
	TaxID *string  `json:"cnpj"`
	Date  *string  `json:"data"`
	Total *float64 `json:"total"`
}

var (
	reTabsCR     = regexp.MustCompile(`[\t\r]+`)
	reMultiSpace = regexp.MustCompile(`\s{2,}`)

	reTaxID        = regexp.MustCompile(`\b\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2}\b`)
	reTaxIDLabeled = regexp.MustCompile(`CNPJ[\s:.\-]*(\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2})`)

	reDate        = regexp.MustCompile(`\b\d{1,2}[-/]\d{1,2}[-/]\d{4}\b`)
	reDateLabeled = regexp.MustCompile(`(?:DATA|EMISS[AÃ]O)[\s:.\-]*(\d{1,2}[-/]\d{1,2}[-/]\d{4})`)

	// Label order only breaks ties at the same offset; the leftmost label wins.
	reTotal = regexp.MustCompile(
		`\b(?:VALOR TOTAL|VALOR A PAGAR|TOTAL A PAGAR|VALOR L[IÍ]QUIDO|TOTAL)\D*?` +
			`(\d{1,3}(?:\.\d{3})*[.,]\d{2}|\d{1,3}(?:,\d{3})*[.,]\d{2})\b`,
	)

	reTaxIDSeparators = regexp.MustCompile(`[./\-]`)
)

// Extract parses tax ID, date and total out of recognized text.
// It never fails: anything it cannot find is left nil.
func Extract(text string) Fields {
	normalized := normalizeText(text)
	return Fields{
		TaxID: findTaxID(normalized),
		Date:  findDate(normalized),
		Total: findTotal(normalized),
	}
}

// JSON renders the fields as an indented document for export.
func (f Fields) JSON() ([]byte, error) {
	return json.MarshalIndent(f, "", "  ")
}

// IsEmpty reports whether no field was found.
func (f Fields) IsEmpty() bool {
	return f.TaxID == nil && f.Date == nil && f.Total == nil
}

func normalizeText(text string) string {
	text = reTabsCR.ReplaceAllString(text, " ")
	text = reMultiSpace.ReplaceAllString(text, " ")
	return strings.ToUpper(text)
}

func findTaxID(text string) *string {
	raw := reTaxID.FindString(text)
	if raw == "" {
		m := reTaxIDLabeled.FindStringSubmatch(text)
		if m == nil {
			return nil
		}
		raw = m[1]
	}
	return ptr(formatTaxID(raw))
}

// formatTaxID renders 14 digits as DD.DDD.DDD/DDDD-DD. Anything else is
// returned untouched.
func formatTaxID(raw string) string {
	digits := reTaxIDSeparators.ReplaceAllString(raw, "")
	if len(digits) != 14 {
		return raw
	}
	return digits[0:2] + "." + digits[2:5] + "." + digits[5:8] + "/" + digits[8:12] + "-" + digits[12:14]
}

func findDate(text string) *string {
	if d := reDate.FindString(text); d != "" {
		return ptr(d)
	}
	if m := reDateLabeled.FindStringSubmatch(text); m != nil {
		return ptr(m[1])
	}
	return nil
}

func findTotal(text string) *float64 {
	m := reTotal.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, err := parseAmount(m[1])
	if err != nil {
		return nil
	}
	return &v
}

// parseAmount turns "1.234,56" or "1,234.56" into a float. The separator
// three characters from the end is the decimal point.
func parseAmount(s string) (float64, error) {
	if len(s) >= 3 && s[len(s)-3] == ',' {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}
	return strconv.ParseFloat(s, 64)
}

func ptr[T any](v T) *T {
	return &v
}
