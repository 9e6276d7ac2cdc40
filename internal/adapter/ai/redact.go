package ai

import (
	"regexp"
	"strings"
)

// PII redaction applied to every payload before it leaves the process.
// Substitution happens value-by-value so structure survives for the model.

const redactedPlaceholder = "[REDACTED]"

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\d[\d\s\-().]{7,}\d`)
	cardRe  = regexp.MustCompile(`\b(?:\d[ \-]?){13,19}\b`)
	// National identifiers: SSN-style and long digit runs.
	nationalIDRe = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b|\b\d{9,11}\b`)
)

// redactedFieldNames is the closed set of payload keys whose values are
// always replaced wholesale, regardless of content.
var redactedFieldNames = map[string]struct{}{
	"email":            {},
	"customer_email":   {},
	"phone":            {},
	"customer_phone":   {},
	"name":             {},
	"customer_name":    {},
	"first_name":       {},
	"last_name":        {},
	"address1":         {},
	"address2":         {},
	"street":           {},
	"national_id":      {},
	"tax_id":           {},
	"card_number":      {},
	"payment_token":    {},
	"delivery_notes":   {},
	"customer_remarks": {},
}

// maxFreeTextLen truncates long free-text strings which tend to carry PII.
const maxFreeTextLen = 256

// RedactText pattern-scrubs a string without truncating it.
func RedactText(s string) string {
	s = emailRe.ReplaceAllString(s, redactedPlaceholder)
	s = cardRe.ReplaceAllString(s, redactedPlaceholder)
	s = nationalIDRe.ReplaceAllString(s, redactedPlaceholder)
	s = phoneRe.ReplaceAllString(s, redactedPlaceholder)
	return s
}

// RedactValue scrubs a single payload string, truncating long free text.
func RedactValue(s string) string {
	s = RedactText(s)
	if len(s) > maxFreeTextLen {
		s = s[:maxFreeTextLen] + "…" + redactedPlaceholder
	}
	return s
}

// RedactMap returns a deep copy of m with PII removed: field-name matches are
// replaced wholesale, every remaining string is pattern-scrubbed.
func RedactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, hit := redactedFieldNames[strings.ToLower(k)]; hit {
			out[k] = redactedPlaceholder
			continue
		}
		out[k] = redactAny(v)
	}
	return out
}

func redactAny(v any) any {
	switch t := v.(type) {
	case string:
		return RedactValue(t)
	case map[string]any:
		return RedactMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = redactAny(e)
		}
		return out
	default:
		return v
	}
}
