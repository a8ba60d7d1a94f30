package policy

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// RedactPII masks common high-risk PII patterns before a conversation
// summary is persisted or spoken to a representative.
func RedactPII(input string) (redacted string, changed bool) {
	return RedactPIIExcept(input)
}

// RedactPIIExcept behaves like RedactPII but leaves the listed phone
// numbers in place. Summaries are stored keyed by the customer's own
// number, so masking that number only destroys context.
func RedactPIIExcept(input string, keepNumbers ...string) (redacted string, changed bool) {
	kept := make(map[string]bool, len(keepNumbers))
	for _, n := range keepNumbers {
		if d := digitsOnly(n); d != "" {
			kept[d] = true
		}
	}

	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Run card redaction before phone to avoid card numbers being classified as phone.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllStringFunc(out, func(m string) string {
		if kept[digitsOnly(m)] {
			return m
		}
		return "[REDACTED_PHONE]"
	})
	changed = changed || next != out
	out = next

	return out, changed
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
