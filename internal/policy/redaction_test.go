package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Reach Sarah at sarah@techstart.io or +1 (312) 848-7404 and card 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactPIIExceptKeepsContactNumber(t *testing.T) {
	input := "Call back +1 (312) 848-7404; spouse reachable at +1 (773) 555-0188."
	out, changed := RedactPIIExcept(input, "+13128487404")
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	if !strings.Contains(out, "+1 (312) 848-7404") {
		t.Fatalf("contact number was redacted: %q", out)
	}
	if strings.Contains(out, "773") {
		t.Fatalf("other number survived redaction: %q", out)
	}
}

func TestRedactPIIExceptStillMasksCards(t *testing.T) {
	input := "Card on file 4242 4242 4242 4242 for +1 (312) 848-7404."
	out, _ := RedactPIIExcept(input, "+13128487404")
	if !strings.Contains(out, "[REDACTED_CARD]") {
		t.Fatalf("card number survived: %q", out)
	}
	if !strings.Contains(out, "848-7404") {
		t.Fatalf("contact number was redacted: %q", out)
	}
}

func TestRedactPIICleanSummary(t *testing.T) {
	input := "Customer asked about pricing for a team of 15 and wants a retail demo."
	out, changed := RedactPII(input)
	if changed {
		t.Fatalf("changed = true for clean summary")
	}
	if out != input {
		t.Fatalf("clean summary altered: %q", out)
	}
}
