package convo

import (
	"strings"
	"testing"

	"github.com/voicelane/warmline/internal/lookup"
)

func TestBriefingContainsReasonAndIdentity(t *testing.T) {
	s := NewState()
	s.SetContact(lookup.ContactRecord{Name: "Sarah Johnson", Company: "TechStart Inc", InterestLevel: "high"})
	s.Append(SpeakerCustomer, "I want to talk to pricing")
	s.AddTopic("pricing")
	s.SetDecision(ReasonPricing)

	got := ProduceBriefing(s.Snapshot(), "CloudAnalytics AI")

	for _, want := range []string{"Sarah Johnson", "TechStart Inc", "pricing", "high"} {
		if !strings.Contains(got, want) {
			t.Fatalf("briefing missing %q:\n%s", want, got)
		}
	}
}

func TestBriefingAnonymousCustomer(t *testing.T) {
	s := NewState()
	s.SetDecision(ReasonTechnical)

	got := ProduceBriefing(s.Snapshot(), "CloudAnalytics AI")
	if !strings.Contains(got, "a potential customer") {
		t.Fatalf("briefing should introduce an unknown customer generically:\n%s", got)
	}
	if !strings.Contains(got, "technical integration") {
		t.Fatalf("briefing missing transfer reason:\n%s", got)
	}
}

func TestBriefingFrozenAtDecision(t *testing.T) {
	s := NewState()
	s.Append(SpeakerCustomer, "How much does it cost?")
	s.SetDecision(ReasonPricing)
	frozen := s.Snapshot()

	// Anything said while the customer waits on hold must not leak into
	// the briefing.
	s.Append(SpeakerCustomer, "my credit card number is 4111 1111 1111 1111")

	got := ProduceBriefing(frozen, "CloudAnalytics AI")
	if strings.Contains(got, "4111") {
		t.Fatalf("briefing leaked post-decision content:\n%s", got)
	}
}

func TestFirstDecisionWins(t *testing.T) {
	s := NewState()
	s.SetDecision(ReasonPricing)
	s.SetDecision(ReasonObjection)
	if s.Decision() != ReasonPricing {
		t.Fatalf("Decision = %q, want %q", s.Decision(), ReasonPricing)
	}
}
