package convo

import (
	"fmt"
	"strings"
)

// ProduceBriefing builds the handoff summary spoken to the representative.
// The structure is deterministic regardless of how the conversation went.
// It is computed from a snapshot frozen at the transfer decision, so
// nothing said during hold can leak in.
func ProduceBriefing(snap Snapshot, productName string) string {
	var b strings.Builder

	b.WriteString("Hi! I have ")
	switch {
	case snap.Contact != nil && snap.Contact.Name != "":
		b.WriteString(snap.Contact.Name)
		if snap.Contact.Company != "" {
			b.WriteString(" from ")
			b.WriteString(snap.Contact.Company)
		}
	default:
		b.WriteString("a potential customer")
	}
	b.WriteString(" on the line. ")

	b.WriteString(fmt.Sprintf("They were asking about %s and I'm transferring because of a %s matter. ",
		productName, reasonPhrase(snap.Decision)))

	if len(snap.Topics) > 0 {
		b.WriteString("Key needs: ")
		b.WriteString(strings.Join(snap.Topics, "; "))
		b.WriteString(". ")
	}
	if snap.Interest != "" {
		b.WriteString(fmt.Sprintf("Interest level is %s. ", snap.Interest))
	}
	if snap.PrevSummary != "" {
		b.WriteString("We have spoken before: ")
		b.WriteString(snap.PrevSummary)
		b.WriteString(" ")
	}
	for _, p := range snap.Competitive {
		b.WriteString(fmt.Sprintf("They mentioned %s; differentiation notes are in your console. ", p.Name))
	}

	b.WriteString("Say ready when you want me to connect you.")
	return b.String()
}

func reasonPhrase(r Reason) string {
	switch r {
	case ReasonExplicitRequest:
		return "direct request to speak with a person"
	case ReasonPricing:
		return "pricing"
	case ReasonEnterprise:
		return "enterprise terms"
	case ReasonTechnical:
		return "technical integration"
	case ReasonBuyingIntent:
		return "buying intent"
	case ReasonObjection:
		return "negotiation"
	default:
		return "qualification"
	}
}
