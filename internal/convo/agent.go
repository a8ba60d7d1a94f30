// Package convo drives the scripted dialogue on one call leg and exposes
// the structured signals the orchestrator acts on: the transfer decision,
// the briefing summary, and representative readiness.
package convo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voicelane/warmline/internal/brain"
	"github.com/voicelane/warmline/internal/callsession"
	"github.com/voicelane/warmline/internal/lookup"
)

// Script is the customization surface for one agent role.
type Script struct {
	Role            brain.Role
	Greeting        string
	CompanyName     string
	ProductName     string
	PhoneNumber     string
	CompetitorNames []string
}

// DefaultCompetitors are the products we carry comparison data for.
var DefaultCompetitors = []string{"Snowflake", "Databricks", "Sigma"}

// TurnOutcome summarizes what one customer/representative utterance
// produced.
type TurnOutcome struct {
	Decision  Reason
	RepReady  bool
	Voicemail bool
}

// Agent runs the dialogue for one leg. It never owns the leg's event
// stream: the orchestrator's control loop feeds utterances in and acts on
// the returned outcome, keeping session state single-consumer.
type Agent struct {
	session       *callsession.Session
	adapter       brain.Adapter
	store         lookup.Store
	script        Script
	logger        *zap.Logger
	lookupTimeout time.Duration

	state   *State
	speaker Speaker
}

func NewAgent(
	session *callsession.Session,
	adapter brain.Adapter,
	store lookup.Store,
	script Script,
	lookupTimeout time.Duration,
	logger *zap.Logger,
) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(script.CompetitorNames) == 0 {
		script.CompetitorNames = DefaultCompetitors
	}
	if lookupTimeout <= 0 {
		lookupTimeout = 2 * time.Second
	}
	speaker := SpeakerCustomer
	if script.Role == brain.RoleBriefingPresenter {
		speaker = SpeakerRepresentative
	}
	return &Agent{
		session:       session,
		adapter:       adapter,
		store:         store,
		script:        script,
		logger:        logger,
		lookupTimeout: lookupTimeout,
		state:         NewState(),
		speaker:       speaker,
	}
}

func (a *Agent) State() *State { return a.state }

// Start opens the dialogue: contact enrichment first, then the greeting.
// Lookup failures degrade to a generic greeting and are never surfaced to
// the caller.
func (a *Agent) Start(ctx context.Context) error {
	if a.script.Role == brain.RoleOutboundQualifier && a.script.PhoneNumber != "" {
		a.enrichFromLookup(ctx)
	}

	greeting := a.buildGreeting()
	a.state.Append(SpeakerAssistant, greeting)
	if err := a.session.Say(ctx, greeting); err != nil {
		return fmt.Errorf("speak greeting: %w", err)
	}
	return nil
}

// HandleUtterance processes one transcribed utterance from the remote
// party: updates state, runs trigger matching, asks the capability for the
// next spoken line, and reports structured outcomes.
func (a *Agent) HandleUtterance(ctx context.Context, text string) (TurnOutcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return TurnOutcome{}, nil
	}
	a.state.Append(a.speaker, text)

	if a.script.Role == brain.RoleOutboundQualifier {
		if comp := a.matchCompetitor(text); comp != "" {
			a.fetchCompetitive(ctx, comp)
		}
		if level := matchInterest(text); level != "" {
			a.state.SetInterest(level)
		}
		// Only a fresh match triggers the transfer path; once a decision
		// has been made and acted on the conversation just continues.
		if a.state.Decision() == ReasonNone {
			if reason := a.DecideTransfer(); reason != ReasonNone {
				a.state.SetDecision(reason)
				return TurnOutcome{Decision: a.state.Decision()}, nil
			}
		}
	}

	reply, err := a.adapter.NextTurn(ctx, brain.TurnRequest{
		SessionID:  a.session.ID(),
		Role:       a.script.Role,
		Script:     a.script.Greeting,
		Context:    a.turnContext(),
		Transcript: a.brainTranscript(),
	})
	if err != nil {
		// The conversation survives a bad capability turn; keep listening.
		a.logger.Warn("capability turn failed", zap.Error(err))
		return TurnOutcome{}, nil
	}

	outcome := TurnOutcome{
		RepReady:  reply.HasIntent(brain.IntentReadyToConnect),
		Voicemail: reply.HasIntent(brain.IntentVoicemailDetected),
	}
	if reply.Text != "" {
		a.state.Append(SpeakerAssistant, reply.Text)
		if err := a.session.Say(ctx, reply.Text); err != nil {
			if errors.Is(err, callsession.ErrLegEnded) {
				return outcome, nil
			}
			return outcome, fmt.Errorf("speak reply: %w", err)
		}
	}
	return outcome, nil
}

// Transfer criteria in fixed priority order; the first match wins.
var transferCriteria = []struct {
	reason  Reason
	topic   string
	pattern *regexp.Regexp
}{
	{ReasonExplicitRequest, "speak with a person",
		regexp.MustCompile(`(?i)\b(speak|talk)\s+(to|with)\s+(a\s+|your\s+)?(human|someone|person|agent|supervisor|sales\s*rep(resentative)?)\b`)},
	{ReasonPricing, "pricing",
		regexp.MustCompile(`(?i)\b(pricing|price|quote|cost|how much|demo)\b`)},
	{ReasonEnterprise, "enterprise terms",
		regexp.MustCompile(`(?i)\b(enterprise|contract|procurement|msa|sla|terms)\b`)},
	{ReasonTechnical, "technical integration",
		regexp.MustCompile(`(?i)\b(integrat\w*|api|sso|security review|architecture|deploy\w*|on.?prem)\b`)},
	{ReasonBuyingIntent, "ready to buy",
		regexp.MustCompile(`(?i)\b(ready to (buy|purchase|sign)|sign up|move forward|let'?s do (it|this)|where do i sign)\b`)},
	{ReasonObjection, "objection to work through",
		regexp.MustCompile(`(?i)\b(too expensive|cheaper|competitor offer|not convinced|negotiate|discount)\b`)},
}

// Interest signals, strongest first. The latest matching utterance
// overrides the level carried on the contact record.
var interestSignals = []struct {
	level   string
	pattern *regexp.Regexp
}{
	{"high", regexp.MustCompile(`(?i)\b(very interested|definitely|sounds (great|good|perfect)|excited|exactly what we need)\b`)},
	{"low", regexp.MustCompile(`(?i)\b(not interested|no thanks|stop calling|remove me|bad time|maybe later)\b`)},
}

func matchInterest(text string) string {
	for _, sig := range interestSignals {
		if sig.pattern.MatchString(text) {
			return sig.level
		}
	}
	return ""
}

// DecideTransfer evaluates the accumulated customer utterances against the
// transfer criteria. Criteria are checked in priority order and the first
// satisfied one short-circuits.
func (a *Agent) DecideTransfer() Reason {
	if d := a.state.Decision(); d != ReasonNone {
		return d
	}
	snap := a.state.Snapshot()
	for _, c := range transferCriteria {
		for _, u := range snap.Utterances {
			if u.Speaker != SpeakerCustomer {
				continue
			}
			if c.pattern.MatchString(u.Text) {
				a.state.AddTopic(c.topic)
				return c.reason
			}
		}
	}
	return ReasonNone
}

// retryLookup runs one bounded attempt and, on a transient failure, one
// more. Not-found is definitive and never retried.
func retryLookup[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := fn(lctx)
	if err == nil || errors.Is(err, lookup.ErrNotFound) || lctx.Err() != nil {
		return out, err
	}
	return fn(lctx)
}

func (a *Agent) enrichFromLookup(ctx context.Context) {
	contact, err := retryLookup(ctx, a.lookupTimeout, func(lctx context.Context) (lookup.ContactRecord, error) {
		return a.store.Contact(lctx, a.script.PhoneNumber)
	})
	switch {
	case err == nil:
		a.state.SetContact(contact)
	case errors.Is(err, lookup.ErrNotFound):
		a.logger.Info("no contact record, using generic greeting",
			zap.String("phone", a.script.PhoneNumber))
		return
	default:
		a.logger.Warn("contact lookup degraded, continuing without enrichment",
			zap.String("phone", a.script.PhoneNumber), zap.Error(err))
		return
	}

	summary, err := retryLookup(ctx, a.lookupTimeout, func(lctx context.Context) (string, error) {
		return a.store.PreviousConversation(lctx, a.script.PhoneNumber)
	})
	if err == nil {
		a.state.SetPreviousSummary(summary)
	} else if !errors.Is(err, lookup.ErrNotFound) {
		a.logger.Warn("previous conversation lookup degraded",
			zap.String("phone", a.script.PhoneNumber), zap.Error(err))
	}
}

func (a *Agent) fetchCompetitive(ctx context.Context, name string) {
	rec, err := retryLookup(ctx, a.lookupTimeout, func(lctx context.Context) (lookup.ProductRecord, error) {
		return a.store.Product(lctx, name)
	})
	if err != nil {
		if !errors.Is(err, lookup.ErrNotFound) {
			a.logger.Warn("product lookup degraded, continuing without comparison",
				zap.String("competitor", name), zap.Error(err))
		}
		return
	}
	a.state.AddCompetitive(rec)
	a.state.AddTopic("currently evaluating " + rec.Name)
}

func (a *Agent) matchCompetitor(text string) string {
	for _, name := range a.script.CompetitorNames {
		if containsFold(text, name) {
			return name
		}
	}
	return ""
}

func (a *Agent) buildGreeting() string {
	if a.script.Role == brain.RoleBriefingPresenter {
		return a.script.Greeting
	}
	snap := a.state.Snapshot()
	if snap.Contact == nil || snap.Contact.Name == "" {
		if a.script.Greeting != "" {
			return a.script.Greeting
		}
		return fmt.Sprintf("Hi, this is an assistant calling from %s. You recently requested information about our platform. Is now a good time for a quick chat?", a.script.CompanyName)
	}

	g := fmt.Sprintf("Hi %s, this is an assistant calling from %s.", firstName(snap.Contact.Name), a.script.CompanyName)
	if snap.PrevSummary != "" {
		g += " I wanted to follow up on our previous conversation."
	} else {
		g += " You recently requested information about our platform."
	}
	g += " Is now a good time for a quick chat?"
	return g
}

func (a *Agent) turnContext() []string {
	snap := a.state.Snapshot()
	var out []string
	if snap.Contact != nil {
		out = append(out, fmt.Sprintf("contact: %s (%s)", snap.Contact.Name, snap.Contact.Company))
	}
	if snap.PrevSummary != "" {
		out = append(out, "previous conversation: "+snap.PrevSummary)
	}
	for _, p := range snap.Competitive {
		out = append(out, fmt.Sprintf("competitor %s: %s", p.Name, p.Differentiation))
	}
	return out
}

func (a *Agent) brainTranscript() []brain.Utterance {
	snap := a.state.Snapshot()
	out := make([]brain.Utterance, 0, len(snap.Utterances))
	for _, u := range snap.Utterances {
		out = append(out, brain.Utterance{Speaker: string(u.Speaker), Text: u.Text})
	}
	return out
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func firstName(full string) string {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return full
	}
	return parts[0]
}
