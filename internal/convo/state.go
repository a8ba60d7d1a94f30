package convo

import (
	"sync"
	"time"

	"github.com/voicelane/warmline/internal/lookup"
)

type Speaker string

const (
	SpeakerCustomer       Speaker = "customer"
	SpeakerAssistant      Speaker = "assistant"
	SpeakerRepresentative Speaker = "representative"
)

type Utterance struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Reason identifies which transfer criterion matched. Empty means no
// transfer has been requested.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonExplicitRequest Reason = "explicit_request"
	ReasonPricing         Reason = "pricing"
	ReasonEnterprise      Reason = "enterprise"
	ReasonTechnical       Reason = "technical"
	ReasonBuyingIntent    Reason = "buying_intent"
	ReasonObjection       Reason = "objection"
)

// State accumulates one conversation: the ordered transcript, extracted
// qualification signals, and the transfer decision. It is mutated only by
// its owning agent and snapshot-read by the orchestrator.
type State struct {
	mu          sync.Mutex
	utterances  []Utterance
	topics      []string
	interest    string
	decision    Reason
	contact     *lookup.ContactRecord
	prevSummary string
	competitive []lookup.ProductRecord
}

// Snapshot is an immutable copy of the conversation at one instant.
type Snapshot struct {
	Utterances  []Utterance
	Topics      []string
	Interest    string
	Decision    Reason
	Contact     *lookup.ContactRecord
	PrevSummary string
	Competitive []lookup.ProductRecord
}

func NewState() *State { return &State{} }

func (s *State) Append(speaker Speaker, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utterances = append(s.utterances, Utterance{Speaker: speaker, Text: text, At: time.Now().UTC()})
}

func (s *State) AddTopic(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.topics {
		if t == topic {
			return
		}
	}
	s.topics = append(s.topics, topic)
}

func (s *State) SetInterest(level string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interest = level
}

func (s *State) SetContact(rec lookup.ContactRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := rec
	s.contact = &c
	if rec.InterestLevel != "" {
		s.interest = rec.InterestLevel
	}
}

func (s *State) SetPreviousSummary(summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prevSummary = summary
}

func (s *State) AddCompetitive(rec lookup.ProductRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.competitive {
		if p.Name == rec.Name {
			return
		}
	}
	s.competitive = append(s.competitive, rec)
}

// SetDecision records the transfer decision. The first decision wins;
// later matches never overwrite it.
func (s *State) SetDecision(reason Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decision == ReasonNone {
		s.decision = reason
	}
}

func (s *State) Decision() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decision
}

// Snapshot returns a deep copy safe to read after the conversation moves on.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Utterances:  make([]Utterance, len(s.utterances)),
		Topics:      make([]string, len(s.topics)),
		Interest:    s.interest,
		Decision:    s.decision,
		PrevSummary: s.prevSummary,
		Competitive: make([]lookup.ProductRecord, len(s.competitive)),
	}
	copy(snap.Utterances, s.utterances)
	copy(snap.Topics, s.topics)
	copy(snap.Competitive, s.competitive)
	if s.contact != nil {
		c := *s.contact
		snap.Contact = &c
	}
	return snap
}
