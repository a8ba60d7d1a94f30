// Package brain adapts the external conversational capability: given the
// transcript so far and a script configuration it produces the next spoken
// utterance plus structured intent signals. It is invoked once per turn and
// treated as a pure function of its inputs.
package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Role selects which side of the transfer the agent is speaking to.
type Role string

const (
	RoleOutboundQualifier Role = "outbound-qualifier"
	RoleBriefingPresenter Role = "briefing-presenter"
)

// Utterance is one speaker-tagged transcript entry.
type Utterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// TurnRequest carries everything the capability needs for one turn.
type TurnRequest struct {
	SessionID  string      `json:"session_id"`
	Role       Role        `json:"role"`
	Script     string      `json:"script"`
	Context    []string    `json:"context,omitempty"`
	Transcript []Utterance `json:"transcript"`
}

// TurnReply is the produced utterance plus detected intents.
type TurnReply struct {
	Text    string   `json:"text"`
	Intents []string `json:"intents,omitempty"`
}

// Well-known intent labels surfaced by the capability.
const (
	IntentReadyToConnect    = "ready_to_connect"
	IntentVoicemailDetected = "voicemail_detected"
)

// Adapter produces the next turn of a conversation.
type Adapter interface {
	NextTurn(ctx context.Context, req TurnRequest) (TurnReply, error)
}

// Config controls adapter construction.
type Config struct {
	Mode    string
	HTTPURL string
}

func New(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPAdapter(cfg.HTTPURL), nil
		}
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("brain HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported brain adapter mode %q", cfg.Mode)
	}
}

// HasIntent reports whether the reply carries the named intent.
func (r TurnReply) HasIntent(name string) bool {
	for _, it := range r.Intents {
		if strings.EqualFold(strings.TrimSpace(it), name) {
			return true
		}
	}
	return false
}
