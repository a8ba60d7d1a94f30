package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when no capability
// endpoint is configured.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) NextTurn(ctx context.Context, req TurnRequest) (TurnReply, error) {
	select {
	case <-ctx.Done():
		return TurnReply{}, ctx.Err()
	default:
	}

	last := lastUtterance(req.Transcript)
	reply := TurnReply{}

	switch req.Role {
	case RoleBriefingPresenter:
		lower := strings.ToLower(last)
		switch {
		case strings.Contains(lower, "voicemail") || strings.Contains(lower, "after the tone"):
			reply.Intents = append(reply.Intents, IntentVoicemailDetected)
		case strings.Contains(lower, "ready") || strings.Contains(lower, "connect me") || strings.Contains(lower, "put them through") || strings.Contains(lower, "go ahead"):
			reply.Text = "Connecting you to the customer now."
			reply.Intents = append(reply.Intents, IntentReadyToConnect)
		case last == "":
			reply.Text = strings.TrimSpace(req.Script)
		default:
			reply.Text = "Happy to fill in any detail before I connect you."
		}
	default:
		if last == "" {
			reply.Text = "Hi, thanks for taking my call. Is now a good time for a quick chat?"
		} else {
			reply.Text = fmt.Sprintf("I hear you: %s", last)
		}
	}
	return reply, nil
}

func lastUtterance(transcript []Utterance) string {
	for i := len(transcript) - 1; i >= 0; i-- {
		if t := strings.TrimSpace(transcript[i].Text); t != "" && transcript[i].Speaker != "assistant" {
			return t
		}
	}
	return ""
}
