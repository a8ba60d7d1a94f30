// Package transfer implements the warm-transfer state machine: one
// customer call qualified by the AI agent, an optional representative leg
// dialed while the customer holds, a briefing, and an audio merge. Each
// session is driven by exactly one control goroutine.
package transfer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicelane/warmline/internal/convo"
)

// State is the lifecycle position of one transfer session.
type State string

const (
	StateQualifying    State = "qualifying"
	StateHoldRequested State = "hold_requested"
	StateDialingRep    State = "dialing_rep"
	StateBriefing      State = "briefing"
	StateMerging       State = "merging"
	StateMerged        State = "merged"
	StateCompleted     State = "completed"

	StateAbortedNoAnswer       State = "aborted_no_answer"
	StateAbortedCustomerLeft   State = "aborted_customer_left"
	StateAbortedBriefingFailed State = "aborted_briefing_failed"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateAbortedNoAnswer, StateAbortedCustomerLeft, StateAbortedBriefingFailed:
		return true
	}
	return false
}

// Session is the aggregate for one outbound call and its transfer attempt.
// At most one representative leg exists per session, and a session that
// reached a terminal state never transitions again.
type Session struct {
	id          string
	destination string
	metadata    map[string]string
	startedAt   time.Time

	mu          sync.Mutex
	state       State
	reason      convo.Reason
	detail      string
	customerLeg string
	repLeg      string
	finishedAt  time.Time

	hangupOnce sync.Once
	hangupCh   chan struct{}
}

// Snapshot is the read model exposed over the HTTP API.
type Snapshot struct {
	ID          string            `json:"id"`
	Destination string            `json:"destination"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	State       State             `json:"state"`
	Reason      string            `json:"transfer_reason,omitempty"`
	Detail      string            `json:"detail,omitempty"`
	CustomerLeg string            `json:"customer_leg,omitempty"`
	RepLeg      string            `json:"representative_leg,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
}

func newSession(destination string, metadata map[string]string) *Session {
	return &Session{
		id:          uuid.NewString(),
		destination: destination,
		metadata:    metadata,
		startedAt:   time.Now().UTC(),
		state:       StateQualifying,
		hangupCh:    make(chan struct{}),
	}
}

func (t *Session) ID() string { return t.id }

func (t *Session) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Session) Reason() convo.Reason {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// RequestHangup asks the control loop to tear the session down. Safe to
// call any number of times, including on a finished session.
func (t *Session) RequestHangup() {
	t.hangupOnce.Do(func() { close(t.hangupCh) })
}

func (t *Session) hangupRequested() <-chan struct{} { return t.hangupCh }

func (t *Session) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	t.state = s
}

func (t *Session) setReason(r convo.Reason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reason == convo.ReasonNone {
		t.reason = r
	}
}

func (t *Session) setLegs(customer, rep string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if customer != "" {
		t.customerLeg = customer
	}
	if rep != "" {
		t.repLeg = rep
	}
}

// finalize records the terminal state exactly once; later calls keep the
// first outcome.
func (t *Session) finalize(s State, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	t.state = s
	t.detail = detail
	t.finishedAt = time.Now().UTC()
}

// finishedBefore reports whether the session reached a terminal state
// before the cutoff.
func (t *Session) finishedBefore(cutoff time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Terminal() && !t.finishedAt.IsZero() && t.finishedAt.Before(cutoff)
}

func (t *Session) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := Snapshot{
		ID:          t.id,
		Destination: t.destination,
		State:       t.state,
		Reason:      string(t.reason),
		Detail:      t.detail,
		CustomerLeg: t.customerLeg,
		RepLeg:      t.repLeg,
		StartedAt:   t.startedAt,
	}
	if len(t.metadata) > 0 {
		snap.Metadata = make(map[string]string, len(t.metadata))
		for k, v := range t.metadata {
			snap.Metadata[k] = v
		}
	}
	if !t.finishedAt.IsZero() {
		ts := t.finishedAt
		snap.FinishedAt = &ts
	}
	return snap
}
