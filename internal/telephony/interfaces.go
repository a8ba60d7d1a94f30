package telephony

import (
	"context"
	"errors"
	"time"
)

// LegHandle identifies one call leg at the signaling gateway.
type LegHandle string

type EventType string

const (
	EventConnected EventType = "connected"
	EventEnded     EventType = "ended"
	EventError     EventType = "error"
	// EventUtterance carries a transcribed utterance heard on a leg.
	EventUtterance EventType = "utterance"
)

// LegEvent is an asynchronous notification from the signaling provider.
// Dial/hangup completion is reported here, never as a synchronous return.
type LegEvent struct {
	Leg       LegHandle
	Type      EventType
	Text      string
	Code      string
	Detail    string
	Timestamp time.Time
}

type DialRequest struct {
	Destination string
	TrunkID     string
	CallerID    string
}

var ErrDialRejected = errors.New("dial rejected by signaling provider")

// Driver is the narrow interface to the telephony/session signaling
// collaborator. All operations are asynchronous: a nil error means the
// command was accepted, outcomes arrive on Events().
type Driver interface {
	Dial(ctx context.Context, req DialRequest) (LegHandle, error)
	Hangup(ctx context.Context, leg LegHandle) error
	PlayAudio(ctx context.Context, leg LegHandle, resource string) error
	StopAudio(ctx context.Context, leg LegHandle) error
	AttachAudio(ctx context.Context, a, b LegHandle) error
	DetachAudio(ctx context.Context, leg LegHandle) error
	Say(ctx context.Context, leg LegHandle, text string) error
	Events() <-chan LegEvent
	Close() error
}
