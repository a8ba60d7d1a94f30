package telephony

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockDriver is an in-process signaling provider used when no gateway is
// configured and by tests. Call outcomes are scripted per destination;
// remote-party behavior (hangups, utterances) is injected.
type MockDriver struct {
	mu        sync.Mutex
	events    chan LegEvent
	closed    bool
	closeOnce sync.Once

	connectDelay time.Duration
	failDest     map[string]string
	silentDest   map[string]bool

	legs     map[LegHandle]*mockLeg
	commands []MockCommand
}

type mockLeg struct {
	destination string
	ended       bool
	playing     string
	attachedTo  LegHandle
}

// MockCommand records one driver invocation for test assertions.
type MockCommand struct {
	Op       string
	Leg      LegHandle
	PeerLeg  LegHandle
	Resource string
	Text     string
}

func NewMockDriver() *MockDriver {
	return &MockDriver{
		events:     make(chan LegEvent, 256),
		failDest:   make(map[string]string),
		silentDest: make(map[string]bool),
		legs:       make(map[LegHandle]*mockLeg),
	}
}

// SetConnectDelay delays the connected event for every dialed leg.
func (d *MockDriver) SetConnectDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectDelay = delay
}

// FailDial makes dials to the destination emit an error event with the code.
func (d *MockDriver) FailDial(destination, code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failDest[destination] = code
}

// NeverAnswer makes dials to the destination ring forever.
func (d *MockDriver) NeverAnswer(destination string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silentDest[destination] = true
}

func (d *MockDriver) Dial(_ context.Context, req DialRequest) (LegHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return "", fmt.Errorf("mock driver closed")
	}
	if req.Destination == "" {
		return "", fmt.Errorf("%w: destination is required", ErrDialRejected)
	}
	leg := LegHandle(uuid.NewString())
	d.legs[leg] = &mockLeg{destination: req.Destination}
	d.commands = append(d.commands, MockCommand{Op: "dial", Leg: leg, Text: req.Destination})

	if code, ok := d.failDest[req.Destination]; ok {
		d.emitLocked(LegEvent{Leg: leg, Type: EventError, Code: code, Timestamp: time.Now()})
		return leg, nil
	}
	if d.silentDest[req.Destination] {
		return leg, nil
	}

	delay := d.connectDelay
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		l := d.legs[leg]
		if l == nil || l.ended || d.closed {
			return
		}
		d.emitLocked(LegEvent{Leg: leg, Type: EventConnected, Timestamp: time.Now()})
	}()
	return leg, nil
}

func (d *MockDriver) Hangup(_ context.Context, leg LegHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, MockCommand{Op: "hangup", Leg: leg})
	l := d.legs[leg]
	if l == nil || l.ended {
		return nil
	}
	l.ended = true
	d.emitLocked(LegEvent{Leg: leg, Type: EventEnded, Code: "local_hangup", Timestamp: time.Now()})
	return nil
}

func (d *MockDriver) PlayAudio(_ context.Context, leg LegHandle, resource string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, MockCommand{Op: "play", Leg: leg, Resource: resource})
	if l := d.legs[leg]; l != nil {
		l.playing = resource
	}
	return nil
}

func (d *MockDriver) StopAudio(_ context.Context, leg LegHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, MockCommand{Op: "stop", Leg: leg})
	if l := d.legs[leg]; l != nil {
		l.playing = ""
	}
	return nil
}

func (d *MockDriver) AttachAudio(_ context.Context, a, b LegHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, MockCommand{Op: "attach", Leg: a, PeerLeg: b})
	if la := d.legs[a]; la != nil {
		la.attachedTo = b
	}
	if lb := d.legs[b]; lb != nil {
		lb.attachedTo = a
	}
	return nil
}

func (d *MockDriver) DetachAudio(_ context.Context, leg LegHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, MockCommand{Op: "detach", Leg: leg})
	if l := d.legs[leg]; l != nil {
		if peer := d.legs[l.attachedTo]; peer != nil && peer.attachedTo == leg {
			peer.attachedTo = ""
		}
		l.attachedTo = ""
	}
	return nil
}

func (d *MockDriver) Say(_ context.Context, leg LegHandle, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, MockCommand{Op: "say", Leg: leg, Text: text})
	return nil
}

func (d *MockDriver) Events() <-chan LegEvent { return d.events }

func (d *MockDriver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.closeOnce.Do(func() { close(d.events) })
	return nil
}

// RemoteHangup simulates the far end dropping the leg.
func (d *MockDriver) RemoteHangup(leg LegHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := d.legs[leg]
	if l == nil || l.ended {
		return
	}
	l.ended = true
	d.emitLocked(LegEvent{Leg: leg, Type: EventEnded, Code: "remote_hangup", Timestamp: time.Now()})
}

// HearUtterance simulates a transcribed utterance arriving on the leg.
func (d *MockDriver) HearUtterance(leg LegHandle, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := d.legs[leg]
	if l == nil || l.ended {
		return
	}
	d.emitLocked(LegEvent{Leg: leg, Type: EventUtterance, Text: text, Timestamp: time.Now()})
}

// Attached reports whether the two legs currently share audio.
func (d *MockDriver) Attached(a, b LegHandle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	la, lb := d.legs[a], d.legs[b]
	return la != nil && lb != nil && la.attachedTo == b && lb.attachedTo == a
}

// Playing returns the audio resource currently looping on the leg.
func (d *MockDriver) Playing(leg LegHandle) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l := d.legs[leg]; l != nil {
		return l.playing
	}
	return ""
}

// Commands returns a copy of the recorded command log.
func (d *MockDriver) Commands() []MockCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]MockCommand, len(d.commands))
	copy(out, d.commands)
	return out
}

// LegForDestination returns the most recent leg dialed to the destination.
func (d *MockDriver) LegForDestination(destination string) (LegHandle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.commands) - 1; i >= 0; i-- {
		c := d.commands[i]
		if c.Op == "dial" && c.Text == destination {
			return c.Leg, true
		}
	}
	return "", false
}

func (d *MockDriver) emitLocked(ev LegEvent) {
	if d.closed {
		return
	}
	select {
	case d.events <- ev:
	default:
	}
}
