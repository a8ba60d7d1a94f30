// Package callsession owns the lifecycle of a single telephony leg:
// dialing with a bounded wait, hold audio, audio merge, idempotent hangup,
// and asynchronous owner notifications for remote events.
package callsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voicelane/warmline/internal/telephony"
)

type Role string

const (
	RoleCustomer       Role = "customer"
	RoleRepresentative Role = "representative"
)

type LegState string

const (
	StateDialing   LegState = "dialing"
	StateConnected LegState = "connected"
	StateOnHold    LegState = "on_hold"
	StateMerged    LegState = "merged"
	StateEnded     LegState = "ended"
)

var (
	ErrDialFailed  = errors.New("dial failed")
	ErrDialTimeout = errors.New("dial timed out")
	ErrLegEnded    = errors.New("leg already ended")
)

// DialError carries the gateway's rejection code so callers can decide
// whether the destination is worth another attempt.
type DialError struct {
	Code string
}

func (e *DialError) Error() string { return fmt.Sprintf("dial failed: %s", e.Code) }

func (e *DialError) Unwrap() error { return ErrDialFailed }

// Notice is an asynchronous notification to the session owner. Remote
// disconnects always arrive here, never as errors from local calls.
type Notice struct {
	Leg       string
	Role      Role
	Type      telephony.EventType
	Text      string
	Code      string
	Detail    string
	Timestamp time.Time
}

// Session wraps one call leg. All state mutations happen under one mutex
// so a leg is never observably merged with a detached audio track.
type Session struct {
	id     string
	role   Role
	driver telephony.Driver
	router *Router
	logger *zap.Logger

	mu            sync.Mutex
	handle        telephony.LegHandle
	state         LegState
	attachedTo    telephony.LegHandle
	playing       string
	endedNotified bool
	noticesClosed bool
	connectedCh   chan struct{}
	dialErr       error

	notices chan Notice
}

func New(driver telephony.Driver, router *Router, role Role, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		id:          uuid.NewString(),
		role:        role,
		driver:      driver,
		router:      router,
		logger:      logger,
		state:       StateDialing,
		connectedCh: make(chan struct{}),
		notices:     make(chan Notice, 64),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Role() Role { return s.role }

func (s *Session) Handle() telephony.LegHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

func (s *Session) State() LegState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Notices delivers connected/ended/error/utterance events to the owner.
func (s *Session) Notices() <-chan Notice { return s.notices }

// Dial places the outbound leg and waits for the connected event, bounded
// by timeout. On timeout or rejection the leg is discarded.
func (s *Session) Dial(ctx context.Context, req telephony.DialRequest, timeout time.Duration) error {
	handle, err := s.driver.Dial(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDialFailed, err)
	}

	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()
	s.router.Subscribe(handle, s.handleEvent)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		s.discard(handle)
		return ctx.Err()
	case <-timer.C:
		s.discard(handle)
		return fmt.Errorf("%w after %s", ErrDialTimeout, timeout)
	case <-s.connectedCh:
		s.mu.Lock()
		err := s.dialErr
		s.mu.Unlock()
		if err != nil {
			s.router.Unsubscribe(handle)
			return err
		}
		s.logger.Info("leg connected",
			zap.String("leg_id", s.id),
			zap.String("role", string(s.role)))
		return nil
	}
}

// PlayAudio loops the resource on the leg. Replaying the same resource
// while it is already playing is a no-op.
func (s *Session) PlayAudio(ctx context.Context, resource string) error {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return ErrLegEnded
	}
	if s.playing == resource {
		s.mu.Unlock()
		return nil
	}
	handle := s.handle
	s.mu.Unlock()

	if err := s.driver.PlayAudio(ctx, handle, resource); err != nil {
		return fmt.Errorf("play audio: %w", err)
	}

	s.mu.Lock()
	s.playing = resource
	if s.state == StateConnected {
		s.state = StateOnHold
	}
	s.mu.Unlock()
	return nil
}

// StopAudio stops any playing resource and returns an on-hold leg to the
// plain connected state.
func (s *Session) StopAudio(ctx context.Context) error {
	s.mu.Lock()
	if s.playing == "" || s.state == StateEnded {
		s.mu.Unlock()
		return nil
	}
	handle := s.handle
	s.mu.Unlock()

	if err := s.driver.StopAudio(ctx, handle); err != nil {
		return fmt.Errorf("stop audio: %w", err)
	}

	s.mu.Lock()
	s.playing = ""
	if s.state == StateOnHold {
		s.state = StateConnected
	}
	s.mu.Unlock()
	return nil
}

// AttachAudio merges this leg's audio with the other leg. Both legs are
// marked merged; a merged leg never returns to on_hold.
func (s *Session) AttachAudio(ctx context.Context, other *Session) error {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return ErrLegEnded
	}
	a := s.handle
	s.mu.Unlock()

	b := other.Handle()
	if err := s.driver.AttachAudio(ctx, a, b); err != nil {
		return fmt.Errorf("attach audio: %w", err)
	}

	s.markMerged(b)
	other.markMerged(a)
	return nil
}

func (s *Session) DetachAudio(ctx context.Context) error {
	s.mu.Lock()
	if s.attachedTo == "" || s.state == StateEnded {
		s.mu.Unlock()
		return nil
	}
	handle := s.handle
	s.mu.Unlock()

	if err := s.driver.DetachAudio(ctx, handle); err != nil {
		return fmt.Errorf("detach audio: %w", err)
	}

	s.mu.Lock()
	s.attachedTo = ""
	s.mu.Unlock()
	return nil
}

// Say speaks the text on the leg through the conversational voice.
func (s *Session) Say(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return ErrLegEnded
	}
	handle := s.handle
	s.mu.Unlock()
	return s.driver.Say(ctx, handle, text)
}

// Hangup ends the leg. Safe on an already-ended leg; the second call is a
// no-op and produces no second ended notice.
func (s *Session) Hangup(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return nil
	}
	handle := s.handle
	s.state = StateEnded
	s.mu.Unlock()

	if handle == "" {
		return nil
	}
	if err := s.driver.Hangup(ctx, handle); err != nil {
		return fmt.Errorf("hangup: %w", err)
	}
	return nil
}

// Close releases the session's event subscription and notice channel.
// The leg itself must already be hung up or handed over.
func (s *Session) Close() {
	s.mu.Lock()
	handle := s.handle
	alreadyClosed := s.noticesClosed
	s.noticesClosed = true
	s.mu.Unlock()
	if handle != "" {
		s.router.Unsubscribe(handle)
	}
	if !alreadyClosed {
		close(s.notices)
	}
}

func (s *Session) markMerged(peer telephony.LegHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		return
	}
	s.state = StateMerged
	s.attachedTo = peer
	s.playing = ""
}

func (s *Session) discard(handle telephony.LegHandle) {
	s.router.Unsubscribe(handle)
	s.mu.Lock()
	s.state = StateEnded
	s.mu.Unlock()
	// Best effort teardown of a leg that never connected.
	_ = s.driver.Hangup(context.Background(), handle)
}

func (s *Session) handleEvent(ev telephony.LegEvent) {
	s.mu.Lock()
	switch ev.Type {
	case telephony.EventConnected:
		if s.state == StateDialing {
			s.state = StateConnected
			close(s.connectedCh)
		}
	case telephony.EventEnded:
		if s.endedNotified {
			s.mu.Unlock()
			return
		}
		s.endedNotified = true
		if s.state == StateDialing {
			// The remote side dropped before answering. Unblock Dial
			// instead of letting it ride out the full timeout.
			s.dialErr = fmt.Errorf("%w: leg ended before connect", ErrDialFailed)
			s.state = StateEnded
			close(s.connectedCh)
			s.mu.Unlock()
			return
		}
		s.state = StateEnded
	case telephony.EventError:
		if s.state == StateDialing {
			s.dialErr = &DialError{Code: ev.Code}
			s.state = StateEnded
			close(s.connectedCh)
			s.mu.Unlock()
			return
		}
	}

	if s.noticesClosed {
		s.mu.Unlock()
		return
	}
	notice := Notice{
		Leg:       s.id,
		Role:      s.role,
		Type:      ev.Type,
		Text:      ev.Text,
		Code:      ev.Code,
		Detail:    ev.Detail,
		Timestamp: ev.Timestamp,
	}
	select {
	case s.notices <- notice:
	default:
		s.logger.Warn("dropping leg notice, owner is saturated",
			zap.String("leg_id", s.id),
			zap.String("type", string(ev.Type)))
	}
	s.mu.Unlock()
}
