package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voicelane/warmline/internal/brain"
	"github.com/voicelane/warmline/internal/callsession"
	"github.com/voicelane/warmline/internal/config"
	"github.com/voicelane/warmline/internal/convo"
	"github.com/voicelane/warmline/internal/policy"
	"github.com/voicelane/warmline/internal/reliability"
	"github.com/voicelane/warmline/internal/telephony"
)

const (
	holdAnnouncement = "Absolutely, let me connect you with one of our specialists. Please hold for just a moment."
	repResumeLine    = "Thanks for holding. Our specialist isn't available right now, but I'm happy to keep helping you myself."
	repApologyLine   = "I'm sorry, our specialist isn't available right now. We'll follow up with you shortly. Thanks for your time, goodbye."

	legTeardownTimeout = 5 * time.Second
)

// orchestrator drives one transfer session. Its run goroutine is the only
// consumer of both legs' notice channels, so every transition is decided
// in one place.
type orchestrator struct {
	m      *Manager
	ts     *Session
	logger *zap.Logger

	customer *callsession.Session
	rep      *callsession.Session
	agent    *convo.Agent
	frozen   convo.Snapshot
	repTried bool
}

type verdict int

const (
	verdictDone verdict = iota
	verdictTransfer
)

func (o *orchestrator) run(ctx context.Context) {
	m := o.m
	m.metrics.ActiveSessions.Inc()
	defer m.metrics.ActiveSessions.Dec()
	defer o.finish()

	o.customer = callsession.New(m.driver, m.router, callsession.RoleCustomer, o.logger)
	req := telephony.DialRequest{
		Destination: o.ts.destination,
		TrunkID:     m.settings.TrunkID,
		CallerID:    m.settings.CallerID,
	}
	if err := o.customer.Dial(ctx, req, m.settings.DialTimeout); err != nil {
		o.logger.Warn("customer dial failed", zap.Error(err))
		o.ts.finalize(StateCompleted, "customer unreachable")
		return
	}
	o.ts.setLegs(o.customer.ID(), "")

	o.agent = convo.NewAgent(o.customer, m.adapter, m.store, convo.Script{
		Role:        brain.RoleOutboundQualifier,
		CompanyName: m.settings.CompanyName,
		ProductName: m.settings.ProductName,
		PhoneNumber: o.ts.destination,
	}, m.settings.LookupTimeout, o.logger)

	if err := o.agent.Start(ctx); err != nil {
		o.logger.Warn("greeting failed", zap.Error(err))
		o.hangupLeg(o.customer)
		o.ts.finalize(StateCompleted, "greeting failed")
		return
	}

	for {
		if o.converse(ctx) != verdictTransfer {
			return
		}
		if !o.performTransfer(ctx) {
			return
		}
		// Representative unreachable with the resume policy: the customer
		// is back in the AI conversation. No second transfer attempt.
	}
}

// converse is the qualifying loop. It feeds customer utterances to the
// agent until the call ends or the agent decides to transfer.
func (o *orchestrator) converse(ctx context.Context) verdict {
	for {
		select {
		case <-ctx.Done():
			o.hangupLeg(o.customer)
			o.ts.finalize(StateCompleted, "worker shutting down")
			return verdictDone
		case <-o.ts.hangupRequested():
			o.hangupLeg(o.customer)
			o.ts.finalize(StateCompleted, "operator hangup")
			return verdictDone
		case n, ok := <-o.customer.Notices():
			if !ok {
				o.ts.finalize(StateCompleted, "customer leg closed")
				return verdictDone
			}
			o.countEvent(n)
			switch n.Type {
			case telephony.EventEnded:
				o.ts.finalize(StateCompleted, "customer hung up")
				return verdictDone
			case telephony.EventError:
				o.logger.Warn("customer leg error", zap.String("code", n.Code))
			case telephony.EventUtterance:
				out, err := o.agent.HandleUtterance(ctx, n.Text)
				if err != nil {
					o.logger.Warn("customer turn failed", zap.Error(err))
					continue
				}
				if out.Voicemail {
					o.hangupLeg(o.customer)
					o.ts.finalize(StateCompleted, "reached customer voicemail")
					return verdictDone
				}
				if out.Decision != convo.ReasonNone && !o.repTried {
					o.ts.setReason(out.Decision)
					return verdictTransfer
				}
			}
		}
	}
}

// performTransfer runs hold, representative dial, briefing, and merge.
// It reports whether the customer conversation should resume afterwards,
// which only happens when the representative was unreachable under the
// resume policy.
func (o *orchestrator) performTransfer(ctx context.Context) (resume bool) {
	m := o.m
	o.repTried = true

	// The briefing is built from the conversation as it stood at the
	// decision. Anything the customer says on hold stays out of it.
	o.frozen = o.agent.State().Snapshot()
	o.ts.setState(StateHoldRequested)

	o.agent.State().Append(convo.SpeakerAssistant, holdAnnouncement)
	if err := o.customer.Say(ctx, holdAnnouncement); err != nil {
		if errors.Is(err, callsession.ErrLegEnded) {
			o.ts.finalize(StateAbortedCustomerLeft, "customer disconnected during hold")
			return false
		}
		o.logger.Warn("hold announcement failed", zap.Error(err))
	}
	if err := o.customer.PlayAudio(ctx, m.settings.HoldMusicResource); err != nil {
		o.logger.Warn("hold music failed", zap.Error(err))
	}

	if m.settings.RepresentativeNumber == "" {
		o.logger.Error("no representative number configured")
		return o.handleRepUnreachable(ctx, "no representative configured")
	}

	// Dial the representative while the customer holds.
	dialCtx, cancelDial := context.WithCancel(ctx)
	defer cancelDial()
	dialDone := make(chan error, 1)
	dialStart := time.Now()
	startDial := func() {
		o.rep = callsession.New(m.driver, m.router, callsession.RoleRepresentative, o.logger)
		rep := o.rep
		go func() {
			dialDone <- rep.Dial(dialCtx, telephony.DialRequest{
				Destination: m.settings.RepresentativeNumber,
				TrunkID:     m.settings.TrunkID,
				CallerID:    m.settings.CallerID,
			}, m.settings.DialTimeout)
		}()
	}
	startDial()
	o.ts.setState(StateDialingRep)
	redialed := false

	holdTimer := time.NewTimer(m.settings.HoldMaxWait)
	defer holdTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			cancelDial()
			if err := <-dialDone; err == nil {
				o.hangupLeg(o.rep)
			}
			o.hangupLeg(o.customer)
			o.ts.finalize(StateCompleted, "worker shutting down")
			return false
		case <-o.ts.hangupRequested():
			cancelDial()
			if err := <-dialDone; err == nil {
				o.hangupLeg(o.rep)
			}
			o.hangupLeg(o.customer)
			o.ts.finalize(StateCompleted, "operator hangup")
			return false
		case n, ok := <-o.customer.Notices():
			if !ok {
				cancelDial()
				<-dialDone
				o.ts.finalize(StateAbortedCustomerLeft, "customer disconnected during hold")
				return false
			}
			o.countEvent(n)
			switch n.Type {
			case telephony.EventEnded:
				// Customer hangup wins over anything the dial produces.
				cancelDial()
				if err := <-dialDone; err == nil {
					o.hangupLeg(o.rep)
				}
				o.ts.finalize(StateAbortedCustomerLeft, "customer disconnected during hold")
				return false
			case telephony.EventUtterance:
				// Heard while holding; recorded but never briefed.
				o.agent.State().Append(convo.SpeakerCustomer, n.Text)
			}
		case err := <-dialDone:
			if err != nil {
				var dialErr *callsession.DialError
				if !redialed && errors.As(err, &dialErr) && reliability.IsRetryableSignalCode(dialErr.Code) {
					// Congestion codes get one more attempt inside the
					// same hold window.
					o.logger.Warn("representative dial rejected, retrying once",
						zap.String("code", dialErr.Code))
					redialed = true
					startDial()
					continue
				}
				o.logger.Warn("representative dial failed", zap.Error(err))
				return o.handleRepUnreachable(ctx, "representative did not answer")
			}
			m.metrics.ObserveRepDialLatency(time.Since(dialStart))
			o.ts.setLegs("", o.rep.ID())
			// Re-check liveness: a customer hangup racing the connect
			// still aborts the transfer.
			if o.customerGone() {
				o.hangupLeg(o.rep)
				o.ts.finalize(StateAbortedCustomerLeft, "customer disconnected during hold")
				return false
			}
			return o.runBriefing(ctx, holdTimer)
		case <-holdTimer.C:
			cancelDial()
			if err := <-dialDone; err == nil {
				o.hangupLeg(o.rep)
			}
			return o.handleRepUnreachable(ctx, "hold window expired")
		}
	}
}

// runBriefing delivers the handoff summary to the representative and waits
// for the ready acknowledgment, bounded by the ack timeout.
func (o *orchestrator) runBriefing(ctx context.Context, holdTimer *time.Timer) bool {
	m := o.m
	o.ts.setState(StateBriefing)

	// The prior-call summary read back into the briefing may carry
	// details the representative has no business hearing verbatim.
	briefing, _ := policy.RedactPII(convo.ProduceBriefing(o.frozen, m.settings.ProductName))
	repAgent := convo.NewAgent(o.rep, m.adapter, m.store, convo.Script{
		Role:        brain.RoleBriefingPresenter,
		Greeting:    briefing,
		CompanyName: m.settings.CompanyName,
		ProductName: m.settings.ProductName,
	}, m.settings.LookupTimeout, o.logger)

	if err := repAgent.Start(ctx); err != nil {
		o.logger.Warn("briefing delivery failed", zap.Error(err))
		m.metrics.BriefingResults.WithLabelValues("failed").Inc()
		o.hangupLeg(o.rep)
		resume := o.returnCustomer(ctx)
		o.ts.finalize(StateAbortedBriefingFailed, "briefing delivery failed")
		return resume
	}

	ackTimer := time.NewTimer(m.settings.BriefingAckTimeout)
	defer ackTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			o.hangupLeg(o.rep)
			o.hangupLeg(o.customer)
			o.ts.finalize(StateCompleted, "worker shutting down")
			return false
		case <-o.ts.hangupRequested():
			o.hangupLeg(o.rep)
			o.hangupLeg(o.customer)
			o.ts.finalize(StateCompleted, "operator hangup")
			return false
		case n, ok := <-o.customer.Notices():
			if !ok || n.Type == telephony.EventEnded {
				if ok {
					o.countEvent(n)
				}
				o.hangupLeg(o.rep)
				o.ts.finalize(StateAbortedCustomerLeft, "customer disconnected during hold")
				return false
			}
			o.countEvent(n)
			if n.Type == telephony.EventUtterance {
				o.agent.State().Append(convo.SpeakerCustomer, n.Text)
			}
		case n, ok := <-o.rep.Notices():
			if !ok || n.Type == telephony.EventEnded {
				if ok {
					o.countEvent(n)
				}
				o.logger.Warn("representative left during briefing")
				m.metrics.BriefingResults.WithLabelValues("rep_left").Inc()
				resume := o.returnCustomer(ctx)
				o.ts.finalize(StateAbortedBriefingFailed, "representative left during briefing")
				return resume
			}
			o.countEvent(n)
			if n.Type != telephony.EventUtterance {
				continue
			}
			out, err := repAgent.HandleUtterance(ctx, n.Text)
			if err != nil {
				o.logger.Warn("representative turn failed", zap.Error(err))
				continue
			}
			if out.Voicemail {
				// We dialed into the representative's voicemail, same
				// outcome as no answer.
				m.metrics.BriefingResults.WithLabelValues("voicemail").Inc()
				o.hangupLeg(o.rep)
				return o.handleRepUnreachable(ctx, "reached representative voicemail")
			}
			if out.RepReady {
				m.metrics.BriefingResults.WithLabelValues("acked").Inc()
				return o.merge(ctx)
			}
		case <-ackTimer.C:
			o.logger.Info("briefing ack timeout, merging anyway")
			m.metrics.BriefingResults.WithLabelValues("timeout").Inc()
			return o.merge(ctx)
		case <-holdTimer.C:
			o.logger.Info("hold window expired during briefing, merging")
			m.metrics.BriefingResults.WithLabelValues("timeout").Inc()
			return o.merge(ctx)
		}
	}
}

// merge joins the two legs: hold music stops first so the representative
// lands on a live conversation, not the loop.
func (o *orchestrator) merge(ctx context.Context) bool {
	o.ts.setState(StateMerging)
	if err := o.customer.StopAudio(ctx); err != nil {
		o.logger.Warn("stop hold audio before merge", zap.Error(err))
	}
	if err := o.customer.AttachAudio(ctx, o.rep); err != nil {
		o.logger.Error("audio merge failed", zap.Error(err))
		o.hangupLeg(o.rep)
		resume := o.returnCustomer(ctx)
		o.ts.finalize(StateAbortedBriefingFailed, "audio merge failed")
		return resume
	}
	o.ts.setState(StateMerged)
	o.logger.Info("legs merged",
		zap.String("reason", string(o.ts.Reason())),
		zap.String("customer_leg", o.customer.ID()),
		zap.String("representative_leg", o.rep.ID()))

	// The humans own the call from here. AI-side resources are released
	// without hanging up either leg.
	o.ts.finalize(StateCompleted, "transferred to representative")
	return false
}

// handleRepUnreachable applies the no-answer policy and marks the session
// aborted, unless the customer vanished first.
func (o *orchestrator) handleRepUnreachable(ctx context.Context, detail string) bool {
	resume := o.returnCustomer(ctx)
	o.ts.finalize(StateAbortedNoAnswer, detail)
	return resume
}

// returnCustomer takes a holding customer off hold and either resumes the
// AI conversation or apologizes and hangs up, per policy. There is never a
// silent gap: the stop is immediately followed by speech.
func (o *orchestrator) returnCustomer(ctx context.Context) bool {
	if o.customerGone() {
		o.ts.finalize(StateAbortedCustomerLeft, "customer disconnected during hold")
		return false
	}
	if err := o.customer.StopAudio(ctx); err != nil {
		o.logger.Warn("stop hold audio", zap.Error(err))
	}

	if o.m.settings.OnRepNoAnswer == config.RepNoAnswerApologize {
		o.agent.State().Append(convo.SpeakerAssistant, repApologyLine)
		if err := o.customer.Say(ctx, repApologyLine); err != nil && !errors.Is(err, callsession.ErrLegEnded) {
			o.logger.Warn("apology failed", zap.Error(err))
		}
		o.hangupLeg(o.customer)
		return false
	}

	o.agent.State().Append(convo.SpeakerAssistant, repResumeLine)
	if err := o.customer.Say(ctx, repResumeLine); err != nil {
		if errors.Is(err, callsession.ErrLegEnded) {
			o.ts.finalize(StateAbortedCustomerLeft, "customer disconnected during hold")
			return false
		}
		o.logger.Warn("resume message failed", zap.Error(err))
	}
	o.ts.setState(StateQualifying)
	return true
}

// customerGone drains pending customer notices and reports whether the
// customer leg has ended.
func (o *orchestrator) customerGone() bool {
	for {
		select {
		case n, ok := <-o.customer.Notices():
			if !ok {
				return true
			}
			o.countEvent(n)
			if n.Type == telephony.EventEnded {
				return true
			}
			if n.Type == telephony.EventUtterance {
				o.agent.State().Append(convo.SpeakerCustomer, n.Text)
			}
		default:
			return o.customer.State() == callsession.StateEnded
		}
	}
}

func (o *orchestrator) hangupLeg(s *callsession.Session) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), legTeardownTimeout)
	defer cancel()
	if err := s.Hangup(ctx); err != nil {
		o.logger.Warn("leg hangup failed",
			zap.String("role", string(s.Role())), zap.Error(err))
	}
}

func (o *orchestrator) countEvent(n callsession.Notice) {
	o.m.metrics.LegEvents.WithLabelValues(string(n.Role), string(n.Type)).Inc()
}

// finish records the outcome and releases AI-side resources. It never
// hangs up a merged call.
func (o *orchestrator) finish() {
	if !o.ts.State().Terminal() {
		o.ts.finalize(StateCompleted, "control loop exited")
	}
	final := o.ts.State()
	o.m.metrics.SessionOutcomes.WithLabelValues(string(final)).Inc()
	o.persistSummary()
	if o.rep != nil {
		o.rep.Close()
	}
	if o.customer != nil {
		o.customer.Close()
	}
	o.logger.Info("session finished",
		zap.String("state", string(final)),
		zap.String("destination", o.ts.destination))
}

// persistSummary writes a redacted recap for the next call with this
// contact. Best effort; failures only log.
func (o *orchestrator) persistSummary() {
	if o.agent == nil {
		return
	}
	conv := o.agent.State().Snapshot()
	if len(conv.Utterances) == 0 {
		return
	}
	summary, changed := policy.RedactPIIExcept(buildSummary(conv, o.ts.Snapshot()), o.ts.destination)
	if changed {
		o.logger.Info("summary redacted before persistence")
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.m.settings.LookupTimeout)
	defer cancel()
	if err := o.m.store.SaveConversationSummary(ctx, o.ts.destination, summary); err != nil {
		o.logger.Warn("summary persistence failed", zap.Error(err))
	}
}

func buildSummary(conv convo.Snapshot, sess Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Outbound call on %s.", sess.StartedAt.Format("2006-01-02"))
	if len(conv.Topics) > 0 {
		fmt.Fprintf(&b, " Discussed: %s.", strings.Join(conv.Topics, "; "))
	}
	if conv.Interest != "" {
		fmt.Fprintf(&b, " Interest level: %s.", conv.Interest)
	}
	if conv.Decision != convo.ReasonNone {
		fmt.Fprintf(&b, " Transfer requested (%s).", conv.Decision)
	}
	fmt.Fprintf(&b, " Outcome: %s.", outcomePhrase(sess.State))
	return b.String()
}

func outcomePhrase(s State) string {
	switch s {
	case StateCompleted:
		return "call completed"
	case StateAbortedNoAnswer:
		return "representative unavailable"
	case StateAbortedCustomerLeft:
		return "customer disconnected during transfer"
	case StateAbortedBriefingFailed:
		return "transfer handoff failed"
	default:
		return string(s)
	}
}
