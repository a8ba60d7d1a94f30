package transfer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/voicelane/warmline/internal/brain"
	"github.com/voicelane/warmline/internal/callsession"
	"github.com/voicelane/warmline/internal/config"
	"github.com/voicelane/warmline/internal/lookup"
	"github.com/voicelane/warmline/internal/observability"
	"github.com/voicelane/warmline/internal/telephony"
)

const (
	custNumber = "+13125550100"
	repNumber  = "+15125550199"
)

type rig struct {
	driver  *telephony.MockDriver
	store   *lookup.InMemoryStore
	manager *Manager
}

func newRig(t *testing.T, mutate func(*Settings)) *rig {
	t.Helper()
	driver := telephony.NewMockDriver()
	router := callsession.NewRouter(driver)
	ctx, cancel := context.WithCancel(context.Background())
	go router.Run(ctx)
	t.Cleanup(cancel)

	store := lookup.NewInMemoryStore()
	metrics := observability.NewMetrics(prometheus.NewRegistry(), "test")
	settings := Settings{
		RepresentativeNumber: repNumber,
		HoldMusicResource:    "hold_music",
		DialTimeout:          2 * time.Second,
		BriefingAckTimeout:   2 * time.Second,
		HoldMaxWait:          10 * time.Second,
		OnRepNoAnswer:        config.RepNoAnswerResume,
		CompanyName:          "CloudAnalytics AI",
		ProductName:          "CloudAnalytics AI",
		LookupTimeout:        time.Second,
	}
	if mutate != nil {
		mutate(&settings)
	}

	m := NewManager(driver, router, brain.NewMockAdapter(), store, metrics, settings, zap.NewNop())
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = m.Shutdown(sctx)
	})
	return &rig{driver: driver, store: store, manager: m}
}

func (r *rig) waitLeg(t *testing.T, dest string) telephony.LegHandle {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if leg, ok := r.driver.LegForDestination(dest); ok {
			return leg
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no leg dialed to %s", dest)
	return ""
}

func (r *rig) waitState(t *testing.T, id string, want State) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last Snapshot
	for time.Now().Before(deadline) {
		snap, err := r.manager.Get(id)
		if err != nil {
			t.Fatalf("get session: %v", err)
		}
		if snap.State == want {
			return snap
		}
		last = snap
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never reached %s, last state %s (%s)", want, last.State, last.Detail)
	return Snapshot{}
}

func (r *rig) waitSay(t *testing.T, leg telephony.LegHandle) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, c := range r.driver.Commands() {
			if c.Op == "say" && c.Leg == leg {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("leg %s was never spoken to", leg)
}

func commandIndex(cmds []telephony.MockCommand, op string, leg telephony.LegHandle) int {
	for i, c := range cmds {
		if c.Op == op && (leg == "" || c.Leg == leg) {
			return i
		}
	}
	return -1
}

func TestWarmTransferEndToEnd(t *testing.T) {
	r := newRig(t, nil)

	snap, err := r.manager.StartCall(context.Background(), custNumber, map[string]string{"campaign": "q3"})
	if err != nil {
		t.Fatalf("start call: %v", err)
	}

	cust := r.waitLeg(t, custNumber)
	r.waitSay(t, cust)
	r.driver.HearUtterance(cust, "Actually I want to talk about pricing for my team")

	rep := r.waitLeg(t, repNumber)
	r.waitSay(t, rep)
	r.driver.HearUtterance(rep, "Got it, I'm ready, connect me")

	final := r.waitState(t, snap.ID, StateCompleted)
	if final.Reason != "pricing" {
		t.Fatalf("transfer reason = %q, want pricing", final.Reason)
	}
	if !r.driver.Attached(cust, rep) {
		t.Fatalf("legs are not attached after completion")
	}

	cmds := r.driver.Commands()

	// The hold announcement comes before the music, the music before the
	// representative dial, so the customer never sits in silence.
	holdSay := -1
	for i, c := range cmds {
		if c.Op == "say" && c.Leg == cust && strings.Contains(c.Text, "hold") {
			holdSay = i
			break
		}
	}
	play := commandIndex(cmds, "play", cust)
	repDial := -1
	for i, c := range cmds {
		if c.Op == "dial" && c.Text == repNumber {
			repDial = i
		}
	}
	if holdSay == -1 || play == -1 || repDial == -1 {
		t.Fatalf("missing hold sequence: say=%d play=%d dial=%d", holdSay, play, repDial)
	}
	if !(holdSay < play && play < repDial) {
		t.Fatalf("hold sequence out of order: say=%d play=%d dial=%d", holdSay, play, repDial)
	}

	// Hold music stops before the attach.
	stop := commandIndex(cmds, "stop", cust)
	attach := commandIndex(cmds, "attach", "")
	if stop == -1 || attach == -1 || stop > attach {
		t.Fatalf("merge out of order: stop=%d attach=%d", stop, attach)
	}

	// The briefing carries the transfer reason.
	briefed := false
	for _, c := range cmds {
		if c.Op == "say" && c.Leg == rep && strings.Contains(c.Text, "pricing") {
			briefed = true
		}
	}
	if !briefed {
		t.Fatalf("representative briefing never mentioned the transfer reason")
	}

	// Neither leg is hung up on a successful transfer.
	if commandIndex(cmds, "hangup", cust) != -1 || commandIndex(cmds, "hangup", rep) != -1 {
		t.Fatalf("a merged leg was hung up")
	}
}

func TestCustomerHangupDuringRepDialAborts(t *testing.T) {
	r := newRig(t, func(s *Settings) {
		s.DialTimeout = 5 * time.Second
	})
	r.driver.NeverAnswer(repNumber)

	snap, err := r.manager.StartCall(context.Background(), custNumber, nil)
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	cust := r.waitLeg(t, custNumber)
	r.driver.HearUtterance(cust, "can you give me a quote for fifty seats")

	rep := r.waitLeg(t, repNumber)
	r.driver.RemoteHangup(cust)

	final := r.waitState(t, snap.ID, StateAbortedCustomerLeft)
	if final.Detail != "customer disconnected during hold" {
		t.Fatalf("detail = %q", final.Detail)
	}

	// The in-flight representative dial is torn down promptly.
	deadline := time.Now().Add(3 * time.Second)
	for commandIndex(r.driver.Commands(), "hangup", rep) == -1 {
		if time.Now().After(deadline) {
			t.Fatalf("representative leg never hung up after customer left")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if commandIndex(r.driver.Commands(), "attach", "") != -1 {
		t.Fatalf("attach issued on an aborted session")
	}
}

func TestRepNoAnswerResumePolicy(t *testing.T) {
	r := newRig(t, func(s *Settings) {
		s.DialTimeout = 150 * time.Millisecond
	})
	r.driver.NeverAnswer(repNumber)

	snap, err := r.manager.StartCall(context.Background(), custNumber, nil)
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	cust := r.waitLeg(t, custNumber)
	r.driver.HearUtterance(cust, "what would the price be for us")

	final := r.waitState(t, snap.ID, StateAbortedNoAnswer)
	if final.Detail != "representative did not answer" {
		t.Fatalf("detail = %q", final.Detail)
	}

	// Hold stops and the AI speaks immediately; the customer stays on.
	cmds := r.driver.Commands()
	stop := commandIndex(cmds, "stop", cust)
	if stop == -1 {
		t.Fatalf("hold music never stopped")
	}
	resumed := false
	for _, c := range cmds[stop:] {
		if c.Op == "say" && c.Leg == cust {
			resumed = true
		}
	}
	if !resumed {
		t.Fatalf("customer was left in silence after the failed dial")
	}
	if commandIndex(cmds, "hangup", cust) != -1 {
		t.Fatalf("resume policy hung up the customer")
	}

	// The conversation keeps working after the resume.
	before := len(r.driver.Commands())
	r.driver.HearUtterance(cust, "okay, tell me more about the product")
	deadline := time.Now().Add(3 * time.Second)
	for {
		cmds := r.driver.Commands()
		if idx := commandIndex(cmds[before:], "say", cust); idx != -1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("agent stopped replying after resume")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Finishing the call persists a redacted summary for the next one.
	r.driver.RemoteHangup(cust)
	deadline = time.Now().Add(3 * time.Second)
	for {
		summary, err := r.store.PreviousConversation(context.Background(), custNumber)
		if err == nil {
			if !strings.Contains(summary, "representative unavailable") {
				t.Fatalf("summary missing outcome: %q", summary)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("conversation summary never persisted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRepDialRetriedOnCongestion(t *testing.T) {
	r := newRig(t, nil)
	r.driver.FailDial(repNumber, "trunk_busy")

	snap, err := r.manager.StartCall(context.Background(), custNumber, nil)
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	cust := r.waitLeg(t, custNumber)
	r.driver.HearUtterance(cust, "I'd love to see pricing")

	r.waitState(t, snap.ID, StateAbortedNoAnswer)
	dials := 0
	for _, c := range r.driver.Commands() {
		if c.Op == "dial" && c.Text == repNumber {
			dials++
		}
	}
	if dials != 2 {
		t.Fatalf("representative dial attempts = %d, want 2", dials)
	}
}

func TestRepNoAnswerApologizePolicy(t *testing.T) {
	r := newRig(t, func(s *Settings) {
		s.DialTimeout = 150 * time.Millisecond
		s.OnRepNoAnswer = config.RepNoAnswerApologize
	})
	r.driver.NeverAnswer(repNumber)

	snap, err := r.manager.StartCall(context.Background(), custNumber, nil)
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	cust := r.waitLeg(t, custNumber)
	r.driver.HearUtterance(cust, "how much does it cost")

	final := r.waitState(t, snap.ID, StateAbortedNoAnswer)
	if final.State != StateAbortedNoAnswer {
		t.Fatalf("state = %s", final.State)
	}

	cmds := r.driver.Commands()
	stop := commandIndex(cmds, "stop", cust)
	hangup := commandIndex(cmds, "hangup", cust)
	if stop == -1 || hangup == -1 {
		t.Fatalf("apologize path incomplete: stop=%d hangup=%d", stop, hangup)
	}
	apologized := false
	for _, c := range cmds[stop:hangup] {
		if c.Op == "say" && c.Leg == cust {
			apologized = true
		}
	}
	if !apologized {
		t.Fatalf("customer hung up without a closing message")
	}
}

func TestBriefingAckTimeoutStillMerges(t *testing.T) {
	r := newRig(t, func(s *Settings) {
		s.BriefingAckTimeout = 200 * time.Millisecond
	})

	snap, err := r.manager.StartCall(context.Background(), custNumber, nil)
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	cust := r.waitLeg(t, custNumber)
	r.driver.HearUtterance(cust, "I need pricing details")

	rep := r.waitLeg(t, repNumber)
	r.waitSay(t, rep)
	// No acknowledgment from the representative at all.

	r.waitState(t, snap.ID, StateCompleted)
	if !r.driver.Attached(cust, rep) {
		t.Fatalf("ack timeout did not merge the legs")
	}
}

func TestBriefingFrozenAtDecision(t *testing.T) {
	r := newRig(t, func(s *Settings) {
		s.BriefingAckTimeout = 300 * time.Millisecond
	})

	snap, err := r.manager.StartCall(context.Background(), custNumber, nil)
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	cust := r.waitLeg(t, custNumber)
	r.driver.SetConnectDelay(250 * time.Millisecond)
	r.driver.HearUtterance(cust, "what is your pricing")

	// Something said while on hold must never reach the representative.
	r.waitLeg(t, repNumber)
	r.driver.HearUtterance(cust, "by the way my card number is 4111 1111 1111 1111")

	final := r.waitState(t, snap.ID, StateCompleted)
	if final.Reason != "pricing" {
		t.Fatalf("reason = %q", final.Reason)
	}
	rep, _ := r.driver.LegForDestination(repNumber)
	for _, c := range r.driver.Commands() {
		if c.Op == "say" && c.Leg == rep && strings.Contains(c.Text, "4111") {
			t.Fatalf("hold-time utterance leaked into the briefing: %q", c.Text)
		}
	}
}

func TestRepVoicemailAbortsTransfer(t *testing.T) {
	r := newRig(t, nil)

	snap, err := r.manager.StartCall(context.Background(), custNumber, nil)
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	cust := r.waitLeg(t, custNumber)
	r.driver.HearUtterance(cust, "I'd like a quote please")

	rep := r.waitLeg(t, repNumber)
	r.waitSay(t, rep)
	r.driver.HearUtterance(rep, "You have reached voicemail, please leave a message after the tone")

	final := r.waitState(t, snap.ID, StateAbortedNoAnswer)
	if final.Detail != "reached representative voicemail" {
		t.Fatalf("detail = %q", final.Detail)
	}
	if commandIndex(r.driver.Commands(), "attach", "") != -1 {
		t.Fatalf("voicemail leg was attached to the customer")
	}
	if commandIndex(r.driver.Commands(), "hangup", rep) == -1 {
		t.Fatalf("voicemail leg never hung up")
	}
}

func TestCustomerHangupDuringBriefingAborts(t *testing.T) {
	r := newRig(t, nil)

	snap, err := r.manager.StartCall(context.Background(), custNumber, nil)
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	cust := r.waitLeg(t, custNumber)
	r.driver.HearUtterance(cust, "let's talk pricing")

	rep := r.waitLeg(t, repNumber)
	r.waitSay(t, rep)
	r.driver.RemoteHangup(cust)

	r.waitState(t, snap.ID, StateAbortedCustomerLeft)
	deadline := time.Now().Add(3 * time.Second)
	for commandIndex(r.driver.Commands(), "hangup", rep) == -1 {
		if time.Now().After(deadline) {
			t.Fatalf("representative leg kept ringing after the customer left")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOperatorHangup(t *testing.T) {
	r := newRig(t, nil)

	snap, err := r.manager.StartCall(context.Background(), custNumber, nil)
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	cust := r.waitLeg(t, custNumber)
	r.waitSay(t, cust)

	if err := r.manager.Hangup(snap.ID); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	final := r.waitState(t, snap.ID, StateCompleted)
	if final.Detail != "operator hangup" {
		t.Fatalf("detail = %q", final.Detail)
	}

	if err := r.manager.Hangup("no-such-id"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManagerRegistry(t *testing.T) {
	r := newRig(t, nil)

	if _, err := r.manager.StartCall(context.Background(), "", nil); err == nil {
		t.Fatalf("empty destination accepted")
	}

	snap, err := r.manager.StartCall(context.Background(), custNumber, nil)
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	got, err := r.manager.Get(snap.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Destination != custNumber {
		t.Fatalf("destination = %q", got.Destination)
	}
	if len(r.manager.List()) != 1 {
		t.Fatalf("list size = %d", len(r.manager.List()))
	}
	if _, err := r.manager.Get("missing"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestJanitorExpiresFinishedSessions(t *testing.T) {
	r := newRig(t, func(s *Settings) {
		s.SessionRetention = 20 * time.Millisecond
	})

	expired := make(chan Snapshot, 1)
	r.manager.SetExpireHook(func(snap Snapshot) { expired <- snap })

	finished, err := r.manager.StartCall(context.Background(), custNumber, nil)
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	custLeg := r.waitLeg(t, custNumber)
	r.driver.RemoteHangup(custLeg)
	r.waitState(t, finished.ID, StateCompleted)

	active, err := r.manager.StartCall(context.Background(), "+14155550123", nil)
	if err != nil {
		t.Fatalf("start second call: %v", err)
	}

	jctx, jcancel := context.WithCancel(context.Background())
	defer jcancel()
	r.manager.StartJanitor(jctx, 10*time.Millisecond)

	select {
	case snap := <-expired:
		if snap.ID != finished.ID {
			t.Fatalf("expired session = %s, want %s", snap.ID, finished.ID)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("finished session was never pruned")
	}

	if _, err := r.manager.Get(finished.ID); err != ErrSessionNotFound {
		t.Fatalf("pruned session still resolvable, err = %v", err)
	}
	if _, err := r.manager.Get(active.ID); err != nil {
		t.Fatalf("active session pruned: %v", err)
	}
	list := r.manager.List()
	if len(list) != 1 || list[0].ID != active.ID {
		t.Fatalf("list = %+v, want only the active session", list)
	}
}
