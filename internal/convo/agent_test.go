package convo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/voicelane/warmline/internal/brain"
	"github.com/voicelane/warmline/internal/callsession"
	"github.com/voicelane/warmline/internal/lookup"
	"github.com/voicelane/warmline/internal/telephony"
)

type failingStore struct{}

func (failingStore) Contact(context.Context, string) (lookup.ContactRecord, error) {
	return lookup.ContactRecord{}, errors.New("lookup service unreachable")
}

func (failingStore) PreviousConversation(context.Context, string) (string, error) {
	return "", errors.New("lookup service unreachable")
}

func (failingStore) Product(context.Context, string) (lookup.ProductRecord, error) {
	return lookup.ProductRecord{}, errors.New("lookup service unreachable")
}

func (failingStore) SaveConversationSummary(context.Context, string, string) error {
	return errors.New("lookup service unreachable")
}

func (failingStore) UpsertContact(context.Context, lookup.ContactRecord) error { return nil }
func (failingStore) UpsertProduct(context.Context, lookup.ProductRecord) error { return nil }
func (failingStore) Close() error                                              { return nil }

func newTestAgent(t *testing.T, store lookup.Store, phone string) (*Agent, *telephony.MockDriver) {
	t.Helper()
	driver := telephony.NewMockDriver()
	router := callsession.NewRouter(driver)
	ctx, cancel := context.WithCancel(context.Background())
	go router.Run(ctx)
	t.Cleanup(func() {
		cancel()
		_ = driver.Close()
	})

	sess := callsession.New(driver, router, callsession.RoleCustomer, nil)
	if err := sess.Dial(context.Background(), telephony.DialRequest{Destination: phone}, time.Second); err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	agent := NewAgent(sess, brain.NewMockAdapter(), store, Script{
		Role:        brain.RoleOutboundQualifier,
		CompanyName: "CloudAnalytics AI",
		ProductName: "CloudAnalytics AI",
		PhoneNumber: phone,
	}, time.Second, nil)
	return agent, driver
}

func TestLookupFailureDegradesToGenericGreeting(t *testing.T) {
	agent, driver := newTestAgent(t, failingStore{}, "+10000000000")

	if err := agent.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var greeting string
	for _, c := range driver.Commands() {
		if c.Op == "say" {
			greeting = c.Text
		}
	}
	if greeting == "" {
		t.Fatalf("agent should greet despite lookup failure")
	}
	if strings.Contains(greeting, "Sarah") {
		t.Fatalf("greeting should be generic, got %q", greeting)
	}
}

func TestLookupNotFoundDegradesToGenericGreeting(t *testing.T) {
	agent, driver := newTestAgent(t, lookup.NewInMemoryStore(), "+10000000000")

	if err := agent.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	said := 0
	for _, c := range driver.Commands() {
		if c.Op == "say" {
			said++
		}
	}
	if said != 1 {
		t.Fatalf("say commands = %d, want 1", said)
	}
}

func TestPersonalizedGreetingFromContact(t *testing.T) {
	store := lookup.NewInMemoryStore()
	if err := lookup.SeedDemo(context.Background(), store); err != nil {
		t.Fatalf("SeedDemo() error = %v", err)
	}
	agent, driver := newTestAgent(t, store, "+13128487404")

	if err := agent.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var greeting string
	for _, c := range driver.Commands() {
		if c.Op == "say" {
			greeting = c.Text
		}
	}
	if !strings.Contains(greeting, "Sarah") {
		t.Fatalf("greeting should use the contact's name, got %q", greeting)
	}
	if !strings.Contains(greeting, "follow up") {
		t.Fatalf("greeting should reference the previous conversation, got %q", greeting)
	}
}

func TestDecideTransferPricing(t *testing.T) {
	agent, _ := newTestAgent(t, lookup.NewInMemoryStore(), "+10000000000")

	outcome, err := agent.HandleUtterance(context.Background(), "I want to talk to pricing")
	if err != nil {
		t.Fatalf("HandleUtterance() error = %v", err)
	}
	if outcome.Decision != ReasonPricing {
		t.Fatalf("Decision = %q, want %q", outcome.Decision, ReasonPricing)
	}
}

func TestDecideTransferPriorityOrder(t *testing.T) {
	agent, _ := newTestAgent(t, lookup.NewInMemoryStore(), "+10000000000")

	// Matches both the explicit-request and pricing criteria; explicit
	// request has higher priority.
	outcome, err := agent.HandleUtterance(context.Background(), "How much does it cost? Actually, let me talk to a human.")
	if err != nil {
		t.Fatalf("HandleUtterance() error = %v", err)
	}
	if outcome.Decision != ReasonExplicitRequest {
		t.Fatalf("Decision = %q, want %q", outcome.Decision, ReasonExplicitRequest)
	}
}

func TestNoTransferOnSmallTalk(t *testing.T) {
	agent, _ := newTestAgent(t, lookup.NewInMemoryStore(), "+10000000000")

	outcome, err := agent.HandleUtterance(context.Background(), "Sure, I have a few minutes.")
	if err != nil {
		t.Fatalf("HandleUtterance() error = %v", err)
	}
	if outcome.Decision != ReasonNone {
		t.Fatalf("Decision = %q, want none", outcome.Decision)
	}
}

func TestInterestSignalsUpdateState(t *testing.T) {
	agent, _ := newTestAgent(t, lookup.NewInMemoryStore(), "+10000000000")
	ctx := context.Background()

	if _, err := agent.HandleUtterance(ctx, "That sounds great, we're very interested."); err != nil {
		t.Fatalf("HandleUtterance() error = %v", err)
	}
	if got := agent.State().Snapshot().Interest; got != "high" {
		t.Fatalf("Interest = %q, want %q", got, "high")
	}

	if _, err := agent.HandleUtterance(ctx, "Actually this is a bad time."); err != nil {
		t.Fatalf("HandleUtterance() error = %v", err)
	}
	if got := agent.State().Snapshot().Interest; got != "low" {
		t.Fatalf("Interest = %q, want %q", got, "low")
	}
}

func TestInterestSignalOverridesContactLevel(t *testing.T) {
	store := lookup.NewInMemoryStore()
	if err := lookup.SeedDemo(context.Background(), store); err != nil {
		t.Fatalf("SeedDemo() error = %v", err)
	}
	agent, _ := newTestAgent(t, store, "+13128487404")

	if err := agent.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := agent.HandleUtterance(context.Background(), "Please stop calling me."); err != nil {
		t.Fatalf("HandleUtterance() error = %v", err)
	}
	if got := agent.State().Snapshot().Interest; got != "low" {
		t.Fatalf("Interest = %q, want %q", got, "low")
	}
}

func TestCompetitorMentionEnrichesState(t *testing.T) {
	store := lookup.NewInMemoryStore()
	if err := lookup.SeedDemo(context.Background(), store); err != nil {
		t.Fatalf("SeedDemo() error = %v", err)
	}
	agent, _ := newTestAgent(t, store, "+10000000000")

	if _, err := agent.HandleUtterance(context.Background(), "We're currently using Snowflake for our warehouse."); err != nil {
		t.Fatalf("HandleUtterance() error = %v", err)
	}

	snap := agent.State().Snapshot()
	if len(snap.Competitive) != 1 || snap.Competitive[0].Name != "Snowflake" {
		t.Fatalf("competitive = %+v, want Snowflake record", snap.Competitive)
	}
}

func TestCompetitorLookupFailureDoesNotAbortTurn(t *testing.T) {
	agent, _ := newTestAgent(t, failingStore{}, "+10000000000")

	if _, err := agent.HandleUtterance(context.Background(), "We're currently using Snowflake."); err != nil {
		t.Fatalf("HandleUtterance() error = %v", err)
	}
	if len(agent.State().Snapshot().Competitive) != 0 {
		t.Fatalf("competitive context should be empty after degraded lookup")
	}
}
