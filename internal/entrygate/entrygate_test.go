package entrygate

import (
	"context"
	"testing"

	"github.com/talgya/crossroads-oasis/internal/engine"
	"github.com/talgya/crossroads-oasis/internal/world"
)

func TestTrustVerifierAcceptsPrefixedTxRef(t *testing.T) {
	v := TrustVerifier{DemoSecret: "demo"}
	cases := []struct {
		txRef string
		want  bool
	}{
		{"demo_anything", true},
		{"demo_", true},
		{"demo", false},
		{"prod_anything", false},
		{"", false},
	}
	for _, c := range cases {
		got, err := v.VerifyPaid(context.Background(), c.txRef, "0xwallet")
		if c.want && err != nil {
			t.Fatalf("VerifyPaid(%q): %v", c.txRef, err)
		}
		if !c.want {
			if _, ok := err.(ErrInvalidTxRef); !ok {
				t.Errorf("VerifyPaid(%q) err = %v (%T), want ErrInvalidTxRef", c.txRef, err, err)
			}
		}
		if got != c.want {
			t.Errorf("VerifyPaid(%q) = %v, want %v", c.txRef, got, c.want)
		}
	}
}

// fakeRegistrar is an in-memory Registrar double so Gate.Confirm can be
// exercised without a real database.
type fakeRegistrar struct {
	agents map[string]string // agentID -> apiKey
	events []recordedEvent
}

type recordedEvent struct {
	tick    uint64
	typ     string
	agentID string
	payload map[string]any
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{agents: make(map[string]string)}
}

func (f *fakeRegistrar) UpsertAgent(_ context.Context, agentID, apiKey, _ string, _ []byte) error {
	f.agents[agentID] = apiKey
	return nil
}

func (f *fakeRegistrar) InsertEntry(_ context.Context, _, _, _, _ string) error { return nil }

func (f *fakeRegistrar) InsertSimpleEvent(_ context.Context, tick uint64, typ string, agentID string, payload map[string]any) error {
	f.events = append(f.events, recordedEvent{tick, typ, agentID, payload})
	return nil
}

func (f *fakeRegistrar) hasEventType(typ string) bool {
	for _, e := range f.events {
		if e.typ == typ {
			return true
		}
	}
	return false
}

type alwaysVerifier struct{ paid bool }

func (a alwaysVerifier) VerifyPaid(context.Context, string, string) (bool, error) {
	return a.paid, nil
}

func TestConfirmRejectsUnverifiedPayment(t *testing.T) {
	sched := engine.NewScheduler(world.NewState(10), nil, nil)
	reg := newFakeRegistrar()
	g := NewGate(alwaysVerifier{paid: false}, reg, sched, "USDC", "1.00")

	_, err := g.Confirm(context.Background(), "bogus_ref", "0xwallet", "scout")
	if _, ok := err.(ErrPaymentNotVerified); !ok {
		t.Fatalf("err = %v (%T), want ErrPaymentNotVerified", err, err)
	}
	if len(reg.agents) != 0 {
		t.Fatal("no agent should be registered on a rejected payment")
	}
}

type errVerifier struct{ err error }

func (e errVerifier) VerifyPaid(context.Context, string, string) (bool, error) {
	return false, e.err
}

func TestConfirmSurfacesInvalidTxRefDistinctFromPaymentRequired(t *testing.T) {
	sched := engine.NewScheduler(world.NewState(10), nil, nil)
	g := NewGate(errVerifier{ErrInvalidTxRef{Reason: "bad prefix"}}, newFakeRegistrar(), sched, "USDC", "1.00")

	_, err := g.Confirm(context.Background(), "nope", "0xwallet", "scout")
	if _, ok := err.(ErrInvalidTxRef); !ok {
		t.Fatalf("err = %v (%T), want ErrInvalidTxRef", err, err)
	}
}

func TestConfirmSurfacesMissingAgentAddress(t *testing.T) {
	sched := engine.NewScheduler(world.NewState(10), nil, nil)
	g := NewGate(errVerifier{ErrMissingAgentAddress{}}, newFakeRegistrar(), sched, "USDC", "1.00")

	_, err := g.Confirm(context.Background(), "demo_ok", "", "scout")
	if _, ok := err.(ErrMissingAgentAddress); !ok {
		t.Fatalf("err = %v (%T), want ErrMissingAgentAddress", err, err)
	}
}

func TestChainVerifierRejectsMissingWalletAddressBeforeAnyRPCCall(t *testing.T) {
	c := &ChainVerifier{}
	_, err := c.VerifyPaid(context.Background(), "tx1", "")
	if _, ok := err.(ErrMissingAgentAddress); !ok {
		t.Fatalf("err = %v (%T), want ErrMissingAgentAddress", err, err)
	}
}

func TestConfirmMintsAndRegistersAgent(t *testing.T) {
	state := world.NewState(10)
	sched := engine.NewScheduler(state, nil, nil)
	reg := newFakeRegistrar()
	g := NewGate(alwaysVerifier{paid: true}, reg, sched, "USDC", "1.00")

	res, err := g.Confirm(context.Background(), "demo_ok", "0xwallet", "scout")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.AgentID == "" || res.APIKey == "" {
		t.Fatal("expected a minted agent id and api key")
	}
	if _, ok := reg.agents[res.AgentID]; !ok {
		t.Fatal("agent not registered with the store")
	}
	if _, ok := state.Agents[res.AgentID]; !ok {
		t.Fatal("agent not spawned into the live world")
	}
	if !reg.hasEventType("AGENT_ENTERED") {
		t.Fatal("expected an AGENT_ENTERED event")
	}
}

// TestConfirmDoesNotResetWorldWhenAgentsAlive is the negative case for the
// extinction-reset rule: admitting a new agent alongside a living one must
// not wipe the survivor.
func TestConfirmDoesNotResetWorldWhenAgentsAlive(t *testing.T) {
	state := world.NewState(10)
	survivor := state.AddAgent("survivor")
	survivor.Alive = true
	sched := engine.NewScheduler(state, nil, nil)
	reg := newFakeRegistrar()
	g := NewGate(alwaysVerifier{paid: true}, reg, sched, "USDC", "1.00")

	res, err := g.Confirm(context.Background(), "demo_ok", "0xwallet", "newcomer")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.DidReset {
		t.Fatal("should not reset the world while a survivor is alive")
	}
	if _, ok := state.Agents["survivor"]; !ok {
		t.Fatal("existing living agent must survive admission of a new one")
	}
	if reg.hasEventType("WORLD_RESET_IF_EXTINCT") {
		t.Fatal("no reset event expected when the world was not extinct")
	}
}

// TestConfirmResetsWorldWhenAllAgentsDead exercises the extinction-reset
// rule end to end: a world with only dead agents gets wiped before the
// new arrival is spawned in.
func TestConfirmResetsWorldWhenAllAgentsDead(t *testing.T) {
	state := world.NewState(10)
	ghost := state.AddAgent("ghost")
	ghost.Alive = false
	sched := engine.NewScheduler(state, nil, nil)
	reg := newFakeRegistrar()
	g := NewGate(alwaysVerifier{paid: true}, reg, sched, "USDC", "1.00")

	res, err := g.Confirm(context.Background(), "demo_ok", "0xwallet", "newcomer")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !res.DidReset {
		t.Fatal("expected a reset when every prior agent was dead")
	}
	if _, ok := state.Agents["ghost"]; ok {
		t.Fatal("dead agent should have been cleared by the extinction reset")
	}
	if _, ok := state.Agents[res.AgentID]; !ok {
		t.Fatal("new agent should exist in the post-reset world")
	}
	if !reg.hasEventType("WORLD_RESET_IF_EXTINCT") {
		t.Fatal("expected a WORLD_RESET_IF_EXTINCT event")
	}
}

func TestQuoteEchoesConfiguredPriceAndDemoHint(t *testing.T) {
	sched := engine.NewScheduler(world.NewState(10), nil, nil)
	g := NewGate(TrustVerifier{DemoSecret: "demo"}, newFakeRegistrar(), sched, "USDC", "2.50")

	q := g.Quote("demo")
	if q.Asset != "USDC" || q.Amount != "2.50" {
		t.Fatalf("unexpected quote: %+v", q)
	}
	if q.DemoTxRef != "demo_<anything>" {
		t.Fatalf("demo tx ref hint = %q, want demo_<anything>", q.DemoTxRef)
	}
}
