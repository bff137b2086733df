package engine

import (
	"testing"

	"github.com/talgya/crossroads-oasis/internal/world"
)

// TestScenarioMarketPriceReactsToScarcity drains every tile's resource
// ahead of a tick and checks that the resulting scarcity swing crosses the
// reporting threshold and is reflected in both the emitted event and the
// state's cached MarketPrice.
func TestScenarioMarketPriceReactsToScarcity(t *testing.T) {
	s := world.NewState(5)
	s.AddAgent("a")
	if s.MarketPrice != 1.0 {
		t.Fatalf("genesis market price = %v, want 1.0", s.MarketPrice)
	}

	for y := 0; y < s.Size; y++ {
		for x := 0; x < s.Size; x++ {
			s.Grid.At(x, y).Resource = 0
		}
	}

	events := ResolveTick(s, nil)
	var found bool
	for _, e := range events {
		if e.Type != "MARKET_PRICE_UPDATED" {
			continue
		}
		found = true
		oldPrice, _ := e.Fields["old_price"].(float64)
		newPrice, _ := e.Fields["new_price"].(float64)
		if oldPrice != 1.0 {
			t.Fatalf("old_price = %v, want 1.0", oldPrice)
		}
		if newPrice <= oldPrice {
			t.Fatalf("new_price = %v, expected a rise under total scarcity", newPrice)
		}
	}
	if !found {
		t.Fatalf("expected MARKET_PRICE_UPDATED once scarcity crosses the reporting threshold, got %v", eventTypes(events))
	}
	if s.MarketPrice < 1.0 || s.MarketPrice > 5.0 {
		t.Fatalf("market price %v left out of [1.0, 5.0]", s.MarketPrice)
	}
}

// TestScenarioMarketPriceSilentOnSmallDrift confirms sub-threshold price
// movement between ticks produces no event, matching ResolveTick's
// marketDeltaThreshold gate. The first tick settles MarketPrice from its
// placeholder genesis value to the grid's actual equilibrium; the second
// tick's drift off that equilibrium is what's asserted as silent.
func TestScenarioMarketPriceSilentOnSmallDrift(t *testing.T) {
	s := world.NewState(5)
	s.AddAgent("a")
	ResolveTick(s, nil)

	events := ResolveTick(s, nil)
	for _, e := range events {
		if e.Type == "MARKET_PRICE_UPDATED" {
			t.Fatalf("a single quiet tick off equilibrium should not swing price past the reporting threshold, got %v", e)
		}
	}
}

// TestScenarioRestLoopRecoversFromHazardDamage plays out an agent resting
// in a zero-hazard tile across several ticks, chaining implicit-rest
// defaulting with HP recovery the way a live session's idle player would.
func TestScenarioRestLoopRecoversFromHazardDamage(t *testing.T) {
	s := world.NewState(10)
	a := s.AddAgent("a")
	a.HP = 15
	s.Grid.At(a.X, a.Y).Hazard = 0

	for i := 0; i < 5; i++ {
		ResolveTick(s, nil) // no submitted action: implicit Rest every tick
	}
	if a.HP != 20 {
		t.Fatalf("hp after 5 rest ticks = %d, want 20 (capped at max)", a.HP)
	}
	if !a.Alive {
		t.Fatal("agent should still be alive after a quiet rest loop")
	}
}

// TestScenarioTradeThenBetrayalFullFlow runs the trade-then-attack sequence
// end to end and checks the BETRAYAL_DETECTED event and the betrayal
// counter, and that an untouched third agent's trust is unaffected.
func TestScenarioTradeThenBetrayalFullFlow(t *testing.T) {
	s := world.NewState(10)
	x := s.AddAgent("x")
	y := s.AddAgent("y")
	bystander := s.AddAgent("z")
	x.X, x.Y = 5, 5
	y.X, y.Y = 5, 6
	bystander.X, bystander.Y = 0, 0
	x.Inventory["resource"] = 5
	for _, a := range []struct{ X, Y int }{{5, 5}, {5, 6}, {0, 0}} {
		s.Grid.At(a.X, a.Y).Hazard = 0
	}

	ResolveTick(s, map[string]Action{"x": {Kind: ActionTrade, Target: "y", Amount: 2}})
	events := ResolveTick(s, map[string]Action{"x": {Kind: ActionAttack, Target: "y"}})

	if !hasEvent(events, "BETRAYAL_DETECTED") {
		t.Fatalf("expected betrayal one tick after a trade, got %v", eventTypes(events))
	}
	if x.Betrayals != 1 {
		t.Fatalf("betrayals = %d, want 1", x.Betrayals)
	}
	if bystander.TrustScore != 100.0 {
		t.Fatalf("uninvolved agent's trust should be untouched, got %v", bystander.TrustScore)
	}
}
