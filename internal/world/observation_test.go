package world

import "testing"

func TestExtractObservationUnknownAgent(t *testing.T) {
	s := NewState(10)
	if obs := s.ExtractObservation("nobody", 3); obs != nil {
		t.Fatalf("expected nil observation for unknown agent, got %+v", obs)
	}
}

func TestExtractObservationDeadAgentGetsEmptyReadOut(t *testing.T) {
	s := NewState(10)
	a := s.AddAgent("a")
	a.Alive = false

	obs := s.ExtractObservation("a", 3)
	if obs == nil {
		t.Fatal("expected an observation for a known (if dead) agent")
	}
	if len(obs.Tiles) != 0 || len(obs.NearbyAgents) != 0 || len(obs.AllAgents) != 0 {
		t.Fatalf("dead agent should see empty tiles/others, got %+v", obs)
	}
}

func TestExtractObservationChebyshevRadius(t *testing.T) {
	s := NewState(20)
	a := s.AddAgent("a")
	radius := 3
	obs := s.ExtractObservation("a", radius)

	expectedTiles := 0
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if s.Grid.InBounds(a.X+dx, a.Y+dy) {
				expectedTiles++
			}
		}
	}
	if len(obs.Tiles) != expectedTiles {
		t.Fatalf("expected %d tiles in a %d-radius Chebyshev window, got %d", expectedTiles, radius, len(obs.Tiles))
	}
}

func TestExtractObservationExcludesSelfAndDeadFromOthers(t *testing.T) {
	s := NewState(20)
	self := s.AddAgent("self")
	near := s.AddAgent("near")
	near.X, near.Y = self.X, self.Y
	dead := s.AddAgent("dead")
	dead.X, dead.Y = self.X, self.Y
	dead.Alive = false

	obs := s.ExtractObservation("self", 5)
	if obs.AliveAgents != 2 {
		t.Fatalf("expected 2 alive agents (self + near), got %d", obs.AliveAgents)
	}
	for _, v := range obs.AllAgents {
		if v.AgentID == "self" {
			t.Fatal("observation must not include the observer itself in all_agents")
		}
		if v.AgentID == "dead" {
			t.Fatal("observation must not include dead agents")
		}
	}
}
