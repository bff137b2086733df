package world

// TileView is a tile as seen by an observing agent: its position plus the
// physics fields, no internal bookkeeping.
type TileView struct {
	X           int     `json:"x"`
	Y           int     `json:"y"`
	Degradation float64 `json:"degradation"`
	Resource    int     `json:"resource"`
	Hazard      float64 `json:"hazard"`
}

// AgentView is the subset of another agent's state visible to an
// observer: enough to act on, nothing private.
type AgentView struct {
	AgentID    string  `json:"agent_id"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	HP         int     `json:"hp"`
	TrustScore float64 `json:"trust_score"`
}

// Observation is the full payload returned to an agent requesting its
// current view of the world.
type Observation struct {
	Tick         uint64      `json:"tick"`
	Radius       int         `json:"radius"`
	Agent        *AgentSelf  `json:"agent"`
	Tiles        []TileView  `json:"tiles"`
	NearbyAgents []AgentView `json:"nearby_agents"`
	AllAgents    []AgentView `json:"all_agents"`
	AliveAgents  int         `json:"alive_agents,omitempty"`
	MarketPrice  float64     `json:"market_price,omitempty"`
}

// AgentSelf mirrors agents.Agent for an observation payload — a view type
// rather than the live struct, so the request surface never hands callers
// a pointer into locked world state.
type AgentSelf struct {
	AgentID       string         `json:"agent_id"`
	X             int            `json:"x"`
	Y             int            `json:"y"`
	HP            int            `json:"hp"`
	Inventory     map[string]int `json:"inventory"`
	Alive         bool           `json:"alive"`
	TrustScore    float64        `json:"trust_score"`
	Betrayals     int            `json:"betrayals"`
	Alliances     []string       `json:"alliances"`
}

// ExtractObservation builds the view an agent gets of the world: nearby
// tiles within radius, nearby and all other living agents, and ambient
// world stats. Returns nil if the agent does not exist.
func (s *State) ExtractObservation(agentID string, radius int) *Observation {
	a, ok := s.Agents[agentID]
	if !ok {
		return nil
	}

	self := &AgentSelf{
		AgentID:    a.ID,
		X:          a.X,
		Y:          a.Y,
		HP:         a.HP,
		Inventory:  a.Inventory,
		Alive:      a.Alive,
		TrustScore: a.TrustScore,
		Betrayals:  a.Betrayals,
		Alliances:  a.Alliances,
	}

	if !a.Alive {
		return &Observation{
			Tick:         s.Tick,
			Radius:       radius,
			Agent:        self,
			Tiles:        []TileView{},
			NearbyAgents: []AgentView{},
			AllAgents:    []AgentView{},
		}
	}

	var tiles []TileView
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			x, y := a.X+dx, a.Y+dy
			if !s.Grid.InBounds(x, y) {
				continue
			}
			t := s.Grid.At(x, y)
			tiles = append(tiles, TileView{X: x, Y: y, Degradation: t.Degradation, Resource: t.Resource, Hazard: t.Hazard})
		}
	}

	nearby := []AgentView{}
	all := []AgentView{}
	aliveTotal := 0
	for _, id := range s.AgentOrder {
		other := s.Agents[id]
		if !other.Alive {
			continue
		}
		aliveTotal++
		if other.ID == agentID {
			continue
		}
		view := AgentView{AgentID: other.ID, X: other.X, Y: other.Y, HP: other.HP, TrustScore: round1(other.TrustScore)}
		all = append(all, view)
		if abs(other.X-a.X) <= radius && abs(other.Y-a.Y) <= radius {
			nearby = append(nearby, view)
		}
	}

	return &Observation{
		Tick:         s.Tick,
		Radius:       radius,
		Agent:        self,
		Tiles:        tiles,
		NearbyAgents: nearby,
		AllAgents:    all,
		AliveAgents:  aliveTotal,
		MarketPrice:  round3(s.MarketPrice),
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
