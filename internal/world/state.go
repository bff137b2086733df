package world

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/talgya/crossroads-oasis/internal/agents"
	"github.com/talgya/crossroads-oasis/internal/entropy"
)

// maxRecentTrades bounds the betrayal-detection window so it never grows
// past the most recent trades in the world.
const maxRecentTrades = 20

// TradeEntry is one row of the recent-trades ring buffer used to detect
// betrayal: an attack within 10 ticks of a trade between the same pair.
type TradeEntry struct {
	Tick     uint64 `json:"tick"`
	AgentID  string `json:"agent_id"`
	TargetID string `json:"target_id"`
	Amount   int    `json:"amount"`
}

// State is the single mutable world: the grid, every agent, and the
// market/anchor bookkeeping derived from them. All reads and writes to a
// State must hold the caller's world lock — State itself has no locking.
type State struct {
	Size           int                      `json:"size"`
	Tick           uint64                   `json:"tick"`
	Grid           *Grid                    `json:"grid"`
	Agents         map[string]*agents.Agent `json:"agents"`
	AgentOrder     []string                 `json:"agent_order"` // insertion order; map iteration order is not stable
	MarketPrice    float64                  `json:"market_price"`
	RecentTrades   []TradeEntry             `json:"recent_trades"`
	LastAnchorTick uint64                   `json:"last_anchor_tick"`
	StateHash      string                   `json:"state_hash"`
}

// Export serializes the full world state for snapshotting. Must be called
// with the caller's world lock held.
func (s *State) Export() ([]byte, error) {
	return json.Marshal(s)
}

// ImportState deserializes a snapshot produced by Export. The caller is
// responsible for then replaying any events past the snapshot's tick.
func ImportState(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Agents == nil {
		s.Agents = make(map[string]*agents.Agent)
	}
	return &s, nil
}

// NewState builds a freshly-generated world of the given size with no
// agents and a base market price of 1.0.
func NewState(size int) *State {
	return &State{
		Size:        size,
		Tick:        0,
		Grid:        NewGrid(size),
		Agents:      make(map[string]*agents.Agent),
		AgentOrder:  make([]string, 0),
		MarketPrice: 1.0,
	}
}

// spawnCenter returns the fixed spawn-ring center for this grid size.
func (s *State) spawnCenter() (int, int) {
	return s.Size/2 - 1, s.Size/2 - 1
}

const (
	spawnInnerRadius = 2
	spawnOuterRadius = 3
)

// spawnCandidate derives a deterministic candidate offset from the spawn
// center for the given agent and attempt number, hashed via
// entropy.StableUnit so repeated spawns are replayable without an RNG.
func (s *State) spawnCandidate(agentID string, attempt int) (int, int) {
	cx, cy := s.spawnCenter()
	sx := entropy.StableUnit(fmt.Sprintf("spawnx:%s:%d", agentID, attempt))
	sy := entropy.StableUnit(fmt.Sprintf("spawny:%s:%d", agentID, attempt))
	dx := int((sx - 0.5) * 2 * spawnOuterRadius)
	dy := int((sy - 0.5) * 2 * spawnOuterRadius)
	x, y := cx+dx, cy+dy
	if x < 0 {
		x = 0
	} else if x >= s.Size {
		x = s.Size - 1
	}
	if y < 0 {
		y = 0
	} else if y >= s.Size {
		y = s.Size - 1
	}
	return x, y
}

// AddAgent spawns a new agent onto the grid via ring sampling: up to 8
// candidate offsets from the grid center are tried, accepting the first
// that falls within [innerRadius, outerRadius] of the center, falling back
// to the last candidate if none land in range.
func (s *State) AddAgent(id string) *agents.Agent {
	cx, cy := s.spawnCenter()
	x, y := s.spawnCandidate(id, 0)
	for attempt := 1; attempt < 8; attempt++ {
		dx, dy := x-cx, y-cy
		dist2 := dx*dx + dy*dy
		if dist2 >= spawnInnerRadius*spawnInnerRadius && dist2 <= spawnOuterRadius*spawnOuterRadius {
			break
		}
		x, y = s.spawnCandidate(id, attempt)
	}

	a := agents.NewAgent(id, x, y)
	s.Agents[id] = a
	s.AgentOrder = append(s.AgentOrder, id)
	return a
}

// ResetEnvironment regenerates the grid from scratch, leaving agents
// untouched.
func (s *State) ResetEnvironment() {
	s.Grid = NewGrid(s.Size)
}

// ResetSession regenerates the grid and clears the agent registry. Called
// only by the session gate's extinction rule.
func (s *State) ResetSession() {
	s.ResetEnvironment()
	s.Agents = make(map[string]*agents.Agent)
	s.AgentOrder = s.AgentOrder[:0]
}

// AliveCount returns the number of agents with Alive == true.
func (s *State) AliveCount() int {
	n := 0
	for _, a := range s.Agents {
		if a.Alive {
			n++
		}
	}
	return n
}

// CalculateMarketPrice derives the current resource price from scarcity
// and average tile degradation, capped to [1.0, 5.0].
func (s *State) CalculateMarketPrice() float64 {
	totalResource := 0
	totalDeg := 0.0
	cells := s.Size * s.Size
	for y := 0; y < s.Size; y++ {
		for x := 0; x < s.Size; x++ {
			t := s.Grid.At(x, y)
			totalResource += t.Resource
			totalDeg += t.Degradation
		}
	}
	maxResource := float64(cells * 100)
	scarcity := 1.0 - float64(totalResource)/maxResource
	avgDeg := totalDeg / float64(cells)

	scarcityMult := 1 + scarcity*2.5
	degMult := 1 + avgDeg*1.5
	price := 1.0 * scarcityMult * degMult
	return math.Min(5.0, price)
}

// anchorAgent is the per-agent slice of state that feeds the state-anchor
// hash. Field order is alphabetical by JSON tag so struct marshaling
// produces the same canonical, lexicographically-keyed output every time.
type anchorAgent struct {
	Alive     bool    `json:"alive"`
	HP        int     `json:"hp"`
	Resources int     `json:"resources"`
	Trust     float64 `json:"trust"`
	X         int     `json:"x"`
	Y         int     `json:"y"`
}

// anchorSnapshot is the canonical payload hashed every 50 ticks to produce
// StateHash. Field order mirrors anchorAgent's alphabetical discipline.
type anchorSnapshot struct {
	Agents           map[string]anchorAgent `json:"agents"`
	Tick             uint64                 `json:"tick"`
	TotalDegradation float64                `json:"total_degradation"`
	TotalResources   int                    `json:"total_resources"`
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}

// ComputeStateHash hashes a canonical snapshot of the world (tick, every
// agent's position/hp/resources/alive/trust, and grid-wide resource and
// degradation totals) for on-chain anchoring. Go's encoding/json sorts map
// keys, so the map[string]anchorAgent field alone gives a deterministic,
// lexicographically-ordered agents object.
func (s *State) ComputeStateHash() string {
	snap := anchorSnapshot{
		Agents: make(map[string]anchorAgent, len(s.Agents)),
		Tick:   s.Tick,
	}
	for id, a := range s.Agents {
		snap.Agents[id] = anchorAgent{
			X:         a.X,
			Y:         a.Y,
			HP:        a.HP,
			Resources: a.Resource(),
			Alive:     a.Alive,
			Trust:     round2(a.TrustScore),
		}
	}
	for y := 0; y < s.Size; y++ {
		for x := 0; x < s.Size; x++ {
			t := s.Grid.At(x, y)
			snap.TotalDegradation += t.Degradation
			snap.TotalResources += t.Resource
		}
	}

	buf, err := json.Marshal(snap)
	if err != nil {
		// snap contains only primitives and a string-keyed map; Marshal
		// cannot fail on this shape.
		panic(err)
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// DetectBetrayal reports whether attacker and victim traded with each
// other (in either direction) within the last 10 ticks.
func (s *State) DetectBetrayal(attackerID, victimID string) bool {
	for _, tr := range s.RecentTrades {
		if s.Tick-tr.Tick > 10 {
			continue
		}
		if (tr.AgentID == attackerID && tr.TargetID == victimID) ||
			(tr.AgentID == victimID && tr.TargetID == attackerID) {
			return true
		}
	}
	return false
}

// RecordTrade appends a trade to the betrayal-detection ring buffer,
// trimming to the most recent maxRecentTrades entries.
func (s *State) RecordTrade(entry TradeEntry) {
	s.RecentTrades = append(s.RecentTrades, entry)
	if len(s.RecentTrades) > maxRecentTrades {
		s.RecentTrades = s.RecentTrades[len(s.RecentTrades)-maxRecentTrades:]
	}
}
