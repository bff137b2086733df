// Package agents provides the agent data model: identity, inventory,
// vitals, and the reputation/alliance layer built on top of them.
package agents

// TradeRecord is one entry in an agent's bounded trade history.
type TradeRecord struct {
	Tick    uint64  `json:"tick"`
	Partner string  `json:"partner"`
	Amount  int     `json:"amount"`
	Value   float64 `json:"value"`
	Role    string  `json:"role"` // "giver" or "receiver"
}

// maxTradeHistory bounds Agent.TradeHistory to the most recent trades —
// unbounded growth would make snapshots grow forever (see spec's bounded
// histories note).
const maxTradeHistory = 50

// Agent is the core entity representing a participant in the world.
type Agent struct {
	ID            string         `json:"agent_id"`
	Name          string         `json:"name,omitempty"`
	WalletAddress string         `json:"wallet_address,omitempty"`
	X             int            `json:"x"`
	Y             int            `json:"y"`
	HP            int            `json:"hp"`
	Alive         bool           `json:"alive"`
	Inventory     map[string]int `json:"inventory"`
	TrustScore    float64        `json:"trust_score"`
	TradeHistory  []TradeRecord  `json:"trade_history"`
	Betrayals     int            `json:"betrayals"`
	Alliances     []string       `json:"alliances"`
}

// MaxHP is the hit-point ceiling a Rest action restores toward.
const MaxHP = 20

// NewAgent constructs a freshly-spawned agent at full health with an empty
// inventory and neutral reputation.
func NewAgent(id string, x, y int) *Agent {
	return &Agent{
		ID:           id,
		X:            x,
		Y:            y,
		HP:           MaxHP,
		Alive:        true,
		Inventory:    map[string]int{"resource": 0},
		TrustScore:   100.0,
		TradeHistory: make([]TradeRecord, 0, 8),
		Alliances:    make([]string, 0),
	}
}

// Resource returns the agent's current resource count.
func (a *Agent) Resource() int {
	return a.Inventory["resource"]
}

// AddResource adjusts the agent's resource count by delta, which may be
// negative. Callers are expected to have already checked sufficiency.
func (a *Agent) AddResource(delta int) {
	a.Inventory["resource"] += delta
}

// RecordTrade appends a trade to the agent's history, trimming to the most
// recent maxTradeHistory entries.
func (a *Agent) RecordTrade(rec TradeRecord) {
	a.TradeHistory = append(a.TradeHistory, rec)
	if len(a.TradeHistory) > maxTradeHistory {
		a.TradeHistory = a.TradeHistory[len(a.TradeHistory)-maxTradeHistory:]
	}
}

// AdjustTrust moves TrustScore by change, clamped to [0, 100].
func (a *Agent) AdjustTrust(change float64) (old, updated float64) {
	old = a.TrustScore
	a.TrustScore += change
	if a.TrustScore < 0 {
		a.TrustScore = 0
	} else if a.TrustScore > 100 {
		a.TrustScore = 100
	}
	return old, a.TrustScore
}

// DecayTrust drifts TrustScore 0.5 toward the neutral baseline of 100,
// called once every 10 ticks by the world tick driver.
func (a *Agent) DecayTrust() {
	switch {
	case a.TrustScore > 100.0:
		a.TrustScore -= 0.5
		if a.TrustScore < 100.0 {
			a.TrustScore = 100.0
		}
	case a.TrustScore < 100.0:
		a.TrustScore += 0.5
		if a.TrustScore > 100.0 {
			a.TrustScore = 100.0
		}
	}
}
