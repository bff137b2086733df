package engine

import (
	"math"

	"github.com/talgya/crossroads-oasis/internal/agents"
	"github.com/talgya/crossroads-oasis/internal/tilephysics"
	"github.com/talgya/crossroads-oasis/internal/world"
)

// marketDeltaThreshold is the minimum price swing worth telling anyone
// about; smaller drifts are absorbed silently tick to tick.
const marketDeltaThreshold = 0.05

// reputationDecayInterval is how often trust scores drift back toward
// the neutral baseline.
const reputationDecayInterval = 10

// anchorInterval is how often the world state is hashed for anchoring.
const anchorInterval = 50

// restMaxHP is the HP ceiling a Rest action restores toward.
const restMaxHP = agents.MaxHP

func round3(x float64) float64 { return math.Round(x*1000) / 1000 }

// ResolveTick advances state by exactly one tick, applying pending for
// every living agent (agents with no submitted action implicitly Rest),
// and returns every event the tick produced in emission order. Callers
// must hold the world lock for the duration of the call.
func ResolveTick(s *world.State, pending map[string]Action) []Event {
	s.Tick++
	tick := s.Tick
	var events []Event

	oldPrice := s.MarketPrice
	s.MarketPrice = s.CalculateMarketPrice()
	if math.Abs(s.MarketPrice-oldPrice) > marketDeltaThreshold {
		events = append(events, newEvent(tick, "MARKET_PRICE_UPDATED", "", map[string]any{
			"old_price": round3(oldPrice),
			"new_price": round3(s.MarketPrice),
		}))
	}

	for y := 0; y < s.Size; y++ {
		for x := 0; x < s.Size; x++ {
			tilephysics.Step(s.Grid.At(x, y), tick)
		}
	}

	if tick%reputationDecayInterval == 0 {
		for _, id := range s.AgentOrder {
			s.Agents[id].DecayTrust()
		}
	}

	for _, id := range s.AgentOrder {
		a := s.Agents[id]
		if !a.Alive {
			continue
		}
		act, ok := pending[id]
		if !ok {
			act = Action{Kind: ActionRest}
		}
		events = append(events, resolveAction(s, a, act, tick)...)
	}

	for _, id := range s.AgentOrder {
		a := s.Agents[id]
		if !a.Alive {
			continue
		}
		t := s.Grid.At(a.X, a.Y)
		dmg := tilephysics.HazardDamage(t.Hazard, t.Degradation)
		if dmg <= 0 {
			continue
		}
		a.HP -= dmg
		events = append(events, newEvent(tick, "AGENT_DAMAGED", id, map[string]any{"amount": dmg}))
		if a.HP <= 0 {
			a.HP = 0
			a.Alive = false
			events = append(events, newEvent(tick, "AGENT_DIED", id, map[string]any{"x": a.X, "y": a.Y}))
		}
	}

	if tick%anchorInterval == 0 {
		s.StateHash = s.ComputeStateHash()
		s.LastAnchorTick = tick
		events = append(events, newEvent(tick, "STATE_ANCHORED", "", map[string]any{
			"state_hash":   s.StateHash,
			"alive_agents": s.AliveCount(),
		}))
	}

	events = append(events, newEvent(tick, "TICK_DONE", "", map[string]any{}))
	return events
}

func rejected(tick uint64, agentID, reason string) Event {
	return newEvent(tick, "ACTION_REJECTED", agentID, map[string]any{"reason": reason})
}

func resolveAction(s *world.State, a *agents.Agent, act Action, tick uint64) []Event {
	switch act.Kind {
	case ActionMove:
		return resolveMove(s, a, act, tick)
	case ActionGather:
		return resolveGather(s, a, tick)
	case ActionRest:
		return resolveRest(a, tick)
	case ActionTrade:
		return resolveTrade(s, a, act, tick)
	case ActionAttack:
		return resolveAttack(s, a, act, tick)
	default:
		return []Event{rejected(tick, a.ID, "unknown_action")}
	}
}

func resolveMove(s *world.State, a *agents.Agent, act Action, tick uint64) []Event {
	nx, ny := a.X+act.DX, a.Y+act.DY
	if absInt(act.DX)+absInt(act.DY) != 1 || !s.Grid.InBounds(nx, ny) {
		return []Event{rejected(tick, a.ID, "invalid_move")}
	}
	a.X, a.Y = nx, ny
	return []Event{newEvent(tick, "AGENT_MOVED", a.ID, map[string]any{"x": nx, "y": ny})}
}

func resolveGather(s *world.State, a *agents.Agent, tick uint64) []Event {
	t := s.Grid.At(a.X, a.Y)
	if t.Resource <= 0 {
		return []Event{rejected(tick, a.ID, "no_resource")}
	}
	t.Resource--
	a.AddResource(1)
	return []Event{newEvent(tick, "RESOURCE_GATHERED", a.ID, map[string]any{"amount": 1})}
}

func resolveRest(a *agents.Agent, tick uint64) []Event {
	if a.HP >= restMaxHP {
		return nil
	}
	a.HP++
	if a.HP > restMaxHP {
		a.HP = restMaxHP
	}
	return []Event{newEvent(tick, "AGENT_RESTED", a.ID, map[string]any{"hp": a.HP})}
}

func resolveTrade(s *world.State, a *agents.Agent, act Action, tick uint64) []Event {
	target, ok := s.Agents[act.Target]
	if !ok || !target.Alive {
		return []Event{rejected(tick, a.ID, "invalid_trade_target")}
	}
	if act.Amount <= 0 || a.Resource() < act.Amount {
		return []Event{rejected(tick, a.ID, "insufficient_resource")}
	}

	a.AddResource(-act.Amount)
	target.AddResource(act.Amount)
	tradeValue := round2(float64(act.Amount) * s.MarketPrice)

	a.RecordTrade(agents.TradeRecord{Tick: tick, Partner: target.ID, Amount: act.Amount, Value: tradeValue, Role: "giver"})
	target.RecordTrade(agents.TradeRecord{Tick: tick, Partner: a.ID, Amount: act.Amount, Value: tradeValue, Role: "receiver"})
	s.RecordTrade(world.TradeEntry{Tick: tick, AgentID: a.ID, TargetID: target.ID, Amount: act.Amount})

	trustGain := math.Min(5.0, float64(act.Amount)*0.5)
	events := []Event{
		newEvent(tick, "TRADE_COMPLETED", a.ID, map[string]any{
			"target_id":    target.ID,
			"amount":       act.Amount,
			"market_price": round3(s.MarketPrice),
			"trade_value":  tradeValue,
		}),
	}
	events = append(events, reputationEvent(a, tick, trustGain, "successful_trade")...)
	events = append(events, reputationEvent(target, tick, trustGain, "successful_trade")...)
	return events
}

func resolveAttack(s *world.State, a *agents.Agent, act Action, tick uint64) []Event {
	target, ok := s.Agents[act.Target]
	if !ok || !target.Alive {
		return []Event{rejected(tick, a.ID, "invalid_attack_target")}
	}
	if absInt(a.X-target.X)+absInt(a.Y-target.Y) > 1 {
		return []Event{rejected(tick, a.ID, "target_not_adjacent")}
	}

	isBetrayal := s.DetectBetrayal(a.ID, target.ID)

	const atkDmg = 3
	a.HP = maxInt(0, a.HP-1)
	target.HP -= atkDmg

	var events []Event
	events = append(events, newEvent(tick, "COMBAT_HIT", a.ID, map[string]any{
		"target_id":   target.ID,
		"damage":      atkDmg,
		"attacker_hp": a.HP,
		"target_hp":   target.HP,
		"is_betrayal": isBetrayal,
	}))

	if isBetrayal {
		a.Betrayals++
		events = append(events, reputationEvent(a, tick, -25.0, "betrayal")...)
		events = append(events, newEvent(tick, "BETRAYAL_DETECTED", "", map[string]any{
			"betrayer_id":     a.ID,
			"victim_id":       target.ID,
			"total_betrayals": a.Betrayals,
		}))
	} else {
		events = append(events, reputationEvent(a, tick, -3.0, "combat")...)
	}

	if target.HP <= 0 {
		target.HP = 0
		target.Alive = false
		loot := target.Resource() / 2
		if loot > 0 {
			target.AddResource(-loot)
			a.AddResource(loot)
		}
		events = append(events, newEvent(tick, "COMBAT_KILL", a.ID, map[string]any{
			"target_id": target.ID,
			"loot":      loot,
		}))
	}
	if a.HP <= 0 {
		a.HP = 0
		a.Alive = false
		events = append(events, newEvent(tick, "AGENT_DIED", a.ID, map[string]any{"x": a.X, "y": a.Y}))
	}
	return events
}

// reputationEvent adjusts an agent's trust score and returns the
// REPUTATION_CHANGED event describing the change.
func reputationEvent(a *agents.Agent, tick uint64, change float64, reason string) []Event {
	old, updated := a.AdjustTrust(change)
	return []Event{newEvent(tick, "REPUTATION_CHANGED", a.ID, map[string]any{
		"old_score": round1(old),
		"new_score": round1(updated),
		"change":    round1(change),
		"reason":    reason,
	})}
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }
func round2(x float64) float64 { return math.Round(x*100) / 100 }

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
