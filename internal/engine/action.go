package engine

import "encoding/json"

// ActionKind enumerates the five things an agent may submit for a tick.
type ActionKind string

const (
	ActionMove    ActionKind = "move"
	ActionGather  ActionKind = "gather"
	ActionRest    ActionKind = "rest"
	ActionTrade   ActionKind = "trade"
	ActionAttack  ActionKind = "attack"
	ActionUnknown ActionKind = "unknown"
)

// Action is a tagged union of the fields any action kind might carry. Only
// the fields relevant to Kind are meaningful; the resolver ignores the
// rest. Parsed once at the request boundary so the resolver never touches
// raw JSON.
type Action struct {
	Kind   ActionKind
	DX     int
	DY     int
	Target string
	Amount int
}

// actionWire is the on-the-wire shape accepted from submit-action
// requests: a loose, partially-populated payload that ParseAction
// validates into a concrete Action.
type actionWire struct {
	Type   string `json:"type"`
	DX     int    `json:"dx"`
	DY     int    `json:"dy"`
	Target string `json:"target"`
	Amount int    `json:"amount"`
}

// ParseAction decodes a submitted action body into an Action. An
// unrecognized type becomes ActionUnknown rather than an error — the
// resolver is responsible for rejecting it with ACTION_REJECTED. An empty
// or missing type becomes ActionRest, the same default the tick driver
// applies to an agent with no submitted action.
func ParseAction(raw json.RawMessage) (Action, error) {
	var w actionWire
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &w); err != nil {
			return Action{}, err
		}
	}
	a := Action{
		DX:     w.DX,
		DY:     w.DY,
		Target: w.Target,
		Amount: w.Amount,
	}
	switch ActionKind(w.Type) {
	case ActionMove, ActionGather, ActionRest, ActionTrade, ActionAttack:
		a.Kind = ActionKind(w.Type)
	case "":
		a.Kind = ActionRest
	default:
		a.Kind = ActionUnknown
	}
	return a, nil
}
