// Package anchorsink notifies an external collaborator about every
// STATE_ANCHORED tick. It is fire-and-forget: a failed anchor call never
// blocks or perturbs the tick loop, it is only logged.
package anchorsink

import (
	"context"
	"log/slog"
	"time"
)

// Sink implements engine.AnchorNotifier.
type Sink interface {
	NotifyAnchor(tick uint64, stateHash string, aliveAgents int)
}

// LogOnlySink records anchor events to the structured logger without
// calling out to any external service — the default when no chain anchor
// contract is configured.
type LogOnlySink struct{}

func (LogOnlySink) NotifyAnchor(tick uint64, stateHash string, aliveAgents int) {
	slog.Info("state anchored", "tick", tick, "state_hash", stateHash, "alive_agents", aliveAgents)
}

// Anchorer is the narrow chain-writing surface ChainSink depends on, kept
// separate from entrygate.ChainVerifier since anchoring is a write
// (signed transaction) rather than a read.
type Anchorer interface {
	AnchorState(ctx context.Context, tick uint64, stateHash string, aliveAgents int) error
}

// ChainSink submits each anchor asynchronously via Anchorer, with a bounded
// timeout per submission so a stalled RPC can never accumulate unbounded
// goroutines.
type ChainSink struct {
	Anchorer Anchorer
	Timeout  time.Duration
}

// NewChainSink wires a ChainSink around an already-dialed Anchorer.
func NewChainSink(a Anchorer) *ChainSink {
	return &ChainSink{Anchorer: a, Timeout: 30 * time.Second}
}

// NotifyAnchor fires the chain submission in its own goroutine and logs
// the outcome — matching original_source/app/main.py's
// asyncio.create_task(anchor_svc.anchor_state(...)) fire-and-forget call,
// and original_source/app/chain/state_anchor.py's own internal
// success/failure logging.
func (c *ChainSink) NotifyAnchor(tick uint64, stateHash string, aliveAgents int) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
		defer cancel()
		if err := c.Anchorer.AnchorState(ctx, tick, stateHash, aliveAgents); err != nil {
			slog.Warn("chain anchor submission failed", "tick", tick, "error", err)
			return
		}
		slog.Info("state anchored on chain", "tick", tick, "state_hash", stateHash)
	}()
}
