// Package entrygate mints new agent identities at the door: it checks an
// entry payment (either a trust-mode demo secret or an on-chain paid
// flag), then spawns the agent into the live world, resetting the
// session first if the world was empty.
package entrygate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/talgya/crossroads-oasis/internal/engine"
	"github.com/talgya/crossroads-oasis/internal/world"
)

// Verifier checks whether a claimed entry payment is valid. TrustVerifier
// and ChainVerifier are the two concrete implementations; which one Gate
// uses is decided once at startup from configuration.
type Verifier interface {
	VerifyPaid(ctx context.Context, txRef, walletAddress string) (bool, error)
}

// TrustVerifier accepts a tx_ref as paid if it carries the configured demo
// secret prefix — a no-chain-required mode for local development and
// judging, matching the original's fallback when chain configuration is
// absent.
type TrustVerifier struct {
	DemoSecret string
}

func (t TrustVerifier) VerifyPaid(_ context.Context, txRef, _ string) (bool, error) {
	if !strings.HasPrefix(txRef, t.DemoSecret+"_") {
		return false, ErrInvalidTxRef{Reason: "tx_ref missing demo secret prefix"}
	}
	return true, nil
}

// Quote is returned by Gate.Quote to tell a prospective agent what to pay
// and how to reference the payment.
type Quote struct {
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
	Protocol    string `json:"protocol"`
	Instruction string `json:"instruction"`
	DemoTxRef   string `json:"demo_tx_ref_hint"`
}

// Registrar is the narrow persistence surface the gate needs: recording a
// newly-minted agent's credentials and its entry payment.
type Registrar interface {
	UpsertAgent(ctx context.Context, agentID, apiKey, walletAddress string, stateJSON []byte) error
	InsertEntry(ctx context.Context, txRef, agentID, asset, amount string) error
	InsertSimpleEvent(ctx context.Context, tick uint64, typ string, agentID string, payload map[string]any) error
}

// Gate wires entry verification to agent minting and world admission.
type Gate struct {
	Verifier    Verifier
	Store       Registrar
	Scheduler   *engine.Scheduler
	PriceAsset  string
	PriceAmount string
}

// NewGate builds a Gate around an already-selected verifier.
func NewGate(v Verifier, store Registrar, sched *engine.Scheduler, priceAsset, priceAmount string) *Gate {
	return &Gate{Verifier: v, Store: store, Scheduler: sched, PriceAsset: priceAsset, PriceAmount: priceAmount}
}

// Quote describes the entry fee using the x402 payment-required
// convention: price, asset, and a protocol tag a client recognizes.
func (g *Gate) Quote(demoSecret string) Quote {
	return Quote{
		Asset:       g.PriceAsset,
		Amount:      g.PriceAmount,
		Protocol:    "x402",
		Instruction: fmt.Sprintf("pay %s %s, then confirm with the resulting tx_ref", g.PriceAmount, g.PriceAsset),
		DemoTxRef:   demoSecret + "_<anything>",
	}
}

// Result is what Confirm returns on success: the new agent's credentials.
type Result struct {
	AgentID  string
	APIKey   string
	DidReset bool
	TargetHP int
}

// ErrPaymentNotVerified is returned when a well-formed entry request is
// checked against the chain (or trust-mode equivalent) and found unpaid —
// a 402, matching original_source/app/api/routes.py:104's payment_required.
type ErrPaymentNotVerified struct{ Reason string }

func (e ErrPaymentNotVerified) Error() string { return "payment not verified: " + e.Reason }

// ErrInvalidTxRef is returned when a trust-mode tx_ref doesn't carry the
// configured demo-secret prefix — a malformed request, not an unpaid one;
// matches routes.py:107-108's invalid_tx_ref (400, not payment_required).
type ErrInvalidTxRef struct{ Reason string }

func (e ErrInvalidTxRef) Error() string { return "invalid tx_ref: " + e.Reason }

// ErrMissingAgentAddress is returned when chain-mode verification is
// attempted without a wallet address to check payment against; matches
// routes.py:92-93's missing_agent_address (400, checked before any RPC call).
type ErrMissingAgentAddress struct{}

func (e ErrMissingAgentAddress) Error() string { return "agent_address is required in chain mode" }

// Confirm verifies the payment referenced by txRef, mints a new agent
// identity, resets the session first if the world was empty (the
// extinction-reset rule), spawns the agent, and persists its
// registration. Matches the original's /entry/confirm handler: verify,
// mint, world-lock reset-if-extinct + add_agent, db-lock persist.
func (g *Gate) Confirm(ctx context.Context, txRef, walletAddress, name string) (Result, error) {
	ok, err := g.Verifier.VerifyPaid(ctx, txRef, walletAddress)
	if err != nil {
		switch err.(type) {
		case ErrInvalidTxRef, ErrMissingAgentAddress:
			return Result{}, err
		}
		return Result{}, fmt.Errorf("verify payment: %w", err)
	}
	if !ok {
		return Result{}, ErrPaymentNotVerified{Reason: "tx_ref not recognized as paid"}
	}

	agentID := uuid.NewString()
	apiKey, err := randomAPIKey()
	if err != nil {
		return Result{}, fmt.Errorf("mint api key: %w", err)
	}

	var didReset bool
	hp := 0
	var snapshot []byte
	g.Scheduler.WithState(func(s *world.State) {
		didReset = s.AliveCount() == 0
		if didReset {
			s.ResetSession()
		}
		if ag, exists := s.Agents[agentID]; exists {
			hp = ag.HP
		} else {
			ag := s.AddAgent(agentID)
			ag.Name = name
			ag.WalletAddress = walletAddress
			hp = ag.HP
		}
		snapshot, _ = s.Export()
	})
	if didReset {
		g.Scheduler.ClearPending()
	}

	if err := g.Store.UpsertAgent(ctx, agentID, apiKey, walletAddress, snapshot); err != nil {
		return Result{}, fmt.Errorf("register agent: %w", err)
	}
	if err := g.Store.InsertEntry(ctx, txRef, agentID, g.PriceAsset, g.PriceAmount); err != nil {
		return Result{}, fmt.Errorf("record entry: %w", err)
	}
	if err := g.Store.InsertSimpleEvent(ctx, 0, "AGENT_ENTERED", agentID, map[string]any{
		"agent_id": agentID, "name": name,
	}); err != nil {
		return Result{}, fmt.Errorf("record entry event: %w", err)
	}
	if didReset {
		if err := g.Store.InsertSimpleEvent(ctx, 0, "WORLD_RESET_IF_EXTINCT", "", map[string]any{
			"reason": "no_alive_agents",
		}); err != nil {
			return Result{}, fmt.Errorf("record reset event: %w", err)
		}
	}

	return Result{AgentID: agentID, APIKey: apiKey, DidReset: didReset, TargetHP: hp}, nil
}

func randomAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
