// Command worldsim runs the Crossroads Oasis deterministic world server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/talgya/crossroads-oasis/internal/anchorsink"
	"github.com/talgya/crossroads-oasis/internal/api"
	"github.com/talgya/crossroads-oasis/internal/config"
	"github.com/talgya/crossroads-oasis/internal/engine"
	"github.com/talgya/crossroads-oasis/internal/entrygate"
	"github.com/talgya/crossroads-oasis/internal/persistence"
)

func newLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func main() {
	logger := newLogger()
	slog.SetDefault(logger)

	slog.Info("Crossroads Oasis — deterministic multi-agent world server")

	cfg := config.Load()

	// ── Database and world replay ───────────────────────────────────
	store, err := persistence.Open(cfg.DBPath, cfg.SnapshotEveryTicks)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("database opened", "path", cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.LoadWorld(ctx, cfg.MapSize)
	if err != nil {
		slog.Error("failed to load world", "error", err)
		os.Exit(1)
	}
	// The event log only replays ACTION_SUBMITTED events; an agent minted
	// by the entry gate after the last snapshot but before a crash has no
	// tick event to replay it back into existence, even though it's still
	// registered in the agents table. Rejoin any such agent so it remains
	// reachable by submit-action/observation requests.
	registeredIDs, err := store.ListAgentIDs(ctx)
	if err != nil {
		slog.Error("failed to list registered agents", "error", err)
	}
	rejoined := 0
	for _, id := range registeredIDs {
		if _, ok := st.Agents[id]; !ok {
			st.AddAgent(id)
			rejoined++
		}
	}
	if rejoined > 0 {
		slog.Info("rejoined agents missing from replayed world", "count", rejoined)
	}

	slog.Info("world ready", "size", cfg.MapSize, "tick", st.Tick,
		"agents", humanize.Comma(int64(len(st.Agents))), "alive", st.AliveCount())

	// ── Anchor notifier ──────────────────────────────────────────────
	var anchor engine.AnchorNotifier
	if cfg.StateAnchorEnabled() {
		chainAnchorer, err := anchorsink.NewChainAnchorer(ctx, cfg.ChainRPCURL, cfg.StateAnchorContractAddress, cfg.OraclePrivateKey)
		if err != nil {
			slog.Warn("chain anchor unavailable, falling back to log-only anchoring", "error", err)
			anchor = anchorsink.LogOnlySink{}
		} else {
			defer chainAnchorer.Close()
			anchor = anchorsink.NewChainSink(chainAnchorer)
			slog.Info("state anchoring enabled on chain", "contract", cfg.StateAnchorContractAddress)
		}
	} else {
		anchor = anchorsink.LogOnlySink{}
		slog.Info("state anchor contract not configured — anchors are logged only")
	}

	// ── Tick scheduler ───────────────────────────────────────────────
	sched := engine.NewScheduler(st, store, anchor)
	sched.Interval = time.Duration(cfg.TickIntervalMS) * time.Millisecond

	// ── Entry gate ───────────────────────────────────────────────────
	var verifier entrygate.Verifier
	if cfg.ChainModeEnabled() {
		chainVerifier, err := entrygate.NewChainVerifier(cfg.ChainRPCURL, cfg.EntryFeeContractAddress)
		if err != nil {
			slog.Warn("chain entry verification unavailable, falling back to trust mode", "error", err)
			verifier = entrygate.TrustVerifier{DemoSecret: cfg.EntryDemoSecret}
		} else {
			defer chainVerifier.Close()
			verifier = chainVerifier
			slog.Info("entry verification running in chain mode", "contract", cfg.EntryFeeContractAddress)
		}
	} else {
		verifier = entrygate.TrustVerifier{DemoSecret: cfg.EntryDemoSecret}
		slog.Info("entry verification running in trust mode", "demo_secret", cfg.EntryDemoSecret)
	}
	gate := entrygate.NewGate(verifier, store, sched, cfg.EntryPriceAsset, cfg.EntryPriceAmount)

	if cfg.AdminKey == "" {
		slog.Warn("WORLDSIM_ADMIN_KEY not set — admin endpoints will be disabled")
	}

	// ── HTTP API ─────────────────────────────────────────────────────
	apiServer := &api.Server{
		Scheduler: sched,
		Store:     store,
		Gate:      gate,
		ObsRadius: cfg.ObsRadius,
		Port:      cfg.Port,
		AdminKey:  cfg.AdminKey,
	}
	apiServer.Start()

	// ── Run ──────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		sched.Stop()
		cancel()
	}()

	fmt.Printf("Crossroads Oasis is alive: tick %d, %d agents.\n", st.Tick, st.AliveCount())
	fmt.Printf("API: http://localhost:%d/world/status\n", cfg.Port)
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	sched.Run(ctx)

	slog.Info("final snapshot...")
	snapshot, err := st.Export()
	if err != nil {
		slog.Error("final export failed", "error", err)
	} else if err := store.SaveSnapshot(context.Background(), st.Tick, snapshot); err != nil {
		slog.Error("final snapshot failed", "error", err)
	}

	fmt.Println("Simulation stopped. World state saved.")
}
