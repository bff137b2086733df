// Package api provides the HTTP request surface for the world: a public
// entry gate, an authenticated per-agent action/observation surface, and
// an admin control plane. See design doc Section 8.4.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/crossroads-oasis/internal/agents"
	"github.com/talgya/crossroads-oasis/internal/engine"
	"github.com/talgya/crossroads-oasis/internal/entrygate"
	"github.com/talgya/crossroads-oasis/internal/persistence"
	"github.com/talgya/crossroads-oasis/internal/world"
	"github.com/talgya/crossroads-oasis/internal/worldflavor"
)

// Server serves the world over HTTP.
type Server struct {
	Scheduler *engine.Scheduler
	Store     *persistence.Store
	Gate      *entrygate.Gate
	ObsRadius int
	Port      int
	AdminKey  string // Bearer token for /admin/* endpoints. Empty = admin endpoints disabled.
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	// entry/confirm is the one endpoint that may call out to a chain RPC
	// to verify payment — rate-limit it per IP so a slow or unreachable
	// RPC can't be hammered into a self-inflicted denial of service.
	entryLimiter := NewRateLimiter(60, time.Hour)

	mux := http.NewServeMux()

	mux.HandleFunc("/entry/quote", s.handleEntryQuote)
	mux.HandleFunc("/entry/confirm", RateLimitMiddleware(entryLimiter, s.handleEntryConfirm))

	mux.HandleFunc("/world/observation", s.withAgent(s.handleObservation))
	mux.HandleFunc("/world/action", s.withAgent(s.handleAction))
	mux.HandleFunc("/world/status", s.handleStatus)
	mux.HandleFunc("/world/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("/world/agents", s.handleAgents)
	mux.HandleFunc("/world/grid", s.handleGrid)
	mux.HandleFunc("/world/market", s.handleMarket)
	mux.HandleFunc("/world/reputation", s.handleReputation)

	mux.HandleFunc("/admin/dqn-log", s.adminOnly(s.handleDQNLog))
	mux.HandleFunc("/admin/finalize-game", s.adminOnly(s.handleFinalizeGame))
	mux.HandleFunc("/admin/events", s.adminOnly(s.handleEvents))
	mux.HandleFunc("/admin/tick", s.adminOnly(s.handleAdminTick))
	mux.HandleFunc("/admin/spawn-demo-agents", s.adminOnly(s.handleSpawnDemoAgents))
	mux.HandleFunc("/admin/reset-world", s.adminOnly(s.handleResetWorld))

	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// adminOnly requires a bearer token matching AdminKey on every request.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			writeError(w, http.StatusForbidden, "admin endpoints disabled (no admin key configured)")
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.AdminKey {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// withAgent resolves the X-Agent-Token header to an agent ID and passes it
// to next; 401 if missing or unrecognized. Matches
// original_source/app/api/routes.py::auth.
func (s *Server) withAgent(next func(w http.ResponseWriter, r *http.Request, agentID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Agent-Token")
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing X-Agent-Token")
			return
		}
		agentID, ok, err := s.Store.AgentIDByToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid agent token")
			return
		}
		next(w, r, agentID)
	}
}

func (s *Server) handleEntryQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	quote := s.Gate.Quote("demo")
	writeJSON(w, http.StatusOK, quote)
}

type entryConfirmRequest struct {
	TxRef         string `json:"tx_ref"`
	WalletAddress string `json:"agent_address"`
	Name          string `json:"name"`
}

func (s *Server) handleEntryConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	var req entryConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.TxRef == "" {
		writeError(w, http.StatusBadRequest, "tx_ref is required")
		return
	}

	result, err := s.Gate.Confirm(r.Context(), req.TxRef, req.WalletAddress, req.Name)
	if err != nil {
		switch e := err.(type) {
		case entrygate.ErrPaymentNotVerified:
			writeError(w, http.StatusPaymentRequired, e.Error())
		case entrygate.ErrInvalidTxRef:
			writeError(w, http.StatusBadRequest, e.Error())
		case entrygate.ErrMissingAgentAddress:
			writeError(w, http.StatusBadRequest, e.Error())
		default:
			slog.Error("entry confirm failed", "error", err)
			writeError(w, http.StatusBadGateway, "entry confirmation failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":  result.AgentID,
		"api_key":   result.APIKey,
		"did_reset": result.DidReset,
		"hp":        result.TargetHP,
	})
}

func (s *Server) handleObservation(w http.ResponseWriter, r *http.Request, agentID string) {
	var obs *world.Observation
	var found bool
	s.Scheduler.WithState(func(st *world.State) {
		if _, ok := st.Agents[agentID]; !ok {
			return
		}
		found = true
		obs = st.ExtractObservation(agentID, s.ObsRadius)
	})
	if !found {
		writeError(w, http.StatusNotFound, "agent not found in world")
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

type actionRequest struct {
	Type   string `json:"type"`
	DX     int    `json:"dx"`
	DY     int    `json:"dy"`
	Target string `json:"target"`
	Amount int    `json:"amount"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, agentID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	raw, _ := json.Marshal(req)
	act, err := engine.ParseAction(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid action")
		return
	}

	targetTick, err := s.Scheduler.SubmitAction(agentID, act)
	if err != nil {
		switch err {
		case engine.ErrAgentNotFound:
			writeError(w, http.StatusNotFound, "agent not found in world")
		case engine.ErrAgentDead:
			writeError(w, http.StatusForbidden, "agent is dead")
		default:
			writeError(w, http.StatusInternalServerError, "submit failed")
		}
		return
	}

	if err := s.Store.InsertSimpleEvent(r.Context(), targetTick, "ACTION_SUBMITTED", agentID, map[string]any{
		"type": req.Type, "dx": req.DX, "dy": req.DY, "target": req.Target, "amount": req.Amount,
	}); err != nil {
		slog.Error("failed to record submitted action", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "queued_for_tick": targetTick})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var tick uint64
	var alive int
	var avgDeg float64
	s.Scheduler.WithState(func(st *world.State) {
		tick = st.Tick
		alive = st.AliveCount()
		total := 0.0
		for y := 0; y < st.Size; y++ {
			for x := 0; x < st.Size; x++ {
				total += st.Grid.At(x, y).Degradation
			}
		}
		avgDeg = total / float64(st.Size*st.Size)
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"tick":            tick,
		"alive_agents":    alive,
		"avg_degradation": avgDeg,
	})
}

type leaderboardEntry struct {
	AgentID string `json:"agent_id"`
	Alive   bool   `json:"alive"`
	Score   int    `json:"score"`
	HP      int    `json:"hp"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	var entries []leaderboardEntry
	s.Scheduler.WithState(func(st *world.State) {
		for _, id := range st.AgentOrder {
			a := st.Agents[id]
			entries = append(entries, leaderboardEntry{
				AgentID: a.ID, Alive: a.Alive, Score: a.HP + a.Resource(), HP: a.HP,
			})
		}
	})
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Alive != entries[j].Alive {
			return entries[i].Alive
		}
		return entries[i].Score > entries[j].Score
	})
	if len(entries) > 20 {
		entries = entries[:20]
	}
	writeJSON(w, http.StatusOK, entries)
}

type agentSummary struct {
	AgentID   string         `json:"agent_id"`
	X         int            `json:"x"`
	Y         int            `json:"y"`
	HP        int            `json:"hp"`
	Alive     bool           `json:"alive"`
	Inventory map[string]int `json:"inventory"`
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	var out []agentSummary
	s.Scheduler.WithState(func(st *world.State) {
		for _, id := range st.AgentOrder {
			a := st.Agents[id]
			out = append(out, agentSummary{AgentID: a.ID, X: a.X, Y: a.Y, HP: a.HP, Alive: a.Alive, Inventory: a.Inventory})
		}
	})
	writeJSON(w, http.StatusOK, out)
}

type tileEntry struct {
	X           int     `json:"x"`
	Y           int     `json:"y"`
	Degradation float64 `json:"degradation"`
	Resource    int     `json:"resource"`
	Hazard      float64 `json:"hazard"`
	Biome       string  `json:"biome"`
}

type gridAgentEntry struct {
	AgentID    string  `json:"agent_id"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Score      int     `json:"score"`
	TrustScore float64 `json:"trust_score"`
	Betrayals  int     `json:"betrayals"`
}

func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	var tiles []tileEntry
	var agentsOut []gridAgentEntry
	var size int
	s.Scheduler.WithState(func(st *world.State) {
		size = st.Size
		for y := 0; y < st.Size; y++ {
			for x := 0; x < st.Size; x++ {
				t := st.Grid.At(x, y)
				tiles = append(tiles, tileEntry{
					X: x, Y: y,
					Degradation: round4(t.Degradation),
					Resource:    t.Resource,
					Hazard:      round4(t.Hazard),
					Biome:       worldflavor.Biome(x, y, size),
				})
			}
		}
		for _, id := range st.AgentOrder {
			a := st.Agents[id]
			agentsOut = append(agentsOut, gridAgentEntry{
				AgentID: a.ID, X: a.X, Y: a.Y, Score: a.HP + a.Resource(),
				TrustScore: a.TrustScore, Betrayals: a.Betrayals,
			})
		}
	})
	writeJSON(w, http.StatusOK, map[string]any{"size": size, "tiles": tiles, "agents": agentsOut})
}

func round4(x float64) float64 {
	return float64(int(x*10000+0.5)) / 10000
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	var price float64
	var totalWorldResources, totalAgentResources int
	var totalDeg float64
	var recentTrades int
	var cells int
	s.Scheduler.WithState(func(st *world.State) {
		price = st.MarketPrice
		recentTrades = len(st.RecentTrades)
		cells = st.Size * st.Size
		for y := 0; y < st.Size; y++ {
			for x := 0; x < st.Size; x++ {
				t := st.Grid.At(x, y)
				totalWorldResources += t.Resource
				totalDeg += t.Degradation
			}
		}
		for _, id := range st.AgentOrder {
			totalAgentResources += st.Agents[id].Resource()
		}
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"market_price":          price,
		"total_world_resources": totalWorldResources,
		"total_agent_resources": totalAgentResources,
		"avg_degradation":       totalDeg / float64(max(cells, 1)),
		"recent_trades_count":   recentTrades,
	})
}

type reputationEntry struct {
	AgentID    string  `json:"agent_id"`
	TrustScore float64 `json:"trust_score"`
	Betrayals  int     `json:"betrayals"`
	TradeCount int     `json:"trade_count"`
}

func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	var entries []reputationEntry
	s.Scheduler.WithState(func(st *world.State) {
		for _, id := range st.AgentOrder {
			a := st.Agents[id]
			entries = append(entries, reputationEntry{
				AgentID: a.ID, TrustScore: a.TrustScore, Betrayals: a.Betrayals, TradeCount: len(a.TradeHistory),
			})
		}
	})
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].TrustScore > entries[j].TrustScore })
	writeJSON(w, http.StatusOK, entries)
}

// dqnLogRequest mirrors the RL training-loop diagnostic payload the
// original accepts for judge/demo visibility — it has no effect on the
// simulation, it is only recorded as an event.
type dqnLogRequest struct {
	Mistakes       []string  `json:"mistakes"`
	EpisodeRewards []float64 `json:"episode_rewards"`
	StepCount      int       `json:"step_count"`
	Epsilon        float64   `json:"epsilon"`
	LossHistory    []float64 `json:"loss_history"`
	TotalReward    float64   `json:"total_reward"`
}

func capStrings(xs []string, n int) []string {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}

func capFloats(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}

func (s *Server) handleDQNLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	var req dqnLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	var tick uint64
	s.Scheduler.WithState(func(st *world.State) { tick = st.Tick })

	payload := map[string]any{
		"mistakes":        capStrings(req.Mistakes, 20),
		"episode_rewards": capFloats(req.EpisodeRewards, 50),
		"step_count":      req.StepCount,
		"epsilon":         req.Epsilon,
		"loss_history":    capFloats(req.LossHistory, 50),
		"total_reward":    req.TotalReward,
	}
	if err := s.Store.InsertSimpleEvent(r.Context(), tick, "DQN_LOG", "", payload); err != nil {
		writeError(w, http.StatusInternalServerError, "log failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type finalizeGameRequest struct {
	Survivors []string `json:"survivors"`
}

func (s *Server) handleFinalizeGame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	var req finalizeGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	var tick uint64
	s.Scheduler.WithState(func(st *world.State) { tick = st.Tick })
	if err := s.Store.InsertSimpleEvent(r.Context(), tick, "GAME_FINALIZED", "", map[string]any{
		"survivors": req.Survivors, "end_tick": tick,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "finalize failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "end_tick": tick})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}
	events, err := s.Store.RecentEvents(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleAdminTick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	s.Scheduler.ForceTick(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

var demoAgentNames = []string{"Explorer_A", "Explorer_B", "Trader_A", "Fighter_A", "Survivor_A"}

func (s *Server) handleSpawnDemoAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	const maxDemo = 10
	type spawned struct {
		AgentID string `json:"agent_id"`
		APIKey  string `json:"api_key"`
		Name    string `json:"name"`
	}
	var out []spawned

	for i := 0; i < maxDemo; i++ {
		name := fmt.Sprintf("Agent_%d", i+1)
		if i < len(demoAgentNames) {
			name = demoAgentNames[i]
		}

		var agentID string
		var ag *agents.Agent
		var snapshot []byte
		s.Scheduler.WithState(func(st *world.State) {
			agentID = fmt.Sprintf("demo-%d-%d", i, st.Tick)
			ag = st.AddAgent(agentID)
			ag.Name = name
			snapshot, _ = st.Export()
		})

		apiKey := fmt.Sprintf("demo-key-%s", agentID)
		if err := s.Store.UpsertAgent(r.Context(), agentID, apiKey, "", snapshot); err != nil {
			slog.Error("failed to register demo agent", "error", err)
			continue
		}
		if err := s.Store.InsertEntry(r.Context(), "demo_"+agentID, agentID, "DEMO", "0"); err != nil {
			slog.Error("failed to record demo entry", "error", err)
		}
		if err := s.Store.InsertSimpleEvent(r.Context(), 0, "AGENT_ENTERED", agentID, map[string]any{
			"agent_id": agentID, "name": name, "demo": true,
		}); err != nil {
			slog.Error("failed to record demo entry event", "error", err)
		}
		out = append(out, spawned{AgentID: agentID, APIKey: apiKey, Name: name})
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleResetWorld(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	s.Scheduler.WithState(func(st *world.State) {
		*st = *world.NewState(st.Size)
	})
	s.Scheduler.ClearPending()
	if err := s.Store.ClearAgentsAndEntries(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}
	if err := s.Store.InsertSimpleEvent(r.Context(), 0, "WORLD_RESET", "", map[string]any{}); err != nil {
		slog.Error("failed to record world reset event", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
