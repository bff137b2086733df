package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/crossroads-oasis/internal/world"
)

// DefaultTickInterval is how often the scheduler resolves a tick when the
// caller doesn't override it via configuration.
const DefaultTickInterval = 1200 * time.Millisecond

// EventSink is how the scheduler hands a resolved tick's events off to
// persistence, without the engine package importing persistence directly
// (persistence imports engine for the Event type; the reverse dependency
// would cycle). The scheduler always releases its own world lock before
// calling AppendEvents or MaybeSnapshot. Serializing writes is left to the
// sink: persistence.Store has no mutex of its own and relies on SQLite's
// locking (busy timeout, one transaction per tick's events).
type EventSink interface {
	AppendEvents(ctx context.Context, tick uint64, actions map[string]Action, events []Event) error
	// MaybeSnapshot is called every tick with an already-serialized, already
	// consistent snapshot (computed while the world lock was still held);
	// the sink decides whether this tick is actually due for persistence.
	MaybeSnapshot(ctx context.Context, tick uint64, snapshot []byte) error
}

// AnchorNotifier is told about STATE_ANCHORED events so it can kick off a
// fire-and-forget external anchor call. Never blocks the tick loop.
type AnchorNotifier interface {
	NotifyAnchor(tick uint64, stateHash string, aliveAgents int)
}

// Scheduler drives single-tick resolution forward at a fixed cadence. It
// generalizes a multi-cadence tick driver down to the one cadence this
// world needs, and owns the world lock: every exported method that
// touches State or Pending acquires it, and it is always released before
// any call into the event sink.
type Scheduler struct {
	worldMu sync.Mutex // world_lock
	state   *world.State
	pending map[string]Action

	Interval time.Duration
	Speed    float64 // 1.0 = real-time, 0 = paused

	sink   EventSink
	anchor AnchorNotifier

	running bool
}

// NewScheduler wires a scheduler around an already-loaded world state.
func NewScheduler(state *world.State, sink EventSink, anchor AnchorNotifier) *Scheduler {
	return &Scheduler{
		state:    state,
		pending:  make(map[string]Action),
		Interval: DefaultTickInterval,
		Speed:    1.0,
		sink:     sink,
		anchor:   anchor,
	}
}

var (
	// ErrAgentNotFound is returned by SubmitAction for an unregistered agent.
	ErrAgentNotFound = errNamed("agent_not_found")
	// ErrAgentDead is returned by SubmitAction for a dead agent.
	ErrAgentDead = errNamed("agent_dead")
)

type errNamed string

func (e errNamed) Error() string { return string(e) }

// SubmitAction validates that agentID exists and is alive, then queues
// act to be resolved on the next tick, returning the tick it will be
// resolved on. Overwrites any action already pending for that agent this
// tick.
func (s *Scheduler) SubmitAction(agentID string, act Action) (targetTick uint64, err error) {
	s.worldMu.Lock()
	defer s.worldMu.Unlock()
	a, ok := s.state.Agents[agentID]
	if !ok {
		return 0, ErrAgentNotFound
	}
	if !a.Alive {
		return 0, ErrAgentDead
	}
	s.pending[agentID] = act
	return s.state.Tick + 1, nil
}

// WithState runs fn with exclusive access to the world state — the only
// sanctioned way for callers outside the engine package (the request
// surface, the session gate) to read or mutate it.
func (s *Scheduler) WithState(fn func(*world.State)) {
	s.worldMu.Lock()
	defer s.worldMu.Unlock()
	fn(s.state)
}

// ClearPending discards every queued-but-unresolved action. Callers that
// reset the world out from under WithState (the extinction-reset rule,
// the admin world-reset endpoint) must pair that reset with ClearPending,
// or stale pending actions keyed to agents that no longer exist survive
// into the next tick and defeat the zero-alive-and-no-pending skip rule.
func (s *Scheduler) ClearPending() {
	s.worldMu.Lock()
	defer s.worldMu.Unlock()
	s.pending = make(map[string]Action)
}

// Run blocks, resolving one tick every Interval (adjusted by Speed) until
// ctx is canceled. A tick with no living agents and nothing pending is
// skipped outright rather than resolved into a string of no-op events.
func (s *Scheduler) Run(ctx context.Context) {
	s.running = true
	slog.Info("tick scheduler started", "interval", s.Interval, "speed", s.Speed)
	defer slog.Info("tick scheduler stopped")

	for s.running {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if s.Speed <= 0 {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		start := time.Now()
		s.step(ctx)

		elapsed := time.Since(start)
		target := time.Duration(float64(s.Interval) / s.Speed)
		if elapsed < target {
			select {
			case <-ctx.Done():
				return
			case <-time.After(target - elapsed):
			}
		}
	}
}

// Stop ends the next iteration of Run's loop.
func (s *Scheduler) Stop() {
	s.running = false
}

// ForceTick resolves one tick immediately regardless of the normal
// interval or the zero-alive-and-no-pending skip rule — used by the
// admin manual-tick endpoint, matching
// original_source/app/api/routes.py::admin_tick, which always steps.
func (s *Scheduler) ForceTick(ctx context.Context) {
	s.resolveAndPersist(ctx)
}

func (s *Scheduler) step(ctx context.Context) {
	s.worldMu.Lock()
	if len(s.pending) == 0 && s.state.AliveCount() == 0 {
		s.worldMu.Unlock()
		return
	}
	s.worldMu.Unlock()
	s.resolveAndPersist(ctx)
}

func (s *Scheduler) resolveAndPersist(ctx context.Context) {
	s.worldMu.Lock()
	actions := s.pending
	s.pending = make(map[string]Action)
	events := ResolveTick(s.state, actions)
	tick := s.state.Tick
	// Serialize the snapshot while the world lock is still held, so the
	// bytes handed to the sink reflect exactly this tick — never a
	// half-mutated state from whatever runs next.
	var snapshot []byte
	if s.sink != nil {
		snapshot, _ = s.state.Export()
	}
	s.worldMu.Unlock()

	if s.sink != nil {
		if err := s.sink.AppendEvents(ctx, tick, actions, events); err != nil {
			slog.Error("failed to persist tick events", "error", err)
		}
		if err := s.sink.MaybeSnapshot(ctx, tick, snapshot); err != nil {
			slog.Error("failed to persist snapshot", "error", err)
		}
	}

	if s.anchor != nil {
		for _, e := range events {
			if e.Type != "STATE_ANCHORED" {
				continue
			}
			hash, _ := e.Fields["state_hash"].(string)
			alive, _ := e.Fields["alive_agents"].(int)
			s.anchor.NotifyAnchor(e.Tick, hash, alive)
		}
	}
}
