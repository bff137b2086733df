package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/talgya/crossroads-oasis/internal/world"
)

// recordingSink is a test double for EventSink that just counts calls and
// remembers what it was handed, so tests can assert on persistence-layer
// behavior without wiring a real database.
type recordingSink struct {
	mu        sync.Mutex
	appended  int
	snapshots int
	lastTick  uint64
}

func (r *recordingSink) AppendEvents(_ context.Context, tick uint64, _ map[string]Action, _ []Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended++
	r.lastTick = tick
	return nil
}

func (r *recordingSink) MaybeSnapshot(_ context.Context, _ uint64, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots++
	return nil
}

func (r *recordingSink) counts() (appended, snapshots int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appended, r.snapshots
}

func TestSubmitActionRejectsUnknownAgent(t *testing.T) {
	s := NewScheduler(world.NewState(10), nil, nil)
	if _, err := s.SubmitAction("ghost", Action{Kind: ActionRest}); err != ErrAgentNotFound {
		t.Fatalf("err = %v, want ErrAgentNotFound", err)
	}
}

func TestSubmitActionRejectsDeadAgent(t *testing.T) {
	state := world.NewState(10)
	a := state.AddAgent("a")
	a.Alive = false
	s := NewScheduler(state, nil, nil)
	if _, err := s.SubmitAction("a", Action{Kind: ActionRest}); err != ErrAgentDead {
		t.Fatalf("err = %v, want ErrAgentDead", err)
	}
}

func TestSubmitActionQueuesForNextTick(t *testing.T) {
	state := world.NewState(10)
	state.AddAgent("a")
	s := NewScheduler(state, nil, nil)
	target, err := s.SubmitAction("a", Action{Kind: ActionMove, DX: 1, DY: 0})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if target != state.Tick+1 {
		t.Fatalf("queued_for_tick = %d, want %d", target, state.Tick+1)
	}
}

func TestSubmitActionLastWriteWinsWithinATick(t *testing.T) {
	state := world.NewState(10)
	state.AddAgent("a")
	s := NewScheduler(state, nil, nil)
	s.SubmitAction("a", Action{Kind: ActionMove, DX: 1, DY: 0})
	s.SubmitAction("a", Action{Kind: ActionRest})
	if s.pending["a"].Kind != ActionRest {
		t.Fatalf("expected the second submission to overwrite the first, got %v", s.pending["a"].Kind)
	}
}

func TestStepSkipsEmptyWorldWithNoPending(t *testing.T) {
	sink := &recordingSink{}
	s := NewScheduler(world.NewState(10), sink, nil)
	s.step(context.Background())
	appended, _ := sink.counts()
	if appended != 0 {
		t.Fatalf("expected the tick loop to skip an empty, actionless world, got %d appends", appended)
	}
	if s.state.Tick != 0 {
		t.Fatalf("tick counter must not advance on a skipped tick, got %d", s.state.Tick)
	}
}

func TestStepResolvesWhenAgentsAlive(t *testing.T) {
	sink := &recordingSink{}
	state := world.NewState(10)
	state.AddAgent("a")
	s := NewScheduler(state, sink, nil)
	s.step(context.Background())
	appended, _ := sink.counts()
	if appended != 1 {
		t.Fatalf("expected one AppendEvents call, got %d", appended)
	}
	if s.state.Tick != 1 {
		t.Fatalf("tick = %d, want 1", s.state.Tick)
	}
}

func TestForceTickAlwaysStepsEvenWhenEmpty(t *testing.T) {
	sink := &recordingSink{}
	s := NewScheduler(world.NewState(10), sink, nil)
	s.ForceTick(context.Background())
	appended, _ := sink.counts()
	if appended != 1 {
		t.Fatalf("ForceTick must always resolve a tick, got %d appends", appended)
	}
	if s.state.Tick != 1 {
		t.Fatalf("tick = %d, want 1", s.state.Tick)
	}
}

func TestWithStateRunsUnderExclusiveAccess(t *testing.T) {
	s := NewScheduler(world.NewState(10), nil, nil)
	var sawSize int
	s.WithState(func(st *world.State) { sawSize = st.Size })
	if sawSize != 10 {
		t.Fatalf("WithState did not expose the live state: got size %d", sawSize)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	state := world.NewState(10)
	state.AddAgent("a")
	s := NewScheduler(state, &recordingSink{}, nil)
	s.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
	if s.state.Tick == 0 {
		t.Fatal("expected at least one tick to have resolved before cancellation")
	}
}
