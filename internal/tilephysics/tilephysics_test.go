package tilephysics

import (
	"testing"

	"github.com/talgya/crossroads-oasis/internal/world"
)

func TestStepAppliesFormulas(t *testing.T) {
	tl := &world.Tile{Degradation: 0.1, Hazard: 0.05, Resource: 50}
	tick := uint64(3)
	// Computed at run time in Step's order, so both sides round alike.
	wantDeg := tl.Degradation + 0.006 + float64(tick%7)*0.0005
	Step(tl, tick)

	if tl.Degradation != wantDeg {
		t.Fatalf("degradation = %v, want %v", tl.Degradation, wantDeg)
	}
	wantHazard := 0.05 + 0.0015*wantDeg
	if tl.Hazard != wantHazard {
		t.Fatalf("hazard = %v, want %v", tl.Hazard, wantHazard)
	}
	drain := int(1 + 3*wantDeg)
	wantResource := 50 - drain
	if wantDeg < 0.25 {
		wantResource++
	}
	if tl.Resource != wantResource {
		t.Fatalf("resource = %d, want %d", tl.Resource, wantResource)
	}
}

func TestStepClampsToDomain(t *testing.T) {
	tl := &world.Tile{Degradation: 0.999, Hazard: 0.999, Resource: 1}
	for tick := uint64(0); tick < 500; tick++ {
		Step(tl, tick)
		if tl.Degradation < 0 || tl.Degradation > 1 {
			t.Fatalf("tick %d: degradation out of domain: %v", tick, tl.Degradation)
		}
		if tl.Hazard < 0 || tl.Hazard > 1 {
			t.Fatalf("tick %d: hazard out of domain: %v", tick, tl.Hazard)
		}
		if tl.Resource < 0 || tl.Resource > 100 {
			t.Fatalf("tick %d: resource out of domain: %d", tick, tl.Resource)
		}
	}
}

func TestStepResourceNeverNegative(t *testing.T) {
	tl := &world.Tile{Degradation: 1.0, Hazard: 0.0, Resource: 0}
	Step(tl, 0)
	if tl.Resource < 0 {
		t.Fatalf("resource went negative: %d", tl.Resource)
	}
}

func TestHazardDamageThresholds(t *testing.T) {
	cases := []struct {
		hazard, degradation float64
		want                int
	}{
		{0.1, 0.0, 0},   // x = 0.06
		{0.3, 0.0, 1},   // x = 0.18
		{0.5, 0.2, 2},   // x = 0.4
		{0.9, 0.5, 3},   // x = 0.99
		{0.24, 0.0, 0},  // x = 0.144 < 0.15
		{0.25, 0.0, 1},  // x = 0.15, boundary goes to tier 1
	}
	for _, c := range cases {
		got := HazardDamage(c.hazard, c.degradation)
		if got != c.want {
			t.Errorf("HazardDamage(%v, %v) = %d, want %d", c.hazard, c.degradation, got, c.want)
		}
	}
}
