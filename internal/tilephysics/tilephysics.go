// Package tilephysics applies the per-tick degradation/hazard/resource
// update to a single tile, and derives hazard damage for an occupant.
//
// Kept as pure functions over *world.Tile rather than methods on Grid so
// the per-unit formulas can be tested in isolation from grid traversal.
package tilephysics

import "github.com/talgya/crossroads-oasis/internal/world"

func clamp01(x float64) float64 {
	if x < 0.0 {
		return 0.0
	}
	if x > 1.0 {
		return 1.0
	}
	return x
}

// Step advances one tile by one tick: degradation rises, hazard follows
// degradation, and resource drains faster the more degraded the tile is
// (with slow regrowth while degradation stays low).
func Step(t *world.Tile, tick uint64) {
	degradation := clamp01(t.Degradation + 0.006 + float64(tick%7)*0.0005)
	hazard := clamp01(t.Hazard + 0.0015*degradation)

	drain := int(1 + 3*degradation)
	resource := t.Resource - drain
	if resource < 0 {
		resource = 0
	}
	if degradation < 0.25 {
		resource++
		if resource > 100 {
			resource = 100
		}
	}

	t.Degradation = degradation
	t.Hazard = hazard
	t.Resource = resource
}

// HazardDamage maps a tile's hazard/degradation into a discrete HP loss
// tier for whatever agent is standing on it this tick.
func HazardDamage(hazard, degradation float64) int {
	x := hazard * (0.6 + degradation)
	switch {
	case x < 0.15:
		return 0
	case x < 0.35:
		return 1
	case x < 0.65:
		return 2
	default:
		return 3
	}
}
