// Package worldflavor derives a cosmetic "biome" label for a tile from its
// coordinates. It is never stored, never read by the resolver, and has no
// effect on simulation mechanics — purely a decoration on the /world/grid
// read-out (agent observations do not carry it), layered on top of the
// deterministic physics in internal/tilephysics.
package worldflavor

import opensimplex "github.com/ojrac/opensimplex-go"

// worldSeed is fixed so Biome is a pure function of (x, y, size): the same
// tile always reports the same biome, with no seed to persist or replay.
const worldSeed = 1_729

var noise = opensimplex.NewNormalized(worldSeed)

// Biome returns a human-readable terrain flavor label for the tile at
// (x, y) on a grid of the given size. Purely cosmetic — callers must never
// let it influence resource, hazard, or degradation logic.
func Biome(x, y, size int) string {
	if size <= 0 {
		size = 1
	}
	fx := float64(x) / float64(size) * 4.0
	fy := float64(y) / float64(size) * 4.0
	n := noise.Eval2(fx, fy)

	switch {
	case n < 0.25:
		return "scorched_flat"
	case n < 0.45:
		return "dust_plain"
	case n < 0.6:
		return "scrubland"
	case n < 0.8:
		return "oasis_fringe"
	default:
		return "verdant_hollow"
	}
}
