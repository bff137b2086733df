package world

import (
	"fmt"

	"github.com/talgya/crossroads-oasis/internal/entropy"
)

// genesisTile derives a tile's starting resource and hazard levels from its
// coordinates via entropy.StableUnit, so world genesis is reproducible from
// (size, x, y) alone with no stored seed.
func genesisTile(x, y int) Tile {
	r := entropy.StableUnit(fmt.Sprintf("resource:%d:%d", x, y))
	h := entropy.StableUnit(fmt.Sprintf("hazard:%d:%d", x, y))
	return Tile{
		Degradation: 0.0,
		Resource:    int(60 + r*40),
		Hazard:      0.05 + h*0.25,
	}
}

// NewGrid generates a size x size grid using genesisTile for every cell.
func NewGrid(size int) *Grid {
	g := &Grid{Size: size, Tiles: make([][]Tile, size)}
	for y := 0; y < size; y++ {
		row := make([]Tile, size)
		for x := 0; x < size; x++ {
			row[x] = genesisTile(x, y)
		}
		g.Tiles[y] = row
	}
	return g
}
