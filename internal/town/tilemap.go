package town

import (
	"fmt"

	"github.com/talgya/smalltown/internal/nav"
)

// CollisionLayer is the layer name whose nonzero tile ids block movement.
const CollisionLayer = "collision"

// TileMap is a static tile grid with named layers, as delivered by the map
// pipeline. Only the collision layer matters to the kernel.
type TileMap struct {
	Width  int              `json:"width"`
	Height int              `json:"height"`
	Layers map[string][][]int `json:"layers"`
}

// NewTileMap builds a map from named layers. Every layer must be
// height rows of width cells.
func NewTileMap(width, height int, layers map[string][][]int) (*TileMap, error) {
	for name, layer := range layers {
		if len(layer) != height {
			return nil, fmt.Errorf("layer %q: have %d rows, want %d", name, len(layer), height)
		}
		for y, row := range layer {
			if len(row) != width {
				return nil, fmt.Errorf("layer %q row %d: have %d cells, want %d", name, y, len(row), width)
			}
		}
	}
	return &TileMap{Width: width, Height: height, Layers: layers}, nil
}

// NavGrid derives the walkability grid from the collision layer. A map with
// no collision layer is fully walkable.
func (m *TileMap) NavGrid() *nav.Grid {
	layer, ok := m.Layers[CollisionLayer]
	if !ok {
		return nav.NewGrid(m.Width, m.Height)
	}
	return nav.FromCollision(layer)
}
