package town

import (
	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/smalltown/internal/nav"
)

// GenConfig holds default-scenario town generation parameters.
type GenConfig struct {
	Width           int
	Height          int
	Seed            int64
	ObstacleDensity float64 // 0..1, share of open ground covered by groves
}

// DefaultGenConfig returns the standard small town.
func DefaultGenConfig(seed int64) GenConfig {
	return GenConfig{
		Width:           48,
		Height:          48,
		Seed:            seed,
		ObstacleDensity: 0.30,
	}
}

// Generate builds the default town deterministically from the seed: simplex
// noise scatters groves, location plots are cleared, and streets are carved
// from every plot to the plaza so the walkable region stays connected.
func Generate(cfg GenConfig) (*TileMap, *Catalog) {
	if cfg.Width < 32 {
		cfg.Width = 32
	}
	if cfg.Height < 32 {
		cfg.Height = 32
	}

	w, h := cfg.Width, cfg.Height
	locations := defaultLocations(w, h)
	catalog := NewCatalog(locations)

	noise := opensimplex.NewNormalized(cfg.Seed)
	collision := make([][]int, h)
	for y := 0; y < h; y++ {
		collision[y] = make([]int, w)
		for x := 0; x < w; x++ {
			// Border wall, then noise-scattered groves.
			if x == 0 || y == 0 || x == w-1 || y == h-1 {
				collision[y][x] = 1
				continue
			}
			if noise.Eval2(float64(x)*0.18, float64(y)*0.18) < cfg.ObstacleDensity {
				collision[y][x] = 1
			}
		}
	}

	// Location plots are always open ground.
	for _, l := range locations {
		for y := l.Bounds.Y; y < l.Bounds.Y+l.Bounds.H; y++ {
			for x := l.Bounds.X; x < l.Bounds.X+l.Bounds.W; x++ {
				if x > 0 && y > 0 && x < w-1 && y < h-1 {
					collision[y][x] = 0
				}
			}
		}
	}

	// Streets: an L-shaped route from each plot to the plaza keeps the town
	// fully connected no matter what the noise did.
	plaza := locations[len(locations)-1].Bounds.Center()
	for _, l := range locations {
		carveStreet(collision, l.Bounds.Center(), plaza)
	}

	tileMap := &TileMap{
		Width:  w,
		Height: h,
		Layers: map[string][][]int{CollisionLayer: collision},
	}
	return tileMap, catalog
}

func defaultLocations(w, h int) []Location {
	spawnA := nav.Tile{X: 6, Y: 6}
	spawnB := nav.Tile{X: w - 8, Y: 6}
	// Plaza last: carveStreet routes every plot to it.
	return []Location{
		{
			ID: "rowan-house", Name: "Rowan House", Type: TypeResidential,
			Bounds: Rect{X: 4, Y: 4, W: 6, H: 5}, Spawn: &spawnA,
			Tags: []string{"home", "quiet"}, Capacity: 4,
		},
		{
			ID: "isa-house", Name: "Isa House", Type: TypeResidential,
			Bounds: Rect{X: w - 10, Y: 4, W: 6, H: 5}, Spawn: &spawnB,
			Tags: []string{"home", "garden"}, Capacity: 4,
		},
		{
			ID: "bakery", Name: "Corner Bakery", Type: TypeCafe,
			Bounds: Rect{X: 4, Y: h - 10, W: 7, H: 6},
			Tags:   []string{"food", "gossip"}, Capacity: 8,
		},
		{
			ID: "workshop", Name: "Old Workshop", Type: TypeWorkplace,
			Bounds: Rect{X: w - 11, Y: h - 10, W: 7, H: 6},
			Tags:   []string{"work", "craft"}, Capacity: 6,
		},
		{
			ID: "willow-park", Name: "Willow Park", Type: TypePark,
			Bounds: Rect{X: w/2 - 4, Y: 4, W: 8, H: 6},
			Tags:   []string{"nature", "calm"}, Capacity: 12,
		},
		{
			ID: "plaza", Name: "Town Plaza", Type: TypePlaza,
			Bounds: Rect{X: w/2 - 4, Y: h/2 - 3, W: 8, H: 6},
			Tags:   []string{"market", "busy"}, Capacity: 16,
		},
	}
}

// carveStreet clears an L-shaped corridor (horizontal, then vertical) between
// two tiles.
func carveStreet(collision [][]int, from, to nav.Tile) {
	h := len(collision)
	w := len(collision[0])

	clear := func(x, y int) {
		if x > 0 && y > 0 && x < w-1 && y < h-1 {
			collision[y][x] = 0
		}
	}

	x, y := from.X, from.Y
	for x != to.X {
		clear(x, y)
		if x < to.X {
			x++
		} else {
			x--
		}
	}
	for y != to.Y {
		clear(x, y)
		if y < to.Y {
			y++
		} else {
			y--
		}
	}
	clear(x, y)
}
