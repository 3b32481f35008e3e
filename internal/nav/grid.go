// Package nav provides the walkability grid and cached A* pathfinding used
// for all agent movement.
package nav

import "fmt"

// Tile is a discrete grid coordinate.
type Tile struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// String formats the tile as "(x, y)".
func (t Tile) String() string {
	return fmt.Sprintf("(%d, %d)", t.X, t.Y)
}

// Manhattan returns the axis-aligned distance between two tiles.
func (t Tile) Manhattan(o Tile) int {
	dx := t.X - o.X
	if dx < 0 {
		dx = -dx
	}
	dy := t.Y - o.Y
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}

// Grid is a width×height walkability matrix.
type Grid struct {
	width   int
	height  int
	blocked []bool
}

// NewGrid creates a fully walkable grid.
func NewGrid(width, height int) *Grid {
	return &Grid{
		width:   width,
		height:  height,
		blocked: make([]bool, width*height),
	}
}

// FromCollision builds a grid from a collision layer: any nonzero tile id is
// non-walkable. Rows are indexed [y][x].
func FromCollision(layer [][]int) *Grid {
	h := len(layer)
	w := 0
	if h > 0 {
		w = len(layer[0])
	}
	g := NewGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < len(layer[y]) && x < w; x++ {
			if layer[y][x] != 0 {
				g.blocked[y*w+x] = true
			}
		}
	}
	return g
}

// Width returns the grid width in tiles.
func (g *Grid) Width() int { return g.width }

// Height returns the grid height in tiles.
func (g *Grid) Height() int { return g.height }

// IsWalkable reports whether (x, y) is in bounds and unblocked.
func (g *Grid) IsWalkable(x, y int) bool {
	if x < 0 || y < 0 || x >= g.width || y >= g.height {
		return false
	}
	return !g.blocked[y*g.width+x]
}

// SetBlocked changes one cell's walkability. Callers that hold a Pathfinder
// must invalidate its cache around the changed tile afterwards.
func (g *Grid) SetBlocked(t Tile, blocked bool) {
	if t.X < 0 || t.Y < 0 || t.X >= g.width || t.Y >= g.height {
		return
	}
	g.blocked[t.Y*g.width+t.X] = blocked
}

// Neighbors returns the walkable axis-aligned neighbors of (x, y). No
// diagonals.
func (g *Grid) Neighbors(x, y int) []Tile {
	out := make([]Tile, 0, 4)
	for _, d := range [4][2]int{{0, -1}, {-1, 0}, {1, 0}, {0, 1}} {
		nx, ny := x+d[0], y+d[1]
		if g.IsWalkable(nx, ny) {
			out = append(out, Tile{X: nx, Y: ny})
		}
	}
	return out
}

// WalkableTiles returns every walkable tile in row-major order. Used to seed
// waypoint sampling.
func (g *Grid) WalkableTiles() []Tile {
	var out []Tile
	for y := 0; y < g.height; y++ {
		for x := 0; x < g.width; x++ {
			if !g.blocked[y*g.width+x] {
				out = append(out, Tile{X: x, Y: y})
			}
		}
	}
	return out
}
