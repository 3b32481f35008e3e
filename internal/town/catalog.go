// Package town provides the static world inputs: the tile map with its
// collision layer, and the read-only location catalog consumed by planning,
// topic selection, and arrival detection.
package town

import (
	"github.com/talgya/smalltown/internal/nav"
)

// Location types used by the default scenario.
const (
	TypeResidential = "residential"
	TypeCafe        = "cafe"
	TypePark        = "park"
	TypeWorkplace   = "workplace"
	TypePlaza       = "plaza"
)

// Rect is a tile-space bounding box.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Contains reports whether the tile lies inside the box.
func (r Rect) Contains(t nav.Tile) bool {
	return t.X >= r.X && t.X < r.X+r.W && t.Y >= r.Y && t.Y < r.Y+r.H
}

// Center returns the middle tile of the box.
func (r Rect) Center() nav.Tile {
	return nav.Tile{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

// Location is one named place in the town.
type Location struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Bounds   Rect      `json:"bounds"`
	Tags     []string  `json:"tags,omitempty"`
	Spawn    *nav.Tile `json:"spawn,omitempty"`
	Capacity int       `json:"capacity,omitempty"`
}

// SpawnTile returns the explicit spawn point, or the bounds center.
func (l Location) SpawnTile() nav.Tile {
	if l.Spawn != nil {
		return *l.Spawn
	}
	return l.Bounds.Center()
}

// HasTag reports whether the location carries the given tag.
func (l Location) HasTag(tag string) bool {
	for _, t := range l.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Catalog is the read-only set of town locations.
type Catalog struct {
	locations []Location
	byID      map[string]int
}

// NewCatalog builds a catalog, preserving the given order.
func NewCatalog(locations []Location) *Catalog {
	c := &Catalog{
		locations: locations,
		byID:      make(map[string]int, len(locations)),
	}
	for i, l := range locations {
		c.byID[l.ID] = i
	}
	return c
}

// Get returns a location by id.
func (c *Catalog) Get(id string) (Location, bool) {
	if i, ok := c.byID[id]; ok {
		return c.locations[i], true
	}
	return Location{}, false
}

// All returns every location in catalog order.
func (c *Catalog) All() []Location {
	return c.locations
}

// ByType returns locations of the given type, in catalog order.
func (c *Catalog) ByType(locType string) []Location {
	var out []Location
	for _, l := range c.locations {
		if l.Type == locType {
			out = append(out, l)
		}
	}
	return out
}

// Residential is shorthand for ByType(TypeResidential).
func (c *Catalog) Residential() []Location {
	return c.ByType(TypeResidential)
}

// At returns the location containing the tile, if any. First match in
// catalog order wins.
func (c *Catalog) At(t nav.Tile) (Location, bool) {
	for _, l := range c.locations {
		if l.Bounds.Contains(t) {
			return l, true
		}
	}
	return Location{}, false
}
