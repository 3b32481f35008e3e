package nav

import (
	"container/heap"
)

// DefaultCacheCapacity bounds the path cache when no explicit capacity is
// configured.
const DefaultCacheCapacity = 256

type pathKey struct {
	start Tile
	goal  Tile
}

type cacheEntry struct {
	path        []Tile
	createdAt   int64
	accessCount int
	lastAccess  int64
}

// Pathfinder runs A* over a grid with a bounded result cache. Eviction drops
// the least-used entry first, breaking ties by oldest access.
type Pathfinder struct {
	grid     *Grid
	capacity int

	cache map[pathKey]*cacheEntry
	tick  int64 // monotonic access counter, not wall time
}

// NewPathfinder creates a pathfinder over the given grid. capacity <= 0 uses
// DefaultCacheCapacity.
func NewPathfinder(grid *Grid, capacity int) *Pathfinder {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Pathfinder{
		grid:     grid,
		capacity: capacity,
		cache:    make(map[pathKey]*cacheEntry, capacity),
	}
}

// FindPath returns the shortest tile path from start to goal, excluding the
// start tile and ending at the goal. Returns nil when either endpoint is
// unwalkable or no route exists. Results are memoized; cache hits return a
// copy so callers may mutate their path freely.
func (p *Pathfinder) FindPath(start, goal Tile) []Tile {
	if !p.grid.IsWalkable(start.X, start.Y) || !p.grid.IsWalkable(goal.X, goal.Y) {
		return nil
	}
	if start == goal {
		return []Tile{}
	}

	p.tick++
	key := pathKey{start: start, goal: goal}
	if e, ok := p.cache[key]; ok {
		e.accessCount++
		e.lastAccess = p.tick
		out := make([]Tile, len(e.path))
		copy(out, e.path)
		return out
	}

	path := p.search(start, goal)
	if path == nil {
		return nil
	}

	p.store(key, path)
	out := make([]Tile, len(path))
	copy(out, path)
	return out
}

// CacheSize returns the number of memoized paths.
func (p *Pathfinder) CacheSize() int {
	return len(p.cache)
}

// InvalidateNear purges every cached path passing within the given Manhattan
// radius of the changed tile. Call after mutating grid walkability.
func (p *Pathfinder) InvalidateNear(changed Tile, radius int) int {
	removed := 0
	for key, e := range p.cache {
		if key.start.Manhattan(changed) <= radius {
			delete(p.cache, key)
			removed++
			continue
		}
		for _, t := range e.path {
			if t.Manhattan(changed) <= radius {
				delete(p.cache, key)
				removed++
				break
			}
		}
	}
	return removed
}

func (p *Pathfinder) store(key pathKey, path []Tile) {
	if len(p.cache) >= p.capacity {
		p.evictOne()
	}
	p.cache[key] = &cacheEntry{
		path:        path,
		createdAt:   p.tick,
		accessCount: 1,
		lastAccess:  p.tick,
	}
}

func (p *Pathfinder) evictOne() {
	var victim pathKey
	var worst *cacheEntry
	for key, e := range p.cache {
		if worst == nil ||
			e.accessCount < worst.accessCount ||
			(e.accessCount == worst.accessCount && e.lastAccess < worst.lastAccess) {
			victim = key
			worst = e
		}
	}
	if worst != nil {
		delete(p.cache, victim)
	}
}

// searchNode is an open-set entry. order preserves insertion for stable
// tie-breaking beyond (f, h).
type searchNode struct {
	tile  Tile
	f, g  int
	h     int
	order int
	index int
}

type openHeap []*searchNode

func (o openHeap) Len() int { return len(o) }

func (o openHeap) Less(i, j int) bool {
	if o[i].f != o[j].f {
		return o[i].f < o[j].f
	}
	if o[i].h != o[j].h {
		return o[i].h < o[j].h
	}
	return o[i].order < o[j].order
}

func (o openHeap) Swap(i, j int) {
	o[i], o[j] = o[j], o[i]
	o[i].index = i
	o[j].index = j
}

func (o *openHeap) Push(x any) {
	n := x.(*searchNode)
	n.index = len(*o)
	*o = append(*o, n)
}

func (o *openHeap) Pop() any {
	old := *o
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*o = old[:len(old)-1]
	return n
}

// search runs A* with the Manhattan heuristic and unit step cost.
func (p *Pathfinder) search(start, goal Tile) []Tile {
	open := &openHeap{}
	heap.Init(open)

	nodes := map[Tile]*searchNode{}
	cameFrom := map[Tile]Tile{}
	closed := map[Tile]bool{}

	order := 0
	sn := &searchNode{tile: start, g: 0, h: start.Manhattan(goal), order: order}
	sn.f = sn.h
	nodes[start] = sn
	heap.Push(open, sn)

	for open.Len() > 0 {
		cur := heap.Pop(open).(*searchNode)
		if cur.tile == goal {
			return reconstruct(cameFrom, start, goal)
		}
		closed[cur.tile] = true

		for _, nb := range p.grid.Neighbors(cur.tile.X, cur.tile.Y) {
			if closed[nb] {
				continue
			}
			tentative := cur.g + 1
			existing, seen := nodes[nb]
			if seen && tentative >= existing.g {
				continue
			}
			cameFrom[nb] = cur.tile
			if seen {
				existing.g = tentative
				existing.f = tentative + existing.h
				heap.Fix(open, existing.index)
			} else {
				order++
				n := &searchNode{
					tile:  nb,
					g:     tentative,
					h:     nb.Manhattan(goal),
					order: order,
				}
				n.f = n.g + n.h
				nodes[nb] = n
				heap.Push(open, n)
			}
		}
	}
	return nil
}

func reconstruct(cameFrom map[Tile]Tile, start, goal Tile) []Tile {
	var rev []Tile
	for at := goal; at != start; at = cameFrom[at] {
		rev = append(rev, at)
	}
	out := make([]Tile, len(rev))
	for i := range rev {
		out[i] = rev[len(rev)-1-i]
	}
	return out
}
