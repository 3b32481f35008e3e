// Package social maintains the directed, weighted relationship graph between
// agents. Edges are updated transactionally by conversation outcomes; the
// kernel surfaces only stance transitions, not raw weight changes.
package social

import "math"

// Stance classifies an edge purely from its weight.
type Stance string

const (
	StanceFriend       Stance = "friend"
	StanceRival        Stance = "rival"
	StanceAcquaintance Stance = "acquaintance"
)

const (
	// WeightMin and WeightMax clamp every edge.
	WeightMin = -100
	WeightMax = 100

	friendThreshold = 60
	rivalThreshold  = -60

	// reciprocalFactor scales the delta applied to the partner's edge. A
	// conversation lands harder on the initiator's perception than the
	// partner's.
	reciprocalFactor = 0.8
)

// StanceFor derives the classification bucket from a weight.
func StanceFor(weight int) Stance {
	switch {
	case weight >= friendThreshold:
		return StanceFriend
	case weight <= rivalThreshold:
		return StanceRival
	default:
		return StanceAcquaintance
	}
}

// Edge is a directed relationship from Source toward Target.
type Edge struct {
	Source          string `json:"source"`
	Target          string `json:"target"`
	Weight          int    `json:"weight"`
	Stance          Stance `json:"stance"`
	LastInteraction int    `json:"last_interaction"` // virtual minutes
}

// StanceShift records an edge crossing a classification threshold.
type StanceShift struct {
	Source string `json:"source"`
	Target string `json:"target"`
	From   Stance `json:"from"`
	To     Stance `json:"to"`
	Weight int    `json:"weight"`
}

// Graph holds all directed edges, keyed (source, target).
type Graph struct {
	edges map[string]map[string]*Edge
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{edges: make(map[string]map[string]*Edge)}
}

// Initialize creates a complete directed graph with zero-weight edges between
// every ordered pair of the given ids.
func (g *Graph) Initialize(ids []string, t0 int) {
	for _, src := range ids {
		if g.edges[src] == nil {
			g.edges[src] = make(map[string]*Edge, len(ids)-1)
		}
		for _, dst := range ids {
			if src == dst {
				continue
			}
			g.edges[src][dst] = &Edge{
				Source:          src,
				Target:          dst,
				Stance:          StanceAcquaintance,
				LastInteraction: t0,
			}
		}
	}
}

// Edge returns a copy of the a→b edge.
func (g *Graph) Edge(a, b string) (Edge, bool) {
	if e := g.lookup(a, b); e != nil {
		return *e, true
	}
	return Edge{}, false
}

// Weight returns the a→b weight, zero for unknown pairs.
func (g *Graph) Weight(a, b string) int {
	if e := g.lookup(a, b); e != nil {
		return e.Weight
	}
	return 0
}

// ApplyDelta applies a conversation outcome to both directions: the full
// delta to a→b and 0.8× to b→a. Weights are rounded and clamped, stances
// reclassified. Returns only the transitions that actually changed bucket;
// unknown ids are a no-op.
func (g *Graph) ApplyDelta(a, b string, delta float64, t int) []StanceShift {
	var shifts []StanceShift
	if shift, ok := g.applyOne(a, b, delta, t); ok {
		shifts = append(shifts, shift)
	}
	if shift, ok := g.applyOne(b, a, delta*reciprocalFactor, t); ok {
		shifts = append(shifts, shift)
	}
	return shifts
}

func (g *Graph) applyOne(src, dst string, delta float64, t int) (StanceShift, bool) {
	e := g.lookup(src, dst)
	if e == nil {
		return StanceShift{}, false
	}

	weight := int(math.Round(float64(e.Weight) + delta))
	if weight > WeightMax {
		weight = WeightMax
	}
	if weight < WeightMin {
		weight = WeightMin
	}

	before := e.Stance
	e.Weight = weight
	e.Stance = StanceFor(weight)
	e.LastInteraction = t

	if e.Stance == before {
		return StanceShift{}, false
	}
	return StanceShift{Source: src, Target: dst, From: before, To: e.Stance, Weight: weight}, true
}

// Edges returns copies of every edge from the given agent.
func (g *Graph) Edges(src string) []Edge {
	out := make([]Edge, 0, len(g.edges[src]))
	for _, e := range g.edges[src] {
		out = append(out, *e)
	}
	return out
}

// AllEdges returns copies of every edge in the graph, for persistence.
func (g *Graph) AllEdges() []Edge {
	var out []Edge
	for _, targets := range g.edges {
		for _, e := range targets {
			out = append(out, *e)
		}
	}
	return out
}

// Restore overwrites one edge from a saved snapshot, creating it if missing.
func (g *Graph) Restore(e Edge) {
	if e.Source == "" || e.Target == "" || e.Source == e.Target {
		return
	}
	if g.edges[e.Source] == nil {
		g.edges[e.Source] = make(map[string]*Edge)
	}
	copied := e
	copied.Stance = StanceFor(e.Weight)
	g.edges[e.Source][e.Target] = &copied
}

// Summary describes one agent's strongest ties for snapshots.
type Summary struct {
	Friends       int    `json:"friends"`
	Rivals        int    `json:"rivals"`
	Acquaintances int    `json:"acquaintances"`
	Closest       string `json:"closest,omitempty"`
	ClosestWeight int    `json:"closest_weight,omitempty"`
}

// Summarize counts stances and reports the strongest positive tie from the
// given agent.
func (g *Graph) Summarize(src string) Summary {
	var sum Summary
	best := 0
	for _, e := range g.edges[src] {
		switch e.Stance {
		case StanceFriend:
			sum.Friends++
		case StanceRival:
			sum.Rivals++
		default:
			sum.Acquaintances++
		}
		if e.Weight > best {
			best = e.Weight
			sum.Closest = e.Target
			sum.ClosestWeight = e.Weight
		}
	}
	return sum
}

func (g *Graph) lookup(a, b string) *Edge {
	if targets, ok := g.edges[a]; ok {
		return targets[b]
	}
	return nil
}
