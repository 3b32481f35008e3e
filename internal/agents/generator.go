package agents

import (
	"fmt"
	"math/rand"

	"github.com/talgya/smalltown/internal/rng"
	"github.com/talgya/smalltown/internal/town"
)

// Name, trait, and interest pools for roster generation. Fixed order keeps
// the generator reproducible.
var (
	firstNames = []string{
		"Rowan", "Isa", "Marcus", "Elena", "Theo", "June",
		"Petra", "Sam", "Nadia", "Felix", "Wren", "Omar",
	}
	occupations = []string{
		"baker", "carpenter", "teacher", "gardener", "clerk", "painter",
	}
	traitPool = []string{
		"curious", "patient", "stubborn", "cheerful", "reserved",
		"generous", "anxious", "blunt", "dreamy", "practical",
	}
	interestPool = []string{
		"bread", "birds", "weather", "carpentry", "books", "gossip",
		"gardening", "music", "old maps", "cooking",
	}
	colorPalette = []string{
		"#e07a5f", "#3d405b", "#81b29a", "#f2cc8f", "#6d597a", "#b56576",
	}
)

// Generator creates agent rosters deterministically from a seed.
type Generator struct {
	rng    *rand.Rand
	nextID int
}

// NewGenerator creates a roster generator on the agents stream of the seed.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		rng:    rng.New(seed, rng.OffsetAgents),
		nextID: 1,
	}
}

// Generate creates n agents with unique ids and homes drawn only from the
// given residential locations. Same seed and inputs reproduce the identical
// roster.
func (g *Generator) Generate(n int, residential []town.Location) []*Agent {
	out := make([]*Agent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.generateOne(residential))
	}
	return out
}

func (g *Generator) generateOne(residential []town.Location) *Agent {
	id := fmt.Sprintf("agent-%02d", g.nextID)
	name := firstNames[(g.nextID-1)%len(firstNames)]
	if g.nextID > len(firstNames) {
		name = fmt.Sprintf("%s %d", name, (g.nextID-1)/len(firstNames)+1)
	}
	g.nextID++

	occupation := occupations[rng.Pick(g.rng, len(occupations))]

	home := ""
	workplace := ""
	schedule := ""
	if len(residential) > 0 {
		home = residential[rng.Pick(g.rng, len(residential))].ID
	}
	// Half the roster gets a fixed workplace shift.
	if rng.Chance(g.rng, 0.5) {
		workplace = "workshop"
		schedule = "09:00-17:00"
	}

	agent := &Agent{
		ID: id,
		Profile: Profile{
			Name:       name,
			Age:        rng.IntBetween(g.rng, 19, 68),
			Occupation: occupation,
			Workplace:  workplace,
			Schedule:   schedule,
			Traits:     g.sample(traitPool, 2),
			Interests:  g.sample(interestPool, 3),
			Home:       home,
			Color:      colorPalette[rng.Pick(g.rng, len(colorPalette))],
		},
		State: StateIdle,
		Status: Status{
			Energy: float64(rng.IntBetween(g.rng, 60, 95)),
			Hunger: float64(rng.IntBetween(g.rng, 10, 40)),
			Mood:   float64(rng.IntBetween(g.rng, 45, 85)),
			Social: float64(rng.IntBetween(g.rng, 30, 70)),
		},
	}

	// Spawn at home when it exists.
	for _, loc := range residential {
		if loc.ID == home {
			agent.MoveTo(loc.SpawnTile())
			break
		}
	}
	return agent
}

// sample draws k distinct entries from the pool, preserving pool order in
// the draw sequence.
func (g *Generator) sample(pool []string, k int) []string {
	if k >= len(pool) {
		out := make([]string, len(pool))
		copy(out, pool)
		return out
	}
	picked := make(map[int]bool, k)
	out := make([]string, 0, k)
	for len(out) < k {
		i := rng.Pick(g.rng, len(pool))
		if picked[i] {
			continue
		}
		picked[i] = true
		out = append(out, pool[i])
	}
	return out
}
