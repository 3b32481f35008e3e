package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/talgya/smalltown/internal/agents"
	"github.com/talgya/smalltown/internal/clock"
	"github.com/talgya/smalltown/internal/llm"
	"github.com/talgya/smalltown/internal/memory"
	"github.com/talgya/smalltown/internal/nav"
	"github.com/talgya/smalltown/internal/queue"
	"github.com/talgya/smalltown/internal/rng"
	"github.com/talgya/smalltown/internal/town"
)

// DecisionConfig tunes the per-agent decision cadence and the generative
// pipeline.
type DecisionConfig struct {
	GenerativeCount int // first N agents in iteration order use the backend
	MinInterval     int // ticks between decisions, lower bound
	MaxInterval     int // upper bound
	WaypointTries   int // rule path: distinct waypoints attempted
	MemoryTopK      int // memories included in the prompt
	PromptMaxChars  int
	Temperature     float64
	TaskTTL         time.Duration
	TaskTimeout     time.Duration
}

// DefaultDecisionConfig matches the default scenario.
func DefaultDecisionConfig() DecisionConfig {
	return DecisionConfig{
		GenerativeCount: 2,
		MinInterval:     8,
		MaxInterval:     20,
		WaypointTries:   6,
		MemoryTopK:      5,
		PromptMaxChars:  1200,
		Temperature:     0.7,
		TaskTTL:         20 * time.Second,
		TaskTimeout:     35 * time.Second,
	}
}

// Trace records an agent's most recent decision for snapshots and debugging.
type Trace struct {
	Tick   uint64 `json:"tick"`
	Source string `json:"source"` // rule, generative, fallback
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// DecisionMaker chooses each agent's next action: a cheap rule-based waypoint
// walk, or a queued generative decision with rule fallback. At most one
// generative request is in flight per agent.
type DecisionMaker struct {
	cfg      DecisionConfig
	rng      *rand.Rand
	pf       *nav.Pathfinder
	walkable []nav.Tile
	catalog  *town.Catalog
	backend  llm.Backend
	q        *queue.Queue

	// apply funnels queue continuations back onto the kernel loop; the
	// kernel drains them at tick start so all mutation stays single-writer.
	apply func(func())

	inflight map[string]bool
	traces   map[string]Trace

	generativeTotal uint64
	fallbacks       uint64
}

// NewDecisionMaker wires the decision pipeline. backend may be nil, in which
// case every agent runs rule-based.
func NewDecisionMaker(cfg DecisionConfig, seed int64, pf *nav.Pathfinder, walkable []nav.Tile, catalog *town.Catalog, backend llm.Backend, q *queue.Queue, apply func(func())) *DecisionMaker {
	if cfg.WaypointTries <= 0 {
		cfg.WaypointTries = DefaultDecisionConfig().WaypointTries
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	if apply == nil {
		apply = func(fn func()) { fn() }
	}
	return &DecisionMaker{
		cfg:      cfg,
		rng:      rng.New(seed, rng.OffsetDecisions),
		pf:       pf,
		walkable: walkable,
		catalog:  catalog,
		backend:  backend,
		q:        q,
		apply:    apply,
		inflight: make(map[string]bool),
		traces:   make(map[string]Trace),
	}
}

// Update runs one decision pass over the population in iteration order.
// Agents not yet eligible, mid-conversation, or with a request in flight are
// skipped.
func (d *DecisionMaker) Update(tick uint64, population []*agents.Agent, memories map[string]*memory.Store, gt clock.GameTime) {
	for i, a := range population {
		if tick < a.NextDecisionTick || a.Conversing() || d.inflight[a.ID] {
			continue
		}
		a.NextDecisionTick = tick + uint64(rng.IntBetween(d.rng, d.cfg.MinInterval, d.cfg.MaxInterval))

		if i < d.cfg.GenerativeCount && d.backend != nil && d.q != nil {
			d.decideGenerative(tick, a, population, memories[a.ID], gt)
		} else {
			d.decideRule(tick, a)
		}
	}
}

// decideRule samples distinct random waypoints and takes the first reachable
// one; an agent with no reachable waypoint goes idle.
func (d *DecisionMaker) decideRule(tick uint64, a *agents.Agent) {
	d.ruleWalk(a)
	d.traces[a.ID] = Trace{Tick: tick, Source: "rule", Action: "MOVE_TO"}
}

func (d *DecisionMaker) ruleWalk(a *agents.Agent) {
	if len(d.walkable) == 0 {
		a.ClearPath()
		return
	}
	tried := make(map[int]bool, d.cfg.WaypointTries)
	for len(tried) < d.cfg.WaypointTries && len(tried) < len(d.walkable) {
		i := rng.Pick(d.rng, len(d.walkable))
		if tried[i] {
			continue
		}
		tried[i] = true
		wp := d.walkable[i]
		if wp == a.Tile {
			continue
		}
		if path := d.pf.FindPath(a.Tile, wp); len(path) > 0 {
			a.SetPath(path)
			return
		}
	}
	a.ClearPath()
}

// decideGenerative enqueues a backend call and applies the result (or the
// rule fallback) when the task resolves, whichever tick is current then.
func (d *DecisionMaker) decideGenerative(tick uint64, a *agents.Agent, population []*agents.Agent, store *memory.Store, gt clock.GameTime) {
	// Generative work is optional; under critical backpressure skip the
	// enqueue entirely rather than feed a queue that will drop the task.
	if d.q.BackpressureLevel() == queue.BackpressureCritical {
		d.generativeTotal++
		d.fallback(tick, a, "backpressure critical")
		return
	}

	d.inflight[a.ID] = true
	d.generativeTotal++

	prompt := d.buildPrompt(a, population, store, gt)
	req := llm.Request{
		Prompt:      prompt,
		System:      "You decide the next action for a villager in a small-town simulation. Respond with exactly one JSON object.",
		Temperature: d.cfg.Temperature,
		Format:      llm.FormatJSON,
		MaxTokens:   200,
	}

	task := queue.Task{
		Priority: queue.PriorityNormal,
		TTL:      d.cfg.TaskTTL,
		Timeout:  d.cfg.TaskTimeout,
		Run: func(ctx context.Context) (any, error) {
			return d.backend.Complete(ctx, req), nil
		},
	}

	err := d.q.Enqueue(task, func(out queue.Outcome) {
		d.apply(func() { d.resolve(tick, a, out) })
	})
	if err != nil {
		// Queue refused the task outright; fall back now.
		delete(d.inflight, a.ID)
		d.fallback(tick, a, err.Error())
	}
}

// resolve runs on the kernel loop once the queued task settles. The agent is
// released for new decisions only here, so duplicate requests are impossible.
func (d *DecisionMaker) resolve(tick uint64, a *agents.Agent, out queue.Outcome) {
	delete(d.inflight, a.ID)

	if out.Kind != queue.OutcomeOK {
		d.fallback(tick, a, out.Reason)
		return
	}
	resp, ok := out.Value.(llm.Response)
	if !ok || !resp.Success {
		d.fallback(tick, a, resp.Err)
		return
	}
	decision, err := llm.ParseDecision(resp.Content)
	if err != nil {
		d.fallback(tick, a, err.Error())
		return
	}

	d.applyDecision(tick, a, decision)
}

// applyDecision handles the constrained action vocabulary. Only WAIT and
// GO_HOME are fully handled; every other action degrades to the rule-based
// walk.
func (d *DecisionMaker) applyDecision(tick uint64, a *agents.Agent, dec llm.Decision) {
	if a.Conversing() {
		// The agent got pulled into a conversation while the request was in
		// flight; the decision is stale.
		d.traces[a.ID] = Trace{Tick: tick, Source: "generative", Action: dec.Action, Reason: "stale, conversing"}
		return
	}

	switch dec.Action {
	case llm.ActionWait:
		a.ClearPath()
	case llm.ActionGoHome:
		d.pathHome(a)
	default:
		// MOVE_TO, TALK_TO, and friends degrade to a rule walk for now.
		// TODO: route MOVE_TO through the location catalog once targets are
		// validated against capacity.
		d.ruleWalk(a)
	}
	d.traces[a.ID] = Trace{Tick: tick, Source: "generative", Action: dec.Action, Target: dec.Target, Reason: dec.Reason}
}

func (d *DecisionMaker) pathHome(a *agents.Agent) {
	home, ok := d.catalog.Get(a.Profile.Home)
	if !ok {
		a.ClearPath()
		return
	}
	goal := home.SpawnTile()
	if goal == a.Tile {
		a.ClearPath()
		return
	}
	if path := d.pf.FindPath(a.Tile, goal); len(path) > 0 {
		a.SetPath(path)
		return
	}
	a.ClearPath()
}

// fallback applies the rule walk after a generative failure of any shape.
func (d *DecisionMaker) fallback(tick uint64, a *agents.Agent, reason string) {
	d.fallbacks++
	if a.Conversing() {
		d.traces[a.ID] = Trace{Tick: tick, Source: "fallback", Action: "WAIT", Reason: reason}
		return
	}
	d.ruleWalk(a)
	d.traces[a.ID] = Trace{Tick: tick, Source: "fallback", Action: "MOVE_TO", Reason: reason}
	slog.Debug("generative decision fell back", "agent", a.ID, "reason", reason)
}

// buildPrompt assembles a bounded prompt from profile, status, surroundings,
// and the most relevant memories.
func (d *DecisionMaker) buildPrompt(a *agents.Agent, population []*agents.Agent, store *memory.Store, gt clock.GameTime) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a %d-year-old %s.\n", a.Profile.Name, a.Profile.Age, a.Profile.Occupation)
	fmt.Fprintf(&b, "Day %d, %02d:%02d.\n", gt.Day, gt.Hour, gt.Minute)
	fmt.Fprintf(&b, "Energy %.0f, hunger %.0f, mood %.0f, social %.0f (all 0-100).\n",
		a.Status.Energy, a.Status.Hunger, a.Status.Mood, a.Status.Social)

	if loc, ok := d.catalog.At(a.Tile); ok {
		fmt.Fprintf(&b, "You are at %s.\n", loc.Name)
	}

	var nearby []string
	for _, other := range population {
		if other.ID != a.ID && other.Tile.Manhattan(a.Tile) <= 6 {
			nearby = append(nearby, other.Profile.Name)
		}
	}
	if len(nearby) > 0 {
		fmt.Fprintf(&b, "Nearby: %s.\n", strings.Join(nearby, ", "))
	}

	var places []string
	for _, loc := range d.catalog.All() {
		places = append(places, loc.Name)
	}
	fmt.Fprintf(&b, "Places in town: %s.\n", strings.Join(places, ", "))

	if store != nil {
		hits := store.RetrieveTopK(a.Profile.Occupation, gt.TotalMinutes, d.cfg.MemoryTopK, a.Profile.Interests)
		if len(hits) > 0 {
			b.WriteString("Recent memories:\n")
			for _, m := range hits {
				fmt.Fprintf(&b, "- %s\n", m.Content)
			}
		}
	}

	b.WriteString(`Choose the next action. Reply with one JSON object: {"action": "...", "target": "...", "reason": "..."}. ` +
		"Actions: MOVE_TO, START_ACTIVITY, TALK_TO, WAIT, GO_HOME, EAT, SLEEP, WORK.")

	return clampLine(b.String(), d.cfg.PromptMaxChars)
}

// Pending reports whether the agent has an unresolved generative request.
func (d *DecisionMaker) Pending(agentID string) bool {
	return d.inflight[agentID]
}

// LastTrace returns the agent's most recent decision record.
func (d *DecisionMaker) LastTrace(agentID string) (Trace, bool) {
	t, ok := d.traces[agentID]
	return t, ok
}

// FallbackRate is fallbacks over total generative attempts, 0 when none were
// made.
func (d *DecisionMaker) FallbackRate() float64 {
	if d.generativeTotal == 0 {
		return 0
	}
	return float64(d.fallbacks) / float64(d.generativeTotal)
}
