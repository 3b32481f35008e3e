package engine

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"github.com/talgya/smalltown/internal/agents"
	"github.com/talgya/smalltown/internal/clock"
	"github.com/talgya/smalltown/internal/llm"
	"github.com/talgya/smalltown/internal/memory"
	"github.com/talgya/smalltown/internal/nav"
	"github.com/talgya/smalltown/internal/queue"
	"github.com/talgya/smalltown/internal/rng"
	"github.com/talgya/smalltown/internal/social"
	"github.com/talgya/smalltown/internal/town"
)

// Config assembles every subsystem's tuning under one roof.
type Config struct {
	Seed            int64
	AgentCount      int
	MinutesPerTick  int
	AdjacencyRadius int     // tiles within which a conversation may start
	TalkChance      float64 // per-pair chance once adjacency and CanStart hold
	PathCache       int
	RecentEvents    int // bounded history kept for the status API

	Town         town.GenConfig
	Decision     DecisionConfig
	Conversation ConvConfig
	Topic        TopicConfig
	Memory       memory.Config
	Queue        queue.Config
}

// DefaultConfig is the six-agent small-town scenario.
func DefaultConfig(seed int64) Config {
	return Config{
		Seed:            seed,
		AgentCount:      6,
		MinutesPerTick:  1,
		AdjacencyRadius: 1,
		TalkChance:      0.25,
		PathCache:       nav.DefaultCacheCapacity,
		RecentEvents:    1000,
		Town:            town.DefaultGenConfig(seed),
		Decision:        DefaultDecisionConfig(),
		Conversation:    DefaultConvConfig(),
		Topic:           DefaultTopicConfig(),
		Memory:          memory.DefaultConfig(),
		Queue:           queue.DefaultConfig(),
	}
}

// Kernel owns the world state and drives it one tick at a time. All mutation
// happens on the caller's loop: queue continuations are posted to an apply
// channel and drained at the start of the next tick.
type Kernel struct {
	cfg Config

	Clock      *clock.Clock
	TileMap    *town.TileMap
	Catalog    *town.Catalog
	Grid       *nav.Grid
	Pathfinder *nav.Pathfinder
	Agents     []*agents.Agent
	AgentIndex map[string]*agents.Agent
	Memories   map[string]*memory.Store
	Graph      *social.Graph
	Queue      *queue.Queue

	decisions     *DecisionMaker
	conversations *ConversationEngine
	composer      *Composer
	topics        *Topics
	rng           *rand.Rand

	apply   chan func()
	events  emitter
	recent  []Event
	tick    uint64
	lastLoc map[string]string

	dayListeners []func(day int)
}

// New builds a complete simulation from a seed and config. backend may be
// nil for a fully rule-based run.
func New(cfg Config, backend llm.Backend) *Kernel {
	if cfg.AgentCount <= 0 {
		cfg.AgentCount = 6
	}
	if cfg.AdjacencyRadius <= 0 {
		cfg.AdjacencyRadius = 1
	}
	if cfg.RecentEvents <= 0 {
		cfg.RecentEvents = 1000
	}

	tileMap, catalog := town.Generate(cfg.Town)
	grid := tileMap.NavGrid()
	pf := nav.NewPathfinder(grid, cfg.PathCache)

	roster := agents.NewGenerator(cfg.Seed).Generate(cfg.AgentCount, catalog.Residential())
	index := make(map[string]*agents.Agent, len(roster))
	memories := make(map[string]*memory.Store, len(roster))
	ids := make([]string, 0, len(roster))
	for _, a := range roster {
		index[a.ID] = a
		memories[a.ID] = memory.NewStore(cfg.Memory)
		ids = append(ids, a.ID)
	}

	graph := social.NewGraph()
	graph.Initialize(ids, 0)

	q := queue.New(cfg.Queue)

	k := &Kernel{
		cfg:        cfg,
		Clock:      clock.New(cfg.MinutesPerTick),
		TileMap:    tileMap,
		Catalog:    catalog,
		Grid:       grid,
		Pathfinder: pf,
		Agents:     roster,
		AgentIndex: index,
		Memories:   memories,
		Graph:      graph,
		Queue:      q,
		rng:        rng.New(cfg.Seed, rng.OffsetKernel),
		apply:      make(chan func(), 256),
		lastLoc:    make(map[string]string, len(roster)),
	}

	k.topics = NewTopics(cfg.Topic, cfg.Seed)
	k.composer = NewComposer(cfg.Seed)
	k.conversations = NewConversationEngine(cfg.Conversation)
	k.decisions = NewDecisionMaker(cfg.Decision, cfg.Seed, pf, grid.WalkableTiles(),
		catalog, backend, q, k.post)

	k.Clock.OnDay(func(day int) {
		for _, id := range k.agentIDs() {
			k.Memories[id].Prune(k.Clock.TotalMinutes())
		}
		for _, fn := range k.dayListeners {
			fn(day)
		}
	})

	return k
}

// OnDay registers a day-boundary callback (persistence hooks, reports).
func (k *Kernel) OnDay(fn func(day int)) {
	k.dayListeners = append(k.dayListeners, fn)
}

// CurrentTick returns the last processed tick number.
func (k *Kernel) CurrentTick() uint64 { return k.tick }

// SetTick restores the tick counter from a snapshot.
func (k *Kernel) SetTick(t uint64) { k.tick = t }

// FallbackRate exposes the decision pipeline's health metric.
func (k *Kernel) FallbackRate() float64 { return k.decisions.FallbackRate() }

// post funnels a continuation onto the kernel loop. Called from queue worker
// goroutines; the closure runs at the start of a later tick.
func (k *Kernel) post(fn func()) {
	k.apply <- fn
}

// Tick advances the world one step and returns the event batch for this
// cycle. The batch is handed over exactly once; the caller owns it.
func (k *Kernel) Tick() []Event {
	k.drainApply()

	if k.Clock.Paused() {
		return k.drainEvents()
	}

	k.tick++
	k.Clock.Tick(1)
	now := k.Clock.TotalMinutes()

	k.decisions.Update(k.tick, k.Agents, k.Memories, k.Clock.GameTime())

	for _, a := range k.Agents {
		k.safely(a.ID, func() { k.stepAgent(a, now) })
	}

	k.startConversations(now)
	k.tickConversations(now)
	k.topics.DecayTick(k.tick)

	return k.drainEvents()
}

// drainApply runs every pending queue continuation on this loop, preserving
// the single-writer discipline.
func (k *Kernel) drainApply() {
	for {
		select {
		case fn := <-k.apply:
			k.safely("continuation", fn)
		default:
			return
		}
	}
}

// stepAgent moves one agent along its path, decays its needs, and detects
// location arrivals.
func (k *Kernel) stepAgent(a *agents.Agent, now int) {
	a.StepPath()
	k.decayNeeds(a)

	locID := ""
	if loc, ok := k.Catalog.At(a.Tile); ok {
		locID = loc.ID
	}
	if locID != "" && locID != k.lastLoc[a.ID] {
		loc, _ := k.Catalog.Get(locID)
		k.events.emit(Event{Kind: EventArrival, Tick: k.tick, Minute: now,
			Agents: []string{a.ID}, Location: locID})
		k.Memories[a.ID].AddObservation(
			fmt.Sprintf("arrived at %s", loc.Name),
			now, locID, nil, 2, memory.SourcePerception)
	}
	k.lastLoc[a.ID] = locID
}

// decayNeeds drifts the status vector each sim-minute.
func (k *Kernel) decayNeeds(a *agents.Agent) {
	a.Status.Energy -= 0.05
	a.Status.Hunger += 0.08
	if a.Conversing() {
		a.Status.Social += 0.5
		a.Status.Mood += 0.1
	} else {
		a.Status.Social -= 0.03
	}
	a.Status.Clamp()
}

// startConversations opens dialogues between adjacent free agents, gated by
// chance, relationship floor, and pair cooldown.
func (k *Kernel) startConversations(now int) {
	for i := 0; i < len(k.Agents); i++ {
		for j := i + 1; j < len(k.Agents); j++ {
			a, b := k.Agents[i], k.Agents[j]
			if a.Tile.Manhattan(b.Tile) > k.cfg.AdjacencyRadius {
				continue
			}
			weight := k.Graph.Weight(a.ID, b.ID)
			if !k.conversations.CanStart(a.ID, b.ID, now, weight) {
				continue
			}
			if !rng.Chance(k.rng, k.cfg.TalkChance) {
				continue
			}
			k.safely(a.ID, func() { k.openConversation(a, b, weight, now) })
		}
	}
}

func (k *Kernel) openConversation(a, b *agents.Agent, weight, now int) {
	location := ""
	if loc, ok := k.Catalog.At(a.Tile); ok {
		location = loc.Name
	}
	c := k.conversations.Start(a.ID, b.ID, location, now)
	k.composer.InitConversation(c, k.topics, k.Memories[a.ID], k.Memories[b.ID], weight, now)
	a.EnterConversation()
	b.EnterConversation()

	k.events.emit(Event{Kind: EventConversationStart, Tick: k.tick, Minute: now,
		Conversation: c.ID, Agents: []string{a.ID, b.ID},
		Topic: c.Topic, Location: location})
	slog.Debug("conversation started",
		"a", a.ID, "b", b.ID, "topic", c.Topic, "location", location)
}

// tickConversations resolves due turns, applies their side effects, and
// evaluates natural endings.
func (k *Kernel) tickConversations(now int) {
	turnEvents := k.conversations.Tick(k.tick, now, func(c *Conversation) string {
		speaker := k.AgentIndex[c.Speaker]
		return k.composer.ComposeTurn(c, speaker, k.Memories[c.Speaker], now)
	})

	for _, ev := range turnEvents {
		k.events.emit(ev)
		switch ev.Kind {
		case EventConversationTurn:
			k.safely(ev.Agents[0], func() { k.afterTurn(ev, now) })
		case EventConversationEnd:
			k.safely(ev.Conversation, func() { k.afterEnd(ev, now) })
		}
	}

	// Natural endings, independent of the turn cap.
	for _, c := range k.conversations.Active() {
		if k.composer.NaturalEnd(c, k.Memories[c.A], k.Memories[c.B], now) {
			ev := k.conversations.End(c.ID, EndReasonNatural, k.tick, now)
			k.events.emit(ev)
			k.safely(c.ID, func() { k.afterEnd(ev, now) })
		}
	}
}

// afterTurn records the line in both memories, reinforces the topic, and
// diffuses it to bystanders.
func (k *Kernel) afterTurn(ev Event, now int) {
	speakerID, listenerID := ev.Agents[0], ev.Agents[1]
	speaker := k.AgentIndex[speakerID]

	k.topics.NoteMention(speakerID, ev.Topic, now)
	k.topics.NoteMention(listenerID, ev.Topic, now)

	k.Memories[listenerID].AddObservation(
		fmt.Sprintf("%s said: %s", speaker.Profile.Name, ev.Message),
		now, ev.Location, []string{speakerID}, 3, memory.SourceDialogue)

	for _, spread := range k.topics.Diffuse(speaker, listenerID, ev.Topic, k.Agents, k.Graph, now) {
		k.events.emit(Event{Kind: EventTopicSpread, Tick: k.tick, Minute: now,
			Agents: []string{spread.Target, speakerID}, Topic: ev.Topic})
		m := k.Memories[spread.Target].AddObservation(
			fmt.Sprintf("overheard %s talking about %s", speaker.Profile.Name, ev.Topic),
			now, ev.Location, []string{speakerID}, 2, memory.SourceSocial)
		m.Confidence = spread.Confidence
		m.Hops = spread.Hops
	}
}

// afterEnd applies the conversation's relationship outcome and frees both
// agents.
func (k *Kernel) afterEnd(ev Event, now int) {
	c, ok := k.conversations.Get(ev.Conversation)
	if !ok {
		return
	}
	for _, id := range []string{c.A, c.B} {
		if a, ok := k.AgentIndex[id]; ok {
			a.LeaveConversation()
		}
	}

	delta := relationshipDelta(c)
	shifts := k.Graph.ApplyDelta(c.A, c.B, delta, now)
	for _, s := range shifts {
		k.events.emit(Event{Kind: EventRelationshipShift, Tick: k.tick, Minute: now,
			Agents: []string{s.Source, s.Target},
			Reason: fmt.Sprintf("%s -> %s", s.From, s.To)})
	}

	nameOf := func(id string) string {
		if a, ok := k.AgentIndex[id]; ok {
			return a.Profile.Name
		}
		return id
	}
	k.Memories[c.A].AddObservation(
		fmt.Sprintf("talked with %s about %s", nameOf(c.B), c.Topic),
		now, c.Location, []string{c.B}, 4, memory.SourceDialogue)
	k.Memories[c.B].AddObservation(
		fmt.Sprintf("talked with %s about %s", nameOf(c.A), c.Topic),
		now, c.Location, []string{c.A}, 4, memory.SourceDialogue)
}

// relationshipDelta scores a finished conversation: warmth and length help,
// sustained tension hurts.
func relationshipDelta(c *Conversation) float64 {
	turns := len(c.Turns)
	switch c.Tone {
	case ToneWarm:
		d := float64(turns)
		if d > 8 {
			d = 8
		}
		return d
	case ToneTense:
		d := -float64(turns)
		if d < -6 {
			d = -6
		}
		return d
	default:
		return 2
	}
}

// safely isolates one agent's work so a panic cannot abort the tick for the
// rest of the population.
func (k *Kernel) safely(scope string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tick step panicked", "scope", scope, "panic", r)
			k.events.emit(Event{Kind: EventLog, Tick: k.tick,
				Minute: k.Clock.TotalMinutes(),
				Message: fmt.Sprintf("recovered: %v", r)})
		}
	}()
	fn()
}

func (k *Kernel) drainEvents() []Event {
	batch := k.events.drain()
	k.recent = append(k.recent, batch...)
	if len(k.recent) > k.cfg.RecentEvents {
		k.recent = k.recent[len(k.recent)-k.cfg.RecentEvents:]
	}
	return batch
}

// RecentEvents returns a copy of the bounded event history.
func (k *Kernel) RecentEvents() []Event {
	out := make([]Event, len(k.recent))
	copy(out, k.recent)
	return out
}

func (k *Kernel) agentIDs() []string {
	ids := make([]string, 0, len(k.Agents))
	for _, a := range k.Agents {
		ids = append(ids, a.ID)
	}
	sort.Strings(ids)
	return ids
}

// Close shuts down the queue, waiting for in-flight work.
func (k *Kernel) Close() {
	k.Queue.Close()
}
