package engine

import (
	"math/rand"
	"sort"

	"github.com/talgya/smalltown/internal/agents"
	"github.com/talgya/smalltown/internal/memory"
	"github.com/talgya/smalltown/internal/rng"
	"github.com/talgya/smalltown/internal/social"
)

// fallbackTopics always compete for selection so a conversation never starts
// without a candidate.
var fallbackTopics = []string{
	"the weather", "the harvest", "old stories",
	"the market", "the neighbors", "plans for the week",
}

// TopicKnowledge is one agent's familiarity with a topic.
type TopicKnowledge struct {
	Confidence  float64 `json:"confidence"` // 0..1
	LastMention int     `json:"last_mention"`
	Uses        int     `json:"uses"`
}

// TopicConfig tunes selection, diffusion, and decay.
type TopicConfig struct {
	SpreadRadius    int     // tiles; bystanders beyond it never hear anything
	SpreadBase      float64 // base propagation chance at zero distance
	EmissionCap     int     // max propagations per turn
	DecayEvery      uint64  // ticks between decay passes
	DecayFactor     float64 // geometric confidence decay
	MinConfidence   float64 // eviction floor
	PerAgentCap     int     // max topics tracked per agent
	FreshnessWindow int     // minutes over which freshness saturates
}

// DefaultTopicConfig matches the small-town scenario.
func DefaultTopicConfig() TopicConfig {
	return TopicConfig{
		SpreadRadius:    4,
		SpreadBase:      0.35,
		EmissionCap:     2,
		DecayEvery:      120,
		DecayFactor:     0.98,
		MinConfidence:   0.05,
		PerAgentCap:     40,
		FreshnessWindow: 240,
	}
}

// Topics holds every agent's known-topic table. The kernel owns the instance
// and passes it into the systems that need it; there is no global state.
type Topics struct {
	cfg    TopicConfig
	tables map[string]map[string]*TopicKnowledge
	rng    *rand.Rand
}

// NewTopics creates empty tables on the topics stream of the seed.
func NewTopics(cfg TopicConfig, seed int64) *Topics {
	return &Topics{
		cfg:    cfg,
		tables: make(map[string]map[string]*TopicKnowledge),
		rng:    rng.New(seed, rng.OffsetTopics),
	}
}

func (t *Topics) table(agentID string) map[string]*TopicKnowledge {
	tbl, ok := t.tables[agentID]
	if !ok {
		tbl = make(map[string]*TopicKnowledge)
		t.tables[agentID] = tbl
	}
	return tbl
}

// Confidence returns how familiar the agent is with the topic, 0 if unknown.
func (t *Topics) Confidence(agentID, topic string) float64 {
	if k, ok := t.tables[agentID][topic]; ok {
		return k.Confidence
	}
	return 0
}

// Known returns the agent's topics sorted by name, for stable iteration.
func (t *Topics) Known(agentID string) []string {
	tbl := t.tables[agentID]
	out := make([]string, 0, len(tbl))
	for topic := range tbl {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// Choose scores every candidate topic for a conversation between a and b and
// returns the best one. Candidates are both agents' known topics, keywords
// from their freshest memories, the fixed fallback list, and the location
// name.
func (t *Topics) Choose(a, b string, memA, memB *memory.Store, location string, now int) string {
	seen := map[string]bool{}
	candidates := []string{}
	add := func(topic string) {
		if topic != "" && !seen[topic] {
			seen[topic] = true
			candidates = append(candidates, topic)
		}
	}

	for _, topic := range t.Known(a) {
		add(topic)
	}
	for _, topic := range t.Known(b) {
		add(topic)
	}
	for _, store := range []*memory.Store{memA, memB} {
		if store == nil {
			continue
		}
		for _, m := range store.RetrieveTopK("", now, 3, nil) {
			for _, kw := range m.Keywords {
				add(kw)
			}
		}
	}
	for _, topic := range fallbackTopics {
		add(topic)
	}
	add(location)

	best := fallbackTopics[0]
	bestScore := -1.0
	for _, topic := range candidates {
		score := t.score(a, b, topic, now) + t.rng.Float64()*0.1
		if score > bestScore {
			bestScore = score
			best = topic
		}
	}
	return best
}

// score combines freshness, novelty, salience, and an over-exposure penalty.
func (t *Topics) score(a, b, topic string, now int) float64 {
	ka, okA := t.tables[a][topic]
	kb, okB := t.tables[b][topic]

	freshness := 1.0
	uses := 0
	last := -1
	if okA {
		uses += ka.Uses
		if ka.LastMention > last {
			last = ka.LastMention
		}
	}
	if okB {
		uses += kb.Uses
		if kb.LastMention > last {
			last = kb.LastMention
		}
	}
	if last >= 0 {
		freshness = float64(now-last) / float64(t.cfg.FreshnessWindow)
		if freshness > 1 {
			freshness = 1
		}
		if freshness < 0 {
			freshness = 0
		}
	}

	shared := 0.0
	if okA {
		shared += ka.Confidence
	}
	if okB {
		shared += kb.Confidence
	}
	novelty := 1 - shared/2

	salience := float64(uses) / 10
	if salience > 1 {
		salience = 1
	}

	penalty := 0.0
	if uses > 6 && last >= 0 && now-last < 60 {
		penalty = 0.5
	}

	return 0.35*freshness + 0.35*novelty + 0.2*salience - penalty
}

// NoteMention raises the agent's confidence in a topic after speaking or
// hearing it firsthand.
func (t *Topics) NoteMention(agentID, topic string, now int) {
	tbl := t.table(agentID)
	k, ok := tbl[topic]
	if !ok {
		k = &TopicKnowledge{}
		tbl[topic] = k
	}
	k.Confidence += (1 - k.Confidence) * 0.3
	k.Uses++
	k.LastMention = now
	t.capTable(agentID)
}

// Spread is one successful propagation of a topic to a bystander.
type Spread struct {
	Target     string
	Confidence float64
	Hops       int
}

// Diffuse probabilistically propagates a mentioned topic to non-participant
// agents near the speakers. Chance scales with proximity, affinity toward the
// speaker, and the target's novelty; at most EmissionCap agents hear it per
// turn.
func (t *Topics) Diffuse(speaker *agents.Agent, other string, topic string, all []*agents.Agent, graph *social.Graph, now int) []Spread {
	var spreads []Spread
	for _, bystander := range all {
		if len(spreads) >= t.cfg.EmissionCap {
			break
		}
		if bystander.ID == speaker.ID || bystander.ID == other {
			continue
		}
		dist := bystander.Tile.Manhattan(speaker.Tile)
		if dist > t.cfg.SpreadRadius {
			continue
		}

		proximity := 1 - float64(dist)/float64(t.cfg.SpreadRadius+1)
		affinity := 0.5 + float64(graph.Weight(bystander.ID, speaker.ID))/200 // [-100,100] → [0,1]
		novelty := 1 - t.Confidence(bystander.ID, topic)

		chance := t.cfg.SpreadBase * proximity * affinity * novelty
		if !rng.Chance(t.rng, chance) {
			continue
		}

		conf := 0.3 * novelty
		tbl := t.table(bystander.ID)
		k, ok := tbl[topic]
		if !ok {
			k = &TopicKnowledge{}
			tbl[topic] = k
		}
		if conf > k.Confidence {
			k.Confidence = conf
		}
		k.LastMention = now
		t.capTable(bystander.ID)

		spreads = append(spreads, Spread{Target: bystander.ID, Confidence: conf, Hops: 1})
	}
	return spreads
}

// DecayTick geometrically decays all confidences on the configured interval
// and evicts entries below the floor.
func (t *Topics) DecayTick(tick uint64) {
	if t.cfg.DecayEvery == 0 || tick%t.cfg.DecayEvery != 0 {
		return
	}
	for agentID, tbl := range t.tables {
		for topic, k := range tbl {
			k.Confidence *= t.cfg.DecayFactor
			if k.Confidence < t.cfg.MinConfidence {
				delete(tbl, topic)
			}
		}
		if len(tbl) == 0 {
			delete(t.tables, agentID)
		}
	}
}

// capTable evicts the lowest-confidence topics once an agent tracks too many.
func (t *Topics) capTable(agentID string) {
	tbl := t.tables[agentID]
	if len(tbl) <= t.cfg.PerAgentCap {
		return
	}
	type entry struct {
		topic string
		conf  float64
	}
	entries := make([]entry, 0, len(tbl))
	for topic, k := range tbl {
		entries = append(entries, entry{topic, k.Confidence})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].conf != entries[j].conf {
			return entries[i].conf < entries[j].conf
		}
		return entries[i].topic < entries[j].topic
	})
	for _, e := range entries[:len(tbl)-t.cfg.PerAgentCap] {
		delete(tbl, e.topic)
	}
}
