// Package memory implements the per-agent memory stream: observations,
// reflections, and plans with scored retrieval and capacity-bounded pruning.
package memory

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// Kind discriminates the three memory sub-lists.
type Kind uint8

const (
	KindObservation Kind = iota
	KindReflection
	KindPlan
)

// Source records where a memory came from.
type Source uint8

const (
	SourcePerception Source = iota
	SourceDialogue
	SourceInternal
	SourceSocial
)

// PlanItemStatus tracks a plan step's lifecycle.
type PlanItemStatus uint8

const (
	PlanPending PlanItemStatus = iota
	PlanActive
	PlanCompleted
	PlanCancelled
)

// PlanItem is one ordered step inside a plan memory.
type PlanItem struct {
	Description string         `json:"description"`
	TargetX     *int           `json:"target_x,omitempty"`
	TargetY     *int           `json:"target_y,omitempty"`
	TargetTime  *int           `json:"target_time,omitempty"` // virtual minutes
	Priority    int            `json:"priority"`
	Status      PlanItemStatus `json:"status"`
}

// Memory is a single record in an agent's stream. Mutated only by access
// tracking, archival, and pruning.
type Memory struct {
	ID          uint64   `json:"id"`
	Kind        Kind     `json:"kind"`
	Content     string   `json:"content"`
	Timestamp   int      `json:"timestamp"` // virtual minutes
	Location    string   `json:"location,omitempty"`
	Subjects    []string `json:"subjects,omitempty"` // agent ids involved
	Keywords    []string `json:"keywords,omitempty"`
	Importance  float64  `json:"importance"` // 1–10
	AccessCount int      `json:"access_count"`
	LastAccess  int      `json:"last_access"`
	Source      Source   `json:"source"`
	Archived    bool     `json:"archived"`

	// Provenance of socially propagated facts.
	Confidence float64 `json:"confidence,omitempty"`
	Hops       int     `json:"hops,omitempty"`

	// Plan-only fields.
	PlanItems  []PlanItem `json:"plan_items,omitempty"`
	ValidUntil int        `json:"valid_until,omitempty"` // virtual minutes
}

// Config bounds the store and tunes retrieval.
type Config struct {
	MaxObservations  int
	MaxReflections   int
	MaxPlans         int
	HalfLifeMinutes  float64
	ArchiveAfter     int     // observations older than this (minutes) may be archived
	ArchiveThreshold float64 // ...when importance is below this
}

// DefaultConfig returns the standard capacities and half-life.
func DefaultConfig() Config {
	return Config{
		MaxObservations:  200,
		MaxReflections:   50,
		MaxPlans:         20,
		HalfLifeMinutes:  360,
		ArchiveAfter:     24 * 60,
		ArchiveThreshold: 4,
	}
}

// Store holds one agent's memories.
type Store struct {
	cfg    Config
	nextID uint64

	observations []*Memory
	reflections  []*Memory
	plans        []*Memory
}

// NewStore creates an empty store. Zero-valued config fields fall back to
// defaults.
func NewStore(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.MaxObservations <= 0 {
		cfg.MaxObservations = def.MaxObservations
	}
	if cfg.MaxReflections <= 0 {
		cfg.MaxReflections = def.MaxReflections
	}
	if cfg.MaxPlans <= 0 {
		cfg.MaxPlans = def.MaxPlans
	}
	if cfg.HalfLifeMinutes <= 0 {
		cfg.HalfLifeMinutes = def.HalfLifeMinutes
	}
	if cfg.ArchiveAfter <= 0 {
		cfg.ArchiveAfter = def.ArchiveAfter
	}
	if cfg.ArchiveThreshold <= 0 {
		cfg.ArchiveThreshold = def.ArchiveThreshold
	}
	return &Store{cfg: cfg, nextID: 1}
}

// AddObservation appends a perception-style memory.
func (s *Store) AddObservation(content string, now int, location string, subjects []string, importance float64, source Source) *Memory {
	m := s.newMemory(KindObservation, content, now, location, subjects, importance, source)
	s.observations = append(s.observations, m)
	s.observations = capByTimestamp(s.observations, s.cfg.MaxObservations)
	return m
}

// AddReflection appends a derived insight.
func (s *Store) AddReflection(content string, now int, subjects []string, importance float64) *Memory {
	m := s.newMemory(KindReflection, content, now, "", subjects, importance, SourceInternal)
	s.reflections = append(s.reflections, m)
	s.reflections = capByTimestamp(s.reflections, s.cfg.MaxReflections)
	return m
}

// AddPlan appends a plan with its ordered items and a validity horizon.
func (s *Store) AddPlan(content string, now int, items []PlanItem, validUntil int, importance float64) *Memory {
	m := s.newMemory(KindPlan, content, now, "", nil, importance, SourceInternal)
	m.PlanItems = items
	m.ValidUntil = validUntil
	s.plans = append(s.plans, m)
	s.plans = capByTimestamp(s.plans, s.cfg.MaxPlans)
	return m
}

func (s *Store) newMemory(kind Kind, content string, now int, location string, subjects []string, importance float64, source Source) *Memory {
	id := s.nextID
	s.nextID++
	return &Memory{
		ID:         id,
		Kind:       kind,
		Content:    content,
		Timestamp:  now,
		Location:   location,
		Subjects:   subjects,
		Keywords:   Tokenize(content),
		Importance: clampImportance(importance),
		LastAccess: now,
		Source:     source,
	}
}

// RetrieveTopK scores every non-archived memory against the query and returns
// the k best, marking each returned memory as accessed. Score is
// 0.5·recency + 0.3·importance + 0.2·relevance.
func (s *Store) RetrieveTopK(query string, now, k int, contextTerms []string) []*Memory {
	if k <= 0 {
		return nil
	}

	queryTokens := tokenSet(query, contextTerms)

	type scored struct {
		m     *Memory
		score float64
	}
	var candidates []scored
	for _, m := range s.all() {
		if m.Archived {
			continue
		}
		candidates = append(candidates, scored{m: m, score: s.score(m, now, queryTokens)})
	}

	// Ties resolve by id so retrieval stays deterministic.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].m.ID < candidates[j].m.ID
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]*Memory, 0, k)
	for _, c := range candidates[:k] {
		c.m.AccessCount++
		c.m.LastAccess = now
		out = append(out, c.m)
	}
	return out
}

func (s *Store) score(m *Memory, now int, queryTokens map[string]bool) float64 {
	recency := 1.0
	if age := now - m.Timestamp; age > 0 {
		recency = math.Pow(0.5, float64(age)/s.cfg.HalfLifeMinutes)
	}

	importance := m.Importance / 10
	if importance > 1 {
		importance = 1
	} else if importance < 0 {
		importance = 0
	}

	relevance := 0.0
	if len(queryTokens) > 0 {
		// Set intersection: a repeated keyword counts once, keeping
		// relevance within [0, 1].
		matched := make(map[string]bool, len(queryTokens))
		for _, kw := range m.Keywords {
			if queryTokens[kw] {
				matched[kw] = true
			}
		}
		relevance = float64(len(matched)) / float64(len(queryTokens))
	}

	return 0.5*recency + 0.3*importance + 0.2*relevance
}

// Prune archives stale low-importance observations and re-applies the
// capacity caps to all three sub-lists.
func (s *Store) Prune(now int) {
	for _, m := range s.observations {
		if m.Archived {
			continue
		}
		if now-m.Timestamp > s.cfg.ArchiveAfter && m.Importance < s.cfg.ArchiveThreshold {
			m.Archived = true
		}
	}
	s.observations = capByTimestamp(s.observations, s.cfg.MaxObservations)
	s.reflections = capByTimestamp(s.reflections, s.cfg.MaxReflections)
	s.plans = capByTimestamp(s.plans, s.cfg.MaxPlans)
}

// capByTimestamp evicts the oldest memories once a sub-list exceeds its cap.
func capByTimestamp(list []*Memory, max int) []*Memory {
	if len(list) <= max {
		return list
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Timestamp != list[j].Timestamp {
			return list[i].Timestamp < list[j].Timestamp
		}
		return list[i].ID < list[j].ID
	})
	return list[len(list)-max:]
}

// Observations returns the live observation sub-list (borrowed, do not
// mutate).
func (s *Store) Observations() []*Memory { return s.observations }

// Reflections returns the live reflection sub-list.
func (s *Store) Reflections() []*Memory { return s.reflections }

// Plans returns the live plan sub-list.
func (s *Store) Plans() []*Memory { return s.plans }

// LastReflection returns the most recent reflection, or nil.
func (s *Store) LastReflection() *Memory {
	var best *Memory
	for _, m := range s.reflections {
		if best == nil || m.Timestamp > best.Timestamp ||
			(m.Timestamp == best.Timestamp && m.ID > best.ID) {
			best = m
		}
	}
	return best
}

// ActivePlan returns the newest plan still inside its validity horizon, or
// nil.
func (s *Store) ActivePlan(now int) *Memory {
	var best *Memory
	for _, m := range s.plans {
		if m.Archived || (m.ValidUntil > 0 && m.ValidUntil < now) {
			continue
		}
		if best == nil || m.Timestamp > best.Timestamp {
			best = m
		}
	}
	return best
}

func (s *Store) all() []*Memory {
	out := make([]*Memory, 0, len(s.observations)+len(s.reflections)+len(s.plans))
	out = append(out, s.observations...)
	out = append(out, s.reflections...)
	out = append(out, s.plans...)
	return out
}

func clampImportance(v float64) float64 {
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}

// Tokenize lower-cases the text, strips non-alphanumeric runes, and drops
// tokens shorter than two characters.
func Tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)

	var out []string
	for _, tok := range strings.Fields(cleaned) {
		if len(tok) >= 2 {
			out = append(out, tok)
		}
	}
	return out
}

func tokenSet(query string, contextTerms []string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range Tokenize(query) {
		set[tok] = true
	}
	for _, term := range contextTerms {
		t := strings.ToLower(strings.TrimSpace(term))
		if len(t) >= 2 {
			set[t] = true
		}
	}
	return set
}
