package engine

import (
	"github.com/google/uuid"
)

// Conversation end reasons.
const (
	EndReasonMaxTurns = "maxTurns"
	EndReasonNatural  = "natural"
	EndReasonShutdown = "shutdown"
)

// Intent and tone drive line composition; the arc follows the turn number.
type (
	Intent string
	Tone   string
	Arc    string
)

const (
	IntentBond       Intent = "bond"
	IntentInform     Intent = "inform"
	IntentCoordinate Intent = "coordinate"
	IntentVent       Intent = "vent"

	ToneWarm    Tone = "warm"
	ToneNeutral Tone = "neutral"
	ToneTense   Tone = "tense"

	ArcOpening   Arc = "opening"
	ArcExploring Arc = "exploring"
	ArcResolving Arc = "resolving"
	ArcClosing   Arc = "closing"
)

// ArcForTurn maps the turn number onto the narrative arc.
func ArcForTurn(turn int) Arc {
	switch {
	case turn == 0:
		return ArcOpening
	case turn <= 2:
		return ArcExploring
	case turn <= 4:
		return ArcResolving
	default:
		return ArcClosing
	}
}

// Turn is one recorded line.
type Turn struct {
	Speaker string `json:"speaker"`
	Message string `json:"message"`
	Minute  int    `json:"minute"`
}

// Conversation is a two-party dialogue. Active conversations are owned by the
// ConversationEngine; once ended they are immutable history.
type Conversation struct {
	ID       string `json:"id"`
	A        string `json:"a"` // initiator
	B        string `json:"b"`
	Location string `json:"location"`
	Turns    []Turn `json:"turns"`
	Speaker  string `json:"speaker"` // whose turn it is
	StartMin int    `json:"start_min"`
	EndMin   int    `json:"end_min"`
	Deadline int    `json:"deadline"` // minute the current turn resolves by
	Ended    bool   `json:"ended"`
	EndedFor string `json:"ended_for"`

	// Composition state.
	Topic         string `json:"topic"`
	Intent        Intent `json:"intent"`
	Tone          Tone   `json:"tone"`
	RewriteStreak int    `json:"rewrite_streak"`
	ForceClosing  bool   `json:"force_closing"`
	TenseStreak   int    `json:"tense_streak"`
}

// Other returns the participant who is not id.
func (c *Conversation) Other(id string) string {
	if id == c.A {
		return c.B
	}
	return c.A
}

// Arc derives the current narrative arc, honoring a forced close.
func (c *Conversation) Arc() Arc {
	if c.ForceClosing {
		return ArcClosing
	}
	return ArcForTurn(len(c.Turns))
}

// ConvConfig tunes the dialogue state machine.
type ConvConfig struct {
	MaxTurns     int
	TurnTimeout  int // minutes between turns
	Cooldown     int // minutes before a pair may talk again
	MinWeight    int // relationship floor to start
	MaxLineChars int
}

// DefaultConvConfig matches the default scenario.
func DefaultConvConfig() ConvConfig {
	return ConvConfig{
		MaxTurns:     8,
		TurnTimeout:  2,
		Cooldown:     90,
		MinWeight:    -20,
		MaxLineChars: 120,
	}
}

type pairKey struct{ a, b string }

// ConversationEngine runs the turn state machine. Content comes from a
// caller-supplied resolver so the machine stays independent of composition.
type ConversationEngine struct {
	cfg ConvConfig

	active    []*Conversation // start order, deterministic iteration
	byID      map[string]*Conversation
	busy      map[string]string // agent id → conversation id
	cooldowns map[pairKey]int   // ordered pair → minute the cooldown ends
}

// NewConversationEngine creates an engine with no active conversations.
func NewConversationEngine(cfg ConvConfig) *ConversationEngine {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultConvConfig().MaxTurns
	}
	if cfg.MaxLineChars <= 0 {
		cfg.MaxLineChars = DefaultConvConfig().MaxLineChars
	}
	return &ConversationEngine{
		cfg:       cfg,
		byID:      make(map[string]*Conversation),
		busy:      make(map[string]string),
		cooldowns: make(map[pairKey]int),
	}
}

// Get looks up a conversation, active or ended.
func (e *ConversationEngine) Get(id string) (*Conversation, bool) {
	c, ok := e.byID[id]
	return c, ok
}

// InConversation returns the agent's active conversation id, if any.
func (e *ConversationEngine) InConversation(agentID string) (string, bool) {
	id, ok := e.busy[agentID]
	return id, ok
}

// Active returns the live conversations in start order.
func (e *ConversationEngine) Active() []*Conversation {
	out := make([]*Conversation, len(e.active))
	copy(out, e.active)
	return out
}

// CanStart reports whether a may open a conversation with b: both free, the
// relationship at or above the floor, and the ordered pair past its cooldown.
func (e *ConversationEngine) CanStart(a, b string, now, relationshipWeight int) bool {
	if a == b {
		return false
	}
	if _, busy := e.busy[a]; busy {
		return false
	}
	if _, busy := e.busy[b]; busy {
		return false
	}
	if relationshipWeight < e.cfg.MinWeight {
		return false
	}
	if until, ok := e.cooldowns[pairKey{a, b}]; ok && now < until {
		return false
	}
	return true
}

// Start atomically activates a conversation with a as first speaker.
func (e *ConversationEngine) Start(a, b, location string, now int) *Conversation {
	c := &Conversation{
		ID:       uuid.NewString(),
		A:        a,
		B:        b,
		Location: location,
		Speaker:  a,
		StartMin: now,
		Deadline: now + e.cfg.TurnTimeout,
	}
	e.active = append(e.active, c)
	e.byID[c.ID] = c
	e.busy[a] = c.ID
	e.busy[b] = c.ID
	return c
}

// Tick advances every active conversation once. A turn resolves when its
// deadline arrives; resolve supplies the line, which is clamped, recorded,
// and echoed as turn + speech-bubble events. Hitting the turn cap ends the
// conversation with reason maxTurns.
func (e *ConversationEngine) Tick(tick uint64, now int, resolve func(*Conversation) string) []Event {
	var events []Event
	for _, c := range e.Active() {
		if c.Ended || now < c.Deadline {
			continue
		}

		speaker := c.Speaker
		line := clampLine(resolve(c), e.cfg.MaxLineChars)
		c.Turns = append(c.Turns, Turn{Speaker: speaker, Message: line, Minute: now})
		c.Speaker = c.Other(speaker)
		c.Deadline = now + e.cfg.TurnTimeout

		events = append(events,
			Event{Kind: EventConversationTurn, Tick: tick, Minute: now,
				Conversation: c.ID, Agents: []string{speaker, c.Speaker},
				Message: line, Topic: c.Topic, Location: c.Location},
			Event{Kind: EventSpeechBubble, Tick: tick, Minute: now,
				Conversation: c.ID, Agents: []string{speaker}, Message: line},
		)

		if len(c.Turns) >= e.cfg.MaxTurns {
			events = append(events, e.End(c.ID, EndReasonMaxTurns, tick, now))
		}
	}
	return events
}

// End completes a conversation, starts the pair cooldown, and frees both
// participants. Unknown ids yield a best-effort event rather than an error.
func (e *ConversationEngine) End(id, reason string, tick uint64, now int) Event {
	c, ok := e.byID[id]
	if !ok || c.Ended {
		return Event{Kind: EventConversationEnd, Tick: tick, Minute: now,
			Conversation: id, Reason: reason}
	}

	c.Ended = true
	c.EndedFor = reason
	c.EndMin = now

	until := now + e.cfg.Cooldown
	e.cooldowns[pairKey{c.A, c.B}] = until
	e.cooldowns[pairKey{c.B, c.A}] = until
	delete(e.busy, c.A)
	delete(e.busy, c.B)

	for i, active := range e.active {
		if active.ID == id {
			e.active = append(e.active[:i], e.active[i+1:]...)
			break
		}
	}

	return Event{Kind: EventConversationEnd, Tick: tick, Minute: now,
		Conversation: id, Agents: []string{c.A, c.B},
		Topic: c.Topic, Location: c.Location, Reason: reason}
}

func clampLine(line string, max int) string {
	runes := []rune(line)
	if len(runes) <= max {
		return line
	}
	return string(runes[:max])
}
