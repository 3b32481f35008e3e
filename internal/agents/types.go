// Package agents provides the agent data model and the deterministic roster
// generator.
package agents

import (
	"github.com/talgya/smalltown/internal/nav"
)

// State is an agent's behavioral state.
type State uint8

const (
	StateIdle State = iota
	StateWalking
	StateConversing
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateWalking:
		return "walking"
	case StateConversing:
		return "conversing"
	default:
		return "idle"
	}
}

// Profile is the immutable part of an agent.
type Profile struct {
	Name       string   `json:"name"`
	Age        int      `json:"age"`
	Occupation string   `json:"occupation"`
	Workplace  string   `json:"workplace,omitempty"` // location id
	Schedule   string   `json:"schedule,omitempty"`  // e.g. "09:00-17:00"
	Traits     []string `json:"traits"`
	Interests  []string `json:"interests"`
	Home       string   `json:"home"` // location id
	Color      string   `json:"color"`
}

// Status is the agent's need vector. All values live in [0, 100].
type Status struct {
	Energy float64 `json:"energy"`
	Hunger float64 `json:"hunger"`
	Mood   float64 `json:"mood"`
	Social float64 `json:"social"`
}

// Clamp forces every field back into [0, 100].
func (s *Status) Clamp() {
	for _, f := range []*float64{&s.Energy, &s.Hunger, &s.Mood, &s.Social} {
		if *f < 0 {
			*f = 0
		}
		if *f > 100 {
			*f = 100
		}
	}
}

// Agent is one person in the town.
type Agent struct {
	ID      string  `json:"id"`
	Profile Profile `json:"profile"`

	// Runtime state, mutated only by the kernel tick and its continuations.
	X          float64    `json:"x"` // continuous position
	Y          float64    `json:"y"`
	Tile       nav.Tile   `json:"tile"`
	State      State      `json:"state"`
	Path       []nav.Tile `json:"path,omitempty"`
	PathCursor int        `json:"path_cursor"`
	Status     Status     `json:"status"`

	NextDecisionTick uint64 `json:"next_decision_tick"`
}

// SetPath assigns a new route and recomputes the behavioral state.
func (a *Agent) SetPath(path []nav.Tile) {
	a.Path = path
	a.PathCursor = 0
	a.syncState()
}

// ClearPath drops the current route; the agent goes idle unless conversing.
func (a *Agent) ClearPath() {
	a.Path = nil
	a.PathCursor = 0
	a.syncState()
}

// StepPath advances one tile along the path. Returns the new tile and true
// while walking; conversing agents hold position.
func (a *Agent) StepPath() (nav.Tile, bool) {
	if a.State != StateWalking || a.PathCursor >= len(a.Path) {
		return a.Tile, false
	}
	next := a.Path[a.PathCursor]
	a.PathCursor++
	a.Tile = next
	a.X = float64(next.X)
	a.Y = float64(next.Y)
	a.syncState()
	return next, true
}

// PathDone reports whether the current route is exhausted.
func (a *Agent) PathDone() bool {
	return a.PathCursor >= len(a.Path)
}

// EnterConversation pins the agent in place for the dialogue's duration.
func (a *Agent) EnterConversation() {
	a.State = StateConversing
}

// LeaveConversation restores idle/walking per the path invariant.
func (a *Agent) LeaveConversation() {
	if a.State == StateConversing {
		a.State = StateIdle
		a.syncState()
	}
}

// Conversing reports whether the agent is mid-dialogue.
func (a *Agent) Conversing() bool {
	return a.State == StateConversing
}

// MoveTo teleports the agent (spawn and restore only).
func (a *Agent) MoveTo(t nav.Tile) {
	a.Tile = t
	a.X = float64(t.X)
	a.Y = float64(t.Y)
}

// syncState keeps the invariant: Walking iff the path has remaining tiles and
// the agent is not conversing.
func (a *Agent) syncState() {
	if a.State == StateConversing {
		return
	}
	if a.PathCursor < len(a.Path) {
		a.State = StateWalking
	} else {
		a.State = StateIdle
	}
}
