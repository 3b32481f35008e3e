package engine

import (
	"github.com/talgya/smalltown/internal/nav"
	"github.com/talgya/smalltown/internal/social"
)

// AgentSnapshot is a pure per-agent projection for transport and the status
// API. Building one never mutates simulation state.
type AgentSnapshot struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Occupation string   `json:"occupation"`
	Color      string   `json:"color"`
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Tile       nav.Tile `json:"tile"`
	State      string   `json:"state"`

	Goal           string         `json:"goal,omitempty"` // where the current path leads
	PlanPreview    string         `json:"plan_preview,omitempty"`
	LastReflection string         `json:"last_reflection,omitempty"`
	Relationships  social.Summary `json:"relationships"`
	Conversation   string         `json:"conversation,omitempty"`
	LastDecision   *Trace         `json:"last_decision,omitempty"`
	Energy         float64        `json:"energy"`
	Mood           float64        `json:"mood"`
}

// Snapshot projects the whole population. Read-only: memory retrieval is not
// used here because it would bump access counters.
func (k *Kernel) Snapshot() []AgentSnapshot {
	now := k.Clock.TotalMinutes()
	out := make([]AgentSnapshot, 0, len(k.Agents))
	for _, a := range k.Agents {
		snap := AgentSnapshot{
			ID:         a.ID,
			Name:       a.Profile.Name,
			Occupation: a.Profile.Occupation,
			Color:      a.Profile.Color,
			X:          a.X,
			Y:          a.Y,
			Tile:       a.Tile,
			State:      a.State.String(),
			Energy:     a.Status.Energy,
			Mood:       a.Status.Mood,
		}

		if len(a.Path) > 0 && a.PathCursor < len(a.Path) {
			goal := a.Path[len(a.Path)-1]
			if loc, ok := k.Catalog.At(goal); ok {
				snap.Goal = loc.Name
			} else {
				snap.Goal = goal.String()
			}
		}

		if store := k.Memories[a.ID]; store != nil {
			if r := store.LastReflection(); r != nil {
				snap.LastReflection = r.Content
			}
			if p := store.ActivePlan(now); p != nil {
				snap.PlanPreview = p.Content
			}
		}

		snap.Relationships = k.Graph.Summarize(a.ID)
		if id, ok := k.conversations.InConversation(a.ID); ok {
			snap.Conversation = id
		}
		if trace, ok := k.decisions.LastTrace(a.ID); ok {
			t := trace
			snap.LastDecision = &t
		}

		out = append(out, snap)
	}
	return out
}
