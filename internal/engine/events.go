// Package engine drives the simulation: per-tick decision making, movement,
// conversations, topic diffusion, and the typed event stream consumed by the
// transport layer.
package engine

// EventKind discriminates kernel output events.
type EventKind string

const (
	EventConversationStart EventKind = "conversation_start"
	EventConversationTurn  EventKind = "conversation_turn"
	EventConversationEnd   EventKind = "conversation_end"
	EventSpeechBubble      EventKind = "speech_bubble"
	EventRelationshipShift EventKind = "relationship_shift"
	EventArrival           EventKind = "arrival"
	EventTopicSpread       EventKind = "topic_spread"
	EventLog               EventKind = "log"
)

// Event is one entry in the per-tick output batch.
type Event struct {
	Kind   EventKind `json:"kind"`
	Tick   uint64    `json:"tick"`
	Minute int       `json:"minute"`

	Agents       []string `json:"agents,omitempty"`       // participants, speaker first
	Conversation string   `json:"conversation,omitempty"` // conversation id
	Message      string   `json:"message,omitempty"`
	Topic        string   `json:"topic,omitempty"`
	Location     string   `json:"location,omitempty"`
	Reason       string   `json:"reason,omitempty"` // conversation end reason, shift direction
}

// emitter collects events during a tick. Drain hands the batch over exactly
// once; the next tick starts from an empty buffer.
type emitter struct {
	buf []Event
}

func (e *emitter) emit(ev Event) {
	e.buf = append(e.buf, ev)
}

func (e *emitter) drain() []Event {
	out := e.buf
	e.buf = nil
	return out
}
