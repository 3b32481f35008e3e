package llm

import (
	"context"
	"sync"
)

// Scripted is a deterministic Backend for tests and offline runs. Responses
// are served in order; once the script is exhausted, Fallback is returned.
type Scripted struct {
	mu       sync.Mutex
	script   []Response
	Fallback Response

	Prompts []Request // every request seen, in order
}

// NewScripted builds a stub that replies with the given responses in order.
func NewScripted(responses ...Response) *Scripted {
	return &Scripted{
		script:   responses,
		Fallback: Response{Err: "script exhausted"},
	}
}

// Complete pops the next scripted response.
func (s *Scripted) Complete(_ context.Context, req Request) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Prompts = append(s.Prompts, req)
	if len(s.script) == 0 {
		return s.Fallback
	}
	next := s.script[0]
	s.script = s.script[1:]
	return next
}

// Push appends responses to the script.
func (s *Scripted) Push(responses ...Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, responses...)
}
