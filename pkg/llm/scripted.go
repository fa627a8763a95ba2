package llm

import (
	"context"
	"sync"
)

// Scripted is a Provider for tests. It returns queued responses in order
// and records every prompt it saw.
type Scripted struct {
	mu        sync.Mutex
	responses []string
	err       error

	// Prompts holds every prompt passed to Complete, in order.
	Prompts []string

	// Systems holds the system instruction of each call.
	Systems []string
}

// NewScripted creates a provider that replays the given responses. After
// they run out, the last one repeats.
func NewScripted(responses ...string) *Scripted {
	return &Scripted{responses: responses}
}

// Fail makes every subsequent Complete call return err.
func (s *Scripted) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Complete returns the next scripted response.
func (s *Scripted) Complete(ctx context.Context, system, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Systems = append(s.Systems, system)
	s.Prompts = append(s.Prompts, prompt)

	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", nil
	}

	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return resp, nil
}

// Calls returns how many times Complete was invoked.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Prompts)
}
