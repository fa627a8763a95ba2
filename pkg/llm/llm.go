// Package llm provides the language model provider used for reflection and
// answer synthesis.
package llm

import (
	"context"
	"errors"
)

// ErrProviderUnavailable is returned when no LLM backend is configured or
// the backend cannot be reached.
var ErrProviderUnavailable = errors.New("llm: provider unavailable")

// Provider generates text completions.
type Provider interface {
	// Complete returns the model's response to a prompt under a system
	// instruction.
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Disabled is a Provider that always fails. It stands in when no LLM is
// configured; callers degrade to their non-LLM fallbacks.
type Disabled struct{}

// Complete always returns ErrProviderUnavailable.
func (Disabled) Complete(ctx context.Context, system, prompt string) (string, error) {
	return "", ErrProviderUnavailable
}
