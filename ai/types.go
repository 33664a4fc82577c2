// Package ai talks to the language-model completion provider.
package ai

import (
	"context"
	"errors"

	"smile-ai/backend/conversation/models"
)

// ErrNoChoices is returned when the provider answers without any choice
var ErrNoChoices = errors.New("completion returned no choices")

// Options tunes one completion request
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int64
}

// DefaultOptions returns the settings the relay was tuned with
func DefaultOptions() Options {
	return Options{
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		MaxTokens:   200,
	}
}

// Completer turns an ordered message list into the assistant's next reply.
// An empty string with a nil error means the provider had nothing to say.
type Completer interface {
	Complete(ctx context.Context, messages []models.Turn, opts Options) (string, error)
}

// CompleterFunc adapts a plain function to Completer
type CompleterFunc func(ctx context.Context, messages []models.Turn, opts Options) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, messages []models.Turn, opts Options) (string, error) {
	return f(ctx, messages, opts)
}
