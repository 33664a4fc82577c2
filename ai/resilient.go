package ai

import (
	"context"

	"smile-ai/backend/conversation/models"
	"smile-ai/backend/pkg/resilience"
)

// ResilientCompleter guards a Completer with a circuit breaker so a failing
// provider is skipped quickly instead of holding every webhook open
type ResilientCompleter struct {
	next    Completer
	breaker *resilience.CircuitBreaker
}

func NewResilientCompleter(next Completer, breaker *resilience.CircuitBreaker) *ResilientCompleter {
	return &ResilientCompleter{next: next, breaker: breaker}
}

func (r *ResilientCompleter) Complete(ctx context.Context, messages []models.Turn, opts Options) (string, error) {
	var reply string
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		reply, err = r.next.Complete(ctx, messages, opts)
		return err
	})
	return reply, err
}

// Breaker exposes the breaker for health reporting
func (r *ResilientCompleter) Breaker() *resilience.CircuitBreaker {
	return r.breaker
}
