package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"smile-ai/backend/ai"
	"smile-ai/backend/conversation/models"
	convservice "smile-ai/backend/conversation/service"
	apperrors "smile-ai/backend/pkg/errors"
	"smile-ai/backend/pkg/logger"
	"smile-ai/backend/shared/observability"
	"smile-ai/backend/webhook/channel"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// IdentityResolver maps a channel address to a user id
type IdentityResolver interface {
	Resolve(ctx context.Context, channel, externalID string) (string, error)
}

// ConversationStore is the per-user turn log
type ConversationStore interface {
	Append(ctx context.Context, userID string, role models.Role, content string) error
	Recent(ctx context.Context, userID string, limit int) ([]models.Turn, error)
}

// Config tunes an Orchestrator
type Config struct {
	// Secret is the channel signing secret; empty skips verification
	Secret        string
	SystemPrompt  string
	HistoryWindow int
	// Completion is passed through as is; the call deadline is the completer's
	Completion ai.Options
}

// Request is one raw inbound delivery
type Request struct {
	Signature   string
	URL         string
	ContentType string
	Body        []byte
}

// Response is what goes back to the channel provider
type Response struct {
	Result
	ContentType string
	Body        []byte
}

// Orchestrator drives one inbound delivery from signature check to reply
type Orchestrator struct {
	channel    channel.Channel
	identities IdentityResolver
	store      ConversationStore
	completer  ai.Completer
	cfg        Config
	metrics    *observability.Metrics
	log        *logger.Logger
	tracer     trace.Tracer
}

// Option customises an Orchestrator
type Option func(*Orchestrator)

// WithMetrics records outcomes and completion latency
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func NewOrchestrator(
	ch channel.Channel,
	identities IdentityResolver,
	store ConversationStore,
	completer ai.Completer,
	cfg Config,
	log *logger.Logger,
	opts ...Option,
) *Orchestrator {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	o := &Orchestrator{
		channel:    ch,
		identities: identities,
		store:      store,
		completer:  completer,
		cfg:        cfg,
		log:        log.WithChannel(ch.Name()),
		tracer:     otel.Tracer("smile-ai/webhook"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Channel returns the channel this orchestrator serves
func (o *Orchestrator) Channel() channel.Channel {
	return o.channel
}

// Handle settles one delivery. It never fails: every outcome, including
// internal errors, is rendered as a channel response.
func (o *Orchestrator) Handle(ctx context.Context, req Request) Response {
	ctx, span := o.tracer.Start(ctx, "webhook.handle",
		trace.WithAttributes(attribute.String("channel", o.channel.Name())))
	defer span.End()

	result := o.process(ctx, req)

	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	if result.Err != nil {
		span.RecordError(result.Err)
		if result.Outcome == OutcomeTechnicalDifficulty || result.Outcome == OutcomeRejected {
			span.SetStatus(codes.Error, string(result.Outcome))
		}
		o.log.WithContext(ctx).LogError(result.Err, "Webhook delivery degraded",
			"outcome", string(result.Outcome),
			"error_code", apperrors.GetErrorCode(result.Err),
		)
	}
	o.metrics.ObserveRequest(o.channel.Name(), string(result.Outcome))

	return o.render(result)
}

func (o *Orchestrator) process(ctx context.Context, req Request) Result {
	if o.cfg.Secret != "" && !o.channel.Verify(o.cfg.Secret, req.Signature, req.URL, req.Body) {
		return Result{
			Outcome: OutcomeRejected,
			Err:     apperrors.NewVerificationError("request signature does not match"),
		}
	}

	inbound, err := o.channel.Parse(req.ContentType, req.Body)
	if err != nil {
		return Result{Outcome: OutcomeIgnored, Err: err}
	}

	from := strings.TrimSpace(inbound.From)
	if from == "" {
		return Result{Outcome: OutcomeIgnored}
	}

	text := strings.TrimSpace(inbound.Body)
	if text == "" {
		return Result{Outcome: OutcomePromptForInput, Reply: PromptForInputReply}
	}

	return o.converse(ctx, from, text)
}

// converse runs identify, persist, load, assemble, complete and persist again.
// Any failure before the completion call, or a panic anywhere, settles as a
// technical-difficulty reply.
func (o *Orchestrator) converse(ctx context.Context, from, text string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{
				Outcome: OutcomeTechnicalDifficulty,
				Reply:   TechnicalDifficultyReply,
				Err:     fmt.Errorf("panic while handling message: %v", r),
			}
		}
	}()

	technical := func(err error) Result {
		return Result{Outcome: OutcomeTechnicalDifficulty, Reply: TechnicalDifficultyReply, Err: err}
	}

	userID, err := o.identities.Resolve(ctx, o.channel.Name(), from)
	if err != nil {
		return technical(err)
	}
	log := o.log.WithContext(ctx).WithUserID(userID)

	if err := o.store.Append(ctx, userID, models.RoleUser, text); err != nil {
		return technical(err)
	}

	history, err := o.store.Recent(ctx, userID, o.cfg.HistoryWindow)
	if err != nil {
		return technical(err)
	}

	messages := convservice.BuildContext(o.cfg.SystemPrompt, history)
	result = o.complete(ctx, messages)

	if err := o.store.Append(ctx, userID, models.RoleAssistant, result.Reply); err != nil {
		log.LogError(err, "Failed to persist assistant reply; delivering anyway")
	}

	log.Info("Message handled",
		"outcome", string(result.Outcome),
		"history_turns", len(history),
	)
	return result
}

func (o *Orchestrator) complete(ctx context.Context, messages []models.Turn) Result {
	ctx, span := o.tracer.Start(ctx, "completion",
		trace.WithAttributes(
			attribute.String("model", o.cfg.Completion.Model),
			attribute.Int("messages", len(messages)),
		))
	defer span.End()

	start := time.Now()
	reply, err := o.completer.Complete(ctx, messages, o.cfg.Completion)
	o.metrics.ObserveCompletion(ctx, o.channel.Name(), time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return Result{
			Outcome: OutcomeFallback,
			Reply:   CompletionFailedReply,
			Err:     apperrors.NewCompletionError("completion provider failed", err),
		}
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return Result{Outcome: OutcomeFallback, Reply: EmptyCompletionReply}
	}
	return Result{Outcome: OutcomeReplied, Reply: reply}
}

func (o *Orchestrator) render(result Result) Response {
	resp := Response{Result: result}
	switch {
	case result.Outcome == OutcomeRejected:
		resp.ContentType = "text/plain; charset=utf-8"
		resp.Body = []byte("Forbidden")
	case result.Delivered():
		resp.ContentType, resp.Body = o.channel.Reply(result.Reply)
	default:
		resp.ContentType, resp.Body = o.channel.Ack()
	}
	return resp
}
