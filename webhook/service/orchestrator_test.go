package service

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"smile-ai/backend/ai"
	"smile-ai/backend/conversation/models"
	"smile-ai/backend/conversation/repository"
	convservice "smile-ai/backend/conversation/service"
	"smile-ai/backend/internal/testdb"
	apperrors "smile-ai/backend/pkg/errors"
	"smile-ai/backend/pkg/logger"
	"smile-ai/backend/pkg/resilience"
	"smile-ai/backend/shared/observability"
	"smile-ai/backend/webhook/channel"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	formType   = "application/x-www-form-urlencoded"
	webhookURL = "https://relay.example.com/webhooks/whatsapp/message"
)

// fakeCompleter records every call and answers with reply/err or fn
type fakeCompleter struct {
	mu    sync.Mutex
	calls [][]models.Turn
	reply string
	err   error
	fn    func(ctx context.Context) (string, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []models.Turn, _ ai.Options) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx)
	}
	return f.reply, f.err
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type harness struct {
	db        *gorm.DB
	store     *convservice.ConversationStore
	resolver  *convservice.IdentityResolver
	completer *fakeCompleter
	channel   *channel.Twilio
}

func newHarness(t *testing.T, reply string) *harness {
	t.Helper()
	db := testdb.Open(t)
	return &harness{
		db:        db,
		store:     convservice.NewConversationStore(repository.NewGormMessageRepository(db)),
		resolver:  convservice.NewIdentityResolver(repository.NewGormUserRepository(db), logger.Discard()),
		completer: &fakeCompleter{reply: reply},
		channel:   channel.NewTwilio(models.ChannelWhatsApp),
	}
}

func (h *harness) orchestrator(cfg Config, opts ...Option) *Orchestrator {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = "be kind"
	}
	cfg.Completion = ai.DefaultOptions()
	return NewOrchestrator(h.channel, h.resolver, h.store, h.completer, cfg, logger.Discard(), opts...)
}

func (h *harness) messages(t *testing.T) []models.Message {
	t.Helper()
	var msgs []models.Message
	require.NoError(t, h.db.Order("id").Find(&msgs).Error)
	return msgs
}

func formRequest(from, body string) Request {
	values := url.Values{}
	if from != "" {
		values.Set("From", from)
	}
	values.Set("Body", body)
	return Request{URL: webhookURL, ContentType: formType, Body: []byte(values.Encode())}
}

func TestHandleRepliesAndPersistsBothTurns(t *testing.T) {
	h := newHarness(t, "  hi there  ")

	resp := h.orchestrator(Config{}).Handle(context.Background(), formRequest("u1", "hello"))

	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, OutcomeReplied, resp.Outcome)
	assert.Contains(t, string(resp.Body), "<Message>hi there</Message>")
	assert.Equal(t, "text/xml; charset=utf-8", resp.ContentType)

	msgs := h.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hi there", msgs[1].Content)
	assert.Equal(t, msgs[0].UserID, msgs[1].UserID)

	userID, err := h.resolver.Resolve(context.Background(), models.ChannelWhatsApp, "u1")
	require.NoError(t, err)
	assert.Equal(t, userID, msgs[0].UserID)
}

func TestHandleWhitespaceBodyPromptsForInput(t *testing.T) {
	h := newHarness(t, "unused")

	resp := h.orchestrator(Config{}).Handle(context.Background(), formRequest("u1", "   "))

	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, OutcomePromptForInput, resp.Outcome)
	assert.Contains(t, string(resp.Body), PromptForInputReply)
	assert.Empty(t, h.messages(t))
	assert.Zero(t, h.completer.callCount())
}

func (h *harness) guardedOrchestrator(breaker *resilience.CircuitBreaker) *Orchestrator {
	cfg := Config{SystemPrompt: "be kind", Completion: ai.DefaultOptions()}
	completer := ai.NewResilientCompleter(h.completer, breaker)
	return NewOrchestrator(h.channel, h.resolver, h.store, completer, cfg, logger.Discard())
}

func hangUntilDone(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestHandleCompletionTimeoutFallsBack(t *testing.T) {
	h := newHarness(t, "")
	h.completer.fn = hangUntilDone
	breaker := resilience.NewCircuitBreaker(resilience.Config{
		Name:             "completion",
		FailureThreshold: 5,
		Timeout:          20 * time.Millisecond,
		RetryTimeout:     time.Minute,
	}, logger.Discard())

	resp := h.guardedOrchestrator(breaker).Handle(context.Background(), formRequest("u1", "hello"))

	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, OutcomeFallback, resp.Outcome)
	assert.Contains(t, string(resp.Body), CompletionFailedReply)
	assert.True(t, apperrors.HasCode(resp.Err, apperrors.CodeCompletion))
	assert.ErrorIs(t, resp.Err, context.DeadlineExceeded)

	msgs := h.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, CompletionFailedReply, msgs[1].Content)
}

func TestHandleRepeatedTimeoutsOpenTheCircuit(t *testing.T) {
	h := newHarness(t, "")
	h.completer.fn = hangUntilDone
	breaker := resilience.NewCircuitBreaker(resilience.Config{
		Name:             "completion",
		FailureThreshold: 1,
		Timeout:          20 * time.Millisecond,
		RetryTimeout:     time.Minute,
	}, logger.Discard())
	orch := h.guardedOrchestrator(breaker)

	for i := 0; i < 3; i++ {
		resp := orch.Handle(context.Background(), formRequest("u1", "hello"))
		assert.Equal(t, http.StatusOK, resp.StatusCode())
		assert.Equal(t, OutcomeFallback, resp.Outcome)
		assert.Contains(t, string(resp.Body), CompletionFailedReply)
	}

	assert.Equal(t, 1, h.completer.callCount())
	assert.Equal(t, resilience.StateOpen, breaker.State())
	stats := breaker.Stats()
	assert.Equal(t, uint64(1), stats.TotalFailures)
	assert.Equal(t, uint64(2), stats.Rejected)
}

func TestHandleEmptyCompletionFallsBack(t *testing.T) {
	h := newHarness(t, "   ")

	resp := h.orchestrator(Config{}).Handle(context.Background(), formRequest("u1", "hello"))

	assert.Equal(t, OutcomeFallback, resp.Outcome)
	assert.NoError(t, resp.Err)
	assert.Contains(t, string(resp.Body), EmptyCompletionReply)
	msgs := h.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, EmptyCompletionReply, msgs[1].Content)
}

func TestHandleRejectsBadSignature(t *testing.T) {
	h := newHarness(t, "hi there")
	req := formRequest("u1", "hello")
	req.Signature = "bm90LWEtc2lnbmF0dXJl"

	resp := h.orchestrator(Config{Secret: "shh"}).Handle(context.Background(), req)

	assert.Equal(t, http.StatusForbidden, resp.StatusCode())
	assert.Equal(t, OutcomeRejected, resp.Outcome)
	assert.True(t, apperrors.HasCode(resp.Err, apperrors.CodeVerification))
	assert.Empty(t, h.messages(t))
	assert.Zero(t, h.completer.callCount())

	var users int64
	require.NoError(t, h.db.Model(&models.User{}).Count(&users).Error)
	assert.Zero(t, users)
}

func TestHandleRejectsMissingSignature(t *testing.T) {
	h := newHarness(t, "hi there")

	resp := h.orchestrator(Config{Secret: "shh"}).Handle(context.Background(), formRequest("u1", "hello"))

	assert.Equal(t, http.StatusForbidden, resp.StatusCode())
	assert.Zero(t, h.completer.callCount())
}

func TestHandleAcceptsValidSignature(t *testing.T) {
	h := newHarness(t, "hi there")
	req := formRequest("u1", "hello")
	// URL followed by the sorted form parameters, as the provider signs it.
	req.Signature = signForTest("shh", webhookURL+"Bodyhello"+"Fromu1")

	resp := h.orchestrator(Config{Secret: "shh"}).Handle(context.Background(), req)

	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, OutcomeReplied, resp.Outcome)
}

func TestHandleSkipsVerificationWithoutSecret(t *testing.T) {
	h := newHarness(t, "hi there")
	req := formRequest("u1", "hello")
	req.Signature = "garbage"

	resp := h.orchestrator(Config{}).Handle(context.Background(), req)

	assert.Equal(t, OutcomeReplied, resp.Outcome)
}

func TestHandleMissingSenderIsAcknowledged(t *testing.T) {
	h := newHarness(t, "hi there")

	resp := h.orchestrator(Config{}).Handle(context.Background(), formRequest("", "hello"))

	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, OutcomeIgnored, resp.Outcome)
	assert.NotContains(t, string(resp.Body), "<Message>")
	assert.Empty(t, h.messages(t))
	assert.Zero(t, h.completer.callCount())
}

func TestHandleUnparseableBodyIsAcknowledged(t *testing.T) {
	h := newHarness(t, "hi there")

	resp := h.orchestrator(Config{}).Handle(context.Background(), Request{
		URL: webhookURL, ContentType: "application/json", Body: []byte("{oops"),
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, OutcomeIgnored, resp.Outcome)
	assert.Empty(t, h.messages(t))
}

func TestHandleSendsBoundedChronologicalContext(t *testing.T) {
	h := newHarness(t, "ok")
	orch := h.orchestrator(Config{HistoryWindow: 3, SystemPrompt: "persona"})

	for _, text := range []string{"one", "two", "three"} {
		resp := orch.Handle(context.Background(), formRequest("u1", text))
		require.Equal(t, OutcomeReplied, resp.Outcome)
	}

	require.Equal(t, 3, h.completer.callCount())
	last := h.completer.calls[2]
	assert.Equal(t, []models.Turn{
		{Role: models.RoleSystem, Content: "persona"},
		{Role: models.RoleUser, Content: "two"},
		{Role: models.RoleAssistant, Content: "ok"},
		{Role: models.RoleUser, Content: "three"},
	}, last)
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, string, string) (string, error) {
	return "", apperrors.NewPersistenceError("failed to look up user", errors.New("connection refused"))
}

func TestHandleResolverFailureIsTechnicalDifficulty(t *testing.T) {
	h := newHarness(t, "hi there")
	orch := NewOrchestrator(h.channel, failingResolver{}, h.store, h.completer,
		Config{SystemPrompt: "p"}, logger.Discard())

	resp := orch.Handle(context.Background(), formRequest("u1", "hello"))

	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, OutcomeTechnicalDifficulty, resp.Outcome)
	assert.Contains(t, string(resp.Body), TechnicalDifficultyReply)
	assert.Zero(t, h.completer.callCount())
}

// flakyStore fails appends for one role and delegates everything else
type flakyStore struct {
	ConversationStore
	failRole models.Role
}

func (f flakyStore) Append(ctx context.Context, userID string, role models.Role, content string) error {
	if role == f.failRole {
		return apperrors.NewPersistenceError("failed to append message", errors.New("disk full"))
	}
	return f.ConversationStore.Append(ctx, userID, role, content)
}

func TestHandleInboundAppendFailureIsTechnicalDifficulty(t *testing.T) {
	h := newHarness(t, "hi there")
	store := flakyStore{ConversationStore: h.store, failRole: models.RoleUser}
	orch := NewOrchestrator(h.channel, h.resolver, store, h.completer, Config{SystemPrompt: "p"}, logger.Discard())

	resp := orch.Handle(context.Background(), formRequest("u1", "hello"))

	assert.Equal(t, OutcomeTechnicalDifficulty, resp.Outcome)
	assert.True(t, apperrors.HasCode(resp.Err, apperrors.CodePersistence))
	assert.Zero(t, h.completer.callCount())
}

func TestHandleOutboundAppendFailureStillDelivers(t *testing.T) {
	h := newHarness(t, "hi there")
	store := flakyStore{ConversationStore: h.store, failRole: models.RoleAssistant}
	orch := NewOrchestrator(h.channel, h.resolver, store, h.completer, Config{SystemPrompt: "p"}, logger.Discard())

	resp := orch.Handle(context.Background(), formRequest("u1", "hello"))

	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, OutcomeReplied, resp.Outcome)
	assert.Contains(t, string(resp.Body), "hi there")
	msgs := h.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
}

func TestHandleRecoversFromPanic(t *testing.T) {
	h := newHarness(t, "")
	h.completer.fn = func(context.Context) (string, error) { panic("nil map") }

	resp := h.orchestrator(Config{}).Handle(context.Background(), formRequest("u1", "hello"))

	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, OutcomeTechnicalDifficulty, resp.Outcome)
	assert.Contains(t, string(resp.Body), TechnicalDifficultyReply)
}

func TestHandleCountsOutcomes(t *testing.T) {
	h := newHarness(t, "hi there")
	metrics, err := observability.NewMetrics()
	require.NoError(t, err)
	orch := h.orchestrator(Config{}, WithMetrics(metrics))

	orch.Handle(context.Background(), formRequest("u1", "hello"))
	orch.Handle(context.Background(), formRequest("u1", " "))

	body := scrape(t, metrics)
	assert.Contains(t, body, `smile_webhook_requests_total{channel="whatsapp",outcome="replied"} 1`)
	assert.Contains(t, body, `smile_webhook_requests_total{channel="whatsapp",outcome="prompt_for_input"} 1`)
	count, err := testutil.GatherAndCount(metrics.Registry(), "smile_webhook_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestResultStatusCode(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   int
	}{
		{"replied", Result{Outcome: OutcomeReplied, Reply: "hi"}, http.StatusOK},
		{"fallback keeps 200", Result{Outcome: OutcomeFallback, Err: apperrors.NewCompletionError("down", errors.New("x"))}, http.StatusOK},
		{"rejected with verification error", Result{Outcome: OutcomeRejected, Err: apperrors.NewVerificationError("bad signature")}, http.StatusForbidden},
		{"rejected without error", Result{Outcome: OutcomeRejected}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.StatusCode())
		})
	}
}
