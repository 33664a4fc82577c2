package di

import (
	"context"
	"errors"
	"time"

	"smile-ai/backend/ai"
	"smile-ai/backend/conversation/models"
	"smile-ai/backend/conversation/repository"
	convservice "smile-ai/backend/conversation/service"
	"smile-ai/backend/pkg/cache"
	"smile-ai/backend/pkg/config"
	"smile-ai/backend/pkg/health"
	"smile-ai/backend/pkg/logger"
	"smile-ai/backend/pkg/resilience"
	"smile-ai/backend/shared/observability"
	redisclient "smile-ai/backend/shared/redis"
	"smile-ai/backend/webhook/channel"
	webhookservice "smile-ai/backend/webhook/service"

	"gorm.io/gorm"
)

// ErrCompletionNotConfigured is what the placeholder completer returns when no API key is set
var ErrCompletionNotConfigured = errors.New("completion provider is not configured")

// Container holds all the dependencies for the application
type Container struct {
	Config  *config.Config
	DB      *gorm.DB
	Logger  *logger.Logger
	Metrics *observability.Metrics
	Health  *health.Checker

	UserRepository    repository.UserRepository
	MessageRepository repository.MessageRepository
	IdentityResolver  *convservice.IdentityResolver
	ConversationStore *convservice.ConversationStore

	Completer ai.Completer
	Breaker   *resilience.CircuitBreaker

	Channels      *channel.Registry
	Orchestrators []*webhookservice.Orchestrator

	redis    *redisclient.RedisClient
	memCache *cache.Cache
}

// Option overrides a collaborator, mostly for tests
type Option func(*Container)

// WithCompleter replaces the OpenAI client
func WithCompleter(c ai.Completer) Option {
	return func(ct *Container) { ct.Completer = c }
}

// WithMetrics reuses an existing registry
func WithMetrics(m *observability.Metrics) Option {
	return func(ct *Container) { ct.Metrics = m }
}

// New wires every service on top of an open database
func New(cfg *config.Config, db *gorm.DB, log *logger.Logger, opts ...Option) (*Container, error) {
	c := &Container{Config: cfg, DB: db, Logger: log}
	for _, opt := range opts {
		opt(c)
	}

	if c.Metrics == nil {
		metrics, err := observability.NewMetrics()
		if err != nil {
			return nil, err
		}
		c.Metrics = metrics
	}

	c.UserRepository = repository.NewGormUserRepository(db)
	c.MessageRepository = repository.NewGormMessageRepository(db)
	c.IdentityResolver = convservice.NewIdentityResolver(c.UserRepository, log, c.identityCacheOption()...)
	c.ConversationStore = convservice.NewConversationStore(c.MessageRepository)

	if err := c.buildCompleter(); err != nil {
		return nil, err
	}

	c.Channels = channel.NewRegistry(
		channel.NewTwilio(models.ChannelWhatsApp),
		channel.NewTwilio(models.ChannelSMS),
	)
	orchCfg := webhookservice.Config{
		Secret:        cfg.Channel.AuthToken,
		SystemPrompt:  cfg.Conversation.SystemPrompt,
		HistoryWindow: cfg.Conversation.HistoryWindow,
		Completion: ai.Options{
			Model:       cfg.Completion.Model,
			Temperature: cfg.Completion.Temperature,
			MaxTokens:   cfg.Completion.MaxTokens,
		},
	}
	for _, name := range c.Channels.Names() {
		ch, _ := c.Channels.Lookup(name)
		c.Orchestrators = append(c.Orchestrators, webhookservice.NewOrchestrator(
			ch, c.IdentityResolver, c.ConversationStore, c.Completer, orchCfg, log,
			webhookservice.WithMetrics(c.Metrics),
		))
	}
	if cfg.Channel.AuthToken == "" {
		log.Warn("TWILIO_AUTH_TOKEN is not set; webhook signatures will not be verified")
	}

	c.Health = c.buildHealth()
	return c, nil
}

func (c *Container) identityCacheOption() []convservice.ResolverOption {
	cfg := c.Config.Cache
	if !cfg.Enabled {
		return nil
	}

	if cfg.RedisURL != "" {
		client, err := redisclient.NewRedisClient(cfg.RedisURL)
		if err == nil {
			c.redis = client
			c.Logger.Info("Identity cache backed by Redis")
			return []convservice.ResolverOption{convservice.WithIdentityCache(client, cfg.TTL)}
		}
		c.Logger.LogError(err, "Invalid REDIS_URL, using in-process identity cache")
	}

	c.memCache = cache.NewCache(cache.Options{
		DefaultExpiration: cfg.TTL,
		CleanupInterval:   cfg.PurgeWindow,
		MaxItems:          cfg.MaxSize,
	})
	return []convservice.ResolverOption{
		convservice.WithIdentityCache(convservice.NewMemoryIdentityCache(c.memCache), cfg.TTL),
	}
}

func (c *Container) buildCompleter() error {
	cfg := c.Config
	breakerCfg := resilience.Config{
		Name:             "completion",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          cfg.Completion.Timeout,
		RetryTimeout:     cfg.Breaker.RetryTimeout,
	}
	c.Breaker = resilience.NewCircuitBreaker(breakerCfg, c.Logger)

	next := c.Completer
	if next == nil {
		if cfg.Completion.APIKey == "" {
			c.Logger.Warn("OPENAI_API_KEY is not set; every reply will use the fallback text")
			next = ai.CompleterFunc(func(context.Context, []models.Turn, ai.Options) (string, error) {
				return "", ErrCompletionNotConfigured
			})
		} else {
			client, err := ai.NewOpenAIClient(ai.OpenAIConfig{
				APIKey:     cfg.Completion.APIKey,
				BaseURL:    cfg.Completion.BaseURL,
				MaxRetries: cfg.Completion.MaxRetries,
				Timeout:    cfg.Completion.Timeout,
			}, c.Logger)
			if err != nil {
				return err
			}
			next = client
		}
	}

	c.Completer = ai.NewResilientCompleter(next, c.Breaker)
	return nil
}

func (c *Container) buildHealth() *health.Checker {
	checker := health.NewChecker(c.Logger, 2*time.Second)

	checker.RegisterDatabaseCheck(func(ctx context.Context) error {
		sqlDB, err := c.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})

	if c.redis != nil {
		checker.RegisterCacheCheck(c.redis.Ping)
	}

	breaker := c.Breaker
	checker.Register("completion", false, func(context.Context) (health.Status, string, error) {
		if breaker.State() == resilience.StateOpen {
			return health.StatusDegraded, "Circuit open, replying with fallback text", nil
		}
		return health.StatusUp, "Circuit " + string(breaker.State()), nil
	})

	return checker
}

// Close releases background resources
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.redis != nil {
		errs = append(errs, c.redis.Close())
	}
	if c.memCache != nil {
		c.memCache.Close()
	}
	errs = append(errs, c.Metrics.Shutdown(ctx))
	return errors.Join(errs...)
}
