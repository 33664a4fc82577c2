package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// DefaultSystemPrompt is the persona sent as the first message of every context window
const DefaultSystemPrompt = "You are SMILE AI, a kind and supportive emotional assistant. " +
	"You are not a therapist. Respond with empathy, short sentences, and one gentle question."

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port    string
		Env     string
		Timeout time.Duration
		// PublicBaseURL is the externally visible origin used to rebuild
		// the URL the channel provider signed. Empty means "derive from request".
		PublicBaseURL string
		ServiceName   string
	}

	// Database configuration
	Database struct {
		DSN      string
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Retries  int
		Timeout  time.Duration
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Completion provider configuration
	Completion struct {
		APIKey      string
		BaseURL     string
		Model       string
		Temperature float64
		MaxTokens   int64
		Timeout     time.Duration
		MaxRetries  int
	}

	// Channel holds the messaging provider settings
	Channel struct {
		// AuthToken signs inbound webhooks; empty disables verification
		AuthToken string
	}

	// Conversation tunes the context window
	Conversation struct {
		HistoryWindow int
		SystemPrompt  string
	}

	// Circuit breaker around the completion provider
	Breaker struct {
		FailureThreshold uint
		SuccessThreshold uint
		RetryTimeout     time.Duration
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		MaxBodySize    int64
	}

	// Cache settings
	Cache struct {
		Enabled     bool
		RedisURL    string
		TTL         time.Duration
		MaxSize     int
		PurgeWindow time.Duration
	}

	// Vault settings
	Vault struct {
		Enabled     bool
		Address     string
		Token       string
		Namespace   string
		SecretsPath string
		Timeout     time.Duration
	}

	// Observability settings
	Observability struct {
		TracingEnabled bool
	}
}

var (
	instance *Config
	once     sync.Once
)

// New returns the process-wide Config, loading it on first use
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		_ = godotenv.Load()
		instance = Load()
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Load reads a fresh Config from the environment
func Load() *Config {
	cfg := &Config{}

	cfg.Server.Port = getEnvString("PORT", "3000")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
	cfg.Server.PublicBaseURL = strings.TrimRight(getEnvString("PUBLIC_BASE_URL", ""), "/")
	cfg.Server.ServiceName = getEnvString("SERVICE_NAME", "SMILE AI")

	cfg.Database.DSN = getEnvString("DATABASE_DSN", "")
	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "smile_ai")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.Retries = getEnvInt("DB_CONNECT_RETRIES", 5)
	cfg.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)

	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	cfg.Completion.APIKey = getEnvString("OPENAI_API_KEY", "")
	cfg.Completion.BaseURL = getEnvString("OPENAI_BASE_URL", "")
	cfg.Completion.Model = getEnvString("OPENAI_MODEL", "gpt-4o-mini")
	cfg.Completion.Temperature = getEnvFloat("COMPLETION_TEMPERATURE", 0.7)
	cfg.Completion.MaxTokens = getEnvInt64("COMPLETION_MAX_TOKENS", 200)
	cfg.Completion.Timeout = getEnvDuration("COMPLETION_TIMEOUT", 15*time.Second)
	cfg.Completion.MaxRetries = getEnvInt("COMPLETION_MAX_RETRIES", 1)

	cfg.Channel.AuthToken = getEnvString("TWILIO_AUTH_TOKEN", "")

	cfg.Conversation.HistoryWindow = getEnvInt("HISTORY_WINDOW", 10)
	if cfg.Conversation.HistoryWindow <= 0 {
		cfg.Conversation.HistoryWindow = 10
	}
	cfg.Conversation.SystemPrompt = getEnvString("SYSTEM_PROMPT", DefaultSystemPrompt)

	cfg.Breaker.FailureThreshold = uint(getEnvInt("BREAKER_FAILURE_THRESHOLD", 5))
	cfg.Breaker.SuccessThreshold = uint(getEnvInt("BREAKER_SUCCESS_THRESHOLD", 2))
	cfg.Breaker.RetryTimeout = getEnvDuration("BREAKER_RETRY_TIMEOUT", 30*time.Second)

	cfg.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	cfg.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 1<<20) // 1MB

	cfg.Cache.Enabled = getEnvBool("CACHE_ENABLED", true)
	cfg.Cache.RedisURL = getEnvString("REDIS_URL", "")
	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", 30*time.Minute)
	cfg.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 10000)
	cfg.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 10*time.Minute)

	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Address = getEnvString("VAULT_ADDR", "")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Namespace = getEnvString("VAULT_NAMESPACE", "")
	cfg.Vault.SecretsPath = getEnvString("VAULT_SECRETS_PATH", "smile-ai")
	cfg.Vault.Timeout = getEnvDuration("VAULT_TIMEOUT", 10*time.Second)

	cfg.Observability.TracingEnabled = getEnvBool("TRACING_ENABLED", false)

	return cfg
}

// IsProduction reports whether the service runs with APP_ENV=production
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
