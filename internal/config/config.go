// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	GRPCHealthPort string
	FrontendURL    string
	APIKey         string
	LogLevel       slog.Level

	Store      StoreConfig
	Generation GenerationConfig
	LinkedIn   LinkedInConfig
	Pipeline   PipelineConfig
	Relay      RelayConfig
	EventLog   EventLogConfig
	RateLimit  RateLimitConfig
}

// StoreConfig selects and configures durable storage.
type StoreConfig struct {
	Backend     string
	DBPath      string
	RedisURL    string
	CampaignTTL time.Duration
}

// GenerationConfig configures the Gemini client.
type GenerationConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
}

// LinkedInConfig holds publish credentials and endpoints.
type LinkedInConfig struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string
	APIURL       string
	OAuthURL     string
	MaxAttempts  int
	BaseDelay    time.Duration
}

// PipelineConfig controls campaign execution.
type PipelineConfig struct {
	CampaignTimeout  time.Duration
	EventSendTimeout time.Duration
	PacingEnabled    bool
}

// RelayConfig configures the optional NATS relay.
type RelayConfig struct {
	NATSURL       string
	SubjectPrefix string
}

// EventLogConfig controls the NDJSON event audit log.
type EventLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// RateLimitConfig bounds campaign creation per caller.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8000"),
		GRPCHealthPort: getEnv("GRPC_HEALTH_PORT", ""),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		APIKey:         getEnv("API_KEY", ""),
		LogLevel:       getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		Store: StoreConfig{
			Backend:     strings.ToLower(getEnv("STORE_BACKEND", "sqlite")),
			DBPath:      getEnv("DB_PATH", "./data/campaigns.db"),
			RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
			CampaignTTL: getEnvDuration("CAMPAIGN_TTL", 7*24*time.Hour),
		},
		Generation: GenerationConfig{
			APIKey:         getEnv("GEMINI_API_KEY", ""),
			Model:          getEnv("GENERATION_MODEL", "gemini-2.0-flash"),
			EmbeddingModel: getEnv("EMBEDDING_MODEL", "gemini-embedding-001"),
		},
		LinkedIn: LinkedInConfig{
			AccessToken:  getEnv("LINKEDIN_ACCESS_TOKEN", ""),
			RefreshToken: getEnv("LINKEDIN_REFRESH_TOKEN", ""),
			ClientID:     getEnv("LINKEDIN_CLIENT_ID", ""),
			ClientSecret: getEnv("LINKEDIN_CLIENT_SECRET", ""),
			APIURL:       getEnv("LINKEDIN_API_URL", "https://api.linkedin.com"),
			OAuthURL:     getEnv("LINKEDIN_OAUTH_URL", "https://www.linkedin.com/oauth/v2/accessToken"),
			MaxAttempts:  getEnvInt("PUBLISH_MAX_ATTEMPTS", 3),
			BaseDelay:    getEnvDuration("PUBLISH_BASE_DELAY", 2*time.Second),
		},
		Pipeline: PipelineConfig{
			CampaignTimeout:  getEnvDuration("CAMPAIGN_TIMEOUT", 10*time.Minute),
			EventSendTimeout: getEnvDuration("EVENT_SEND_TIMEOUT", 2*time.Second),
			PacingEnabled:    getEnvBool("PACING_ENABLED", true),
		},
		Relay: RelayConfig{
			NATSURL:       getEnv("NATS_URL", ""),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "campaigns"),
		},
		EventLog: EventLogConfig{
			Enabled:   getEnvBool("EVENT_LOG_ENABLED", false),
			Dir:       getEnv("EVENT_LOG_DIR", "./data/logs/events"),
			QueueSize: getEnvInt("EVENT_LOG_QUEUE_SIZE", 1000),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.Store.Backend {
	case "sqlite":
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("REDIS_URL cannot be empty with the redis backend")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be sqlite or redis, got %q", c.Store.Backend)
	}
	if c.Store.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.LinkedIn.MaxAttempts <= 0 {
		return fmt.Errorf("PUBLISH_MAX_ATTEMPTS must be > 0")
	}
	if c.LinkedIn.BaseDelay <= 0 {
		return fmt.Errorf("PUBLISH_BASE_DELAY must be > 0")
	}
	if c.Pipeline.CampaignTimeout <= 0 {
		return fmt.Errorf("CAMPAIGN_TIMEOUT must be > 0")
	}
	if c.Pipeline.EventSendTimeout <= 0 {
		return fmt.Errorf("EVENT_SEND_TIMEOUT must be > 0")
	}
	if c.EventLog.Enabled && c.EventLog.Dir == "" {
		return fmt.Errorf("EVENT_LOG_DIR cannot be empty")
	}
	if c.EventLog.QueueSize <= 0 {
		return fmt.Errorf("EVENT_LOG_QUEUE_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the API.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
