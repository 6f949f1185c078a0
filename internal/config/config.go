// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultBotHandle is the mention token that addresses the donation bot.
const DefaultBotHandle = "@ly bot"

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	BotHandle   string
	Extraction  ExtractionConfig
	Chain       ChainConfig
	Redis       RedisConfig
	Cooldown    CooldownConfig
	Pipeline    PipelineConfig
}

// ExtractionConfig selects and configures the donation extraction backend.
type ExtractionConfig struct {
	Provider      string // "gemini" or "agent"
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string
	AgentAddr     string
	Timeout       time.Duration
}

// ChainConfig configures the JSON-RPC endpoint and donation contract.
type ChainConfig struct {
	RPCURL          string
	ContractAddress string
	FromAddress     string
	Decimals        int32
	DispatchTimeout time.Duration
	ConfirmTimeout  time.Duration
	PollInterval    time.Duration
}

// RedisConfig enables the cross-instance chat bus when Addr is set.
type RedisConfig struct {
	Addr    string
	Channel string
}

// CooldownConfig controls the per-sender mention limiter.
type CooldownConfig struct {
	Enabled bool
	Limit   int
	Window  time.Duration
}

// PipelineConfig sizes the donation worker pool.
type PipelineConfig struct {
	Workers   int
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/strmly.db"),
		BotHandle:   getEnv("BOT_HANDLE", DefaultBotHandle),
		Extraction: ExtractionConfig{
			Provider:      strings.ToLower(getEnv("EXTRACTION_PROVIDER", "gemini")),
			GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
			GeminiModel:   getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
			GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
			AgentAddr:     getEnv("EXTRACTION_AGENT_ADDR", ""),
			Timeout:       getEnvDuration("EXTRACTION_TIMEOUT", 20*time.Second),
		},
		Chain: ChainConfig{
			RPCURL:          getEnv("CHAIN_RPC_URL", ""),
			ContractAddress: getEnv("DONATION_CONTRACT_ADDRESS", ""),
			FromAddress:     getEnv("DONATION_FROM_ADDRESS", ""),
			Decimals:        int32(getEnvInt("CHAIN_DECIMALS", 18)),
			DispatchTimeout: getEnvDuration("DISPATCH_TIMEOUT", 30*time.Second),
			ConfirmTimeout:  getEnvDuration("CONFIRM_TIMEOUT", 3*time.Minute),
			PollInterval:    getEnvDuration("CONFIRM_POLL_INTERVAL", 4*time.Second),
		},
		Redis: RedisConfig{
			Addr:    getEnv("REDIS_ADDR", ""),
			Channel: getEnv("REDIS_CHANNEL", "strmly-chat"),
		},
		Cooldown: CooldownConfig{
			Enabled: getEnvBool("MENTION_COOLDOWN_ENABLED", false),
			Limit:   getEnvInt("MENTION_COOLDOWN_LIMIT", 3),
			Window:  getEnvDuration("MENTION_COOLDOWN_WINDOW", time.Minute),
		},
		Pipeline: PipelineConfig{
			Workers:   getEnvInt("PIPELINE_WORKERS", 8),
			QueueSize: getEnvInt("PIPELINE_QUEUE_SIZE", 256),
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
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if strings.TrimSpace(c.BotHandle) == "" {
		return fmt.Errorf("BOT_HANDLE cannot be empty")
	}
	switch c.Extraction.Provider {
	case "gemini", "agent":
	default:
		return fmt.Errorf("EXTRACTION_PROVIDER must be gemini or agent, got %q", c.Extraction.Provider)
	}
	if c.Extraction.Timeout <= 0 {
		return fmt.Errorf("EXTRACTION_TIMEOUT must be > 0")
	}
	if c.Chain.Decimals <= 0 || c.Chain.Decimals > 36 {
		return fmt.Errorf("CHAIN_DECIMALS must be in 1..36")
	}
	if c.Chain.DispatchTimeout <= 0 {
		return fmt.Errorf("DISPATCH_TIMEOUT must be > 0")
	}
	if c.Cooldown.Enabled && (c.Cooldown.Limit <= 0 || c.Cooldown.Window <= 0) {
		return fmt.Errorf("MENTION_COOLDOWN_LIMIT and MENTION_COOLDOWN_WINDOW must be > 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("PIPELINE_WORKERS must be > 0")
	}
	if c.Pipeline.QueueSize <= 0 {
		return fmt.Errorf("PIPELINE_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// ChainEnabled reports whether enough chain settings exist to submit donations.
func (c *Config) ChainEnabled() bool {
	return c.Chain.RPCURL != "" && c.Chain.ContractAddress != "" && c.Chain.FromAddress != ""
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
