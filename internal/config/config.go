package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// AppConfig holds application settings from TOML file
type AppConfig struct {
	App struct {
		Name          string `toml:"name"`
		Description   string `toml:"description"`
		DefaultGroup  string `toml:"default_group"`
		AllowedGroup  string `toml:"allowed_group"`
		PublicBaseURL string `toml:"public_base_url"`
		CommandPrefix string `toml:"command_prefix"`
	} `toml:"app"`

	OpenAI struct {
		Model           string  `toml:"model"`
		Temperature     float64 `toml:"temperature"`
		MaxOutputTokens int     `toml:"max_output_tokens"`
		TimeoutSeconds  int     `toml:"timeout_seconds"`
	} `toml:"openai"`

	Limits struct {
		MaxMessageLength int `toml:"max_message_length"`
		MaxMentions      int `toml:"max_mentions"`
		AnalyseDefault   int `toml:"analyse_default"`
		AnalyseMax       int `toml:"analyse_max"`
	} `toml:"limits"`

	Cooldowns struct {
		AnalyseSeconds    int `toml:"analyse_seconds"`
		MentionAllSeconds int `toml:"mention_all_seconds"`
	} `toml:"cooldowns"`

	Triggers struct {
		CacheTTLSeconds int `toml:"cache_ttl_seconds"`
	} `toml:"triggers"`

	Queue struct {
		IncomingTopic         string `toml:"incoming_topic"`
		SendTopic             string `toml:"send_topic"`
		SendAttempts          int    `toml:"send_attempts"`
		EnqueueTimeoutSeconds int    `toml:"enqueue_timeout_seconds"`
		DedupTTLMinutes       int    `toml:"dedup_ttl_minutes"`
	} `toml:"queue"`

	Scheduler struct {
		Timezone string `toml:"timezone"`
	} `toml:"scheduler"`
}

// Config holds all configuration for the application
type Config struct {
	// Environment variables (secrets)
	PostgresDSN  string
	OpenAIAPIKey string

	// Application settings from TOML
	App AppConfig

	// Derived fields
	Location *time.Location
}

// Load reads configuration from environment variables and TOML file
func Load() (*Config, error) {
	appCfg, err := loadAppConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load app config: %w", err)
	}

	cfg := &Config{
		PostgresDSN:  os.Getenv("PG_DSN"),
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		App:          *appCfg,
	}

	// Allow environment variable overrides for some settings
	if envModel := os.Getenv("OPENAI_MODEL"); envModel != "" {
		cfg.App.OpenAI.Model = envModel
	}

	if envGroup := os.Getenv("GROUP_ID"); envGroup != "" {
		cfg.App.App.DefaultGroup = envGroup
	}

	if envGroup := os.Getenv("ALLOWED_PING_GROUP"); envGroup != "" {
		cfg.App.App.AllowedGroup = envGroup
	}

	if envURL := os.Getenv("BACKEND_PUBLIC_URL"); envURL != "" {
		cfg.App.App.PublicBaseURL = envURL
	}

	if envStr := os.Getenv("ANALYSE_COOLDOWN_SECONDS"); envStr != "" {
		if secs, err := strconv.Atoi(envStr); err == nil {
			cfg.App.Cooldowns.AnalyseSeconds = secs
		}
	}

	if envStr := os.Getenv("ANALYSE_ALL_COOLDOWN_SECONDS"); envStr != "" {
		if secs, err := strconv.Atoi(envStr); err == nil {
			cfg.App.Cooldowns.MentionAllSeconds = secs
		}
	}

	if envTZ := os.Getenv("TZ"); envTZ != "" {
		cfg.App.Scheduler.Timezone = envTZ
	}

	// Validate required fields. The OpenAI key is deliberately optional:
	// without it AI features degrade to no-ops instead of failing startup.
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("PG_DSN is required")
	}
	if cfg.App.App.AllowedGroup == "" {
		cfg.App.App.AllowedGroup = cfg.App.App.DefaultGroup
	}
	if cfg.App.App.DefaultGroup == "" {
		cfg.App.App.DefaultGroup = cfg.App.App.AllowedGroup
	}
	if cfg.App.App.DefaultGroup == "" {
		return nil, fmt.Errorf("app.default_group or app.allowed_group is required")
	}
	if cfg.App.App.CommandPrefix == "" {
		cfg.App.App.CommandPrefix = "!"
	}

	applyDefaults(&cfg.App)

	// Parse timezone
	location, err := time.LoadLocation(cfg.App.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", cfg.App.Scheduler.Timezone, err)
	}
	cfg.Location = location

	return cfg, nil
}

func applyDefaults(app *AppConfig) {
	if app.Limits.MaxMessageLength <= 0 {
		app.Limits.MaxMessageLength = 4096
	}
	if app.Limits.MaxMentions <= 0 {
		app.Limits.MaxMentions = 256
	}
	if app.Limits.AnalyseDefault <= 0 {
		app.Limits.AnalyseDefault = 10
	}
	if app.Limits.AnalyseMax <= 0 {
		app.Limits.AnalyseMax = 30
	}
	if app.Cooldowns.AnalyseSeconds <= 0 {
		app.Cooldowns.AnalyseSeconds = 300
	}
	if app.Cooldowns.MentionAllSeconds <= 0 {
		app.Cooldowns.MentionAllSeconds = 600
	}
	if app.Triggers.CacheTTLSeconds <= 0 {
		app.Triggers.CacheTTLSeconds = 30
	}
	if app.Queue.IncomingTopic == "" {
		app.Queue.IncomingTopic = "incoming-messages"
	}
	if app.Queue.SendTopic == "" {
		app.Queue.SendTopic = "send-messages"
	}
	if app.Queue.SendAttempts <= 0 {
		app.Queue.SendAttempts = 3
	}
	if app.Queue.EnqueueTimeoutSeconds <= 0 {
		app.Queue.EnqueueTimeoutSeconds = 5
	}
	if app.Queue.DedupTTLMinutes <= 0 {
		app.Queue.DedupTTLMinutes = 60
	}
	if app.OpenAI.TimeoutSeconds <= 0 {
		app.OpenAI.TimeoutSeconds = 60
	}
	if app.OpenAI.MaxOutputTokens <= 0 {
		app.OpenAI.MaxOutputTokens = 512
	}
	if app.Scheduler.Timezone == "" {
		app.Scheduler.Timezone = "America/Sao_Paulo"
	}
}

// loadAppConfig loads application configuration from TOML file
func loadAppConfig() (*AppConfig, error) {
	configPath := getEnvWithDefault("APP_CONFIG_PATH", "config/app.toml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config AppConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}

	return &config, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
