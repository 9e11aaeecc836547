package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	// Set environment variables
	_ = os.Setenv("PG_DSN", "test_dsn")
	_ = os.Setenv("OPENAI_API_KEY", "test_api_key")
	_ = os.Setenv("APP_CONFIG_PATH", "../../config/app.toml")

	defer func() {
		_ = os.Unsetenv("PG_DSN")
		_ = os.Unsetenv("OPENAI_API_KEY")
		_ = os.Unsetenv("APP_CONFIG_PATH")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Test required fields
	if cfg.PostgresDSN != "test_dsn" {
		t.Errorf("Expected PostgresDSN to be 'test_dsn', got %s", cfg.PostgresDSN)
	}
	if cfg.OpenAIAPIKey != "test_api_key" {
		t.Errorf("Expected OpenAIAPIKey to be 'test_api_key', got %s", cfg.OpenAIAPIKey)
	}

	// Test TOML loaded values
	if cfg.App.OpenAI.Model != "gpt-4o-mini" {
		t.Errorf("Expected OpenAI model to be 'gpt-4o-mini', got %s", cfg.App.OpenAI.Model)
	}
	if cfg.App.Limits.MaxMessageLength != 4096 {
		t.Errorf("Expected MaxMessageLength to be 4096, got %d", cfg.App.Limits.MaxMessageLength)
	}
	if cfg.App.Limits.AnalyseMax != 30 {
		t.Errorf("Expected AnalyseMax to be 30, got %d", cfg.App.Limits.AnalyseMax)
	}
	if cfg.App.Cooldowns.MentionAllSeconds != 600 {
		t.Errorf("Expected MentionAllSeconds to be 600, got %d", cfg.App.Cooldowns.MentionAllSeconds)
	}
	if cfg.App.Scheduler.Timezone != "America/Sao_Paulo" {
		t.Errorf("Expected Timezone to be 'America/Sao_Paulo', got %s", cfg.App.Scheduler.Timezone)
	}

	// Test app settings
	if cfg.App.App.Name != "Zeca" {
		t.Errorf("Expected app name to be 'Zeca', got %s", cfg.App.App.Name)
	}
	if cfg.App.App.CommandPrefix != "!" {
		t.Errorf("Expected command prefix to be '!', got %s", cfg.App.App.CommandPrefix)
	}
	if cfg.App.App.AllowedGroup == "" {
		t.Error("Expected AllowedGroup to be non-empty")
	}

	// Test queue settings
	if cfg.App.Queue.IncomingTopic != "incoming-messages" {
		t.Errorf("Expected incoming topic to be 'incoming-messages', got %s", cfg.App.Queue.IncomingTopic)
	}
	if cfg.App.Queue.SendTopic != "send-messages" {
		t.Errorf("Expected send topic to be 'send-messages', got %s", cfg.App.Queue.SendTopic)
	}
	if cfg.App.Queue.SendAttempts != 3 {
		t.Errorf("Expected send attempts to be 3, got %d", cfg.App.Queue.SendAttempts)
	}

	// Test location
	if cfg.Location == nil {
		t.Error("Expected location to be parsed")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	// Set environment variables including overrides
	_ = os.Setenv("PG_DSN", "test_dsn")
	_ = os.Setenv("OPENAI_API_KEY", "test_api_key")
	_ = os.Setenv("APP_CONFIG_PATH", "../../config/app.toml")
	_ = os.Setenv("OPENAI_MODEL", "gpt-4")
	_ = os.Setenv("ALLOWED_PING_GROUP", "override-group@g.us")
	_ = os.Setenv("BACKEND_PUBLIC_URL", "https://cdn.example.com")
	_ = os.Setenv("ANALYSE_COOLDOWN_SECONDS", "120")
	_ = os.Setenv("TZ", "UTC")

	defer func() {
		_ = os.Unsetenv("PG_DSN")
		_ = os.Unsetenv("OPENAI_API_KEY")
		_ = os.Unsetenv("APP_CONFIG_PATH")
		_ = os.Unsetenv("OPENAI_MODEL")
		_ = os.Unsetenv("ALLOWED_PING_GROUP")
		_ = os.Unsetenv("BACKEND_PUBLIC_URL")
		_ = os.Unsetenv("ANALYSE_COOLDOWN_SECONDS")
		_ = os.Unsetenv("TZ")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Test environment overrides
	if cfg.App.OpenAI.Model != "gpt-4" {
		t.Errorf("Expected OpenAI model to be 'gpt-4' (env override), got %s", cfg.App.OpenAI.Model)
	}
	if cfg.App.App.AllowedGroup != "override-group@g.us" {
		t.Errorf("Expected AllowedGroup to be 'override-group@g.us' (env override), got %s", cfg.App.App.AllowedGroup)
	}
	if cfg.App.App.PublicBaseURL != "https://cdn.example.com" {
		t.Errorf("Expected PublicBaseURL to be 'https://cdn.example.com' (env override), got %s", cfg.App.App.PublicBaseURL)
	}
	if cfg.App.Cooldowns.AnalyseSeconds != 120 {
		t.Errorf("Expected AnalyseSeconds to be 120 (env override), got %d", cfg.App.Cooldowns.AnalyseSeconds)
	}
	if cfg.App.Scheduler.Timezone != "UTC" {
		t.Errorf("Expected Timezone to be 'UTC' (env override), got %s", cfg.App.Scheduler.Timezone)
	}
}

func TestLoadMissingRequiredEnv(t *testing.T) {
	// Clear any existing environment variables
	_ = os.Unsetenv("PG_DSN")
	_ = os.Setenv("APP_CONFIG_PATH", "../../config/app.toml")

	defer func() {
		_ = os.Unsetenv("APP_CONFIG_PATH")
	}()

	_, err := Load()
	if err == nil {
		t.Error("Expected error when required environment variables are missing")
	}
}
