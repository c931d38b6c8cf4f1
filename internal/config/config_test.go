package config

import (
	"testing"
	"time"
)

func TestLoad_ReportsMissingRequired(t *testing.T) {
	// Ensure a clean env by not setting anything and calling validation directly.
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := Config{
		App:      AppConfig{Env: "production", Port: 8080},
		DB:       DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "carecall", SSLMode: ""},
		Redis:    RedisConfig{Host: "localhost", Port: 6379},
		Provider: ProviderConfig{BaseURL: "https://api.provider.example", APIKey: "k", WebhookSecret: "s"},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := Config{
		App:      AppConfig{Env: "local", Port: 8080},
		DB:       DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "carecall", SSLMode: ""},
		Redis:    RedisConfig{Host: "localhost", Port: 6379},
		Provider: ProviderConfig{BaseURL: "https://api.provider.example", APIKey: "k", WebhookSecret: "s"},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_DispatchDefaults(t *testing.T) {
	c := Config{
		App:      AppConfig{Env: "local", Port: 8080},
		DB:       DBConfig{Host: "localhost", Port: 5432, User: "postgres", Name: "carecall"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379},
		Provider: ProviderConfig{BaseURL: "https://api.provider.example", APIKey: "k", WebhookSecret: "s"},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Dispatch.TickInterval != time.Minute {
		t.Fatalf("expected 1m tick default, got %s", c.Dispatch.TickInterval)
	}
	if c.Dispatch.Workers != 4 {
		t.Fatalf("expected 4 workers default, got %d", c.Dispatch.Workers)
	}
	if c.Dispatch.ConflictHorizonDays != 90 {
		t.Fatalf("expected 90 day horizon default, got %d", c.Dispatch.ConflictHorizonDays)
	}
	if c.Provider.RequestTimeout != 15*time.Second {
		t.Fatalf("expected 15s provider timeout default, got %s", c.Provider.RequestTimeout)
	}
}
