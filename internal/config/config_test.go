package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("COUNSEL_DATA_DIR", dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7080" {
		t.Fatalf("expected :7080, got %q", cfg.Server.Addr)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.SQLitePath != filepath.Join(dir, "counsel.db") {
		t.Fatalf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.LLM.MaxTokens != 1024 || cfg.LLM.HistoryMessages != 60 || cfg.LLM.Provider != "auto" {
		t.Fatalf("unexpected llm config: %+v", cfg.LLM)
	}
	if cfg.Debate.MaxRounds != 3 || cfg.Debate.RetryBackoff != 2*time.Second {
		t.Fatalf("unexpected debate config: %+v", cfg.Debate)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counsel.yaml")
	body := `
store:
  driver: memory
llm:
  provider: openai
  timeout: 30s
debate:
  max_rounds: 5
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COUNSEL_DATA_DIR", dir)
	t.Setenv("COUNSEL_DEBATE_MAX_ROUNDS", "7")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "memory" || cfg.LLM.Provider != "openai" {
		t.Fatalf("file values not applied: %+v %+v", cfg.Store, cfg.LLM)
	}
	if cfg.LLM.Timeout != 30*time.Second {
		t.Fatalf("expected 30s timeout, got %v", cfg.LLM.Timeout)
	}
	if cfg.Debate.MaxRounds != 7 {
		t.Fatalf("env should override file, got %d", cfg.Debate.MaxRounds)
	}
	if cfg.LLM.OpenAIAPIKey != "sk-test" {
		t.Fatalf("bare OPENAI_API_KEY not bound, got %q", cfg.LLM.OpenAIAPIKey)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"redis without addr", func(c *Config) { c.Store.Driver = "redis" }, "redis_addr"},
		{"redis with addr", func(c *Config) { c.Store.Driver = "redis"; c.Store.RedisAddr = "localhost:6379" }, ""},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "gemini" }, "llm.provider"},
		{"negative rounds", func(c *Config) { c.Debate.MaxRounds = -1 }, "debate.max_rounds"},
		{"negative timeout", func(c *Config) { c.LLM.Timeout = -time.Second }, "durations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestEnabledFlags(t *testing.T) {
	cfg := Default()
	if cfg.SlackEnabled() || cfg.TelegramEnabled() || cfg.SupabaseEnabled() {
		t.Fatal("integrations should be off by default")
	}
	cfg.Slack.BotToken = "xoxb"
	if cfg.SlackEnabled() {
		t.Fatal("slack needs both tokens")
	}
	cfg.Slack.AppToken = "xapp"
	cfg.Telegram.BotToken = "123:abc"
	if !cfg.SlackEnabled() || !cfg.TelegramEnabled() {
		t.Fatal("expected slack and telegram enabled")
	}
}
