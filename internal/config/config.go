// Package config provides configuration management for counsel.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the counsel server and CLI.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	DataDir  string         `mapstructure:"data_dir"`
	Store    StoreConfig    `mapstructure:"store"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Debate   DebateConfig   `mapstructure:"debate"`
	Personas PersonasConfig `mapstructure:"personas"`
	Supabase SupabaseConfig `mapstructure:"supabase"`
	Slack    SlackConfig    `mapstructure:"slack"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	// Addr is the address the HTTP server listens on (e.g., ":7080").
	Addr string `mapstructure:"addr"`
}

// StoreConfig selects and configures the session store driver.
type StoreConfig struct {
	// Driver is one of sqlite, redis or memory.
	Driver string `mapstructure:"driver"`
	// SQLitePath defaults to <data_dir>/counsel.db.
	SQLitePath    string        `mapstructure:"sqlite_path"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisTTL      time.Duration `mapstructure:"redis_ttl"`
}

// LLMConfig configures the completion gateway and its provider.
type LLMConfig struct {
	// Provider is anthropic, openai or auto (whichever key is set, Anthropic first).
	Provider        string        `mapstructure:"provider"`
	Model           string        `mapstructure:"model"`
	AnthropicAPIKey string        `mapstructure:"anthropic_api_key"`
	OpenAIAPIKey    string        `mapstructure:"openai_api_key"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
	HistoryMessages int           `mapstructure:"history_messages"`
	HistoryTokens   int           `mapstructure:"history_tokens"`
}

// DebateConfig holds the round driver defaults.
type DebateConfig struct {
	MaxRounds     int           `mapstructure:"max_rounds"`
	TurnsPerPhase int           `mapstructure:"turns_per_phase"`
	TurnRetries   int           `mapstructure:"turn_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
}

// PersonasConfig points at a YAML persona catalog. Empty uses the built-in set.
type PersonasConfig struct {
	File string `mapstructure:"file"`
}

// SupabaseConfig enables the Supabase persona and decision tables.
type SupabaseConfig struct {
	URL string `mapstructure:"url"`
	Key string `mapstructure:"key"`
}

// SlackConfig enables the Slack transport (Socket Mode).
type SlackConfig struct {
	// BotToken is the Bot User OAuth Token (xoxb-...).
	BotToken string `mapstructure:"bot_token"`
	// AppToken is the App-Level Token (xapp-...) required for Socket Mode.
	AppToken string `mapstructure:"app_token"`
}

// TelegramConfig enables the Telegram transport (long polling).
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Addr: ":7080"},
		DataDir: defaultDataDir(),
		Store:   StoreConfig{Driver: "sqlite"},
		LLM: LLMConfig{
			Provider:        "auto",
			MaxTokens:       1024,
			HistoryMessages: 60,
			HistoryTokens:   24000,
		},
		Debate: DebateConfig{
			MaxRounds:    3,
			TurnRetries:  1,
			RetryBackoff: 2 * time.Second,
		},
		Log: LogConfig{Level: "INFO", Format: "json"},
	}
}

// SetDefaults registers every key with its default so env overrides and
// Unmarshal see the full key set.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("data_dir", d.DataDir)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.sqlite_path", "")
	v.SetDefault("store.redis_addr", "")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_ttl", time.Duration(0))

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.anthropic_api_key", "")
	v.SetDefault("llm.openai_api_key", "")
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.timeout", time.Duration(0))
	v.SetDefault("llm.history_messages", d.LLM.HistoryMessages)
	v.SetDefault("llm.history_tokens", d.LLM.HistoryTokens)

	v.SetDefault("debate.max_rounds", d.Debate.MaxRounds)
	v.SetDefault("debate.turns_per_phase", d.Debate.TurnsPerPhase)
	v.SetDefault("debate.turn_retries", d.Debate.TurnRetries)
	v.SetDefault("debate.retry_backoff", d.Debate.RetryBackoff)

	v.SetDefault("personas.file", "")
	v.SetDefault("supabase.url", "")
	v.SetDefault("supabase.key", "")
	v.SetDefault("slack.bot_token", "")
	v.SetDefault("slack.app_token", "")
	v.SetDefault("telegram.bot_token", "")

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load reads configuration from defaults, an optional YAML file and the
// environment (COUNSEL_*, dots become underscores), then validates it.
// An empty path looks for config.yaml in the data directory; a missing
// default file is not an error.
func Load(path string) (*Config, error) {
	return LoadFrom(viper.New(), path)
}

// LoadFrom is Load with a caller supplied viper instance, so flags can be
// bound before loading.
func LoadFrom(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("COUNSEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("llm.anthropic_api_key", "COUNSEL_LLM_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("llm.openai_api_key", "COUNSEL_LLM_OPENAI_API_KEY", "OPENAI_API_KEY")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigFile(filepath.Join(v.GetString("data_dir"), "config.yaml"))
		if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = filepath.Join(cfg.DataDir, "counsel.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func isNotExist(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, os.ErrNotExist)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "sqlite", "memory":
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q (want sqlite, redis or memory)", c.Store.Driver))
	}
	switch c.LLM.Provider {
	case "anthropic", "openai", "auto":
	default:
		errs = append(errs, fmt.Errorf("unknown llm.provider %q (want anthropic, openai or auto)", c.LLM.Provider))
	}
	if c.Store.RedisTTL < 0 {
		errs = append(errs, errors.New("store.redis_ttl must not be negative"))
	}
	for key, n := range map[string]int{
		"llm.max_tokens":         c.LLM.MaxTokens,
		"llm.history_messages":   c.LLM.HistoryMessages,
		"llm.history_tokens":     c.LLM.HistoryTokens,
		"debate.max_rounds":      c.Debate.MaxRounds,
		"debate.turns_per_phase": c.Debate.TurnsPerPhase,
		"debate.turn_retries":    c.Debate.TurnRetries,
	} {
		if n < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", key))
		}
	}
	if c.LLM.Timeout < 0 || c.Debate.RetryBackoff < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	return errors.Join(errs...)
}

// EnsureDataDir creates the data directory if it does not exist.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return nil
}

// SlackEnabled returns true if Slack Socket Mode is configured.
func (c *Config) SlackEnabled() bool {
	return c.Slack.BotToken != "" && c.Slack.AppToken != ""
}

// TelegramEnabled returns true if the Telegram bot is configured.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != ""
}

// SupabaseEnabled returns true if the Supabase tables are configured.
func (c *Config) SupabaseEnabled() bool {
	return c.Supabase.URL != "" && c.Supabase.Key != ""
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".counsel"
	}
	return filepath.Join(home, ".counsel")
}
