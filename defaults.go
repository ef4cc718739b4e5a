package counsel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/holdhq/counsel/channel"
	channelSlack "github.com/holdhq/counsel/channel/slack"
	channelTelegram "github.com/holdhq/counsel/channel/telegram"
	"github.com/holdhq/counsel/eventbus"
	"github.com/holdhq/counsel/llm"
	llmAnthropic "github.com/holdhq/counsel/llm/anthropic"
	llmOpenAI "github.com/holdhq/counsel/llm/openai"
	"github.com/holdhq/counsel/persona"
	"github.com/holdhq/counsel/pipeline"
	"github.com/holdhq/counsel/store"
	memoryStore "github.com/holdhq/counsel/store/memory"
	redisStore "github.com/holdhq/counsel/store/redis"
	sqliteStore "github.com/holdhq/counsel/store/sqlite"
	supabaseStore "github.com/holdhq/counsel/store/supabase"
)

// applyDefaults fills in missing fields on the builder with sensible defaults.
func applyDefaults(b *Builder) error {
	if b.config.ServerAddr == "" {
		b.config.ServerAddr = ":7080"
	}
	if b.config.DataDir == "" {
		b.config.DataDir = defaultDataDir()
	}
	if b.config.DatabasePath == "" {
		b.config.DatabasePath = filepath.Join(b.config.DataDir, "counsel.db")
	}
	if b.config.StoreDriver == "" {
		b.config.StoreDriver = "sqlite"
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}

	if err := os.MkdirAll(b.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Store.
	if b.store == nil {
		st, err := newStore(b.config)
		if err != nil {
			return fmt.Errorf("initializing store: %w", err)
		}
		b.store = st
	}

	// Personas and decisions.
	if b.config.SupabaseURL != "" && (b.personas == nil || b.decisions == nil) {
		sb, err := supabaseStore.New(supabaseStore.Config{URL: b.config.SupabaseURL, APIKey: b.config.SupabaseKey})
		if err != nil {
			return fmt.Errorf("initializing supabase: %w", err)
		}
		if b.personas == nil {
			b.personas = sb
		}
		if b.decisions == nil {
			b.decisions = sb
		}
	}
	if b.personas == nil {
		ps, err := defaultPersonas(b.config.PersonasFile, b.store)
		if err != nil {
			return err
		}
		b.personas = ps
	}
	if b.decisions == nil {
		if ds, ok := b.store.(store.DecisionStore); ok {
			b.decisions = ds
		}
	}

	// Event bus.
	if b.bus == nil {
		b.bus = eventbus.NewInMemoryBus()
	}

	// LLM, gateway and summary stage.
	if b.gateway == nil {
		if b.llm == nil {
			client, err := llmClientFromConfig(b.config)
			if err != nil {
				return err
			}
			b.llm = client
		}
		gw := b.config.Gateway
		if gw.Model == "" {
			gw.Model = b.config.LLMModel
		}
		b.gateway = llm.NewGateway(b.llm, gw)
	}
	if b.summary == nil {
		b.summary = pipeline.NewSummaryStage(b.gateway, "", "")
	}

	return nil
}

func newStore(cfg Config) (store.SessionStore, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		return sqliteStore.New(cfg.DatabasePath)
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return redisStore.New(ctx, redisStore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.RedisTTL,
		})
	case "memory":
		return memoryStore.New(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// defaultPersonas loads the YAML catalog. With the SQLite store the catalog
// is upserted into the personas table and the table serves lookups, so
// personas added to the database are available too.
func defaultPersonas(path string, st store.SessionStore) (store.PersonaStore, error) {
	catalog, err := persona.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading personas: %w", err)
	}
	sq, ok := st.(*sqliteStore.Store)
	if !ok {
		return catalog, nil
	}
	ctx := context.Background()
	list, err := catalog.ListPersonas(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range list {
		if err := sq.UpsertPersona(ctx, p); err != nil {
			return nil, fmt.Errorf("seeding persona %s: %w", p.ID, err)
		}
	}
	return sq, nil
}

// llmClientFromConfig creates the provider client. auto prefers Anthropic
// when both keys are set.
func llmClientFromConfig(cfg Config) (llm.Client, error) {
	anthropicKey := cfg.AnthropicAPIKey
	if anthropicKey == "" {
		anthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	openaiKey := cfg.OpenAIAPIKey
	if openaiKey == "" {
		openaiKey = os.Getenv("OPENAI_API_KEY")
	}

	switch cfg.LLMProvider {
	case "anthropic":
		if anthropicKey == "" {
			return nil, fmt.Errorf("llm provider anthropic needs ANTHROPIC_API_KEY")
		}
		return llmAnthropic.New(anthropicKey, cfg.LLMModel), nil
	case "openai":
		if openaiKey == "" {
			return nil, fmt.Errorf("llm provider openai needs OPENAI_API_KEY")
		}
		return llmOpenAI.New(openaiKey, cfg.LLMModel), nil
	case "", "auto":
		if anthropicKey != "" {
			return llmAnthropic.New(anthropicKey, cfg.LLMModel), nil
		}
		if openaiKey != "" {
			return llmOpenAI.New(openaiKey, cfg.LLMModel), nil
		}
		return nil, fmt.Errorf("at least one of ANTHROPIC_API_KEY or OPENAI_API_KEY is required")
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
}

// defaultChannels returns factories for the transports whose tokens are set.
func defaultChannels(cfg Config) []func(*channel.Router) (channel.Channel, error) {
	var out []func(*channel.Router) (channel.Channel, error)
	if cfg.SlackBotToken != "" && cfg.SlackAppToken != "" {
		out = append(out, func(r *channel.Router) (channel.Channel, error) {
			return channelSlack.NewBot(cfg.SlackBotToken, cfg.SlackAppToken, r), nil
		})
	}
	if cfg.TelegramBotToken != "" {
		out = append(out, func(r *channel.Router) (channel.Channel, error) {
			bot, err := channelTelegram.NewBot(cfg.TelegramBotToken, r)
			if err != nil {
				return nil, err
			}
			return bot, nil
		})
	}
	return out
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".counsel"
	}
	return filepath.Join(home, ".counsel")
}
