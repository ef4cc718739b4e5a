package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/holdhq/counsel"
	"github.com/holdhq/counsel/engine"
	"github.com/holdhq/counsel/internal/config"
	"github.com/holdhq/counsel/internal/logging"
	"github.com/holdhq/counsel/llm"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Counsel server",
	Long: `Start the Counsel API server and any configured chat channels.

Configuration is read from --config, or <data_dir>/config.yaml when present,
and overridden by COUNSEL_* environment variables (COUNSEL_LLM_MODEL,
COUNSEL_STORE_DRIVER, ...). ANTHROPIC_API_KEY and OPENAI_API_KEY are read
as-is.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return err
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	app, err := counsel.NewBuilder().
		WithConfig(appConfig(cfg)).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting counsel",
		"addr", cfg.Server.Addr,
		"store", cfg.Store.Driver,
		"provider", cfg.LLM.Provider,
		"slack", cfg.SlackEnabled(),
		"telegram", cfg.TelegramEnabled(),
		"supabase", cfg.SupabaseEnabled(),
	)
	return app.Start(ctx)
}

// appConfig maps the file/env configuration onto the application config.
func appConfig(cfg *config.Config) counsel.Config {
	return counsel.Config{
		ServerAddr:      cfg.Server.Addr,
		DataDir:         cfg.DataDir,
		StoreDriver:     cfg.Store.Driver,
		DatabasePath:    cfg.Store.SQLitePath,
		RedisAddr:       cfg.Store.RedisAddr,
		RedisPassword:   cfg.Store.RedisPassword,
		RedisDB:         cfg.Store.RedisDB,
		RedisTTL:        cfg.Store.RedisTTL,
		LLMProvider:     cfg.LLM.Provider,
		LLMModel:        cfg.LLM.Model,
		AnthropicAPIKey: cfg.LLM.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.LLM.OpenAIAPIKey,
		Gateway: llm.GatewayConfig{
			Model:           cfg.LLM.Model,
			MaxTokens:       cfg.LLM.MaxTokens,
			Timeout:         cfg.LLM.Timeout,
			HistoryMessages: cfg.LLM.HistoryMessages,
			HistoryTokens:   cfg.LLM.HistoryTokens,
		},
		Engine: engine.Config{
			MaxRounds:     cfg.Debate.MaxRounds,
			TurnsPerPhase: cfg.Debate.TurnsPerPhase,
			TurnRetries:   cfg.Debate.TurnRetries,
			RetryBackoff:  cfg.Debate.RetryBackoff,
		},
		PersonasFile:     cfg.Personas.File,
		SupabaseURL:      cfg.Supabase.URL,
		SupabaseKey:      cfg.Supabase.Key,
		SlackBotToken:    cfg.Slack.BotToken,
		SlackAppToken:    cfg.Slack.AppToken,
		TelegramBotToken: cfg.Telegram.BotToken,
	}
}
