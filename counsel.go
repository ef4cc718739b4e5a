// Package counsel is the top-level entry point for the counsel decision engine.
//
// Use the Builder to compose an application:
//
//	app, err := counsel.NewBuilder().Build()
//	app.Start(ctx)
//
// Or customize every component:
//
//	app, err := counsel.NewBuilder().
//	    WithStore(myStore).
//	    WithPersonas(myCatalog).
//	    WithLLM(myClient).
//	    Build()
package counsel

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/holdhq/counsel/channel"
	"github.com/holdhq/counsel/engine"
	"github.com/holdhq/counsel/eventbus"
	"github.com/holdhq/counsel/httpapi"
	"github.com/holdhq/counsel/llm"
	"github.com/holdhq/counsel/pipeline"
	"github.com/holdhq/counsel/store"
)

// Config holds top-level configuration for a counsel application.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (default ":7080").
	ServerAddr string

	// DataDir is the directory for persistent data (default "~/.counsel").
	DataDir string

	// StoreDriver is sqlite (default), redis or memory.
	StoreDriver string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// Redis connection settings for the redis driver. RedisTTL 0 keeps
	// sessions forever.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	// LLMProvider is anthropic, openai or auto (default).
	LLMProvider     string
	LLMModel        string
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// Gateway bounds every completion call.
	Gateway llm.GatewayConfig

	// Engine holds the round driver and phase policy.
	Engine engine.Config

	// PersonasFile is a YAML persona catalog. Empty uses the built-in personas.
	PersonasFile string

	// Supabase, when set, serves personas and receives decisions.
	SupabaseURL string
	SupabaseKey string

	// Chat transports, enabled when their tokens are set.
	SlackBotToken    string
	SlackAppToken    string
	TelegramBotToken string
}

// Builder constructs a counsel App.
type Builder struct {
	config    Config
	store     store.SessionStore
	personas  store.PersonaStore
	decisions store.DecisionStore
	bus       eventbus.Bus
	llm       llm.Client
	gateway   llm.Completer
	summary   *pipeline.SummaryStage
	channels  []func(*channel.Router) (channel.Channel, error)
	logger    *slog.Logger
}

// NewBuilder creates a new Builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the session store implementation.
func (b *Builder) WithStore(s store.SessionStore) *Builder {
	b.store = s
	return b
}

// WithPersonas sets the persona store.
func (b *Builder) WithPersonas(p store.PersonaStore) *Builder {
	b.personas = p
	return b
}

// WithDecisions sets the store that receives extracted decisions.
func (b *Builder) WithDecisions(d store.DecisionStore) *Builder {
	b.decisions = d
	return b
}

// WithBus sets the event bus implementation.
func (b *Builder) WithBus(bus eventbus.Bus) *Builder {
	b.bus = bus
	return b
}

// WithLLM sets the provider client. A gateway and summary stage are built
// on top of it unless set explicitly.
func (b *Builder) WithLLM(client llm.Client) *Builder {
	b.llm = client
	return b
}

// WithGateway sets the completion gateway directly, bypassing WithLLM.
func (b *Builder) WithGateway(g llm.Completer) *Builder {
	b.gateway = g
	return b
}

// WithSummaryStage sets a custom decision extractor.
func (b *Builder) WithSummaryStage(s *pipeline.SummaryStage) *Builder {
	b.summary = s
	return b
}

// WithChannel adds a chat transport. The factory receives the application's
// router once the engine exists.
func (b *Builder) WithChannel(factory func(*channel.Router) (channel.Channel, error)) *Builder {
	b.channels = append(b.channels, factory)
	return b
}

// WithLogger sets the structured logger used by the engine.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if err := applyDefaults(b); err != nil {
		return nil, err
	}

	eng := engine.New(
		b.config.Engine,
		b.store,
		b.personas,
		b.decisions,
		b.bus,
		b.gateway,
		b.summary,
		b.logger,
	)
	router := channel.NewRouter(eng)

	var channels []channel.Channel
	for _, factory := range append(defaultChannels(b.config), b.channels...) {
		ch, err := factory(router)
		if err != nil {
			log.Printf("Warning: channel disabled: %v", err)
			continue
		}
		log.Printf("%s channel enabled", ch.Name())
		channels = append(channels, ch)
	}

	return &App{
		config:   b.config,
		engine:   eng,
		handler:  httpapi.New(eng),
		router:   router,
		channels: channels,
	}, nil
}

// App is a running counsel application.
type App struct {
	config   Config
	engine   *engine.Engine
	handler  *httpapi.Handler
	router   *channel.Router
	channels []channel.Channel
}

// Engine returns the underlying engine for direct access.
func (a *App) Engine() *engine.Engine { return a.engine }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.handler.Router() }

// Router returns the chat command router shared by all channels.
func (a *App) Router() *channel.Router { return a.router }

// Start starts the HTTP server and all channels. Blocks until ctx is done.
func (a *App) Start(ctx context.Context) error {
	for _, ch := range a.channels {
		ch := ch
		go func() {
			if err := ch.Run(ctx); err != nil {
				log.Printf("%s channel error: %v", ch.Name(), err)
			}
		}()
	}

	srv := &http.Server{
		Addr:    a.config.ServerAddr,
		Handler: a.handler.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("counsel server listening on %s", a.config.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return a.Close()
}

// Close saves sessions whose last save failed and closes the store.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	flushErr := a.engine.FlushDirty(ctx)
	if flushErr != nil {
		log.Printf("Warning: unsaved sessions at shutdown: %v", flushErr)
	}
	return errors.Join(flushErr, a.engine.Store().Close())
}
