package application

import (
	"context"
	"time"

	_ "github.com/agentforge/runtime/internal/infrastructure/llm/openai" // register openai provider factory
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/agentforge/runtime/internal/infrastructure/config"
	infrallm "github.com/agentforge/runtime/internal/infrastructure/llm"
	"github.com/agentforge/runtime/internal/infrastructure/monitoring"
	"github.com/agentforge/runtime/internal/infrastructure/persistence"
	infraplugin "github.com/agentforge/runtime/internal/infrastructure/plugin"
	httpServer "github.com/agentforge/runtime/internal/interfaces/http"
	"github.com/agentforge/runtime/internal/interfaces/websocket"
	"github.com/agentforge/runtime/pkg/safego"
)

// App is the composition root: it owns every long-lived resource (DB
// connection, LLM provider, plugin loader, the agency registry, the HTTP
// server and WebSocket hub, and the schedule poll loop) and wires them
// together once at startup. Grounded on the teacher's App struct and
// NewApp/Start/Stop lifecycle shape, narrowed from a Telegram/gRPC/sandbox
// multi-interface bot host to the tenant-controller runtime described in
// SPEC_FULL.md: one HTTP/WebSocket boundary in front of many in-process
// Agency actors.
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB

	registry *AgencyRegistry
	monitor  *monitoring.Monitor

	httpServer *httpServer.Server
	wsHub      *websocket.Hub

	scheduleStop chan struct{}
}

// NewApp builds the full gateway: HTTP server, WebSocket hub and the
// schedule poll loop, none of them started until Start is called. Use
// NewAppCLI for the lighter footprint needed by a one-shot CLI invocation
// (no listeners started).
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app, err := newAppCore(cfg, logger)
	if err != nil {
		return nil, err
	}

	app.wsHub = websocket.NewHub(app.registry, cfg.Gateway.Secret, logger)
	app.httpServer = httpServer.NewServer(httpServer.Config{
		Host:   cfg.Gateway.Host,
		Port:   cfg.Gateway.Port,
		Mode:   "release",
		Secret: cfg.Gateway.Secret,
	}, app.registry, app.wsHub, app.monitor.PrometheusHandler(), logger)

	return app, nil
}

// NewAppCLI builds just enough of the runtime for a one-shot local
// invocation (registry + bootstrap, no HTTP listener, no schedule loop),
// following the teacher's initRepositoriesSilent split between a serving
// process and a quiet interactive one.
func NewAppCLI(cfg *config.Config, logger *zap.Logger) (*App, error) {
	return newAppCore(cfg, logger)
}

func newAppCore(cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := persistence.NewDBConnection(&cfg.Database)
	if err != nil {
		return nil, err
	}

	store := persistence.NewGormAgencyStore(db)
	events := persistence.NewGormEventStore(db)

	provider, err := infrallm.CreateProvider(infrallm.ProviderConfig{
		Type:    cfg.Provider.Type,
		APIKey:  cfg.Provider.APIKey,
		BaseURL: cfg.Provider.BaseURL,
		Model:   cfg.Provider.Model,

		RetryMax:          cfg.Provider.RetryMax,
		RetryBackoffMS:    cfg.Provider.RetryBackoffMS,
		RetryMaxBackoffMS: cfg.Provider.RetryMaxBackoffMS,
		RetryJitterRatio:  cfg.Provider.RetryJitterRatio,
		RetryStatusCodes:  cfg.Provider.RetryStatusCodes,

		CircuitBreakerThreshold: cfg.Provider.CircuitBreakerThreshold,
		CircuitBreakerRecovery:  int64(cfg.Provider.CircuitBreakerRecovery / time.Second),
	}, logger)
	if err != nil {
		return nil, err
	}

	plugins, err := infraplugin.NewLoader(&infraplugin.LoaderConfig{
		PluginDir:     cfg.Plugins.Dir,
		EnableHotLoad: cfg.Plugins.HotReload,
	}, logger)
	if err != nil {
		return nil, err
	}
	infraplugin.RegisterBuiltinPlugins(plugins, logger)

	monitor := monitoring.NewMonitor(logger)
	plugins.Add("metrics", monitoring.NewMetricsHook(monitor))

	if err := plugins.LoadAll(context.Background()); err != nil {
		logger.Warn("plugin load failed", zap.Error(err))
	}
	if cfg.Plugins.HotReload {
		if err := plugins.StartWatching(context.Background()); err != nil {
			logger.Warn("plugin watch failed", zap.Error(err))
		}
	}

	deps := sharedDeps{
		store:    store,
		events:   events,
		provider: provider,
		plugins:  plugins,
		cfg:      cfg,
		logger:   logger,
		dataDir:  "./data",
	}

	registry := NewAgencyRegistry(deps)
	if err := registry.Bootstrap(context.Background()); err != nil {
		return nil, err
	}

	return &App{
		config:   cfg,
		logger:   logger,
		db:       db,
		registry: registry,
		monitor:  monitor,
	}, nil
}

// Registry exposes the agency registry to a CLI REST client built against
// an in-process App (used for local, no-network invocations that skip the
// HTTP hop entirely).
func (app *App) Registry() *AgencyRegistry { return app.registry }

func (app *App) Logger() *zap.Logger { return app.logger }

func (app *App) Config() *config.Config { return app.config }

// Start brings up the HTTP/WebSocket listener and the schedule poll loop.
// Grounded on the teacher's App.Start, narrowed from starting four
// interfaces (HTTP, Telegram, gRPC, DB) down to the two this runtime has.
func (app *App) Start(ctx context.Context) error {
	if app.httpServer == nil {
		return nil // CLI-mode App, nothing to serve
	}
	if err := app.httpServer.Start(ctx); err != nil {
		return err
	}
	app.scheduleStop = make(chan struct{})
	safego.Go(app.logger, "schedule-loop", func() { app.scheduleLoop(app.scheduleStop) })
	return nil
}

// Stop shuts everything down in reverse order of Start.
func (app *App) Stop(ctx context.Context) error {
	if app.scheduleStop != nil {
		close(app.scheduleStop)
		app.scheduleStop = nil
	}
	if app.httpServer != nil {
		if err := app.httpServer.Stop(ctx); err != nil {
			return err
		}
	}
	if sqlDB, err := app.db.DB(); err == nil {
		sqlDB.Close()
	}
	return nil
}

// scheduleLoop ticks every agency's due schedules at the configured
// interval (spec §5: the schedule engine has no external driver besides
// wall-clock time).
func (app *App) scheduleLoop(stop chan struct{}) {
	interval := app.config.Schedule.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			app.registry.Tick(context.Background())
		}
	}
}
