package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gridify/gentable/internal/application/executor"
	"github.com/gridify/gentable/internal/config"
	"github.com/gridify/gentable/internal/domain"
	"github.com/gridify/gentable/internal/infrastructure/api/rest"
	"github.com/gridify/gentable/internal/infrastructure/code"
	"github.com/gridify/gentable/internal/infrastructure/files"
	"github.com/gridify/gentable/internal/infrastructure/llm"
	"github.com/gridify/gentable/internal/infrastructure/monitoring"
	"github.com/gridify/gentable/internal/infrastructure/search"
	"github.com/gridify/gentable/internal/infrastructure/storage"
	"github.com/gridify/gentable/internal/infrastructure/websocket"
)

func main() {
	cfg := config.Load()
	monitoring.SetupLogger(cfg.LogLevel, cfg.LogPretty)

	var store domain.TableStore
	if cfg.DatabaseDSN != "" {
		bunStore := storage.NewBunStore(cfg.DatabaseDSN)
		if err := bunStore.InitSchema(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database schema")
		}
		store = bunStore
	} else {
		log.Warn().Msg("DATABASE_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	routerCfg := llm.DefaultConfig(cfg.OpenAIAPIKey)
	routerCfg.BaseURL = cfg.OpenAIBaseURL
	routerCfg.RerankURL = cfg.RerankURL
	routerCfg.DefaultModel = cfg.DefaultModel
	routerCfg.EmbeddingModel = cfg.EmbeddingModel
	routerCfg.MaxRetries = cfg.RouterMaxRetry
	routerCfg.Cooldown = time.Duration(cfg.RouterCooldownS) * time.Second

	hub := websocket.NewHub()
	observers := monitoring.NewObserverManager()
	observers.AddObserver(websocket.NewSocketObserver(hub))

	caps := executor.Capabilities{
		Store:     store,
		Router:    llm.NewOpenAIRouter(routerCfg),
		Knowledge: search.NewProvider(store),
		Files:     files.NewLocalURIReader(),
		Docs:      files.PlainDocLoader{},
		Code:      code.NewExprRunner(),
		Observers: observers,
		Metrics:   monitoring.NewUsageCollector(),
	}
	orchCfg := executor.OrchestratorConfig{
		CellCeiling:   cfg.CellCeiling,
		MaxWriteBatch: cfg.MaxWriteBatch,
	}

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: rest.NewServer(caps, orchCfg, hub, cfg.JWTSecret, cfg.ProjectID),
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	hub.Close(ctx)
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
}
