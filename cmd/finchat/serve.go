package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/finchat-ai/finchat/internal/agents"
	"github.com/finchat-ai/finchat/internal/auth"
	"github.com/finchat-ai/finchat/internal/bridge"
	"github.com/finchat-ai/finchat/internal/config"
	"github.com/finchat-ai/finchat/internal/finance"
	"github.com/finchat-ai/finchat/internal/inference"
	"github.com/finchat-ai/finchat/internal/observability"
	"github.com/finchat-ai/finchat/internal/store"
	"github.com/finchat-ai/finchat/internal/web"
)

// buildServeCmd creates the "serve" command that starts the API server.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the finchat API server",
		Long: `Start the finchat API server.

The server will:
1. Load configuration from the specified file (or finchat.yaml)
2. Open the session store (PostgreSQL when database.url is set, memory otherwise)
3. Connect the agent catalog and descriptor cache
4. Serve the chat API, the SSE invocation endpoint, and /metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  finchat serve

  # Start with custom config
  finchat serve --config /etc/finchat/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Log.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	metrics, registry := observability.NewMetrics()

	sessions, profiles, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	catalog := agents.NewCatalogClient(cfg.Catalog.BaseURL, cfg.Catalog.Token, cfg.Catalog.RefreshTimeout, logger)
	cache := agents.NewCache(agents.CacheConfig{
		TTL:            cfg.Catalog.CacheTTL,
		RefreshTimeout: cfg.Catalog.RefreshTimeout,
		Fetch:          catalog.FetchDescriptor,
		Logger:         logger,
		Metrics:        metrics,
	})
	agentSvc := agents.NewService(cfg.Agents, cache)

	inferClient := inference.NewOpenAIClient(
		cfg.Inference.BaseURL,
		cfg.Inference.APIKey,
		cfg.Inference.MaxToolIterations,
		profiles.Get,
		logger,
		metrics,
	)

	br := bridge.New(bridge.Config{
		Store:     sessions,
		Agents:    agentSvc,
		Inference: inferClient,
		Logger:    logger,
		Metrics:   metrics,
	})

	handler := web.NewHandler(web.Config{
		Store:    sessions,
		Agents:   agentSvc,
		Bridge:   br,
		Identity: auth.NewResolver(cfg.Auth.UserHeader, cfg.Auth.JWTSecret, cfg.Auth.DefaultUser),
		Profiles: profiles,
		Logger:   logger,
		Registry: registry,
	})

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: handler.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "starting server", "addr", cfg.Server.Addr, "agents", len(cfg.Agents))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		logger.Info(ctx, "shutting down", "signal", sig.String())
	case <-ctx.Done():
		logger.Info(ctx, "shutting down", "reason", "context cancelled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info(ctx, "server stopped")
	return nil
}

// openStore selects the session and profile store backends. A configured
// database URL means PostgreSQL, with the profile store sharing the
// session store's connection pool; otherwise both live in memory and are
// lost on restart.
func openStore(ctx context.Context, cfg *config.Config, logger *observability.Logger) (store.Store, finance.ProfileStore, func(), error) {
	if cfg.Database.URL == "" {
		logger.Info(ctx, "using in-memory session store", "max_per_user", cfg.Chats.MaxPerUser)
		return store.NewMemoryStore(cfg.Chats.MaxPerUser), finance.NewMemoryProfileStore(), func() {}, nil
	}

	pgCfg := store.DefaultPostgresConfig()
	pgCfg.MaxChatsPerUser = cfg.Chats.MaxPerUser
	pg, err := store.NewPostgresStore(cfg.Database.URL, pgCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open session store: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, nil, err
	}
	profiles := finance.NewPostgresProfileStore(pg.DB())
	if err := profiles.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, nil, err
	}
	logger.Info(ctx, "using postgres session store", "max_per_user", cfg.Chats.MaxPerUser)
	return pg, profiles, func() { pg.Close() }, nil
}
