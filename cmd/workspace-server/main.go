package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/workspace/internal/config"
	"github.com/ehr/workspace/internal/domain/appointment"
	"github.com/ehr/workspace/internal/domain/patient"
	"github.com/ehr/workspace/internal/domain/prevention"
	"github.com/ehr/workspace/internal/domain/recording"
	"github.com/ehr/workspace/internal/platform/auth"
	"github.com/ehr/workspace/internal/platform/db"
	"github.com/ehr/workspace/internal/platform/kv"
	"github.com/ehr/workspace/internal/platform/metrics"
	"github.com/ehr/workspace/internal/platform/middleware"
	"github.com/ehr/workspace/internal/platform/websocket"
	"github.com/ehr/workspace/internal/sandbox"
	"github.com/ehr/workspace/internal/workspace"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "workspace-server",
		Short: "Clinician workspace state API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(kvCmd())
	rootCmd.AddCommand(sandboxCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the workspace API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the kv table for the postgres or sqlite backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			store, err := kv.Open(ctx, cfg.KVOptions())
			if err != nil {
				return err
			}
			defer store.Close()

			m, ok := store.(kv.Migrator)
			if !ok {
				fmt.Printf("Backend %q has no schema; nothing to migrate.\n", cfg.KVBackend)
				return nil
			}
			if err := m.Migrate(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Migrated %s backend successfully.\n", cfg.KVBackend)
			return nil
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Storage
	ctx := context.Background()
	store, err := kv.Open(ctx, cfg.KVOptions())
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.KVBackend).Msg("failed to open kv store")
	}
	defer store.Close()
	if m, ok := store.(kv.Migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate kv store")
		}
	}
	logger.Info().Str("backend", cfg.KVBackend).Msg("kv store ready")

	m := metrics.New()
	if ps, ok := store.(*kv.PostgresStore); ok && ps.Pool() != nil {
		m.Registry.MustRegister(db.NewCollector(ps.Pool(), metrics.Namespace))
	}
	hub := websocket.NewHub(logger, m)
	manager, err := workspace.NewManager(cfg.CacheSize, workspace.Deps{
		KV:            store,
		Logger:        logger,
		Metrics:       m,
		ViewCacheSize: cfg.ViewCacheSize,
		OnChange:      hub.Publish,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create workspace manager")
	}

	e := newServer(cfg, logger, store, m, manager, hub)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	// Flush every open workspace before the kv store closes.
	if err := manager.Close(); err != nil {
		logger.Error().Err(err).Msg("closing workspaces failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newServer(cfg *config.Config, logger zerolog.Logger, store kv.Store, m *metrics.Metrics, manager *workspace.Manager, hub *websocket.Hub) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger, m.Panics))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger, m))
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.LoadBodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Health and metrics
	e.GET("/health", kv.HealthHandler(store, cfg.KVBackend))
	e.GET("/metrics", m.Handler())

	// Auth middleware
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
	api := e.Group("/api/v1/workspace")
	if cfg.ResolvedAuthMode() == "development" {
		api.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		api.Use(auth.JWTMiddleware(jwtCfg))
	}

	// Domain handlers
	workspace.NewHandler(manager).RegisterRoutes(api)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(api)
	patient.NewHandler(workspace.Resolver(manager, func(w *workspace.Workspace) *patient.Store { return w.Patients })).RegisterRoutes(api)
	appointment.NewHandler(workspace.Resolver(manager, func(w *workspace.Workspace) *appointment.Store { return w.Appointments })).RegisterRoutes(api)
	recording.NewHandler(workspace.Resolver(manager, func(w *workspace.Workspace) *recording.Store { return w.Recordings })).RegisterRoutes(api)
	prevention.NewHandler(workspace.Resolver(manager, func(w *workspace.Workspace) *prevention.Store { return w.Prevention })).RegisterRoutes(api)

	if cfg.IsDev() {
		sandbox.NewHandler(workspace.Resolver(manager, func(w *workspace.Workspace) *workspace.Workspace { return w })).RegisterRoutes(api)
	}

	return e
}
