package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"arena-ai/backend/internal/api"
	"arena-ai/backend/internal/config"
	"arena-ai/backend/internal/database"
	"arena-ai/backend/internal/events"
	"arena-ai/backend/internal/llm"
	"arena-ai/backend/internal/model"
	"arena-ai/backend/internal/repository"
	"arena-ai/backend/internal/service"
)

const shutdownTimeout = 15 * time.Second

// App is the assembled server and the resources it owns.
type App struct {
	Server   *http.Server
	Sessions *service.SessionService
	Hub      *events.Hub

	closeStore func() error
}

func Run() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		// slog is not yet configured, so use the default logger for this critical error.
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	setupLogger(cfg.LogLevel)

	logConfigSource()

	shutdownTelemetry, err := setupTelemetry(context.Background(), cfg)
	if err != nil {
		slog.Error("Failed to initialize telemetry", "error", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("Failed to flush telemetry", "error", err)
		}
	}()

	app, err := NewApp(cfg)
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		return 1
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Error("Failed to release application resources", "error", err)
		}
	}()

	go checkOllama(cfg.OllamaURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "port", cfg.AppPort, "store", cfg.StoreDriver)
		serveErr <- app.Server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			return 1
		}
	case <-ctx.Done():
		slog.Info("Shutdown signal received, draining connections.")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Event streams never finish on their own, so close the hub first.
		app.Hub.Close()
		if err := app.Server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Graceful shutdown failed", "error", err)
			return 1
		}
	}

	return 0
}

// NewApp wires the store, the provider registry, the orchestrator and the HTTP router.
func NewApp(cfg *config.Config) (*App, error) {
	repo, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	registry := llm.NewRegistry(llm.DefaultDescriptors(llm.DescriptorOptions{
		OpenAIBaseURL:     cfg.OpenAIBaseURL,
		OpenAIModel:       cfg.OpenAIModel,
		OpenRouterBaseURL: cfg.OpenRouterBaseURL,
		OllamaURL:         cfg.OllamaURL,
		OllamaModel:       cfg.OllamaModel,
	}), config.Credential, &http.Client{})

	hub := events.NewHub()

	defaults := make([]model.ProviderID, 0)
	for _, id := range cfg.DefaultProviderIDs() {
		defaults = append(defaults, model.ProviderID(id))
	}

	sessions, err := service.NewSessionService(repo, registry, hub, service.Config{
		ProviderTimeout:  cfg.ProviderTimeout,
		GracefulErrors:   cfg.GracefulErrors,
		PatchInterval:    cfg.StreamPatchInterval,
		DefaultProviders: defaults,
	})
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	for _, info := range registry.Catalogue() {
		if !info.Configured {
			slog.Warn("Provider credential is not configured", "provider", info.ID, "env", info.CredentialEnv)
		}
	}

	router := api.NewRouter(
		api.NewSessionHandler(sessions),
		api.NewProviderHandler(sessions),
		api.NewEventsHandler(sessions, hub),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.AppPort),
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		WriteTimeout:      0, // Disabled for streaming endpoints
		IdleTimeout:       120 * time.Second,
	}

	return &App{Server: server, Sessions: sessions, Hub: hub, closeStore: closeStore}, nil
}

// Close stops in-flight fan-outs, disconnects subscribers and closes the store.
func (a *App) Close() error {
	a.Sessions.Close()
	a.Hub.Close()
	return a.closeStore()
}

// openStore selects the session store named by STORE_DRIVER.
func openStore(cfg *config.Config) (repository.Repository, func() error, error) {
	switch strings.ToLower(cfg.StoreDriver) {
	case "", "sqlite":
		db, err := database.InitDB(cfg.DatabasePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		slog.Info("Successfully connected to SQLite database.", "path", cfg.DatabasePath)
		return repository.NewSQLiteRepository(db), db.Close, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		slog.Info("Successfully connected to Redis.", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		return repository.NewRedisRepository(rdb), rdb.Close, nil

	case "memory":
		slog.Warn("Using the in-memory store; sessions are lost on restart.")
		return repository.NewMemoryRepository(), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q (want sqlite, redis or memory)", cfg.StoreDriver)
	}
}

func logConfigSource() {
	configFileUsed := viper.ConfigFileUsed()
	if configFileUsed != "" {
		slog.Info("Successfully loaded configuration from file.", "file", configFileUsed)
	} else {
		slog.Info("Configuration file not found. Using environment variables and defaults.")
	}
}

func setupLogger(logLevel string) {
	var level slog.Level
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

// checkOllama reports once whether the local Ollama backend answers. The
// ollama provider works without it; its calls simply fail until it is up.
func checkOllama(ollamaURL string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(ollamaURL)
	if err != nil {
		slog.Warn("Ollama is not reachable, the ollama provider will fail until it is.", "url", ollamaURL, "error", err)
		return false
	}
	if bErr := resp.Body.Close(); bErr != nil {
		slog.Warn("Failed to close response body in ollama health check", "error", bErr)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Warn("Ollama answered with an unexpected status.", "url", ollamaURL, "status", resp.StatusCode)
		return false
	}
	slog.Info("Ollama is ready.", "url", ollamaURL)
	return true
}
