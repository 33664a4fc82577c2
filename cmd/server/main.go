package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smile-ai/backend/conversation/models"
	"smile-ai/backend/pkg/config"
	"smile-ai/backend/pkg/di"
	"smile-ai/backend/pkg/logger"
	"smile-ai/backend/pkg/router"
	"smile-ai/backend/pkg/secrets"
	"smile-ai/backend/shared/observability"
)

func main() {
	// Loads .env if present
	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting application",
		"service", cfg.Server.ServiceName,
		"env", cfg.Server.Env,
		"version", os.Getenv("APP_VERSION"),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolveSecrets(ctx, cfg, log)

	if cfg.Observability.TracingEnabled {
		shutdownTracing, err := observability.SetupTracing(observability.TracingConfig{ServiceName: cfg.Server.ServiceName})
		if err != nil {
			log.LogError(err, "Failed to initialize tracing")
		} else {
			defer func() { _ = shutdownTracing(context.Background()) }()
		}
	}

	db, err := config.NewDB(cfg, log)
	if err != nil {
		log.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		log.LogError(err, "Failed to migrate database")
		os.Exit(1)
	}

	container, err := di.New(cfg, db, log)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}
	container.Health.Start(ctx, 30*time.Second)

	r := router.New(container)
	r.SetupRoutes()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogError(err, "Server failed to start")
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	r.Close()
	if err := container.Close(shutdownCtx); err != nil {
		log.LogError(err, "Failed to release resources")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	log.Info("Server exited gracefully")
}

// resolveSecrets fills the provider credentials from Vault when they are not
// already present in the environment
func resolveSecrets(ctx context.Context, cfg *config.Config, log *logger.Logger) {
	manager, err := secrets.NewVaultManager(secrets.VaultConfig{
		Enabled:     cfg.Vault.Enabled,
		Address:     cfg.Vault.Address,
		Token:       cfg.Vault.Token,
		Namespace:   cfg.Vault.Namespace,
		SecretsPath: cfg.Vault.SecretsPath,
		Timeout:     cfg.Vault.Timeout,
		MaxRetries:  2,
	}, log)
	if err != nil {
		log.LogError(err, "Secrets manager unavailable, using environment only")
		return
	}
	defer manager.Close()

	secrets.Fill(ctx, manager, map[string]*string{
		secrets.KeyTwilioAuthToken: &cfg.Channel.AuthToken,
		secrets.KeyOpenAIAPIKey:    &cfg.Completion.APIKey,
	})
}
