package main

import (
	"context"
	"errors"
	"log" // Standard log only for fatal errors before the logger is set up
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"tradebridge/config"
	"tradebridge/internal/adapters/logger"
	"tradebridge/internal/adapters/sqlite"
	"tradebridge/internal/app"
	"tradebridge/internal/gateway"
	"tradebridge/internal/server"
	"tradebridge/internal/sizing"
	"tradebridge/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized")

	credVault, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize credential vault: %v", err)
	}

	clients, err := gateway.NewManager(gateway.Config{Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize exchange gateway: %v", err)
	}

	resolver, err := sizing.NewResolver(appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize quantity resolver: %v", err)
	}

	executor, err := app.NewExecutor(app.ExecutorConfig{
		Strategies: repo,
		Trades:     repo,
		Resolver:   resolver,
		Vault:      credVault,
		Clients:    clients,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize signal executor: %v", err)
	}

	reconciler, err := app.NewReconciler(app.ReconcilerConfig{
		Trades:     repo,
		Strategies: repo,
		Vault:      credVault,
		Clients:    clients,
		Logger:     appLogger,
		Interval:   cfg.SyncInterval,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize position reconciler: %v", err)
	}

	closer, err := app.NewCloser(app.CloserConfig{
		Trades:     repo,
		Strategies: repo,
		Vault:      credVault,
		Clients:    clients,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize close workflow: %v", err)
	}

	srv, err := server.New(server.Config{
		Executor:      executor,
		Closer:        closer,
		Reconciler:    reconciler,
		Strategies:    repo,
		Trades:        repo,
		Vault:         credVault,
		Logger:        appLogger,
		WebhookSecret: cfg.WebhookSecret,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize HTTP server: %v", err)
	}

	go reconciler.Run(ctx)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv.Router(),
	}
	go func() {
		appLogger.Info(ctx, "HTTP server listening", map[string]interface{}{"addr": cfg.HTTPAddr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(ctx, err, "HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	appLogger.Info(context.Background(), "Shutdown signal received, draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, err, "HTTP server shutdown failed")
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
