package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"trade-guard/config"
	"trade-guard/internal/api"
	"trade-guard/internal/app"
	"trade-guard/internal/auth"
	"trade-guard/internal/logging"
	"trade-guard/internal/scanner"
	"trade-guard/internal/vault"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.Logging.Level,
		Output:      cfg.Logging.Output,
		JSONFormat:  cfg.Logging.JSONFormat,
		IncludeFile: cfg.Logging.IncludeFile,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		Component:   "main",
	})
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Resolve secrets
	vaultClient, err := vault.NewClient(cfg.Vault)
	if err != nil {
		logger.Fatal("failed to create vault client", "error", err)
	}
	if err := vaultClient.Apply(ctx, cfg); err != nil {
		logger.Fatal("failed to resolve secrets from vault", "error", err)
	}

	guardApp, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialize guard", "error", err)
	}
	defer guardApp.Close()

	sweep := scanner.NewScanner(guardApp.Guard, guardApp.Breaker, guardApp.Bus, scanner.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Interval: cfg.Scheduler.Interval,
	})
	sweep.Start()

	var server *api.Server
	if cfg.Server.Enabled {
		var jwtManager *auth.JWTManager
		if cfg.Auth.Enabled {
			if cfg.Auth.JWTSecret == "" {
				logger.Fatal("auth is enabled but no JWT secret is configured")
			}
			jwtManager = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		}

		health := map[string]api.HealthChecker{}
		if guardApp.Repo != nil {
			health["database"] = guardApp.Repo
		}
		if guardApp.Cache != nil {
			health["redis"] = healthFunc(guardApp.Cache.Ping)
		}
		if vaultClient.IsEnabled() {
			health["vault"] = healthFunc(vaultClient.Health)
		}

		var decisions api.DecisionLister
		if src := guardApp.Decisions(); src != nil {
			decisions = src
		}

		server = api.NewServer(cfg.Server, api.Deps{
			Account:   cfg.Account,
			Guard:     guardApp.Guard,
			System:    guardApp.System,
			Breaker:   guardApp.Breaker,
			Exposure:  guardApp.Exposure,
			Pipeline:  guardApp.Pipeline,
			Decisions: decisions,
			Bus:       guardApp.Bus,
			Health:    health,
		}, jwtManager)

		go func() {
			if err := server.Start(); err != nil {
				logger.Error("web server stopped", "error", err)
				stop()
			}
		}()
	}

	logger.Info("trade guard running",
		"account", cfg.Account,
		"server", cfg.Server.Enabled,
		"auth", cfg.Auth.Enabled,
		"sweep", cfg.Scheduler.Enabled)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error shutting down web server", "error", err)
		}
	}
	sweep.Stop()

	logger.Info("shutdown complete")
}

// healthFunc adapts a ping-style method to the health endpoint
type healthFunc func(ctx context.Context) error

func (f healthFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}
