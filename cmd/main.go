package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signet-id/signet/internal/abuse"
	"github.com/signet-id/signet/internal/account"
	"github.com/signet-id/signet/internal/cache"
	"github.com/signet-id/signet/internal/config"
	"github.com/signet-id/signet/internal/database"
	"github.com/signet-id/signet/internal/health"
	"github.com/signet-id/signet/internal/keys"
	"github.com/signet-id/signet/internal/oauth"
	"github.com/signet-id/signet/internal/passkey"
	"github.com/signet-id/signet/internal/store"
	"github.com/signet-id/signet/internal/web/handler"
	"github.com/signet-id/signet/internal/web/middleware"
	"github.com/signet-id/signet/internal/webhook"
)

func main() {
	ctx := context.Background()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "create-client":
			if err := runCreateClient(ctx, os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "%s\n", err)
				os.Exit(1)
			}
			return
		case "create-user":
			if err := runCreateUser(ctx, os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "%s\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func Run(ctx context.Context) error {
	// Graceful shutdown on interruption
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logLevel := slog.LevelInfo
	if !cfg.Server.IsProduction() {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}
	defer db.Close()

	counterStore, err := cache.NewService(cfg.Cache, logger)
	if err != nil {
		return fmt.Errorf("failed to connect counter store: %w", err)
	}
	defer counterStore.Close()

	issuer := cfg.Token.Issuer
	if issuer == "" {
		issuer = cfg.GetBaseURL()
	}

	keyService, err := keys.NewService(issuer, cfg.Token.KeySize, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize signing keys: %w", err)
	}

	dataStore := store.New(db)

	rateLimiter := abuse.NewRateLimiter(counterStore, cfg.RateLimit, logger)
	lockout := abuse.NewLockout(counterStore, cfg.Lockout, logger)

	engine := webhook.NewEngine(dataStore, cfg.Webhook, logger)

	oauthService := oauth.NewService(dataStore, keyService, engine, cfg.Token, logger)
	accountService := account.NewService(
		dataStore,
		counterStore,
		lockout,
		&account.LogSender{Logger: logger, RevealCodes: !cfg.Server.IsProduction()},
		engine,
		cfg.Lockout,
		logger,
	)

	challenges := cache.NewMemoryStore(time.Minute)
	defer challenges.Close()

	passkeyService, err := passkey.NewService(dataStore, challenges, cfg.Passkey, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize passkeys: %w", err)
	}

	checker := health.NewChecker(db, counterStore, keyService, logger)

	mux := http.NewServeMux()

	oauthHandler := handler.NewOAuthHandler(&cfg, logger, oauthService, accountService, keyService, rateLimiter)
	oauthHandler.RegisterRoutes(mux)

	authHandler := handler.NewAuthHandler(&cfg, logger, accountService, passkeyService, keyService, dataStore, rateLimiter)
	authHandler.RegisterRoutes(mux)

	webhookHandler := handler.NewWebhookHandler(logger, dataStore, engine, keyService)
	webhookHandler.RegisterRoutes(mux)

	adminHandler := handler.NewAdminHandler(logger, dataStore, keyService)
	adminHandler.RegisterRoutes(mux)

	healthHandler := handler.NewHealthHandler(&checker)
	healthHandler.RegisterRoutes(mux)

	root := middleware.Chain(mux,
		middleware.RecoverMiddleware(logger),
		middleware.LoggingMiddleware(logger),
		middleware.SecurityHeadersMiddleware(),
		middleware.TimeoutMiddleware(cfg.Server.WriteTimeout),
	)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        root,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	// Delivery worker runs alongside the server and drains with it
	go engine.Run(ctx)
	go purgeExpiredCodes(ctx, dataStore, logger)

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", server.Addr), slog.String("issuer", issuer))
		srvErr <- server.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down cleanly: %w", err)
		}

		logger.Info("shutdown completed")
	}

	return nil
}

// purgeExpiredCodes periodically removes authorization codes past their
// expiry. Used codes are kept until expiry so replays can be detected.
func purgeExpiredCodes(ctx context.Context, dataStore *store.Store, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := dataStore.DeleteExpiredAuthorizationCodes(ctx)
			if err != nil {
				logger.Error("failed to purge expired authorization codes", slog.String("error", err.Error()))
				continue
			}
			if deleted > 0 {
				logger.Debug("purged expired authorization codes", slog.Int64("deleted", deleted))
			}
		}
	}
}
