// TradeFlow - Global Trade Compliance AI Backend
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/tradeflow-ai/tradeflow/internal/advisor"
	"github.com/tradeflow-ai/tradeflow/internal/api"
	"github.com/tradeflow-ai/tradeflow/internal/auth"
	"github.com/tradeflow-ai/tradeflow/internal/config"
	"github.com/tradeflow-ai/tradeflow/internal/flow"
	"github.com/tradeflow-ai/tradeflow/internal/middleware"
	"github.com/tradeflow-ai/tradeflow/internal/planner"
	"github.com/tradeflow-ai/tradeflow/internal/session"
	"github.com/tradeflow-ai/tradeflow/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	userCount, err := repo.CountUsers(context.Background())
	if err != nil {
		slog.Error("Failed to read user count", "error", err)
		os.Exit(1)
	}
	slog.Info("User database connected", "users", userCount)

	sessions, err := session.Open(session.Options{
		Path:   cfg.SessionDB,
		TTL:    cfg.SessionTTL,
		Logger: logger,
	})
	if err != nil {
		slog.Error("Failed to open session store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := sessions.Close(); closeErr != nil {
			slog.Error("Failed to close session store", "error", closeErr)
		}
	}()
	slog.Info("Session store ready", "ttl", cfg.SessionTTL)

	plannerClient, err := planner.NewHTTPClient(planner.ClientConfig{
		BaseURL: cfg.Planner.BaseURL,
		APIKey:  cfg.Planner.APIKey,
		Tools: planner.ToolCredentials{
			XeroClientID:     cfg.Planner.XeroClientID,
			XeroClientSecret: cfg.Planner.XeroClientSecret,
		},
		WaitReadyTimeout: cfg.WaitReadyTimeout,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize planner client", "error", err)
		os.Exit(1)
	}

	// The advisor is optional: without an API key raw queries go straight to
	// the planner.
	var adv advisor.Advisor
	if cfg.Advisor.Enabled && cfg.Advisor.APIKey != "" {
		openaiAdvisor, err := advisor.NewOpenAI(cfg.Advisor.APIKey, cfg.Advisor.Model, logger)
		if err != nil {
			slog.Error("Failed to initialize advisor", "error", err)
			os.Exit(1)
		}
		adv = openaiAdvisor
		slog.Info("Pre-processing advisor enabled", "model", cfg.Advisor.Model)
	} else {
		slog.Info("Pre-processing advisor disabled")
	}

	engine := flow.New(sessions, plannerClient, adv, cfg.ResumeMaxRounds, logger)
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	handler := api.NewHandler(repo, sessions, engine, issuer, cfg.AllowedOrigins())

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// WaitForReady turns can block for the planner's full wait budget, so
		// write timeouts stay generous.
		WriteTimeout: cfg.WaitReadyTimeout + time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Badger value-log GC for the session store.
	go sessions.RunGC(ctx, 5*time.Minute)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
