// strmly chat donation server
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

	"github.com/strmly/strmly/internal/api"
	"github.com/strmly/strmly/internal/app"
	"github.com/strmly/strmly/internal/config"
	"github.com/strmly/strmly/internal/identity"
	"github.com/strmly/strmly/internal/middleware"
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

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"bot_handle", cfg.BotHandle,
		"extraction_provider", cfg.Extraction.Provider,
	)

	components, err := app.New(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}
	defer components.Close()
	slog.Info("Database connected", "path", cfg.DBPath)

	// Initialize handlers.
	baseHandler := api.NewHandler(components.Repo, logger)
	healthHandler := api.NewHealthHandler(components.Repo, components.HealthChecks())
	streamHandler := api.NewStreamHandler(baseHandler)
	chatHandler := api.NewChatHandler(baseHandler, components.Service, components.Hub, components.Publisher, cfg.FrontendURL, cfg.IsDevelopment())
	donationHandler := api.NewDonationHandler(baseHandler, components.Service, components.Balances())

	allowedOrigins := []string{"*"}
	if !cfg.IsDevelopment() {
		allowedOrigins = []string{cfg.FrontendURL}
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(identity.Middleware)

	healthHandler.RegisterHealth(r)
	streamHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)
	donationHandler.RegisterRoutes(r)

	// Websocket feeds are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
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
