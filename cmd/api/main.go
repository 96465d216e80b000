package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/RobinCoderZhao/newsdesk/internal/api"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/config"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/store"
	"github.com/RobinCoderZhao/newsdesk/internal/user"
	"github.com/RobinCoderZhao/newsdesk/pkg/logging"
	"github.com/RobinCoderZhao/newsdesk/pkg/storage"
)

func main() {
	configPath := flag.String("config", "", "config file (default $NEWSDESK_CONFIG or newsdesk.yaml)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	if cfg.API.JWTSecret == "" {
		slog.Error("JWT_SECRET is not set")
		os.Exit(1)
	}

	db, err := storage.Open(cfg.Database)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	articles := store.New(db)
	if err := articles.Migrate(context.Background()); err != nil {
		slog.Error("schema migration failed", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(articles, user.NewStore(db), cfg.API)

	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           server.Handler(os.Stdout),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting REST API Server", "addr", cfg.API.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
}
