package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/marcus/toggle/internal/api"
	"github.com/marcus/toggle/internal/config"
	"github.com/marcus/toggle/internal/serverdb"
)

func main() {
	// Route to admin subcommands if present
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		os.Exit(runAdmin(os.Args[2:], os.Stdout, os.Stderr))
	}

	cfg := api.LoadConfig()
	logCfg := config.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat}
	slog.SetDefault(slog.New(logCfg.Handler(os.Stderr)))

	store, err := serverdb.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open server db", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	srv, err := api.NewServer(cfg, store)
	if err != nil {
		slog.Error("create server", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(); err != nil {
		slog.Error("start server", "err", err)
		os.Exit(1)
	}
	if cfg.Token == "" {
		slog.Warn("TOGGLE_SYNC_TOKEN is empty; device endpoints accept unauthenticated requests")
	}
	slog.Info("server started", "addr", srv.Addr().String(), "db", cfg.DBPath)

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "err", err)
	}
}
