package main

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

	"github.com/joho/godotenv"

	"github.com/halcyonchat/halcyon/internal/auth"
	"github.com/halcyonchat/halcyon/internal/server"
	"github.com/halcyonchat/halcyon/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run owns the whole lifecycle so deferred cleanup executes before the
// process exits and main stays trivially testable.
func run() error {
	_ = godotenv.Load()

	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)

	store, err := storage.Open(cfg.DatabasePath, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		log.Info("closing storage")
		_ = store.Close()
	}()

	tokens := auth.NewTokenSource([]byte(cfg.JWTSecret), cfg.TokenTTL)
	authn := auth.NewStoreAuthenticator(tokens, store)

	srv := server.New(cfg, store, authn, tokens, log)
	go srv.Hub().Run()

	httpServer := server.CreateServer(cfg.Addr, srv.Routes())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		if err := server.StartServer(httpServer, log); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown signal received")
	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log); err != nil {
		log.Error("http shutdown", "error", err)
	}
	if err := srv.Hub().Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Error("hub shutdown", "error", err)
	}
	return nil
}

// newLogger builds a text slog logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
