// HTTP server construction and lifecycle helpers with production
// defaults.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// CreateServer configures an HTTP server for the given address and
// handler with sensible timeouts.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartServer begins listening for connections and blocks until the
// server stops.
func StartServer(server *http.Server, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	log.Info("server listening", "addr", server.Addr)
	return server.ListenAndServe()
}

// ShutdownServer gracefully shuts down the HTTP server, waiting for
// active connections up to timeout.
func ShutdownServer(server *http.Server, timeout time.Duration, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	log.Info("shutting down http server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("http server shutdown", "error", err)
		return err
	}
	log.Info("http server shutdown completed")
	return nil
}
