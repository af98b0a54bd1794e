package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/dyno/internal/factory"
	"github.com/ChamsBouzaiene/dyno/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve agent runs over HTTP",
	Long: `Start the HTTP server. Build and ask runs stream Server-Sent Events,
run as background jobs (?mode=job) or over a WebSocket.

Example:
  dyno serve --addr :8080`,
	Args: cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return bindFlag(cmd, "server.addr", "addr")
	},
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":8080", "listen address")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	flush, err := setupLogging(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := factory.New(ctx, *cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	deps := server.Deps{
		Agents:            app,
		Sandboxes:         app.Sandboxes,
		Conversations:     app.Sessions,
		Jobs:              app.Jobs,
		Ledger:            app.Ledger,
		KeepAliveInterval: cfg.Server.KeepAliveInterval,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
	}
	srv := server.New(deps)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", cfg.Server.Addr, "sandbox_mode", app.Sandboxes.Mode())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop runs first so streaming handlers return and Shutdown can finish.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("runs did not settle before shutdown", "error", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
