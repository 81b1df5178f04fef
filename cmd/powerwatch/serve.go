package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"github.com/use-agent/powerwatch/api"
	"github.com/use-agent/powerwatch/cache"
	"github.com/use-agent/powerwatch/publish"
	"github.com/use-agent/powerwatch/scheduler"
	"github.com/use-agent/powerwatch/telemetry"
)

const shutdownTimeout = 10 * time.Second

var servePort int

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override POWERWATCH_PORT")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve [--port <port>]",
	Short: "Scrape on a schedule, serve the latest snapshot over HTTP and publish it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}
		return serve(cmd.Context())
	},
}

// serve runs until ctx is done or the browser cannot be started.
//
// Lifecycle (numbered steps match the inline comments):
//
//  1. Logging and telemetry
//  2. Publishers
//  3. Orchestrator and scheduler
//  4. HTTP server
//  5. Wait for a signal or a fatal scheduler error
//  6. Graceful shutdown
func serve(parent context.Context) error {
	// ── 1. Logging and telemetry ────────────────────────────────────
	initLogger(cfg.Log, os.Stdout)
	slog.Info("powerwatch starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"target", cfg.TargetURL(),
		"interval", cfg.Scheduler.Interval,
	)

	_, shutdownTelemetry, err := telemetry.Init(parent, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}

	// ── 2. Publishers ───────────────────────────────────────────────
	publishers, closePublishers, err := publish.FromConfig(cfg.Publish)
	if err != nil {
		closePublishers()
		return err
	}
	for _, p := range publishers {
		slog.Info("publisher enabled", "publisher", p.Name())
	}

	// ── 3. Orchestrator and scheduler ───────────────────────────────
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	latest := &cache.Latest{}
	sc := newScraper(cfg, latest)
	sched := scheduler.New(sc, cfg.Scheduler, publishers)

	// ── 4. HTTP server ──────────────────────────────────────────────
	router := api.NewRouter(ctx, api.Deps{
		Source:    sc,
		Latest:    latest,
		Activity:  sched,
		Version:   version,
		StartTime: time.Now(),
	}, cfg)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var lifecycle conc.WaitGroup
	fatal := make(chan error, 2)
	lifecycle.Go(func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			fatal <- err
			cancel()
		}
	})
	lifecycle.Go(func() {
		if err := sched.Run(ctx); err != nil {
			slog.Error("scheduler stopped: browser session could not be created", "error", err)
			fatal <- err
			cancel()
		}
	})

	// ── 5. Wait ─────────────────────────────────────────────────────
	<-ctx.Done()
	if parent.Err() != nil {
		slog.Info("shutdown signal received")
	}

	// ── 6. Graceful shutdown ────────────────────────────────────────
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}
	lifecycle.Wait()

	if err := sc.Close(); err != nil {
		slog.Warn("browser session did not close cleanly", "error", err)
	}
	closePublishers()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown failed", "error", err)
	}

	slog.Info("powerwatch stopped")
	select {
	case err := <-fatal:
		return err
	default:
		return nil
	}
}
