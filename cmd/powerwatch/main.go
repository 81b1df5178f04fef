package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/use-agent/powerwatch/browser"
	"github.com/use-agent/powerwatch/cache"
	"github.com/use-agent/powerwatch/config"
	"github.com/use-agent/powerwatch/navigator"
	"github.com/use-agent/powerwatch/scraper"
	"github.com/use-agent/powerwatch/session"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "powerwatch",
	Short:         "powerwatch scrapes the live power flow of an energy-monitoring web app.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return nil
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// newScraper wires the browser session, the navigator and the orchestrator
// around latest. Nothing is launched until the first scrape.
func newScraper(cfg *config.Config, latest *cache.Latest) *scraper.Scraper {
	sess := session.New(browser.NewRodLauncher(cfg.Browser), cfg.Session)
	nav := navigator.New(cfg.Target, cfg.Session)
	return scraper.New(sess, nav, latest, cfg.Scraper)
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig, w io.Writer) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
}
