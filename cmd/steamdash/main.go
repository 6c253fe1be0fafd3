// Package main is the entry point for the Steam dashboard service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"steamdash/config"
	"steamdash/internal/app"
	"steamdash/internal/logging"
	"steamdash/internal/steamdata"
	"steamdash/internal/version"
)

type onceOutput struct {
	steamdata.State
	Stats *steamdata.Stats `json:"stats,omitempty"`
}

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	configPath := flag.String("config", "", "Path to config.yaml (default: ./config.yaml or ./config/config.yaml)")
	once := flag.Bool("once", false, "Fetch once, print the state as JSON and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// bootstrap logger until the configured one is installed
	slog.SetDefault(slog.New(logging.NewHandler(os.Stderr, logging.Options{})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// -once keeps stdout for the JSON result
	logOut := os.Stdout
	if *once {
		logOut = os.Stderr
	}
	if _, err := logging.Setup(logOut, cfg.Logging.Format, cfg.Logging.Level); err != nil {
		slog.Error("failed to configure logging", "error", err)
		os.Exit(1)
	}

	slog.Info("starting steamdash",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	if *once {
		os.Exit(runOnce(cfg))
	}

	application, err := app.New(context.Background(), app.Config{AppConfig: cfg})
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := application.Shutdown(ctx); err != nil {
			slog.Error("application shutdown error", "error", err)
		}
	}()

	// Start returns after a signal only once Shutdown has drained requests
	// and closed the store
	if err := application.Start(":" + cfg.Server.Port); err != nil {
		slog.Error("server failed", "error", err)
		_ = application.Shutdown(context.Background())
		os.Exit(1)
	}
}

// runOnce fetches the configured endpoints, prints the settled state and
// returns the process exit code.
func runOnce(cfg *config.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, app.Config{AppConfig: cfg, Once: true})
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		return 1
	}
	defer func() {
		if err := application.Shutdown(context.Background()); err != nil {
			slog.Error("application shutdown error", "error", err)
		}
	}()

	dashboard := application.Dashboard()
	state, err := dashboard.Wait(ctx)
	if err != nil {
		slog.Error("fetch interrupted", "error", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(onceOutput{State: state, Stats: dashboard.Stats()}); err != nil {
		slog.Error("failed to write output", "error", err)
		return 1
	}

	if state.Error != "" {
		return 1
	}
	return 0
}
