package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"coffer/internal/core"
)

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Ignoring invalid duration", "env", key, "value", value, "err", err)
		return defaultValue
	}
	return d
}

func Run(ctx context.Context) error {

	listen := flag.String("listen", getEnv("COFFER_LISTEN", ":9000"), "HTTP listen address")
	dataDir := flag.String("data-dir", getEnv("COFFER_DATA_DIR", "./data"), "directory holding the catalog and object payloads")
	region := flag.String("region", getEnv("COFFER_REGION", core.DefaultRegion), "region reported to S3 clients")
	checkInterval := flag.Duration("check-interval", getEnvDuration("COFFER_CHECK_INTERVAL", core.DefaultCheckInterval), "interval between consistency scans (0 disables them)")
	logLevel := flag.String("log-level", getEnv("COFFER_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")

	flag.Parse()

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           level,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    level == log.DebugLevel,
	})

	slog.SetDefault(slog.New(handler))

	// Ensure data directory is absolute for easier debugging.
	absDataDir, err := filepath.Abs(*dataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}

	cfg := core.NewConfig(
		core.WithDataDir(absDataDir),
		core.WithRegion(*region),
		core.WithCheckInterval(*checkInterval),
	)

	server, err := core.NewServer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create coffer server: %w", err)
	}

	defer server.Close()

	httpServer := &http.Server{
		Addr:              *listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		return server.Checker.Run(ctx)
	})

	eg.Go(func() error {
		slog.Info("Starting Coffer HTTP server", "listen", *listen, "data_dir", absDataDir)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	slog.Info("Coffer Started")
	return eg.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx); err != nil {
		slog.Error("Coffer exited with error", "error", err)
		os.Exit(1)
	}
}
