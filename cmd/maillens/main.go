package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maillens/maillens/config"
	"github.com/maillens/maillens/consts"
	"github.com/maillens/maillens/db"
	"github.com/maillens/maillens/ingest"
	"github.com/maillens/maillens/logger"
	"github.com/maillens/maillens/server/httpapi"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg := config.NewDefaultConfig()

	showVersion := flag.Bool("version", false, "Show version information and exit")
	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")
	dbPath := flag.String("db", "", "Path to the SQLite store (overrides config)")
	addr := flag.String("addr", "", "HTTP API listen address (overrides config)")
	ingestPath := flag.String("ingest", "", "Ingest the given folder and exit instead of serving")
	ingestLimit := flag.Int("limit", 0, "Maximum number of files to ingest with -ingest (0 = no limit)")
	dbLogQueries := flag.Bool("dblogqueries", false, "Log all store queries (overrides config)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("maillens version %s (commit: %s, built at: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if err := config.LoadConfigFromFile(*configPath, &cfg); err != nil {
		if os.IsNotExist(err) {
			if *configPath != "config.toml" {
				fmt.Fprintf(os.Stderr, "MAILLENS: configuration file '%s' not found\n", *configPath)
				os.Exit(1)
			}
			// Default config missing is fine, run on defaults.
		} else {
			fmt.Fprintf(os.Stderr, "MAILLENS: error loading configuration: %v\n", err)
			os.Exit(1)
		}
	}

	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "MAILLENS: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "MAILLENS: warning initializing logger: %v\n", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	logger.Info("maillens starting", "version", version, "commit", commit, "built", date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	busyTimeout, err := cfg.Database.GetBusyTimeout()
	if err != nil {
		logger.Fatal("invalid database.busy_timeout", "error", err)
	}

	database, err := db.NewDatabase(ctx, cfg.Database.Path, busyTimeout)
	if err != nil {
		logger.Fatal("failed to open store", "path", cfg.Database.Path, "error", err)
	}
	defer database.Close()
	database.SetLogQueries(cfg.Database.LogQueries || *dbLogQueries)

	runner, err := ingest.NewRunner(database, cfg.Ingest)
	if err != nil {
		logger.Fatal("failed to create ingest runner", "error", err)
	}

	if *ingestPath != "" {
		runOnce(ctx, runner, *ingestPath, *ingestLimit)
		return
	}

	errChan := make(chan error, 1)
	go httpapi.Start(ctx, database, runner, httpapi.ServerOptions{
		Addr:         cfg.HTTP.Addr,
		APIKey:       cfg.HTTP.APIKey,
		AllowedHosts: cfg.HTTP.AllowedHosts,
	}, errChan)

	select {
	case <-ctx.Done():
		logger.Info("maillens stopped")
	case err := <-errChan:
		logger.Fatal("server failed", "error", err)
	}
}

// runOnce drives one ingestion job to completion in the foreground, for
// one-shot CLI use without the HTTP API.
func runOnce(ctx context.Context, runner *ingest.Runner, path string, limit int) {
	if err := runner.Start(path, limit); err != nil {
		logger.Fatal("failed to start ingestion", "path", path, "error", err)
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	ctxDone := ctx.Done()
	for runner.Running() {
		select {
		case <-ctxDone:
			ctxDone = nil
			if err := runner.Cancel(); err != nil && err != consts.ErrIngestNotRunning {
				logger.Error("failed to cancel ingestion", "error", err)
			}
		case <-ticker.C:
			p := runner.Progress()
			logger.Info("ingest progress", "processed", p.Processed, "total", p.Total,
				"inserted", p.Inserted, "skipped", p.Skipped)
		}
	}

	p := runner.Progress()
	logger.Info("ingestion finished", "state", p.State,
		"processed", p.Processed, "inserted", p.Inserted, "skipped", p.Skipped, "error", p.Error)
	if p.State == ingest.StateError {
		os.Exit(1)
	}
}
