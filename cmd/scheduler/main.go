// Command obscore-scheduler runs the planning, lease reclamation and
// archive loop against a shared store without serving HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/me/obscore/internal/archive"
	"github.com/me/obscore/internal/config"
	"github.com/me/obscore/internal/logging"
	"github.com/me/obscore/internal/metrics"
	"github.com/me/obscore/internal/scheduler"
	"github.com/me/obscore/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML config file")
	dbPath := flag.String("db", "", "Database path (overrides store.path)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "Log format (text, json)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	once := flag.Bool("once", false, "Run a single tick and exit")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *debug {
		cfg.Log.Level = "debug"
	}

	logger := logging.NewLogger("obscore-scheduler", logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewSQLiteStore(cfg.Store.Path, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}

	sink, err := cfg.ArchiveSink(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "archive sink: %v\n", err)
		os.Exit(1)
	}
	var archiver scheduler.Archiver
	if sink != nil {
		archiver = archive.New(st, sink, cfg.Archive.Batch, logger)
	}

	sched := scheduler.New(st, cfg.SchedulerConfig(), metrics.NewCollector(prometheus.DefaultRegisterer), logger)
	loop := scheduler.NewLoop(sched, archiver, logger)

	if *once {
		if err := loop.Tick(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "tick: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := loop.Start(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "scheduler error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("scheduler stopped")
}
