// Command obscore-validator sweeps candidate results against a shared
// store without serving HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/me/obscore/internal/config"
	"github.com/me/obscore/internal/logging"
	"github.com/me/obscore/internal/metrics"
	"github.com/me/obscore/internal/store"
	"github.com/me/obscore/internal/validator"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML config file")
	dbPath := flag.String("db", "", "Database path (overrides store.path)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "Log format (text, json)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	once := flag.Bool("once", false, "Run a single sweep and exit")
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

	logger := logging.NewLogger("obscore-validator", logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)

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

	val := validator.New(st, cfg.ValidatorConfig(), metrics.NewCollector(prometheus.DefaultRegisterer), logger)

	if *once {
		sum, err := val.Sweep(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sweep: %v\n", err)
			os.Exit(1)
		}
		logger.Info("sweep finished", "examined", sum.Examined, "validated", sum.Validated,
			"rejected", sum.Rejected, "deferred", sum.Deferred)
		return
	}

	if err := validator.NewLoop(val, logger).Start(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "validator error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("validator stopped")
}
