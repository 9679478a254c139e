package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/me/obscore/internal/archive"
	"github.com/me/obscore/internal/config"
	"github.com/me/obscore/internal/logging"
	"github.com/me/obscore/internal/metrics"
	"github.com/me/obscore/internal/scheduler"
	"github.com/me/obscore/internal/server"
	"github.com/me/obscore/internal/store"
	"github.com/me/obscore/internal/validator"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML config file")
	addr := flag.String("addr", "", "Listen address (overrides server.addr)")
	dbPath := flag.String("db", "", "Database path (overrides store.path)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "Log format (text, json)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	embed := flag.Bool("embed-loops", false, "Run the scheduler and validator loops in this process")
	workerKeyFile := flag.String("worker-keys", "", "Path to worker keys JSON file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
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
	if *embed {
		cfg.Server.EmbedLoops = true
	}

	logger := logging.NewLogger("obscore-server", logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)

	st, err := store.NewSQLiteStore(cfg.Store.Path, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("database ready", "path", cfg.Store.Path)

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	sched := scheduler.New(st, cfg.SchedulerConfig(), collector, logger)
	val := validator.New(st, cfg.ValidatorConfig(), collector, logger)

	serverOpts := []server.Option{server.WithMetrics(collector)}

	if token := os.Getenv("OBSCORE_ADMIN_TOKEN"); token != "" {
		serverOpts = append(serverOpts, server.WithAdminToken(token))
		logger.Info("admin token authentication enabled")
	}

	workerKeyConfig := server.LoadWorkerKeyConfig(*workerKeyFile)
	if workerKeyConfig.IsEnabled() {
		serverOpts = append(serverOpts, server.WithWorkerKeys(workerKeyConfig))
		logger.Info("worker key authentication enabled", "keys", len(workerKeyConfig.Keys))
	}

	var loops []scheduler.Runner
	if cfg.Server.EmbedLoops {
		sink, err := cfg.ArchiveSink(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "archive sink: %v\n", err)
			os.Exit(1)
		}
		var archiver scheduler.Archiver
		if sink != nil {
			archiver = archive.New(st, sink, cfg.Archive.Batch, logger)
			logger.Info("archiving enabled", "sink", cfg.Archive.Sink)
		}
		loops = append(loops, scheduler.NewLoop(sched, archiver, logger), validator.NewLoop(val, logger))
		serverOpts = append(serverOpts, server.WithLoops(loops...))
	}

	srv := server.New(cfg.Server, st, sched, val, logger, serverOpts...)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv.StartLoops(ctx)

	go func() {
		logger.Info("server starting", "addr", cfg.Server.Addr, "embed_loops", cfg.Server.EmbedLoops)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
