package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/me/obscore/internal/logging"
	"github.com/me/obscore/internal/worker"
)

func main() {
	var cfg worker.Config

	// Server connection flags.
	flag.StringVar(&cfg.ServerURL, "server", envOr("OBSCORE_SERVER", "http://localhost:8080"), "obscore server URL")
	flag.StringVar(&cfg.WorkerKey, "worker-key", os.Getenv("OBSCORE_WORKER_KEY"), "Worker key sent as X-Worker-Key")
	flag.StringVar(&cfg.Name, "name", "", "Worker ID (default: hostname plus a random suffix)")
	modules := flag.String("modules", "", "Comma-separated module IDs to run (default: any)")
	flag.StringVar(&cfg.Key, "key", "", "Only run slices for this partition key")
	flag.StringVar(&cfg.Runtime, "runtime", "none", "Container runtime (docker, none)")
	flag.StringVar(&cfg.Image, "image", "", "Container image for the docker runtime")
	flag.StringVar(&cfg.WorkDir, "workdir", "", "Local working directory (default: $TMPDIR/obscore-worker)")
	flag.DurationVar(&cfg.Poll, "poll", 5*time.Second, "Poll interval")

	// TLS flags.
	var caCert string
	var insecure bool
	flag.StringVar(&caCert, "ca-cert", "", "Path to CA certificate PEM file for internal PKI")
	flag.BoolVar(&insecure, "insecure", false, "Skip TLS verification (testing only)")

	// Logging flags.
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "text", "Log format (text, json)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	if *debug {
		*logLevel = "debug"
	}

	logger := logging.NewLogger("obscore-worker", logging.ParseLevel(*logLevel), *logFormat)

	for _, m := range strings.Split(*modules, ",") {
		if m = strings.TrimSpace(m); m != "" {
			cfg.Modules = append(cfg.Modules, m)
		}
	}

	if caCert != "" || insecure {
		tlsCfg, err := loadTLS(caCert, insecure)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tls: %v\n", err)
			os.Exit(1)
		}
		cfg.TLS = tlsCfg
	}

	w, err := worker.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init worker: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting worker",
		"id", w.ID(),
		"server", cfg.ServerURL,
		"runtime", cfg.Runtime,
		"poll", cfg.Poll,
	)

	if err := w.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "worker error: %v\n", err)
		os.Exit(1)
	}

	logger.Info("worker stopped")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func loadTLS(caCert string, insecure bool) (*tls.Config, error) {
	cfg := &tls.Config{InsecureSkipVerify: insecure}
	if caCert == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(caCert)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", caCert)
	}
	cfg.RootCAs = pool
	return cfg, nil
}
