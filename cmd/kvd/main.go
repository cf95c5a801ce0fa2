// kvd is the cluso-kv server daemon: it loads the configuration, opens the
// storage engine, and serves the HTTP API until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-kv/pkg/api"
	"github.com/dd0wney/cluso-kv/pkg/config"
	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/lsm"
	"github.com/dd0wney/cluso-kv/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults apply when empty)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(cfg.LogLevel))
	registry := metrics.DefaultRegistry()

	opts := lsm.DefaultOptions(cfg.DataDir)
	opts.MemtableBytes = cfg.MemtableBytes
	opts.CachePolicy = cfg.Cache.Policy
	opts.CacheCapacity = cfg.Cache.Capacity
	opts.Workers = cfg.Workers
	opts.Logger = logger.With(logging.String("component", "engine"))
	opts.Metrics = registry

	open := lsm.Open
	if cfg.Wipe {
		open = lsm.New
	}
	store, err := open(opts)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	server := api.NewServer(store, api.Options{
		Addr:      cfg.Server.Addr,
		JWTSecret: cfg.Server.JWTSecret,
		Logger:    logger.With(logging.String("component", "api")),
		Metrics:   registry,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", logging.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", logging.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http shutdown failed", logging.Error(err))
	}
	if err := store.Close(); err != nil {
		logger.Error("store close failed", logging.Error(err))
	}
	logger.Info("bye")
}
