package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gerber4/searchbuddy/internal/config"
	"github.com/gerber4/searchbuddy/internal/discovery"
	"github.com/gerber4/searchbuddy/internal/store"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

func main() {
	cfg, err := config.LoadDiscovery()
	if err != nil {
		slog.Error("load configuration", "err", err)
		os.Exit(1)
	}
	level := config.SlogLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("starting discovery service", "version", Version, "addr", cfg.ListenAddress)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	var st store.DirectoryStore
	if cfg.ScyllaURL == "" {
		slog.Warn("SCYLLA_URL not set, directory is in-memory only")
		st = store.NewMemoryDirectoryStore()
	} else {
		st, err = store.OpenScylla(ctx, cfg.ScyllaURL)
		if err != nil {
			slog.Error("open scylla store", "err", err)
			os.Exit(1)
		}
	}
	defer st.Close()

	server := discovery.NewServer(discovery.NewDirectory(st))
	slog.Info("listening", "addr", cfg.ListenAddress)
	if err := server.Run(ctx, cfg.ListenAddress); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("discovery service stopped")
}
