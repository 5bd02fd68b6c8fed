package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gerber4/searchbuddy/internal/config"
	"github.com/gerber4/searchbuddy/internal/discovery"
	"github.com/gerber4/searchbuddy/internal/instance"
	"github.com/gerber4/searchbuddy/internal/store"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

func main() {
	cfg, err := config.LoadChatroom()
	if err != nil {
		slog.Error("load configuration", "err", err)
		os.Exit(1)
	}
	level := config.SlogLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("starting chatroom instance", "version", Version, "listen_address", cfg.ListenAddress, "discovery", cfg.DiscoveryAddress)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	var chats store.ChatStore
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, chat history is in-memory only")
		chats = store.NewMemoryChatStore()
	} else {
		chats, err = store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("open postgres store", "err", err)
			os.Exit(1)
		}
	}
	defer chats.Close()

	registry := instance.NewRegistry(chats)
	defer registry.Close()

	disc := discovery.NewClient(cfg.DiscoveryAddress)
	heartbeat, err := instance.Register(ctx, disc, cfg.ListenAddress)
	if err != nil {
		slog.Error("join fabric", "err", err)
		os.Exit(1)
	}

	// A lost lease means discovery may already have rebound this
	// instance's terms elsewhere. Stop serving rather than split rooms.
	leaseLost := make(chan error, 1)
	go func() {
		if err := heartbeat.Run(ctx); err != nil {
			leaseLost <- err
			cancel()
		}
	}()

	server := instance.NewServer(registry, cfg.ConnRate, cfg.ConnBurst)
	slog.Info("listening", "addr", cfg.ListenAddress)
	if err := server.Run(ctx, cfg.ListenAddress); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	select {
	case err := <-leaseLost:
		slog.Error("exiting without lease", "err", err)
		os.Exit(1)
	default:
	}
	slog.Info("chatroom instance stopped")
}
