package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lsp-wol/wol-go/pkg/config"
	"github.com/lsp-wol/wol-go/pkg/discovery"
	"github.com/lsp-wol/wol-go/pkg/log"
	"github.com/lsp-wol/wol-go/pkg/relay"
	"github.com/lsp-wol/wol-go/pkg/transport"
)

// relayVersion is advertised in the TXT record.
const relayVersion = "1"

func run() error {
	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return err
	}
	if err := applyFlags(cfg, flags); err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.LogLevel))); err != nil {
		return fmt.Errorf("unknown log level %q (use: debug, info, warn, error)", cfg.LogLevel)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var plog log.Logger
	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return fmt.Errorf("open protocol log: %w", err)
		}
		defer func() {
			if err := fl.Close(); err != nil {
				logger.Warn("closing protocol log", "error", err)
			}
		}()
		plog = fl
		logger.Info("protocol logging enabled", "file", cfg.ProtocolLog)
	}

	hub, err := relay.New(hubConfig(cfg, logger, plog))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := hub.Start(ctx); err != nil {
		return err
	}
	defer hub.Stop()

	if cfg.Server.Advertise {
		adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{
			Interface: cfg.Relay.Interface,
			Logger:    logger,
		})
		err := adv.Advertise(discovery.RelayInfo{
			InstanceName: cfg.Server.Instance,
			Port:         hub.Port(),
			Version:      relayVersion,
			Priority:     cfg.Server.Priority,
		})
		if err != nil {
			logger.Warn("mDNS advertisement failed, continuing without it", "error", err)
		} else {
			defer adv.Stop()
		}
	}

	if flags.StatusInterval > 0 {
		go reportStats(ctx, hub, logger, flags.StatusInterval)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())
	return nil
}

func hubConfig(cfg *config.Config, logger *slog.Logger, plog log.Logger) relay.Config {
	return relay.Config{
		Address:        cfg.Server.Listen,
		Framing:        transport.Framing(cfg.Server.Framing),
		MaxMessageSize: cfg.Relay.MaxMessageSize,
		MaxConnections: cfg.Server.MaxConnections,
		IdleTimeout:    cfg.Server.IdleTimeout,
		Logger:         logger,
		ProtocolLog:    plog,
	}
}

func reportStats(ctx context.Context, hub *relay.Hub, logger *slog.Logger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := hub.Stats()
			logger.Info("relay status",
				"connections", s.Connections,
				"apps", s.Apps,
				"agents", s.Agents,
				"wake_requests", s.WakeRequests,
				"wakes_relayed", s.WakesRelayed,
				"receipts", s.Receipts,
				"malformed", s.Malformed)
		}
	}
}
