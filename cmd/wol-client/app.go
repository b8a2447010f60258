package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/lsp-wol/wol-go/pkg/broadcast"
	"github.com/lsp-wol/wol-go/pkg/config"
	"github.com/lsp-wol/wol-go/pkg/connection"
	"github.com/lsp-wol/wol-go/pkg/device"
	"github.com/lsp-wol/wol-go/pkg/discovery"
	"github.com/lsp-wol/wol-go/pkg/log"
	"github.com/lsp-wol/wol-go/pkg/netprobe"
	"github.com/lsp-wol/wol-go/pkg/notify"
	"github.com/lsp-wol/wol-go/pkg/persistence"
	"github.com/lsp-wol/wol-go/pkg/session"
	"github.com/lsp-wol/wol-go/pkg/transport"
)

// notificationBuffer bounds undisplayed relay notices.
const notificationBuffer = 32

// app holds the running client components.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *persistence.DeviceStore
	session    *session.Session
	supervisor *connection.Supervisor
	waker      *broadcast.Waker
	notices    *notify.ChannelSink
	intents    chan device.Intent
	handler    *intentHandler

	protocolLog *log.FileLogger

	wg sync.WaitGroup
}

// parseLevel maps a -log-level value to a slog level.
func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return 0, fmt.Errorf("unknown log level %q (use: debug, info, warn, error)", s)
	}
	return level, nil
}

// newLogger builds the text handler logger used by every component.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// newApp wires the components described by cfg. Nothing runs until start.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		store:   persistence.NewDeviceStore(cfg.DevicesFile),
		notices: notify.NewChannelSink(notificationBuffer),
		intents: make(chan device.Intent, 8),
	}

	protoLogger, err := a.protocolLogger()
	if err != nil {
		return nil, err
	}

	var resolver session.Resolver
	if cfg.Relay.Discover {
		browser := discovery.NewBrowser(discovery.BrowserConfig{
			BrowseTimeout: cfg.Relay.DiscoverTimeout,
			Interface:     cfg.Relay.Interface,
			Logger:        logger.With("component", "discovery"),
		})
		resolver = discovery.NewResolver(browser)
	}

	a.session, err = session.New(session.Config{
		Address:  cfg.Relay.Address(),
		Resolver: resolver,
		Transport: transport.ClientConfig{
			ConnectTimeout: cfg.Relay.ConnectTimeout,
			MaxMessageSize: cfg.Relay.MaxMessageSize,
			Framing:        transport.Framing(cfg.Relay.Framing),
		},
		InitialReadTimeout: cfg.Relay.ReadTimeout,
		ReadTimeout:        cfg.Relay.SteadyReadTimeout,
		HeartbeatInterval:  cfg.Session.HeartbeatInterval,
		EnqueueTimeout:     cfg.Session.EnqueueTimeout,
		QueueSize:          cfg.Session.QueueSize,
		ClientType:         cfg.Relay.ClientType,
		Sink:               a.notices,
		Logger:             logger,
		ProtocolLogger:     protoLogger,
	})
	if err != nil {
		a.closeProtocolLog()
		return nil, fmt.Errorf("create session: %w", err)
	}

	var prober connection.Prober
	if !cfg.Probe.Disabled {
		prober = netprobe.New(netprobe.Config{
			ValidationHost: cfg.Probe.ValidationHost,
			Timeout:        cfg.Probe.Timeout,
			Logger:         logger,
		})
	}
	a.supervisor = connection.NewSupervisor(a.session, prober, connection.Config{
		RetryInterval:  cfg.Supervisor.RetryInterval,
		Sink:           a.notices,
		Logger:         logger,
		ProtocolLogger: protoLogger,
	})

	sender := broadcast.NewSender(broadcast.SenderConfig{
		Port:   cfg.Broadcast.Port,
		Finder: broadcast.NewFinder(cfg.Broadcast.InterfacePrefixes, nil),
		Logger: logger.With("component", "broadcast"),
	})
	a.waker = broadcast.NewWaker(broadcast.WakerConfig{
		Rate:   cfg.Broadcast.Rate,
		Burst:  cfg.Broadcast.Burst,
		Logger: logger.With("component", "waker"),
	}, sender)

	a.handler = &intentHandler{
		relay:     a.session,
		broadcast: a.waker,
		command:   cfg.Relay.WakeCommand,
		sink:      a.notices,
		logger:    logger.With("component", "intents"),
	}
	return a, nil
}

// protocolLogger opens the capture file and, at debug level, mirrors
// protocol events to slog.
func (a *app) protocolLogger() (log.Logger, error) {
	var loggers []log.Logger
	if a.cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(a.cfg.ProtocolLog)
		if err != nil {
			return nil, fmt.Errorf("open protocol log: %w", err)
		}
		a.protocolLog = fl
		loggers = append(loggers, fl)
	}
	if a.logger.Enabled(context.Background(), slog.LevelDebug) {
		loggers = append(loggers, log.NewSlogAdapter(a.logger.With("component", "protocol")).WithLevel(slog.LevelDebug))
	}

	switch len(loggers) {
	case 0:
		return nil, nil
	case 1:
		return loggers[0], nil
	default:
		return log.NewMultiLogger(loggers...), nil
	}
}

// start launches the supervisor, waker and intent dispatcher. Notices are
// written to out.
func (a *app) start(ctx context.Context, out io.Writer) {
	a.waker.Start(ctx)

	a.wg.Add(3)
	go func() {
		defer a.wg.Done()
		_ = a.supervisor.Run(ctx)
	}()
	go func() {
		defer a.wg.Done()
		device.Dispatch(ctx, a.intents, a.handler)
	}()
	go func() {
		defer a.wg.Done()
		drainNotices(ctx, a.notices.C(), out)
	}()
}

// wait blocks until background goroutines exit, then releases resources.
func (a *app) wait() {
	a.wg.Wait()
	a.waker.Close()
	a.closeProtocolLog()
}

func (a *app) closeProtocolLog() {
	if a.protocolLog == nil {
		return
	}
	if n := a.protocolLog.Dropped(); n > 0 {
		a.logger.Warn("protocol log dropped events", "count", n)
	}
	if err := a.protocolLog.Close(); err != nil {
		a.logger.Warn("close protocol log", "error", err)
	}
}

// drainNotices prints relay notices until ctx is done.
func drainNotices(ctx context.Context, ch <-chan notify.Notification, out io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-ch:
			fmt.Fprintln(out, formatNotice(n))
		}
	}
}

func formatNotice(n notify.Notification) string {
	ts := n.Time.Format("15:04:05")
	if n.Kind == notify.KindModal {
		return fmt.Sprintf("[%s] *** %s ***", ts, notify.ModalText(n.Text))
	}
	return fmt.Sprintf("[%s] %s", ts, n.Text)
}
