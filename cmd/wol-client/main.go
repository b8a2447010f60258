// Command wol-client wakes devices through a Wake-on-LAN relay.
//
// The client keeps a TCP session to the relay alive in the background,
// reconnecting every retry interval after a failure. Wake requests go to the
// relay when it is connected and fall back to a local magic-packet broadcast
// otherwise.
//
// Usage:
//
//	wol-client [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-relay string         Relay address host:port (overrides config)
//	-framing string       Relay framing: raw, line, length
//	-discover             Look up the relay via mDNS before each connect
//	-devices string       Device list file
//	-protocol-log string  Write a protocol capture (.wlog)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-no-probe             Skip the network availability check
//	-interactive          Enable interactive command mode when stdin is a terminal (default true)
//
// Examples:
//
//	# Interactive shell against the default relay
//	wol-client
//
//	# Use a local relay and capture the protocol for wol-log
//	wol-client -relay 192.168.1.2:8080 -framing line -protocol-log trace.wlog
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/lsp-wol/wol-go/cmd/wol-client/interactive"
	"github.com/lsp-wol/wol-go/pkg/config"
	"golang.org/x/term"
)

// Flags holds the command-line overrides.
type Flags struct {
	ConfigFile  string
	Relay       string
	Framing     string
	Discover    bool
	DevicesFile string
	ProtocolLog string
	LogLevel    string
	NoProbe     bool
	Interactive bool
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&flags.Relay, "relay", "", "Relay address host:port (overrides config)")
	flag.StringVar(&flags.Framing, "framing", "", "Relay framing: raw, line, length")
	flag.BoolVar(&flags.Discover, "discover", false, "Look up the relay via mDNS before each connect")
	flag.StringVar(&flags.DevicesFile, "devices", "", "Device list file")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Write a protocol capture (.wlog)")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error (default \"info\")")
	flag.BoolVar(&flags.NoProbe, "no-probe", false, "Skip the network availability check")
	flag.BoolVar(&flags.Interactive, "interactive", true, "Enable interactive command mode")
}

// applyFlags overlays command-line values on cfg and revalidates it.
func applyFlags(cfg *config.Config, f Flags) error {
	if f.Relay != "" {
		host, port, err := net.SplitHostPort(f.Relay)
		if err != nil {
			return fmt.Errorf("invalid -relay %q: %w", f.Relay, err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid -relay port %q", port)
		}
		cfg.Relay.Host = host
		cfg.Relay.Port = p
	}
	if f.Framing != "" {
		cfg.Relay.Framing = f.Framing
	}
	if f.Discover {
		cfg.Relay.Discover = true
	}
	if f.DevicesFile != "" {
		cfg.DevicesFile = f.DevicesFile
	}
	if f.ProtocolLog != "" {
		cfg.ProtocolLog = f.ProtocolLog
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.NoProbe {
		cfg.Probe.Disabled = true
	}
	return cfg.Validate()
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "wol-client: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return err
	}
	if err := applyFlags(cfg, flags); err != nil {
		return err
	}
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	// The readline instance must exist before the logger so log lines are
	// routed around the prompt.
	var logOut, out io.Writer = os.Stderr, os.Stdout
	var rl *readline.Instance
	interactiveMode := flags.Interactive && term.IsTerminal(int(os.Stdin.Fd()))
	if interactiveMode {
		rl, err = interactive.NewReadline()
		if err != nil {
			return err
		}
		logOut, out = rl.Stderr(), rl.Stdout()
	}

	logger := newLogger(logOut, level)
	if flags.Interactive && !interactiveMode {
		logger.Info("stdin is not a terminal, running without shell")
	}
	logger.Info("wol-client starting",
		"relay", cfg.Relay.Address(),
		"framing", cfg.Relay.Framing,
		"discover", cfg.Relay.Discover,
		"devices", cfg.DevicesFile)

	a, err := newApp(cfg, logger)
	if err != nil {
		if rl != nil {
			rl.Close()
		}
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.start(ctx, out)

	if rl != nil {
		shell := interactive.New(interactive.Deps{
			Registry:   a.store,
			Relay:      a.session,
			Supervisor: a.supervisor,
			Broadcast:  a.waker,
			Intents:    a.intents,
		}, rl)
		go shell.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	cancel()
	a.wait()
	return nil
}
