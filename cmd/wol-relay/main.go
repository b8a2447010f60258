// Command wol-relay runs a development Wake-on-LAN relay.
//
// It speaks the same JSON protocol as the deployed relay: apps send wake
// commands, LAN agents receive them and answer with receipts. Use it to run
// wol-client against a local relay, optionally advertised over mDNS so the
// client can find it with -discover.
//
// Usage:
//
//	wol-relay [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML, server section)
//	-listen string        Listen address (default ":8080")
//	-framing string       Stream framing: raw, line, length
//	-advertise            Advertise the relay over mDNS
//	-instance string      mDNS instance name
//	-priority int         mDNS priority (lower is preferred)
//	-interface string     Advertise on one network interface only
//	-protocol-log string  Write a protocol capture (.wlog)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-status duration      Log relay statistics at this interval (0 disables)
//
// Examples:
//
//	# Line-framed relay advertised on the LAN
//	wol-relay -framing line -advertise
//
//	# Capture everything the relay sees
//	wol-relay -protocol-log relay.wlog -log-level debug
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/lsp-wol/wol-go/pkg/config"
)

// Flags holds the command-line overrides.
type Flags struct {
	ConfigFile     string
	Listen         string
	Framing        string
	Advertise      bool
	Instance       string
	Priority       int
	Interface      string
	ProtocolLog    string
	LogLevel       string
	StatusInterval time.Duration
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path (YAML, server section)")
	flag.StringVar(&flags.Listen, "listen", "", "Listen address (default \":8080\")")
	flag.StringVar(&flags.Framing, "framing", "", "Stream framing: raw, line, length")
	flag.BoolVar(&flags.Advertise, "advertise", false, "Advertise the relay over mDNS")
	flag.StringVar(&flags.Instance, "instance", "", "mDNS instance name")
	flag.IntVar(&flags.Priority, "priority", -1, "mDNS priority (lower is preferred)")
	flag.StringVar(&flags.Interface, "interface", "", "Advertise on one network interface only")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Write a protocol capture (.wlog)")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error (default \"info\")")
	flag.DurationVar(&flags.StatusInterval, "status", time.Minute, "Log relay statistics at this interval (0 disables)")
}

// applyFlags overlays command-line values on cfg and revalidates it.
func applyFlags(cfg *config.Config, f Flags) error {
	if f.Listen != "" {
		cfg.Server.Listen = f.Listen
	}
	if f.Framing != "" {
		cfg.Server.Framing = f.Framing
	}
	if f.Advertise {
		cfg.Server.Advertise = true
	}
	if f.Instance != "" {
		cfg.Server.Instance = f.Instance
	}
	if f.Priority >= 0 {
		cfg.Server.Priority = f.Priority
	}
	if f.Interface != "" {
		cfg.Relay.Interface = f.Interface
	}
	if f.ProtocolLog != "" {
		cfg.ProtocolLog = f.ProtocolLog
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	return cfg.Validate()
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "wol-relay: %v\n", err)
		os.Exit(1)
	}
}
