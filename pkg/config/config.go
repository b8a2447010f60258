package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultRelayHost         = "espsock.devtask.cn"
	DefaultRelayPort         = 8080
	DefaultConnectTimeout    = 5 * time.Second
	DefaultReadTimeout       = time.Second
	DefaultSteadyReadTimeout = 300 * time.Millisecond
	DefaultMaxMessageSize    = 1024
	DefaultClientType        = "app"
	DefaultWakeCommand       = "wol"
	DefaultDiscoverTimeout   = 3 * time.Second

	DefaultHeartbeatInterval = 20 * time.Second
	DefaultEnqueueTimeout    = 100 * time.Millisecond
	DefaultQueueSize         = 64

	DefaultRetryInterval = 30 * time.Second

	DefaultValidationHost = "espsock.devtask.cn"
	DefaultProbeTimeout   = 3 * time.Second

	DefaultBroadcastPort  = 9
	DefaultBroadcastRate  = 1.0
	DefaultBroadcastBurst = 3

	DefaultServerListen         = ":8080"
	DefaultServerMaxConnections = 1000
	DefaultServerIdleTimeout    = 30 * time.Second
	DefaultServerInstance       = "wol-relay"

	DefaultDevicesFile = "devices.json"
	DefaultLogLevel    = "info"
)

// DefaultInterfacePrefixes are the interface name prefixes searched for a
// subnet broadcast address.
var DefaultInterfacePrefixes = []string{"wlan", "eth", "tun"}

// ErrInvalid indicates a configuration value failed validation.
var ErrInvalid = errors.New("invalid configuration")

var framings = []string{"raw", "line", "length"}

var logLevels = []string{"debug", "info", "warn", "error"}

// LoadError describes a failure to read or parse a configuration file.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() error { return e.Cause }

// Config is the full client configuration.
type Config struct {
	Relay      RelayConfig      `yaml:"relay"`
	Session    SessionConfig    `yaml:"session"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Probe      ProbeConfig      `yaml:"probe"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`

	// Server configures the development relay (wol-relay).
	Server ServerConfig `yaml:"server"`

	// DevicesFile is the JSON device list.
	DevicesFile string `yaml:"devices_file"`

	// ProtocolLog is a .wlog capture path. Empty disables capture.
	ProtocolLog string `yaml:"protocol_log"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// RelayConfig locates and talks to the relay server.
type RelayConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	SteadyReadTimeout time.Duration `yaml:"steady_read_timeout"`
	Framing           string        `yaml:"framing"`
	MaxMessageSize    int           `yaml:"max_message_size"`

	// ClientType is sent as the envelope "type". Empty omits it.
	ClientType string `yaml:"client_type"`

	// WakeCommand is the cmd used to ask the relay to wake a device.
	WakeCommand string `yaml:"wake_command"`

	// Discover enables mDNS lookup of the relay before each connect.
	Discover        bool          `yaml:"discover"`
	DiscoverTimeout time.Duration `yaml:"discover_timeout"`

	// Interface restricts mDNS browsing to one interface.
	Interface string `yaml:"interface"`
}

// Address returns host:port.
func (r RelayConfig) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// SessionConfig tunes the session loop.
type SessionConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	EnqueueTimeout    time.Duration `yaml:"enqueue_timeout"`
	QueueSize         int           `yaml:"queue_size"`
}

// SupervisorConfig tunes the reconnect loop.
type SupervisorConfig struct {
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// ProbeConfig tunes the network availability check.
type ProbeConfig struct {
	// Disabled treats the network as always available.
	Disabled bool `yaml:"disabled"`

	ValidationHost string        `yaml:"validation_host"`
	Timeout        time.Duration `yaml:"timeout"`
}

// BroadcastConfig tunes local magic-packet sends.
type BroadcastConfig struct {
	Port              int      `yaml:"port"`
	InterfacePrefixes []string `yaml:"interface_prefixes"`

	// Rate is wakes per second. Zero disables limiting.
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// ServerConfig configures the development relay.
type ServerConfig struct {
	Listen         string        `yaml:"listen"`
	Framing        string        `yaml:"framing"`
	MaxConnections int           `yaml:"max_connections"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`

	// Advertise publishes the relay over mDNS.
	Advertise bool   `yaml:"advertise"`
	Instance  string `yaml:"instance"`
	Priority  int    `yaml:"priority"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			Host:              DefaultRelayHost,
			Port:              DefaultRelayPort,
			ConnectTimeout:    DefaultConnectTimeout,
			ReadTimeout:       DefaultReadTimeout,
			SteadyReadTimeout: DefaultSteadyReadTimeout,
			Framing:           "raw",
			MaxMessageSize:    DefaultMaxMessageSize,
			ClientType:        DefaultClientType,
			WakeCommand:       DefaultWakeCommand,
			DiscoverTimeout:   DefaultDiscoverTimeout,
		},
		Session: SessionConfig{
			HeartbeatInterval: DefaultHeartbeatInterval,
			EnqueueTimeout:    DefaultEnqueueTimeout,
			QueueSize:         DefaultQueueSize,
		},
		Supervisor: SupervisorConfig{
			RetryInterval: DefaultRetryInterval,
		},
		Probe: ProbeConfig{
			ValidationHost: DefaultValidationHost,
			Timeout:        DefaultProbeTimeout,
		},
		Broadcast: BroadcastConfig{
			Port:              DefaultBroadcastPort,
			InterfacePrefixes: append([]string(nil), DefaultInterfacePrefixes...),
			Rate:              DefaultBroadcastRate,
			Burst:             DefaultBroadcastBurst,
		},
		Server: ServerConfig{
			Listen:         DefaultServerListen,
			Framing:        "raw",
			MaxConnections: DefaultServerMaxConnections,
			IdleTimeout:    DefaultServerIdleTimeout,
			Instance:       DefaultServerInstance,
		},
		DevicesFile: DefaultDevicesFile,
		LogLevel:    DefaultLogLevel,
	}
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &LoadError{Message: "validation failed", Cause: err}
	}
	return cfg, nil
}

// Load reads and parses path. An empty path returns Default.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}

	cfg, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
		}
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s: %s", ErrInvalid, field, fmt.Sprintf(format, args...)))
	}

	if c.Relay.Host == "" {
		bad("relay.host", "must not be empty")
	}
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		bad("relay.port", "%d out of range", c.Relay.Port)
	}
	if c.Relay.ConnectTimeout <= 0 {
		bad("relay.connect_timeout", "must be positive")
	}
	if c.Relay.ReadTimeout <= 0 {
		bad("relay.read_timeout", "must be positive")
	}
	if c.Relay.SteadyReadTimeout <= 0 {
		bad("relay.steady_read_timeout", "must be positive")
	}
	if !contains(framings, c.Relay.Framing) {
		bad("relay.framing", "%q not one of %s", c.Relay.Framing, strings.Join(framings, ", "))
	}
	if c.Relay.MaxMessageSize <= 0 {
		bad("relay.max_message_size", "must be positive")
	}
	if c.Relay.WakeCommand == "" {
		bad("relay.wake_command", "must not be empty")
	}
	if c.Relay.Discover && c.Relay.DiscoverTimeout <= 0 {
		bad("relay.discover_timeout", "must be positive when discover is set")
	}

	if c.Session.HeartbeatInterval <= 0 {
		bad("session.heartbeat_interval", "must be positive")
	}
	if c.Session.EnqueueTimeout < 0 {
		bad("session.enqueue_timeout", "must not be negative")
	}
	if c.Session.QueueSize <= 0 {
		bad("session.queue_size", "must be positive")
	}

	if c.Supervisor.RetryInterval <= 0 {
		bad("supervisor.retry_interval", "must be positive")
	}

	if !c.Probe.Disabled && c.Probe.ValidationHost == "" {
		bad("probe.validation_host", "must not be empty")
	}

	if c.Broadcast.Port <= 0 || c.Broadcast.Port > 65535 {
		bad("broadcast.port", "%d out of range", c.Broadcast.Port)
	}
	if c.Broadcast.Rate < 0 {
		bad("broadcast.rate", "must not be negative")
	}
	if c.Broadcast.Burst < 0 {
		bad("broadcast.burst", "must not be negative")
	}

	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		bad("server.listen", "%v", err)
	}
	if !contains(framings, c.Server.Framing) {
		bad("server.framing", "%q not one of %s", c.Server.Framing, strings.Join(framings, ", "))
	}
	if c.Server.MaxConnections <= 0 {
		bad("server.max_connections", "must be positive")
	}
	if c.Server.IdleTimeout <= 0 {
		bad("server.idle_timeout", "must be positive")
	}
	if c.Server.Advertise && c.Server.Instance == "" {
		bad("server.instance", "must not be empty when advertise is set")
	}

	if c.DevicesFile == "" {
		bad("devices_file", "must not be empty")
	}
	if !contains(logLevels, strings.ToLower(c.LogLevel)) {
		bad("log_level", "%q not one of %s", c.LogLevel, strings.Join(logLevels, ", "))
	}

	return errors.Join(errs...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
