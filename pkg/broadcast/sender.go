package broadcast

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/lsp-wol/wol-go/pkg/magic"
)

// LimitedBroadcast is the all-ones IPv4 broadcast address.
const LimitedBroadcast = "255.255.255.255"

// DefaultWriteTimeout bounds a single datagram write.
const DefaultWriteTimeout = 2 * time.Second

// DialFunc opens a datagram connection to addr ("host:port").
type DialFunc func(network, addr string) (net.Conn, error)

// AddressFinder locates a subnet broadcast address. Implemented by Finder.
type AddressFinder interface {
	BroadcastAddress() (net.IP, bool)
}

// Result is the outcome of one datagram send.
type Result struct {
	Target string
	Bytes  int
	Err    error
}

// SenderConfig configures a Sender.
type SenderConfig struct {
	// Port is the UDP destination port (default: 9).
	Port int

	// WriteTimeout bounds each write (default: 2s).
	WriteTimeout time.Duration

	// Finder locates the subnet broadcast address. Nil uses NewFinder(nil, nil).
	Finder AddressFinder

	// Dial opens datagram sockets. Nil uses net.Dial.
	Dial DialFunc

	// Logger for send outcomes. Nil uses slog.Default().
	Logger *slog.Logger
}

// Sender emits a payload to the subnet and limited broadcast addresses.
type Sender struct {
	config SenderConfig
}

// NewSender creates a sender with defaults applied.
func NewSender(config SenderConfig) *Sender {
	if config.Port == 0 {
		config.Port = magic.DefaultPort
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.Finder == nil {
		config.Finder = NewFinder(nil, nil)
	}
	if config.Dial == nil {
		config.Dial = net.Dial
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Sender{config: config}
}

// Targets returns the destination addresses in send order.
func (s *Sender) Targets() []string {
	port := strconv.Itoa(s.config.Port)
	var targets []string
	if ip, ok := s.config.Finder.BroadcastAddress(); ok {
		targets = append(targets, net.JoinHostPort(ip.String(), port))
	}
	return append(targets, net.JoinHostPort(LimitedBroadcast, port))
}

// Send writes payload to every target. A failure on one target does not
// prevent the next from being attempted.
func (s *Sender) Send(payload []byte) []Result {
	targets := s.Targets()
	results := make([]Result, 0, len(targets))
	for _, target := range targets {
		n, err := s.sendTo(target, payload)
		if err != nil {
			s.config.Logger.Warn("magic packet send failed", "target", target, "error", err)
		} else {
			s.config.Logger.Info("magic packet sent", "target", target, "bytes", n)
		}
		results = append(results, Result{Target: target, Bytes: n, Err: err})
	}
	return results
}

func (s *Sender) sendTo(target string, payload []byte) (int, error) {
	conn, err := s.config.Dial("udp4", target)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
		return 0, fmt.Errorf("set deadline: %w", err)
	}
	n, err := conn.Write(payload)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", target, err)
	}
	return n, nil
}
