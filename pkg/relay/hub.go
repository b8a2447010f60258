package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/lsp-wol/wol-go/pkg/log"
	"github.com/lsp-wol/wol-go/pkg/transport"
	"github.com/lsp-wol/wol-go/pkg/wire"
)

// ErrUnknownClientType is reported for a message whose type is neither app
// nor agent.
var ErrUnknownClientType = errors.New("unknown client type")

// Config configures a Hub.
type Config struct {
	// Address to listen on (default: ":8080").
	Address string

	// Framing selects the stream framing (default: raw).
	Framing transport.Framing

	MaxMessageSize int
	MaxConnections int

	// IdleTimeout drops a client that sends nothing, heartbeats included,
	// for this long (default: 30s).
	IdleTimeout time.Duration

	// Logger for operational logging (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLog receives frame, envelope and state events (optional).
	ProtocolLog log.Logger

	// Now returns the time stamped into heartbeat replies.
	Now func() time.Time
}

// Stats counts relayed traffic.
type Stats struct {
	Connections   int
	Apps          int
	Agents        int
	WakeRequests  uint64
	WakesRelayed  uint64
	Receipts      uint64
	Disconnects   uint64
	Rejected      uint64
	Malformed     uint64
	HeartbeatsIn  uint64
	HeartbeatsOut uint64
}

// ClientInfo describes one connected client.
type ClientInfo struct {
	ConnID   string
	Type     string
	Host     string
	Remote   string
	LastSeen time.Time
}

// Hub routes wake commands from apps to agents and receipts back.
type Hub struct {
	config Config
	logger *slog.Logger
	plog   log.Logger
	server *transport.Server

	wakeRequests  atomic.Uint64
	wakesRelayed  atomic.Uint64
	receipts      atomic.Uint64
	disconnects   atomic.Uint64
	rejected      atomic.Uint64
	malformed     atomic.Uint64
	heartbeatsIn  atomic.Uint64
	heartbeatsOut atomic.Uint64
}

// New creates a hub and its listener configuration. Call Start to listen.
func New(config Config) (*Hub, error) {
	if config.Now == nil {
		config.Now = time.Now
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		config: config,
		logger: logger.With("component", "relay"),
		plog:   log.OrNoop(config.ProtocolLog),
	}

	server, err := transport.NewServer(transport.ServerConfig{
		Address:        config.Address,
		Framing:        config.Framing,
		MaxMessageSize: config.MaxMessageSize,
		MaxConnections: config.MaxConnections,
		IdleTimeout:    config.IdleTimeout,
		Logger:         config.ProtocolLog,
		OnConnect:      h.onConnect,
		OnDisconnect:   h.onDisconnect,
		OnMessage:      h.onMessage,
		OnError:        h.onError,
	})
	if err != nil {
		return nil, err
	}
	h.server = server
	return h, nil
}

// Start listens and serves until Stop or ctx is done.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.server.Start(ctx); err != nil {
		return err
	}
	h.logger.Info("relay listening", "addr", h.server.Addr())
	return nil
}

// Stop closes every client and the listener.
func (h *Hub) Stop() error {
	return h.server.Stop()
}

// Addr returns the listen address.
func (h *Hub) Addr() net.Addr {
	return h.server.Addr()
}

// Port returns the listen port, or 0 before Start.
func (h *Hub) Port() uint16 {
	if tcp, ok := h.server.Addr().(*net.TCPAddr); ok {
		return uint16(tcp.Port)
	}
	return 0
}

// Clients returns a snapshot of the connected clients.
func (h *Hub) Clients() []ClientInfo {
	conns := h.server.Connections()
	out := make([]ClientInfo, 0, len(conns))
	for _, c := range conns {
		out = append(out, ClientInfo{
			ConnID:   c.ConnID(),
			Type:     c.ClientType(),
			Host:     c.Host(),
			Remote:   c.RemoteAddr().String(),
			LastSeen: c.LastSeen(),
		})
	}
	return out
}

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	s := Stats{
		WakeRequests:  h.wakeRequests.Load(),
		WakesRelayed:  h.wakesRelayed.Load(),
		Receipts:      h.receipts.Load(),
		Disconnects:   h.disconnects.Load(),
		Rejected:      h.rejected.Load(),
		Malformed:     h.malformed.Load(),
		HeartbeatsIn:  h.heartbeatsIn.Load(),
		HeartbeatsOut: h.heartbeatsOut.Load(),
	}
	for _, c := range h.server.Connections() {
		s.Connections++
		switch c.ClientType() {
		case wire.ClientTypeApp:
			s.Apps++
		case wire.ClientTypeAgent:
			s.Agents++
		}
	}
	return s
}

func (h *Hub) onConnect(c *transport.ServerConn) {
	h.logger.Info("client connected", "conn", c.ConnID(), "remote", c.RemoteAddr())
	if err := h.send(c, wire.Envelope{Cmd: wire.CmdNetworkAddress, Data: c.RemoteHost()}); err != nil {
		h.logger.Warn("send address failed", "conn", c.ConnID(), "error", err)
		c.Close()
	}
}

func (h *Hub) onDisconnect(c *transport.ServerConn) {
	h.disconnects.Add(1)
	h.logger.Info("client disconnected", "conn", c.ConnID(), "type", c.ClientType())
}

func (h *Hub) onError(c *transport.ServerConn, err error) {
	if c == nil {
		h.rejected.Add(1)
		h.logger.Warn("accept failed", "error", err)
		return
	}
	h.logger.Debug("connection error", "conn", c.ConnID(), "error", err)
}

func (h *Hub) onMessage(c *transport.ServerConn, data []byte) {
	env, err := wire.Decode(data)
	if err != nil {
		h.malformed.Add(1)
		h.logError(c, "decode", err)
		h.logger.Warn("dropping client: malformed message", "conn", c.ConnID(), "error", err)
		c.Close()
		return
	}
	h.logEnvelope(c, log.DirectionIn, env)

	if env.Type != wire.ClientTypeApp && env.Type != wire.ClientTypeAgent {
		h.logError(c, "classify", fmt.Errorf("%w: %q", ErrUnknownClientType, env.Type))
		h.logger.Warn("dropping client: unknown type", "conn", c.ConnID(), "type", env.Type)
		c.Close()
		return
	}
	c.SetClient(env.Type, env.Host)

	switch env.Cmd {
	case wire.CmdHeartbeat:
		h.heartbeatsIn.Add(1)
		now := strconv.FormatInt(h.config.Now().UnixMilli(), 10)
		if err := h.send(c, wire.Envelope{Cmd: wire.CmdHeartbeat, Data: now}); err != nil {
			c.Close()
			return
		}
		h.heartbeatsOut.Add(1)

	case wire.CmdWake:
		if env.Type != wire.ClientTypeApp {
			return
		}
		h.wakeRequests.Add(1)
		n := h.broadcast(wire.ClientTypeAgent, wire.Envelope{Cmd: wire.CmdWake, Data: env.Data})
		h.wakesRelayed.Add(uint64(n))
		h.logger.Info("wake relayed", "conn", c.ConnID(), "mac", env.Data, "agents", n)
		if err := h.send(c, wire.Envelope{Cmd: wire.CmdWakeDeviceSize, Data: strconv.Itoa(n)}); err != nil {
			c.Close()
		}

	case wire.CmdWakeDeviceReceipt:
		h.receipts.Add(1)
		n := h.broadcast(wire.ClientTypeApp, wire.Envelope{Cmd: wire.CmdWakeDeviceReceipt, Data: env.Data})
		h.logger.Info("receipt relayed", "conn", c.ConnID(), "mac", env.Data, "apps", n)

	default:
		h.logger.Debug("ignoring command", "conn", c.ConnID(), "cmd", env.Cmd)
	}
}

// broadcast sends env to every client of the given type and returns how
// many accepted it.
func (h *Hub) broadcast(clientType string, env wire.Envelope) int {
	sent := 0
	for _, c := range h.server.Connections() {
		if c.Closed() || c.ClientType() != clientType {
			continue
		}
		if err := h.send(c, env); err != nil {
			h.logger.Warn("relay send failed", "conn", c.ConnID(), "cmd", env.Cmd, "error", err)
			continue
		}
		sent++
	}
	return sent
}

func (h *Hub) send(c *transport.ServerConn, env wire.Envelope) error {
	data, err := wire.Encode(env)
	if err != nil {
		return err
	}
	if err := c.Send(data); err != nil {
		h.logError(c, "send", err)
		return err
	}
	h.logEnvelope(c, log.DirectionOut, env)
	return nil
}

func (h *Hub) logEnvelope(c *transport.ServerConn, dir log.Direction, env wire.Envelope) {
	category := log.CategoryMessage
	if env.IsHeartbeat() {
		category = log.CategoryControl
	}
	h.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.ConnID(),
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     category,
		RemoteAddr:   c.RemoteAddr().String(),
		Envelope: &log.EnvelopeEvent{
			Cmd:  env.Cmd,
			Data: env.Data,
			Host: env.Host,
			Type: env.Type,
		},
	})
}

func (h *Hub) logError(c *transport.ServerConn, op string, err error) {
	h.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.ConnID(),
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryError,
		RemoteAddr:   c.RemoteAddr().String(),
		Error: &log.ErrorEventData{
			Layer:   log.LayerWire,
			Message: err.Error(),
			Context: op,
		},
	})
}
