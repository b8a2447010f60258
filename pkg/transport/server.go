package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lsp-wol/wol-go/pkg/log"
)

// Server defaults.
const (
	DefaultListenPort     = 8080
	DefaultMaxConnections = 1000
	DefaultIdleTimeout    = 30 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
)

// Server errors.
var (
	ErrServerRunning = errors.New("server already running")
	ErrIdleTimeout   = errors.New("idle timeout")
)

// ServerConfig configures a relay server.
type ServerConfig struct {
	// Address to listen on (default: ":8080").
	Address string

	// Framing selects the stream framing (default: raw).
	Framing Framing

	// MaxMessageSize is the largest frame accepted (default: 1024).
	MaxMessageSize int

	// MaxConnections caps concurrent connections; extra ones are closed
	// on accept (default: 1000).
	MaxConnections int

	// IdleTimeout closes a connection that sends nothing for this long
	// (default: 30s).
	IdleTimeout time.Duration

	// WriteTimeout bounds each Send (default: 10s).
	WriteTimeout time.Duration

	// Logger for protocol logging (optional).
	Logger log.Logger

	// OnConnect is called when a new connection is established.
	OnConnect func(conn *ServerConn)

	// OnDisconnect is called when a connection is closed.
	OnDisconnect func(conn *ServerConn)

	// OnMessage is called for every frame received.
	OnMessage func(conn *ServerConn, msg []byte)

	// OnError is called when an error occurs. conn is nil for accept errors.
	OnError func(conn *ServerConn, err error)
}

// Server accepts framed relay connections.
type Server struct {
	config   ServerConfig
	listener net.Listener

	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer validates config and fills in defaults.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultListenPort)
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = DefaultMaxConnections
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	framing, err := ParseFraming(string(config.Framing))
	if err != nil {
		return nil, err
	}
	config.Framing = framing

	return &Server{
		config: config,
		conns:  make(map[*ServerConn]struct{}),
	}, nil
}

// Start listens and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return ErrServerRunning
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Address, err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener and all connections, then waits for the
// connection handlers to return.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	if isClosedErr(err) {
		err = nil
	}
	return err
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// Connections returns a snapshot of the active connections.
func (s *Server) Connections() []*ServerConn {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	out := make([]*ServerConn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() && s.config.OnError != nil {
				s.config.OnError(nil, fmt.Errorf("accept: %w", err))
			}
			if isClosedErr(err) {
				return
			}
			continue
		}

		sconn, err := s.register(conn)
		if err != nil {
			conn.Close()
			if s.config.OnError != nil {
				s.config.OnError(nil, fmt.Errorf("rejected %s: %w", conn.RemoteAddr(), err))
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(sconn)
	}
}

// register wraps conn and adds it to the connection set. The limit is
// checked under the same lock, so concurrent accepts cannot overshoot it.
func (s *Server) register(conn net.Conn) (*ServerConn, error) {
	framer, err := NewFramer(s.config.Framing, conn, s.config.MaxMessageSize)
	if err != nil {
		return nil, err
	}

	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if len(s.conns) >= s.config.MaxConnections {
		return nil, fmt.Errorf("connection limit %d reached", s.config.MaxConnections)
	}

	connID := uuid.New().String()
	if s.config.Logger != nil {
		framer.SetLogger(s.config.Logger, connID)
	}
	sconn := &ServerConn{
		conn:       conn,
		framer:     framer,
		server:     s,
		closeCh:    make(chan struct{}),
		remoteAddr: conn.RemoteAddr(),
		connID:     connID,
	}
	s.conns[sconn] = struct{}{}
	return sconn, nil
}

func (s *Server) handleConnection(sconn *ServerConn) {
	defer s.wg.Done()

	s.logState(sconn, "", "CONNECTED", "")

	if s.config.OnConnect != nil {
		s.config.OnConnect(sconn)
	}

	reason := sconn.readLoop()
	sconn.Close()

	s.connsMu.Lock()
	delete(s.conns, sconn)
	s.connsMu.Unlock()

	s.logState(sconn, "CONNECTED", "DISCONNECTED", reason)

	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(sconn)
	}
}

func (s *Server) logState(c *ServerConn, oldState, newState, reason string) {
	if s.config.Logger == nil {
		return
	}
	s.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		RemoteAddr:   c.remoteAddr.String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

// ServerConn is one accepted client connection.
type ServerConn struct {
	conn       net.Conn
	framer     Framer
	server     *Server
	closeCh    chan struct{}
	closeOnce  sync.Once
	remoteAddr net.Addr
	connID     string

	writeMu sync.Mutex

	// Attributes set by the message handler.
	attrMu     sync.RWMutex
	clientType string
	host       string
	lastSeen   time.Time
}

// RemoteAddr returns the remote address of the client.
func (c *ServerConn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// RemoteHost returns the client's IP as the server sees it.
func (c *ServerConn) RemoteHost() string {
	return HostOf(c.remoteAddr)
}

// ConnID returns the unique connection identifier.
func (c *ServerConn) ConnID() string {
	return c.connID
}

// SetClient records the client type and LAN host the peer announced.
func (c *ServerConn) SetClient(clientType, host string) {
	c.attrMu.Lock()
	defer c.attrMu.Unlock()
	c.clientType = clientType
	c.host = host
}

// ClientType returns the type the peer last announced.
func (c *ServerConn) ClientType() string {
	c.attrMu.RLock()
	defer c.attrMu.RUnlock()
	return c.clientType
}

// Host returns the LAN host the peer last announced.
func (c *ServerConn) Host() string {
	c.attrMu.RLock()
	defer c.attrMu.RUnlock()
	return c.host
}

// LastSeen returns when the last frame arrived.
func (c *ServerConn) LastSeen() time.Time {
	c.attrMu.RLock()
	defer c.attrMu.RUnlock()
	return c.lastSeen
}

// Send writes one message to the client.
func (c *ServerConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout)); err != nil {
		return err
	}
	return c.framer.WriteFrame(data)
}

// Close closes the connection. It is idempotent.
func (c *ServerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

// Closed reports whether Close has been called.
func (c *ServerConn) Closed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *ServerConn) String() string {
	return fmt.Sprintf("%s(%s %s)", shortID(c.connID), c.ClientType(), c.remoteAddr)
}

// readLoop delivers frames until the peer goes away and returns the reason.
func (c *ServerConn) readLoop() string {
	cfg := c.server.config
	for {
		select {
		case <-c.closeCh:
			return "closed"
		case <-c.server.ctx.Done():
			return "server stopped"
		default:
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout)); err != nil {
			return err.Error()
		}

		data, err := c.framer.ReadFrame()
		if err != nil {
			switch {
			case errors.Is(err, ErrMessageTooLarge), errors.Is(err, ErrMessageEmpty):
				c.report(err)
				continue
			case IsTimeout(err):
				c.report(ErrIdleTimeout)
				return ErrIdleTimeout.Error()
			case errors.Is(err, io.EOF):
				return "peer closed"
			case c.Closed():
				return "closed"
			}
			c.report(err)
			return err.Error()
		}

		c.attrMu.Lock()
		c.lastSeen = time.Now()
		c.attrMu.Unlock()

		if cfg.OnMessage != nil {
			cfg.OnMessage(c, data)
		}
	}
}

func (c *ServerConn) report(err error) {
	if c.server.config.OnError != nil && c.server.running.Load() {
		c.server.config.OnError(c, err)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
