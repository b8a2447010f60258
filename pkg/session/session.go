package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lsp-wol/wol-go/pkg/log"
	"github.com/lsp-wol/wol-go/pkg/notify"
	"github.com/lsp-wol/wol-go/pkg/transport"
	"github.com/lsp-wol/wol-go/pkg/wire"
)

// Session defaults.
const (
	DefaultAddress            = "espsock.devtask.cn:8080"
	DefaultInitialReadTimeout = 1 * time.Second
	DefaultReadTimeout        = 300 * time.Millisecond
	DefaultHeartbeatInterval  = 20 * time.Second
	DefaultEnqueueTimeout     = 100 * time.Millisecond
	DefaultQueueSize          = 64
)

// Session errors.
var (
	// ErrNotConnected is returned when no connection is established.
	ErrNotConnected = errors.New("not connected")

	// ErrQueueFull is returned when the outbound queue stayed full for the
	// whole enqueue timeout.
	ErrQueueFull = errors.New("outbound queue full")

	// ErrDisconnected is returned by Serve when the link was torn down.
	ErrDisconnected = errors.New("disconnected")
)

// DialFunc opens a framed connection to address.
type DialFunc func(ctx context.Context, address string) (transport.ClientConnection, error)

// Resolver supplies the relay address for each connect attempt.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// StaticResolver always resolves to itself.
type StaticResolver string

// Resolve returns the fixed address.
func (r StaticResolver) Resolve(context.Context) (string, error) { return string(r), nil }

// Config configures a Session.
type Config struct {
	// Address is the relay host:port (default: espsock.devtask.cn:8080).
	Address string

	// Resolver, when set, is tried before Address on every connect.
	Resolver Resolver

	// Transport configures the default dialer. Ignored when Dial is set.
	Transport transport.ClientConfig

	// Dial overrides the dialer.
	Dial DialFunc

	// InitialReadTimeout bounds the first read after connecting (default: 1s).
	InitialReadTimeout time.Duration

	// ReadTimeout bounds every later read (default: 300ms).
	ReadTimeout time.Duration

	// HeartbeatInterval is the liveness interval (default: 20s).
	HeartbeatInterval time.Duration

	// EnqueueTimeout bounds SendTCPMessage on a full queue (default: 100ms).
	EnqueueTimeout time.Duration

	// QueueSize is the outbound queue capacity (default: 64).
	QueueSize int

	// ClientType is sent in the envelope type field. Empty omits it.
	ClientType string

	// Sink receives user-facing notices. Nil discards them.
	Sink notify.Sink

	// OnEnvelope, if set, sees every decoded inbound envelope before dispatch.
	OnEnvelope func(wire.Envelope)

	// Logger for operational logs. Nil uses slog.Default().
	Logger *slog.Logger

	// ProtocolLogger captures frames, envelopes and state changes.
	ProtocolLogger log.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Stats is a snapshot of session counters.
type Stats struct {
	Connected     bool
	ConnectionID  string
	Host          string
	Remote        string
	Connects      uint64
	Sent          uint64
	Received      uint64
	Heartbeats    uint64
	Dropped       uint64
	Malformed     uint64
	QueueLen      int
	LastHeartbeat time.Time
}

// link is the per-connection state, discarded on teardown.
type link struct {
	conn     transport.ClientConnection
	connID   string
	host     string
	remote   string
	reads    int
	liveness atomic.Int64 // unix nanos, zero means never
}

// Session is the relay client. Safe for concurrent use; Serve and Step
// must only be called from one goroutine.
type Session struct {
	config Config
	dial   DialFunc
	logger *slog.Logger
	plog   log.Logger
	sink   notify.Sink

	queue chan wire.Envelope

	connectMu sync.Mutex
	mu        sync.Mutex
	link      *link
	connected atomic.Bool

	connects   atomic.Uint64
	sent       atomic.Uint64
	received   atomic.Uint64
	heartbeats atomic.Uint64
	dropped    atomic.Uint64
	malformed  atomic.Uint64
}

// New creates a disconnected session.
func New(config Config) (*Session, error) {
	if config.Address == "" {
		config.Address = DefaultAddress
	}
	if config.InitialReadTimeout <= 0 {
		config.InitialReadTimeout = DefaultInitialReadTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if config.EnqueueTimeout <= 0 {
		config.EnqueueTimeout = DefaultEnqueueTimeout
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	dial := config.Dial
	if dial == nil {
		client, err := transport.NewClient(config.Transport)
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
		dial = func(ctx context.Context, address string) (transport.ClientConnection, error) {
			conn, err := client.Connect(ctx, address)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}
	}

	return &Session{
		config: config,
		dial:   dial,
		logger: config.Logger.With("component", "session"),
		plog:   log.OrNoop(config.ProtocolLogger),
		sink:   notify.OrNoop(config.Sink),
		queue:  make(chan wire.Envelope, config.QueueSize),
	}, nil
}

// Connect dials the relay unless already connected. Concurrent callers
// are serialized; a second caller returns once the first attempt is done.
func (s *Session) Connect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	if s.connected.Load() {
		return nil
	}

	addr := s.resolve(ctx)
	s.logState("", "DISCONNECTED", "CONNECTING", addr)

	conn, err := s.dial(ctx, addr)
	if err != nil {
		s.logState("", "CONNECTING", "DISCONNECTED", err.Error())
		return fmt.Errorf("connect %s: %w", addr, err)
	}

	l := &link{
		conn:   conn,
		connID: uuid.NewString(),
		host:   conn.LocalHost(),
		remote: addr,
	}
	if ra := conn.RemoteAddr(); ra != nil {
		l.remote = ra.String()
	}
	conn.SetLogger(s.plog, l.connID)

	s.mu.Lock()
	s.link = l
	s.connected.Store(true)
	s.mu.Unlock()
	s.connects.Add(1)

	s.logger.Info("connected", "conn_id", l.connID, "remote", l.remote, "host", l.host)
	s.logState(l.connID, "CONNECTING", "CONNECTED", "")
	return nil
}

func (s *Session) resolve(ctx context.Context) string {
	if s.config.Resolver == nil {
		return s.config.Address
	}
	addr, err := s.config.Resolver.Resolve(ctx)
	if err != nil || addr == "" {
		s.logger.Debug("resolver failed, using fixed address", "address", s.config.Address, "error", err)
		return s.config.Address
	}
	return addr
}

// Connected reports whether a link is up.
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Host returns the local address of the current link, or "".
func (s *Session) Host() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return ""
	}
	return s.link.host
}

// Remote returns the relay address of the current link, or "".
func (s *Session) Remote() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return ""
	}
	return s.link.remote
}

// SendTCPMessage queues an envelope for the relay. It fails fast with
// ErrNotConnected and waits at most the enqueue timeout for queue space.
func (s *Session) SendTCPMessage(cmd, data string) error {
	if cmd == "" {
		return wire.ErrMissingCommand
	}
	if !s.connected.Load() {
		return ErrNotConnected
	}

	env := wire.Envelope{
		Cmd:  cmd,
		Data: data,
		Host: s.Host(),
		Type: s.config.ClientType,
	}

	select {
	case s.queue <- env:
		return nil
	default:
	}

	t := time.NewTimer(s.config.EnqueueTimeout)
	defer t.Stop()
	select {
	case s.queue <- env:
		return nil
	case <-t.C:
		return ErrQueueFull
	}
}

// Teardown closes the current link, if any. It is idempotent and always
// leaves the session disconnected.
func (s *Session) Teardown() {
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	if l != nil {
		s.teardown(l, "teardown")
	}
}

// teardown closes l if it is still the current link.
func (s *Session) teardown(l *link, reason string) {
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return
	}
	s.link = nil
	s.connected.Store(false)
	s.mu.Unlock()

	if err := l.conn.Close(); err != nil {
		s.logger.Debug("close failed", "conn_id", l.connID, "error", err)
	}
	s.logger.Info("disconnected", "conn_id", l.connID, "reason", reason)
	s.logState(l.connID, "CONNECTED", "DISCONNECTED", reason)
}

// Stats returns a snapshot of the counters.
func (s *Session) Stats() Stats {
	st := Stats{
		Connected:  s.connected.Load(),
		Connects:   s.connects.Load(),
		Sent:       s.sent.Load(),
		Received:   s.received.Load(),
		Heartbeats: s.heartbeats.Load(),
		Dropped:    s.dropped.Load(),
		Malformed:  s.malformed.Load(),
		QueueLen:   len(s.queue),
	}
	s.mu.Lock()
	if l := s.link; l != nil {
		st.ConnectionID = l.connID
		st.Host = l.host
		st.Remote = l.remote
		if ns := l.liveness.Load(); ns != 0 {
			st.LastHeartbeat = time.Unix(0, ns)
		}
	}
	s.mu.Unlock()
	return st
}

func (s *Session) current() *link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

func (s *Session) logState(connID, from, to, reason string) {
	s.plog.Log(log.Event{
		Timestamp:    s.config.Now(),
		ConnectionID: connID,
		Layer:        log.LayerSession,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: from,
			NewState: to,
			Reason:   reason,
		},
	})
}

func (s *Session) logError(l *link, layer log.Layer, op string, err error) {
	s.plog.Log(log.Event{
		Timestamp:    s.config.Now(),
		ConnectionID: l.connID,
		Direction:    log.DirectionIn,
		Layer:        layer,
		Category:     log.CategoryError,
		RemoteAddr:   l.remote,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Context: op,
		},
	})
}

func (s *Session) logEnvelope(l *link, dir log.Direction, env wire.Envelope) {
	cat := log.CategoryMessage
	if env.IsHeartbeat() {
		cat = log.CategoryControl
	}
	s.plog.Log(log.Event{
		Timestamp:    s.config.Now(),
		ConnectionID: l.connID,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     cat,
		RemoteAddr:   l.remote,
		LocalAddr:    l.host,
		Envelope: &log.EnvelopeEvent{
			Cmd:  env.Cmd,
			Data: env.Data,
			Host: env.Host,
			Type: env.Type,
		},
	})
}
