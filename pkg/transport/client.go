package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/lsp-wol/wol-go/pkg/log"
)

// Client defaults.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultKeepAlive      = 15 * time.Second
)

// ErrConnectionClosed is returned by operations on a closed ClientConn.
var ErrConnectionClosed = errors.New("connection closed")

// DialFunc dials a stream connection. It matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ClientConfig configures a relay client.
type ClientConfig struct {
	// ConnectTimeout bounds the dial (default: 5s).
	ConnectTimeout time.Duration

	// KeepAlive is the TCP keep-alive period. Negative disables keep-alive.
	KeepAlive time.Duration

	// DisableNoDelay turns Nagle's algorithm back on. TCP connections are
	// no-delay by default.
	DisableNoDelay bool

	// MaxMessageSize is the largest frame accepted (default: 1024).
	MaxMessageSize int

	// Framing selects the stream framing (default: raw).
	Framing Framing

	// Dial overrides the dialer, for tests.
	Dial DialFunc
}

// Client dials the relay.
type Client struct {
	config ClientConfig
}

// NewClient validates config and fills in defaults.
func NewClient(config ClientConfig) (*Client, error) {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.KeepAlive == 0 {
		config.KeepAlive = DefaultKeepAlive
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	framing, err := ParseFraming(string(config.Framing))
	if err != nil {
		return nil, err
	}
	config.Framing = framing

	if config.Dial == nil {
		d := &net.Dialer{KeepAlive: config.KeepAlive}
		config.Dial = d.DialContext
	}
	return &Client{config: config}, nil
}

// Config returns the effective configuration.
func (c *Client) Config() ClientConfig {
	return c.config
}

// Connect dials address and wraps the connection in the configured framer.
func (c *Client) Connect(ctx context.Context, address string) (*ClientConn, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	conn, err := c.config.Dial(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(!c.config.DisableNoDelay); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set no-delay: %w", err)
		}
		if c.config.KeepAlive > 0 {
			if err := tcp.SetKeepAlive(true); err != nil {
				conn.Close()
				return nil, fmt.Errorf("set keep-alive: %w", err)
			}
		}
	}

	framer, err := NewFramer(c.config.Framing, conn, c.config.MaxMessageSize)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &ClientConn{
		conn:    conn,
		framer:  framer,
		closeCh: make(chan struct{}),
	}, nil
}

// ClientConn is an established relay connection.
type ClientConn struct {
	conn    net.Conn
	framer  Framer
	closeCh chan struct{}

	closeOnce sync.Once
	closeErr  error
	writeMu   sync.Mutex
	readMu    sync.Mutex
}

// NewClientConn wraps an existing connection, for tests and for callers
// that dial on their own.
func NewClientConn(conn net.Conn, framer Framer) *ClientConn {
	return &ClientConn{conn: conn, framer: framer, closeCh: make(chan struct{})}
}

// LocalAddr returns the local network address.
func (c *ClientConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *ClientConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalHost returns the local IP address as text, without the port.
func (c *ClientConn) LocalHost() string {
	return HostOf(c.conn.LocalAddr())
}

// SetLogger attaches a protocol logger to the framer.
func (c *ClientConn) SetLogger(logger log.Logger, connID string) {
	c.framer.SetLogger(logger, connID)
}

// Send writes one message.
func (c *ClientConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	return c.framer.WriteFrame(data)
}

// Receive reads one message, waiting at most timeout. A zero timeout
// blocks. Use IsTimeout to tell an idle read from a broken connection.
func (c *ClientConn) Receive(timeout time.Duration) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}

	if timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
		defer c.conn.SetReadDeadline(time.Time{})
	}
	return c.framer.ReadFrame()
}

type closeReader interface{ CloseRead() error }
type closeWriter interface{ CloseWrite() error }

// Close shuts down the read side, the write side and then the connection.
// Each step runs even if an earlier one fails; the errors are joined.
// Close is idempotent.
func (c *ClientConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)

		var errs []error
		if cr, ok := c.conn.(closeReader); ok {
			if err := cr.CloseRead(); err != nil && !isClosedErr(err) {
				errs = append(errs, fmt.Errorf("close read: %w", err))
			}
		}
		if cw, ok := c.conn.(closeWriter); ok {
			if err := cw.CloseWrite(); err != nil && !isClosedErr(err) {
				errs = append(errs, fmt.Errorf("close write: %w", err))
			}
		}
		if err := c.conn.Close(); err != nil && !isClosedErr(err) {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// Closed reports whether Close has been called.
func (c *ClientConn) Closed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// IsTimeout reports whether err is a read or write deadline expiry.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// HostOf returns the IP part of addr, or its string form when it has none.
func HostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String()
	case *net.UDPAddr:
		return a.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
