package session

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/lsp-wol/wol-go/pkg/log"
	"github.com/lsp-wol/wol-go/pkg/notify"
	"github.com/lsp-wol/wol-go/pkg/transport"
	"github.com/lsp-wol/wol-go/pkg/wire"
)

type recv struct {
	data []byte
	err  error
}

// fakeConn is a scripted transport.ClientConnection. An empty inbound
// script makes Receive time out.
type fakeConn struct {
	mu       sync.Mutex
	inbound  []recv
	sent     [][]byte
	sendErr  error
	closed   int
	timeouts []time.Duration
}

func (c *fakeConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 50000}
}
func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(203, 0, 113, 5), Port: 8080}
}
func (c *fakeConn) LocalHost() string            { return "192.168.1.20" }
func (c *fakeConn) SetLogger(log.Logger, string) {}

func (c *fakeConn) push(data string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbound = append(c.inbound, recv{data: []byte(data)})
}

func (c *fakeConn) pushErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbound = append(c.inbound, recv{err: err})
}

func (c *fakeConn) Receive(timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeouts = append(c.timeouts, timeout)
	if c.closed > 0 {
		return nil, transport.ErrConnectionClosed
	}
	if len(c.inbound) == 0 {
		return nil, os.ErrDeadlineExceeded
	}
	r := c.inbound[0]
	c.inbound = c.inbound[1:]
	return r.data, r.err
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) sentEnvelopes(t *testing.T) []wire.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.Envelope, 0, len(c.sent))
	for _, b := range c.sent {
		env, err := wire.Decode(b)
		if err != nil {
			t.Fatalf("sent invalid envelope %q: %v", b, err)
		}
		out = append(out, env)
	}
	return out
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	notes  []string
	modals []string
}

func (r *recordingSink) Notify(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, msg)
}

func (r *recordingSink) NotifyModal(count string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modals = append(r.modals, count)
}

var _ notify.Sink = (*recordingSink)(nil)

type harness struct {
	sess  *Session
	conns []*fakeConn
	dials int
	clock *fakeClock
	sink  *recordingSink
	plog  []log.Event
	mu    sync.Mutex
}

// newHarness builds a session whose dialer hands out fresh fakeConns.
func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{clock: newFakeClock(), sink: &recordingSink{}}
	cfg := Config{
		ClientType: wire.ClientTypeApp,
		Sink:       h.sink,
		Now:        h.clock.Now,
		ProtocolLogger: log.LoggerFunc(func(ev log.Event) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.plog = append(h.plog, ev)
		}),
		Dial: func(ctx context.Context, address string) (transport.ClientConnection, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.dials++
			c := &fakeConn{}
			h.conns = append(h.conns, c)
			return c, nil
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.sess = s
	return h
}

func (h *harness) conn() *fakeConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[len(h.conns)-1]
}

func (h *harness) events() []log.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]log.Event(nil), h.plog...)
}

var errBrokenPipe = errors.New("broken pipe")
