package session

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsp-wol/wol-go/pkg/log"
	"github.com/lsp-wol/wol-go/pkg/transport"
	"github.com/lsp-wol/wol-go/pkg/wire"
)

func TestNewDefaults(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultAddress, s.config.Address)
	assert.Equal(t, DefaultReadTimeout, s.config.ReadTimeout)
	assert.Equal(t, DefaultInitialReadTimeout, s.config.InitialReadTimeout)
	assert.Equal(t, DefaultHeartbeatInterval, s.config.HeartbeatInterval)
	assert.Equal(t, DefaultQueueSize, cap(s.queue))
	assert.False(t, s.Connected())

	_, err = New(Config{Transport: transport.ClientConfig{Framing: "carrier-pigeon"}})
	assert.ErrorIs(t, err, transport.ErrUnknownFraming)
}

func TestSendTCPMessageNotConnected(t *testing.T) {
	h := newHarness(t, nil)
	err := h.sess.SendTCPMessage(wire.CmdForward, "AA:BB:CC:DD:EE:FF")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 0, h.sess.Stats().QueueLen)

	assert.ErrorIs(t, h.sess.SendTCPMessage("", "x"), wire.ErrMissingCommand)
}

func TestConnectIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.sess.Connect(ctx))
	require.NoError(t, h.sess.Connect(ctx))
	assert.Equal(t, 1, h.dials)
	assert.True(t, h.sess.Connected())
	assert.Equal(t, "192.168.1.20", h.sess.Host())
	assert.Equal(t, "203.0.113.5:8080", h.sess.Remote())

	st := h.sess.Stats()
	assert.NotEmpty(t, st.ConnectionID)
	assert.Equal(t, uint64(1), st.Connects)
}

func TestConcurrentConnectSingleDial(t *testing.T) {
	h := newHarness(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.sess.Connect(context.Background()))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, h.dials)
}

func TestConnectFailure(t *testing.T) {
	dialErr := errors.New("connection refused")
	h := newHarness(t, func(c *Config) {
		c.Address = "relay.invalid:8080"
		c.Dial = func(ctx context.Context, address string) (transport.ClientConnection, error) {
			assert.Equal(t, "relay.invalid:8080", address)
			return nil, dialErr
		}
	})

	err := h.sess.Connect(context.Background())
	require.ErrorIs(t, err, dialErr)
	assert.Contains(t, err.Error(), "relay.invalid:8080")
	assert.False(t, h.sess.Connected())
	assert.ErrorIs(t, h.sess.SendTCPMessage(wire.CmdForward, "x"), ErrNotConnected)
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context) (string, error) {
	return "", errors.New("no relay announced")
}

func TestResolverFallback(t *testing.T) {
	var dialed []string
	dial := func(ctx context.Context, address string) (transport.ClientConnection, error) {
		dialed = append(dialed, address)
		return &fakeConn{}, nil
	}

	s, err := New(Config{Address: "fixed:8080", Resolver: failingResolver{}, Dial: dial})
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))

	s2, err := New(Config{Address: "fixed:8080", Resolver: StaticResolver("10.0.0.9:8080"), Dial: dial})
	require.NoError(t, err)
	require.NoError(t, s2.Connect(context.Background()))

	assert.Equal(t, []string{"fixed:8080", "10.0.0.9:8080"}, dialed)
}

func TestQueuedMessagesDrainInOrderWithoutHeartbeat(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sess.Connect(context.Background()))

	require.NoError(t, h.sess.SendTCPMessage(wire.CmdForward, "AA:BB:CC:DD:EE:01"))
	require.NoError(t, h.sess.SendTCPMessage(wire.CmdForward, "AA:BB:CC:DD:EE:02"))
	require.NoError(t, h.sess.SendTCPMessage("custom", ""))

	require.NoError(t, h.sess.Step())

	sent := h.conn().sentEnvelopes(t)
	require.Len(t, sent, 3, "no heartbeat in a cycle that drained messages")
	assert.Equal(t, "AA:BB:CC:DD:EE:01", sent[0].Data)
	assert.Equal(t, "AA:BB:CC:DD:EE:02", sent[1].Data)
	assert.Equal(t, "custom", sent[2].Cmd)
	assert.Equal(t, "", sent[2].Data)
	for _, env := range sent {
		assert.Equal(t, "192.168.1.20", env.Host)
		assert.Equal(t, wire.ClientTypeApp, env.Type)
	}

	// Next idle cycle: the clock has never been stamped, so a heartbeat goes out.
	require.NoError(t, h.sess.Step())
	sent = h.conn().sentEnvelopes(t)
	require.Len(t, sent, 4)
	assert.Equal(t, wire.CmdHeartbeat, sent[3].Cmd)
}

func TestHeartbeatInterval(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sess.Connect(context.Background()))

	require.NoError(t, h.sess.Step())
	sent := h.conn().sentEnvelopes(t)
	require.Len(t, sent, 1)
	assert.Equal(t, wire.CmdHeartbeat, sent[0].Cmd)
	assert.Equal(t, strconv.FormatInt(h.clock.Now().UnixMilli(), 10), sent[0].Data)

	h.clock.Advance(10 * time.Second)
	require.NoError(t, h.sess.Step())
	h.clock.Advance(10 * time.Second)
	require.NoError(t, h.sess.Step())
	assert.Len(t, h.conn().sentEnvelopes(t), 1, "exactly 20s is not past the interval")

	h.clock.Advance(time.Millisecond)
	require.NoError(t, h.sess.Step())
	assert.Len(t, h.conn().sentEnvelopes(t), 2)
	assert.Equal(t, uint64(2), h.sess.Stats().Heartbeats)
	assert.True(t, h.clock.Now().Equal(h.sess.Stats().LastHeartbeat))
}

func TestInboundHeartbeatRefreshesClock(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sess.Connect(context.Background()))

	require.NoError(t, h.sess.Step())
	require.Len(t, h.conn().sentEnvelopes(t), 1)

	h.clock.Advance(15 * time.Second)
	h.conn().push(`{"cmd":"heartbeat","data":"1","host":""}`)
	require.NoError(t, h.sess.Step())

	h.clock.Advance(15 * time.Second)
	require.NoError(t, h.sess.Step())
	assert.Len(t, h.conn().sentEnvelopes(t), 1, "server heartbeat 15s ago keeps the link fresh")
	assert.Empty(t, h.sink.notes, "heartbeats are not surfaced")
}

func TestDispatch(t *testing.T) {
	var seen []string
	h := newHarness(t, func(c *Config) {
		c.OnEnvelope = func(e wire.Envelope) { seen = append(seen, e.Cmd) }
	})
	require.NoError(t, h.sess.Connect(context.Background()))

	h.conn().push(`{"cmd":"wol_rec_dev_size","data":"3","host":"relay"}`)
	h.conn().push(`{"cmd":"net_ip","data":"198.51.100.4","host":"relay"}`)
	h.conn().push(`{"cmd":"wol_rec_dev_recp","data":"ok","host":"esp"}`)
	h.conn().push(`not json at all`)
	h.conn().push(`{"data":"no command"}`)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.sess.Step())
	}

	assert.Equal(t, []string{"3"}, h.sink.modals)
	assert.Equal(t, []string{"net_ip: 198.51.100.4", "wol_rec_dev_recp: ok"}, h.sink.notes)
	assert.Equal(t, []string{"wol_rec_dev_size", "net_ip", "wol_rec_dev_recp"}, seen)

	st := h.sess.Stats()
	assert.Equal(t, uint64(3), st.Received)
	assert.Equal(t, uint64(2), st.Malformed)
	assert.True(t, st.Connected, "malformed input never drops the link")
}

func TestOversizedFrameDiscarded(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sess.Connect(context.Background()))

	h.conn().pushErr(transport.ErrMessageTooLarge)
	require.NoError(t, h.sess.Step())

	assert.True(t, h.sess.Connected())
	assert.Equal(t, uint64(1), h.sess.Stats().Dropped)
	assert.Empty(t, h.sink.notes)
	assert.Empty(t, h.sink.modals)
}

func TestReadFaultTearsDown(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sess.Connect(context.Background()))
	conn := h.conn()

	conn.pushErr(io.EOF)
	err := h.sess.Step()
	require.ErrorIs(t, err, io.EOF)

	assert.False(t, h.sess.Connected())
	assert.Equal(t, 1, conn.closeCount())
	assert.Equal(t, "", h.sess.Host())
	assert.ErrorIs(t, h.sess.Step(), ErrNotConnected)
	assert.ErrorIs(t, h.sess.SendTCPMessage(wire.CmdForward, "x"), ErrNotConnected)
}

func TestWriteFaultTearsDownWithoutRequeue(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sess.Connect(context.Background()))
	conn := h.conn()

	require.NoError(t, h.sess.SendTCPMessage(wire.CmdForward, "first"))
	require.NoError(t, h.sess.SendTCPMessage(wire.CmdForward, "second"))
	conn.sendErr = errBrokenPipe

	err := h.sess.Step()
	require.ErrorIs(t, err, errBrokenPipe)
	assert.False(t, h.sess.Connected())
	assert.Equal(t, 1, h.sess.Stats().QueueLen, "failed message is lost, the rest stay queued")

	// The survivor goes out on the next link.
	require.NoError(t, h.sess.Connect(context.Background()))
	require.NoError(t, h.sess.Step())
	sent := h.conn().sentEnvelopes(t)
	require.Len(t, sent, 1)
	assert.Equal(t, "second", sent[0].Data)
}

func TestHeartbeatWriteFaultTearsDown(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sess.Connect(context.Background()))
	h.conn().sendErr = errBrokenPipe

	err := h.sess.Step()
	require.ErrorIs(t, err, errBrokenPipe)
	assert.False(t, h.sess.Connected())
}

func TestOversizedOutboundDropped(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sess.Connect(context.Background()))
	h.conn().sendErr = transport.ErrMessageTooLarge

	require.NoError(t, h.sess.SendTCPMessage(wire.CmdForward, "huge"))
	require.NoError(t, h.sess.Step())
	assert.True(t, h.sess.Connected())
	assert.Equal(t, uint64(1), h.sess.Stats().Dropped)
}

func TestQueueFull(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.QueueSize = 1
		c.EnqueueTimeout = 20 * time.Millisecond
	})
	require.NoError(t, h.sess.Connect(context.Background()))

	require.NoError(t, h.sess.SendTCPMessage(wire.CmdForward, "1"))
	start := time.Now()
	err := h.sess.SendTCPMessage(wire.CmdForward, "2")
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueueFullUnblocksWhenDrained(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.QueueSize = 1
		c.EnqueueTimeout = 2 * time.Second
	})
	require.NoError(t, h.sess.Connect(context.Background()))
	require.NoError(t, h.sess.SendTCPMessage(wire.CmdForward, "1"))

	done := make(chan error, 1)
	go func() { done <- h.sess.SendTCPMessage(wire.CmdForward, "2") }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, h.sess.Step())
	require.NoError(t, <-done)
}

func TestReadTimeouts(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.InitialReadTimeout = time.Second
		c.ReadTimeout = 300 * time.Millisecond
	})
	require.NoError(t, h.sess.Connect(context.Background()))

	for i := 0; i < 3; i++ {
		require.NoError(t, h.sess.Step())
	}
	assert.Equal(t, []time.Duration{time.Second, 300 * time.Millisecond, 300 * time.Millisecond}, h.conn().timeouts)
}

func TestTeardownIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.sess.Teardown()

	require.NoError(t, h.sess.Connect(context.Background()))
	conn := h.conn()
	h.sess.Teardown()
	h.sess.Teardown()

	assert.Equal(t, 1, conn.closeCount())
	assert.False(t, h.sess.Connected())

	// A stale link cannot tear down its replacement.
	require.NoError(t, h.sess.Connect(context.Background()))
	h.sess.teardown(&link{conn: conn}, "stale")
	assert.True(t, h.sess.Connected())
}

func TestServeStopsOnDisconnectAndCancel(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sess.Connect(context.Background()))
	h.conn().pushErr(io.ErrUnexpectedEOF)

	err := h.sess.Serve(context.Background())
	require.ErrorIs(t, err, ErrDisconnected)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	require.NoError(t, h.sess.Connect(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.sess.Serve(ctx), context.Canceled)
	assert.True(t, h.sess.Connected(), "cancellation alone does not tear down")

	assert.ErrorIs(t, (&Session{}).Serve(context.Background()), ErrDisconnected)
}

func TestProtocolLogEvents(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sess.Connect(context.Background()))
	h.conn().push(`{"cmd":"wol_rec_dev_size","data":"1","host":""}`)
	require.NoError(t, h.sess.SendTCPMessage(wire.CmdForward, "AA:BB:CC:DD:EE:FF"))
	require.NoError(t, h.sess.Step())
	h.sess.Teardown()

	var states []string
	var envs []string
	for _, ev := range h.events() {
		switch {
		case ev.StateChange != nil:
			states = append(states, ev.StateChange.NewState)
		case ev.Envelope != nil:
			envs = append(envs, ev.Direction.String()+" "+ev.Envelope.Cmd)
			assert.Equal(t, log.LayerWire, ev.Layer)
			assert.NotEmpty(t, ev.ConnectionID)
		}
	}
	assert.Equal(t, []string{"CONNECTING", "CONNECTED", "DISCONNECTED"}, states)
	assert.Equal(t, []string{"IN wol_rec_dev_size", "OUT forward"}, envs)
}
