package transport_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/lsp-wol/wol-go/pkg/transport"
)

// startEchoServer accepts one connection and echoes every read back.
func startEchoServer(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return
			}
		}
	}()
	return ln
}

func TestClientConnectSendReceive(t *testing.T) {
	for _, framing := range []transport.Framing{transport.FramingRaw, transport.FramingLine, transport.FramingLength} {
		t.Run(string(framing), func(t *testing.T) {
			ln := startEchoServer(t)
			client, err := transport.NewClient(transport.ClientConfig{
				Framing: framing,
			})
			if err != nil {
				t.Fatalf("NewClient failed: %v", err)
			}

			conn, err := client.Connect(context.Background(), ln.Addr().String())
			if err != nil {
				t.Fatalf("Connect failed: %v", err)
			}
			defer conn.Close()

			if conn.LocalHost() != "127.0.0.1" {
				t.Errorf("LocalHost: got %q", conn.LocalHost())
			}

			msg := []byte(`{"cmd":"heartbeat","data":"1","host":"127.0.0.1"}`)
			if err := conn.Send(msg); err != nil {
				t.Fatalf("Send failed: %v", err)
			}
			got, err := conn.Receive(2 * time.Second)
			if err != nil {
				t.Fatalf("Receive failed: %v", err)
			}
			if string(got) != string(msg) {
				t.Errorf("echo: got %q", got)
			}
		})
	}
}

func TestClientReceiveTimeout(t *testing.T) {
	ln := startEchoServer(t)
	client, err := transport.NewClient(transport.ClientConfig{})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	conn, err := client.Connect(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	start := time.Now()
	_, err = conn.Receive(50 * time.Millisecond)
	if !transport.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("Receive blocked for %v", time.Since(start))
	}
}

func TestClientConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	client, _ := transport.NewClient(transport.ClientConfig{ConnectTimeout: time.Second})
	if _, err := client.Connect(context.Background(), addr); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestClientCustomDial(t *testing.T) {
	dialErr := errors.New("no route")
	client, err := transport.NewClient(transport.ClientConfig{
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("dial context has no deadline")
			}
			return nil, dialErr
		},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := client.Connect(context.Background(), "relay:8080"); !errors.Is(err, dialErr) {
		t.Fatalf("expected wrapped dial error, got %v", err)
	}
}

func TestClientDefaults(t *testing.T) {
	client, err := transport.NewClient(transport.ClientConfig{})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	cfg := client.Config()
	if cfg.ConnectTimeout != transport.DefaultConnectTimeout {
		t.Errorf("ConnectTimeout: got %v", cfg.ConnectTimeout)
	}
	if cfg.MaxMessageSize != transport.DefaultMaxMessageSize {
		t.Errorf("MaxMessageSize: got %d", cfg.MaxMessageSize)
	}
	if cfg.Framing != transport.FramingRaw {
		t.Errorf("Framing: got %q", cfg.Framing)
	}

	if _, err := transport.NewClient(transport.ClientConfig{Framing: "smoke"}); !errors.Is(err, transport.ErrUnknownFraming) {
		t.Errorf("expected ErrUnknownFraming, got %v", err)
	}
}

func TestClientConnCloseIdempotent(t *testing.T) {
	ln := startEchoServer(t)
	client, _ := transport.NewClient(transport.ClientConfig{})
	conn, err := client.Connect(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if !conn.Closed() {
		t.Error("Closed() = false after Close")
	}
	if err := conn.Send([]byte("x")); !errors.Is(err, transport.ErrConnectionClosed) {
		t.Errorf("Send after close: %v", err)
	}
	if _, err := conn.Receive(0); !errors.Is(err, transport.ErrConnectionClosed) {
		t.Errorf("Receive after close: %v", err)
	}
}

func TestClientConnOverPipe(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	framer, err := transport.NewFramer(transport.FramingLine, a, 0)
	if err != nil {
		t.Fatalf("NewFramer failed: %v", err)
	}
	conn := transport.NewClientConn(a, framer)

	go func() {
		b.Write([]byte("{\"cmd\":\"net_ip\"}\n"))
	}()
	got, err := conn.Receive(time.Second)
	if err != nil || string(got) != `{"cmd":"net_ip"}` {
		t.Fatalf("got %q, %v", got, err)
	}

	// net.Pipe has no half-close; Close must still succeed.
	if err := conn.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		addr net.Addr
		want string
	}{
		{nil, ""},
		{&net.TCPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 5555}, "10.0.0.7"},
		{&net.UDPAddr{IP: net.ParseIP("fe80::1"), Port: 9}, "fe80::1"},
		{pipeAddr{}, "pipe"},
	}
	for _, tt := range tests {
		if got := transport.HostOf(tt.addr); got != tt.want {
			t.Errorf("HostOf(%v) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }
