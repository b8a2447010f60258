package transport

import (
	"net"
	"time"

	"github.com/lsp-wol/wol-go/pkg/log"
)

// ClientConnection is a framed relay connection. Implemented by ClientConn.
type ClientConnection interface {
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	LocalHost() string
	Send(data []byte) error
	Receive(timeout time.Duration) ([]byte, error)
	Close() error
	SetLogger(logger log.Logger, connID string)
}

var _ ClientConnection = (*ClientConn)(nil)
