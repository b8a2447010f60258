package log

import (
	"time"
)

// Event is a single protocol trace record. Exactly one of the payload
// pointers is set. CBOR encoding uses integer keys.
type Event struct {
	Timestamp    time.Time `cbor:"1,keyasint"`
	ConnectionID string    `cbor:"2,keyasint,omitempty"`
	Direction    Direction `cbor:"3,keyasint"`
	Layer        Layer     `cbor:"4,keyasint"`
	Category     Category  `cbor:"5,keyasint"`

	// RemoteAddr is the relay address (host:port).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// LocalAddr is the address stamped into outgoing envelopes.
	LocalAddr string `cbor:"7,keyasint,omitempty"`

	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Envelope    *EnvelopeEvent    `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// ParseDirection accepts the upper- or lower-case direction name.
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "IN", "in":
		return DirectionIn, true
	case "OUT", "out":
		return DirectionOut, true
	}
	return 0, false
}

// Layer indicates which part of the client captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the envelope codec layer.
	LayerWire Layer = 1
	// LayerSession covers the session and supervisor.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// ParseLayer accepts the upper- or lower-case layer name.
func ParseLayer(s string) (Layer, bool) {
	switch s {
	case "TRANSPORT", "transport":
		return LayerTransport, true
	case "WIRE", "wire":
		return LayerWire, true
	case "SESSION", "session":
		return LayerSession, true
	}
	return 0, false
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage is an application envelope.
	CategoryMessage Category = 0
	// CategoryControl is a heartbeat, in either direction.
	CategoryControl Category = 1
	// CategoryState is a state change.
	CategoryState Category = 2
	// CategoryError is an error at any layer.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseCategory accepts the upper- or lower-case category name.
func ParseCategory(s string) (Category, bool) {
	switch s {
	case "MESSAGE", "message":
		return CategoryMessage, true
	case "CONTROL", "control":
		return CategoryControl, true
	case "STATE", "state":
		return CategoryState, true
	case "ERROR", "error":
		return CategoryError, true
	}
	return 0, false
}

// MaxFrameCapture is the number of frame bytes kept in a FrameEvent.
const MaxFrameCapture = 256

// FrameEvent captures a frame as seen on the socket.
type FrameEvent struct {
	// Size is the full frame size in bytes, including any delimiter or prefix.
	Size int `cbor:"1,keyasint"`

	// Data holds up to MaxFrameCapture bytes of the frame.
	Data []byte `cbor:"2,keyasint,omitempty"`

	Truncated bool `cbor:"3,keyasint,omitempty"`

	// Oversized marks a frame that exceeded the size limit and was dropped.
	Oversized bool `cbor:"4,keyasint,omitempty"`
}

// NewFrameEvent copies at most MaxFrameCapture bytes of data.
func NewFrameEvent(size int, data []byte) *FrameEvent {
	fe := &FrameEvent{Size: size}
	n := len(data)
	if n > MaxFrameCapture {
		n = MaxFrameCapture
		fe.Truncated = true
	}
	if n > 0 {
		fe.Data = append([]byte(nil), data[:n]...)
	}
	return fe
}

// EnvelopeEvent captures a decoded relay envelope.
type EnvelopeEvent struct {
	Cmd  string `cbor:"1,keyasint"`
	Data string `cbor:"2,keyasint,omitempty"`
	Host string `cbor:"3,keyasint,omitempty"`
	Type string `cbor:"4,keyasint,omitempty"`
}

// StateChangeEvent captures connection, session and supervisor lifecycle.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what changed state.
type StateEntity uint8

const (
	StateEntityConnection StateEntity = 0
	StateEntitySession    StateEntity = 1
	StateEntitySupervisor StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySession:
		return "SESSION"
	case StateEntitySupervisor:
		return "SUPERVISOR"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Context names the operation that failed ("read", "decode", ...).
	Context string `cbor:"3,keyasint,omitempty"`
}
