package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/lsp-wol/wol-go/pkg/log"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4

	// DefaultMaxMessageSize matches the relay's 1 KiB receive buffer.
	DefaultMaxMessageSize = 1024

	// readChunkSize is the read size used by the buffering framers.
	readChunkSize = 512
)

// Framing errors.
var (
	// ErrMessageTooLarge indicates a frame exceeded the maximum size. The
	// framer has discarded it and can keep reading.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrMessageEmpty indicates an empty frame.
	ErrMessageEmpty = errors.New("message is empty")

	// ErrFrameTruncated indicates the stream ended inside a frame.
	ErrFrameTruncated = errors.New("frame truncated")

	// ErrUnknownFraming indicates an unsupported framing name.
	ErrUnknownFraming = errors.New("unknown framing")

	// ErrInvalidPayload indicates a payload that cannot be framed, such as
	// one containing the line delimiter.
	ErrInvalidPayload = errors.New("invalid payload")
)

// Framing selects how messages are delimited on the relay stream.
type Framing string

const (
	// FramingRaw treats every successful read as one message. This is what
	// the deployed relay does: it never delimits its writes, so two messages
	// arriving in one segment are indistinguishable from one.
	FramingRaw Framing = "raw"

	// FramingLine delimits messages with '\n'.
	FramingLine Framing = "line"

	// FramingLength prefixes each message with a 4-byte big-endian length.
	FramingLength Framing = "length"
)

// ParseFraming accepts a framing name; the empty string selects FramingRaw.
func ParseFraming(s string) (Framing, error) {
	switch f := Framing(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FramingRaw, nil
	case FramingRaw, FramingLine, FramingLength:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFraming, s)
	}
}

// Framer reads and writes whole messages on a byte stream.
//
// ReadFrame keeps partial frames across calls, so a read deadline expiring
// mid-frame loses nothing. ErrMessageTooLarge is not fatal: the oversized
// frame is dropped and the next call continues with the following frame.
type Framer interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	SetLogger(logger log.Logger, connID string)
}

// NewFramer returns a framer of the given kind over rw. A maxSize of zero
// selects DefaultMaxMessageSize.
func NewFramer(kind Framing, rw io.ReadWriter, maxSize int) (Framer, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	switch kind {
	case FramingRaw, "":
		return &rawFramer{frameBase: frameBase{w: rw, maxSize: maxSize}, r: rw, buf: make([]byte, maxSize+1)}, nil
	case FramingLine:
		return &lineFramer{frameBase: frameBase{w: rw, maxSize: maxSize}, r: rw, chunk: make([]byte, readChunkSize)}, nil
	case FramingLength:
		return &lengthFramer{frameBase: frameBase{w: rw, maxSize: maxSize}, r: rw, scratch: make([]byte, readChunkSize)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFraming, string(kind))
	}
}

// frameBase holds the write side and logging shared by all framers.
type frameBase struct {
	w       io.Writer
	maxSize int
	mu      sync.Mutex

	logger log.Logger
	connID string
}

// SetLogger configures frame logging. Pass nil to disable.
func (b *frameBase) SetLogger(logger log.Logger, connID string) {
	b.logger = logger
	b.connID = connID
}

func (b *frameBase) checkOutgoing(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if len(data) > b.maxSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), b.maxSize)
	}
	return nil
}

// write emits frame as a single Write so a message never interleaves with
// another writer's bytes.
func (b *frameBase) write(frame []byte, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	b.logFrame(log.DirectionOut, len(frame), payload)
	return nil
}

func (b *frameBase) logFrame(dir log.Direction, size int, payload []byte) {
	if b.logger == nil {
		return
	}
	b.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: b.connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame:        log.NewFrameEvent(size, payload),
	})
}

func (b *frameBase) logOversized(size int) {
	if b.logger == nil {
		return
	}
	b.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: b.connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		Frame:        &log.FrameEvent{Size: size, Oversized: true},
	})
}

func (b *frameBase) tooLarge(size int) error {
	b.logOversized(size)
	return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, size, b.maxSize)
}

// rawFramer maps one Read to one message.
type rawFramer struct {
	frameBase
	r   io.Reader
	buf []byte
}

func (f *rawFramer) ReadFrame() ([]byte, error) {
	n, err := f.r.Read(f.buf)
	if n > f.maxSize {
		return nil, f.tooLarge(n)
	}
	if n > 0 {
		out := append([]byte(nil), f.buf[:n]...)
		f.logFrame(log.DirectionIn, n, out)
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, ErrMessageEmpty
}

func (f *rawFramer) WriteFrame(data []byte) error {
	if err := f.checkOutgoing(data); err != nil {
		return err
	}
	return f.write(data, data)
}

// lineFramer splits the stream on '\n'. A trailing '\r' is stripped and
// blank lines are skipped.
type lineFramer struct {
	frameBase
	r       io.Reader
	chunk   []byte
	pending []byte

	// discarding is set while skipping the rest of an oversized line.
	discarding bool
	discarded  int

	// readErr is a read error deferred until pending is exhausted.
	readErr error
}

func (f *lineFramer) ReadFrame() ([]byte, error) {
	for {
		if frame, ok, err := f.extract(); ok || err != nil {
			return frame, err
		}

		if f.readErr != nil {
			err := f.readErr
			f.readErr = nil
			if errors.Is(err, io.EOF) && (len(f.pending) > 0 || f.discarding) {
				f.pending = nil
				f.discarding = false
				return nil, ErrFrameTruncated
			}
			return nil, err
		}

		n, err := f.r.Read(f.chunk)
		if n > 0 {
			f.pending = append(f.pending, f.chunk[:n]...)
		}
		if err != nil {
			f.readErr = err
		}
	}
}

// extract pulls the next complete line out of pending. It reports ok=false
// when more input is needed.
func (f *lineFramer) extract() ([]byte, bool, error) {
	for {
		i := bytes.IndexByte(f.pending, '\n')
		if i < 0 {
			if f.discarding {
				f.discarded += len(f.pending)
				f.pending = f.pending[:0]
				return nil, false, nil
			}
			// A trailing '\r' may still turn out to be half of "\r\n".
			n := len(f.pending)
			if n > 0 && f.pending[n-1] == '\r' {
				n--
			}
			if n > f.maxSize {
				f.discarding = true
				f.discarded = len(f.pending)
				f.pending = f.pending[:0]
				return nil, false, f.tooLarge(f.discarded)
			}
			return nil, false, nil
		}

		line := f.pending[:i]
		rest := f.pending[i+1:]

		if f.discarding {
			f.discarding = false
			f.discarded = 0
			f.pending = append(f.pending[:0], rest...)
			continue
		}

		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(line) > f.maxSize {
			f.pending = append(f.pending[:0], rest...)
			return nil, false, f.tooLarge(len(line))
		}
		if len(line) == 0 {
			f.pending = append(f.pending[:0], rest...)
			continue
		}

		out := append([]byte(nil), line...)
		f.pending = append(f.pending[:0], rest...)
		f.logFrame(log.DirectionIn, i+1, out)
		return out, true, nil
	}
}

func (f *lineFramer) WriteFrame(data []byte) error {
	if err := f.checkOutgoing(data); err != nil {
		return err
	}
	if bytes.IndexByte(data, '\n') >= 0 {
		return fmt.Errorf("%w: contains a newline", ErrInvalidPayload)
	}
	frame := make([]byte, 0, len(data)+1)
	frame = append(frame, data...)
	frame = append(frame, '\n')
	return f.write(frame, data)
}

// lengthFramer reads 4-byte big-endian length-prefixed frames.
type lengthFramer struct {
	frameBase
	r io.Reader

	header  [LengthPrefixSize]byte
	headerN int

	payload  []byte
	payloadN int

	// drain counts bytes of an oversized payload still to skip.
	drain     int
	drainSize int
	scratch   []byte
}

func (f *lengthFramer) ReadFrame() ([]byte, error) {
	for {
		switch {
		case f.drain > 0:
			n := f.drain
			if n > len(f.scratch) {
				n = len(f.scratch)
			}
			m, err := f.r.Read(f.scratch[:n])
			f.drain -= m
			if f.drain == 0 {
				size := f.drainSize
				f.drainSize = 0
				return nil, f.tooLarge(size)
			}
			if err != nil {
				return nil, f.midFrame(err)
			}

		case f.headerN < LengthPrefixSize:
			m, err := f.r.Read(f.header[f.headerN:])
			f.headerN += m
			if f.headerN < LengthPrefixSize {
				if err == nil {
					continue
				}
				if errors.Is(err, io.EOF) && f.headerN == 0 {
					return nil, io.EOF
				}
				return nil, f.midFrame(err)
			}

			length := int(binary.BigEndian.Uint32(f.header[:]))
			switch {
			case length == 0:
				f.headerN = 0
				return nil, ErrMessageEmpty
			case length > f.maxSize:
				f.headerN = 0
				f.drain = length
				f.drainSize = length
			default:
				f.payload = make([]byte, length)
				f.payloadN = 0
			}

		default:
			m, err := f.r.Read(f.payload[f.payloadN:])
			f.payloadN += m
			if f.payloadN == len(f.payload) {
				out := f.payload
				f.payload = nil
				f.payloadN = 0
				f.headerN = 0
				f.logFrame(log.DirectionIn, LengthPrefixSize+len(out), out)
				return out, nil
			}
			if err != nil {
				return nil, f.midFrame(err)
			}
		}
	}
}

// midFrame maps EOF inside a frame to ErrFrameTruncated and resets the
// decoder. Other errors, timeouts in particular, keep the partial state.
func (f *lengthFramer) midFrame(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		f.headerN = 0
		f.payload = nil
		f.payloadN = 0
		f.drain = 0
		f.drainSize = 0
		return ErrFrameTruncated
	}
	return err
}

func (f *lengthFramer) WriteFrame(data []byte) error {
	if err := f.checkOutgoing(data); err != nil {
		return err
	}
	frame := make([]byte, LengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[LengthPrefixSize:], data)
	return f.write(frame, data)
}

// FrameSize returns the on-wire size of a payload under kind.
func FrameSize(kind Framing, payloadSize int) int {
	switch kind {
	case FramingLine:
		return payloadSize + 1
	case FramingLength:
		return LengthPrefixSize + payloadSize
	default:
		return payloadSize
	}
}

var (
	_ Framer = (*rawFramer)(nil)
	_ Framer = (*lineFramer)(nil)
	_ Framer = (*lengthFramer)(nil)
)
