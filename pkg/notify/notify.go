// Package notify delivers user-facing notices from the background client to
// whatever presentation layer is attached.
package notify

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Sink receives notices. Implementations must not block for long: they are
// called from the session goroutine.
type Sink interface {
	// Notify shows a transient message.
	Notify(msg string)

	// NotifyModal reports how many devices received a wake command. The
	// count is passed through as the relay sent it.
	NotifyModal(count string)
}

// Kind distinguishes transient from modal notices.
type Kind uint8

const (
	KindMessage Kind = iota
	KindModal
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindModal:
		return "modal"
	default:
		return "unknown"
	}
}

// Notification is a notice captured by ChannelSink.
type Notification struct {
	Kind Kind
	Text string
	Time time.Time
}

// ModalText renders the modal notice shown for a device count.
func ModalText(count string) string {
	return fmt.Sprintf("%s device(s) received the wake command", count)
}

// Noop discards all notices.
type Noop struct{}

func (Noop) Notify(string)      {}
func (Noop) NotifyModal(string) {}

// FuncSink adapts two functions to Sink. Nil functions are skipped.
type FuncSink struct {
	OnNotify func(msg string)
	OnModal  func(count string)
}

func (f FuncSink) Notify(msg string) {
	if f.OnNotify != nil {
		f.OnNotify(msg)
	}
}

func (f FuncSink) NotifyModal(count string) {
	if f.OnModal != nil {
		f.OnModal(count)
	}
}

// ChannelSink queues notices on a buffered channel for a UI goroutine to
// drain. When the buffer is full the notice is dropped and counted.
type ChannelSink struct {
	ch      chan Notification
	dropped atomic.Uint64
	now     func() time.Time
}

// NewChannelSink returns a sink with the given buffer size (minimum 1).
func NewChannelSink(size int) *ChannelSink {
	if size < 1 {
		size = 1
	}
	return &ChannelSink{ch: make(chan Notification, size), now: time.Now}
}

// C returns the receive side of the notice channel.
func (s *ChannelSink) C() <-chan Notification { return s.ch }

// Dropped returns how many notices were discarded on a full buffer.
func (s *ChannelSink) Dropped() uint64 { return s.dropped.Load() }

func (s *ChannelSink) Notify(msg string) {
	s.offer(Notification{Kind: KindMessage, Text: msg, Time: s.now()})
}

func (s *ChannelSink) NotifyModal(count string) {
	s.offer(Notification{Kind: KindModal, Text: count, Time: s.now()})
}

func (s *ChannelSink) offer(n Notification) {
	select {
	case s.ch <- n:
	default:
		s.dropped.Add(1)
	}
}

// LogSink writes notices to an slog.Logger at Info level.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s LogSink) Notify(msg string) {
	s.logger().Info("notice", "msg", msg)
}

func (s LogSink) NotifyModal(count string) {
	s.logger().Info("wake receipt", "devices", count)
}

// Multi fans a notice out to several sinks.
type Multi []Sink

func (m Multi) Notify(msg string) {
	for _, s := range m {
		s.Notify(msg)
	}
}

func (m Multi) NotifyModal(count string) {
	for _, s := range m {
		s.NotifyModal(count)
	}
}

// OrNoop returns s, or Noop when s is nil.
func OrNoop(s Sink) Sink {
	if s == nil {
		return Noop{}
	}
	return s
}

var (
	_ Sink = Noop{}
	_ Sink = FuncSink{}
	_ Sink = (*ChannelSink)(nil)
	_ Sink = LogSink{}
	_ Sink = Multi(nil)
)
