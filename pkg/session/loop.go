package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/lsp-wol/wol-go/pkg/log"
	"github.com/lsp-wol/wol-go/pkg/transport"
	"github.com/lsp-wol/wol-go/pkg/wire"
)

// Serve runs cycles until the link drops or ctx is cancelled. It returns
// ctx.Err() on cancellation and an error wrapping ErrDisconnected otherwise.
func (s *Session) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := s.Step(); err != nil {
			if errors.Is(err, ErrNotConnected) {
				return fmt.Errorf("%w: link closed", ErrDisconnected)
			}
			return fmt.Errorf("%w: %w", ErrDisconnected, err)
		}
	}
}

// Step runs one receive, send and heartbeat cycle. Any I/O fault tears the
// link down and is returned.
func (s *Session) Step() error {
	l := s.current()
	if l == nil {
		return ErrNotConnected
	}

	if err := s.receive(l); err != nil {
		s.teardown(l, err.Error())
		return err
	}

	drained, err := s.drain(l)
	if err != nil {
		s.teardown(l, err.Error())
		return err
	}
	if drained > 0 {
		return nil
	}

	if err := s.heartbeat(l); err != nil {
		s.teardown(l, err.Error())
		return err
	}
	return nil
}

func (s *Session) receive(l *link) error {
	timeout := s.config.ReadTimeout
	if l.reads == 0 {
		timeout = s.config.InitialReadTimeout
	}
	l.reads++

	data, err := l.conn.Receive(timeout)
	switch {
	case err == nil:
		s.handleFrame(l, data)
		return nil
	case transport.IsTimeout(err):
		return nil
	case errors.Is(err, transport.ErrMessageTooLarge):
		s.dropped.Add(1)
		s.logger.Warn("oversized frame discarded", "conn_id", l.connID, "error", err)
		return nil
	case errors.Is(err, transport.ErrMessageEmpty):
		return nil
	default:
		s.logError(l, log.LayerTransport, "read", err)
		return fmt.Errorf("receive: %w", err)
	}
}

func (s *Session) handleFrame(l *link, data []byte) {
	env, err := wire.Decode(data)
	if err != nil {
		s.malformed.Add(1)
		s.logger.Warn("malformed message", "conn_id", l.connID, "error", err, "size", len(data))
		s.logError(l, log.LayerWire, "decode", err)
		return
	}
	s.received.Add(1)
	s.logEnvelope(l, log.DirectionIn, env)

	if s.config.OnEnvelope != nil {
		s.config.OnEnvelope(env)
	}
	s.dispatch(l, env)
}

func (s *Session) dispatch(l *link, env wire.Envelope) {
	switch env.Cmd {
	case wire.CmdHeartbeat:
		l.liveness.Store(s.config.Now().UnixNano())
	case wire.CmdWakeDeviceSize:
		s.sink.NotifyModal(env.Data)
	default:
		s.sink.Notify(env.Cmd + ": " + env.Data)
	}
}

// drain writes every queued envelope. On a write fault the failed envelope
// is lost and the rest stay queued for the next link.
func (s *Session) drain(l *link) (int, error) {
	n := 0
	for {
		var env wire.Envelope
		select {
		case env = <-s.queue:
		default:
			return n, nil
		}
		n++

		if err := s.write(l, env); err != nil {
			if errors.Is(err, transport.ErrMessageTooLarge) || errors.Is(err, wire.ErrMissingCommand) {
				s.dropped.Add(1)
				s.logger.Warn("message dropped", "conn_id", l.connID, "cmd", env.Cmd, "error", err)
				continue
			}
			return n, fmt.Errorf("send %s: %w", env.Cmd, err)
		}
	}
}

func (s *Session) heartbeat(l *link) error {
	now := s.config.Now()
	last := l.liveness.Load()
	if last != 0 && now.UnixNano()-last <= int64(s.config.HeartbeatInterval) {
		return nil
	}
	// Stamped before the write so a stalled write cannot cause a flood.
	l.liveness.Store(now.UnixNano())

	env := wire.Envelope{
		Cmd:  wire.CmdHeartbeat,
		Data: strconv.FormatInt(now.UnixMilli(), 10),
		Host: l.host,
		Type: s.config.ClientType,
	}
	if err := s.write(l, env); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	s.heartbeats.Add(1)
	return nil
}

func (s *Session) write(l *link, env wire.Envelope) error {
	data, err := wire.Encode(env)
	if err != nil {
		return err
	}
	if err := l.conn.Send(data); err != nil {
		if !errors.Is(err, transport.ErrMessageTooLarge) {
			s.logError(l, log.LayerTransport, "write", err)
		}
		return err
	}
	s.sent.Add(1)
	s.logEnvelope(l, log.DirectionOut, env)
	return nil
}
