package connection

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lsp-wol/wol-go/pkg/log"
	"github.com/lsp-wol/wol-go/pkg/notify"
)

// DefaultRetryInterval is the sleep between supervisor cycles.
const DefaultRetryInterval = 30 * time.Second

// Notices shown to the user.
const (
	NoticeNoNetwork = "no validated network connection"
	NoticeConnected = "connected to %s"
)

// State represents the supervisor's view of the relay connection.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Session is the connection the supervisor drives. Implemented by
// session.Session.
type Session interface {
	Connect(ctx context.Context) error
	Serve(ctx context.Context) error
	Teardown()
	Remote() string
}

// Prober reports whether the host has working internet access.
// Implemented by netprobe.Prober.
type Prober interface {
	HasValidatedInternet() bool
}

// Config configures a Supervisor.
type Config struct {
	// RetryInterval is the sleep after every cycle (default: 30s).
	RetryInterval time.Duration

	// Sink receives connectivity notices. Nil discards them.
	Sink notify.Sink

	// Logger for operational logs. Nil uses slog.Default().
	Logger *slog.Logger

	// ProtocolLogger records supervisor state changes.
	ProtocolLogger log.Logger
}

// Supervisor owns the reconnect loop.
type Supervisor struct {
	mu sync.RWMutex

	state   State
	session Session
	prober  Prober
	config  Config
	logger  *slog.Logger
	plog    log.Logger
	sink    notify.Sink

	cycles  atomic.Uint64
	trigger chan struct{}

	// cancelServe ends the running Serve call; nil outside Serve.
	cancelServe context.CancelFunc
	skipSleep   atomic.Bool

	onStateChange func(oldState, newState State)
}

// NewSupervisor creates a supervisor for session. A nil prober treats the
// network as always available.
func NewSupervisor(session Session, prober Prober, config Config) *Supervisor {
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Supervisor{
		state:   StateDisconnected,
		session: session,
		prober:  prober,
		config:  config,
		logger:  config.Logger.With("component", "supervisor"),
		plog:    log.OrNoop(config.ProtocolLogger),
		sink:    notify.OrNoop(config.Sink),
		trigger: make(chan struct{}, 1),
	}
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Cycles returns the number of completed cycles.
func (s *Supervisor) Cycles() uint64 {
	return s.cycles.Load()
}

// OnStateChange sets a callback for state changes. It runs on the
// supervisor goroutine.
func (s *Supervisor) OnStateChange(fn func(oldState, newState State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// Trigger ends the current retry sleep early.
func (s *Supervisor) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
		// Already pending
	}
}

// Reconnect drops the current link and starts a new cycle without waiting
// for the retry sleep. The session is torn down on the supervisor goroutine.
func (s *Supervisor) Reconnect() {
	s.mu.RLock()
	cancel := s.cancelServe
	s.mu.RUnlock()
	if cancel == nil {
		s.Trigger()
		return
	}
	s.skipSleep.Store(true)
	cancel()
}

// Run loops until ctx is cancelled and then returns ctx.Err(). The session
// is torn down on the way out.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.session.Teardown()

	for {
		s.cycle(ctx)
		s.cycles.Add(1)

		if ctx.Err() != nil {
			s.setState(StateDisconnected, "stopped")
			return ctx.Err()
		}

		// A trigger that arrived while the cycle ran has nothing to wake.
		select {
		case <-s.trigger:
		default:
		}
		if s.skipSleep.Swap(false) {
			s.logger.Debug("reconnect requested, skipping retry sleep")
			continue
		}

		t := time.NewTimer(s.config.RetryInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			s.setState(StateDisconnected, "stopped")
			return ctx.Err()
		case <-s.trigger:
			t.Stop()
			s.logger.Debug("retry sleep interrupted")
		case <-t.C:
		}
	}
}

// cycle runs steps 1-4. A panic anywhere ends the cycle, not the loop.
func (s *Supervisor) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cycle panicked", "panic", r, "stack", string(debug.Stack()))
			s.safeTeardown()
			s.setState(StateDisconnected, fmt.Sprintf("panic: %v", r))
		}
	}()

	if s.prober != nil && !s.prober.HasValidatedInternet() {
		s.logger.Info("no validated network, skipping connect")
		s.sink.Notify(NoticeNoNetwork)
		return
	}

	s.session.Teardown()

	s.setState(StateConnecting, "")
	if err := s.session.Connect(ctx); err != nil {
		s.logger.Warn("connect failed", "error", err)
		s.setState(StateDisconnected, err.Error())
		return
	}

	remote := s.session.Remote()
	s.setState(StateConnected, "")
	s.sink.Notify(fmt.Sprintf(NoticeConnected, remote))

	err := s.serve(ctx)
	s.session.Teardown()

	reason := "link closed"
	if err != nil {
		reason = err.Error()
		if ctx.Err() == nil {
			s.logger.Warn("session ended", "remote", remote, "error", err)
		}
	}
	s.setState(StateDisconnected, reason)
}

// serve runs the session under a context Reconnect can cancel.
func (s *Supervisor) serve(ctx context.Context) error {
	serveCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelServe = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cancelServe = nil
		s.mu.Unlock()
		cancel()
	}()
	return s.session.Serve(serveCtx)
}

func (s *Supervisor) safeTeardown() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("teardown panicked", "panic", r)
		}
	}()
	s.session.Teardown()
}

func (s *Supervisor) setState(newState State, reason string) {
	s.mu.Lock()
	oldState := s.state
	if oldState == newState {
		s.mu.Unlock()
		return
	}
	s.state = newState
	cb := s.onStateChange
	s.mu.Unlock()

	s.plog.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerSession,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySupervisor,
			OldState: oldState.String(),
			NewState: newState.String(),
			Reason:   reason,
		},
	})
	if cb != nil {
		cb(oldState, newState)
	}
}
