package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/lsp-wol/wol-go/pkg/magic"
)

// Waker errors.
var (
	// ErrClosed indicates the waker has been stopped.
	ErrClosed = errors.New("waker closed")

	// ErrBusy indicates the job queue is full.
	ErrBusy = errors.New("wake queue full")

	// ErrRateLimited indicates the request exceeded the configured rate.
	ErrRateLimited = errors.New("wake rate limited")
)

// DefaultQueueSize is the number of pending wake jobs accepted.
const DefaultQueueSize = 16

// PacketSender sends a payload to all broadcast targets. Implemented by Sender.
type PacketSender interface {
	Send(payload []byte) []Result
}

// WakerConfig configures a Waker.
type WakerConfig struct {
	// QueueSize bounds pending jobs (default: 16).
	QueueSize int

	// Rate is the sustained wake rate per second. Zero disables limiting.
	Rate float64

	// Burst is the limiter bucket size (default: 1 when Rate > 0).
	Burst int

	// OnResult is called on the worker goroutine after each job.
	OnResult func(macAddr string, results []Result)

	// Logger. Nil uses slog.Default().
	Logger *slog.Logger
}

type wakeJob struct {
	mac     string
	payload []byte
}

// Waker runs magic-packet sends on a single worker goroutine.
type Waker struct {
	config  WakerConfig
	sender  PacketSender
	limiter *rate.Limiter

	jobs chan wakeJob

	mu      sync.RWMutex
	closed  bool
	running bool
	done    chan struct{}
}

// NewWaker creates a waker. Call Start to run the worker.
func NewWaker(config WakerConfig, sender PacketSender) *Waker {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	limit := rate.Inf
	if config.Rate > 0 {
		limit = rate.Limit(config.Rate)
		if config.Burst <= 0 {
			config.Burst = 1
		}
	}

	return &Waker{
		config:  config,
		sender:  sender,
		limiter: rate.NewLimiter(limit, config.Burst),
		jobs:    make(chan wakeJob, config.QueueSize),
		done:    make(chan struct{}),
	}
}

// Start launches the worker. It stops when ctx is cancelled or Close is called.
func (w *Waker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running || w.closed {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.loop(ctx)
}

// Wake builds the magic packet for macAddr and queues it for sending.
// Format errors are returned synchronously and nothing is sent.
func (w *Waker) Wake(macAddr string) error {
	payload, err := magic.Build(macAddr)
	if err != nil {
		return err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	if !w.limiter.Allow() {
		return fmt.Errorf("%w: %s", ErrRateLimited, macAddr)
	}

	select {
	case w.jobs <- wakeJob{mac: macAddr, payload: payload}:
		return nil
	default:
		return ErrBusy
	}
}

// Close stops accepting jobs and waits for the worker to drain the queue.
func (w *Waker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	running := w.running
	close(w.jobs)
	w.mu.Unlock()

	if running {
		<-w.done
	}
}

func (w *Waker) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-w.jobs:
			if !ok {
				return
			}
			w.run(job)
		}
	}
}

func (w *Waker) run(job wakeJob) {
	defer func() {
		if r := recover(); r != nil {
			w.config.Logger.Error("magic packet worker panic", "mac", job.mac, "panic", r)
		}
	}()

	results := w.sender.Send(job.payload)
	if w.config.OnResult != nil {
		w.config.OnResult(job.mac, results)
	}
}
