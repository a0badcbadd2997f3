// Package supervisor runs the streaming side of the engine: one Worker
// per live stream, each wrapping exactly one adapter, grouped so the
// Supervisor can broadcast a stop to every member of a named group at
// shutdown.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/skysweep/internal/logging"
	"github.com/oriys/skysweep/internal/sources"
	"github.com/oriys/skysweep/internal/stats"
)

// State is the Worker lifecycle state machine: Idle →
// Connecting → Authenticating → Streaming → (Error|Cancelled) →
// Closing → Idle.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticating
	StateStreaming
	StateError
	StateCancelled
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	case StateCancelled:
		return "cancelled"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// DefaultReconnectDelay is the reconnect backoff cap.
const DefaultReconnectDelay = 2 * time.Second

// Worker holds the open connection (via its bound adapter) and the
// output channel for one stream. It handles exactly one Consume call,
// loops until killed, and exits cleanly on receipt of a kill.
type Worker struct {
	id      string
	site    sources.Site
	adapter sources.Streamable
	stats   *stats.Handle
	group   string
	output  chan sources.Record

	state State

	mu     sync.Mutex
	killed bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker constructs a Worker bound to a resolved Streamable adapter.
// outCap sizes the worker's output channel (0 means 16). Each
// worker is assigned a random correlation id used in logs and status
// queries to disambiguate successive workers bound to the same site.
func NewWorker(site sources.Site, adapter sources.Streamable, st *stats.Handle, group string, outCap int) *Worker {
	if outCap <= 0 {
		outCap = 16
	}
	return &Worker{
		id:      uuid.NewString(),
		site:    site,
		adapter: adapter,
		stats:   st,
		group:   group,
		output:  make(chan sources.Record, outCap),
		state:   StateIdle,
		done:    make(chan struct{}),
	}
}

func (w *Worker) State() State { return State(atomic.LoadInt32((*int32)(&w.state))) }

func (w *Worker) setState(s State) { atomic.StoreInt32((*int32)(&w.state), int32(s)) }

// ID returns the worker's correlation id.
func (w *Worker) ID() string { return w.id }

// Group returns the named group this worker joined.
func (w *Worker) Group() string { return w.group }

// Done returns a channel closed once the worker has fully exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Output returns the worker's output channel for a caller to drain.
func (w *Worker) Output() <-chan sources.Record { return w.output }

// Kill cancels the worker's context. It is safe to call more than once,
// and safe to call before Consume has started — a pre-start kill is
// remembered and applied as soon as Consume begins.
func (w *Worker) Kill() {
	w.mu.Lock()
	w.killed = true
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Consume runs the worker's single Consume(filter, duration) message:
// authenticate, stream, and on a transient stream error reconnect with
// backoff capped at delay. It returns once the adapter's
// Stream call returns cleanly (EOS / cancellation) or the context is
// killed. The output channel is closed on return so downstream readers
// observe EOS.
func (w *Worker) Consume(ctx context.Context, filter sources.Filter, delay time.Duration) error {
	defer close(w.done)
	defer close(w.output)
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	killed := w.killed
	w.mu.Unlock()
	if killed {
		cancel()
	}
	defer cancel()

	args, err := json.Marshal(filter)
	if err != nil {
		w.setState(StateError)
		return fmt.Errorf("supervisor: marshal filter: %w", err)
	}

	backoff := 250 * time.Millisecond
	for {
		if runCtx.Err() != nil {
			w.setState(StateCancelled)
			return nil
		}

		w.setState(StateConnecting)
		w.setState(StateAuthenticating)
		bearer, err := w.adapter.Authenticate(runCtx)
		if err != nil {
			w.setState(StateError)
			w.stats.Error()
			if !backoffOrExit(runCtx, &backoff, delay) {
				return nil
			}
			continue
		}

		w.setState(StateStreaming)
		err = w.adapter.Stream(runCtx, w.output, bearer, args)
		if runCtx.Err() != nil {
			w.setState(StateCancelled)
			return nil
		}
		if err == nil {
			w.setState(StateClosing)
			w.setState(StateIdle)
			return nil
		}

		w.setState(StateError)
		w.stats.Error()
		w.stats.Reconnect()
		logging.Op().Warn("worker stream ended with error, reconnecting", "worker", w.id, "site", w.site.Name, "error", err)
		if !backoffOrExit(runCtx, &backoff, delay) {
			return nil
		}
	}
}

func backoffOrExit(ctx context.Context, backoff *time.Duration, cap time.Duration) bool {
	t := time.NewTimer(*backoff)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return false
	}
	*backoff *= 2
	if *backoff > cap {
		*backoff = cap
	}
	return true
}
