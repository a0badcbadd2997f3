// Package stats accumulates per-tag runtime counters behind an actor:
// a single goroutine owning a map of per-tag counters, driven by a
// buffered command channel so that messages for one tag are always
// processed in send order — a guarantee a shared mutex cannot give
// under concurrent senders the way a single-writer loop can.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/skysweep/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// Counters holds the per-tag counter fields.
type Counters struct {
	Pkts      int64
	Bytes     int64
	Hits      int64
	Miss      int64
	Empty     int64
	Err       int64
	Reconnect int64
	Elapsed   time.Duration
}

type command struct {
	kind  cmdKind
	tag   string
	delta int64
	reply chan Counters
}

type cmdKind int

const (
	cmdNew cmdKind = iota
	cmdUpdate
	cmdPkts
	cmdBytes
	cmdHit
	cmdMiss
	cmdEmpty
	cmdError
	cmdReconnect
	cmdPrint
	cmdReset
	cmdGet
	cmdExit
)

// PrintInterval is the default cadence at which the actor emits a
// Print command to itself.
const PrintInterval = 30 * time.Second

// Actor is the Stats Actor. Start it once; every other method sends a
// command onto its single channel.
type Actor struct {
	cmds     chan command
	done     chan struct{}
	registry *prometheus.Registry
	pkts     *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	errs     *prometheus.CounterVec
	reconn   *prometheus.CounterVec
}

// New creates and starts a Stats Actor. reg may be nil to skip
// Prometheus export.
func New(reg *prometheus.Registry) *Actor {
	a := &Actor{
		cmds:     make(chan command, 64),
		done:     make(chan struct{}),
		registry: reg,
	}
	if reg != nil {
		a.pkts = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "skysweep", Name: "pkts_total", Help: "Packets emitted per job/site tag."}, []string{"tag"})
		a.bytes = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "skysweep", Name: "bytes_total", Help: "Bytes emitted per job/site tag."}, []string{"tag"})
		a.errs = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "skysweep", Name: "errors_total", Help: "Adapter errors per job/site tag."}, []string{"tag"})
		a.reconn = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "skysweep", Name: "reconnects_total", Help: "Adapter reconnects per job/site tag."}, []string{"tag"})
		reg.MustRegister(a.pkts, a.bytes, a.errs, a.reconn)
	}
	go a.run()
	return a
}

func (a *Actor) run() {
	start := make(map[string]time.Time)
	counters := make(map[string]*Counters)
	ticker := time.NewTicker(PrintInterval)
	defer ticker.Stop()
	defer close(a.done)

	ensure := func(tag string) *Counters {
		c, ok := counters[tag]
		if !ok {
			c = &Counters{}
			counters[tag] = c
			start[tag] = time.Now()
		}
		return c
	}

	for {
		select {
		case <-ticker.C:
			a.print(counters, start)
		case cmd, ok := <-a.cmds:
			if !ok {
				return
			}
			switch cmd.kind {
			case cmdNew:
				ensure(cmd.tag)
			case cmdUpdate:
				ensure(cmd.tag).Pkts += cmd.delta
			case cmdPkts:
				ensure(cmd.tag).Pkts += cmd.delta
				if a.pkts != nil {
					a.pkts.WithLabelValues(cmd.tag).Add(float64(cmd.delta))
				}
			case cmdBytes:
				ensure(cmd.tag).Bytes += cmd.delta
				if a.bytes != nil {
					a.bytes.WithLabelValues(cmd.tag).Add(float64(cmd.delta))
				}
			case cmdHit:
				ensure(cmd.tag).Hits++
			case cmdMiss:
				ensure(cmd.tag).Miss++
			case cmdEmpty:
				ensure(cmd.tag).Empty++
			case cmdError:
				ensure(cmd.tag).Err++
				if a.errs != nil {
					a.errs.WithLabelValues(cmd.tag).Inc()
				}
			case cmdReconnect:
				ensure(cmd.tag).Reconnect++
				if a.reconn != nil {
					a.reconn.WithLabelValues(cmd.tag).Inc()
				}
			case cmdPrint:
				a.print(counters, start)
			case cmdReset:
				if _, ok := counters[cmd.tag]; ok {
					counters[cmd.tag] = &Counters{}
					start[cmd.tag] = time.Now()
				}
			case cmdGet:
				c := ensure(cmd.tag)
				c.Elapsed = time.Since(start[cmd.tag])
				if cmd.reply != nil {
					cmd.reply <- *c
				}
			case cmdExit:
				return
			}
		}
	}
}

func (a *Actor) print(counters map[string]*Counters, start map[string]time.Time) {
	for tag, c := range counters {
		logging.Op().Info("stats",
			"tag", tag,
			"pkts", c.Pkts,
			"bytes", c.Bytes,
			"hits", c.Hits,
			"miss", c.Miss,
			"empty", c.Empty,
			"err", c.Err,
			"reconnect", c.Reconnect,
			"elapsed", time.Since(start[tag]).Truncate(time.Second),
		)
	}
}

// New registers a fresh tag with zeroed counters.
func (a *Actor) New(tag string) { a.cmds <- command{kind: cmdNew, tag: tag} }

// Print requests an immediate snapshot print.
func (a *Actor) Print() { a.cmds <- command{kind: cmdPrint} }

// Reset zeroes the named tag's counters.
func (a *Actor) Reset(tag string) { a.cmds <- command{kind: cmdReset, tag: tag} }

// Get returns a snapshot of the named tag's counters.
func (a *Actor) Get(ctx context.Context, tag string) (Counters, error) {
	reply := make(chan Counters, 1)
	select {
	case a.cmds <- command{kind: cmdGet, tag: tag, reply: reply}:
	case <-ctx.Done():
		return Counters{}, ctx.Err()
	}
	select {
	case c := <-reply:
		return c, nil
	case <-ctx.Done():
		return Counters{}, ctx.Err()
	}
}

// Exit stops the actor goroutine. It is safe to call at most once.
func (a *Actor) Exit() {
	a.cmds <- command{kind: cmdExit}
	<-a.done
}

// Handle is a tag-scoped view onto an Actor, handed to a single
// adapter/worker so it never has to repeat its tag on every call.
type Handle struct {
	actor *Actor
	tag   string
}

// NewHandle registers tag and returns a Handle bound to it.
func (a *Actor) NewHandle(tag string) *Handle {
	a.New(tag)
	return &Handle{actor: a, tag: tag}
}

func (h *Handle) Tag() string { return h.tag }

func (h *Handle) Pkts(n int64) {
	h.actor.cmds <- command{kind: cmdPkts, tag: h.tag, delta: n}
}

func (h *Handle) Bytes(n int64) {
	h.actor.cmds <- command{kind: cmdBytes, tag: h.tag, delta: n}
}

func (h *Handle) Hit() {
	h.actor.cmds <- command{kind: cmdHit, tag: h.tag}
}

func (h *Handle) Miss() {
	h.actor.cmds <- command{kind: cmdMiss, tag: h.tag}
}

func (h *Handle) Empty() {
	h.actor.cmds <- command{kind: cmdEmpty, tag: h.tag}
}

func (h *Handle) Error() {
	h.actor.cmds <- command{kind: cmdError, tag: h.tag}
}

func (h *Handle) Reconnect() {
	h.actor.cmds <- command{kind: cmdReconnect, tag: h.tag}
}

func (h *Handle) Get(ctx context.Context) (Counters, error) {
	return h.actor.Get(ctx, h.tag)
}

// JobTag formats the canonical tag for a job id.
func JobTag(jobID uint64) string {
	return fmt.Sprintf("job#%d", jobID)
}
