// Package pipeline wires tasks into a staged dataflow run: a left fold
// over a slice of Tasks connected by bounded channels, a single trigger
// record released onto the first channel to start the producer, and
// closure cascading downstream on cancellation. Each stage is a live
// goroutine; there is no persistence layer.
package pipeline

import (
	"github.com/oriys/skysweep/internal/sources"
)

// Record is the unit of data flowing between pipeline stages.
type Record = sources.Record

// Role is the capability a Task declares.
type Role int

const (
	RoleProducer Role = iota
	RoleFilter
	RoleConsumer
	RoleCache
)

func (r Role) String() string {
	switch r {
	case RoleProducer:
		return "producer"
	case RoleFilter:
		return "filter"
	case RoleConsumer:
		return "consumer"
	case RoleCache:
		return "cache"
	default:
		return "unknown"
	}
}

// DefaultCapacity is the default bounded channel capacity between
// stages.
const DefaultCapacity = 16

// Handle is returned alongside a Task's output channel; its completion
// signals the task's end.
type Handle struct {
	done chan struct{}
	err  error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) finish(err error) {
	h.err = err
	close(h.done)
}

// Wait blocks until the task has finished and returns its terminal
// error, if any.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Done exposes the completion channel directly, for callers that want
// to select on several handles at once.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Task is one stage of a pipeline. Run spawns a background
// worker and returns immediately with the downstream channel and a
// handle whose completion signals the task's end.
type Task interface {
	Cap() Role
	Run(in <-chan Record) (<-chan Record, *Handle)
}
