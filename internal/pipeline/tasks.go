package pipeline

import (
	"context"
	"sync"

	"github.com/oriys/skysweep/internal/cache"
	"github.com/oriys/skysweep/internal/telemetry"
)

// ProducerTask waits for the trigger record on its input channel, then
// calls Fetch to push records downstream. It never reads anything from
// in beyond the single trigger — a Producer is the head of a pipeline.
type ProducerTask struct {
	Fetch    func(ctx context.Context, out chan<- Record) error
	Capacity int

	ctx context.Context
}

// NewProducerTask builds a ProducerTask bound to ctx, used for
// cancellation of the Fetch call. fetch is typically a Supervisor
// Worker's Output drain or a Fetchable.Fetch call.
func NewProducerTask(ctx context.Context, fetch func(context.Context, chan<- Record) error, capacity int) *ProducerTask {
	return &ProducerTask{Fetch: fetch, Capacity: capacity, ctx: ctx}
}

func (t *ProducerTask) Cap() Role { return RoleProducer }

func (t *ProducerTask) Run(in <-chan Record) (<-chan Record, *Handle) {
	capacity := t.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	out := make(chan Record, capacity)
	h := newHandle()

	go func() {
		defer close(out)
		ctx, span := telemetry.StartSpan(t.ctx, "pipeline.stage", telemetry.AttrStage.String(t.Cap().String()))
		defer func() {
			telemetry.RecordError(span, h.err)
			span.End()
		}()
		select {
		case <-in:
		case <-ctx.Done():
			h.finish(ctx.Err())
			return
		}
		h.finish(t.Fetch(ctx, out))
	}()

	return out, h
}

// FilterTask applies Transform to every record it receives, forwarding
// only those Transform keeps. It closes its output once its input
// closes, cascading shutdown downstream.
type FilterTask struct {
	Transform func(Record) (Record, bool, error)
	Capacity  int

	ctx context.Context
}

// NewFilterTask builds a FilterTask bound to ctx for early exit on
// cancellation.
func NewFilterTask(ctx context.Context, transform func(Record) (Record, bool, error), capacity int) *FilterTask {
	return &FilterTask{Transform: transform, Capacity: capacity, ctx: ctx}
}

func (t *FilterTask) Cap() Role { return RoleFilter }

func (t *FilterTask) Run(in <-chan Record) (<-chan Record, *Handle) {
	capacity := t.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	out := make(chan Record, capacity)
	h := newHandle()

	go func() {
		defer close(out)
		_, span := telemetry.StartSpan(t.ctx, "pipeline.stage", telemetry.AttrStage.String(t.Cap().String()))
		defer func() {
			telemetry.RecordError(span, h.err)
			span.End()
		}()
		for {
			select {
			case rec, ok := <-in:
				if !ok {
					h.finish(nil)
					return
				}
				transformed, keep, err := t.Transform(rec)
				if err != nil {
					h.finish(err)
					return
				}
				if !keep {
					continue
				}
				select {
				case out <- transformed:
				case <-t.ctx.Done():
					h.finish(t.ctx.Err())
					return
				}
			case <-t.ctx.Done():
				h.finish(t.ctx.Err())
				return
			}
		}
	}()

	return out, h
}

// CacheTask dedups records against a cache.Cache keyed by KeyOf,
// forwarding only records not already seen within the cache's TTL.
type CacheTask struct {
	Store    func(Record) ([]byte, error) // cache value to store, nil stores the raw record
	KeyOf    func(Record) string
	Cache    cache.Cache
	Capacity int

	ctx context.Context
}

// NewCacheTask builds a CacheTask. keyOf derives the dedup key from a
// record; store (optional) derives the bytes persisted under that key,
// defaulting to the raw record.
func NewCacheTask(ctx context.Context, c cache.Cache, keyOf func(Record) string, store func(Record) ([]byte, error), capacity int) *CacheTask {
	return &CacheTask{Store: store, KeyOf: keyOf, Cache: c, Capacity: capacity, ctx: ctx}
}

func (t *CacheTask) Cap() Role { return RoleCache }

func (t *CacheTask) Run(in <-chan Record) (<-chan Record, *Handle) {
	capacity := t.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	out := make(chan Record, capacity)
	h := newHandle()

	go func() {
		defer close(out)
		_, span := telemetry.StartSpan(t.ctx, "pipeline.stage", telemetry.AttrStage.String(t.Cap().String()))
		defer func() {
			telemetry.RecordError(span, h.err)
			span.End()
		}()
		for {
			select {
			case rec, ok := <-in:
				if !ok {
					h.finish(nil)
					return
				}
				key := t.KeyOf(rec)
				if _, err := t.Cache.Get(t.ctx, key); err == nil {
					continue // already seen, drop
				}
				value := []byte(rec)
				if t.Store != nil {
					v, err := t.Store(rec)
					if err != nil {
						h.finish(err)
						return
					}
					value = v
				}
				_ = t.Cache.Set(t.ctx, key, value, 0)

				select {
				case out <- rec:
				case <-t.ctx.Done():
					h.finish(t.ctx.Err())
					return
				}
			case <-t.ctx.Done():
				h.finish(t.ctx.Err())
				return
			}
		}
	}()

	return out, h
}

// ConsumerTask drains in, invoking Sink for every record, and is
// typically the final stage before Pipeline.Run's own terminal drain
// (a pipeline whose last task is a Consumer produces no buffered
// records of its own — Sink does the real work, e.g. persisting to
// Postgres).
type ConsumerTask struct {
	Sink     func(Record) error
	Capacity int

	ctx context.Context

	mu      sync.Mutex
	lastErr error
}

// NewConsumerTask builds a ConsumerTask bound to ctx.
func NewConsumerTask(ctx context.Context, sink func(Record) error, capacity int) *ConsumerTask {
	return &ConsumerTask{Sink: sink, Capacity: capacity, ctx: ctx}
}

func (t *ConsumerTask) Cap() Role { return RoleConsumer }

func (t *ConsumerTask) Run(in <-chan Record) (<-chan Record, *Handle) {
	capacity := t.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	out := make(chan Record, capacity)
	h := newHandle()

	go func() {
		defer close(out)
		_, span := telemetry.StartSpan(t.ctx, "pipeline.stage", telemetry.AttrStage.String(t.Cap().String()))
		defer func() {
			telemetry.RecordError(span, h.err)
			span.End()
		}()
		for {
			select {
			case rec, ok := <-in:
				if !ok {
					h.finish(t.LastErr())
					return
				}
				if err := t.Sink(rec); err != nil {
					t.mu.Lock()
					t.lastErr = err
					t.mu.Unlock()
					continue
				}
			case <-t.ctx.Done():
				h.finish(t.ctx.Err())
				return
			}
		}
	}()

	return out, h
}

// LastErr returns the most recent Sink error observed, if any.
func (t *ConsumerTask) LastErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}
