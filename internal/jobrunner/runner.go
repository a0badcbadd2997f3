// Package jobrunner is the glue between the Job Manager and the
// pipeline runtime: it turns a Job's Producer/Stages/Consumer
// TaskSpecs into a []pipeline.Task, drives one Pipeline.Run to
// completion, and feeds the result back into the Job's state machine.
package jobrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/oriys/skysweep/internal/archive"
	"github.com/oriys/skysweep/internal/cache"
	"github.com/oriys/skysweep/internal/circuitbreaker"
	"github.com/oriys/skysweep/internal/jobs"
	"github.com/oriys/skysweep/internal/logging"
	"github.com/oriys/skysweep/internal/pipeline"
	"github.com/oriys/skysweep/internal/sources"
	"github.com/oriys/skysweep/internal/stats"
	"github.com/oriys/skysweep/internal/supervisor"
)

// Runner executes Jobs, one Run call per Job, against the Sources
// Registry, the Supervisor (for streaming producers) and a Store consumer.
type Runner struct {
	Registry    *sources.Registry
	Supervisor  *supervisor.Supervisor
	Stats       *stats.Actor
	Manager     *jobs.Manager
	StorageRoot string
	Mirror      archive.Mirror
	// Capacity sizes every stage's channel buffer; 0 uses
	// pipeline.DefaultCapacity.
	Capacity int

	// reconnectDelay is passed to Supervisor.Spawn for streaming
	// producers.
	reconnectDelay time.Duration

	// breakers protects bounded Fetchable calls from hammering a site
	// whose backend is repeatedly failing.
	breakers *circuitbreaker.Registry
}

// breakerConfig tunes the fetch-producer circuit breaker: fail fast
// against a site that is clearly unreachable rather than retry it
// once per queued job.
func (r *Runner) breakerConfig() circuitbreaker.Config {
	return circuitbreaker.Config{
		ErrorPct:       50,
		WindowDuration: time.Minute,
		OpenDuration:   30 * time.Second,
		HalfOpenProbes: 1,
	}
}

// New builds a Runner. reconnectDelay bounds how long a streaming
// producer's Worker waits between reconnect attempts.
func New(reg *sources.Registry, sup *supervisor.Supervisor, statsAct *stats.Actor, mgr *jobs.Manager, storageRoot string, mirror archive.Mirror, reconnectDelay time.Duration) *Runner {
	if reconnectDelay <= 0 {
		reconnectDelay = supervisor.DefaultReconnectDelay
	}
	return &Runner{
		Registry:       reg,
		Supervisor:     sup,
		Stats:          statsAct,
		Manager:        mgr,
		StorageRoot:    storageRoot,
		Mirror:         mirror,
		reconnectDelay: reconnectDelay,
		breakers:       circuitbreaker.NewRegistry(),
	}
}

func (r *Runner) capacity() int {
	if r.Capacity > 0 {
		return r.Capacity
	}
	return pipeline.DefaultCapacity
}

// Run marks job Running, builds and executes its pipeline, and marks
// it Completed or Failed depending on the outcome.
func (r *Runner) Run(ctx context.Context, job *jobs.Job) error {
	if err := r.Manager.MarkRunning(job.ID); err != nil {
		return err
	}

	tasks, cleanup, err := r.buildTasks(ctx, job)
	defer cleanup()
	if err != nil {
		_ = r.Manager.MarkFailed(job.ID)
		return err
	}

	p := pipeline.New(job.Name, r.capacity())
	if _, runErr := p.Run(ctx, tasks); runErr != nil {
		logging.Op().Error("jobrunner: pipeline run failed", "job", job.ID, "name", job.Name, "error", runErr)
		_ = r.Manager.MarkFailed(job.ID)
		return runErr
	}

	return r.Manager.MarkCompleted(job.ID)
}

func (r *Runner) buildTasks(ctx context.Context, job *jobs.Job) ([]pipeline.Task, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	producer, err := r.producerTask(ctx, job, &closers)
	if err != nil {
		return nil, cleanup, err
	}
	tasks := []pipeline.Task{producer}

	for i, spec := range job.Stages {
		stage, err := r.stageTask(ctx, spec)
		if err != nil {
			return nil, cleanup, fmt.Errorf("jobrunner: stage %d: %w", i, err)
		}
		tasks = append(tasks, stage)
	}

	consumer, err := r.consumerTask(ctx, job, &closers)
	if err != nil {
		return nil, cleanup, err
	}
	tasks = append(tasks, consumer)

	return tasks, cleanup, nil
}

// producerTask resolves job.Producer.Site and wraps either a bounded
// Fetchable.Fetch call or an unbounded Supervisor-spawned Worker's
// Output drain as a pipeline.ProducerTask.
func (r *Runner) producerTask(ctx context.Context, job *jobs.Job, closers *[]func()) (pipeline.Task, error) {
	spec := job.Producer
	site, err := r.Registry.Site(spec.Site)
	if err != nil {
		return nil, fmt.Errorf("jobrunner: resolve producer site %s: %w", spec.Site, err)
	}
	st := r.Stats.NewHandle(stats.JobTag(job.ID))
	filter := spec.Filter.ToFilter()

	kind := spec.Kind
	if kind == "" {
		if site.CanStream() {
			kind = "stream"
		} else {
			kind = "fetch"
		}
	}

	switch kind {
	case "stream":
		group := fmt.Sprintf("job-%d", job.ID)
		worker, err := r.Supervisor.Spawn(ctx, spec.Site, filter, group, r.reconnectDelay)
		if err != nil {
			return nil, fmt.Errorf("jobrunner: spawn streaming producer %s: %w", spec.Site, err)
		}
		*closers = append(*closers, func() { r.Supervisor.StopSite(spec.Site) })

		fetch := func(ctx context.Context, out chan<- pipeline.Record) error {
			for {
				select {
				case rec, ok := <-worker.Output():
					if !ok {
						return nil
					}
					select {
					case out <- rec:
					case <-ctx.Done():
						return ctx.Err()
					}
				case <-worker.Done():
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		return pipeline.NewProducerTask(ctx, fetch, r.capacity()), nil

	case "fetch":
		adapter, err := r.Registry.AsFetchable(spec.Site, st)
		if err != nil {
			return nil, fmt.Errorf("jobrunner: resolve fetch producer %s: %w", spec.Site, err)
		}
		args, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("jobrunner: encode producer filter: %w", err)
		}
		breaker := r.breakers.Get(spec.Site, r.breakerConfig())
		fetch := func(ctx context.Context, out chan<- pipeline.Record) error {
			if breaker != nil && !breaker.Allow() {
				return fmt.Errorf("jobrunner: circuit open for site %s", spec.Site)
			}
			bearer, err := adapter.Authenticate(ctx)
			if err != nil {
				if breaker != nil {
					breaker.RecordFailure()
				}
				return fmt.Errorf("jobrunner: authenticate %s: %w", spec.Site, err)
			}
			err = adapter.Fetch(ctx, out, bearer, args)
			if breaker != nil {
				if err != nil {
					breaker.RecordFailure()
				} else {
					breaker.RecordSuccess()
				}
			}
			return err
		}
		return pipeline.NewProducerTask(ctx, fetch, r.capacity()), nil

	default:
		return nil, fmt.Errorf("jobrunner: unknown producer kind %q", kind)
	}
}

// stageTask builds a middle pipeline stage. "copy" is a passthrough
// FilterTask; "cache" dedups records by their raw byte content using
// an in-process TTL cache.
func (r *Runner) stageTask(ctx context.Context, spec jobs.TaskSpec) (pipeline.Task, error) {
	switch spec.Kind {
	case "", "copy":
		transform := func(rec pipeline.Record) (pipeline.Record, bool, error) { return rec, true, nil }
		return pipeline.NewFilterTask(ctx, transform, r.capacity()), nil
	case "cache":
		c := cache.NewInMemoryCache()
		keyOf := func(rec pipeline.Record) string { return string(rec) }
		store := func(rec pipeline.Record) ([]byte, error) { return rec, nil }
		return pipeline.NewCacheTask(ctx, c, keyOf, store, r.capacity()), nil
	default:
		return nil, fmt.Errorf("jobrunner: unknown stage kind %q", spec.Kind)
	}
}

// consumerTask opens a time-partitioned Store rooted at
// <StorageRoot>/<consumer site name> and wraps its Sink as a
// pipeline.ConsumerTask. The closer it appends to closers closes the
// Store, flushing its current file and mirroring it if Mirror is set.
func (r *Runner) consumerTask(ctx context.Context, job *jobs.Job, closers *[]func()) (pipeline.Task, error) {
	area := job.Consumer.Site
	if area == "" {
		area = "job"
	}
	areaDir := filepath.Join(r.StorageRoot, area)

	store, err := archive.New(areaDir, job.ID, archive.RolloverHourly, ".dat", r.Mirror)
	if err != nil {
		return nil, fmt.Errorf("jobrunner: open store consumer %s: %w", areaDir, err)
	}
	*closers = append(*closers, func() {
		if err := store.Close(); err != nil {
			logging.Op().Error("jobrunner: close store consumer", "job", job.ID, "error", err)
		}
	})

	sink := func(rec pipeline.Record) error { return store.Sink(rec) }
	return pipeline.NewConsumerTask(ctx, sink, r.capacity()), nil
}
