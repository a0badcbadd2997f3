package pipeline

import (
	"context"
	"errors"

	"github.com/oriys/skysweep/internal/telemetry"
)

// ErrNoTasks is returned by Run when the task slice is empty.
var ErrNoTasks = errors.New("pipeline: no tasks")

// Pipeline folds a slice of Tasks into a single run.
type Pipeline struct {
	// Capacity sizes the trigger channel k0. Per-task output channel
	// sizing is each Task's own concern.
	Capacity int
	Name     string
}

// New builds a Pipeline with the given trigger-channel capacity (0
// means DefaultCapacity).
func New(name string, capacity int) *Pipeline {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pipeline{Name: name, Capacity: capacity}
}

// Run folds left over tasks: k_i+1 = tasks[i].Run(k_i).out. It creates
// the trigger channel k0, sends a single "start" record onto it and
// closes it (releasing the first task and cascading closure downstream
// once every stage has drained its input), then drains the terminal
// channel into an accumulating buffer until it closes. The run opens a
// span covering the whole fold; every stage opens its own span for its
// worker's lifetime.
func (p *Pipeline) Run(ctx context.Context, tasks []Task) ([]Record, error) {
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}

	_, rootSpan := telemetry.StartSpan(ctx, "pipeline.run", telemetry.AttrStage.String(p.Name))
	defer rootSpan.End()

	k0 := make(chan Record, p.Capacity)
	var prev <-chan Record = k0

	handles := make([]*Handle, 0, len(tasks))
	for _, task := range tasks {
		out, h := task.Run(prev)
		handles = append(handles, h)
		prev = out
	}

	k0 <- Record("start")
	close(k0)

	var buf []Record
	for rec := range prev {
		buf = append(buf, rec)
	}

	var firstErr error
	for _, h := range handles {
		if err := h.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		telemetry.RecordError(rootSpan, firstErr)
		return buf, firstErr
	}
	telemetry.RecordOK(rootSpan)
	return buf, nil
}

