package jobs

import (
	"fmt"
	"sync"

	"github.com/oriys/skysweep/internal/enginestate"
	"gopkg.in/yaml.v3"
)

// Manager tracks every Job's identity and lifecycle state, delegating
// id allocation and queue persistence to enginestate.Store so every
// mutation here is followed by a synchronous state flush.
type Manager struct {
	state *enginestate.Store

	mu   sync.Mutex
	jobs map[uint64]*Job
}

// New constructs a Manager backed by an already-open enginestate.Store.
func New(state *enginestate.Store) *Manager {
	return &Manager{state: state, jobs: make(map[uint64]*Job)}
}

// CreateJob allocates an id via the engine state and records the job as
// Created.
func (m *Manager) CreateJob(name string) (*Job, error) {
	id, err := m.state.NextID()
	if err != nil {
		return nil, fmt.Errorf("jobs: allocate id: %w", err)
	}

	j := &Job{ID: id, Name: name, State: StateCreated}

	m.mu.Lock()
	m.jobs[id] = j
	m.mu.Unlock()

	return j, nil
}

// SubmitJob parses a YAML job description, creates the job, marks it
// Ready, and queues it.
func (m *Manager) SubmitJob(text []byte) (uint64, error) {
	var spec Spec
	if err := yaml.Unmarshal(text, &spec); err != nil {
		return 0, fmt.Errorf("jobs: parse job description: %w", err)
	}

	j, err := m.CreateJob(spec.Name)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	j.Producer = spec.Producer
	j.Stages = spec.Stages
	j.Consumer = spec.Consumer
	j.State = StateReady
	m.mu.Unlock()

	if err := m.QueueJob(j.ID); err != nil {
		return 0, err
	}

	return j.ID, nil
}

// QueueJob transitions a Ready job to Queued and appends it to the
// engine state's pending queue. Only a Ready job may be queued.
func (m *Manager) QueueJob(id uint64) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound{ID: id}
	}
	if !j.State.canTransitionTo(StateQueued) {
		m.mu.Unlock()
		return ErrJobNotReady{ID: id}
	}
	j.State = StateQueued
	m.mu.Unlock()

	return m.state.Enqueue(id)
}

// MarkRunning transitions a Queued job to Running, removing it from
// the engine state's pending queue.
func (m *Manager) MarkRunning(id uint64) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound{ID: id}
	}
	if !j.State.canTransitionTo(StateRunning) {
		m.mu.Unlock()
		return fmt.Errorf("jobs: job %d cannot run from state %s", id, j.State)
	}
	j.State = StateRunning
	m.mu.Unlock()

	return m.state.Dequeue(id)
}

// MarkCompleted transitions a Running job to Completed and syncs.
func (m *Manager) MarkCompleted(id uint64) error {
	return m.finish(id, StateCompleted)
}

// MarkFailed transitions a Running job to Failed and syncs. A failed
// job terminates alone; the engine keeps running.
func (m *Manager) MarkFailed(id uint64) error {
	return m.finish(id, StateFailed)
}

func (m *Manager) finish(id uint64, next State) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound{ID: id}
	}
	if !j.State.canTransitionTo(next) {
		m.mu.Unlock()
		return fmt.Errorf("jobs: job %d cannot transition %s -> %s", id, j.State, next)
	}
	j.State = next
	m.mu.Unlock()

	return m.state.Sync()
}

// RemoveJob deletes a job, failing with ErrJobIsRunning while the job
// is Running.
func (m *Manager) RemoveJob(id uint64) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound{ID: id}
	}
	if j.State == StateRunning {
		m.mu.Unlock()
		return ErrJobIsRunning{ID: id}
	}
	delete(m.jobs, id)
	m.mu.Unlock()

	return m.state.Dequeue(id)
}

// GetJob returns the job with id, or ErrJobNotFound.
func (m *Manager) GetJob(id uint64) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound{ID: id}
	}
	cp := *j
	return &cp, nil
}

// ListJobs returns a snapshot of every tracked job, in no particular
// order.
func (m *Manager) ListJobs() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		cp := *j
		out = append(out, &cp)
	}
	return out
}
