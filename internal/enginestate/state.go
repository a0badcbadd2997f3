// Package enginestate persists the durable engine state: last
// allocated job id, pending job queue, and a PID file liveness check.
// The state file is written with the same write-temp-then-rename
// pattern the token vault uses, so a crashed sync never leaves a
// truncated file behind.
package enginestate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/oriys/skysweep/internal/logging"
)

// SyncInterval is the unconditional sync cadence.
const SyncInterval = 30 * time.Second

// State is the durable engine bookkeeping that survives restarts.
type State struct {
	Last  uint64   `json:"last"`
	Queue []uint64 `json:"queue"`
	PID   int      `json:"pid"`
}

// Store guards State behind a single reader-writer lock — writers are
// the job-lifecycle mutations and the periodic syncer, readers are
// status queries — and owns its on-disk persistence.
type Store struct {
	home   string
	engine string

	mu    sync.RWMutex
	state State

	stopCh chan struct{}
	doneCh chan struct{}
}

// Open loads <home>/state, creating a fresh State if the file is
// missing or corrupt (logged as a warning), and claims
// <home>/<engine>.pid, aborting if a live process already holds it.
func Open(home, engine string) (*Store, error) {
	s := &Store{home: home, engine: engine}

	data, err := os.ReadFile(s.statePath())
	switch {
	case err == nil:
		var st State
		if jsonErr := json.Unmarshal(data, &st); jsonErr != nil {
			logging.Op().Warn("enginestate: state file corrupt, starting fresh", "path", s.statePath(), "error", jsonErr)
			st = State{}
		}
		s.state = st
	case os.IsNotExist(err):
		logging.Op().Warn("enginestate: no prior state, starting fresh", "path", s.statePath())
		s.state = State{}
	default:
		return nil, fmt.Errorf("enginestate: read state: %w", err)
	}

	if err := s.claimPIDFile(); err != nil {
		return nil, err
	}

	s.state.PID = os.Getpid()
	if err := s.syncLocked(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) statePath() string { return filepath.Join(s.home, "state") }
func (s *Store) pidPath() string   { return filepath.Join(s.home, s.engine+".pid") }

// claimPIDFile aborts startup if <home>/<engine>.pid names a live
// process.
func (s *Store) claimPIDFile() error {
	if err := os.MkdirAll(s.home, 0o755); err != nil {
		return fmt.Errorf("enginestate: create home dir: %w", err)
	}

	if data, err := os.ReadFile(s.pidPath()); err == nil {
		var pid int
		if _, scanErr := fmt.Sscanf(string(data), "%d", &pid); scanErr == nil && pid > 0 && processAlive(pid) {
			return fmt.Errorf("enginestate: engine already running with pid %d (%s)", pid, s.pidPath())
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("enginestate: read pid file: %w", err)
	}

	return os.WriteFile(s.pidPath(), []byte(fmt.Sprintf("%d", os.Getpid())), 0o644)
}

// processAlive reports whether pid currently identifies a live
// process, using the null-signal probe.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err != syscall.ESRCH
}

// NextID allocates the next job id, syncing synchronously so a restart
// resumes allocation at last+1. It does not touch the queue; Enqueue
// appends ids to it.
func (s *Store) NextID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Last++
	id := s.state.Last
	if err := s.syncLocked(); err != nil {
		return 0, err
	}
	return id, nil
}

// Enqueue appends id to the pending queue and syncs.
func (s *Store) Enqueue(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Queue = append(s.state.Queue, id)
	return s.syncLocked()
}

// Dequeue removes id from the pending queue (order-preserving) and
// syncs.
func (s *Store) Dequeue(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.state.Queue[:0]
	for _, q := range s.state.Queue {
		if q != id {
			out = append(out, q)
		}
	}
	s.state.Queue = out
	return s.syncLocked()
}

// Snapshot returns a copy of the current state for status queries.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	queue := make([]uint64, len(s.state.Queue))
	copy(queue, s.state.Queue)
	return State{Last: s.state.Last, Queue: queue, PID: s.state.PID}
}

// Sync flushes the current state to disk unconditionally.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked()
}

func (s *Store) syncLocked() error {
	data, err := json.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("enginestate: marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(s.home, ".tmp-state-*")
	if err != nil {
		return fmt.Errorf("enginestate: create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("enginestate: write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("enginestate: close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.statePath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("enginestate: rename state into place: %w", err)
	}
	return nil
}

// StartSyncLoop runs a ticker at SyncInterval calling Sync
// unconditionally until Stop is called.
func (s *Store) StartSyncLoop() {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Sync(); err != nil {
					logging.Op().Warn("enginestate: periodic sync failed", "error", err)
				}
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the periodic sync loop and removes the PID file, leaving
// the state file as-is for the next startup to resume from.
func (s *Store) Stop() {
	if s.stopCh != nil {
		close(s.stopCh)
		<-s.doneCh
	}
	if err := os.Remove(s.pidPath()); err != nil && !os.IsNotExist(err) {
		logging.Op().Warn("enginestate: failed to remove pid file", "path", s.pidPath(), "error", err)
	}
}
