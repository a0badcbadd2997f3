package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oriys/skysweep/internal/logging"
	"github.com/oriys/skysweep/internal/sources"
	"github.com/oriys/skysweep/internal/stats"
)

// EngineSourcesGroup is the default group name broadcast-stopped at
// engine shutdown.
const EngineSourcesGroup = "engine-sources"

// Supervisor owns the lifetime of Worker and stats actors for every
// active stream. When a worker terminates with error it has already
// handled its own reconnect; the supervisor's job is group membership
// and broadcast shutdown.
type Supervisor struct {
	registry *sources.Registry
	statsAct *stats.Actor

	mu      sync.Mutex
	groups  map[string][]*Worker
	workers map[string]*Worker // keyed by site name
}

// New constructs a Supervisor bound to a site registry and the shared
// Stats Actor.
func New(reg *sources.Registry, statsAct *stats.Actor) *Supervisor {
	return &Supervisor{
		registry: reg,
		statsAct: statsAct,
		groups:   make(map[string][]*Worker),
		workers:  make(map[string]*Worker),
	}
}

// Spawn resolves siteName to a Streamable adapter, constructs a Worker
// for it, joins it to group, and starts its Consume loop in a new
// goroutine. The returned Worker's Output channel yields records until
// the worker exits.
func (s *Supervisor) Spawn(ctx context.Context, siteName string, filter sources.Filter, group string, reconnectDelay time.Duration) (*Worker, error) {
	s.mu.Lock()
	if _, exists := s.workers[siteName]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("supervisor: %s already has a running worker", siteName)
	}
	s.mu.Unlock()

	site, err := s.registry.Site(siteName)
	if err != nil {
		return nil, err
	}
	handle := s.statsAct.NewHandle(site.Name)

	adapter, err := s.registry.AsStreamable(siteName, handle)
	if err != nil {
		return nil, err
	}

	w := NewWorker(site, adapter, handle, group, 16)

	s.mu.Lock()
	s.workers[siteName] = w
	s.groups[group] = append(s.groups[group], w)
	s.mu.Unlock()

	go func() {
		if err := w.Consume(ctx, filter, reconnectDelay); err != nil {
			logging.Op().Error("worker exited with error", "site", siteName, "error", err)
		}
		s.mu.Lock()
		delete(s.workers, siteName)
		s.mu.Unlock()
	}()

	return w, nil
}

// StopSite kills the worker bound to siteName, if any.
func (s *Supervisor) StopSite(siteName string) {
	s.mu.Lock()
	w, ok := s.workers[siteName]
	s.mu.Unlock()
	if ok {
		w.Kill()
	}
}

// BroadcastStop kills every worker in the named group.
func (s *Supervisor) BroadcastStop(group string) {
	s.mu.Lock()
	members := append([]*Worker(nil), s.groups[group]...)
	s.mu.Unlock()

	for _, w := range members {
		w.Kill()
	}
	for _, w := range members {
		<-w.Done()
	}

	s.mu.Lock()
	delete(s.groups, group)
	s.mu.Unlock()
}

// Shutdown stops every worker across every group, waiting for each to
// exit. Driven by OS termination signals or an explicit controller
// message.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	groups := make([]string, 0, len(s.groups))
	for g := range s.groups {
		groups = append(groups, g)
	}
	s.mu.Unlock()

	for _, g := range groups {
		s.BroadcastStop(g)
	}
}

// Active returns the site names with a currently running worker.
func (s *Supervisor) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.workers))
	for name := range s.workers {
		names = append(names, name)
	}
	return names
}
