package supervisor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/oriys/skysweep/internal/config"
	"github.com/oriys/skysweep/internal/sources"
	"github.com/oriys/skysweep/internal/stats"
	"github.com/stretchr/testify/require"
)

type countingAdapter struct {
	name       string
	emitted    int
	failOnce   bool
	failedOnce bool
}

func (c *countingAdapter) Name() string   { return c.name }
func (c *countingAdapter) Format() string { return "fake" }
func (c *countingAdapter) Authenticate(context.Context) (string, error) {
	return "bearer", nil
}
func (c *countingAdapter) Stream(ctx context.Context, out chan<- sources.Record, _ string, _ json.RawMessage) error {
	if c.failOnce && !c.failedOnce {
		c.failedOnce = true
		return context.DeadlineExceeded
	}
	for i := 0; i < 3; i++ {
		select {
		case out <- sources.Record([]byte("rec")):
			c.emitted++
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

type fakeBinder struct{ adapter *countingAdapter }

func (f fakeBinder) Fetchable(sources.Site, *stats.Handle) (sources.Fetchable, error) {
	return nil, nil
}
func (f fakeBinder) Streamable(sources.Site, *stats.Handle) (sources.Streamable, error) {
	return f.adapter, nil
}

func buildSupervisor(t *testing.T, adapter *countingAdapter) *Supervisor {
	t.Helper()
	cfg := &config.SourcesConfig{
		Version: 4,
		Sites: []config.SiteBlock{
			{Name: "site1", Feature: "stream", Type: "drone", Format: "fake", BaseURL: "tcp://x"},
		},
	}
	reg, err := sources.NewRegistry(cfg, t.TempDir(), fakeBinder{adapter: adapter})
	require.NoError(t, err)

	statsActor := stats.New(nil)
	t.Cleanup(statsActor.Exit)

	return New(reg, statsActor)
}

func TestWorkerConsumeEmitsRecordsUntilKilled(t *testing.T) {
	adapter := &countingAdapter{name: "site1"}
	sup := buildSupervisor(t, adapter)

	ctx := context.Background()
	w, err := sup.Spawn(ctx, "site1", sources.Filter{Kind: sources.FilterStream}, EngineSourcesGroup, time.Millisecond)
	require.NoError(t, err)

	var received int
	timeout := time.After(2 * time.Second)
drain:
	for {
		select {
		case _, ok := <-w.Output():
			if !ok {
				break drain
			}
			received++
			if received == 3 {
				w.Kill()
			}
		case <-timeout:
			t.Fatal("timed out waiting for records")
		}
	}

	<-w.Done()
	require.Equal(t, 3, received)
	require.Equal(t, StateCancelled, w.State())
}

func TestBroadcastStopKillsGroupMembers(t *testing.T) {
	adapter := &countingAdapter{name: "site1"}
	sup := buildSupervisor(t, adapter)

	ctx := context.Background()
	w, err := sup.Spawn(ctx, "site1", sources.Filter{Kind: sources.FilterStream}, EngineSourcesGroup, time.Millisecond)
	require.NoError(t, err)

	go func() {
		for range w.Output() {
		}
	}()

	sup.BroadcastStop(EngineSourcesGroup)

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestSpawnRejectsDuplicateSite(t *testing.T) {
	adapter := &countingAdapter{name: "site1"}
	sup := buildSupervisor(t, adapter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := sup.Spawn(ctx, "site1", sources.Filter{}, EngineSourcesGroup, time.Millisecond)
	require.NoError(t, err)
	defer w.Kill()

	_, err = sup.Spawn(ctx, "site1", sources.Filter{}, EngineSourcesGroup, time.Millisecond)
	require.Error(t, err)
}
