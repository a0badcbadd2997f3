package jobrunner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oriys/skysweep/internal/config"
	"github.com/oriys/skysweep/internal/enginestate"
	"github.com/oriys/skysweep/internal/jobs"
	"github.com/oriys/skysweep/internal/sources"
	"github.com/oriys/skysweep/internal/stats"
	"github.com/oriys/skysweep/internal/supervisor"
	"github.com/stretchr/testify/require"
)

type fakeFetchable struct {
	records []string
	fail    bool
}

func (f *fakeFetchable) Name() string   { return "fetch1" }
func (f *fakeFetchable) Format() string { return "fake" }
func (f *fakeFetchable) Authenticate(context.Context) (string, error) {
	return "bearer", nil
}
func (f *fakeFetchable) Fetch(ctx context.Context, out chan<- sources.Record, _ string, _ json.RawMessage) error {
	if f.fail {
		return context.DeadlineExceeded
	}
	for _, r := range f.records {
		select {
		case out <- sources.Record(r + "\n"):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

type fetchBinder struct{ fetchable *fakeFetchable }

func (b fetchBinder) Fetchable(sources.Site, *stats.Handle) (sources.Fetchable, error) {
	return b.fetchable, nil
}
func (b fetchBinder) Streamable(sources.Site, *stats.Handle) (sources.Streamable, error) {
	return nil, nil
}

func buildRunner(t *testing.T, fetchable *fakeFetchable) (*Runner, *jobs.Manager, string) {
	t.Helper()
	cfg := &config.SourcesConfig{
		Version: 4,
		Sites: []config.SiteBlock{
			{Name: "fetch1", Feature: "fetch", Type: "drone", Format: "fake", BaseURL: "https://x"},
		},
	}
	reg, err := sources.NewRegistry(cfg, t.TempDir(), fetchBinder{fetchable: fetchable})
	require.NoError(t, err)

	statsAct := stats.New(nil)
	t.Cleanup(statsAct.Exit)

	st, err := enginestate.Open(t.TempDir(), "testengine")
	require.NoError(t, err)
	t.Cleanup(st.Stop)

	mgr := jobs.New(st)
	sup := supervisor.New(reg, statsAct)
	storageRoot := t.TempDir()

	return New(reg, sup, statsAct, mgr, storageRoot, nil, time.Millisecond), mgr, storageRoot
}

func TestRunFetchJobToCompletion(t *testing.T) {
	fetchable := &fakeFetchable{records: []string{"rec1", "rec2"}}
	runner, mgr, storageRoot := buildRunner(t, fetchable)

	id, err := mgr.SubmitJob([]byte(`
name: pull-once
producer:
  site: fetch1
  kind: fetch
consumer:
  site: area1
`))
	require.NoError(t, err)

	job, err := mgr.GetJob(id)
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background(), job))

	done, err := mgr.GetJob(id)
	require.NoError(t, err)
	require.Equal(t, jobs.StateCompleted, done.State)

	// the consumer must have appended both records into the area tree
	entries, err := os.ReadDir(filepath.Join(storageRoot, "area1", "1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(storageRoot, "area1", "1", entries[0].Name()))
	require.NoError(t, err)
	require.Equal(t, "rec1\nrec2\n", string(data))
}

func TestRunFailedProducerMarksJobFailed(t *testing.T) {
	fetchable := &fakeFetchable{fail: true}
	runner, mgr, _ := buildRunner(t, fetchable)

	id, err := mgr.SubmitJob([]byte(`
name: doomed
producer:
  site: fetch1
  kind: fetch
consumer:
  site: area1
`))
	require.NoError(t, err)

	job, err := mgr.GetJob(id)
	require.NoError(t, err)
	require.Error(t, runner.Run(context.Background(), job))

	done, err := mgr.GetJob(id)
	require.NoError(t, err)
	require.Equal(t, jobs.StateFailed, done.State)
}

func TestRunAppliesCacheStage(t *testing.T) {
	fetchable := &fakeFetchable{records: []string{"dup", "dup", "fresh"}}
	runner, mgr, storageRoot := buildRunner(t, fetchable)

	id, err := mgr.SubmitJob([]byte(`
name: deduped
producer:
  site: fetch1
  kind: fetch
stages:
  - kind: cache
consumer:
  site: area1
`))
	require.NoError(t, err)

	job, err := mgr.GetJob(id)
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background(), job))

	entries, err := os.ReadDir(filepath.Join(storageRoot, "area1", "1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(storageRoot, "area1", "1", entries[0].Name()))
	require.NoError(t, err)
	require.Equal(t, "dup\nfresh\n", string(data))
}

func TestRunRejectsUnknownStageKind(t *testing.T) {
	fetchable := &fakeFetchable{records: []string{"x"}}
	runner, mgr, _ := buildRunner(t, fetchable)

	id, err := mgr.SubmitJob([]byte(`
name: bad-stage
producer:
  site: fetch1
  kind: fetch
stages:
  - kind: transmogrify
consumer:
  site: area1
`))
	require.NoError(t, err)

	job, err := mgr.GetJob(id)
	require.NoError(t, err)
	require.Error(t, runner.Run(context.Background(), job))

	done, err := mgr.GetJob(id)
	require.NoError(t, err)
	require.Equal(t, jobs.StateFailed, done.State)
}
